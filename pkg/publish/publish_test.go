package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/elonfeng/trendx/pkg/content"
	"github.com/rs/zerolog"
)

func testContent(text string, tags ...string) *content.Content {
	return &content.Content{ID: "c1", RecordID: "r1", LocalText: text, EnglishText: "english", Hashtags: tags}
}

func TestComposeAppendsHashtagsWhenTheyFit(t *testing.T) {
	t.Parallel()

	got := Compose(testContent("Merhaba", "#A", "#B"))
	if got != "Merhaba #A #B" {
		t.Fatalf("Compose = %q", got)
	}
}

func TestComposeDropsHashtagsOverLimit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("ğ", 275)
	got := Compose(testContent(text, "#Trending"))
	if got != text {
		t.Fatalf("expected hashtags to be dropped, got %d runes", utf8.RuneCountInString(got))
	}

	exact := strings.Repeat("a", MaxPostRunes-3)
	if got := Compose(testContent(exact, "#A")); utf8.RuneCountInString(got) != MaxPostRunes {
		t.Fatalf("expected exactly %d runes, got %d", MaxPostRunes, utf8.RuneCountInString(got))
	}
}

func TestMockThreadChainsReplies(t *testing.T) {
	t.Parallel()

	m := NewMock(zerolog.Nop())
	posts := []*content.Content{testContent("one"), testContent("two"), testContent("three")}
	results, err := m.PublishThread(context.Background(), posts)
	if err != nil {
		t.Fatalf("PublishThread: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	recorded := m.Posts()
	if recorded[0].ReplyTo != "" {
		t.Errorf("first post should not be a reply, got %q", recorded[0].ReplyTo)
	}
	for i := 1; i < len(recorded); i++ {
		if recorded[i].ReplyTo != recorded[i-1].ID {
			t.Errorf("post %d replies to %q, want %q", i, recorded[i].ReplyTo, recorded[i-1].ID)
		}
	}
}

func TestMockFailWith(t *testing.T) {
	t.Parallel()

	m := NewMock(zerolog.Nop())
	boom := errors.New("boom")
	m.FailWith(boom)
	if _, err := m.Publish(context.Background(), testContent("x")); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	m.FailWith(nil)
	if _, err := m.Publish(context.Background(), testContent("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Posts()) != 1 {
		t.Fatalf("expected 1 recorded post, got %d", len(m.Posts()))
	}
}

func TestMultiSucceedsWhenOneDestinationWorks(t *testing.T) {
	t.Parallel()

	bad := NewMock(zerolog.Nop())
	bad.FailWith(errors.New("down"))
	good := NewMock(zerolog.Nop())

	res, err := NewMulti(bad, good).Publish(context.Background(), testContent("hello"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Success || res.PostID != "mock_1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Error, "down") {
		t.Fatalf("expected joined error, got %q", res.Error)
	}
}

func TestMultiFailsWhenAllFail(t *testing.T) {
	t.Parallel()

	a := NewMock(zerolog.Nop())
	a.FailWith(errors.New("a down"))
	b := NewMock(zerolog.Nop())
	b.FailWith(errors.New("b down"))

	_, err := NewMulti(a, b).Publish(context.Background(), testContent("hello"))
	if err == nil || !strings.Contains(err.Error(), "a down") || !strings.Contains(err.Error(), "b down") {
		t.Fatalf("expected both errors, got %v", err)
	}

	if _, err := NewMulti().Publish(context.Background(), testContent("hello")); err == nil {
		t.Fatal("expected error with no publishers")
	}
}

func TestWebhookSignsBody(t *testing.T) {
	t.Parallel()

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewWebhook(srv.URL, "s3cret").Publish(context.Background(), testContent("hello", "#A"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if want := "sha256=" + Sign("s3cret", gotBody); gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Text != "hello #A" {
		t.Fatalf("text = %q", payload.Text)
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewWebhook(srv.URL, "").Publish(context.Background(), testContent("hello")); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	t.Parallel()

	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, b)
	}))
	defer srv.Close()

	c := testContent("yerel metin", "#Trending")
	c.MediaURL = "https://img.example/a.png"
	c.MediaType = "image"

	if _, err := NewSlack(srv.URL).Publish(context.Background(), c); err != nil {
		t.Fatalf("slack: %v", err)
	}
	if _, err := NewDiscord(srv.URL).Publish(context.Background(), c); err != nil {
		t.Fatalf("discord: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}

	var slack struct {
		Text   string           `json:"text"`
		Blocks []map[string]any `json:"blocks"`
	}
	if err := json.Unmarshal(bodies[0], &slack); err != nil {
		t.Fatalf("decode slack: %v", err)
	}
	if slack.Text != "yerel metin #Trending" || len(slack.Blocks) != 3 {
		t.Fatalf("unexpected slack payload: %s", bodies[0])
	}

	var discord struct {
		Embeds []struct {
			Description string `json:"description"`
			Image       struct {
				URL string `json:"url"`
			} `json:"image"`
		} `json:"embeds"`
	}
	if err := json.Unmarshal(bodies[1], &discord); err != nil {
		t.Fatalf("decode discord: %v", err)
	}
	if len(discord.Embeds) != 1 || !strings.HasPrefix(discord.Embeds[0].Description, "yerel metin") {
		t.Fatalf("unexpected discord payload: %s", bodies[1])
	}
	if discord.Embeds[0].Image.URL != c.MediaURL {
		t.Fatalf("image url = %q", discord.Embeds[0].Image.URL)
	}
}

type flaky struct {
	failures int32
	calls    atomic.Int32
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	if n := f.calls.Add(1); n <= f.failures {
		return nil, errors.New("temporary")
	}
	return &Result{Success: true, PostID: "ok"}, nil
}

func (f *flaky) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, f, posts)
}

func TestRetryingRecovers(t *testing.T) {
	t.Parallel()

	f := &flaky{failures: 2}
	r := NewRetrying(f, 3, time.Millisecond, zerolog.Nop())
	res, err := r.Publish(context.Background(), testContent("x"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.PostID != "ok" || f.calls.Load() != 3 {
		t.Fatalf("post id %q after %d calls", res.PostID, f.calls.Load())
	}
}

func TestRetryingGivesUp(t *testing.T) {
	t.Parallel()

	f := &flaky{failures: 10}
	r := NewRetrying(f, 2, time.Millisecond, zerolog.Nop())
	if _, err := r.Publish(context.Background(), testContent("x")); err == nil {
		t.Fatal("expected error")
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestNewSelectsPublisher(t *testing.T) {
	t.Parallel()

	p, err := New(Options{}, zerolog.Nop())
	if err != nil || p.Name() != KindMock {
		t.Fatalf("default publisher = %v, %v", p, err)
	}
	p, err = New(Options{Kind: KindWebhook, WebhookURL: "http://localhost"}, zerolog.Nop())
	if err != nil || p.Name() != KindWebhook {
		t.Fatalf("webhook publisher = %v, %v", p, err)
	}
	if _, err := New(Options{Kind: KindX}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing x credentials")
	}
	if _, err := New(Options{Kind: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNewBuildsMultiForSeveralKinds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(Options{
		Kind:            KindMock,
		Kinds:           []string{KindSlack, KindWebhook, KindSlack},
		SlackWebhookURL: srv.URL,
		WebhookURL:      srv.URL,
		MaxAttempts:     1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	multi, ok := p.(*Multi)
	if !ok {
		t.Fatalf("expected *Multi, got %T", p)
	}
	if multi.Len() != 2 || multi.Name() != "slack+webhook" {
		t.Fatalf("unexpected destinations %q (%d)", multi.Name(), multi.Len())
	}
	if _, err := p.Publish(context.Background(), testContent("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected both destinations to receive the post, got %d", hits.Load())
	}

	if _, err := New(Options{Kinds: []string{KindSlack, KindDiscord}, SlackWebhookURL: srv.URL}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for discord without webhook url")
	}
}

func TestXPublishesThroughAPI(t *testing.T) {
	t.Parallel()

	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			t.Errorf("missing oauth header: %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"data":{"id":"%d00","text":"ok"}}`, len(requests))
	}))
	defer srv.Close()

	x, err := NewX(XCredentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts"}, srv.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewX: %v", err)
	}

	quoted := testContent("quote this")
	quoted.QuoteTweetID = "42"
	results, err := x.PublishThread(context.Background(), []*content.Content{quoted, testContent("reply")})
	if err != nil {
		t.Fatalf("PublishThread: %v", err)
	}
	if len(results) != 2 || results[0].PostID != "100" || results[1].PostID != "200" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].URL != "https://x.com/i/web/status/100" {
		t.Fatalf("url = %q", results[0].URL)
	}
	if requests[0]["quote_tweet_id"] != "42" {
		t.Fatalf("quote id not sent: %v", requests[0])
	}
	reply, _ := requests[1]["reply"].(map[string]any)
	if reply["in_reply_to_tweet_id"] != "100" {
		t.Fatalf("reply not chained: %v", requests[1])
	}
}

func TestXAttachesUploadedMedia(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		commands []string
		segments int
		tweets   []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.URL.Path {
		case "/media/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			fmt.Fprint(w, "jpeg-bytes")
		case "/media/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			fmt.Fprint(w, "0123456789")
		case "/1.1/media/upload.json":
			if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
				t.Errorf("upload not signed")
			}
			cmd := r.FormValue("command")
			commands = append(commands, cmd)
			w.Header().Set("Content-Type", "application/json")
			switch cmd {
			case "":
				if _, _, err := r.FormFile("media"); err != nil {
					t.Errorf("image upload without media part: %v", err)
				}
				fmt.Fprint(w, `{"media_id_string":"img-1"}`)
			case "INIT":
				if r.FormValue("media_category") != "tweet_video" || r.FormValue("total_bytes") != "10" {
					t.Errorf("unexpected INIT form %v", r.Form)
				}
				fmt.Fprint(w, `{"media_id_string":"vid-1"}`)
			case "APPEND":
				if r.FormValue("segment_index") != fmt.Sprint(segments) {
					t.Errorf("segment %s out of order", r.FormValue("segment_index"))
				}
				segments++
				w.WriteHeader(http.StatusNoContent)
			case "FINALIZE":
				fmt.Fprint(w, `{"media_id_string":"vid-1","processing_info":{"state":"pending","check_after_secs":0}}`)
			case "STATUS":
				fmt.Fprint(w, `{"media_id_string":"vid-1","processing_info":{"state":"succeeded"}}`)
			}
		case "/2/tweets":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			tweets = append(tweets, body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"data":{"id":"%d","text":"ok"}}`, len(tweets))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	x, err := NewX(XCredentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts"}, srv.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewX: %v", err)
	}
	x.media.chunkSize = 4
	x.media.pollInterval = time.Millisecond

	image := testContent("with image")
	image.MediaURL, image.MediaType = srv.URL+"/media/photo.jpg", "image"
	video := testContent("with video")
	video.MediaURL, video.MediaType = srv.URL+"/media/clip.mp4", "video"
	broken := testContent("with missing media")
	broken.MediaURL, broken.MediaType = srv.URL+"/media/gone.jpg", "image"

	for _, c := range []*content.Content{image, video, broken} {
		if _, err := x.Publish(context.Background(), c); err != nil {
			t.Fatalf("Publish %q: %v", c.LocalText, err)
		}
	}

	mediaIDs := func(i int) []any {
		m, _ := tweets[i]["media"].(map[string]any)
		ids, _ := m["media_ids"].([]any)
		return ids
	}
	if ids := mediaIDs(0); len(ids) != 1 || ids[0] != "img-1" {
		t.Fatalf("image tweet media = %v", tweets[0])
	}
	if ids := mediaIDs(1); len(ids) != 1 || ids[0] != "vid-1" {
		t.Fatalf("video tweet media = %v", tweets[1])
	}
	if _, ok := tweets[2]["media"]; ok {
		t.Fatalf("failed upload must post without media: %v", tweets[2])
	}
	if segments != 3 {
		t.Fatalf("expected 3 video segments, got %d", segments)
	}
	want := []string{"", "INIT", "APPEND", "APPEND", "APPEND", "FINALIZE", "STATUS"}
	if strings.Join(commands, ",") != strings.Join(want, ",") {
		t.Fatalf("upload commands = %v, want %v", commands, want)
	}
}
