package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubSource struct {
	kind      Kind
	authority float64
}

func (s stubSource) Name() Kind                                   { return s.kind }
func (s stubSource) AuthorityScore() float64                      { return s.authority }
func (s stubSource) Fetch(context.Context, int) ([]Record, error) { return nil, nil }

func TestRegistryKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(
		stubSource{kind: KindRSS, authority: 0.5},
		stubSource{kind: KindReddit, authority: 0.8},
		stubSource{kind: KindGoogleTrends, authority: 0.9},
	)
	r.Register(stubSource{kind: KindReddit, authority: 0.1})

	names := r.Names()
	want := []Kind{KindRSS, KindReddit, KindGoogleTrends}
	if len(names) != len(want) {
		t.Fatalf("expected %d sources, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], names[i])
		}
	}

	if a, ok := r.Authority(KindReddit); !ok || a != 0.1 {
		t.Fatalf("expected replaced reddit authority 0.1, got %v (ok=%v)", a, ok)
	}
	if _, ok := r.Authority(KindYouTubeTrending); ok {
		t.Fatal("expected unknown kind to be absent")
	}

	filtered := r.Filter(KindGoogleTrends, KindRSS, KindStatic)
	got := filtered.Names()
	if len(got) != 2 || got[0] != KindRSS || got[1] != KindGoogleTrends {
		t.Fatalf("unexpected filtered order: %v", got)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{
		"reddit":  KindReddit,
		"Google":  KindGoogleTrends,
		" hn ":    KindHackerNews,
		"youtube": KindYouTubeTrending,
		"x":       KindTwitterTrends,
	}
	for in, want := range cases {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("myspace"); ok {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestLocalityMatches(t *testing.T) {
	t.Parallel()

	l := NewLocality(nil)
	tests := []struct {
		text string
		want bool
	}{
		{"Breaking news from ISTANBUL today", true},
		{"TÜRKİYE ekonomisi büyüyor", true},
		{"Turkiye without diacritics", true},
		{"Elections in France", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := l.Matches(tt.text); got != tt.want {
			t.Fatalf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	custom := NewLocality([]string{"Berlin"})
	if !custom.Matches("berlin marathon") || custom.Matches("istanbul") {
		t.Fatal("custom keywords should replace the defaults")
	}
}

func TestParseTraffic(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"20,000+": 20000,
		"5K+":     5000,
		"1M+":     1000000,
		"200+":    200,
		"":        0,
		"lots":    0,
	}
	for in, want := range cases {
		if got := parseTraffic(in); got != want {
			t.Fatalf("parseTraffic(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRedditPublicListing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/hot.json") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":{"children":[
			{"data":{"id":"a1","title":"Pinned rules","stickied":true}},
			{"data":{"id":"b2","title":"Earthquake hits Izmir","url":"https://news.example/eq","score":1200,"created_utc":1700000000}},
			{"data":{"id":"c3","title":"Ask anything","url":"/r/worldnews/comments/c3","permalink":"/r/worldnews/comments/c3","score":-5}}
		]}}`)
	}))
	defer srv.Close()

	r := NewReddit("", "", []string{"worldnews"}, Env{})
	r.publicURL = srv.URL

	records, err := r.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records (stickied skipped), got %d", len(records))
	}

	first := records[0]
	if first.ID != "reddit:b2" || first.SocialVolume != 1200 {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if !first.IsLocal || !first.IsGlobal {
		t.Fatalf("expected izmir post in worldnews to be local and global: %+v", first)
	}
	if records[1].URL != "https://reddit.com/r/worldnews/comments/c3" {
		t.Fatalf("expected permalink fallback, got %s", records[1].URL)
	}
	if records[1].SocialVolume != 0 {
		t.Fatalf("expected negative score clamped to 0, got %d", records[1].SocialVolume)
	}
}

func TestRedditFailsWhenEverySubredditFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewReddit("", "", []string{"a", "b"}, Env{})
	r.publicURL = srv.URL

	if _, err := r.Fetch(context.Background(), 5); err == nil {
		t.Fatal("expected error when all subreddits fail")
	}
}

func TestHackerNewsSkipsFailedItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topstories.json":
			fmt.Fprint(w, `[1,2,3,4]`)
		case "/item/1.json":
			fmt.Fprint(w, `{"id":1,"type":"story","title":"Rust in the kernel","url":"https://lwn.example/rust","score":300}`)
		case "/item/2.json":
			w.WriteHeader(http.StatusInternalServerError)
		case "/item/3.json":
			fmt.Fprint(w, `{"id":3,"type":"job","title":"Hiring"}`)
		case "/item/4.json":
			fmt.Fprint(w, `{"id":4,"type":"story","title":"Show HN: a tiny database","score":-1}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := NewHackerNews(10, Env{})
	h.baseURL = srv.URL

	records, err := h.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records (failed item and job skipped), got %d: %+v", len(records), records)
	}
	if records[0].ID != "hackernews:1" || records[0].SocialVolume != 300 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].URL != "https://news.ycombinator.com/item?id=4" || records[1].SocialVolume != 0 {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

const trendsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:ht="https://trends.google.com/trending/rss">
<channel>
<title>Daily Search Trends</title>
<item>
  <title>Galatasaray</title>
  <ht:approx_traffic>20,000+</ht:approx_traffic>
  <ht:picture>https://img.example/gs.jpg</ht:picture>
</item>
<item>
  <title>Istanbul marathon</title>
  <ht:approx_traffic>5K+</ht:approx_traffic>
</item>
<item>
  <title>AT&amp;T outage</title>
  <ht:approx_traffic>2,000+</ht:approx_traffic>
</item>
</channel>
</rss>`

func TestGoogleTrendsFeed(t *testing.T) {
	t.Parallel()

	var gotGeo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGeo = r.URL.Query().Get("geo")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, trendsFeed)
	}))
	defer srv.Close()

	g := NewGoogleTrends(srv.URL+"/rss", "TR", Env{})
	records, err := g.Fetch(context.Background(), 2)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if gotGeo != "TR" {
		t.Fatalf("expected geo=TR, got %q", gotGeo)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit of 2 records, got %d", len(records))
	}

	if records[0].Title != "Trending: Galatasaray" {
		t.Fatalf("unexpected title %q", records[0].Title)
	}
	if records[0].SocialVolume != 20000 {
		t.Fatalf("expected volume 20000, got %d", records[0].SocialVolume)
	}
	if records[1].URL != "https://trends.google.com/trends/explore?q=Istanbul+marathon" {
		t.Fatalf("unexpected url %q", records[1].URL)
	}
	if !records[1].IsLocal || records[1].IsGlobal {
		t.Fatalf("expected istanbul topic to be local only: %+v", records[1])
	}
}

func TestGoogleTrendsEscapesExploreQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, trendsFeed)
	}))
	defer srv.Close()

	records, err := NewGoogleTrends(srv.URL, "TR", Env{}).Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if want := "https://trends.google.com/trends/explore?q=AT%26T+outage"; records[2].URL != want {
		t.Fatalf("url = %q, want %q", records[2].URL, want)
	}
}

func TestScrapeResolvesLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h2><a href="/news/1">  Ankara   summit opens </a></h2>
			<h2><a href="https://other.example/2">Markets rally</a></h2>
			<h2><a href="/news/1">Duplicate link</a></h2>
			<h3>No link here</h3>
		</body></html>`)
	}))
	defer srv.Close()

	s := NewScrape([]Page{{Name: "front", URL: srv.URL + "/index.html"}}, Env{})
	records, err := s.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Title != "Ankara summit opens" {
		t.Fatalf("expected whitespace collapsed title, got %q", records[0].Title)
	}
	if records[0].URL != srv.URL+"/news/1" {
		t.Fatalf("expected resolved url, got %q", records[0].URL)
	}
	if !records[0].IsLocal {
		t.Fatal("expected ankara headline to be local")
	}
}

func TestStaticRotatesAndLimits(t *testing.T) {
	t.Parallel()

	s := NewStatic()
	s.now = func() time.Time { return time.Date(2025, 5, 1, 2, 0, 0, 0, time.UTC) }

	records, err := s.Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Title != staticTopics[2].title {
		t.Fatalf("expected rotation offset 2, got %q", records[0].Title)
	}
	for _, r := range records {
		if r.Source != KindStatic || r.CreatedAt.IsZero() {
			t.Fatalf("unexpected record %+v", r)
		}
	}
}
