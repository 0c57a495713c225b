package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dghubble/oauth1"
	"github.com/elonfeng/trendx/pkg/content"
	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/rs/zerolog"
)

// XCredentials are OAuth 1.0a user-context credentials.
type XCredentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// signedTransport lets the oauth1 client sign requests, so the go-twitter
// authorizer has nothing to add.
type signedTransport struct{}

func (signedTransport) Add(*http.Request) {}

// X posts to X/Twitter through the v2 API. Media is uploaded through the
// v1.1 upload endpoint first.
type X struct {
	client *twitter.Client
	media  *mediaUploader
	logger zerolog.Logger
}

// NewX creates an X publisher. host is the API base and defaults to
// https://api.twitter.com; a custom host also serves media uploads.
func NewX(creds XCredentials, host string, logger zerolog.Logger) (*X, error) {
	if creds.APIKey == "" || creds.APISecret == "" || creds.AccessToken == "" || creds.AccessSecret == "" {
		return nil, errors.New("x publisher: incomplete credentials")
	}
	uploadURL := defaultUploadURL
	if host == "" {
		host = "https://api.twitter.com"
	} else {
		uploadURL = host + "/1.1/media/upload.json"
	}
	cfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	httpClient := cfg.Client(oauth1.NoContext, oauth1.NewToken(creds.AccessToken, creds.AccessSecret))

	return &X{
		client: &twitter.Client{
			Authorizer: signedTransport{},
			Client:     httpClient,
			Host:       host,
		},
		media:  newMediaUploader(httpClient, uploadURL, logger),
		logger: logger,
	}, nil
}

func (x *X) Name() string { return "x" }

func (x *X) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	return x.post(ctx, c, "")
}

// PublishThread chains each post as a reply to the previous one.
func (x *X) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	results := make([]*Result, 0, len(posts))
	replyTo := ""
	for i, c := range posts {
		res, err := x.post(ctx, c, replyTo)
		if err != nil {
			return results, fmt.Errorf("thread post %d: %w", i+1, err)
		}
		results = append(results, res)
		replyTo = res.PostID
	}
	return results, nil
}

func (x *X) post(ctx context.Context, c *content.Content, replyTo string) (*Result, error) {
	req := twitter.CreateTweetRequest{
		Text:         Compose(c),
		QuoteTweetID: c.QuoteTweetID,
	}
	if replyTo != "" {
		req.Reply = &twitter.CreateTweetReply{InReplyToTweetID: replyTo}
	}
	if c.MediaURL != "" {
		id, err := x.media.Upload(ctx, c.MediaURL, c.MediaType)
		if err != nil {
			x.logger.Warn().Err(err).Str("media_url", c.MediaURL).Msg("media upload failed, posting without media")
		} else {
			req.Media = &twitter.CreateTweetMedia{IDs: []string{id}}
		}
	}

	resp, err := x.client.CreateTweet(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	if resp.Tweet == nil || resp.Tweet.ID == "" {
		return nil, errors.New("create tweet: empty response")
	}

	x.logger.Info().Str("post_id", resp.Tweet.ID).Str("content_id", c.ID).Msg("tweet published")
	return &Result{
		Success:  true,
		PostID:   resp.Tweet.ID,
		URL:      "https://x.com/i/web/status/" + resp.Tweet.ID,
		Response: map[string]any{"id": resp.Tweet.ID, "text": resp.Tweet.Text},
	}, nil
}
