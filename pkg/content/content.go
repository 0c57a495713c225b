package content

import (
	"context"
	"strings"
	"time"

	"github.com/elonfeng/trendx/pkg/source"
	"github.com/google/uuid"
)

// Generator names.
const (
	GeneratorTemplate = "template"
	GeneratorOpenAI   = "openai"
	GeneratorGemini   = "gemini"
)

// Content is a bilingual post generated for one trend record.
type Content struct {
	ID            string    `json:"id" db:"id"`
	RecordID      string    `json:"record_id" db:"record_id"`
	LocalText     string    `json:"local_text" db:"local_text"`
	EnglishText   string    `json:"english_text" db:"english_text"`
	Hashtags      []string  `json:"hashtags" db:"-"`
	HashtagsJSON  string    `json:"-" db:"hashtags"`
	MediaType     string    `json:"media_type,omitempty" db:"media_type"` // image, video or gif
	MediaURL      string    `json:"media_url,omitempty" db:"media_url"`
	QuoteTweetID  string    `json:"quote_tweet_id,omitempty" db:"quote_tweet_id"`
	QuoteTweetURL string    `json:"quote_tweet_url,omitempty" db:"quote_tweet_url"`
	Generator     string    `json:"generator" db:"generator"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Generator turns a trend record into post content.
type Generator interface {
	Name() string
	Generate(ctx context.Context, r source.Record) (*Content, error)
}

// newContent fills the fields every generator shares.
func newContent(r source.Record, generator string) *Content {
	c := &Content{
		ID:        uuid.NewString(),
		RecordID:  r.ID,
		Generator: generator,
		CreatedAt: time.Now().UTC(),
	}
	if url, ok := r.Metadata["media_url"].(string); ok && url != "" {
		c.MediaURL = url
		c.MediaType = "image"
		if t, ok := r.Metadata["media_type"].(string); ok && t != "" {
			c.MediaType = t
		}
	}
	if id, ok := r.Metadata["quote_tweet_id"].(string); ok {
		c.QuoteTweetID = id
	}
	if url, ok := r.Metadata["quote_tweet_url"].(string); ok {
		c.QuoteTweetURL = url
	}
	return c
}

// Screen reports whether the record is free of banned keywords. Matching is
// case-insensitive over the title and description.
func Screen(r source.Record, banned []string) (ok bool, hit string) {
	text := strings.ToLower(r.Title + " " + r.Description)
	for _, kw := range banned {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return false, kw
		}
	}
	return true, ""
}
