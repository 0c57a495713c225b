package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which platform a record came from.
type Kind string

const (
	KindReddit          Kind = "reddit"
	KindGoogleTrends    Kind = "google_trends"
	KindTwitterTrends   Kind = "twitter_trends"
	KindYouTubeTrending Kind = "youtube_trending"
	KindRSS             Kind = "rss"
	KindHackerNews      Kind = "hackernews"
	KindScrape          Kind = "scrape"
	KindStatic          Kind = "static"
)

// Record is one observed trending item. Source adapters fill every field
// except Score and Fingerprint, which belong to the aggregation pipeline.
type Record struct {
	ID           string         `json:"id" db:"id"`
	Source       Kind           `json:"source" db:"source"`
	ExternalID   string         `json:"external_id" db:"external_id"`
	Title        string         `json:"title" db:"title"`
	Description  string         `json:"description,omitempty" db:"description"`
	URL          string         `json:"url,omitempty" db:"url"`
	Score        float64        `json:"score" db:"score"`
	SocialVolume int            `json:"social_volume" db:"social_volume"`
	IsLocal      bool           `json:"is_local" db:"is_local"`
	IsGlobal     bool           `json:"is_global" db:"is_global"`
	Fingerprint  string         `json:"fingerprint,omitempty" db:"fingerprint"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"-"`
	MetadataJSON string         `json:"-" db:"metadata"`
}

// RecordID builds the storage key for a (source, external id) pair.
func RecordID(kind Kind, externalID string) string {
	return fmt.Sprintf("%s:%s", kind, externalID)
}

// Source is the capability every trend adapter implements.
type Source interface {
	Name() Kind
	// Fetch returns at most limit records. It may fail; callers treat a
	// failure as "no data from this source for this cycle".
	Fetch(ctx context.Context, limit int) ([]Record, error)
	// AuthorityScore is the credibility weight of the source in [0, 1].
	AuthorityScore() float64
}

// AllKinds returns all known source kinds.
func AllKinds() []Kind {
	return []Kind{
		KindReddit,
		KindGoogleTrends,
		KindTwitterTrends,
		KindYouTubeTrending,
		KindRSS,
		KindHackerNews,
		KindScrape,
		KindStatic,
	}
}

// ParseKind resolves a kind from its full name or a CLI shorthand.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reddit":
		return KindReddit, true
	case "google_trends", "google", "gt":
		return KindGoogleTrends, true
	case "twitter_trends", "twitter", "x":
		return KindTwitterTrends, true
	case "youtube_trending", "youtube", "yt":
		return KindYouTubeTrending, true
	case "rss":
		return KindRSS, true
	case "hackernews", "hn":
		return KindHackerNews, true
	case "scrape":
		return KindScrape, true
	case "static":
		return KindStatic, true
	}
	return "", false
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func capLimit(records []Record, limit int) []Record {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
