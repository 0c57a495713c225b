package source

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed is a named RSS/Atom feed URL.
type Feed struct {
	Name string
	URL  string
}

// RSS collects the last day of entries from RSS/Atom feeds.
type RSS struct {
	http   *httpClient
	parser *gofeed.Parser
	env    Env
	feeds  []Feed
}

// NewRSS creates a new RSS source.
func NewRSS(feeds []Feed, env Env) *RSS {
	env = env.withDefaults()
	return &RSS{
		http:   newHTTPClient(env.Limiter),
		parser: gofeed.NewParser(),
		env:    env,
		feeds:  feeds,
	}
}

func (r *RSS) Name() Kind              { return KindRSS }
func (r *RSS) AuthorityScore() float64 { return 0.5 }

func (r *RSS) Fetch(ctx context.Context, limit int) ([]Record, error) {
	var (
		all     []Record
		lastErr error
	)
	for _, feed := range r.feeds {
		records, err := r.fetchFeed(ctx, feed)
		if err != nil {
			r.env.Logger.Warn().Err(err).Str("feed", feed.Name).Msg("rss feed failed")
			lastErr = err
			continue
		}
		all = append(all, records...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return capLimit(all, limit), nil
}

func (r *RSS) fetchFeed(ctx context.Context, feed Feed) ([]Record, error) {
	resp, err := r.http.get(ctx, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	var records []Record
	for _, entry := range parsed.Items {
		published := now
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}
		if published.Before(cutoff) || entry.Title == "" {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		id := entry.GUID
		if id == "" {
			id = link
		}

		meta := map[string]any{
			"feed_name":    feed.Name,
			"published_at": published.Format(time.RFC3339),
		}
		if entry.Image != nil && entry.Image.URL != "" {
			meta["media_url"] = entry.Image.URL
		}

		local := r.env.Locality.Matches(entry.Title, entry.Description)
		records = append(records, Record{
			ID:          RecordID(KindRSS, feed.Name+":"+id),
			Source:      KindRSS,
			ExternalID:  feed.Name + ":" + id,
			Title:       entry.Title,
			Description: truncate(entry.Description, 500),
			URL:         link,
			IsLocal:     local,
			IsGlobal:    !local,
			CreatedAt:   now,
			Metadata:    meta,
		})
	}
	return records, nil
}
