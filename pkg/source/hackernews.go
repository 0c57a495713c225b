package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const hnBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews collects the current top stories.
type HackerNews struct {
	http    *httpClient
	env     Env
	max     int
	baseURL string
}

// NewHackerNews creates a new HN source. maxStories bounds how many top
// story ids are inspected per fetch.
func NewHackerNews(maxStories int, env Env) *HackerNews {
	if maxStories <= 0 {
		maxStories = 30
	}
	env = env.withDefaults()
	return &HackerNews{
		http:    newHTTPClient(env.Limiter),
		env:     env,
		max:     maxStories,
		baseURL: hnBaseURL,
	}
}

func (h *HackerNews) Name() Kind              { return KindHackerNews }
func (h *HackerNews) AuthorityScore() float64 { return 0.5 }

func (h *HackerNews) Fetch(ctx context.Context, limit int) ([]Record, error) {
	var ids []int
	if err := h.http.getJSON(ctx, h.baseURL+"/topstories.json", nil, &ids); err != nil {
		return nil, fmt.Errorf("fetch hn top stories: %w", err)
	}

	n := h.max
	if limit > 0 && limit < n {
		n = limit
	}
	if len(ids) > n {
		ids = ids[:n]
	}

	// Stories land in their rank slot so output order matches the HN ranking.
	stories := make([]*hnStory, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, id := range ids {
		g.Go(func() error {
			story, err := h.fetchItem(gctx, id)
			if err != nil {
				h.env.Logger.Debug().Err(err).Int("id", id).Msg("hn item failed")
				return nil
			}
			stories[i] = story
			return nil
		})
	}
	_ = g.Wait() // failed items are skipped, never returned

	now := time.Now().UTC()
	var records []Record
	for _, story := range stories {
		if story == nil {
			continue
		}
		link := story.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		records = append(records, Record{
			ID:           RecordID(KindHackerNews, strconv.Itoa(story.ID)),
			Source:       KindHackerNews,
			ExternalID:   strconv.Itoa(story.ID),
			Title:        story.Title,
			URL:          link,
			SocialVolume: max(story.Score, 0),
			IsLocal:      h.env.Locality.Matches(story.Title),
			IsGlobal:     true,
			CreatedAt:    now,
			Metadata: map[string]any{
				"author":       story.By,
				"comments":     story.Descendants,
				"published_at": time.Unix(story.Time, 0).UTC().Format(time.RFC3339),
			},
		})
	}
	return records, nil
}

type hnStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	Type        string `json:"type"`
}

// fetchItem returns nil without error for items that are not stories.
func (h *HackerNews) fetchItem(ctx context.Context, id int) (*hnStory, error) {
	var story hnStory
	if err := h.http.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), nil, &story); err != nil {
		return nil, fmt.Errorf("fetch hn item %d: %w", id, err)
	}
	if story.Type != "story" || story.Title == "" {
		return nil, nil
	}
	return &story, nil
}
