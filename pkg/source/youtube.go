package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// YouTube collects the most popular videos chart for a region.
type YouTube struct {
	http    *httpClient
	env     Env
	apiKey  string
	region  string
	baseURL string
}

// NewYouTube creates a YouTube trending source.
func NewYouTube(apiKey, region string, env Env) *YouTube {
	if region == "" {
		region = "TR"
	}
	env = env.withDefaults()
	return &YouTube{
		http:    newHTTPClient(env.Limiter),
		env:     env,
		apiKey:  apiKey,
		region:  region,
		baseURL: "https://www.googleapis.com/youtube/v3",
	}
}

func (y *YouTube) Name() Kind              { return KindYouTubeTrending }
func (y *YouTube) AuthorityScore() float64 { return 0.6 }

func (y *YouTube) Fetch(ctx context.Context, limit int) ([]Record, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("chart", "mostPopular")
	params.Set("regionCode", y.region)
	params.Set("maxResults", strconv.Itoa(limit))
	params.Set("key", y.apiKey)

	var result ytVideoList
	if err := y.http.getJSON(ctx, y.baseURL+"/videos?"+params.Encode(), nil, &result); err != nil {
		return nil, fmt.Errorf("fetch youtube trending: %w", err)
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(result.Items))
	for _, video := range result.Items {
		if video.ID == "" || video.Snippet.Title == "" {
			continue
		}

		local := y.env.Locality.Matches(video.Snippet.Title, video.Snippet.ChannelTitle)
		meta := map[string]any{
			"channel_id":    video.Snippet.ChannelID,
			"channel_title": video.Snippet.ChannelTitle,
			"region":        y.region,
			"media_type":    "video",
		}
		if !video.Snippet.PublishedAt.IsZero() {
			meta["published_at"] = video.Snippet.PublishedAt.UTC().Format(time.RFC3339)
		}
		if thumb := video.Snippet.Thumbnails.High.URL; thumb != "" {
			meta["media_url"] = thumb
		}

		records = append(records, Record{
			ID:           RecordID(KindYouTubeTrending, video.ID),
			Source:       KindYouTubeTrending,
			ExternalID:   video.ID,
			Title:        video.Snippet.Title,
			Description:  truncate(video.Snippet.Description, 500),
			URL:          "https://www.youtube.com/watch?v=" + video.ID,
			SocialVolume: video.Statistics.ViewCount,
			IsLocal:      local,
			IsGlobal:     !local,
			CreatedAt:    now,
			Metadata:     meta,
		})
	}
	return capLimit(records, limit), nil
}

type ytVideoList struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			Description  string    `json:"description"`
			ChannelTitle string    `json:"channelTitle"`
			ChannelID    string    `json:"channelId"`
			PublishedAt  time.Time `json:"publishedAt"`
			Thumbnails   struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    int `json:"viewCount,string"`
			CommentCount int `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
