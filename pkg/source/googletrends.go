package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const googleTrendsFeedURL = "https://trends.google.com/trending/rss"

// GoogleTrends reads the daily trending searches feed for one region.
type GoogleTrends struct {
	http    *httpClient
	parser  *gofeed.Parser
	env     Env
	feedURL string
	geo     string
}

// NewGoogleTrends creates a Google Trends source. An empty feedURL uses the
// public trending RSS endpoint.
func NewGoogleTrends(feedURL, geo string, env Env) *GoogleTrends {
	if feedURL == "" {
		feedURL = googleTrendsFeedURL
	}
	if geo == "" {
		geo = "TR"
	}
	env = env.withDefaults()
	return &GoogleTrends{
		http:    newHTTPClient(env.Limiter),
		parser:  gofeed.NewParser(),
		env:     env,
		feedURL: feedURL,
		geo:     geo,
	}
}

func (g *GoogleTrends) Name() Kind              { return KindGoogleTrends }
func (g *GoogleTrends) AuthorityScore() float64 { return 0.9 }

func (g *GoogleTrends) Fetch(ctx context.Context, limit int) ([]Record, error) {
	u, err := url.Parse(g.feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse google trends url: %w", err)
	}
	q := u.Query()
	q.Set("geo", g.geo)
	u.RawQuery = q.Encode()

	resp, err := g.http.get(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch google trends: %w", err)
	}
	defer resp.Body.Close()

	feed, err := g.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse google trends: %w", err)
	}

	now := time.Now().UTC()
	var records []Record
	for _, item := range feed.Items {
		topic := strings.TrimSpace(item.Title)
		if topic == "" {
			continue
		}

		local := g.env.Locality.Matches(topic)
		meta := map[string]any{"geo": g.geo}
		if pic := trendsExtension(item, "picture"); pic != "" {
			meta["media_url"] = pic
		}
		if news := trendsExtension(item, "news_item_url"); news != "" {
			meta["news_url"] = news
		}

		records = append(records, Record{
			ID:           RecordID(KindGoogleTrends, g.geo+":"+topic),
			Source:       KindGoogleTrends,
			ExternalID:   g.geo + ":" + topic,
			Title:        "Trending: " + topic,
			Description:  fmt.Sprintf("%q is trending on Google searches", topic),
			URL:          "https://trends.google.com/trends/explore?q=" + url.QueryEscape(topic),
			SocialVolume: parseTraffic(trendsExtension(item, "approx_traffic")),
			IsLocal:      local,
			IsGlobal:     !local,
			CreatedAt:    now,
			Metadata:     meta,
		})
	}
	return capLimit(records, limit), nil
}

// trendsExtension returns the first value of an "ht:" namespaced element,
// searching nested news items as well.
func trendsExtension(item *gofeed.Item, name string) string {
	ht, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	if exts := ht[name]; len(exts) > 0 && exts[0].Value != "" {
		return strings.TrimSpace(exts[0].Value)
	}
	for _, news := range ht["news_item"] {
		if children := news.Children[name]; len(children) > 0 {
			return strings.TrimSpace(children[0].Value)
		}
	}
	return ""
}

// parseTraffic converts strings such as "20,000+" or "2K+" into a count.
func parseTraffic(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "+"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	mult := 1
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1_000, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1_000_000, s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n * float64(mult))
}
