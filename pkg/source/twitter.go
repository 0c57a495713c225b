package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/mmcdole/gofeed"
)

const defaultTwitterQuery = "(türkiye OR turkey OR gündem) -is:retweet"

// TwitterTrends derives trending hashtags from X/Twitter. With a bearer
// token it counts hashtags over a recent-search window; without one it
// falls back to Nitter RSS timelines of the configured accounts.
type TwitterTrends struct {
	http   *httpClient
	parser *gofeed.Parser
	env    Env
	api    *twitter.Client
	query  string

	nitterURL string
	accounts  []string
}

type bearerAuth struct{ token string }

func (b bearerAuth) Add(req *http.Request) {
	req.Header.Add("Authorization", "Bearer "+b.token)
}

// NewTwitterTrends creates an X/Twitter trends source.
func NewTwitterTrends(bearerToken, query, nitterURL string, accounts []string, env Env) *TwitterTrends {
	if query == "" {
		query = defaultTwitterQuery
	}
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	env = env.withDefaults()
	t := &TwitterTrends{
		http:      newHTTPClient(env.Limiter),
		parser:    gofeed.NewParser(),
		env:       env,
		query:     query,
		nitterURL: strings.TrimRight(nitterURL, "/"),
		accounts:  accounts,
	}
	if bearerToken != "" {
		t.api = &twitter.Client{
			Authorizer: bearerAuth{token: bearerToken},
			Client:     &http.Client{Timeout: 30 * time.Second},
			Host:       "https://api.twitter.com",
		}
	}
	return t
}

func (t *TwitterTrends) Name() Kind              { return KindTwitterTrends }
func (t *TwitterTrends) AuthorityScore() float64 { return 0.7 }

func (t *TwitterTrends) Fetch(ctx context.Context, limit int) ([]Record, error) {
	if t.api != nil {
		return t.fetchHashtags(ctx, limit)
	}
	if len(t.accounts) == 0 {
		return nil, fmt.Errorf("twitter: no bearer token and no nitter accounts configured")
	}
	return t.fetchNitter(ctx, limit)
}

type hashtagCount struct {
	tag   string
	count int
	first int
}

func (t *TwitterTrends) fetchHashtags(ctx context.Context, limit int) ([]Record, error) {
	if err := t.env.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := t.api.TweetRecentSearch(ctx, t.query, twitter.TweetRecentSearchOpts{
		MaxResults:  100,
		TweetFields: []twitter.TweetField{twitter.TweetFieldEntities, twitter.TweetFieldCreatedAt},
	})
	if err != nil {
		return nil, fmt.Errorf("twitter recent search: %w", err)
	}
	if resp == nil || resp.Raw == nil {
		return nil, nil
	}

	counts := make(map[string]*hashtagCount)
	seen := 0
	for _, tweet := range resp.Raw.Tweets {
		if tweet == nil || tweet.Entities == nil {
			continue
		}
		for _, h := range tweet.Entities.HashTags {
			key := strings.ToLower(h.Tag)
			if key == "" {
				continue
			}
			if c, ok := counts[key]; ok {
				c.count++
				continue
			}
			counts[key] = &hashtagCount{tag: h.Tag, count: 1, first: seen}
			seen++
		}
	}

	ranked := make([]*hashtagCount, 0, len(counts))
	for _, c := range counts {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	now := time.Now().UTC()
	records := make([]Record, 0, len(ranked))
	for _, c := range ranked {
		records = append(records, Record{
			ID:           RecordID(KindTwitterTrends, c.tag),
			Source:       KindTwitterTrends,
			ExternalID:   c.tag,
			Title:        "#" + c.tag,
			Description:  fmt.Sprintf("#%s appeared in %d recent posts", c.tag, c.count),
			URL:          "https://twitter.com/search?q=%23" + url.QueryEscape(c.tag),
			SocialVolume: c.count,
			IsLocal:      t.env.Locality.Matches(c.tag),
			IsGlobal:     true,
			CreatedAt:    now,
			Metadata:     map[string]any{"query": t.query},
		})
	}
	return capLimit(records, limit), nil
}

func (t *TwitterTrends) fetchNitter(ctx context.Context, limit int) ([]Record, error) {
	var (
		all     []Record
		lastErr error
	)
	for _, account := range t.accounts {
		records, err := t.fetchAccount(ctx, account)
		if err != nil {
			t.env.Logger.Warn().Err(err).Str("account", account).Msg("nitter account failed")
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

func (t *TwitterTrends) fetchAccount(ctx context.Context, account string) ([]Record, error) {
	resp, err := t.http.get(ctx, fmt.Sprintf("%s/%s/rss", t.nitterURL, account), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch twitter @%s: %w", account, err)
	}
	defer resp.Body.Close()

	feed, err := t.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse twitter @%s: %w", account, err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)
	var records []Record
	for _, entry := range feed.Items {
		if entry.PublishedParsed != nil && entry.PublishedParsed.Before(cutoff) {
			continue
		}

		link := strings.Replace(entry.Link, t.nitterURL, "https://x.com", 1)
		meta := map[string]any{"account": account}
		if id := statusID(link); id != "" {
			meta["quote_tweet_id"] = id
			meta["quote_tweet_url"] = link
		}
		records = append(records, Record{
			ID:          RecordID(KindTwitterTrends, account+":"+entry.GUID),
			Source:      KindTwitterTrends,
			ExternalID:  account + ":" + entry.GUID,
			Title:       truncate(entry.Title, 280),
			Description: truncate(entry.Description, 500),
			URL:         link,
			IsLocal:     t.env.Locality.Matches(entry.Title),
			IsGlobal:    true,
			CreatedAt:   now,
			Metadata:    meta,
		})
	}
	return records, nil
}

// statusID extracts the tweet id from a ".../status/<id>#m" link.
func statusID(link string) string {
	_, rest, ok := strings.Cut(link, "/status/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "#?/"); i >= 0 {
		rest = rest[:i]
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return rest
}
