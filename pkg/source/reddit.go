package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Reddit collects hot posts from a set of subreddits. With client
// credentials it uses the OAuth API, otherwise the public JSON listing.
type Reddit struct {
	http         *httpClient
	env          Env
	clientID     string
	clientSecret string
	subreddits   []string

	authURL   string
	oauthURL  string
	publicURL string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewReddit creates a new Reddit source.
func NewReddit(clientID, clientSecret string, subreddits []string, env Env) *Reddit {
	if len(subreddits) == 0 {
		subreddits = []string{"worldnews", "Turkey", "technology"}
	}
	env = env.withDefaults()
	return &Reddit{
		http:         newHTTPClient(env.Limiter),
		env:          env,
		clientID:     clientID,
		clientSecret: clientSecret,
		subreddits:   subreddits,
		authURL:      "https://www.reddit.com/api/v1/access_token",
		oauthURL:     "https://oauth.reddit.com",
		publicURL:    "https://www.reddit.com",
	}
}

func (r *Reddit) Name() Kind              { return KindReddit }
func (r *Reddit) AuthorityScore() float64 { return 0.8 }

func (r *Reddit) Fetch(ctx context.Context, limit int) ([]Record, error) {
	base := r.publicURL
	var header http.Header
	if r.clientID != "" {
		token, err := r.authenticate(ctx)
		if err != nil {
			return nil, fmt.Errorf("reddit auth: %w", err)
		}
		base = r.oauthURL
		header = http.Header{"Authorization": {"Bearer " + token}}
	}

	var (
		all     []Record
		lastErr error
	)
	for _, sub := range r.subreddits {
		records, err := r.fetchSubreddit(ctx, base, header, sub, limit)
		if err != nil {
			r.env.Logger.Warn().Err(err).Str("subreddit", sub).Msg("reddit subreddit failed")
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

func (r *Reddit) authenticate(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(r.clientID, r.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token request: %w", err)
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode reddit token: %w", err)
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return r.token, nil
}

func (r *Reddit) fetchSubreddit(ctx context.Context, base string, header http.Header, sub string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	reqURL := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", base, url.PathEscape(sub), limit)

	var listing redditListing
	if err := r.http.getJSON(ctx, reqURL, header, &listing); err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", sub, err)
	}

	now := time.Now().UTC()
	var records []Record
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || post.Title == "" {
			continue
		}

		postURL := post.URL
		if postURL == "" || strings.HasPrefix(postURL, "/r/") {
			postURL = "https://reddit.com" + post.Permalink
		}

		records = append(records, Record{
			ID:           RecordID(KindReddit, post.ID),
			Source:       KindReddit,
			ExternalID:   post.ID,
			Title:        post.Title,
			Description:  truncate(post.Selftext, 500),
			URL:          postURL,
			SocialVolume: max(post.Score, 0),
			IsLocal:      r.env.Locality.Matches(post.Title, post.Selftext),
			IsGlobal:     strings.EqualFold(sub, "worldnews"),
			CreatedAt:    now,
			Metadata: map[string]any{
				"subreddit":    sub,
				"author":       post.Author,
				"num_comments": post.NumComments,
				"upvote_ratio": post.UpvoteRatio,
				"published_at": time.Unix(int64(post.CreatedUTC), 0).UTC().Format(time.RFC3339),
			},
		})
	}
	return records, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
	UpvoteRatio float64 `json:"upvote_ratio"`
}
