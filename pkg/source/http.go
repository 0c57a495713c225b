package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const userAgent = "trendx/1.0"

// Env carries the collaborators shared by every adapter.
type Env struct {
	Limiter  *rate.Limiter
	Locality *Locality
	Logger   zerolog.Logger
}

// NewLimiter returns a limiter allowing rpm requests per minute. A
// non-positive rpm disables limiting.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

func (e Env) withDefaults() Env {
	if e.Limiter == nil {
		e.Limiter = NewLimiter(0)
	}
	if e.Locality == nil {
		e.Locality = NewLocality(nil)
	}
	return e
}

// httpClient is the rate-limited client every HTTP-backed adapter uses.
type httpClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(limiter *rate.Limiter) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
	}
}

// do waits for the limiter, sends req and rejects non-2xx responses. The
// caller closes the body.
func (c *httpClient) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *httpClient) get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req)
}

func (c *httpClient) getJSON(ctx context.Context, url string, header http.Header, v any) error {
	resp, err := c.get(ctx, url, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
