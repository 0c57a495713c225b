package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/trendx/pkg/content"
)

// postJSON sends body to url and rejects non-2xx responses.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trendx/1.0")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Webhook posts content as JSON to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// webhookPayload is the body sent to generic webhooks.
type webhookPayload struct {
	Text    string           `json:"text"`
	Content *content.Content `json:"content"`
	SentAt  time.Time        `json:"sent_at"`
}

// NewWebhook creates a new generic webhook publisher.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	body, err := json.Marshal(webhookPayload{Text: Compose(c), Content: c, SentAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	header := http.Header{}
	// HMAC signature for verification.
	if w.secret != "" {
		header.Set("X-Signature-256", "sha256="+Sign(w.secret, body))
	}

	if err := postJSON(ctx, w.client, w.url, body, header); err != nil {
		return nil, fmt.Errorf("send webhook: %w", err)
	}
	return &Result{Success: true, PostID: c.ID}, nil
}

func (w *Webhook) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, w, posts)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
