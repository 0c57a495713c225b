package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/trendx/pkg/content"
)

// Slack posts content via a Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack publisher.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	// Build Slack Block Kit message.
	blocks := []map[string]any{
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": c.LocalText},
		},
	}
	if c.EnglishText != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": "_" + c.EnglishText + "_"},
		})
	}
	if len(c.Hashtags) > 0 || c.MediaURL != "" {
		var elements []map[string]any
		if len(c.Hashtags) > 0 {
			elements = append(elements, map[string]any{"type": "mrkdwn", "text": strings.Join(c.Hashtags, " ")})
		}
		if c.MediaURL != "" {
			elements = append(elements, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("<%s|media>", c.MediaURL)})
		}
		blocks = append(blocks, map[string]any{"type": "context", "elements": elements})
	}

	body, err := json.Marshal(map[string]any{"text": Compose(c), "blocks": blocks})
	if err != nil {
		return nil, fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := postJSON(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return nil, fmt.Errorf("send slack webhook: %w", err)
	}
	return &Result{Success: true, PostID: c.ID}, nil
}

func (s *Slack) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, s, posts)
}
