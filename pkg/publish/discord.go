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

// Discord posts content via a Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord publisher.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	desc := c.LocalText
	if c.EnglishText != "" {
		desc += "\n\n*" + c.EnglishText + "*"
	}
	if len(c.Hashtags) > 0 {
		desc += "\n\n" + strings.Join(c.Hashtags, " ")
	}

	embed := map[string]any{
		"description": desc,
		"color":       0xE30A17,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if c.MediaURL != "" && c.MediaType == "image" {
		embed["image"] = map[string]any{"url": c.MediaURL}
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return nil, fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return nil, fmt.Errorf("send discord webhook: %w", err)
	}
	return &Result{Success: true, PostID: c.ID}, nil
}

func (d *Discord) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, d, posts)
}
