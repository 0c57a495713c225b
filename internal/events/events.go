// Package events publishes pipeline notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/trendx/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects, relative to the configured prefix.
const (
	SubjectTrendsCollected = "trends.collected"
	SubjectPostPublished   = "posts.published"
	SubjectPostFailed      = "posts.failed"
)

// Bus publishes JSON events.
type Bus interface {
	Publish(ctx context.Context, subject string, v any) error
	Close() error
}

// TrendsCollected is sent after each collect cycle.
type TrendsCollected struct {
	Raw       int            `json:"raw"`
	Unique    int            `json:"unique"`
	Screened  int            `json:"screened"`
	Enqueued  int            `json:"enqueued"`
	BySource  map[string]int `json:"by_source"`
	Collected time.Time      `json:"collected_at"`
}

// PostPublished is sent for every delivered queue entry.
type PostPublished struct {
	QueueID   int64     `json:"queue_id"`
	ContentID string    `json:"content_id"`
	PostID    string    `json:"post_id"`
	Publisher string    `json:"publisher"`
	DryRun    bool      `json:"dry_run,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

// PostFailed is sent when a queue entry could not be delivered.
type PostFailed struct {
	QueueID   int64     `json:"queue_id"`
	ContentID string    `json:"content_id"`
	Publisher string    `json:"publisher"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATS publishes events on a NATS connection.
type NATS struct {
	conn   conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS with reconnect handling.
func Connect(cfg config.EventsConfig, logger zerolog.Logger) (*NATS, error) {
	options := []nats.Option{
		nats.Name("trendx"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ParseReconnectWait()),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return newNATS(nc, cfg.SubjectPrefix, logger), nil
}

func newNATS(c conn, prefix string, logger zerolog.Logger) *NATS {
	return &NATS{conn: c, prefix: strings.Trim(prefix, "."), logger: logger}
}

// Subject returns the full subject for name.
func (n *NATS) Subject(name string) string {
	if n.prefix == "" {
		return name
	}
	return n.prefix + "." + name
}

func (n *NATS) Publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	full := n.Subject(subject)
	if err := n.conn.Publish(full, data); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}
	n.logger.Debug().Str("subject", full).Int("bytes", len(data)).Msg("event published")
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

// New returns a NATS bus when events are enabled and Nop otherwise.
func New(cfg config.EventsConfig, logger zerolog.Logger) (Bus, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return Connect(cfg, logger)
}
