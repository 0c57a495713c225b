package publish

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/elonfeng/trendx/pkg/content"
	"github.com/rs/zerolog"
)

// Retrying retries failed publishes with exponential backoff.
type Retrying struct {
	next        Publisher
	maxAttempts uint
	initial     time.Duration
	logger      zerolog.Logger
}

// NewRetrying wraps next. maxAttempts below 1 means a single attempt.
func NewRetrying(next Publisher, maxAttempts int, initial time.Duration, logger zerolog.Logger) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = backoff.DefaultInitialInterval
	}
	return &Retrying{next: next, maxAttempts: uint(maxAttempts), initial: initial, logger: logger}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Publish(ctx context.Context, c *content.Content) (*Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial

	return backoff.Retry(ctx, func() (*Result, error) {
		return r.next.Publish(ctx, c)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn().Err(err).Str("publisher", r.next.Name()).Dur("retry_in", wait).Msg("publish failed, retrying")
		}),
	)
}

func (r *Retrying) PublishThread(ctx context.Context, posts []*content.Content) ([]*Result, error) {
	return publishEach(ctx, r, posts)
}
