package publish

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Publisher kinds.
const (
	KindMock    = "mock"
	KindX       = "x"
	KindSlack   = "slack"
	KindDiscord = "discord"
	KindWebhook = "webhook"
)

// Options selects and configures publishers. Kinds names several
// destinations; Kind is the single-destination shorthand.
type Options struct {
	Kind              string
	Kinds             []string
	X                 XCredentials
	XHost             string
	SlackWebhookURL   string
	DiscordWebhookURL string
	WebhookURL        string
	WebhookSecret     string
	MaxAttempts       int
	InitialInterval   time.Duration
}

// New builds the publisher for the configured destinations. Network
// publishers are wrapped with retries; the mock is not. More than one
// destination yields a Multi.
func New(opts Options, logger zerolog.Logger) (Publisher, error) {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []string{opts.Kind}
	}

	var (
		pubs []Publisher
		seen = make(map[string]bool, len(kinds))
	)
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true

		p, err := newOne(kind, opts, logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
		logger.Debug().Str("publisher", p.Name()).Msg("publisher enabled")
	}

	if len(pubs) == 1 {
		return pubs[0], nil
	}
	return NewMulti(pubs...), nil
}

func newOne(kind string, opts Options, logger zerolog.Logger) (Publisher, error) {
	var p Publisher
	switch kind {
	case "", KindMock:
		return NewMock(logger), nil
	case KindX:
		x, err := NewX(opts.X, opts.XHost, logger)
		if err != nil {
			return nil, err
		}
		p = x
	case KindSlack:
		if opts.SlackWebhookURL == "" {
			return nil, fmt.Errorf("slack publisher: webhook url is required")
		}
		p = NewSlack(opts.SlackWebhookURL)
	case KindDiscord:
		if opts.DiscordWebhookURL == "" {
			return nil, fmt.Errorf("discord publisher: webhook url is required")
		}
		p = NewDiscord(opts.DiscordWebhookURL)
	case KindWebhook:
		if opts.WebhookURL == "" {
			return nil, fmt.Errorf("webhook publisher: url is required")
		}
		p = NewWebhook(opts.WebhookURL, opts.WebhookSecret)
	default:
		return nil, fmt.Errorf("unknown publisher %q", kind)
	}
	return NewRetrying(p, opts.MaxAttempts, opts.InitialInterval, logger), nil
}
