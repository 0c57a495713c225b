package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sources    SourcesConfig    `yaml:"sources"`
	Locality   LocalityConfig   `yaml:"locality"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Dedup      DedupConfig      `yaml:"dedup"`
	AI         AIConfig         `yaml:"ai"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Safety     SafetyConfig     `yaml:"safety"`
	Web        WebConfig        `yaml:"web"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Events     EventsConfig     `yaml:"events"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// DatabaseConfig selects the storage driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// SourcesConfig holds configuration for all trend sources.
type SourcesConfig struct {
	Reddit       RedditConfig       `yaml:"reddit"`
	GoogleTrends GoogleTrendsConfig `yaml:"google_trends"`
	Twitter      TwitterConfig      `yaml:"twitter"`
	YouTube      YouTubeConfig      `yaml:"youtube"`
	RSS          RSSConfig          `yaml:"rss"`
	Scrape       ScrapeConfig       `yaml:"scrape"`
	HackerNews   HackerNewsConfig   `yaml:"hackernews"`
	Static       StaticConfig       `yaml:"static"`
}

// RedditConfig for the Reddit hot listing.
type RedditConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Subreddits   []string `yaml:"subreddits"`
}

// GoogleTrendsConfig for the daily trending searches feed.
type GoogleTrendsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Geo     string `yaml:"geo"`
	FeedURL string `yaml:"feed_url" validate:"omitempty,url"`
}

// TwitterConfig for hashtag trends. Without a bearer token the Nitter
// accounts are read instead.
type TwitterConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BearerToken string   `yaml:"bearer_token"`
	Query       string   `yaml:"query"`
	NitterURL   string   `yaml:"nitter_url" validate:"omitempty,url"`
	Accounts    []string `yaml:"accounts"`
}

// YouTubeConfig for the most-popular chart.
type YouTubeConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`
}

// RSSConfig for RSS feed collection.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds" validate:"dive"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// ScrapeConfig for headline scraping.
type ScrapeConfig struct {
	Enabled bool         `yaml:"enabled"`
	Pages   []ScrapePage `yaml:"pages" validate:"dive"`
}

// ScrapePage is one page and the CSS selector of its headline links.
type ScrapePage struct {
	Name     string `yaml:"name" validate:"required"`
	URL      string `yaml:"url" validate:"required,url"`
	Selector string `yaml:"selector"`
}

// HackerNewsConfig for the Hacker News top stories.
type HackerNewsConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit" validate:"gte=0"`
}

// StaticConfig toggles the offline fallback topics.
type StaticConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LocalityConfig names the home audience and its keywords.
type LocalityConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// AggregatorConfig configures the fetch fan-out.
type AggregatorConfig struct {
	FetchTimeout string `yaml:"fetch_timeout"`
	Concurrency  int    `yaml:"concurrency" validate:"gte=0"`
	CollectLimit int    `yaml:"collect_limit" validate:"gte=0"`
}

// ParseFetchTimeout returns the per-source fetch timeout.
func (a AggregatorConfig) ParseFetchTimeout() time.Duration {
	return parseDuration(a.FetchTimeout, 30*time.Second)
}

// ScoringConfig overrides the composite score weights.
type ScoringConfig struct {
	Recency      float64 `yaml:"recency" validate:"gte=0,lte=1"`
	Authority    float64 `yaml:"authority" validate:"gte=0,lte=1"`
	Volume       float64 `yaml:"volume" validate:"gte=0,lte=1"`
	Bonus        float64 `yaml:"bonus" validate:"gte=0,lte=1"`
	TitleQuality float64 `yaml:"title_quality" validate:"gte=0,lte=1"`
	VolumeCap    float64 `yaml:"volume_cap" validate:"gte=0"`
}

// DedupConfig bounds the seen-fingerprint set.
type DedupConfig struct {
	Window     string `yaml:"window"`
	MaxEntries int    `yaml:"max_entries" validate:"gte=0"`
}

// ParseWindow returns the dedup window; an empty value means unbounded.
func (d DedupConfig) ParseWindow() time.Duration {
	return parseDuration(d.Window, 0)
}

// AIConfig selects the content generator.
type AIConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=template openai gemini"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"` // custom endpoint (optional)
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
}

// PublisherConfig selects where queued posts go.
type PublisherConfig struct {
	Kind    string        `yaml:"kind" validate:"oneof=mock x slack discord webhook"`
	Kinds   []string      `yaml:"kinds" validate:"omitempty,dive,oneof=mock x slack discord webhook"`
	X       XConfig       `yaml:"x"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
	Retry   RetryConfig   `yaml:"retry"`
}

// Destinations returns Kinds, or Kind when no list is configured.
func (p PublisherConfig) Destinations() []string {
	if len(p.Kinds) > 0 {
		return p.Kinds
	}
	return []string{p.Kind}
}

// XConfig holds OAuth 1.0a user-context credentials.
type XConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	AccessToken  string `yaml:"access_token"`
	AccessSecret string `yaml:"access_secret"`
}

// SlackConfig for Slack incoming webhooks.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhooks.
type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhooks.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// RetryConfig configures publish retries.
type RetryConfig struct {
	MaxAttempts     int    `yaml:"max_attempts" validate:"gte=0"`
	InitialInterval string `yaml:"initial_interval"`
}

// ParseInitialInterval returns the first retry delay.
func (r RetryConfig) ParseInitialInterval() time.Duration {
	return parseDuration(r.InitialInterval, 2*time.Second)
}

// SchedulerConfig configures collection and posting cadence.
type SchedulerConfig struct {
	Timezone        string `yaml:"timezone"`
	PostingInterval string `yaml:"posting_interval"`
	QueueInterval   string `yaml:"queue_interval"`
	QuietHoursStart int    `yaml:"quiet_hours_start" validate:"gte=0,lte=23"`
	QuietHoursEnd   int    `yaml:"quiet_hours_end" validate:"gte=0,lte=23"`
	MaxPostsPerDay  int    `yaml:"max_posts_per_day" validate:"gte=0"`
	PostsPerHour    int    `yaml:"posts_per_hour" validate:"gte=0"`
	CollectLimit    int    `yaml:"collect_limit" validate:"gte=0"`
}

// ParsePostingInterval returns the posting interval as time.Duration.
func (s SchedulerConfig) ParsePostingInterval() time.Duration {
	return parseDuration(s.PostingInterval, 60*time.Minute)
}

// ParseQueueInterval returns the queue interval as time.Duration.
func (s SchedulerConfig) ParseQueueInterval() time.Duration {
	return parseDuration(s.QueueInterval, 5*time.Minute)
}

// Location loads the scheduler time zone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return time.UTC
	}
	return loc
}

// SafetyConfig configures content screening.
type SafetyConfig struct {
	BannedKeywords []string `yaml:"banned_keywords"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// RateLimitConfig bounds outbound source requests.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`
}

// EventsConfig configures the NATS event bus.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxReconnects int    `yaml:"max_reconnects"`
	ReconnectWait string `yaml:"reconnect_wait"`
}

// ParseReconnectWait returns the delay between NATS reconnect attempts.
func (e EventsConfig) ParseReconnectWait() time.Duration {
	return parseDuration(e.ReconnectWait, 2*time.Second)
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./trendx.db"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Sources: SourcesConfig{
			Reddit: RedditConfig{
				Enabled:    true,
				Subreddits: []string{"worldnews", "Turkey", "technology"},
			},
			GoogleTrends: GoogleTrendsConfig{
				Enabled: true,
				Geo:     "TR",
				FeedURL: "https://trends.google.com/trending/rss",
			},
			Twitter: TwitterConfig{
				Enabled:   false,
				Query:     "(türkiye OR turkey OR gündem) -is:retweet",
				NitterURL: "https://nitter.net",
			},
			YouTube: YouTubeConfig{Enabled: false, Region: "TR"},
			RSS: RSSConfig{
				Enabled: true,
				Feeds: []FeedItem{
					{Name: "BBC World", URL: "https://feeds.bbci.co.uk/news/world/rss.xml"},
					{Name: "Hürriyet Daily News", URL: "https://www.hurriyetdailynews.com/rss"},
				},
			},
			Scrape:     ScrapeConfig{Enabled: false},
			HackerNews: HackerNewsConfig{Enabled: false, Limit: 30},
			Static:     StaticConfig{Enabled: true},
		},
		Locality: LocalityConfig{Name: "Turkey"},
		Aggregator: AggregatorConfig{
			FetchTimeout: "30s",
			Concurrency:  4,
			CollectLimit: 10,
		},
		Scoring: ScoringConfig{
			Recency:      0.30,
			Authority:    0.20,
			Volume:       0.20,
			Bonus:        0.20,
			TitleQuality: 0.10,
			VolumeCap:    5000,
		},
		Dedup: DedupConfig{Window: "72h", MaxEntries: 10000},
		AI: AIConfig{
			Provider:    "template",
			Temperature: 0.7,
			MaxTokens:   500,
		},
		Publisher: PublisherConfig{
			Kind:  "mock",
			Retry: RetryConfig{MaxAttempts: 3, InitialInterval: "2s"},
		},
		Scheduler: SchedulerConfig{
			Timezone:        "Europe/Istanbul",
			PostingInterval: "60m",
			QueueInterval:   "5m",
			QuietHoursStart: 23,
			QuietHoursEnd:   7,
			MaxPostsPerDay:  20,
			PostsPerHour:    4,
			CollectLimit:    5,
		},
		Safety:    SafetyConfig{BannedKeywords: []string{"spam", "scam", "fake"}},
		Web:       WebConfig{Host: "127.0.0.1", Port: 8000},
		RateLimit: RateLimitConfig{RequestsPerMinute: 60},
		Events: EventsConfig{
			Enabled:       false,
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "trendx",
			MaxReconnects: 10,
			ReconnectWait: "2s",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "trendx",
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if slices.Contains(c.Publisher.Destinations(), "x") {
		x := c.Publisher.X
		if x.APIKey == "" || x.APISecret == "" || x.AccessToken == "" || x.AccessSecret == "" {
			return fmt.Errorf("invalid config: publisher x requires api_key, api_secret, access_token and access_secret")
		}
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRENDX_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TRENDX_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TRENDX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Sources.Reddit.ClientID = v
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Sources.Reddit.ClientSecret = v
	}
	if v := os.Getenv("TWITTER_BEARER_TOKEN"); v != "" {
		cfg.Sources.Twitter.BearerToken = v
		cfg.Sources.Twitter.Enabled = true
	}
	if v := os.Getenv("TWITTER_API_KEY"); v != "" {
		cfg.Publisher.X.APIKey = v
	}
	if v := os.Getenv("TWITTER_API_SECRET"); v != "" {
		cfg.Publisher.X.APISecret = v
	}
	if v := os.Getenv("TWITTER_ACCESS_TOKEN"); v != "" {
		cfg.Publisher.X.AccessToken = v
	}
	if v := os.Getenv("TWITTER_ACCESS_SECRET"); v != "" {
		cfg.Publisher.X.AccessSecret = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
		cfg.Sources.YouTube.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.Provider != "gemini" {
		cfg.AI.APIKey = v
		cfg.AI.Provider = "openai"
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.AI.Provider != "openai" {
		cfg.AI.APIKey = v
		cfg.AI.Provider = "gemini"
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Publisher.Slack.WebhookURL = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Publisher.Discord.WebhookURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
		cfg.Events.Enabled = true
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
}
