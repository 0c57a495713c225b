package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/trendx/internal/config"
	"github.com/elonfeng/trendx/internal/events"
	"github.com/elonfeng/trendx/internal/logging"
	"github.com/elonfeng/trendx/internal/observability"
	"github.com/elonfeng/trendx/internal/scheduler"
	"github.com/elonfeng/trendx/internal/store"
	"github.com/elonfeng/trendx/pkg/content"
	"github.com/elonfeng/trendx/pkg/publish"
	"github.com/elonfeng/trendx/pkg/server"
	"github.com/elonfeng/trendx/pkg/source"
	"github.com/elonfeng/trendx/pkg/trend"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *store.SQLStore
	agg    *trend.Aggregator
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  db,
		agg:    buildAggregator(cfg, logger),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func buildSources(cfg *config.Config, logger zerolog.Logger) *source.Registry {
	env := source.Env{
		Limiter:  source.NewLimiter(cfg.RateLimit.RequestsPerMinute),
		Locality: source.NewLocality(cfg.Locality.Keywords),
		Logger:   logger,
	}
	s := cfg.Sources
	reg := source.NewRegistry()

	if s.Reddit.Enabled {
		reg.Register(source.NewReddit(s.Reddit.ClientID, s.Reddit.ClientSecret, s.Reddit.Subreddits, env))
	}
	if s.GoogleTrends.Enabled {
		reg.Register(source.NewGoogleTrends(s.GoogleTrends.FeedURL, s.GoogleTrends.Geo, env))
	}
	if s.Twitter.Enabled {
		reg.Register(source.NewTwitterTrends(s.Twitter.BearerToken, s.Twitter.Query, s.Twitter.NitterURL, s.Twitter.Accounts, env))
	}
	if s.YouTube.Enabled && s.YouTube.APIKey != "" {
		reg.Register(source.NewYouTube(s.YouTube.APIKey, s.YouTube.Region, env))
	}
	if s.RSS.Enabled && len(s.RSS.Feeds) > 0 {
		feeds := make([]source.Feed, len(s.RSS.Feeds))
		for i, f := range s.RSS.Feeds {
			feeds[i] = source.Feed{Name: f.Name, URL: f.URL}
		}
		reg.Register(source.NewRSS(feeds, env))
	}
	if s.HackerNews.Enabled {
		reg.Register(source.NewHackerNews(s.HackerNews.Limit, env))
	}
	if s.Scrape.Enabled && len(s.Scrape.Pages) > 0 {
		pages := make([]source.Page, len(s.Scrape.Pages))
		for i, p := range s.Scrape.Pages {
			pages[i] = source.Page{Name: p.Name, URL: p.URL, Selector: p.Selector}
		}
		reg.Register(source.NewScrape(pages, env))
	}
	if s.Static.Enabled {
		reg.Register(source.NewStatic())
	}
	return reg
}

func buildAggregator(cfg *config.Config, logger zerolog.Logger) *trend.Aggregator {
	scoring := trend.DefaultScoringConfig()
	sc := cfg.Scoring
	if sc.Recency+sc.Authority+sc.Volume+sc.Bonus+sc.TitleQuality > 0 {
		scoring.RecencyWeight = sc.Recency
		scoring.AuthorityWeight = sc.Authority
		scoring.VolumeWeight = sc.Volume
		scoring.BonusWeight = sc.Bonus
		scoring.TitleQualityWeight = sc.TitleQuality
	}
	if sc.VolumeCap > 0 {
		scoring.VolumeCap = sc.VolumeCap
	}

	return trend.NewAggregator(buildSources(cfg, logger), trend.Options{
		FetchTimeout: cfg.Aggregator.ParseFetchTimeout(),
		Concurrency:  cfg.Aggregator.Concurrency,
		Scoring:      scoring,
		Dedup: trend.DedupConfig{
			Window:     cfg.Dedup.ParseWindow(),
			MaxEntries: cfg.Dedup.MaxEntries,
		},
	}, logger)
}

func buildGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (content.Generator, error) {
	return content.NewGenerator(ctx, content.LLMConfig{
		Provider:    cfg.AI.Provider,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		BaseURL:     cfg.AI.BaseURL,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Locality:    cfg.Locality.Name,
	}, logger)
}

func buildPublisher(cfg *config.Config, logger zerolog.Logger) (publish.Publisher, error) {
	p := cfg.Publisher
	return publish.New(publish.Options{
		Kinds: p.Destinations(),
		X: publish.XCredentials{
			APIKey:       p.X.APIKey,
			APISecret:    p.X.APISecret,
			AccessToken:  p.X.AccessToken,
			AccessSecret: p.X.AccessSecret,
		},
		SlackWebhookURL:   p.Slack.WebhookURL,
		DiscordWebhookURL: p.Discord.WebhookURL,
		WebhookURL:        p.Webhook.URL,
		WebhookSecret:     p.Webhook.Secret,
		MaxAttempts:       p.Retry.MaxAttempts,
		InitialInterval:   p.Retry.ParseInitialInterval(),
	}, logger)
}

// buildScheduler wires the scheduler. The returned bus must be closed by
// the caller.
func (a *app) buildScheduler(ctx context.Context) (*scheduler.Scheduler, events.Bus, error) {
	gen, err := buildGenerator(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build generator: %w", err)
	}
	pub, err := buildPublisher(a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build publisher: %w", err)
	}
	bus, err := events.New(a.cfg.Events, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect events: %w", err)
	}

	sc := a.cfg.Scheduler
	sched := scheduler.New(scheduler.Deps{
		Aggregator: a.agg,
		Store:      a.store,
		Generator:  gen,
		Publisher:  pub,
		Bus:        bus,
		Logger:     a.logger,
	}, scheduler.Options{
		PostingInterval: sc.ParsePostingInterval(),
		QueueInterval:   sc.ParseQueueInterval(),
		Quiet:           scheduler.QuietHours{Start: sc.QuietHoursStart, End: sc.QuietHoursEnd},
		Location:        sc.Location(),
		MaxPostsPerDay:  sc.MaxPostsPerDay,
		PostsPerHour:    sc.PostsPerHour,
		CollectLimit:    sc.CollectLimit,
		BannedKeywords:  a.cfg.Safety.BannedKeywords,
		DedupWindow:     a.cfg.Dedup.ParseWindow(),
	})
	return sched, bus, nil
}

func runInit(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("database initialized (%s: %s)\n", a.cfg.Database.Driver, a.cfg.Database.DSN)
	return nil
}

func runFetch(ctx context.Context, limit int, filterSources []string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	agg := a.agg
	if len(filterSources) > 0 {
		var kinds []source.Kind
		for _, s := range filterSources {
			kind, ok := source.ParseKind(s)
			if !ok {
				return fmt.Errorf("unknown source %q", s)
			}
			kinds = append(kinds, kind)
		}
		agg = agg.Only(kinds...)
		if agg.Sources().Len() == 0 {
			return fmt.Errorf("no enabled sources match: %s", strings.Join(filterSources, ", "))
		}
	}

	report, err := agg.CollectReport(ctx, limit)
	if err != nil {
		return fmt.Errorf("collect trends: %w", err)
	}
	if err := a.store.UpsertRecords(ctx, report.Records); err != nil {
		return fmt.Errorf("store trends: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, st := range report.Sources {
		status := fmt.Sprintf("%d items", st.Fetched)
		if st.Error != "" {
			status = "error: " + st.Error
		}
		fmt.Fprintf(os.Stderr, "  %s: %s (%s)\n", st.Source, status, st.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(os.Stderr, "raw: %d, unique: %d\n\n", report.Raw, report.Unique)

	if len(report.Records) == 0 {
		fmt.Println("no trends found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tSOURCE\tVOLUME\tTITLE")
	for _, r := range report.Records {
		fmt.Fprintf(w, "%.3f\t%s\t%d\t%s\n", r.Score, r.Source, r.SocialVolume, r.Title)
	}
	return w.Flush()
}

func runScore(ctx context.Context, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.ListRecords(ctx, store.ListOpts{Limit: limit})
	if err != nil {
		return fmt.Errorf("list trends: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no trends stored (try: trendx fetch)")
		return nil
	}

	scorer := a.agg.Scorer()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RAW\tRECENCY\tAUTHORITY\tVOLUME\tBONUS\tTITLE_Q\tSOURCE\tTITLE")
	for _, r := range records {
		b := scorer.Breakdown(r)
		fmt.Fprintf(w, "%.3f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			b.Raw, b.Recency, b.Authority, b.Volume, b.Bonus, b.TitleQuality, r.Source, r.Title)
	}
	return w.Flush()
}

func runQueue(ctx context.Context, status string, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.ListQueue(ctx, store.QueueOpts{Status: status, Limit: limit})
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	loc := a.cfg.Scheduler.Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSCHEDULED\tATTEMPTS\tPREVIEW")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			e.ID, e.Status, e.ScheduledAt.In(loc).Format("2006-01-02 15:04"), e.Attempts, preview(e.Preview, 60))
	}
	return w.Flush()
}

func runPost(ctx context.Context, dryRun bool, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if limit > 0 {
		a.cfg.Scheduler.PostsPerHour = limit
	}
	sched, bus, err := a.buildScheduler(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	res, err := sched.ProcessQueue(ctx, dryRun)
	if errors.Is(err, publish.ErrDailyLimit) {
		fmt.Println("daily post limit reached")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Println("quiet hours, nothing posted")
		return nil
	}
	fmt.Printf("due: %d, posted: %d, failed: %d\n", res.Due, res.Posted, res.Failed)
	return nil
}

func runServe(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := observability.InitTracer(ctx, a.cfg.Tracing, a.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown(context.Background())

	srv := server.New(server.Deps{
		Store:      a.store,
		Aggregator: a.agg,
		Logger:     a.logger,
	}, a.addr(port), a.cfg.Web.CORSOrigins)
	return srv.ListenAndServe(ctx)
}

func runStart(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := observability.InitTracer(ctx, a.cfg.Tracing, a.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown(context.Background())

	sched, bus, err := a.buildScheduler(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	srv := server.New(server.Deps{
		Store:      a.store,
		Aggregator: a.agg,
		Scheduler:  sched,
		Logger:     a.logger,
	}, a.addr(port), a.cfg.Web.CORSOrigins)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	err = g.Wait()
	a.logger.Info().Msg("shutting down")
	return err
}

func (a *app) addr(port int) string {
	web := a.cfg.Web
	if port > 0 {
		web.Port = port
	}
	return web.Addr()
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
