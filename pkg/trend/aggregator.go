package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/trendx/pkg/source"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidLimit is returned by Collect for a non-positive limit.
var ErrInvalidLimit = errors.New("limit must be positive")

var tracer = otel.Tracer("github.com/elonfeng/trendx/pkg/trend")

// Options configures an Aggregator.
type Options struct {
	FetchTimeout time.Duration
	Concurrency  int
	Scoring      ScoringConfig
	Dedup        DedupConfig
	Clock        func() time.Time
}

// SourceStat describes one source's part in a collection run.
type SourceStat struct {
	Source   source.Kind   `json:"source"`
	Fetched  int           `json:"fetched"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a collection run.
type Report struct {
	Records   []source.Record `json:"records"`
	Sources   []SourceStat    `json:"sources"`
	Raw       int             `json:"raw"`
	Unique    int             `json:"unique"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Aggregator runs fetch → deduplicate → score → truncate over a registry
// of sources.
type Aggregator struct {
	sources *source.Registry
	dedup   *Deduplicator
	scorer  *Scorer
	opts    Options
	logger  zerolog.Logger
}

// NewAggregator creates an Aggregator whose Scorer resolves authority
// through sources.
func NewAggregator(sources *source.Registry, opts Options, logger zerolog.Logger) *Aggregator {
	dedup := NewDeduplicator(opts.Dedup, logger)
	if opts.Clock != nil {
		dedup.now = opts.Clock
	}
	return newAggregator(sources, dedup, opts, logger)
}

func newAggregator(sources *source.Registry, dedup *Deduplicator, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Scoring == (ScoringConfig{}) {
		opts.Scoring = DefaultScoringConfig()
	}
	var scorerOpts []ScorerOption
	if opts.Clock != nil {
		scorerOpts = append(scorerOpts, WithClock(opts.Clock))
	}
	return &Aggregator{
		sources: sources,
		dedup:   dedup,
		scorer:  NewScorer(opts.Scoring, sources, scorerOpts...),
		opts:    opts,
		logger:  logger,
	}
}

// Sources returns the active source registry.
func (a *Aggregator) Sources() *source.Registry { return a.sources }

// Deduplicator returns the shared deduplicator.
func (a *Aggregator) Deduplicator() *Deduplicator { return a.dedup }

// Scorer returns the scorer bound to the active sources.
func (a *Aggregator) Scorer() *Scorer { return a.scorer }

// Only returns an Aggregator restricted to the given kinds that shares
// this Aggregator's Deduplicator.
func (a *Aggregator) Only(kinds ...source.Kind) *Aggregator {
	return newAggregator(a.sources.Filter(kinds...), a.dedup, a.opts, a.logger)
}

// Collect returns at most limit deduplicated records ranked by score.
// Source failures are logged and skipped; an empty result is not an error.
func (a *Aggregator) Collect(ctx context.Context, limit int) ([]source.Record, error) {
	report, err := a.CollectReport(ctx, limit)
	if err != nil {
		return nil, err
	}
	return report.Records, nil
}

// CollectReport is Collect with per-source statistics.
func (a *Aggregator) CollectReport(ctx context.Context, limit int) (*Report, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	ctx, span := tracer.Start(ctx, "trend.collect")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit), attribute.Int("sources", a.sources.Len()))

	report := &Report{StartedAt: time.Now().UTC(), Records: []source.Record{}}
	a.logger.Info().Int("limit", limit).Int("sources", a.sources.Len()).Msg("starting trend aggregation")

	srcs := a.sources.List()
	fetched := make([][]source.Record, len(srcs))
	stats := make([]SourceStat, len(srcs))

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			start := time.Now()
			records, err := a.fetch(ctx, src, limit)
			stats[i] = SourceStat{Source: src.Name(), Fetched: len(records), Duration: time.Since(start)}
			if err != nil {
				stats[i].Error = err.Error()
				a.logger.Error().Err(err).Str("source", string(src.Name())).Msg("failed to fetch from source")
				return nil
			}
			fetched[i] = records
			a.logger.Info().Str("source", string(src.Name())).Int("count", len(records)).Msg("fetched items from source")
			return nil
		})
	}
	_ = g.Wait() // fetch errors are recorded per source
	report.Sources = stats

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var all []source.Record
	for _, records := range fetched {
		all = append(all, records...)
	}
	report.Raw = len(all)

	if len(all) == 0 {
		a.logger.Warn().Msg("no items fetched from any source")
		report.Duration = time.Since(report.StartedAt)
		return report, nil
	}

	unique := a.dedup.Dedupe(all)
	report.Unique = len(unique)

	scored := a.scorer.Score(unique)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	report.Records = scored
	report.Duration = time.Since(report.StartedAt)

	span.SetAttributes(
		attribute.Int("raw", report.Raw),
		attribute.Int("unique", report.Unique),
		attribute.Int("returned", len(scored)),
	)
	a.logger.Info().
		Int("raw", report.Raw).
		Int("unique", report.Unique).
		Int("returned", len(scored)).
		Dur("took", report.Duration).
		Msg("trend aggregation completed")

	return report, nil
}

type fetchResult struct {
	records []source.Record
	err     error
}

// fetch runs one source under its own timeout. A source that panics,
// fails or outlives the timeout contributes nothing.
func (a *Aggregator) fetch(ctx context.Context, src source.Source, limit int) ([]source.Record, error) {
	ctx, span := tracer.Start(ctx, "trend.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source", string(src.Name())))

	ctx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		records, err := src.Fetch(ctx, limit)
		done <- fetchResult{records: records, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
			return nil, fmt.Errorf("fetch %s: %w", src.Name(), res.err)
		}
		if len(res.records) > limit {
			res.records = res.records[:limit]
		}
		return res.records, nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, "timeout")
		return nil, fmt.Errorf("fetch %s: %w", src.Name(), ctx.Err())
	}
}
