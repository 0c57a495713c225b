package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elonfeng/trendx/internal/events"
	"github.com/elonfeng/trendx/internal/store"
	"github.com/elonfeng/trendx/pkg/content"
	"github.com/elonfeng/trendx/pkg/publish"
	"github.com/elonfeng/trendx/pkg/source"
	"github.com/elonfeng/trendx/pkg/trend"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrCycleRunning is returned when a collect cycle is requested while
// another one is still in progress.
var ErrCycleRunning = errors.New("collect cycle already running")

var tracer = otel.Tracer("github.com/elonfeng/trendx/internal/scheduler")

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Aggregator *trend.Aggregator
	Store      store.Store
	Generator  content.Generator
	Publisher  publish.Publisher
	Bus        events.Bus
	Logger     zerolog.Logger
}

// Options configures timing and limits.
type Options struct {
	PostingInterval time.Duration
	QueueInterval   time.Duration
	Quiet           QuietHours
	Location        *time.Location
	MaxPostsPerDay  int
	PostsPerHour    int
	CollectLimit    int
	BannedKeywords  []string
	DedupWindow     time.Duration
	Clock           func() time.Time
}

// CycleResult summarizes one collect cycle.
type CycleResult struct {
	Skipped   bool               `json:"skipped"`
	Raw       int                `json:"raw"`
	Unique    int                `json:"unique"`
	Rejected  int                `json:"rejected"`
	Generated int                `json:"generated"`
	Enqueued  int                `json:"enqueued"`
	Sources   []trend.SourceStat `json:"sources,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// QueueResult summarizes one queue pass.
type QueueResult struct {
	Skipped bool `json:"skipped"`
	Due     int  `json:"due"`
	Posted  int  `json:"posted"`
	Failed  int  `json:"failed"`
	DryRun  bool `json:"dry_run"`
}

// State is a snapshot of the scheduler for status reporting.
type State struct {
	Running      bool         `json:"running"`
	CycleRunning bool         `json:"cycle_running"`
	LastCycle    *CycleResult `json:"last_cycle,omitempty"`
	LastQueue    *QueueResult `json:"last_queue,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	QuietNow     bool         `json:"quiet_now"`
}

// Scheduler runs periodic collection and queue processing.
type Scheduler struct {
	deps Deps
	opts Options

	cycle sync.Mutex // held for the duration of a collect cycle

	mu        sync.Mutex
	running   bool
	cycling   bool
	lastCycle *CycleResult
	lastQueue *QueueResult
	lastErr   string
}

// New creates a new scheduler.
func New(deps Deps, opts Options) *Scheduler {
	if opts.PostingInterval <= 0 {
		opts.PostingInterval = 60 * time.Minute
	}
	if opts.QueueInterval <= 0 {
		opts.QueueInterval = 5 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PostsPerHour <= 0 {
		opts.PostsPerHour = 4
	}
	if opts.CollectLimit <= 0 {
		opts.CollectLimit = 5
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if deps.Bus == nil {
		deps.Bus = events.Nop{}
	}
	return &Scheduler{deps: deps, opts: opts}
}

func (s *Scheduler) now() time.Time {
	return s.opts.Clock().In(s.opts.Location)
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Running:      s.running,
		CycleRunning: s.cycling,
		LastCycle:    s.lastCycle,
		LastQueue:    s.lastQueue,
		LastError:    s.lastErr,
		QuietNow:     s.opts.Quiet.Contains(s.now()),
	}
}

// Run seeds the deduplicator, runs a collect cycle and a queue pass
// immediately, then repeats them on their intervals. Blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.deps.Logger
	s.setRunning(true)
	defer s.setRunning(false)

	if err := s.Seed(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to seed deduplicator")
	}

	collectTicker := time.NewTicker(s.opts.PostingInterval)
	queueTicker := time.NewTicker(s.opts.QueueInterval)
	defer collectTicker.Stop()
	defer queueTicker.Stop()

	s.runCycle(ctx)
	s.runQueue(ctx)

	log.Info().
		Dur("collect_every", s.opts.PostingInterval).
		Dur("queue_every", s.opts.QueueInterval).
		Msg("scheduler running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.runCycle(ctx)
		case <-queueTicker.C:
			s.runQueue(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.CollectCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.deps.Logger.Error().Err(err).Msg("collect cycle failed")
	}
}

func (s *Scheduler) runQueue(ctx context.Context) {
	_, err := s.ProcessQueue(ctx, false)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, publish.ErrDailyLimit):
		s.deps.Logger.Info().Int("max_posts_per_day", s.opts.MaxPostsPerDay).Msg("daily post limit reached")
	default:
		s.deps.Logger.Error().Err(err).Msg("queue processing failed")
	}
}

// Seed loads fingerprints persisted within the dedup window so a restart
// does not repost recent trends.
func (s *Scheduler) Seed(ctx context.Context) error {
	if s.opts.DedupWindow <= 0 {
		return nil
	}
	now := s.now()
	fps, err := s.deps.Store.RecentFingerprints(ctx, now.Add(-s.opts.DedupWindow))
	if err != nil {
		return fmt.Errorf("load recent fingerprints: %w", err)
	}
	seen := make([]trend.Seen, len(fps))
	for i, fp := range fps {
		seen[i] = trend.Seen{Fingerprint: fp.Fingerprint, At: fp.CreatedAt}
	}
	s.deps.Aggregator.Deduplicator().Restore(seen)
	s.deps.Logger.Info().Int("fingerprints", len(fps)).Msg("deduplicator seeded")
	return nil
}

// CollectCycle aggregates trends, screens them, persists them, generates
// content and enqueues it at the next post time.
func (s *Scheduler) CollectCycle(ctx context.Context) (*CycleResult, error) {
	if !s.cycle.TryLock() {
		return nil, ErrCycleRunning
	}
	defer s.cycle.Unlock()
	s.setCycling(true)
	defer s.setCycling(false)

	ctx, span := tracer.Start(ctx, "scheduler.collect_cycle")
	defer span.End()

	log := s.deps.Logger
	start := time.Now()
	now := s.now()
	res := &CycleResult{StartedAt: now}

	if s.opts.Quiet.Contains(now) {
		log.Info().Int("hour", now.Hour()).Msg("skipping trend collection during quiet hours")
		res.Skipped = true
		s.finishCycle(res, nil)
		return res, nil
	}

	report, err := s.deps.Aggregator.CollectReport(ctx, s.opts.CollectLimit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.finishCycle(nil, err)
		return nil, fmt.Errorf("aggregate trends: %w", err)
	}
	res.Raw, res.Unique, res.Sources = report.Raw, report.Unique, report.Sources

	kept := make([]source.Record, 0, len(report.Records))
	for _, r := range report.Records {
		if ok, hit := content.Screen(r, s.opts.BannedKeywords); !ok {
			log.Warn().Str("record_id", r.ID).Str("keyword", hit).Msg("record rejected by content filter")
			res.Rejected++
			continue
		}
		kept = append(kept, r)
	}

	if len(kept) > 0 {
		if err := s.deps.Store.UpsertRecords(ctx, kept); err != nil {
			// Unpersisted records must be collected again next cycle.
			fps := make([]string, len(kept))
			for i, r := range kept {
				fps[i] = r.Fingerprint
			}
			s.deps.Aggregator.Deduplicator().Forget(fps)
			span.SetStatus(codes.Error, err.Error())
			s.finishCycle(nil, err)
			return nil, fmt.Errorf("persist records: %w", err)
		}
	}

	scheduledAt := s.opts.Quiet.NextPostTime(now, s.opts.PostingInterval)
	for _, r := range kept {
		c, err := s.deps.Generator.Generate(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				s.finishCycle(nil, ctx.Err())
				return nil, ctx.Err()
			}
			log.Error().Err(err).Str("record_id", r.ID).Msg("content generation failed")
			continue
		}
		res.Generated++

		if err := s.deps.Store.SaveContent(ctx, c); err != nil {
			log.Error().Err(err).Str("record_id", r.ID).Msg("failed to save content")
			continue
		}
		id, err := s.deps.Store.Enqueue(ctx, c.ID, scheduledAt.UTC())
		if err != nil {
			log.Error().Err(err).Str("content_id", c.ID).Msg("failed to enqueue content")
			continue
		}
		res.Enqueued++
		log.Info().Int64("queue_id", id).Str("record_id", r.ID).Time("scheduled_at", scheduledAt).Msg("trend queued")
	}

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("raw", res.Raw),
		attribute.Int("unique", res.Unique),
		attribute.Int("enqueued", res.Enqueued),
	)

	bySource := make(map[string]int, len(res.Sources))
	for _, st := range res.Sources {
		bySource[string(st.Source)] = st.Fetched
	}
	s.emit(ctx, events.SubjectTrendsCollected, events.TrendsCollected{
		Raw:       res.Raw,
		Unique:    res.Unique,
		Screened:  res.Rejected,
		Enqueued:  res.Enqueued,
		BySource:  bySource,
		Collected: now.UTC(),
	})

	s.finishCycle(res, nil)
	return res, nil
}

// ProcessQueue publishes due queue entries, at most PostsPerHour per call
// and never beyond MaxPostsPerDay. Nothing is published during quiet hours.
// A dry run logs what would be posted and leaves the queue untouched.
func (s *Scheduler) ProcessQueue(ctx context.Context, dryRun bool) (*QueueResult, error) {
	ctx, span := tracer.Start(ctx, "scheduler.process_queue")
	defer span.End()

	log := s.deps.Logger
	now := s.now()
	res := &QueueResult{DryRun: dryRun}

	if !dryRun && s.opts.Quiet.Contains(now) {
		log.Debug().Int("hour", now.Hour()).Msg("holding post queue during quiet hours")
		res.Skipped = true
		s.finishQueue(res)
		return res, nil
	}

	limit := s.opts.PostsPerHour
	if s.opts.MaxPostsPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		posted, err := s.deps.Store.CountPostedSince(ctx, dayStart.UTC())
		if err != nil {
			return nil, fmt.Errorf("count posts today: %w", err)
		}
		remaining := s.opts.MaxPostsPerDay - posted
		if remaining <= 0 {
			s.finishQueue(res)
			return res, publish.ErrDailyLimit
		}
		limit = min(limit, remaining)
	}

	due, err := s.deps.Store.DueEntries(ctx, now.UTC(), limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load due entries: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		s.finishQueue(res)
		return res, nil
	}
	log.Info().Int("count", len(due)).Bool("dry_run", dryRun).Msg("processing post queue")

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.postEntry(ctx, entry, dryRun) {
			res.Posted++
		} else {
			res.Failed++
		}
	}

	span.SetAttributes(attribute.Int("posted", res.Posted), attribute.Int("failed", res.Failed))
	s.finishQueue(res)
	return res, nil
}

func (s *Scheduler) postEntry(ctx context.Context, entry store.QueueEntry, dryRun bool) bool {
	log := s.deps.Logger.With().Int64("queue_id", entry.ID).Str("content_id", entry.ContentID).Logger()
	pubName := s.deps.Publisher.Name()

	c, err := s.deps.Store.GetContent(ctx, entry.ContentID)
	if err != nil {
		log.Error().Err(err).Msg("content not found for queue entry")
		if !dryRun {
			s.fail(ctx, entry, pubName, err)
		}
		return false
	}

	if dryRun {
		log.Info().Str("text", publish.Compose(c)).Msg("dry run: would publish")
		return true
	}

	result, err := s.deps.Publisher.Publish(ctx, c)
	if err != nil {
		log.Error().Err(err).Str("publisher", pubName).Msg("publish failed")
		s.fail(ctx, entry, pubName, err)
		return false
	}

	postedAt := s.now().UTC()
	if err := s.deps.Store.MarkPosted(ctx, entry.ID, result.PostID, postedAt); err != nil {
		log.Error().Err(err).Msg("failed to mark entry posted")
	}

	raw, _ := json.Marshal(result)
	if err := s.deps.Store.AddHistory(ctx, &store.HistoryEntry{
		QueueID:      entry.ID,
		PostID:       result.PostID,
		Publisher:    pubName,
		PostedAt:     postedAt,
		ResponseData: string(raw),
	}); err != nil {
		log.Error().Err(err).Msg("failed to record post history")
	}

	log.Info().Str("post_id", result.PostID).Str("publisher", pubName).Msg("queue entry posted")
	s.emit(ctx, events.SubjectPostPublished, events.PostPublished{
		QueueID:   entry.ID,
		ContentID: entry.ContentID,
		PostID:    result.PostID,
		Publisher: pubName,
		PostedAt:  postedAt,
	})
	return true
}

func (s *Scheduler) fail(ctx context.Context, entry store.QueueEntry, pubName string, cause error) {
	if err := s.deps.Store.MarkFailed(ctx, entry.ID, cause.Error()); err != nil {
		s.deps.Logger.Error().Err(err).Int64("queue_id", entry.ID).Msg("failed to mark entry failed")
	}
	s.emit(ctx, events.SubjectPostFailed, events.PostFailed{
		QueueID:   entry.ID,
		ContentID: entry.ContentID,
		Publisher: pubName,
		Error:     cause.Error(),
		FailedAt:  s.now().UTC(),
	})
}

func (s *Scheduler) emit(ctx context.Context, subject string, v any) {
	if err := s.deps.Bus.Publish(ctx, subject, v); err != nil {
		s.deps.Logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Scheduler) setCycling(v bool) {
	s.mu.Lock()
	s.cycling = v
	s.mu.Unlock()
}

func (s *Scheduler) finishCycle(res *CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
		return
	}
	s.lastCycle = res
	s.lastErr = ""
}

func (s *Scheduler) finishQueue(res *QueueResult) {
	s.mu.Lock()
	s.lastQueue = res
	s.mu.Unlock()
}
