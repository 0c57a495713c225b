package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/trendx/internal/store"
	"github.com/elonfeng/trendx/pkg/content"
	"github.com/elonfeng/trendx/pkg/publish"
	"github.com/elonfeng/trendx/pkg/source"
	"github.com/elonfeng/trendx/pkg/trend"
	"github.com/rs/zerolog"
)

var noon = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	records []source.Record
}

func (s stubSource) Name() source.Kind       { return source.KindRSS }
func (s stubSource) AuthorityScore() float64 { return 0.8 }

func (s stubSource) Fetch(ctx context.Context, limit int) ([]source.Record, error) {
	return s.records, nil
}

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(ctx context.Context, subject string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) count(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	sched *Scheduler
	store *store.SQLStore
	pub   *publish.Mock
	bus   *recordingBus
	clock *clock
}

func testRecords() []source.Record {
	titles := []string{
		"Central bank holds interest rates steady",
		"New metro line opens in Istanbul",
		"Crypto scam drains thousands of wallets",
	}
	out := make([]source.Record, len(titles))
	for i, title := range titles {
		ext := string(rune('a' + i))
		out[i] = source.Record{
			ID:         source.RecordID(source.KindRSS, ext),
			Source:     source.KindRSS,
			ExternalID: ext,
			Title:      title,
			URL:        "https://news.example/" + ext,
			CreatedAt:  noon.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

func newFixture(t *testing.T, start time.Time, opts Options) *fixture {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "trendx.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clk := &clock{now: start}
	logger := zerolog.Nop()
	agg := trend.NewAggregator(
		source.NewRegistry(stubSource{records: testRecords()}),
		trend.Options{FetchTimeout: time.Second, Dedup: trend.DedupConfig{Window: opts.DedupWindow}, Clock: clk.Now},
		logger,
	)
	pub := publish.NewMock(logger)
	bus := &recordingBus{}

	opts.Clock = clk.Now
	if opts.Quiet == (QuietHours{}) {
		opts.Quiet = QuietHours{Start: 23, End: 7}
	}
	if opts.BannedKeywords == nil {
		opts.BannedKeywords = []string{"spam", "scam", "fake"}
	}

	sched := New(Deps{
		Aggregator: agg,
		Store:      st,
		Generator:  content.NewTemplate(logger),
		Publisher:  pub,
		Bus:        bus,
		Logger:     logger,
	}, opts)

	return &fixture{sched: sched, store: st, pub: pub, bus: bus, clock: clk}
}

func TestQuietHoursContains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		quiet QuietHours
		hour  int
		want  bool
	}{
		{"overnight late", QuietHours{23, 7}, 23, true},
		{"overnight early", QuietHours{23, 7}, 2, true},
		{"overnight end exclusive", QuietHours{23, 7}, 7, false},
		{"overnight daytime", QuietHours{23, 7}, 12, false},
		{"same day start", QuietHours{1, 5}, 1, true},
		{"same day end exclusive", QuietHours{1, 5}, 5, false},
		{"same day outside", QuietHours{1, 5}, 22, false},
		{"empty window", QuietHours{4, 4}, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2025, 5, 1, tt.hour, 30, 0, 0, time.UTC)
			if got := tt.quiet.Contains(at); got != tt.want {
				t.Fatalf("Contains(%02d:30) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestNextPostTime(t *testing.T) {
	t.Parallel()

	q := QuietHours{Start: 23, End: 7}
	loc := time.FixedZone("TRT", 3*60*60)

	late := time.Date(2025, 5, 1, 23, 30, 0, 0, loc)
	if got, want := q.NextPostTime(late, time.Hour), time.Date(2025, 5, 2, 7, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("late night: got %v, want %v", got, want)
	}

	early := time.Date(2025, 5, 1, 3, 0, 0, 0, loc)
	if got, want := q.NextPostTime(early, time.Hour), time.Date(2025, 5, 1, 7, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("early morning: got %v, want %v", got, want)
	}

	day := time.Date(2025, 5, 1, 12, 0, 0, 0, loc)
	if got, want := q.NextPostTime(day, time.Hour), day.Add(time.Hour); !got.Equal(want) {
		t.Errorf("daytime: got %v, want %v", got, want)
	}

	evening := time.Date(2025, 5, 1, 22, 30, 0, 0, loc)
	if got, want := q.NextPostTime(evening, time.Hour), time.Date(2025, 5, 2, 7, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("interval ending in quiet hours: got %v, want %v", got, want)
	}

	dawn := time.Date(2025, 5, 1, 6, 30, 0, 0, loc)
	if got, want := q.NextPostTime(dawn, time.Hour), dawn.Add(time.Hour); !got.Equal(want) {
		t.Errorf("interval ending after quiet hours: got %v, want %v", got, want)
	}
}

func TestCollectCycleScreensAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	ctx := context.Background()

	res, err := f.sched.CollectCycle(ctx)
	if err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	if res.Skipped || res.Raw != 3 || res.Unique != 3 || res.Rejected != 1 || res.Enqueued != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	queue, err := f.store.ListQueue(ctx, store.QueueOpts{Status: store.StatusPending})
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("expected 2 queued posts, got %d", len(queue))
	}
	for _, e := range queue {
		if !e.ScheduledAt.Equal(noon.Add(time.Hour)) {
			t.Errorf("entry %d scheduled at %v, want %v", e.ID, e.ScheduledAt, noon.Add(time.Hour))
		}
	}

	records, err := f.store.ListRecords(ctx, store.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected rejected record to be skipped, got %d records", len(records))
	}
	if f.bus.count("trends.collected") != 1 {
		t.Fatalf("expected one trends.collected event, got %v", f.bus.subjects)
	}

	again, err := f.sched.CollectCycle(ctx)
	if err != nil {
		t.Fatalf("second CollectCycle: %v", err)
	}
	if again.Unique != 0 || again.Enqueued != 0 {
		t.Fatalf("second cycle should find nothing new, got %+v", again)
	}
}

func TestCollectCycleSkipsQuietHours(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2025, 5, 1, 2, 0, 0, 0, time.UTC), Options{})
	res, err := f.sched.CollectCycle(context.Background())
	if err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	if !res.Skipped {
		t.Fatal("expected cycle to be skipped")
	}
	stats, _ := f.store.QueueStats(context.Background())
	if stats.Pending != 0 {
		t.Fatalf("expected empty queue, got %+v", stats)
	}
}

type failingUpsertStore struct {
	*store.SQLStore
	fails int
}

func (s *failingUpsertStore) UpsertRecords(ctx context.Context, records []source.Record) error {
	if s.fails > 0 {
		s.fails--
		return errors.New("disk full")
	}
	return s.SQLStore.UpsertRecords(ctx, records)
}

func TestCollectCycleRetriesUnpersistedRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	f.sched.deps.Store = &failingUpsertStore{SQLStore: f.store, fails: 1}
	ctx := context.Background()

	if _, err := f.sched.CollectCycle(ctx); err == nil {
		t.Fatal("expected persist error")
	}

	res, err := f.sched.CollectCycle(ctx)
	if err != nil {
		t.Fatalf("second CollectCycle: %v", err)
	}
	if res.Unique != 2 || res.Enqueued != 2 {
		t.Fatalf("expected unpersisted records to be collected again, got %+v", res)
	}
	if n := f.sched.deps.Aggregator.Deduplicator().Len(); n != 3 {
		t.Fatalf("expected 3 remembered fingerprints, got %d", n)
	}
}

func TestCollectCycleRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	f.sched.cycle.Lock()
	defer f.sched.cycle.Unlock()

	if _, err := f.sched.CollectCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}
}

func TestProcessQueuePublishesDueEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}

	res, err := f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue before due: %v", err)
	}
	if res.Due != 0 {
		t.Fatalf("nothing should be due yet, got %+v", res)
	}

	f.clock.Advance(61 * time.Minute)
	res, err = f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Due != 2 || res.Posted != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.pub.Posts()) != 2 {
		t.Fatalf("expected 2 mock posts, got %d", len(f.pub.Posts()))
	}

	stats, err := f.store.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Posted != 2 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if n, _ := f.store.CountPostedSince(ctx, noon); n != 2 {
		t.Fatalf("expected 2 history entries, got %d", n)
	}
	if f.bus.count("posts.published") != 2 {
		t.Fatalf("expected 2 posts.published events, got %v", f.bus.subjects)
	}
}

func TestProcessQueueHoldsDuringQuietHours(t *testing.T) {
	t.Parallel()

	evening := time.Date(2025, 5, 1, 22, 30, 0, 0, time.UTC)
	f := newFixture(t, evening, Options{PostingInterval: time.Hour})
	ctx := context.Background()

	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	morning := time.Date(2025, 5, 2, 7, 0, 0, 0, time.UTC)
	queue, err := f.store.ListQueue(ctx, store.QueueOpts{Status: store.StatusPending})
	if err != nil || len(queue) != 2 {
		t.Fatalf("ListQueue: %v %+v", err, queue)
	}
	for _, e := range queue {
		if !e.ScheduledAt.Equal(morning) {
			t.Fatalf("entry %d scheduled at %v, want %v", e.ID, e.ScheduledAt, morning)
		}
	}

	// An entry that came due before quiet hours began is held as well.
	if _, err := f.store.Enqueue(ctx, queue[0].ContentID, evening); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.clock.Advance(65 * time.Minute)
	res, err := f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if !res.Skipped || res.Posted != 0 || len(f.pub.Posts()) != 0 {
		t.Fatalf("nothing may be posted during quiet hours, got %+v", res)
	}

	f.clock.Advance(7*time.Hour + 30*time.Minute)
	res, err = f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue after quiet hours: %v", err)
	}
	if res.Skipped || res.Posted != 3 {
		t.Fatalf("expected held entries to go out after quiet hours, got %+v", res)
	}
}

func TestProcessQueueDailyLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{MaxPostsPerDay: 1})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	f.clock.Advance(61 * time.Minute)

	res, err := f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Posted != 1 {
		t.Fatalf("expected 1 post within the daily budget, got %+v", res)
	}
	if _, err := f.sched.ProcessQueue(ctx, false); !errors.Is(err, publish.ErrDailyLimit) {
		t.Fatalf("expected ErrDailyLimit, got %v", err)
	}
}

func TestProcessQueueMarksFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	f.clock.Advance(61 * time.Minute)
	f.pub.FailWith(errors.New("rate limited"))

	res, err := f.sched.ProcessQueue(ctx, false)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if res.Failed != 2 {
		t.Fatalf("expected 2 failures, got %+v", res)
	}
	failed, _ := f.store.ListQueue(ctx, store.QueueOpts{Status: store.StatusFailed})
	if len(failed) != 2 || failed[0].ErrorMessage != "rate limited" || failed[0].Attempts != 1 {
		t.Fatalf("unexpected failed entries %+v", failed)
	}
	if f.bus.count("posts.failed") != 2 {
		t.Fatalf("expected 2 posts.failed events, got %v", f.bus.subjects)
	}
}

func TestProcessQueueDryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}
	f.clock.Advance(61 * time.Minute)

	res, err := f.sched.ProcessQueue(ctx, true)
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if !res.DryRun || res.Posted != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.pub.Posts()) != 0 {
		t.Fatal("dry run must not publish")
	}
	stats, _ := f.store.QueueStats(ctx)
	if stats.Pending != 2 {
		t.Fatalf("dry run must leave the queue pending, got %+v", stats)
	}
}

func TestSeedRestoresFingerprints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{DedupWindow: 72 * time.Hour})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}

	dedup := f.sched.deps.Aggregator.Deduplicator()
	dedup.Clear()
	if err := f.sched.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if dedup.Len() != 2 {
		t.Fatalf("expected 2 seeded fingerprints, got %d", dedup.Len())
	}

	state := f.sched.State()
	if state.LastCycle == nil || state.LastCycle.Enqueued != 2 || state.QuietNow {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestSeedKeepsRecordAge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, noon, Options{DedupWindow: 72 * time.Hour})
	ctx := context.Background()
	if _, err := f.sched.CollectCycle(ctx); err != nil {
		t.Fatalf("CollectCycle: %v", err)
	}

	// Restart shortly before the newest record leaves the window.
	f.clock.Advance(71*time.Hour + 30*time.Minute)
	dedup := f.sched.deps.Aggregator.Deduplicator()
	dedup.Clear()
	if err := f.sched.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if dedup.Len() != 1 {
		t.Fatalf("expected 1 seeded fingerprint, got %d", dedup.Len())
	}

	f.clock.Advance(time.Hour)
	res, err := f.sched.CollectCycle(ctx)
	if err != nil {
		t.Fatalf("CollectCycle after restart: %v", err)
	}
	if res.Unique != 3 {
		t.Fatalf("expected the seeded fingerprint to expire with its record, got %+v", res)
	}
}
