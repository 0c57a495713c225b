package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/elonfeng/trendx/pkg/content"
	"github.com/elonfeng/trendx/pkg/source"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Queue statuses.
const (
	StatusPending = "pending"
	StatusPosted  = "posted"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// QueueEntry is a scheduled post.
type QueueEntry struct {
	ID           int64      `db:"id" json:"id"`
	ContentID    string     `db:"content_id" json:"content_id"`
	ScheduledAt  time.Time  `db:"scheduled_at" json:"scheduled_at"`
	PostedAt     *time.Time `db:"posted_at" json:"posted_at,omitempty"`
	PostID       string     `db:"post_id" json:"post_id,omitempty"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	Preview      string     `db:"preview" json:"preview,omitempty"` // local text, filled by ListQueue
}

// HistoryEntry records one delivered post.
type HistoryEntry struct {
	ID           int64     `db:"id" json:"id"`
	QueueID      int64     `db:"queue_id" json:"queue_id"`
	PostID       string    `db:"post_id" json:"post_id"`
	Publisher    string    `db:"publisher" json:"publisher"`
	PostedAt     time.Time `db:"posted_at" json:"posted_at"`
	ResponseData string    `db:"response_data" json:"response_data"`
}

// SeenFingerprint is a persisted record fingerprint and when the record
// was first collected.
type SeenFingerprint struct {
	Fingerprint string    `db:"fingerprint"`
	CreatedAt   time.Time `db:"created_at"`
}

// QueueStats counts queue entries per status.
type QueueStats struct {
	Pending int `json:"pending"`
	Posted  int `json:"posted"`
	Failed  int `json:"failed"`
}

// ListOpts controls record listing.
type ListOpts struct {
	Source   source.Kind
	Since    time.Time
	MinScore float64
	Limit    int
}

// QueueOpts controls queue listing.
type QueueOpts struct {
	Status string
	Limit  int
}

// Store is the persistence interface.
type Store interface {
	UpsertRecords(ctx context.Context, records []source.Record) error
	GetRecord(ctx context.Context, id string) (*source.Record, error)
	ListRecords(ctx context.Context, opts ListOpts) ([]source.Record, error)
	RecentFingerprints(ctx context.Context, since time.Time) ([]SeenFingerprint, error)
	CountRecordsBySource(ctx context.Context) (map[source.Kind]int, error)

	SaveContent(ctx context.Context, c *content.Content) error
	GetContent(ctx context.Context, id string) (*content.Content, error)

	Enqueue(ctx context.Context, contentID string, scheduledAt time.Time) (int64, error)
	ListQueue(ctx context.Context, opts QueueOpts) ([]QueueEntry, error)
	DueEntries(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error)
	MarkPosted(ctx context.Context, id int64, postID string, postedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error
	QueueStats(ctx context.Context) (QueueStats, error)

	AddHistory(ctx context.Context, h *HistoryEntry) error
	CountPostedSince(ctx context.Context, since time.Time) (int, error)

	Close() error
}

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	sb     sq.StatementBuilderType
}

// New opens a SQLite database file and runs migrations.
func New(path string) (*SQLStore, error) {
	return Open(DriverSQLite, path)
}

// Open connects with the given driver and runs migrations. For sqlite the
// dsn is a file path.
func Open(driver, dsn string) (*SQLStore, error) {
	var (
		db  *sqlx.DB
		err error
		sb  = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = sqlx.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// sqlite has a single writer.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sqlx.Open("pgx", dsn)
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", driver, dsn, err)
	}

	if _, err := db.Exec(schemaFor(driver)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, driver: driver, sb: sb}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") || path == ":memory:" {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) UpsertRecords(ctx context.Context, records []source.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO trend_records (id, source, external_id, title, description, url, score, social_volume, is_local, is_global, fingerprint, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			score = excluded.score,
			social_volume = excluded.social_volume,
			fingerprint = excluded.fingerprint,
			metadata = excluded.metadata
	`)
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = source.RecordID(r.Source, r.ExternalID)
		}
		metaJSON, _ := json.Marshal(r.Metadata)
		if r.Metadata == nil {
			metaJSON = []byte("{}")
		}
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.Source, r.ExternalID, r.Title, r.Description, r.URL,
			r.Score, r.SocialVolume, r.IsLocal, r.IsGlobal, r.Fingerprint,
			r.CreatedAt.UTC(), string(metaJSON))
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetRecord(ctx context.Context, id string) (*source.Record, error) {
	var r source.Record
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT * FROM trend_records WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	decodeMetadata(&r)
	return &r, nil
}

func (s *SQLStore) ListRecords(ctx context.Context, opts ListOpts) ([]source.Record, error) {
	q := s.sb.Select("*").From("trend_records")
	if opts.Source != "" {
		q = q.Where(sq.Eq{"source": opts.Source})
	}
	if !opts.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": opts.Since.UTC()})
	}
	if opts.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"score": opts.MinScore})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query, args, err := q.OrderBy("created_at DESC", "score DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records: %w", err)
	}

	var records []source.Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	for i := range records {
		decodeMetadata(&records[i])
	}
	return records, nil
}

func decodeMetadata(r *source.Record) {
	if r.MetadataJSON != "" {
		json.Unmarshal([]byte(r.MetadataJSON), &r.Metadata)
	}
}

// RecentFingerprints returns fingerprints of records created at or after
// since, oldest first.
func (s *SQLStore) RecentFingerprints(ctx context.Context, since time.Time) ([]SeenFingerprint, error) {
	query, args, err := s.sb.Select("fingerprint", "created_at").From("trend_records").
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		Where(sq.NotEq{"fingerprint": ""}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent fingerprints: %w", err)
	}

	var fps []SeenFingerprint
	if err := s.db.SelectContext(ctx, &fps, query, args...); err != nil {
		return nil, fmt.Errorf("recent fingerprints: %w", err)
	}
	return fps, nil
}

func (s *SQLStore) CountRecordsBySource(ctx context.Context) (map[source.Kind]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT source, COUNT(*) AS cnt FROM trend_records GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("count records by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[source.Kind]int)
	for rows.Next() {
		var src string
		var cnt int
		if err := rows.Scan(&src, &cnt); err != nil {
			return nil, err
		}
		counts[source.Kind(src)] = cnt
	}
	return counts, rows.Err()
}

func (s *SQLStore) SaveContent(ctx context.Context, c *content.Content) error {
	tags, _ := json.Marshal(c.Hashtags)
	if c.Hashtags == nil {
		tags = []byte("[]")
	}
	c.HashtagsJSON = string(tags)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO contents (id, record_id, local_text, english_text, hashtags, media_type, media_url, quote_tweet_id, quote_tweet_url, generator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_text = excluded.local_text,
			english_text = excluded.english_text,
			hashtags = excluded.hashtags
	`), c.ID, c.RecordID, c.LocalText, c.EnglishText, c.HashtagsJSON,
		c.MediaType, c.MediaURL, c.QuoteTweetID, c.QuoteTweetURL,
		c.Generator, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save content %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLStore) GetContent(ctx context.Context, id string) (*content.Content, error) {
	var c content.Content
	err := s.db.GetContext(ctx, &c, s.db.Rebind("SELECT * FROM contents WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	json.Unmarshal([]byte(c.HashtagsJSON), &c.Hashtags)
	return &c, nil
}

func (s *SQLStore) Enqueue(ctx context.Context, contentID string, scheduledAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO post_queue (content_id, scheduled_at, status, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), contentID, scheduledAt.UTC(), StatusPending, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue content %s: %w", contentID, err)
	}
	return id, nil
}

var queueColumns = []string{
	"q.id", "q.content_id", "q.scheduled_at", "q.posted_at", "q.post_id", "q.status",
	"q.error_message", "q.attempts", "q.created_at", "COALESCE(c.local_text, '') AS preview",
}

func (s *SQLStore) ListQueue(ctx context.Context, opts QueueOpts) ([]QueueEntry, error) {
	q := s.sb.Select(queueColumns...).
		From("post_queue q").
		LeftJoin("contents c ON c.id = q.content_id")
	if opts.Status != "" {
		q = q.Where(sq.Eq{"q.status": opts.Status})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query, args, err := q.OrderBy("q.scheduled_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list queue: %w", err)
	}

	var entries []QueueEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error) {
	q := s.sb.Select(queueColumns...).
		From("post_queue q").
		LeftJoin("contents c ON c.id = q.content_id").
		Where(sq.Eq{"q.status": StatusPending}).
		Where(sq.LtOrEq{"q.scheduled_at": now.UTC()}).
		OrderBy("q.scheduled_at ASC", "q.id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build due entries: %w", err)
	}

	var entries []QueueEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("due entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) MarkPosted(ctx context.Context, id int64, postID string, postedAt time.Time) error {
	query, args, err := s.sb.Update("post_queue").
		Set("status", StatusPosted).
		Set("post_id", postID).
		Set("posted_at", postedAt.UTC()).
		Set("error_message", "").
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark posted: %w", err)
	}
	return s.execOne(ctx, fmt.Sprintf("mark posted %d", id), query, args...)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id int64, message string) error {
	query, args, err := s.sb.Update("post_queue").
		Set("status", StatusFailed).
		Set("error_message", message).
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark failed: %w", err)
	}
	return s.execOne(ctx, fmt.Sprintf("mark failed %d", id), query, args...)
}

func (s *SQLStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) AS cnt FROM post_queue GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return stats, err
		}
		switch status {
		case StatusPending:
			stats.Pending = cnt
		case StatusPosted:
			stats.Posted = cnt
		case StatusFailed:
			stats.Failed = cnt
		}
	}
	return stats, rows.Err()
}

func (s *SQLStore) AddHistory(ctx context.Context, h *HistoryEntry) error {
	if h.PostedAt.IsZero() {
		h.PostedAt = time.Now().UTC()
	}
	if h.ResponseData == "" {
		h.ResponseData = "{}"
	}
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO post_history (queue_id, post_id, publisher, posted_at, response_data)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), h.QueueID, h.PostID, h.Publisher, h.PostedAt.UTC(), h.ResponseData).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("add history for queue %d: %w", h.QueueID, err)
	}
	return nil
}

func (s *SQLStore) CountPostedSince(ctx context.Context, since time.Time) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").From("post_queue").
		Where(sq.Eq{"status": StatusPosted}).
		Where(sq.GtOrEq{"posted_at": since.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count posted: %w", err)
	}

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count posted since %s: %w", since.Format(time.RFC3339), err)
	}
	return n, nil
}
