package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trend_records (
    id            TEXT PRIMARY KEY,
    source        TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    score         REAL NOT NULL DEFAULT 0,
    social_volume INTEGER NOT NULL DEFAULT 0,
    is_local      BOOLEAN NOT NULL DEFAULT 0,
    is_global     BOOLEAN NOT NULL DEFAULT 0,
    fingerprint   TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    UNIQUE(source, external_id)
);

CREATE INDEX IF NOT EXISTS idx_records_source ON trend_records(source);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON trend_records(created_at);
CREATE INDEX IF NOT EXISTS idx_records_score ON trend_records(score);

CREATE TABLE IF NOT EXISTS contents (
    id              TEXT PRIMARY KEY,
    record_id       TEXT NOT NULL,
    local_text      TEXT NOT NULL,
    english_text    TEXT NOT NULL DEFAULT '',
    hashtags        TEXT NOT NULL DEFAULT '[]',
    media_type      TEXT NOT NULL DEFAULT '',
    media_url       TEXT NOT NULL DEFAULT '',
    quote_tweet_id  TEXT NOT NULL DEFAULT '',
    quote_tweet_url TEXT NOT NULL DEFAULT '',
    generator       TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contents_record ON contents(record_id);

CREATE TABLE IF NOT EXISTS post_queue (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    content_id    TEXT NOT NULL REFERENCES contents(id),
    scheduled_at  DATETIME NOT NULL,
    posted_at     DATETIME,
    post_id       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_status_scheduled ON post_queue(status, scheduled_at);

CREATE TABLE IF NOT EXISTS post_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    queue_id      INTEGER NOT NULL REFERENCES post_queue(id),
    post_id       TEXT NOT NULL DEFAULT '',
    publisher     TEXT NOT NULL DEFAULT '',
    posted_at     DATETIME NOT NULL,
    response_data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_history_posted ON post_history(posted_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trend_records (
    id            TEXT PRIMARY KEY,
    source        TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    score         DOUBLE PRECISION NOT NULL DEFAULT 0,
    social_volume INTEGER NOT NULL DEFAULT 0,
    is_local      BOOLEAN NOT NULL DEFAULT FALSE,
    is_global     BOOLEAN NOT NULL DEFAULT FALSE,
    fingerprint   TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    UNIQUE(source, external_id)
);

CREATE INDEX IF NOT EXISTS idx_records_source ON trend_records(source);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON trend_records(created_at);
CREATE INDEX IF NOT EXISTS idx_records_score ON trend_records(score);

CREATE TABLE IF NOT EXISTS contents (
    id              TEXT PRIMARY KEY,
    record_id       TEXT NOT NULL,
    local_text      TEXT NOT NULL,
    english_text    TEXT NOT NULL DEFAULT '',
    hashtags        TEXT NOT NULL DEFAULT '[]',
    media_type      TEXT NOT NULL DEFAULT '',
    media_url       TEXT NOT NULL DEFAULT '',
    quote_tweet_id  TEXT NOT NULL DEFAULT '',
    quote_tweet_url TEXT NOT NULL DEFAULT '',
    generator       TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contents_record ON contents(record_id);

CREATE TABLE IF NOT EXISTS post_queue (
    id            BIGSERIAL PRIMARY KEY,
    content_id    TEXT NOT NULL REFERENCES contents(id),
    scheduled_at  TIMESTAMPTZ NOT NULL,
    posted_at     TIMESTAMPTZ,
    post_id       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_status_scheduled ON post_queue(status, scheduled_at);

CREATE TABLE IF NOT EXISTS post_history (
    id            BIGSERIAL PRIMARY KEY,
    queue_id      BIGINT NOT NULL REFERENCES post_queue(id),
    post_id       TEXT NOT NULL DEFAULT '',
    publisher     TEXT NOT NULL DEFAULT '',
    posted_at     TIMESTAMPTZ NOT NULL,
    response_data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_history_posted ON post_history(posted_at);
`

func schemaFor(driver string) string {
	if driver == DriverPostgres {
		return postgresSchema
	}
	return sqliteSchema
}
