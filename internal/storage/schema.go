package storage

// Schema statements are applied on open. Migrations beyond CREATE IF NOT EXISTS
// are handled outside the service.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS link_groups (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		sequence   INTEGER NOT NULL DEFAULT 0,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_link_groups_user ON link_groups (user_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS links (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		group_id   TEXT NULL REFERENCES link_groups (id) ON DELETE SET NULL,
		name       TEXT NOT NULL,
		url        TEXT NOT NULL,
		sequence   INTEGER NOT NULL DEFAULT 0,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_user_group ON links (user_id, group_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		bucket_key   VARCHAR(256) NOT NULL,
		window_start TIMESTAMPTZ NOT NULL,
		count        BIGINT NOT NULL,
		PRIMARY KEY (bucket_key, window_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_buckets_window ON rate_limit_buckets (window_start)`,
}

// SQLite stores timestamps as fixed-width UTC text so that lexical order is
// chronological, and bucket windows as Unix milliseconds.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS link_groups (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		sequence   INTEGER NOT NULL DEFAULT 0,
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_link_groups_user ON link_groups (user_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS links (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		group_id   TEXT NULL,
		name       TEXT NOT NULL,
		url        TEXT NOT NULL,
		sequence   INTEGER NOT NULL DEFAULT 0,
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_user_group ON links (user_id, group_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		bucket_key   TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		count        INTEGER NOT NULL,
		PRIMARY KEY (bucket_key, window_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_buckets_window ON rate_limit_buckets (window_start)`,
}
