package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"linqyard/internal/models"

	_ "modernc.org/sqlite"
)

// sqlitePragmas apply to every pooled connection of a file database: writers
// wait on a held lock instead of failing with SQLITE_BUSY, and WAL lets readers
// run beside the writer.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteTimeLayout is fixed width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage implements the Storage interface on a single SQLite database.
// Bucket increments use INSERT ... ON CONFLICT DO UPDATE ... RETURNING so a
// single statement both creates and counts.
type SQLiteStorage struct {
	db    *sql.DB
	retry RetryPolicy
}

// NewSQLiteStorage opens the database, applies the schema, and returns the storage.
// In-memory databases are pinned to one connection so every query sees the same data.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	inMemory := isInMemoryDSN(config.ConnectionString)
	dsn := config.ConnectionString
	if !inMemory {
		dsn = withPragmas(dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db, retry: config.Retry.normalized()}, nil
}

func isInMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withPragmas appends the connection pragmas the DSN does not already set.
// The driver runs _pragma parameters on every new connection.
func withPragmas(dsn string) string {
	var params []string
	for _, p := range sqlitePragmas {
		name := p[:strings.Index(p, "(")]
		if strings.Contains(dsn, "_pragma="+name+"(") {
			continue
		}
		params = append(params, "_pragma="+p)
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// IncrementBucket upserts the bucket and returns the count after the increment.
// A busy database is retried; the failed statement was not applied.
func (s *SQLiteStorage) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	var count int64
	err := withRetry(ctx, s.retry, "increment_bucket", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO rate_limit_buckets (bucket_key, window_start, count)
			VALUES (?, ?, 1)
			ON CONFLICT (bucket_key, window_start)
			DO UPDATE SET count = rate_limit_buckets.count + 1
			RETURNING count`,
			key, windowStart.UnixMilli(),
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment bucket: %w", err)
	}
	return count, nil
}

// DeleteBucketsBefore removes one batch of expired buckets.
func (s *SQLiteStorage) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limit_buckets
		WHERE rowid IN (
			SELECT rowid FROM rate_limit_buckets WHERE window_start < ? LIMIT ?
		)`,
		cutoff.UnixMilli(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete buckets: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) ListGroups(ctx context.Context, userID string) ([]*models.LinkGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, sequence, is_active, created_at, updated_at
		FROM link_groups WHERE user_id = ?
		ORDER BY sequence, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.LinkGroup, 0)
	for rows.Next() {
		g, err := scanSQLiteGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLiteStorage) GetGroup(ctx context.Context, id string) (*models.LinkGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, sequence, is_active, created_at, updated_at
		FROM link_groups WHERE id = ?`, id)
	g, err := scanSQLiteGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return g, err
}

func (s *SQLiteStorage) CreateGroup(ctx context.Context, group *models.LinkGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_groups (id, user_id, name, sequence, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.UserID, group.Name, group.Sequence, group.IsActive,
		formatSQLiteTime(group.CreatedAt), formatSQLiteTime(group.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// DeleteGroup clears group_id on the group's links and deletes the group in one transaction.
func (s *SQLiteStorage) DeleteGroup(ctx context.Context, id string) error {
	return withRetry(ctx, s.retry, "delete_group", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		now := formatSQLiteTime(time.Now())
		if _, err := tx.ExecContext(ctx, `UPDATE links SET group_id = NULL, updated_at = ? WHERE group_id = ?`, now, id); err != nil {
			return fmt.Errorf("failed to ungroup links: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM link_groups WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("group %s: %w", id, ErrNotFound)
		}

		return tx.Commit()
	})
}

func (s *SQLiteStorage) MaxGroupSequence(ctx context.Context, userID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM link_groups WHERE user_id = ?`, userID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read group sequence: %w", err)
	}
	return max, nil
}

func (s *SQLiteStorage) ResequenceGroups(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	return s.resequence(ctx, "link_groups", userID, updates)
}

func (s *SQLiteStorage) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at
		FROM links WHERE user_id = ?
		ORDER BY COALESCE(group_id, ''), sequence, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := make([]*models.Link, 0)
	for rows.Next() {
		l, err := scanSQLiteLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStorage) GetLink(ctx context.Context, id string) (*models.Link, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at
		FROM links WHERE id = ?`, id)
	l, err := scanSQLiteLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	return l, err
}

func (s *SQLiteStorage) CreateLink(ctx context.Context, link *models.Link) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.UserID, nullString(link.GroupID), link.Name, link.URL, link.Sequence, link.IsActive,
		formatSQLiteTime(link.CreatedAt), formatSQLiteTime(link.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateLink(ctx context.Context, link *models.Link) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE links SET group_id = ?, name = ?, url = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		nullString(link.GroupID), link.Name, link.URL, link.IsActive, formatSQLiteTime(link.UpdatedAt), link.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link %s: %w", link.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) DeleteLink(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) MaxLinkSequence(ctx context.Context, userID string, groupID *string) (int, error) {
	var max int
	var err error
	if groupID == nil {
		err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM links WHERE user_id = ? AND group_id IS NULL`, userID).Scan(&max)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM links WHERE user_id = ? AND group_id = ?`, userID, *groupID).Scan(&max)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read link sequence: %w", err)
	}
	return max, nil
}

func (s *SQLiteStorage) ResequenceLinks(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	return s.resequence(ctx, "links", userID, updates)
}

// resequence overwrites sequences inside one transaction, replaying it on a
// busy database, then re-reads the owned rows that were named.
func (s *SQLiteStorage) resequence(ctx context.Context, table, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("resequence %s: %w", table, ErrInvalidInput)
	}

	err := withRetry(ctx, s.retry, "resequence_"+table, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `UPDATE `+table+` SET sequence = ?, updated_at = ? WHERE id = ? AND user_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare update: %w", err)
		}
		defer stmt.Close()

		now := formatSQLiteTime(time.Now())
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Sequence, now, u.ID, userID); err != nil {
				return fmt.Errorf("failed to update sequence of %s: %w", u.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(updates))
	args := make([]any, 0, len(updates)+1)
	args = append(args, userID)
	for i, u := range updates {
		placeholders[i] = "?"
		args = append(args, u.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, name FROM `+table+`
		WHERE user_id = ? AND id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY sequence, created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]models.SequencedItem, 0, len(updates))
	for rows.Next() {
		var item models.SequencedItem
		if err := rows.Scan(&item.ID, &item.Sequence, &item.Name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Ping verifies the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the storage connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGroup(row rowScanner) (*models.LinkGroup, error) {
	var g models.LinkGroup
	var createdAt, updatedAt string
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.Sequence, &g.IsActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	g.CreatedAt = parseSQLiteTime(createdAt)
	g.UpdatedAt = parseSQLiteTime(updatedAt)
	return &g, nil
}

func scanSQLiteLink(row rowScanner) (*models.Link, error) {
	var l models.Link
	var groupID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&l.ID, &l.UserID, &groupID, &l.Name, &l.URL, &l.Sequence, &l.IsActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	if groupID.Valid {
		l.GroupID = &groupID.String
	}
	l.CreatedAt = parseSQLiteTime(createdAt)
	l.UpdatedAt = parseSQLiteTime(updatedAt)
	return &l, nil
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
