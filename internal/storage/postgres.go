package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linqyard/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the Storage interface using PostgreSQL through a pgx pool.
// Bucket increments are a single upsert statement, so concurrent instances
// share counters without any in-process locking.
type PostgresStorage struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies the schema.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &PostgresStorage{pool: pool, retry: config.Retry.normalized()}, nil
}

// IncrementBucket upserts the bucket and returns the count after the increment.
func (ps *PostgresStorage) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	var count int64
	err := ps.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_buckets (bucket_key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (bucket_key, window_start)
		DO UPDATE SET count = rate_limit_buckets.count + 1
		RETURNING count`,
		key, timeToPgTimestamptz(windowStart),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment bucket: %w", err)
	}
	return count, nil
}

// DeleteBucketsBefore removes one batch of expired buckets.
func (ps *PostgresStorage) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `
		DELETE FROM rate_limit_buckets
		WHERE ctid IN (
			SELECT ctid FROM rate_limit_buckets WHERE window_start < $1 LIMIT $2
		)`,
		timeToPgTimestamptz(cutoff), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListGroups returns the owner's groups in display order.
func (ps *PostgresStorage) ListGroups(ctx context.Context, userID string) ([]*models.LinkGroup, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, user_id, name, sequence, is_active, created_at, updated_at
		FROM link_groups WHERE user_id = $1
		ORDER BY sequence, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups, err := pgx.CollectRows(rows, scanPgGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if groups == nil {
		groups = []*models.LinkGroup{}
	}
	return groups, nil
}

// GetGroup retrieves a group by its ID.
func (ps *PostgresStorage) GetGroup(ctx context.Context, id string) (*models.LinkGroup, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, user_id, name, sequence, is_active, created_at, updated_at
		FROM link_groups WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	g, err := pgx.CollectOneRow(rows, scanPgGroup)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// CreateGroup stores a new group.
func (ps *PostgresStorage) CreateGroup(ctx context.Context, group *models.LinkGroup) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO link_groups (id, user_id, name, sequence, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		group.ID, group.UserID, group.Name, group.Sequence, group.IsActive,
		timeToPgTimestamptz(group.CreatedAt), timeToPgTimestamptz(group.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// DeleteGroup ungroups the group's links and deletes the group in one transaction,
// replaying the transaction on serialization failures and lost connections.
func (ps *PostgresStorage) DeleteGroup(ctx context.Context, id string) error {
	return withRetry(ctx, ps.retry, "delete_group", func(ctx context.Context) error {
		tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		now := timeToPgTimestamptz(time.Now())
		if _, err := tx.Exec(ctx, `UPDATE links SET group_id = NULL, updated_at = $1 WHERE group_id = $2`, now, id); err != nil {
			return fmt.Errorf("failed to ungroup links: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM link_groups WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("group %s: %w", id, ErrNotFound)
		}

		return tx.Commit(ctx)
	})
}

func (ps *PostgresStorage) MaxGroupSequence(ctx context.Context, userID string) (int, error) {
	var max int
	err := ps.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM link_groups WHERE user_id = $1`, userID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read group sequence: %w", err)
	}
	return max, nil
}

func (ps *PostgresStorage) ResequenceGroups(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	return ps.resequence(ctx, "link_groups", userID, updates)
}

// ListLinks returns the owner's links, ungrouped first.
func (ps *PostgresStorage) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at
		FROM links WHERE user_id = $1
		ORDER BY group_id NULLS FIRST, sequence, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	links, err := pgx.CollectRows(rows, scanPgLink)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	if links == nil {
		links = []*models.Link{}
	}
	return links, nil
}

// GetLink retrieves a link by its ID.
func (ps *PostgresStorage) GetLink(ctx context.Context, id string) (*models.Link, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at
		FROM links WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	l, err := pgx.CollectOneRow(rows, scanPgLink)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("link %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return l, nil
}

func (ps *PostgresStorage) CreateLink(ctx context.Context, link *models.Link) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO links (id, user_id, group_id, name, url, sequence, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		link.ID, link.UserID, stringPtrToPgText(link.GroupID), link.Name, link.URL, link.Sequence, link.IsActive,
		timeToPgTimestamptz(link.CreatedAt), timeToPgTimestamptz(link.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) UpdateLink(ctx context.Context, link *models.Link) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE links SET group_id = $1, name = $2, url = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		stringPtrToPgText(link.GroupID), link.Name, link.URL, link.IsActive, timeToPgTimestamptz(link.UpdatedAt), link.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link %s: %w", link.ID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) DeleteLink(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) MaxLinkSequence(ctx context.Context, userID string, groupID *string) (int, error) {
	var max int
	err := ps.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), -1) FROM links
		WHERE user_id = $1 AND group_id IS NOT DISTINCT FROM $2`,
		userID, stringPtrToPgText(groupID),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read link sequence: %w", err)
	}
	return max, nil
}

func (ps *PostgresStorage) ResequenceLinks(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	return ps.resequence(ctx, "links", userID, updates)
}

// resequence sends every overwrite as one batch inside a transaction. The whole
// transaction is replayed on transient failures, then the owned rows are re-read.
func (ps *PostgresStorage) resequence(ctx context.Context, table, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("resequence %s: %w", table, ErrInvalidInput)
	}

	err := withRetry(ctx, ps.retry, "resequence_"+table, func(ctx context.Context) error {
		tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		now := timeToPgTimestamptz(time.Now())
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE `+table+` SET sequence = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`,
				u.Sequence, now, u.ID, userID)
		}

		results := tx.SendBatch(ctx, batch)
		for _, u := range updates {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to update sequence of %s: %w", u.ID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}

	rows, err := ps.pool.Query(ctx, `
		SELECT id, sequence, name FROM `+table+`
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY sequence, created_at, id`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s: %w", table, err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SequencedItem, error) {
		var item models.SequencedItem
		err := row.Scan(&item.ID, &item.Sequence, &item.Name)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s: %w", table, err)
	}
	if items == nil {
		items = []models.SequencedItem{}
	}
	return items, nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the storage connection.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

// Conversion helpers

func scanPgGroup(row pgx.CollectableRow) (*models.LinkGroup, error) {
	var g models.LinkGroup
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.Sequence, &g.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.CreatedAt = pgTimestamptzToTime(createdAt)
	g.UpdatedAt = pgTimestamptzToTime(updatedAt)
	return &g, nil
}

func scanPgLink(row pgx.CollectableRow) (*models.Link, error) {
	var l models.Link
	var groupID pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&l.ID, &l.UserID, &groupID, &l.Name, &l.URL, &l.Sequence, &l.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if groupID.Valid {
		l.GroupID = &groupID.String
	}
	l.CreatedAt = pgTimestamptzToTime(createdAt)
	l.UpdatedAt = pgTimestamptzToTime(updatedAt)
	return &l, nil
}

// pgtype helpers

func stringPtrToPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func pgTimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
