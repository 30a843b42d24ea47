package storage

import (
	"context"
	"time"

	"linqyard/internal/models"
)

// BucketStore persists fixed-window rate limit counters. Implementations must
// make IncrementBucket a single atomic operation so that concurrent callers
// sharing a bucket each observe a distinct count.
type BucketStore interface {
	// IncrementBucket adds one to the (key, windowStart) bucket, creating it at
	// one when absent, and returns the count after the increment. window is a
	// hint for backends that expire buckets themselves.
	IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)

	// DeleteBucketsBefore removes at most limit buckets whose window started
	// before cutoff and returns how many were removed.
	DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// LinkStore persists link groups and links. Lookups by id do not filter on
// owner; ownership is enforced by the caller. Resequence operations filter on
// owner inside the store so a foreign id is skipped rather than rejected.
type LinkStore interface {
	// ListGroups returns the owner's groups ordered by sequence, created_at, id
	ListGroups(ctx context.Context, userID string) ([]*models.LinkGroup, error)

	// GetGroup retrieves a group by id or returns ErrNotFound
	GetGroup(ctx context.Context, id string) (*models.LinkGroup, error)

	// CreateGroup stores a new group
	CreateGroup(ctx context.Context, group *models.LinkGroup) error

	// DeleteGroup ungroups every link of the group and deletes the group in one transaction
	DeleteGroup(ctx context.Context, id string) error

	// MaxGroupSequence returns the highest group sequence of the owner, or -1 when none exist
	MaxGroupSequence(ctx context.Context, userID string) (int, error)

	// ResequenceGroups overwrites the sequence of each named group the owner
	// holds in one transaction and returns the owned rows re-read in order.
	ResequenceGroups(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error)

	// ListLinks returns the owner's links, ungrouped first, each group ordered by sequence
	ListLinks(ctx context.Context, userID string) ([]*models.Link, error)

	// GetLink retrieves a link by id or returns ErrNotFound
	GetLink(ctx context.Context, id string) (*models.Link, error)

	// CreateLink stores a new link
	CreateLink(ctx context.Context, link *models.Link) error

	// UpdateLink overwrites the mutable fields of an existing link
	UpdateLink(ctx context.Context, link *models.Link) error

	// DeleteLink removes a link by id
	DeleteLink(ctx context.Context, id string) error

	// MaxLinkSequence returns the highest sequence among the owner's links in
	// groupID (nil for ungrouped), or -1 when none exist
	MaxLinkSequence(ctx context.Context, userID string, groupID *string) (int, error)

	// ResequenceLinks overwrites the sequence of each named link the owner
	// holds in one transaction and returns the owned rows re-read in order.
	ResequenceLinks(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error)
}

// Storage is the primary persistence backend: links, groups, and the default
// rate limit bucket table.
type Storage interface {
	BucketStore
	LinkStore

	// Ping verifies the storage backend is reachable and operational
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool sizing for database backends; zero values keep the driver defaults
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`

	// Retry controls replay of transactions that failed transiently
	Retry RetryPolicy `json:"retry" yaml:"retry"`
}

var (
	_ Storage     = (*MemoryStorage)(nil)
	_ Storage     = (*SQLiteStorage)(nil)
	_ Storage     = (*PostgresStorage)(nil)
	_ BucketStore = (*RedisBucketStore)(nil)
)
