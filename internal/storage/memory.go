package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"linqyard/internal/models"
)

type bucketID struct {
	key         string
	windowStart int64
}

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-instance setups
// where data persistence is not required. Data is lost on restart, and rate
// limit buckets are only shared within the process.
type MemoryStorage struct {
	mu      sync.RWMutex
	groups  map[string]*models.LinkGroup
	links   map[string]*models.Link
	buckets map[bucketID]int64
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		groups:  make(map[string]*models.LinkGroup),
		links:   make(map[string]*models.Link),
		buckets: make(map[bucketID]int64),
	}, nil
}

// IncrementBucket adds one to the bucket under the write lock.
func (m *MemoryStorage) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := bucketID{key: key, windowStart: windowStart.UnixNano()}
	m.buckets[id]++
	return m.buckets[id], nil
}

// DeleteBucketsBefore removes up to limit buckets that started before cutoff.
func (m *MemoryStorage) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	cut := cutoff.UnixNano()
	for id := range m.buckets {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if id.windowStart < cut {
			delete(m.buckets, id)
			deleted++
		}
	}
	return deleted, nil
}

// BucketCount returns the current count of a bucket; zero when absent.
func (m *MemoryStorage) BucketCount(key string, windowStart time.Time) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[bucketID{key: key, windowStart: windowStart.UnixNano()}]
}

// ListGroups returns copies of the owner's groups in display order
func (m *MemoryStorage) ListGroups(ctx context.Context, userID string) ([]*models.LinkGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make([]*models.LinkGroup, 0)
	for _, g := range m.groups {
		if g.UserID == userID {
			groupCopy := *g
			groups = append(groups, &groupCopy)
		}
	}
	models.SortGroups(groups)
	return groups, nil
}

// GetGroup retrieves a group by its ID
func (m *MemoryStorage) GetGroup(ctx context.Context, id string) (*models.LinkGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, exists := m.groups[id]
	if !exists {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	groupCopy := *g
	return &groupCopy, nil
}

// CreateGroup stores a copy of the group
func (m *MemoryStorage) CreateGroup(ctx context.Context, group *models.LinkGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[group.ID]; exists {
		return fmt.Errorf("group %s already exists: %w", group.ID, ErrInvalidInput)
	}
	groupCopy := *group
	m.groups[group.ID] = &groupCopy
	return nil
}

// DeleteGroup ungroups the group's links and removes the group under one lock
func (m *MemoryStorage) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[id]; !exists {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()
	for _, l := range m.links {
		if l.GroupID != nil && *l.GroupID == id {
			l.GroupID = nil
			l.UpdatedAt = now
		}
	}
	delete(m.groups, id)
	return nil
}

// MaxGroupSequence returns the owner's highest group sequence, or -1
func (m *MemoryStorage) MaxGroupSequence(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	max := -1
	for _, g := range m.groups {
		if g.UserID == userID && g.Sequence > max {
			max = g.Sequence
		}
	}
	return max, nil
}

// ResequenceGroups applies the updates to the owner's groups and re-reads them
func (m *MemoryStorage) ResequenceGroups(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("resequence groups: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var touched []*models.LinkGroup
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		g, exists := m.groups[u.ID]
		if !exists || g.UserID != userID {
			continue
		}
		if _, dup := seen[u.ID]; !dup {
			touched = append(touched, g)
		}
		seen[u.ID] = struct{}{}
		g.Sequence = u.Sequence
		g.UpdatedAt = now
	}

	models.SortGroups(touched)
	items := make([]models.SequencedItem, 0, len(touched))
	for _, g := range touched {
		items = append(items, models.SequencedItem{ID: g.ID, Sequence: g.Sequence, Name: g.Name})
	}
	return items, nil
}

// ListLinks returns copies of the owner's links in display order
func (m *MemoryStorage) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make([]*models.Link, 0)
	for _, l := range m.links {
		if l.UserID == userID {
			links = append(links, copyLink(l))
		}
	}
	models.SortLinks(links)
	return links, nil
}

// GetLink retrieves a link by its ID
func (m *MemoryStorage) GetLink(ctx context.Context, id string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, exists := m.links[id]
	if !exists {
		return nil, fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	return copyLink(l), nil
}

// CreateLink stores a copy of the link
func (m *MemoryStorage) CreateLink(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.ID]; exists {
		return fmt.Errorf("link %s already exists: %w", link.ID, ErrInvalidInput)
	}
	m.links[link.ID] = copyLink(link)
	return nil
}

// UpdateLink replaces the mutable fields of a stored link
func (m *MemoryStorage) UpdateLink(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.links[link.ID]
	if !exists {
		return fmt.Errorf("link %s: %w", link.ID, ErrNotFound)
	}

	updated := copyLink(link)
	updated.UserID = existing.UserID
	updated.Sequence = existing.Sequence
	updated.CreatedAt = existing.CreatedAt
	m.links[link.ID] = updated
	return nil
}

// DeleteLink removes a link by its ID
func (m *MemoryStorage) DeleteLink(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[id]; !exists {
		return fmt.Errorf("link %s: %w", id, ErrNotFound)
	}
	delete(m.links, id)
	return nil
}

// MaxLinkSequence returns the highest sequence among the owner's siblings in groupID, or -1
func (m *MemoryStorage) MaxLinkSequence(ctx context.Context, userID string, groupID *string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	max := -1
	for _, l := range m.links {
		if l.UserID == userID && l.InGroup(groupID) && l.Sequence > max {
			max = l.Sequence
		}
	}
	return max, nil
}

// ResequenceLinks applies the updates to the owner's links and re-reads them
func (m *MemoryStorage) ResequenceLinks(ctx context.Context, userID string, updates []models.SequenceUpdate) ([]models.SequencedItem, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("resequence links: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var touched []*models.Link
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		l, exists := m.links[u.ID]
		if !exists || l.UserID != userID {
			continue
		}
		if _, dup := seen[u.ID]; !dup {
			touched = append(touched, l)
		}
		seen[u.ID] = struct{}{}
		l.Sequence = u.Sequence
		l.UpdatedAt = now
	}

	models.SortLinksBySequence(touched)
	items := make([]models.SequencedItem, 0, len(touched))
	for _, l := range touched {
		items = append(items, models.SequencedItem{ID: l.ID, Sequence: l.Sequence, Name: l.Name})
	}
	return items, nil
}

// Ping always succeeds for memory storage.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

func copyLink(l *models.Link) *models.Link {
	linkCopy := *l
	if l.GroupID != nil {
		groupID := *l.GroupID
		linkCopy.GroupID = &groupID
	}
	return &linkCopy
}
