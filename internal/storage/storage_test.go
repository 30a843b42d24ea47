package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"linqyard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageSuite exercises the Storage contract. Every row it creates uses
// fresh ids so the suite can run against a shared database.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("Bucket increments", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		key := "default:ip:" + models.NewID()
		window := time.Minute
		start := time.Unix(1_700_000_040, 0).UTC()

		for want := int64(1); want <= 3; want++ {
			got, err := s.IncrementBucket(ctx, key, start, window)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		next, err := s.IncrementBucket(ctx, key, start.Add(window), window)
		require.NoError(t, err)
		assert.Equal(t, int64(1), next, "a new window starts a new bucket")
	})

	t.Run("Bucket cleanup", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		key := "default:ip:" + models.NewID()
		window := time.Minute
		old := time.Unix(1_000_000_020, 0).UTC()
		recent := time.Now().UTC().Truncate(time.Minute)

		_, err := s.IncrementBucket(ctx, key, old, window)
		require.NoError(t, err)
		_, err = s.IncrementBucket(ctx, key, recent, window)
		require.NoError(t, err)

		cutoff := recent.Add(-time.Hour)
		for {
			n, err := s.DeleteBucketsBefore(ctx, cutoff, 100)
			require.NoError(t, err)
			if n == 0 {
				break
			}
		}

		count, err := s.IncrementBucket(ctx, key, old, window)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "old bucket should have been deleted")

		count, err = s.IncrementBucket(ctx, key, recent, window)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count, "recent bucket should survive")
	})

	t.Run("Group operations", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		owner := models.NewID()

		max, err := s.MaxGroupSequence(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, -1, max)

		second := models.NewLinkGroup(owner, "Second", 2)
		first := models.NewLinkGroup(owner, "First", 1)
		require.NoError(t, s.CreateGroup(ctx, second))
		require.NoError(t, s.CreateGroup(ctx, first))

		groups, err := s.ListGroups(ctx, owner)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "First", groups[0].Name)
		assert.Equal(t, "Second", groups[1].Name)

		got, err := s.GetGroup(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got.UserID)
		assert.True(t, got.IsActive)

		max, err = s.MaxGroupSequence(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, max)

		_, err = s.GetGroup(ctx, models.NewID())
		assert.True(t, errors.Is(err, ErrNotFound))

		empty, err := s.ListGroups(ctx, models.NewID())
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("Link operations", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		owner := models.NewID()

		group := models.NewLinkGroup(owner, "Socials", 0)
		require.NoError(t, s.CreateGroup(ctx, group))

		grouped := models.NewLink(owner, "Blog", "https://blog.example", &group.ID, 0)
		loose := models.NewLink(owner, "Home", "https://home.example", nil, 4)
		require.NoError(t, s.CreateLink(ctx, grouped))
		require.NoError(t, s.CreateLink(ctx, loose))

		links, err := s.ListLinks(ctx, owner)
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, loose.ID, links[0].ID, "ungrouped links come first")
		assert.Nil(t, links[0].GroupID)
		require.NotNil(t, links[1].GroupID)
		assert.Equal(t, group.ID, *links[1].GroupID)

		max, err := s.MaxLinkSequence(ctx, owner, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, max)
		max, err = s.MaxLinkSequence(ctx, owner, &group.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, max)

		loose.Name = "Homepage"
		loose.URL = "https://www.home.example"
		loose.IsActive = false
		loose.UpdatedAt = time.Now().UTC()
		require.NoError(t, s.UpdateLink(ctx, loose))

		got, err := s.GetLink(ctx, loose.ID)
		require.NoError(t, err)
		assert.Equal(t, "Homepage", got.Name)
		assert.Equal(t, "https://www.home.example", got.URL)
		assert.False(t, got.IsActive)
		assert.Equal(t, 4, got.Sequence, "update never changes sequence")

		require.NoError(t, s.DeleteLink(ctx, loose.ID))
		_, err = s.GetLink(ctx, loose.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.DeleteLink(ctx, loose.ID), ErrNotFound))
		assert.True(t, errors.Is(s.UpdateLink(ctx, loose), ErrNotFound))
	})

	t.Run("Resequence links skips foreign rows", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		owner, other := models.NewID(), models.NewID()

		a := models.NewLink(owner, "A", "https://a.example", nil, 0)
		sibling := models.NewLink(owner, "Sibling", "https://s.example", nil, 1)
		b := models.NewLink(other, "B", "https://b.example", nil, 0)
		for _, l := range []*models.Link{a, sibling, b} {
			require.NoError(t, s.CreateLink(ctx, l))
		}

		items, err := s.ResequenceLinks(ctx, owner, []models.SequenceUpdate{
			{ID: a.ID, Sequence: 5},
			{ID: b.ID, Sequence: 9},
		})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, models.SequencedItem{ID: a.ID, Sequence: 5, Name: "A"}, items[0])

		gotB, err := s.GetLink(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, gotB.Sequence)

		gotSibling, err := s.GetLink(ctx, sibling.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, gotSibling.Sequence, "unnamed siblings are not renumbered")
	})

	t.Run("Resequence returns rows in new order", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		owner := models.NewID()

		g1 := models.NewLinkGroup(owner, "One", 0)
		g2 := models.NewLinkGroup(owner, "Two", 1)
		g3 := models.NewLinkGroup(owner, "Three", 2)
		for _, g := range []*models.LinkGroup{g1, g2, g3} {
			require.NoError(t, s.CreateGroup(ctx, g))
		}

		items, err := s.ResequenceGroups(ctx, owner, []models.SequenceUpdate{
			{ID: g1.ID, Sequence: 2},
			{ID: g2.ID, Sequence: 0},
			{ID: g3.ID, Sequence: 1},
		})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []string{"Two", "Three", "One"}, []string{items[0].Name, items[1].Name, items[2].Name})

		groups, err := s.ListGroups(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, g2.ID, groups[0].ID)
	})

	t.Run("Resequence rejects empty list", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.ResequenceLinks(context.Background(), models.NewID(), nil)
		assert.True(t, errors.Is(err, ErrInvalidInput))
		_, err = s.ResequenceGroups(context.Background(), models.NewID(), []models.SequenceUpdate{})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("Delete group ungroups links", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		owner := models.NewID()

		group := models.NewLinkGroup(owner, "Work", 0)
		require.NoError(t, s.CreateGroup(ctx, group))
		l1 := models.NewLink(owner, "One", "https://one.example", &group.ID, 0)
		l2 := models.NewLink(owner, "Two", "https://two.example", &group.ID, 1)
		require.NoError(t, s.CreateLink(ctx, l1))
		require.NoError(t, s.CreateLink(ctx, l2))

		require.NoError(t, s.DeleteGroup(ctx, group.ID))

		_, err := s.GetGroup(ctx, group.ID)
		assert.True(t, errors.Is(err, ErrNotFound))

		for _, id := range []string{l1.ID, l2.ID} {
			got, err := s.GetLink(ctx, id)
			require.NoError(t, err, "links survive group deletion")
			assert.Nil(t, got.GroupID)
		}

		assert.True(t, errors.Is(s.DeleteGroup(ctx, group.ID), ErrNotFound))
	})
}
