// Package models - Links, link groups, and their display order.
// This file defines the persisted link-in-bio entities.
//
// Ordering Model:
// - Sequence orders siblings that share an owner (and, for links, a group)
// - Sequences need not be contiguous; ties are broken by CreatedAt then ID
// - Sequences change only through an explicit resequence operation
// - Deleting a group ungroups its links instead of deleting them
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// LinkGroup is a named, ordered container for a user's links.
type LinkGroup struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Sequence  int       `json:"sequence"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link is a single profile link. GroupID is nil for ungrouped links.
type Link struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GroupID   *string   `json:"group_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Sequence  int       `json:"sequence"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequenceUpdate is one requested position change.
type SequenceUpdate struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
}

// SequencedItem is the state of an entity re-read after a resequence.
type SequencedItem struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
	Name     string `json:"name"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}

func NewLinkGroup(userID, name string, sequence int) *LinkGroup {
	now := time.Now().UTC()
	return &LinkGroup{
		ID:        NewID(),
		UserID:    userID,
		Name:      name,
		Sequence:  sequence,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewLink(userID, name, url string, groupID *string, sequence int) *Link {
	now := time.Now().UTC()
	return &Link{
		ID:        NewID(),
		UserID:    userID,
		GroupID:   groupID,
		Name:      name,
		URL:       url,
		Sequence:  sequence,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InGroup reports whether the link belongs to groupID; a nil groupID means ungrouped.
func (l *Link) InGroup(groupID *string) bool {
	if l.GroupID == nil || groupID == nil {
		return l.GroupID == nil && groupID == nil
	}
	return *l.GroupID == *groupID
}

// SortLinks orders links by group (ungrouped first), then sequence, then creation time and id.
func SortLinks(links []*Link) {
	sort.SliceStable(links, func(i, j int) bool {
		gi, gj := groupKey(links[i].GroupID), groupKey(links[j].GroupID)
		if gi != gj {
			return gi < gj
		}
		return lessBySequence(links[i].Sequence, links[j].Sequence, links[i].CreatedAt, links[j].CreatedAt, links[i].ID, links[j].ID)
	})
}

// SortLinksBySequence orders links by sequence, then creation time and id, ignoring group.
func SortLinksBySequence(links []*Link) {
	sort.SliceStable(links, func(i, j int) bool {
		return lessBySequence(links[i].Sequence, links[j].Sequence, links[i].CreatedAt, links[j].CreatedAt, links[i].ID, links[j].ID)
	})
}

// SortGroups orders groups by sequence, then creation time and id.
func SortGroups(groups []*LinkGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		return lessBySequence(groups[i].Sequence, groups[j].Sequence, groups[i].CreatedAt, groups[j].CreatedAt, groups[i].ID, groups[j].ID)
	})
}

func groupKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func lessBySequence(si, sj int, ci, cj time.Time, idi, idj string) bool {
	if si != sj {
		return si < sj
	}
	if !ci.Equal(cj) {
		return ci.Before(cj)
	}
	return idi < idj
}
