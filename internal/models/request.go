// Package models - API request types and input validation.
// This file defines all incoming API request structures with their validation.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input data (trimmed strings) before validating
// - Nothing reaches storage until Validate has passed
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	MaxNameLength      = 100
	MaxURLLength       = 2048
	MaxQuestionLength  = 1000
	DefaultReferences  = 3
	MaxReferencesLimit = 10
)

// ErrEmptySequenceList is returned when a resequence request names no items.
var ErrEmptySequenceList = errors.New("at least one item is required")

type CreateLinkRequest struct {
	Name     string  `json:"name"`
	URL      string  `json:"url"`
	GroupID  *string `json:"group_id,omitempty"`
	Sequence *int    `json:"sequence,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (r *CreateLinkRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.URL = strings.TrimSpace(r.URL)
	if r.GroupID != nil {
		trimmed := strings.TrimSpace(*r.GroupID)
		if trimmed == "" {
			r.GroupID = nil
		} else {
			r.GroupID = &trimmed
		}
	}
}

func (r *CreateLinkRequest) Validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	if err := validateLinkURL(r.URL); err != nil {
		return err
	}
	if r.Sequence != nil && *r.Sequence < 0 {
		return errors.New("sequence cannot be negative")
	}
	return nil
}

// UpdateLinkRequest changes only the fields that are present. A GroupID of ""
// moves the link out of its group.
type UpdateLinkRequest struct {
	Name     *string `json:"name,omitempty"`
	URL      *string `json:"url,omitempty"`
	GroupID  *string `json:"group_id,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (r *UpdateLinkRequest) Normalize() {
	trim := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	trim(r.Name)
	trim(r.URL)
	trim(r.GroupID)
}

func (r *UpdateLinkRequest) Validate() error {
	if r.Name == nil && r.URL == nil && r.GroupID == nil && r.IsActive == nil {
		return errors.New("no fields to update")
	}
	if r.Name != nil {
		if err := validateName(*r.Name); err != nil {
			return err
		}
	}
	if r.URL != nil {
		if err := validateLinkURL(*r.URL); err != nil {
			return err
		}
	}
	return nil
}

type CreateGroupRequest struct {
	Name     string `json:"name"`
	Sequence *int   `json:"sequence,omitempty"`
}

func (r *CreateGroupRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *CreateGroupRequest) Validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.Sequence != nil && *r.Sequence < 0 {
		return errors.New("sequence cannot be negative")
	}
	return nil
}

// ResequenceRequest is the ordered list of position changes. On the wire it is
// either a bare array or an object with an "items" array.
type ResequenceRequest struct {
	Items []SequenceUpdate `json:"items"`
}

func (r *ResequenceRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Items)
	}
	var wrapper struct {
		Items []SequenceUpdate `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	r.Items = wrapper.Items
	return nil
}

func (r *ResequenceRequest) Validate() error {
	if len(r.Items) == 0 {
		return ErrEmptySequenceList
	}
	seen := make(map[string]bool, len(r.Items))
	for i, item := range r.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return fmt.Errorf("item %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("item %d: duplicate id %s", i, id)
		}
		seen[id] = true
		if item.Sequence < 0 {
			return fmt.Errorf("item %d: sequence cannot be negative", i)
		}
		r.Items[i].ID = id
	}
	return nil
}

// ChatRequest is a question for the FAQ assistant.
type ChatRequest struct {
	Question       string  `json:"question"`
	ConversationID *string `json:"conversation_id,omitempty"`
	MaxReferences  *int    `json:"max_references,omitempty"`
}

func (r *ChatRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return errors.New("question is required")
	}
	if len(r.Question) > MaxQuestionLength {
		return fmt.Errorf("question cannot exceed %d characters", MaxQuestionLength)
	}
	if r.MaxReferences != nil && (*r.MaxReferences < 1 || *r.MaxReferences > MaxReferencesLimit) {
		return fmt.Errorf("max_references must be between 1 and %d", MaxReferencesLimit)
	}
	return nil
}

// References returns the requested source count, applying the default.
func (r *ChatRequest) References() int {
	if r.MaxReferences == nil {
		return DefaultReferences
	}
	return *r.MaxReferences
}

func validateName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name cannot exceed %d characters", MaxNameLength)
	}
	return nil
}

func validateLinkURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("url cannot exceed %d characters", MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}
