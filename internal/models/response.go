// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Error bodies carry a machine-readable code next to the message
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

type ListLinksResponse struct {
	Links      []*Link `json:"links"`
	TotalCount int     `json:"total_count"`
}

type ListGroupsResponse struct {
	Groups     []*LinkGroup `json:"groups"`
	TotalCount int          `json:"total_count"`
}

// ResequenceResponse echoes the stored order after a resequence, ascending by sequence.
type ResequenceResponse struct {
	Message string          `json:"message"`
	Items   []SequencedItem `json:"items"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type ChatLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type ChatSource struct {
	Source  string   `json:"source"`
	Snippet *string  `json:"snippet"`
	Score   *float64 `json:"score"`
}

// ChatResponse is the FAQ assistant's answer. ResponseType is "text" or "text_with_links".
type ChatResponse struct {
	Answer         string       `json:"answer"`
	Sources        []ChatSource `json:"sources"`
	ConversationID *string      `json:"conversation_id"`
	ResponseType   string       `json:"response_type"`
	Links          []ChatLink   `json:"links"`
}

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Validation errors: Input format/constraint violations
// - Not found errors: Resource doesn't exist or isn't visible to the caller
// - Authorization errors: Authentication/permission failures
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 400: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Too many requests
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
