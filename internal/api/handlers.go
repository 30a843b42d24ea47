package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"linqyard/internal/assistant"
	"linqyard/internal/auth"
	"linqyard/internal/links"
	"linqyard/internal/logger"
	"linqyard/internal/models"
	"linqyard/internal/version"

	"github.com/gorilla/mux"
)

const (
	maxBodyBytes       = 1 << 20
	healthCheckTimeout = 2 * time.Second
)

// ChatService answers FAQ questions
type ChatService interface {
	Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error)
	Ready() error
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains HTTP handlers for the linqyard API
type Handlers struct {
	links     links.ServiceInterface
	assistant ChatService
	store     Pinger
	version   version.Info
}

// NewHandlers creates a new handlers instance. store and chat may be nil.
func NewHandlers(linkService links.ServiceInterface, chat ChatService, store Pinger, ver version.Info) *Handlers {
	return &Handlers{
		links:     linkService,
		assistant: chat,
		store:     store,
		version:   ver,
	}
}

// HealthCheck reports storage reachability and assistant readiness
// GET /health, /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	if uptime := h.version.Uptime(); uptime > 0 {
		response.Uptime = uptime.String()
	}

	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			logger.FromContext(r.Context()).Error("Health check storage ping failed", "error", err)
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
			status = http.StatusServiceUnavailable
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	if h.assistant != nil {
		if err := h.assistant.Ready(); err != nil {
			response.AddComponent("assistant", models.StatusDegraded, err.Error())
			if response.Status == models.StatusHealthy {
				response.Status = models.StatusDegraded
			}
		} else {
			response.AddComponent("assistant", models.StatusHealthy, "Knowledge base loaded")
		}
	}

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	writeJSON(w, r, status, response)
}

// ListLinks handles GET /api/v1/links
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	response, err := h.links.ListLinks(r.Context(), principal)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// CreateLink handles POST /api/v1/links
func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	var req models.CreateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	link, err := h.links.CreateLink(r.Context(), principal, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, link)
}

// UpdateLink handles PUT /api/v1/links/{id}
func (h *Handlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	var req models.UpdateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	link, err := h.links.UpdateLink(r.Context(), principal, id, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, link)
}

// DeleteLink handles DELETE /api/v1/links/{id}
func (h *Handlers) DeleteLink(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	response, err := h.links.DeleteLink(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// ResequenceLinks handles POST /api/v1/links/resequence
func (h *Handlers) ResequenceLinks(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	var req models.ResequenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.links.ResequenceLinks(r.Context(), principal, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// ListGroups handles GET /api/v1/groups
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	response, err := h.links.ListGroups(r.Context(), principal)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// CreateGroup handles POST /api/v1/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	var req models.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	group, err := h.links.CreateGroup(r.Context(), principal, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, group)
}

// DeleteGroup handles DELETE /api/v1/groups/{id}
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	response, err := h.links.DeleteGroup(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// ResequenceGroups handles POST /api/v1/groups/resequence
func (h *Handlers) ResequenceGroups(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	var req models.ResequenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.links.ResequenceGroups(r.Context(), principal, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response)
}

// Chat handles POST /api/v1/bot/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	if h.assistant == nil {
		writeError(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Assistant is not configured")
		return
	}

	response, err := h.assistant.Chat(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, response)
	case errors.Is(err, assistant.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
	case errors.Is(err, assistant.ErrUnavailable):
		logger.FromContext(r.Context()).Warn("Assistant unavailable", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, err.Error())
	default:
		logger.FromContext(r.Context()).Error("Unexpected error in chat handler", "error", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Unexpected error while processing the chat request")
	}
}

// decodeJSON reads a bounded JSON body into dst. It writes a 400 and returns
// false when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, models.ErrorCodeBadRequest, "Request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps a links.ServiceError to its status; anything else is a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *links.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("Service error", "code", svcErr.Code, "error", err)
		}
		writeError(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	if errors.Is(err, context.Canceled) {
		logger.FromContext(r.Context()).Debug("Request cancelled by client", "error", err)
		return
	}

	logger.FromContext(r.Context()).Error("Unhandled service error", "error", err)
	writeError(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = RequestIDFrom(r.Context())
	writeJSON(w, r, statusCode, errorResp)
}
