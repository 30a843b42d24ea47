package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"linqyard/internal/assistant"
	"linqyard/internal/auth"
	"linqyard/internal/links"
	"linqyard/internal/models"
	"linqyard/internal/version"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLinksService implements links.ServiceInterface for testing
type MockLinksService struct {
	mock.Mock
}

func (m *MockLinksService) ListLinks(ctx context.Context, p *auth.Principal) (*models.ListLinksResponse, error) {
	args := m.Called(ctx, p)
	resp, _ := args.Get(0).(*models.ListLinksResponse)
	return resp, args.Error(1)
}

func (m *MockLinksService) CreateLink(ctx context.Context, p *auth.Principal, req *models.CreateLinkRequest) (*models.Link, error) {
	args := m.Called(ctx, p, req)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *MockLinksService) UpdateLink(ctx context.Context, p *auth.Principal, id string, req *models.UpdateLinkRequest) (*models.Link, error) {
	args := m.Called(ctx, p, id, req)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *MockLinksService) DeleteLink(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error) {
	args := m.Called(ctx, p, id)
	resp, _ := args.Get(0).(*models.DeleteResponse)
	return resp, args.Error(1)
}

func (m *MockLinksService) ResequenceLinks(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error) {
	args := m.Called(ctx, p, req)
	resp, _ := args.Get(0).(*models.ResequenceResponse)
	return resp, args.Error(1)
}

func (m *MockLinksService) ListGroups(ctx context.Context, p *auth.Principal) (*models.ListGroupsResponse, error) {
	args := m.Called(ctx, p)
	resp, _ := args.Get(0).(*models.ListGroupsResponse)
	return resp, args.Error(1)
}

func (m *MockLinksService) CreateGroup(ctx context.Context, p *auth.Principal, req *models.CreateGroupRequest) (*models.LinkGroup, error) {
	args := m.Called(ctx, p, req)
	group, _ := args.Get(0).(*models.LinkGroup)
	return group, args.Error(1)
}

func (m *MockLinksService) DeleteGroup(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error) {
	args := m.Called(ctx, p, id)
	resp, _ := args.Get(0).(*models.DeleteResponse)
	return resp, args.Error(1)
}

func (m *MockLinksService) ResequenceGroups(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error) {
	args := m.Called(ctx, p, req)
	resp, _ := args.Get(0).(*models.ResequenceResponse)
	return resp, args.Error(1)
}

// mockChat implements ChatService for testing
type mockChat struct {
	resp     *models.ChatResponse
	err      error
	readyErr error
}

func (m *mockChat) Chat(_ context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", assistant.ErrInvalidRequest, err)
	}
	return m.resp, m.err
}

func (m *mockChat) Ready() error { return m.readyErr }

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

var testPrincipal = &auth.Principal{UserID: "alice", Role: "user"}

func newRequest(method, path, body string, vars map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), testPrincipal))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	return errResp
}

func TestNewHandlers(t *testing.T) {
	svc := &MockLinksService{}
	chat := &mockChat{}
	h := NewHandlers(svc, chat, nil, version.Info{Version: "1.2.3"})

	assert.Equal(t, svc, h.links)
	assert.Equal(t, chat, h.assistant)
	assert.Nil(t, h.store)
	assert.Equal(t, "1.2.3", h.version.Version)
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		store          Pinger
		chat           ChatService
		expectedStatus int
		expectedHealth string
	}{
		{"healthy", &mockPinger{}, &mockChat{}, http.StatusOK, models.StatusHealthy},
		{"storage down", &mockPinger{err: errors.New("connection refused")}, &mockChat{}, http.StatusServiceUnavailable, models.StatusUnhealthy},
		{"assistant degraded", &mockPinger{}, &mockChat{readyErr: assistant.ErrUnavailable}, http.StatusOK, models.StatusDegraded},
		{"no dependencies", nil, nil, http.StatusOK, models.StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(&MockLinksService{}, tt.chat, tt.store, version.Info{Version: "test"})

			rr := httptest.NewRecorder()
			h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var resp models.HealthCheckResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.Contains(t, resp.Components, "api")
		})
	}
}

func TestListLinks(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})

	link := models.NewLink("alice", "Blog", "https://example.com", nil, 0)
	svc.On("ListLinks", mock.Anything, testPrincipal).
		Return(&models.ListLinksResponse{Links: []*models.Link{link}, TotalCount: 1}, nil).Once()

	rr := httptest.NewRecorder()
	h.ListLinks(rr, newRequest(http.MethodGet, "/api/v1/links", "", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp models.ListLinksResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, link.ID, resp.Links[0].ID)
	svc.AssertExpectations(t)
}

func TestCreateLink(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})

	created := models.NewLink("alice", "Blog", "https://example.com", nil, 3)
	svc.On("CreateLink", mock.Anything, testPrincipal, mock.MatchedBy(func(req *models.CreateLinkRequest) bool {
		return req.Name == "Blog" && req.URL == "https://example.com"
	})).Return(created, nil).Once()

	rr := httptest.NewRecorder()
	h.CreateLink(rr, newRequest(http.MethodPost, "/api/v1/links", `{"name":"Blog","url":"https://example.com"}`, nil))

	assert.Equal(t, http.StatusCreated, rr.Code)
	svc.AssertExpectations(t)
}

func TestCreateLink_InvalidJSON(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})

	rr := httptest.NewRecorder()
	h.CreateLink(rr, newRequest(http.MethodPost, "/api/v1/links", `{"name":`, nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrorCodeBadRequest, decodeError(t, rr).Code)
	svc.AssertNotCalled(t, "CreateLink", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestBodyTooLarge(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})

	body := `{"name":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	rr := httptest.NewRecorder()
	h.CreateGroup(rr, newRequest(http.MethodPost, "/api/v1/groups", body, nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	svc.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"not found", links.NewNotFoundError("link", "l1"), http.StatusNotFound, models.ErrorCodeNotFound},
		{"forbidden", links.NewForbiddenError("link 'l1' belongs to another user"), http.StatusForbidden, models.ErrorCodeForbidden},
		{"validation", links.NewValidationError("name is required", nil), http.StatusBadRequest, models.ErrorCodeValidation},
		{"unauthorized", links.NewUnauthorizedError(), http.StatusUnauthorized, models.ErrorCodeUnauthorized},
		{"internal", links.NewInternalError("failed to update link", errors.New("disk full")), http.StatusInternalServerError, models.ErrorCodeInternalError},
		{"wrapped", fmt.Errorf("outer: %w", links.NewNotFoundError("link", "l1")), http.StatusNotFound, models.ErrorCodeNotFound},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, models.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLinksService{}
			h := NewHandlers(svc, nil, nil, version.Info{})
			svc.On("UpdateLink", mock.Anything, testPrincipal, "l1", mock.Anything).Return(nil, tt.err).Once()

			rr := httptest.NewRecorder()
			h.UpdateLink(rr, newRequest(http.MethodPut, "/api/v1/links/l1", `{"name":"x"}`, map[string]string{"id": "l1"}))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			errResp := decodeError(t, rr)
			assert.Equal(t, tt.expectedCode, errResp.Code)
			assert.Equal(t, "error", errResp.Error)
			svc.AssertExpectations(t)
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})
	svc.On("DeleteLink", mock.Anything, testPrincipal, "l1").
		Return(nil, links.NewInternalError("failed to delete link", errors.New("pq: password authentication failed"))).Once()

	rr := httptest.NewRecorder()
	h.DeleteLink(rr, newRequest(http.MethodDelete, "/api/v1/links/l1", "", map[string]string{"id": "l1"}))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestResequenceAcceptsBothBodyShapes(t *testing.T) {
	bodies := map[string]string{
		"bare array":   `[{"id":"a","sequence":1},{"id":"b","sequence":0}]`,
		"items object": `{"items":[{"id":"a","sequence":1},{"id":"b","sequence":0}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			svc := &MockLinksService{}
			h := NewHandlers(svc, nil, nil, version.Info{})

			items := []models.SequencedItem{{ID: "b", Sequence: 0, Name: "B"}, {ID: "a", Sequence: 1, Name: "A"}}
			svc.On("ResequenceGroups", mock.Anything, testPrincipal, mock.MatchedBy(func(req *models.ResequenceRequest) bool {
				return len(req.Items) == 2 && req.Items[0].ID == "a" && req.Items[1].Sequence == 0
			})).Return(&models.ResequenceResponse{Message: "ok", Items: items}, nil).Once()

			rr := httptest.NewRecorder()
			h.ResequenceGroups(rr, newRequest(http.MethodPost, "/api/v1/groups/resequence", body, nil))

			assert.Equal(t, http.StatusOK, rr.Code)
			var resp models.ResequenceResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, items, resp.Items)
			svc.AssertExpectations(t)
		})
	}
}

func TestGroupHandlers(t *testing.T) {
	svc := &MockLinksService{}
	h := NewHandlers(svc, nil, nil, version.Info{})

	group := models.NewLinkGroup("alice", "Socials", 0)
	svc.On("ListGroups", mock.Anything, testPrincipal).
		Return(&models.ListGroupsResponse{Groups: []*models.LinkGroup{group}, TotalCount: 1}, nil).Once()
	svc.On("DeleteGroup", mock.Anything, testPrincipal, group.ID).
		Return(&models.DeleteResponse{ID: group.ID, Message: "deleted"}, nil).Once()
	svc.On("ResequenceLinks", mock.Anything, testPrincipal, mock.Anything).
		Return(&models.ResequenceResponse{Items: []models.SequencedItem{}}, nil).Once()

	rr := httptest.NewRecorder()
	h.ListGroups(rr, newRequest(http.MethodGet, "/api/v1/groups", "", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.DeleteGroup(rr, newRequest(http.MethodDelete, "/api/v1/groups/"+group.ID, "", map[string]string{"id": group.ID}))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ResequenceLinks(rr, newRequest(http.MethodPost, "/api/v1/links/resequence", `[{"id":"x","sequence":0}]`, nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	svc.AssertExpectations(t)
}

func TestChatHandler(t *testing.T) {
	okResp := &models.ChatResponse{
		Answer:       "Use the reset link.",
		Sources:      []models.ChatSource{},
		ResponseType: assistant.ResponseTypeText,
		Links:        []models.ChatLink{},
	}

	tests := []struct {
		name           string
		chat           ChatService
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{"answer", &mockChat{resp: okResp}, `{"question":"reset password"}`, http.StatusOK, ""},
		{"invalid json", &mockChat{resp: okResp}, `not json`, http.StatusBadRequest, models.ErrorCodeBadRequest},
		{"missing question", &mockChat{resp: okResp}, `{"question":"  "}`, http.StatusBadRequest, models.ErrorCodeValidation},
		{"max references out of range", &mockChat{resp: okResp}, `{"question":"hi","max_references":0}`, http.StatusBadRequest, models.ErrorCodeValidation},
		{"knowledge base missing", &mockChat{err: assistant.ErrUnavailable}, `{"question":"hi"}`, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable},
		{"unexpected", &mockChat{err: errors.New("boom")}, `{"question":"hi"}`, http.StatusInternalServerError, models.ErrorCodeInternalError},
		{"not configured", nil, `{"question":"hi"}`, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable},
		{"invalid request while not configured", nil, `{"question":""}`, http.StatusBadRequest, models.ErrorCodeValidation},
		{"invalid request while unavailable", &mockChat{err: assistant.ErrUnavailable}, `{"question":"hi","max_references":11}`, http.StatusBadRequest, models.ErrorCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(&MockLinksService{}, tt.chat, nil, version.Info{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/bot/chat", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			h.Chat(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decodeError(t, rr).Code)
			}
		})
	}
}
