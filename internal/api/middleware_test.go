package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"linqyard/internal/logger"
	"linqyard/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var seenID string
	var hasLogger bool
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFrom(r.Context())
		hasLogger = logger.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusTeapot, rr.Code)
		assert.NotEmpty(t, seenID)
		assert.Equal(t, seenID, rr.Header().Get(RequestIDHeader))
		assert.True(t, hasLogger)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "req-123", seenID)
		assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
	})
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr}

	_, err := rec.Write([]byte("hello"))
	assert.NoError(t, err)
	rec.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rec.status, "first write fixes the status")
	assert.Equal(t, 5, rec.bytes)
	assert.Equal(t, rr, rec.Unwrap())
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/links", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, models.ErrorCodeInternalError, decodeError(t, rr).Code)
}

func TestCORSMiddleware(t *testing.T) {
	cfg := models.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.linqyard.example"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(cfg)(next)

	tests := []struct {
		name          string
		method        string
		origin        string
		expectedCode  int
		expectAllowed bool
	}{
		{"allowed origin", http.MethodGet, "https://app.linqyard.example", http.StatusOK, true},
		{"other origin", http.MethodGet, "https://evil.example", http.StatusOK, false},
		{"no origin", http.MethodGet, "", http.StatusOK, false},
		{"preflight", http.MethodOptions, "https://app.linqyard.example", http.StatusNoContent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/links", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, "GET, POST", rr.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
			if tt.expectAllowed {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	handler := corsMiddleware(models.CORSConfig{AllowedOrigins: []string{"*"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://anywhere.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
