package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"linqyard/internal/models"

	"github.com/gorilla/mux"
)

const problemType = "https://tools.ietf.org/html/rfc6585#section-4"

// problem is the RFC 7807 body of a 429 response.
type problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Policy        string `json:"policy"`
	Limit         int    `json:"limit"`
	WindowStart   string `json:"windowStart"`
	WindowEnd     string `json:"windowEnd"`
	RetryAfterUTC string `json:"retryAfterUtc"`
}

// Middleware enforces the configured rules on named mux routes. Routes
// without a rule pass through untouched.
type Middleware struct {
	limiter    *Limiter
	rules      map[string]Rule
	trustProxy bool
}

// NewMiddleware binds rules to the limiter. When the limiter treats missing
// policies as errors, a rule naming an unknown policy fails construction.
func NewMiddleware(limiter *Limiter, rules []models.RateLimitRuleConfig, trustProxy bool) (*Middleware, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}

	m := &Middleware{
		limiter:    limiter,
		rules:      make(map[string]Rule, len(rules)),
		trustProxy: trustProxy,
	}
	for _, rc := range rules {
		if _, ok := limiter.Policies().Lookup(rc.Policy); !ok {
			if limiter.ThrowsOnMissingPolicy() {
				return nil, fmt.Errorf("route %s: %w: %s", rc.Route, ErrUnknownPolicy, rc.Policy)
			}
			slog.Warn("Rate limit rule references an unknown policy; route will not be limited",
				"route", rc.Route, "policy", rc.Policy)
		}
		m.rules[rc.Route] = RuleFromConfig(rc)
	}
	return m, nil
}

// Handler is a mux.MiddlewareFunc. It must run after route matching so
// mux.CurrentRoute is populated.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		if route == nil {
			next.ServeHTTP(w, r)
			return
		}
		rule, ok := m.rules[route.GetName()]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := rule.ResolveKey(r, m.trustProxy)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := m.limiter.ShouldAllow(r.Context(), rule.Policy, key)
		if err != nil {
			if r.Context().Err() != nil {
				slog.Debug("Request cancelled during rate limit check", "route", rule.Route, "error", err)
				return
			}
			slog.Error("Rate limit check failed", "route", rule.Route, "policy", rule.Policy, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(models.NewErrorResponse("Rate limit check failed", models.ErrorCodeInternalError))
			return
		}

		writeHeaders(w, decision)
		if decision.IsAllowed {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("Rate limit exceeded",
			"route", rule.Route,
			"policy", decision.PolicyName,
			"key", key,
			"limit", decision.Limit,
			"window_end", decision.WindowEnd,
		)
		writeProblem(w, decision)
	})
}

func writeHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Policy", d.PolicyName)
	if !d.Enforced() {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, d.Remaining)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(secondsUntil(d.Timestamp, d.WindowEnd), 10))
	if !d.IsAllowed {
		h.Set("Retry-After", strconv.FormatInt(secondsUntil(d.Timestamp, d.RetryAfter), 10))
	}
}

func writeProblem(w http.ResponseWriter, d Decision) {
	body := problem{
		Type:          problemType,
		Title:         "Too Many Requests",
		Status:        http.StatusTooManyRequests,
		Detail:        fmt.Sprintf("Rate limit of %d requests per window exceeded for policy %s.", d.Limit, d.PolicyName),
		Policy:        d.PolicyName,
		Limit:         d.Limit,
		WindowStart:   d.WindowStart.UTC().Format(time.RFC3339),
		WindowEnd:     d.WindowEnd.UTC().Format(time.RFC3339),
		RetryAfterUTC: d.RetryAfter.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(body)
}

// secondsUntil rounds up to whole seconds and never goes below zero.
func secondsUntil(from, to time.Time) int64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
