// Package ratelimit provides fixed-window admission control for HTTP requests.
// Counters live in a shared storage.BucketStore so every instance of the
// service enforces the same budget. Policies are bound to named mux routes by
// configuration and the middleware sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"linqyard/internal/models"
	"linqyard/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUnknownPolicy is returned when a policy name is not configured and
	// missing policies are treated as errors.
	ErrUnknownPolicy = errors.New("rate limit policy not configured")
	// ErrEmptyKey is returned when the partition key is blank.
	ErrEmptyKey = errors.New("rate limit key is empty")
)

// Decision reasons
const (
	ReasonWithinLimit   = "within limit"
	ReasonLimitExceeded = "limit exceeded"
	ReasonNotConfigured = "policy not configured"
	ReasonStoreError    = "store unavailable"
	ReasonLockTimeout   = "lock timeout"
)

// Policy is an immutable admission budget: Limit attempts per Window.
type Policy struct {
	Name        string
	Limit       int
	Window      time.Duration
	LockTimeout time.Duration
}

// Policies is a read-only registry of policies by name.
type Policies struct {
	byName map[string]Policy
}

// NewPolicies builds the registry from configuration. Policies without a lock
// timeout inherit the global one, then models.DefaultLockTimeout.
func NewPolicies(cfg models.RateLimitConfig) (*Policies, error) {
	defaultTimeout := cfg.LockTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = models.DefaultLockTimeout
	}

	p := &Policies{byName: make(map[string]Policy, len(cfg.Policies))}
	for _, pc := range cfg.Policies {
		if pc.Name == "" || len(pc.Name) > models.MaxPolicyNameLength || pc.Limit < 1 || pc.Window <= 0 {
			return nil, fmt.Errorf("invalid rate limit policy %q", pc.Name)
		}
		if _, dup := p.byName[pc.Name]; dup {
			return nil, fmt.Errorf("duplicate rate limit policy %q", pc.Name)
		}
		timeout := pc.LockTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		p.byName[pc.Name] = Policy{Name: pc.Name, Limit: pc.Limit, Window: pc.Window, LockTimeout: timeout}
	}
	return p, nil
}

// Lookup returns the named policy.
func (p *Policies) Lookup(name string) (Policy, bool) {
	if p == nil {
		return Policy{}, false
	}
	policy, ok := p.byName[name]
	return policy, ok
}

// Decision is the outcome of one admission check.
type Decision struct {
	IsAllowed   bool
	Limit       int
	Remaining   int
	WindowStart time.Time
	WindowEnd   time.Time
	Timestamp   time.Time
	RetryAfter  time.Time // zero unless rejected
	Reason      string
	PolicyName  string
}

// Enforced reports whether the decision came from a configured policy.
func (d Decision) Enforced() bool {
	return d.Reason != ReasonNotConfigured
}

// WindowFor returns the fixed window containing now, aligned to the Unix epoch.
func WindowFor(now time.Time, window time.Duration) (start, end time.Time) {
	w := window.Nanoseconds()
	ns := now.UnixNano()
	aligned := ns - ns%w
	if ns < 0 && ns%w != 0 {
		aligned -= w
	}
	start = time.Unix(0, aligned).UTC()
	return start, start.Add(window)
}

// BucketKey joins policy and partition key, hashing the partition when the
// result would exceed models.MaxBucketKeyLength. If the policy name alone is
// too long for that, the whole key is hashed.
func BucketKey(policy, partitionKey string) string {
	key := policy + ":" + partitionKey
	if len(key) <= models.MaxBucketKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(partitionKey))
	hashed := policy + ":sha256:" + hex.EncodeToString(sum[:])
	if len(hashed) <= models.MaxBucketKeyLength {
		return hashed
	}
	sum = sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter decides whether an attempt fits its policy's current window.
// Every call performs exactly one durable increment, admitted or not.
type Limiter struct {
	store          storage.BucketStore
	policies       *Policies
	throwOnMissing bool
	now            func() time.Time
	decisions      metric.Int64Counter
}

// NewLimiter creates a limiter over store. With throwOnMissing, unknown policy
// names are errors instead of passes.
func NewLimiter(store storage.BucketStore, policies *Policies, throwOnMissing bool, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("bucket store is required")
	}
	if policies == nil {
		policies = &Policies{byName: map[string]Policy{}}
	}

	decisions, err := otel.Meter("linqyard/ratelimit").Int64Counter("ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by policy and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	l := &Limiter{
		store:          store,
		policies:       policies,
		throwOnMissing: throwOnMissing,
		now:            time.Now,
		decisions:      decisions,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policies returns the registry the limiter consults.
func (l *Limiter) Policies() *Policies {
	return l.policies
}

// ThrowsOnMissingPolicy reports whether unknown policies are errors.
func (l *Limiter) ThrowsOnMissingPolicy() bool {
	return l.throwOnMissing
}

// ShouldAllow counts one attempt against key under the named policy.
//
// Store failures and lock timeouts fail open and are logged. Cancellation of
// ctx by the caller is returned as an error.
func (l *Limiter) ShouldAllow(ctx context.Context, policyName, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	now := l.now()
	policy, ok := l.policies.Lookup(policyName)
	if !ok {
		if l.throwOnMissing {
			return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
		}
		l.record(ctx, policyName, "unconfigured")
		return Decision{IsAllowed: true, Timestamp: now, Reason: ReasonNotConfigured, PolicyName: policyName}, nil
	}

	start, end := WindowFor(now, policy.Window)
	d := Decision{
		Limit:       policy.Limit,
		WindowStart: start,
		WindowEnd:   end,
		Timestamp:   now,
		PolicyName:  policy.Name,
	}

	storeCtx, cancel := context.WithTimeout(ctx, policy.LockTimeout)
	count, err := l.store.IncrementBucket(storeCtx, BucketKey(policy.Name, key), start, policy.Window)
	cancel()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}

		d.IsAllowed = true
		d.Remaining = policy.Limit
		if errors.Is(err, context.DeadlineExceeded) {
			d.Reason = ReasonLockTimeout
			slog.Warn("Rate limit bucket timed out, allowing request",
				"policy", policy.Name,
				"key", key,
				"lock_timeout", policy.LockTimeout,
			)
		} else {
			d.Reason = ReasonStoreError
			slog.Error("Rate limit store failed, allowing request",
				"policy", policy.Name,
				"key", key,
				"error", err,
			)
		}
		l.record(ctx, policy.Name, "fail_open")
		return d, nil
	}

	d.Remaining = max(0, policy.Limit-int(count))
	d.IsAllowed = count <= int64(policy.Limit)
	if d.IsAllowed {
		d.Reason = ReasonWithinLimit
		l.record(ctx, policy.Name, "allowed")
	} else {
		d.Reason = ReasonLimitExceeded
		d.RetryAfter = end
		l.record(ctx, policy.Name, "rejected")
	}
	return d, nil
}

func (l *Limiter) record(ctx context.Context, policy, outcome string) {
	l.decisions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("outcome", outcome),
	))
}
