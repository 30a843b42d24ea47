// Package auth verifies bearer tokens issued by the identity service and
// carries the authenticated principal through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"linqyard/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry, issuer, or audience checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when the user id claim is absent or empty.
	ErrMissingSubject = errors.New("token has no user id")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
	Admin  bool
	Claims jwt.MapClaims
}

// IsAdmin reports whether the principal may bypass ownership checks. A nil
// principal is anonymous.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Admin
}

// Claim returns the named claim as a string, or "" when absent. Non-string
// values are formatted with fmt.
func (p *Principal) Claim(name string) string {
	if p == nil || p.Claims == nil {
		return ""
	}
	v, ok := p.Claims[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret      []byte
	parser      *jwt.Parser
	userIDClaim string
	roleClaim   string
	adminRole   string
}

// NewVerifier builds a verifier from configuration. Issuer and audience are
// only enforced when configured.
func NewVerifier(cfg models.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	userIDClaim := cfg.UserIDClaim
	if userIDClaim == "" {
		userIDClaim = "sub"
	}

	return &Verifier{
		secret:      []byte(cfg.Secret),
		parser:      jwt.NewParser(opts...),
		userIDClaim: userIDClaim,
		roleClaim:   cfg.RoleClaim,
		adminRole:   cfg.AdminRole,
	}, nil
}

// Verify parses the raw token and returns its principal.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	p := &Principal{Claims: claims}
	p.UserID = strings.TrimSpace(p.Claim(v.userIDClaim))
	if p.UserID == "" {
		return nil, ErrMissingSubject
	}

	if v.roleClaim != "" {
		p.Role, p.Admin = v.readRole(claims[v.roleClaim])
	}
	return p, nil
}

// readRole accepts a single role string or a list of roles.
func (v *Verifier) readRole(value any) (string, bool) {
	switch role := value.(type) {
	case string:
		return role, v.adminRole != "" && role == v.adminRole
	case []any:
		var roles []string
		admin := false
		for _, r := range role {
			s, ok := r.(string)
			if !ok {
				continue
			}
			roles = append(roles, s)
			if v.adminRole != "" && s == v.adminRole {
				admin = true
			}
		}
		return strings.Join(roles, ","), admin
	default:
		return "", false
	}
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
