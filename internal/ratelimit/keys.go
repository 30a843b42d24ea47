package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"linqyard/internal/auth"
	"linqyard/internal/models"

	"github.com/gorilla/mux"
)

// Partition key prefixes, one per strategy.
const (
	prefixIP       = "ip:"
	prefixUser     = "user:"
	prefixHeader   = "header:"
	prefixClaim    = "claim:"
	prefixRoute    = "route:"
	prefixConstant = "const:"
)

// Rule binds a route to a policy and says how to partition callers.
type Rule struct {
	Route                string
	Policy               string
	Partition            string
	Value                string
	FallbackToIP         bool
	RequireAuthenticated bool
}

// RuleFromConfig converts a configured rule.
func RuleFromConfig(rc models.RateLimitRuleConfig) Rule {
	return Rule{
		Route:                rc.Route,
		Policy:               rc.Policy,
		Partition:            rc.Partition,
		Value:                rc.Value,
		FallbackToIP:         rc.FallsBackToIP(),
		RequireAuthenticated: rc.RequireAuthenticated,
	}
}

// ResolveKey returns the partition key for r, or ok=false when the request
// should not be counted.
func (rule Rule) ResolveKey(r *http.Request, trustProxy bool) (key string, ok bool) {
	principal, authenticated := auth.PrincipalFrom(r.Context())

	if rule.Partition == models.PartitionUser && rule.RequireAuthenticated && !authenticated {
		return "", false
	}

	var value, prefix string
	switch rule.Partition {
	case models.PartitionIP:
		value, prefix = ClientIP(r, trustProxy), prefixIP
	case models.PartitionUser:
		if authenticated {
			value = principal.UserID
		}
		prefix = prefixUser
	case models.PartitionHeader:
		value, prefix = r.Header.Get(rule.Value), prefixHeader
	case models.PartitionClaim:
		if authenticated {
			value = principal.Claim(rule.Value)
		}
		prefix = prefixClaim
	case models.PartitionRoute:
		value, prefix = mux.Vars(r)[rule.Value], prefixRoute
	case models.PartitionConstant:
		value, prefix = rule.Value, prefixConstant
	}

	if value = strings.TrimSpace(value); value != "" {
		return prefix + value, true
	}

	if !rule.FallbackToIP || rule.Partition == models.PartitionIP {
		return "", false
	}
	if ip := ClientIP(r, trustProxy); ip != "" {
		return prefixIP + ip, true
	}
	return "", false
}

// ClientIP returns the caller's address. Proxy headers are consulted only
// when trustProxy is set, since clients can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
