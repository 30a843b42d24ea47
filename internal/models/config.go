// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, security, etc.)
// - Environment-friendly defaults that work out of the box
// - Validation catches misconfigurations before the server starts
// - Rate limit policies and their route bindings live in one table
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit bucket store constants. "storage" shares the primary database.
const (
	BucketStoreStorage = "storage"
	BucketStoreRedis   = "redis"
)

// Partition strategies for rate limit keys.
const (
	PartitionIP       = "ip"
	PartitionUser     = "user"
	PartitionHeader   = "header"
	PartitionClaim    = "claim"
	PartitionRoute    = "route"
	PartitionConstant = "constant"
)

// DefaultLockTimeout bounds a single bucket round-trip before the limiter fails open.
const DefaultLockTimeout = 250 * time.Millisecond

// MaxBucketKeyLength is the longest bucket key the store accepts.
const MaxBucketKeyLength = 256

// MaxPolicyNameLength leaves room in a bucket key for the hashed partition.
const MaxPolicyNameLength = 64

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Database configuration and transaction retry
// - Security: JWT verification, proxy trust, and rate limiting
// - Assistant: FAQ knowledge base
// - Logging: Structured logging and output configuration
// - Metrics / Observability: Prometheus and OpenTelemetry
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Data persistence settings
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Authentication and rate limiting
	Assistant     AssistantConfig     `yaml:"assistant" json:"assistant"`         // FAQ bot
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// RetryConfig controls how many times a transaction is replayed after a transient failure.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
}

type SecurityConfig struct {
	JWT               JWTConfig       `yaml:"jwt" json:"jwt"`
	TrustProxyHeaders bool            `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// JWTConfig configures bearer token verification. Tokens are issued elsewhere.
type JWTConfig struct {
	Secret      string `yaml:"secret" json:"-"`
	Issuer      string `yaml:"issuer" json:"issuer"`
	Audience    string `yaml:"audience" json:"audience"`
	UserIDClaim string `yaml:"user_id_claim" json:"user_id_claim"`
	RoleClaim   string `yaml:"role_claim" json:"role_claim"`
	AdminRole   string `yaml:"admin_role" json:"admin_role"`
}

type RateLimitConfig struct {
	Enabled              bool                    `yaml:"enabled" json:"enabled"`
	Store                string                  `yaml:"store" json:"store"`
	ThrowOnMissingPolicy bool                    `yaml:"throw_on_missing_policy" json:"throw_on_missing_policy"`
	LockTimeout          time.Duration           `yaml:"lock_timeout" json:"lock_timeout"`
	Policies             []RateLimitPolicyConfig `yaml:"policies" json:"policies"`
	Rules                []RateLimitRuleConfig   `yaml:"rules" json:"rules"`
	Redis                RedisConfig             `yaml:"redis" json:"redis"`
	Cleanup              BucketCleanupConfig     `yaml:"cleanup" json:"cleanup"`
}

// RateLimitPolicyConfig is one row of the policy table. A zero LockTimeout
// inherits RateLimitConfig.LockTimeout.
type RateLimitPolicyConfig struct {
	Name        string        `yaml:"name" json:"name"`
	Limit       int           `yaml:"limit" json:"limit"`
	Window      time.Duration `yaml:"window" json:"window"`
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
}

// RateLimitRuleConfig binds a named route to a policy and a partition strategy.
// Value is the header name, claim name, route variable, or constant, depending
// on Partition. FallbackToIP is a pointer so an omitted key defaults to true.
type RateLimitRuleConfig struct {
	Route                string `yaml:"route" json:"route"`
	Policy               string `yaml:"policy" json:"policy"`
	Partition            string `yaml:"partition" json:"partition"`
	Value                string `yaml:"value" json:"value"`
	FallbackToIP         *bool  `yaml:"fallback_to_ip" json:"fallback_to_ip,omitempty"`
	RequireAuthenticated bool   `yaml:"require_authenticated" json:"require_authenticated"`
}

// FallsBackToIP reports whether the rule substitutes the client IP when its
// strategy yields no key.
func (r RateLimitRuleConfig) FallsBackToIP() bool {
	return r.FallbackToIP == nil || *r.FallbackToIP
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// BucketCleanupConfig drives the background job that removes expired buckets.
type BucketCleanupConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Retention        time.Duration `yaml:"retention" json:"retention"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	BatchesPerSecond float64       `yaml:"batches_per_second" json:"batches_per_second"`
}

type AssistantConfig struct {
	Enabled        bool           `yaml:"enabled" json:"enabled"`
	KnowledgeFile  string         `yaml:"knowledge_file" json:"knowledge_file"`
	MatchThreshold float64        `yaml:"match_threshold" json:"match_threshold"`
	Rephrase       RephraseConfig `yaml:"rephrase" json:"rephrase"`
}

// RephraseConfig turns the matched template answer into the final reply with
// a chat completion. An enabled rephraser without an API key leaves the
// assistant unavailable.
type RephraseConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	APIKey      string        `yaml:"api_key" json:"-"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values:
//   - Port 8080, 30-second read/write timeouts
//   - Memory storage so the service starts without external dependencies
//   - Rate limiting enabled against the primary store with three policies
//     (default, reorder, bot) bound to the write-heavy and public routes
//   - Bucket cleanup every 5 minutes, keeping one hour of windows
//   - Transactions retried up to 3 times starting at 50ms
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   50 * time.Millisecond,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				UserIDClaim: "sub",
				RoleClaim:   "role",
				AdminRole:   "admin",
			},
			RateLimit: RateLimitConfig{
				Enabled:              true,
				Store:                BucketStoreStorage,
				ThrowOnMissingPolicy: true,
				LockTimeout:          DefaultLockTimeout,
				Policies: []RateLimitPolicyConfig{
					{Name: "default", Limit: 120, Window: time.Minute},
					{Name: "reorder", Limit: 30, Window: time.Minute},
					{Name: "bot", Limit: 20, Window: time.Minute},
				},
				Rules: []RateLimitRuleConfig{
					{Route: "links.create", Policy: "default", Partition: PartitionUser},
					{Route: "groups.create", Policy: "default", Partition: PartitionUser},
					{Route: "links.resequence", Policy: "reorder", Partition: PartitionUser},
					{Route: "groups.resequence", Policy: "reorder", Partition: PartitionUser},
					{Route: "bot.chat", Policy: "bot", Partition: PartitionIP},
				},
				Redis: RedisConfig{
					Addr:      "localhost:6379",
					PoolSize:  10,
					KeyPrefix: "linqyard:rl:",
				},
				Cleanup: BucketCleanupConfig{
					Enabled:          true,
					Interval:         5 * time.Minute,
					Retention:        time.Hour,
					BatchSize:        500,
					BatchesPerSecond: 5,
				},
			},
		},
		Assistant: AssistantConfig{
			Enabled:        false,
			KnowledgeFile:  "context_docs/faq.json",
			MatchThreshold: 0.45,
			Rephrase: RephraseConfig{
				Enabled:     false,
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				Timeout:     15 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "linqyard",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Assistant.Validate(); err != nil {
		return fmt.Errorf("invalid assistant config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	if !contains([]string{StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Type != StorageTypeMemory && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	if stc.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}

	if stc.Retry.BaseDelay < 0 {
		return errors.New("retry base delay cannot be negative")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.JWT.UserIDClaim == "" {
		return errors.New("jwt user id claim cannot be empty")
	}
	return sec.RateLimit.Validate()
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if !contains([]string{BucketStoreStorage, BucketStoreRedis}, rl.Store) {
		return fmt.Errorf("invalid rate limit store: %s", rl.Store)
	}

	if rl.Store == BucketStoreRedis && rl.Redis.Addr == "" {
		return errors.New("redis address is required when rate limit store is redis")
	}

	if rl.LockTimeout < 0 {
		return errors.New("lock timeout cannot be negative")
	}

	seen := make(map[string]bool, len(rl.Policies))
	for _, p := range rl.Policies {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("policy name cannot be empty")
		}
		if len(p.Name) > MaxPolicyNameLength {
			return fmt.Errorf("policy name longer than %d characters: %.20s...", MaxPolicyNameLength, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate policy: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Limit < 1 {
			return fmt.Errorf("policy %s: limit must be at least 1", p.Name)
		}
		if p.Window < time.Second {
			return fmt.Errorf("policy %s: window must be at least 1s", p.Name)
		}
		if p.LockTimeout < 0 {
			return fmt.Errorf("policy %s: lock timeout cannot be negative", p.Name)
		}
	}

	validPartitions := []string{PartitionIP, PartitionUser, PartitionHeader, PartitionClaim, PartitionRoute, PartitionConstant}
	routes := make(map[string]bool, len(rl.Rules))
	for _, r := range rl.Rules {
		if r.Route == "" {
			return errors.New("rule route cannot be empty")
		}
		if routes[r.Route] {
			return fmt.Errorf("duplicate rule for route: %s", r.Route)
		}
		routes[r.Route] = true
		if r.Policy == "" {
			return fmt.Errorf("rule %s: policy cannot be empty", r.Route)
		}
		if !contains(validPartitions, r.Partition) {
			return fmt.Errorf("rule %s: invalid partition: %s", r.Route, r.Partition)
		}
		switch r.Partition {
		case PartitionHeader, PartitionClaim, PartitionRoute, PartitionConstant:
			if r.Value == "" {
				return fmt.Errorf("rule %s: value is required for %s partition", r.Route, r.Partition)
			}
		}
	}

	if rl.Cleanup.Enabled {
		if rl.Cleanup.Interval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		if rl.Cleanup.Retention <= 0 {
			return errors.New("cleanup retention must be positive")
		}
		if rl.Cleanup.BatchSize < 1 {
			return errors.New("cleanup batch size must be at least 1")
		}
		if rl.Cleanup.BatchesPerSecond <= 0 {
			return errors.New("cleanup batches per second must be positive")
		}
		if longest := rl.LongestWindow(); rl.Cleanup.Retention < longest {
			return fmt.Errorf("cleanup retention %s is shorter than the longest policy window %s", rl.Cleanup.Retention, longest)
		}
	}

	return nil
}

// LongestWindow returns the largest policy window, or zero without policies.
func (rl *RateLimitConfig) LongestWindow() time.Duration {
	var longest time.Duration
	for _, p := range rl.Policies {
		longest = max(longest, p.Window)
	}
	return longest
}

func (ac *AssistantConfig) Validate() error {
	if !ac.Enabled {
		return nil
	}
	if ac.KnowledgeFile == "" {
		return errors.New("knowledge file is required when the assistant is enabled")
	}
	if ac.MatchThreshold < 0 || ac.MatchThreshold > 1 {
		return errors.New("match threshold must be between 0 and 1")
	}
	if ac.Rephrase.Enabled {
		if ac.Rephrase.Model == "" {
			return errors.New("rephrase model is required when rephrasing is enabled")
		}
		if ac.Rephrase.Temperature < 0 || ac.Rephrase.Temperature > 2 {
			return errors.New("rephrase temperature must be between 0 and 2")
		}
		if ac.Rephrase.Timeout < 0 {
			return errors.New("rephrase timeout cannot be negative")
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	if !contains([]string{"stdout", "otlp"}, oc.Tracing.Exporter) {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("otlp endpoint is required for the otlp exporter")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
