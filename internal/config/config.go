// Package config provides PolicyShield's configuration schema: the
// POLICYSHIELD_* environment surface plus an optional YAML rule file,
// bound with viper the way the teacher binds its own (differently named)
// environment surface.
package config

// Config is the top-level runtime configuration for policyshieldd.
type Config struct {
	// Server configures the HTTP listener and request handling.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Engine configures the shield engine's mode, timeouts, and fail policy.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Auth configures the API and admin bearer tokens.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Rules points at the YAML rule file and its optional hot-reload watch.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// Trace configures the JSONL trace recorder.
	Trace TraceConfig `yaml:"trace" mapstructure:"trace"`

	// Approval configures the approval backend and its timeouts.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Debug enables verbose error detail in the HTTP error envelope.
	Debug bool `yaml:"debug" mapstructure:"debug"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum slog level. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler. Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// CORSOrigins is the comma-separated allowlist for the Access-Control-Allow-Origin
	// response header. Empty disables CORS entirely.
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`

	// MaxRequestSize bounds request bodies in bytes. Defaults to 1048576 (1 MiB).
	MaxRequestSize int64 `yaml:"max_request_size" mapstructure:"max_request_size" validate:"omitempty,min=1"`

	// MaxConcurrentChecks bounds in-flight /check requests via a semaphore.
	// Defaults to 100.
	MaxConcurrentChecks int `yaml:"max_concurrent_checks" mapstructure:"max_concurrent_checks" validate:"omitempty,min=1"`

	// RequestTimeout bounds the whole HTTP request lifecycle in seconds.
	// Defaults to 30.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds" validate:"omitempty,min=1"`

	// IdempotencyCacheSize bounds the number of cached idempotency-key
	// responses. Defaults to 10000.
	IdempotencyCacheSize int `yaml:"idempotency_cache_size" mapstructure:"idempotency_cache_size" validate:"omitempty,min=1"`

	// IdempotencyTTLSeconds is how long a cached response stays valid.
	// Defaults to 300 (5 minutes).
	IdempotencyTTLSeconds int `yaml:"idempotency_ttl_seconds" mapstructure:"idempotency_ttl_seconds" validate:"omitempty,min=1"`
}

// EngineConfig configures the shield engine.
type EngineConfig struct {
	// Mode is the initial operating mode: "enforce", "audit", or "disabled".
	// Defaults to "enforce".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=enforce audit disabled"`

	// FailMode controls verdict on internal error or timeout: "open" or "closed".
	// Defaults to "closed".
	FailMode string `yaml:"fail_mode" mapstructure:"fail_mode" validate:"omitempty,oneof=open closed"`

	// CheckTimeoutSeconds bounds a single Check call. Defaults to 5.
	CheckTimeoutSeconds int `yaml:"check_timeout_seconds" mapstructure:"check_timeout_seconds" validate:"omitempty,min=1"`

	// ApprovalPollTimeoutSeconds bounds a check-approval long-poll wait. Defaults to 30.
	ApprovalPollTimeoutSeconds int `yaml:"approval_poll_timeout_seconds" mapstructure:"approval_poll_timeout_seconds" validate:"omitempty,min=1"`

	// Environment is the deployment environment string context_expr/Environment
	// rules match against (e.g. "prod", "staging").
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// AuthConfig configures the two bearer tokens PolicyShield accepts.
type AuthConfig struct {
	// APITokenHash is the Argon2id hash of the API bearer token.
	APITokenHash string `yaml:"api_token_hash" mapstructure:"api_token_hash"`

	// AdminTokenHash is the Argon2id hash of the admin bearer token.
	AdminTokenHash string `yaml:"admin_token_hash" mapstructure:"admin_token_hash"`
}

// RulesConfig configures where rules load from and how reload is triggered.
type RulesConfig struct {
	// Path is the YAML rule file to load at boot and on reload.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`

	// Watch enables fsnotify-driven hot reload when Path changes on disk.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// TraceConfig configures the JSONL trace recorder.
type TraceConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	CacheSize     int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// ApprovalConfig configures the approval backend.
type ApprovalConfig struct {
	// Backend selects "memory" or "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// MaxPending bounds the number of simultaneously pending approvals.
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" validate:"omitempty,min=1"`

	// TimeoutVerdict is the auto-verdict reported once a pending approval
	// exceeds its poll timeout: "block" or "allow". Defaults to "block".
	TimeoutVerdict string `yaml:"timeout_verdict" mapstructure:"timeout_verdict" validate:"omitempty,oneof=block allow"`

	// TTLSeconds bounds how long a request may sit unresolved before the
	// backend's sweep marks it StatusTimeout. Defaults to 3600 (1h, spec §4.6).
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds" validate:"omitempty,min=1"`

	// SweepIntervalSeconds is how often the backend scans for requests past
	// TTLSeconds. Defaults to 60.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" mapstructure:"sweep_interval_seconds" validate:"omitempty,min=1"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.MaxRequestSize == 0 {
		c.Server.MaxRequestSize = 1048576
	}
	if c.Server.MaxConcurrentChecks == 0 {
		c.Server.MaxConcurrentChecks = 100
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = 30
	}
	if c.Server.IdempotencyCacheSize == 0 {
		c.Server.IdempotencyCacheSize = 10000
	}
	if c.Server.IdempotencyTTLSeconds == 0 {
		c.Server.IdempotencyTTLSeconds = 300
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "enforce"
	}
	if c.Engine.FailMode == "" {
		c.Engine.FailMode = "closed"
	}
	if c.Engine.CheckTimeoutSeconds == 0 {
		c.Engine.CheckTimeoutSeconds = 5
	}
	if c.Engine.ApprovalPollTimeoutSeconds == 0 {
		c.Engine.ApprovalPollTimeoutSeconds = 30
	}

	if c.Trace.RetentionDays == 0 {
		c.Trace.RetentionDays = 7
	}
	if c.Trace.MaxFileSizeMB == 0 {
		c.Trace.MaxFileSizeMB = 100
	}
	if c.Trace.CacheSize == 0 {
		c.Trace.CacheSize = 1000
	}
	if c.Trace.Dir == "" {
		c.Trace.Dir = "./trace"
	}

	if c.Approval.Backend == "" {
		c.Approval.Backend = "memory"
	}
	if c.Approval.MaxPending == 0 {
		c.Approval.MaxPending = 100
	}
	if c.Approval.TimeoutVerdict == "" {
		c.Approval.TimeoutVerdict = "block"
	}
	if c.Approval.SQLitePath == "" {
		c.Approval.SQLitePath = "./approvals.db"
	}
	if c.Approval.TTLSeconds == 0 {
		c.Approval.TTLSeconds = 3600
	}
	if c.Approval.SweepIntervalSeconds == 0 {
		c.Approval.SweepIntervalSeconds = 60
	}
}
