package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file (if any) and the
// POLICYSHIELD_* environment surface (spec §6, names authoritative).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("policyshield")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/policyshield")
	}

	viper.SetEnvPrefix("POLICYSHIELD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// bindEnvKeys binds every POLICYSHIELD_* name named in spec.md §6, plus the
// additional operational surface (bind address, rule file path, trace/
// approval backend selection) this spec adds beyond the wire contract.
func bindEnvKeys() {
	_ = viper.BindEnv("auth.api_token_hash", "POLICYSHIELD_API_TOKEN")
	_ = viper.BindEnv("auth.admin_token_hash", "POLICYSHIELD_ADMIN_TOKEN")
	_ = viper.BindEnv("server.cors_origins", "POLICYSHIELD_CORS_ORIGINS")
	_ = viper.BindEnv("server.max_request_size", "POLICYSHIELD_MAX_REQUEST_SIZE")
	_ = viper.BindEnv("server.max_concurrent_checks", "POLICYSHIELD_MAX_CONCURRENT_CHECKS")
	_ = viper.BindEnv("server.request_timeout_seconds", "POLICYSHIELD_REQUEST_TIMEOUT")
	_ = viper.BindEnv("server.idempotency_cache_size", "POLICYSHIELD_IDEMPOTENCY_CACHE_SIZE")
	_ = viper.BindEnv("server.idempotency_ttl_seconds", "POLICYSHIELD_IDEMPOTENCY_TTL_SECONDS")
	_ = viper.BindEnv("engine.check_timeout_seconds", "POLICYSHIELD_ENGINE_TIMEOUT")
	_ = viper.BindEnv("engine.fail_mode", "POLICYSHIELD_FAIL_MODE")
	_ = viper.BindEnv("server.log_format", "POLICYSHIELD_LOG_FORMAT")
	_ = viper.BindEnv("engine.approval_poll_timeout_seconds", "POLICYSHIELD_APPROVAL_POLL_TIMEOUT")
	_ = viper.BindEnv("debug", "POLICYSHIELD_DEBUG")

	_ = viper.BindEnv("server.http_addr", "POLICYSHIELD_HTTP_ADDR")
	_ = viper.BindEnv("server.log_level", "POLICYSHIELD_LOG_LEVEL")
	_ = viper.BindEnv("engine.mode", "POLICYSHIELD_MODE")
	_ = viper.BindEnv("engine.environment", "POLICYSHIELD_ENVIRONMENT")
	_ = viper.BindEnv("rules.path", "POLICYSHIELD_RULES_PATH")
	_ = viper.BindEnv("rules.watch", "POLICYSHIELD_RULES_WATCH")
	_ = viper.BindEnv("trace.dir", "POLICYSHIELD_TRACE_DIR")
	_ = viper.BindEnv("approval.backend", "POLICYSHIELD_APPROVAL_BACKEND")
	_ = viper.BindEnv("approval.sqlite_path", "POLICYSHIELD_APPROVAL_SQLITE_PATH")
	_ = viper.BindEnv("approval.timeout_verdict", "POLICYSHIELD_APPROVAL_TIMEOUT_VERDICT")
	_ = viper.BindEnv("approval.ttl_seconds", "POLICYSHIELD_APPROVAL_TTL_SECONDS")
	_ = viper.BindEnv("approval.sweep_interval_seconds", "POLICYSHIELD_APPROVAL_SWEEP_INTERVAL_SECONDS")
}

// LoadConfig reads the configuration file (if present), applies environment
// overrides and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded,
// or an empty string if none was found (environment-only configuration).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
