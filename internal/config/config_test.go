package config

import "testing"

func TestConfigSetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.Server.LogFormat, "text")
	}
	if cfg.Server.MaxRequestSize != 1048576 {
		t.Errorf("MaxRequestSize = %d, want 1048576", cfg.Server.MaxRequestSize)
	}
	if cfg.Server.MaxConcurrentChecks != 100 {
		t.Errorf("MaxConcurrentChecks = %d, want 100", cfg.Server.MaxConcurrentChecks)
	}
	if cfg.Server.RequestTimeoutSeconds != 30 {
		t.Errorf("RequestTimeoutSeconds = %d, want 30", cfg.Server.RequestTimeoutSeconds)
	}
	if cfg.Engine.Mode != "enforce" {
		t.Errorf("Engine.Mode = %q, want enforce", cfg.Engine.Mode)
	}
	if cfg.Engine.FailMode != "closed" {
		t.Errorf("Engine.FailMode = %q, want closed", cfg.Engine.FailMode)
	}
	if cfg.Engine.CheckTimeoutSeconds != 5 {
		t.Errorf("Engine.CheckTimeoutSeconds = %d, want 5", cfg.Engine.CheckTimeoutSeconds)
	}
	if cfg.Engine.ApprovalPollTimeoutSeconds != 30 {
		t.Errorf("Engine.ApprovalPollTimeoutSeconds = %d, want 30", cfg.Engine.ApprovalPollTimeoutSeconds)
	}
	if cfg.Approval.Backend != "memory" {
		t.Errorf("Approval.Backend = %q, want memory", cfg.Approval.Backend)
	}
	if cfg.Approval.TimeoutVerdict != "block" {
		t.Errorf("Approval.TimeoutVerdict = %q, want block", cfg.Approval.TimeoutVerdict)
	}
	if cfg.Trace.RetentionDays != 7 {
		t.Errorf("Trace.RetentionDays = %d, want 7", cfg.Trace.RetentionDays)
	}
}

func TestConfigSetDefaultsPreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090"},
		Engine: EngineConfig{Mode: "audit", FailMode: "open"},
		Approval: ApprovalConfig{
			Backend:    "sqlite",
			MaxPending: 50,
		},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Engine.Mode != "audit" {
		t.Errorf("Engine.Mode was overwritten: got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.FailMode != "open" {
		t.Errorf("Engine.FailMode was overwritten: got %q", cfg.Engine.FailMode)
	}
	if cfg.Approval.Backend != "sqlite" {
		t.Errorf("Approval.Backend was overwritten: got %q", cfg.Approval.Backend)
	}
	if cfg.Approval.MaxPending != 50 {
		t.Errorf("Approval.MaxPending was overwritten: got %d", cfg.Approval.MaxPending)
	}
}

func TestConfigSetDefaultsSQLitePath(t *testing.T) {
	t.Parallel()

	cfg := Config{Approval: ApprovalConfig{Backend: "sqlite"}}
	cfg.SetDefaults()

	if cfg.Approval.SQLitePath == "" {
		t.Error("SQLitePath should default to a non-empty path")
	}
}
