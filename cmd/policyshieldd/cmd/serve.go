package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	httpadapter "github.com/policyshield/policyshield/internal/adapter/inbound/http"
	"github.com/policyshield/policyshield/internal/adapter/outbound/audit"
	"github.com/policyshield/policyshield/internal/adapter/outbound/cel"
	"github.com/policyshield/policyshield/internal/adapter/outbound/memory"
	"github.com/policyshield/policyshield/internal/adapter/outbound/sqlite"
	"github.com/policyshield/policyshield/internal/config"
	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/auth"
	"github.com/policyshield/policyshield/internal/domain/detectors"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/session"
	"github.com/policyshield/policyshield/internal/domain/shield"
	"github.com/policyshield/policyshield/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogFormat, cfg.Server.LogLevel)

	raw, err := rule.LoadRuleSetFromFile(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	compiled, err := raw.Compile()
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	sessions := session.NewManager(session.Config{})
	sessions.StartSweep()
	defer sessions.Stop()

	approvals, closeApprovals, err := newApprovalBackend(cfg.Approval)
	if err != nil {
		return fmt.Errorf("approval backend: %w", err)
	}
	defer closeApprovals()

	sweepInterval := time.Duration(cfg.Approval.SweepIntervalSeconds) * time.Second
	if sweeper, ok := approvals.(interface{ StartSweep(time.Duration) }); ok {
		sweeper.StartSweep(sweepInterval)
		if stopper, ok := approvals.(interface{ Stop() }); ok {
			defer stopper.Stop()
		}
	}

	recorder, err := audit.NewFileRecorder(audit.Config{
		Dir:           cfg.Trace.Dir,
		RetentionDays: cfg.Trace.RetentionDays,
		MaxFileSizeMB: cfg.Trace.MaxFileSizeMB,
		CacheSize:     cfg.Trace.CacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("trace recorder: %w", err)
	}
	defer recorder.Close()

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("cel evaluator: %w", err)
	}

	registry := detectors.NewDefaultRegistry()

	engineCfg := engine.Config{
		Mode:           shield.Mode(cfg.Engine.Mode),
		FailMode:       engine.FailMode(cfg.Engine.FailMode),
		CheckTimeout:   time.Duration(cfg.Engine.CheckTimeoutSeconds) * time.Second,
		ApprovalWait:   time.Duration(cfg.Engine.ApprovalPollTimeoutSeconds) * time.Second,
		TimeoutVerdict: approval.AutoVerdictOnTimeout(cfg.Approval.TimeoutVerdict),
		Environment:    cfg.Engine.Environment,
	}

	eng, err := engine.New(compiled, engineCfg, sessions, approvals, recorder, registry, evaluator, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	authn, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth tokens: %w", err)
	}
	lockout := auth.NewAdminLockout()

	metrics := httpadapter.NewMetrics(prometheus.DefaultRegisterer)

	server := httpadapter.NewServer(eng, authn, lockout, metrics, logger, httpadapter.Options{
		Addr:                cfg.Server.HTTPAddr,
		CORSOrigins:         cfg.Server.CORSOrigins,
		MaxRequestSize:      cfg.Server.MaxRequestSize,
		MaxConcurrentChecks: cfg.Server.MaxConcurrentChecks,
		RequestTimeout:      time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		Version:             Version,
		FailMode:            engine.FailMode(cfg.Engine.FailMode),
		TimeoutVerdictAllow: cfg.Approval.TimeoutVerdict == string(approval.TimeoutAutoAllow),
		RulesLoader: func() (rule.RuleSet, error) {
			return rule.LoadRuleSetFromFile(cfg.Rules.Path)
		},
		Debug:                cfg.Debug,
		IdempotencyCacheSize: cfg.Server.IdempotencyCacheSize,
		IdempotencyTTL:       time.Duration(cfg.Server.IdempotencyTTLSeconds) * time.Second,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return server.Start(ctx, httpadapter.Options{
		Addr:                 cfg.Server.HTTPAddr,
		CORSOrigins:          cfg.Server.CORSOrigins,
		MaxRequestSize:       cfg.Server.MaxRequestSize,
		MaxConcurrentChecks:  cfg.Server.MaxConcurrentChecks,
		RequestTimeout:       time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		Debug:                cfg.Debug,
		IdempotencyCacheSize: cfg.Server.IdempotencyCacheSize,
		IdempotencyTTL:       time.Duration(cfg.Server.IdempotencyTTLSeconds) * time.Second,
	})
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newApprovalBackend(cfg config.ApprovalConfig) (approval.Backend, func(), error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch cfg.Backend {
	case "sqlite":
		store, err := sqlite.NewApprovalStore(cfg.SQLitePath, cfg.MaxPending, ttl)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		store := memory.NewApprovalStore(cfg.MaxPending, ttl)
		return store, func() {}, nil
	}
}

// newAuthenticator hashes the raw tokens read from POLICYSHIELD_API_TOKEN /
// POLICYSHIELD_ADMIN_TOKEN into Argon2id digests at startup; the
// Authenticator only ever compares against the hash.
func newAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	apiHash, err := hashIfSet(cfg.APITokenHash)
	if err != nil {
		return nil, fmt.Errorf("hash api token: %w", err)
	}
	adminHash, err := hashIfSet(cfg.AdminTokenHash)
	if err != nil {
		return nil, fmt.Errorf("hash admin token: %w", err)
	}
	return auth.NewAuthenticator(apiHash, adminHash), nil
}

func hashIfSet(rawToken string) (string, error) {
	if rawToken == "" {
		return "", nil
	}
	return auth.HashKeyArgon2id(rawToken)
}
