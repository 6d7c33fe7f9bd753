// Package engine implements the Shield Engine orchestrator: the ten-stage
// check pipeline, hot reload, kill switch, and approval/trace wiring
// described in spec §4.8-§4.10.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/detectors"
	"github.com/policyshield/policyshield/internal/domain/pii"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/sanitizer"
	"github.com/policyshield/policyshield/internal/domain/session"
	"github.com/policyshield/policyshield/internal/domain/shield"
	"github.com/policyshield/policyshield/internal/domain/trace"
)

// FailMode chooses the verdict the engine returns when a pipeline stage
// panics or errors unexpectedly.
type FailMode string

const (
	FailOpen   FailMode = "open"   // return ALLOW on internal error
	FailClosed FailMode = "closed" // return BLOCK on internal error
)

// Config bounds the engine's behavior; everything here is reloadable
// except Mode and FailMode, which are runtime-toggled through dedicated
// operations rather than a rule-file reload.
type Config struct {
	Mode           shield.Mode
	FailMode       FailMode
	CheckTimeout   time.Duration
	ApprovalWait   time.Duration
	TimeoutVerdict approval.AutoVerdictOnTimeout
	Environment    string
}

const defaultCheckTimeout = 5 * time.Second

// Engine is the orchestrator. All fields touched by concurrent checks are
// either atomics or guarded by their own internal locking (sessions,
// approvals); reloadMu serializes reload/kill/resume against each other
// and against config mutation, never against a single check's hot path.
type Engine struct {
	reloadMu sync.Mutex

	ruleSet atomic.Pointer[rule.CompiledRuleSet]
	mode    atomic.Value // shield.Mode

	killed    atomic.Bool
	killReason atomic.Value // string

	cfgMu sync.RWMutex
	cfg   Config

	sessions  *session.Manager
	approvals approval.Backend
	recorder  trace.Recorder

	detectorRegistry *detectors.Registry
	piiDetector      atomic.Pointer[pii.Detector]
	exprEval         rule.ExprEvaluator

	logger *slog.Logger

	loadedAt atomic.Value // time.Time
}

// New builds an Engine around an initially-compiled rule set. The engine
// owns nothing about HTTP transport; it is a pure orchestration core
// consumed by the inbound adapter.
func New(rs *rule.CompiledRuleSet, cfg Config, sessions *session.Manager, approvals approval.Backend, recorder trace.Recorder, registry *detectors.Registry, eval rule.ExprEvaluator, logger *slog.Logger) (*Engine, error) {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = shield.ModeEnforce
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("engine: invalid mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = slog.Default()
	}

	detector, err := pii.NewDetector(customKindsOf(rs))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		sessions:         sessions,
		approvals:        approvals,
		recorder:         recorder,
		detectorRegistry: registry,
		exprEval:         eval,
		logger:           logger,
		cfg:              cfg,
	}
	e.ruleSet.Store(rs)
	e.mode.Store(cfg.Mode)
	e.killReason.Store("")
	e.piiDetector.Store(detector)
	e.loadedAt.Store(time.Now())
	return e, nil
}

func customKindsOf(rs *rule.CompiledRuleSet) map[pii.Kind]string {
	out := make(map[pii.Kind]string)
	for _, p := range rs.Raw().CustomPIIKinds {
		out[pii.Kind(p.Kind)] = p.Pattern
	}
	return out
}

// Mode returns the engine's current operating mode.
func (e *Engine) Mode() shield.Mode { return e.mode.Load().(shield.Mode) }

// SetMode changes the engine's operating mode. Distinct from reload: it
// never touches the compiled rule set.
func (e *Engine) SetMode(m shield.Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("engine: invalid mode %q", m)
	}
	e.mode.Store(m)
	return nil
}

// Kill sets the kill switch: every check blocks until Resume is called,
// regardless of mode.
func (e *Engine) Kill(reason string) {
	e.killed.Store(true)
	e.killReason.Store(reason)
}

// Resume clears the kill switch.
func (e *Engine) Resume() {
	e.killed.Store(false)
	e.killReason.Store("")
}

// Killed reports the kill switch's current state and reason.
func (e *Engine) Killed() (bool, string) {
	reason, _ := e.killReason.Load().(string)
	return e.killed.Load(), reason
}

// ruleSetSnapshot returns the currently active compiled rule set. Callers
// take this once per check so a concurrent reload never produces a
// mixture of old and new rules within one check (spec §4.9).
func (e *Engine) ruleSetSnapshot() *rule.CompiledRuleSet {
	return e.ruleSet.Load()
}

// Summary reports the engine's current policy snapshot for
// get_policy_summary.
func (e *Engine) Summary() shield.PolicySummary {
	rs := e.ruleSetSnapshot()
	killed, reason := e.Killed()
	loadedAt, _ := e.loadedAt.Load().(time.Time)
	return shield.PolicySummary{
		Mode:           e.Mode(),
		RuleCount:      rs.Count(),
		RateLimitCount: len(rs.RateLimits()),
		HoneypotCount:  len(rs.Raw().Honeypots),
		Killed:         killed,
		KillReason:     reason,
		LoadedAt:       loadedAt.Format(time.RFC3339),
	}
}
