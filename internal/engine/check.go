package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/pii"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/sanitizer"
	"github.com/policyshield/policyshield/internal/domain/session"
	"github.com/policyshield/policyshield/internal/domain/shield"
	"github.com/policyshield/policyshield/internal/domain/trace"
)

// Check runs the full ten-stage pipeline for one tool call (spec §4.8).
func (e *Engine) Check(ctx context.Context, tool string, args map[string]any, sessionID, sender string) shield.Result {
	start := time.Now()

	cfg := e.snapshotConfig()
	ctx, cancel := context.WithTimeout(ctx, cfg.CheckTimeout)
	defer cancel()

	resultCh := make(chan shield.Result, 1)
	go func() {
		resultCh <- e.runPipeline(ctx, tool, args, sessionID, sender, cfg, start)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
		res := e.timeoutResult(cfg, start)
		e.trace(sessionID, tool, res, start, "")
		return res
	}
}

func (e *Engine) timeoutResult(cfg Config, start time.Time) shield.Result {
	verdict := rule.Block
	if cfg.FailMode == FailOpen {
		verdict = rule.Allow
	}
	return shield.Result{
		Verdict:   verdict,
		RuleID:    shield.RuleIDFailure,
		Message:   shield.ErrCheckTimeout.Error(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

// runPipeline executes stages 1-9; Check wraps it with the timeout and
// always performs stage 10 (trace) itself so a trace is recorded even on
// timeout.
func (e *Engine) runPipeline(ctx context.Context, tool string, args map[string]any, sessionID, sender string, cfg Config, start time.Time) (out shield.Result) {
	defer func() {
		if r := recover(); r != nil {
			out = e.failureResult(cfg, start, fmt.Errorf("panic: %v", r))
		}
	}()

	// 1. Mode gate.
	if e.Mode() == shield.ModeDisabled {
		res := shield.Result{Verdict: rule.Allow, LatencyMS: time.Since(start).Milliseconds()}
		e.trace(sessionID, tool, res, start, "")
		return res
	}

	auditMode := e.Mode() == shield.ModeAudit

	// 2. Kill switch — overrides AUDIT.
	if killed, reason := e.Killed(); killed {
		res := shield.Result{
			Verdict:   rule.Block,
			RuleID:    shield.RuleIDKillSwitch,
			Message:   reason,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		e.trace(sessionID, tool, res, start, "")
		return res
	}

	rs := e.ruleSetSnapshot()

	// 3. Honeypot — overrides AUDIT.
	if rs.IsHoneypot(tool) {
		e.logger.Error("honeypot tool invoked", "tool", tool, "session_id", sessionID, "sender", sender)
		res := shield.Result{
			Verdict:   rule.Block,
			RuleID:    shield.RuleIDHoneypot,
			Message:   "tool is a monitored honeypot",
			LatencyMS: time.Since(start).Milliseconds(),
		}
		e.trace(sessionID, tool, res, start, "")
		return res
	}

	sess := e.sessions.Get(sessionID)

	res := e.checkCore(ctx, rs, tool, args, sess, sender, cfg)
	var shadow string

	// 8. Session update happens inside checkCore's verdict shaping so the
	// counter policy (ALLOW/REDACT only) is applied at the right verdict.

	// 9. Mode override. The traced entry keeps the real verdict's fields
	// (rule ID, PII types, approval) so the audit trail still shows what
	// would have fired; only the externally-returned verdict is masked.
	traced := res
	if auditMode && res.Verdict != rule.Allow {
		shadow = string(res.Verdict)
		res.Verdict = rule.Allow
		traced.Verdict = rule.Allow // entry's Verdict column is what the caller saw; ShadowVerdict is what would have fired
	}

	// 10. Trace.
	e.trace(sessionID, tool, traced, start, shadow)
	return res
}

// checkCore runs stages 4-7 (sanitizer, rate limits, matcher, verdict
// shaping) and stage 8 (session update on ALLOW/REDACT). The AUDIT mode
// override (stage 9) is applied by the caller, so checkCore's result
// always reflects the real verdict.
func (e *Engine) checkCore(ctx context.Context, rs *rule.CompiledRuleSet, tool string, args map[string]any, sess *session.State, sender string, cfg Config) shield.Result {
	latency := func(start time.Time) int64 { return time.Since(start).Milliseconds() }
	start := time.Now()

	// 4. Sanitizer.
	san := sanitizer.New(e.detectorRegistry, sanitizerConfig(rs))
	cleaned, rej := san.Run(args, rs)
	if rej != nil {
		return shield.Result{
			Verdict:   rule.Block,
			RuleID:    sanitizer.RejectRuleID,
			Message:   rej.Reason,
			LatencyMS: latency(start),
		}
	}
	args = cleaned

	// 5. Rate limits.
	for _, rl := range rs.RateLimits() {
		if rl.Tool != "" && rl.Tool != tool {
			continue
		}
		if sess.CheckRateLimit(rl, time.Now()) {
			return shield.Result{
				Verdict:   rule.Block,
				RuleID:    shield.RuleIDRateLimit,
				Message:   fmt.Sprintf("rate limit %q exceeded", rl.ID),
				LatencyMS: latency(start),
			}
		}
	}

	// 6. Matcher.
	matchIn := rule.MatchInput{
		Tool:        tool,
		Args:        args,
		Session:     sess,
		SessionID:   sess.ID,
		Sender:      sender,
		Environment: cfg.Environment,
		Now:         time.Now(),
	}
	matched, matchErrs := rs.Match(matchIn, e.exprEval)
	for _, merr := range matchErrs {
		e.logger.Warn("rule match error", "error", merr, "tool", tool)
	}

	then := rs.DefaultVerdict()
	var ruleID, message string
	var piiAction rule.Verdict
	var strategy rule.ApprovalStrategy
	if matched != nil {
		then = matched.Then
		ruleID = matched.ID
		message = matched.Message
		piiAction = matched.PIIAction
		strategy = matched.ApprovalStrategy
	}

	// A rule's pii_action overrides its then verdict, but only once PII is
	// actually present in args — an untainted call keeps the rule's
	// ordinary verdict.
	if piiAction != "" {
		if found := e.piiDetector.Load().DetectValue(args); len(found) > 0 {
			then = piiAction
		}
	}

	// 7. Verdict shaping.
	res := e.shapeVerdict(ctx, then, strategy, tool, args, ruleID, message, sess)
	res.LatencyMS = latency(start)

	// 8. Session update.
	if res.Verdict == rule.Allow || res.Verdict == rule.Redact {
		sess.RecordEvent(rule.Event{Tool: tool, Verdict: res.Verdict, Monotonic: time.Now()})
	}

	return res
}

func sanitizerConfig(rs *rule.CompiledRuleSet) sanitizer.Config {
	sc := rs.Raw().Sanitizer
	return sanitizer.Config{
		TrimWhitespace:  sc.TrimWhitespace,
		MaxStringLength: sc.MaxStringLength,
		MaxArgsDepth:    sc.MaxArgsDepth,
		MaxTotalKeys:    sc.MaxTotalKeys,
	}
}

func (e *Engine) shapeVerdict(ctx context.Context, then rule.Verdict, strategy rule.ApprovalStrategy, tool string, args map[string]any, ruleID, message string, sess *session.State) shield.Result {
	switch then {
	case rule.Block:
		return shield.Result{Verdict: rule.Block, RuleID: ruleID, Message: message}

	case rule.Redact:
		detector := e.piiDetector.Load()
		redacted, kinds := detector.RedactValue(args)
		return shield.Result{
			Verdict:      rule.Redact,
			RuleID:       ruleID,
			Message:      message,
			ModifiedArgs: redacted.(map[string]any),
			PIITypes:     kindNames(kinds),
		}

	case rule.Approve:
		return e.shapeApproval(ctx, strategy, tool, args, ruleID, message, sess)

	default: // ALLOW
		return shield.Result{Verdict: rule.Allow, RuleID: ruleID}
	}
}

func (e *Engine) shapeApproval(ctx context.Context, strategy rule.ApprovalStrategy, tool string, args map[string]any, ruleID, message string, sess *session.State) shield.Result {
	key := approvalCacheKey(strategy, ruleID, tool)
	if cached, ok := sess.ApprovalCache(key); ok {
		if cached == rule.Allow {
			return shield.Result{Verdict: rule.Allow, RuleID: ruleID}
		}
		return shield.Result{Verdict: rule.Block, RuleID: ruleID, Message: "previously denied"}
	}

	req := approval.Request{
		ID:        uuid.New().String(),
		Tool:      tool,
		Args:      args,
		RuleID:    ruleID,
		Message:   message,
		SessionID: sess.ID,
		CreatedAt: time.Now(),
		Status:    approval.StatusPending,
		Strategy:  strategy,
	}
	id, err := e.approvals.Submit(ctx, req)
	if err != nil {
		verdict := rule.Block
		if e.snapshotConfig().FailMode == FailOpen {
			verdict = rule.Allow
		}
		return shield.Result{Verdict: verdict, RuleID: shield.RuleIDFailure, Message: err.Error()}
	}

	sess.CacheApproval(key, rule.Approve) // pending marker until resolved
	return shield.Result{Verdict: rule.Approve, RuleID: ruleID, Message: message, ApprovalID: id}
}

// approvalCacheKey builds the memoization key within a session's approval
// cache. Broader strategies collapse more calls onto the same key:
// per_tool and per_rule ignore which rule/tool respectively triggered the
// approval, per_session collapses everything in the session onto one
// decision, and "once" (the default) is the finest grain — keyed on the
// exact rule+tool pair, so only a repeat of that exact combination reuses
// the earlier decision.
func approvalCacheKey(strategy rule.ApprovalStrategy, ruleID, tool string) string {
	switch strategy {
	case rule.StrategyPerTool:
		return "tool:" + tool
	case rule.StrategyPerRule:
		return "rule:" + ruleID
	case rule.StrategyPerSession:
		return "session:*"
	default: // once
		return "once:" + ruleID + ":" + tool
	}
}

func kindNames(kinds map[pii.Kind]bool) []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, string(k))
	}
	return out
}

func (e *Engine) failureResult(cfg Config, start time.Time, err error) shield.Result {
	verdict := rule.Block
	if cfg.FailMode == FailOpen {
		verdict = rule.Allow
	}
	e.logger.Error("check pipeline error", "error", err)
	return shield.Result{
		Verdict:   verdict,
		RuleID:    shield.RuleIDFailure,
		Message:   err.Error(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

func (e *Engine) snapshotConfig() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) trace(sessionID, tool string, res shield.Result, start time.Time, shadowVerdict string) {
	if e.recorder == nil {
		return
	}
	entry := trace.Entry{
		Timestamp:     start,
		SessionID:     sessionID,
		Tool:          tool,
		Verdict:       string(res.Verdict),
		RuleID:        res.RuleID,
		LatencyMS:     res.LatencyMS,
		PIITypes:      res.PIITypes,
		ShadowVerdict: shadowVerdict,
	}
	if res.ApprovalID != "" {
		entry.Approval = &trace.ApprovalInfo{ApprovalID: res.ApprovalID, Status: string(approval.StatusPending)}
	}
	e.recorder.Record(entry)
}
