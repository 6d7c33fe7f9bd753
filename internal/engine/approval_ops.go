package engine

import (
	"context"
	"time"

	"github.com/policyshield/policyshield/internal/domain/approval"
	"github.com/policyshield/policyshield/internal/domain/rule"
)

// GetApprovalStatus reports a pending approval's current status,
// resolving a stale pending request into `timeout` per the configured
// auto-verdict and caching the outcome under its rule's approval key so
// later identical calls aren't re-prompted (spec §4.6).
func (e *Engine) GetApprovalStatus(ctx context.Context, id string) (approval.Request, error) {
	req, err := e.approvals.GetStatus(ctx, id)
	if err != nil {
		return approval.Request{}, err
	}
	if req.Status == approval.StatusTimeout {
		e.cacheTimeoutOutcome(req)
	}
	return req, nil
}

func (e *Engine) cacheTimeoutOutcome(req approval.Request) {
	cfg := e.snapshotConfig()
	verdict := rule.Block
	if cfg.TimeoutVerdict == approval.TimeoutAutoAllow {
		verdict = rule.Allow
	}
	sess := e.sessions.Get(req.SessionID)
	key := approvalCacheKey(req.Strategy, req.RuleID, req.Tool)
	sess.CacheApproval(key, verdict)
}

// RespondApproval resolves a pending approval request (admin action).
func (e *Engine) RespondApproval(ctx context.Context, id string, approved bool, responder, comment string) error {
	if err := e.approvals.Respond(ctx, id, approved, responder, comment); err != nil {
		return err
	}
	req, err := e.approvals.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	sess := e.sessions.Get(req.SessionID)
	verdict := rule.Block
	if approved {
		verdict = rule.Allow
	}
	key := approvalCacheKey(req.Strategy, req.RuleID, req.Tool)
	sess.CacheApproval(key, verdict)
	return nil
}

// PendingApprovals lists every approval still awaiting a human decision,
// for the admin pending-approvals listing (spec §6). Args are sanitized
// for external display before being returned.
func (e *Engine) PendingApprovals(ctx context.Context) ([]approval.Request, error) {
	reqs, err := e.approvals.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	secrets, _ := e.detectorRegistry.Pack("secret_detection")
	detector := e.piiDetector.Load()
	for i := range reqs {
		reqs[i].Args = approval.SanitizeForExternal(reqs[i].Args, detector, secrets)
	}
	return reqs, nil
}

// WaitApproval blocks until an approval resolves or the configured
// approval-wait timeout elapses.
func (e *Engine) WaitApproval(ctx context.Context, id string) (approval.Response, error) {
	cfg := e.snapshotConfig()
	timeout := cfg.ApprovalWait
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return e.approvals.WaitForResponse(ctx, id, timeout)
}
