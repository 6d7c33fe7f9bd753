package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/shield"
)

// PostCheck runs the PII detector over a tool's result (spec §4.8
// "Post-call check"). PII found taints the session and the post-verdict
// event is pushed into the ring buffer for subsequent chain rules.
func (e *Engine) PostCheck(ctx context.Context, tool string, result any, sessionID string) shield.PostCheckResult {
	detector := e.piiDetector.Load()

	redacted, kinds := detector.RedactValue(result)
	names := kindNames(kinds)

	sess := e.sessions.Get(sessionID)
	if len(names) > 0 {
		sess.TaintWith(names)
	}
	sess.RecordEvent(rule.Event{Tool: tool, Verdict: rule.Allow, Monotonic: time.Now()})

	return shield.PostCheckResult{
		PIITypes:       names,
		RedactedResult: redacted,
	}
}

// stringifyResult renders a tool result as text for callers that only
// need the detector's string-oriented API (e.g. trace logging).
func stringifyResult(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
