// Package sanitizer implements the pre-rule input sanitization stage:
// security detector scanning, operator blocked_patterns, Unicode
// normalization, and structural limits (spec §4.4).
package sanitizer

// RejectRuleID is the synthetic rule id attached to a BLOCK verdict
// produced by the sanitizer rather than by a configured rule.
const RejectRuleID = "__sanitizer__"

// maxReasonSample bounds how much of a matched substring is echoed back
// in a rejection reason.
const maxReasonSample = 100

// Rejection describes why the sanitizer blocked a call. Stage names one
// of "detector", "blocked_pattern", or "structural_limit".
type Rejection struct {
	Stage  string
	Name   string // detector/pattern name, or the violated limit's name
	Reason string
}

// Config bounds the sanitizer's structural checks. Zero values disable
// the corresponding check.
type Config struct {
	TrimWhitespace  bool
	MaxStringLength int
	MaxArgsDepth    int
	MaxTotalKeys    int
}

func truncate(s string) string {
	if len(s) <= maxReasonSample {
		return s
	}
	return s[:maxReasonSample]
}
