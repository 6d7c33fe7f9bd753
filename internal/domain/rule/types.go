// Package rule contains the declarative rule model and matcher for
// PolicyShield's tool-call authorization checks.
package rule

import "time"

// Verdict is the closed set of outcomes a check can produce.
type Verdict string

const (
	Allow   Verdict = "ALLOW"
	Block   Verdict = "BLOCK"
	Redact  Verdict = "REDACT"
	Approve Verdict = "APPROVE"
)

// IsValid reports whether v is one of the four defined verdicts.
func (v Verdict) IsValid() bool {
	switch v {
	case Allow, Block, Redact, Approve:
		return true
	default:
		return false
	}
}

// Severity is an advisory label carried on a rule for operator triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MatcherOp names the predicate applied to a single argument value.
type MatcherOp string

const (
	OpEq         MatcherOp = "eq"
	OpContains   MatcherOp = "contains"
	OpNotContain MatcherOp = "not_contains"
	OpRegex      MatcherOp = "regex"
	OpNotRegex   MatcherOp = "not_regex"
	OpGT         MatcherOp = "gt"
	OpLT         MatcherOp = "lt"
)

// ArgMatcher is a single predicate applied to one argument path.
type ArgMatcher struct {
	Op    MatcherOp `yaml:"op"`
	Value any       `yaml:"value"`
}

// CounterOp is the comparison applied to a session tool-call counter.
type CounterOp string

const (
	CounterGT CounterOp = "gt"
	CounterLT CounterOp = "lt"
	CounterEQ CounterOp = "eq"
)

// SessionPredicate is a predicate of the form tool_count.<tool> {gt|lt|eq: N}.
type SessionPredicate struct {
	Tool string    `yaml:"tool"`
	Op   CounterOp `yaml:"op"`
	N    uint64    `yaml:"n"`
}

// ApprovalStrategy is the caching key class for avoiding re-prompts on
// equivalent approval-required calls.
type ApprovalStrategy string

const (
	StrategyOnce       ApprovalStrategy = "once"
	StrategyPerSession ApprovalStrategy = "per_session"
	StrategyPerRule    ApprovalStrategy = "per_rule"
	StrategyPerTool    ApprovalStrategy = "per_tool"
)

// ChainStep is one prior-event condition in a chain rule: the session's
// event ring buffer must contain a matching tool call within the window.
type ChainStep struct {
	Tool          string `yaml:"tool"`
	WithinSeconds int    `yaml:"within_seconds"`
}

// ContextRule expresses the optional time/day/role/environment predicates
// named in spec §3. ContextExpr is an additional CEL guard ANDed with these
// typed fields, for conditions the flat struct can't express.
type ContextRule struct {
	// TimeWindowStart/End are "HH:MM" in UTC; both empty means unconstrained.
	TimeWindowStart string `yaml:"time_window_start"`
	TimeWindowEnd   string `yaml:"time_window_end"`
	// DaysOfWeek, when non-empty, restricts matching to these weekdays
	// (0=Sunday .. 6=Saturday).
	DaysOfWeek []time.Weekday `yaml:"days_of_week"`
	// Role matches against the sender field carried on the check request
	// (the external contract has no separate role field — see DESIGN.md).
	Role string `yaml:"role"`
	// Environment matches against the engine's configured deployment
	// environment (e.g. "prod", "staging").
	Environment string `yaml:"environment"`
	// ContextExpr, when non-empty, is a CEL expression evaluated with
	// tool_name/args/session_id/sender/role/environment/day_of_week bound,
	// ANDed with the fields above.
	ContextExpr string `yaml:"context_expr"`
}

// ToolMatch names the tool(s) a rule applies to: exactly one of Name,
// Names, or Glob should be set.
type ToolMatch struct {
	Name  string   `yaml:"name"`
	Names []string `yaml:"names"`
	Glob  string   `yaml:"glob"`
}

// Rule is a single declarative authorization condition/action pair.
type Rule struct {
	ID       string                `yaml:"id"`
	Tool     ToolMatch             `yaml:"tool"`
	ArgMatch map[string]ArgMatcher `yaml:"args_match"`
	Session  []SessionPredicate    `yaml:"session"`
	Context  *ContextRule          `yaml:"context"`
	Chain    []ChainStep           `yaml:"chain"`

	Then     Verdict  `yaml:"then"`
	Message  string   `yaml:"message"`
	Severity Severity `yaml:"severity"`

	ApprovalStrategy ApprovalStrategy `yaml:"approval_strategy"`
	// PIIAction, when set, overrides Then when PII is detected in args
	// (e.g. a rule that would ALLOW instead REDACTs when PII is present).
	PIIAction Verdict `yaml:"pii_action"`
}

// RateLimit is a sliding-window limit scoped to a tool or rule.
type RateLimit struct {
	ID            string `yaml:"id"`
	Tool          string `yaml:"tool"`
	MaxCalls      int    `yaml:"max_calls"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// CustomPIIPattern is an operator-supplied PII kind and its bounded regex.
type CustomPIIPattern struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

// SanitizerConfig configures the pre-rule sanitizer stage (spec §4.4).
type SanitizerConfig struct {
	BlockedPatterns []CustomPIIPattern `yaml:"blocked_patterns"`
	TrimWhitespace  bool               `yaml:"trim_whitespace"`
	MaxStringLength int                `yaml:"max_string_length"`
	MaxArgsDepth    int                `yaml:"max_args_depth"`
	MaxTotalKeys    int                `yaml:"max_total_keys"`
}

// RuleSet is a complete, immutable policy snapshot. It is produced once by
// Compile and replaced as a whole on reload; it is never mutated in place.
type RuleSet struct {
	Rules           []Rule             `yaml:"rules"`
	DefaultVerdict  Verdict            `yaml:"default_verdict"`
	RateLimits      []RateLimit        `yaml:"rate_limits"`
	CustomPIIKinds  []CustomPIIPattern `yaml:"custom_pii_patterns"`
	Honeypots       []string           `yaml:"honeypots"`
	Sanitizer       SanitizerConfig    `yaml:"sanitizer"`
}
