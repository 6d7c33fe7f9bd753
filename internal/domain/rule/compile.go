package rule

import (
	"fmt"
	"regexp"
)

// compileBoundedRegexp compiles a case-insensitive regex, rejecting sources
// longer than maxPatternSourceChars so a single rule can't force pathological
// compilation cost onto a reload. Shared by rule args_match, custom PII
// patterns, and sanitizer blocked_patterns.
func compileBoundedRegexp(source string) (*regexp.Regexp, error) {
	if len(source) > maxPatternSourceChars {
		return nil, fmt.Errorf("%w: %d chars", ErrPatternTooLong, len(source))
	}
	re, err := regexp.Compile("(?i)" + source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileFailed, err)
	}
	return re, nil
}

// compiledArgMatcher is an ArgMatcher with its regex pre-compiled, if any.
type compiledArgMatcher struct {
	op    MatcherOp
	value any
	re    *regexp.Regexp
}

// compiledToolMatch is a ToolMatch reduced to either a name set or a glob.
type compiledToolMatch struct {
	names map[string]struct{} // nil if glob is used
	glob  string               // empty if names is used
}

func (c compiledToolMatch) matches(tool string) bool {
	if c.glob != "" {
		ok, _ := globMatch(c.glob, tool)
		return ok
	}
	if c.names != nil {
		_, ok := c.names[tool]
		return ok
	}
	return false
}

// CompiledRule is a Rule reduced to a directly-evaluable form: regexes
// compiled, tool names expanded into a set or glob, ops validated.
type CompiledRule struct {
	Rule
	tool     compiledToolMatch
	argMatch map[string]compiledArgMatcher
}

// compileRule validates and compiles a single Rule. A rule whose
// compilation fails is rejected at load time (see ErrCompileFailed).
func compileRule(r Rule) (*CompiledRule, error) {
	if r.Tool.Name == "" && len(r.Tool.Names) == 0 && r.Tool.Glob == "" &&
		len(r.ArgMatch) == 0 && len(r.Session) == 0 && len(r.Chain) == 0 {
		return nil, fmt.Errorf("rule %q: %w", r.ID, ErrEmptyRule)
	}

	cr := &CompiledRule{Rule: r}

	switch {
	case r.Tool.Glob != "":
		cr.tool = compiledToolMatch{glob: r.Tool.Glob}
	case len(r.Tool.Names) > 0:
		set := make(map[string]struct{}, len(r.Tool.Names))
		for _, n := range r.Tool.Names {
			set[n] = struct{}{}
		}
		cr.tool = compiledToolMatch{names: set}
	case r.Tool.Name != "":
		cr.tool = compiledToolMatch{names: map[string]struct{}{r.Tool.Name: {}}}
	}

	if len(r.ArgMatch) > 0 {
		cr.argMatch = make(map[string]compiledArgMatcher, len(r.ArgMatch))
		for path, m := range r.ArgMatch {
			cm, err := compileArgMatcher(m)
			if err != nil {
				return nil, fmt.Errorf("rule %q: arg %q: %w", r.ID, path, err)
			}
			cr.argMatch[path] = cm
		}
	}

	for _, sp := range r.Session {
		switch sp.Op {
		case CounterGT, CounterLT, CounterEQ:
		default:
			return nil, fmt.Errorf("rule %q: session predicate: %w %q", r.ID, ErrUnknownOp, sp.Op)
		}
	}

	if r.Then != "" && !r.Then.IsValid() {
		return nil, fmt.Errorf("rule %q: invalid verdict %q", r.ID, r.Then)
	}
	if r.PIIAction != "" && !r.PIIAction.IsValid() {
		return nil, fmt.Errorf("rule %q: invalid pii_action %q", r.ID, r.PIIAction)
	}

	return cr, nil
}

func compileArgMatcher(m ArgMatcher) (compiledArgMatcher, error) {
	cm := compiledArgMatcher{op: m.Op, value: m.Value}
	switch m.Op {
	case OpEq, OpContains, OpNotContain, OpGT, OpLT:
		return cm, nil
	case OpRegex, OpNotRegex:
		s, ok := m.Value.(string)
		if !ok {
			return cm, fmt.Errorf("%w: regex value must be a string", ErrCompileFailed)
		}
		re, err := compileBoundedRegexp(s)
		if err != nil {
			return cm, err
		}
		cm.re = re
		return cm, nil
	default:
		return cm, fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
	}
}

// Compile validates and compiles every rule plus the custom PII patterns and
// sanitizer blocked_patterns in the set. Compilation is all-or-nothing: on
// any error the caller's existing RuleSet remains active.
func (rs RuleSet) Compile() (*CompiledRuleSet, error) {
	seen := make(map[string]struct{}, len(rs.Rules))
	compiled := make([]*CompiledRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule missing id", ErrCompileFailed)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = struct{}{}

		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cr)
	}

	honeypots := make(map[string]struct{}, len(rs.Honeypots))
	for _, h := range rs.Honeypots {
		honeypots[h] = struct{}{}
	}

	blocked := make([]compiledPattern, 0, len(rs.Sanitizer.BlockedPatterns))
	for _, p := range rs.Sanitizer.BlockedPatterns {
		re, err := compileBoundedRegexp(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: blocked_pattern %q: %v", ErrCompileFailed, p.Kind, err)
		}
		blocked = append(blocked, compiledPattern{name: p.Kind, re: re})
	}

	defaultVerdict := rs.DefaultVerdict
	if defaultVerdict == "" {
		defaultVerdict = Allow
	} else if !defaultVerdict.IsValid() {
		return nil, fmt.Errorf("%w: invalid default_verdict %q", ErrCompileFailed, defaultVerdict)
	}

	return &CompiledRuleSet{
		raw:             rs,
		rules:           compiled,
		defaultVerdict:  defaultVerdict,
		honeypots:       honeypots,
		blockedPatterns: blocked,
	}, nil
}

// compiledPattern is a named, compiled sanitizer blocked_pattern.
type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// CompiledRuleSet is the immutable, directly-evaluable form of a RuleSet.
// It is produced once by RuleSet.Compile and never mutated; hot reload
// replaces the pointer to it as a whole.
type CompiledRuleSet struct {
	raw             RuleSet
	rules           []*CompiledRule
	defaultVerdict  Verdict
	honeypots       map[string]struct{}
	blockedPatterns []compiledPattern
}

// Raw returns the RuleSet this was compiled from.
func (c *CompiledRuleSet) Raw() RuleSet { return c.raw }

// Rules returns the compiled rules in source (evaluation) order.
func (c *CompiledRuleSet) Rules() []*CompiledRule { return c.rules }

// DefaultVerdict returns the verdict applied when no rule matches.
func (c *CompiledRuleSet) DefaultVerdict() Verdict { return c.defaultVerdict }

// IsHoneypot reports whether tool is a declared honeypot name.
func (c *CompiledRuleSet) IsHoneypot(tool string) bool {
	_, ok := c.honeypots[tool]
	return ok
}

// BlockedPatternMatch scans text against all sanitizer blocked_patterns and
// returns the name of the first match, or "" if none match.
func (c *CompiledRuleSet) BlockedPatternMatch(text string) string {
	for _, p := range c.blockedPatterns {
		if p.re.MatchString(text) {
			return p.name
		}
	}
	return ""
}

// RateLimits returns the rate limits declared on this set.
func (c *CompiledRuleSet) RateLimits() []RateLimit { return c.raw.RateLimits }

// Count returns the number of compiled rules (used by /readyz and
// get_policy_summary).
func (c *CompiledRuleSet) Count() int { return len(c.rules) }
