package rule

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// MatchInput bundles everything the matcher needs to evaluate a single
// check against the compiled rule set.
type MatchInput struct {
	Tool        string
	Args        map[string]any
	Session     SessionView
	SessionID   string
	Sender      string
	Environment string
	Now         time.Time
}

// Match selects the first rule in source order whose every specified
// clause is satisfied (tool, args_match, session, context, chain). A
// matcher error on a single rule is logged by the caller via the returned
// per-rule error slice; that rule is skipped and evaluation continues —
// never aborts the pipeline (spec §4.1 "Failures").
func (c *CompiledRuleSet) Match(in MatchInput, eval ExprEvaluator) (*CompiledRule, []error) {
	var errs []error
	for _, cr := range c.rules {
		ok, err := matchRule(cr, in, eval)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", cr.ID, err))
			continue
		}
		if ok {
			return cr, errs
		}
	}
	return nil, errs
}

func matchRule(cr *CompiledRule, in MatchInput, eval ExprEvaluator) (bool, error) {
	if cr.tool.glob != "" || cr.tool.names != nil {
		if !cr.tool.matches(in.Tool) {
			return false, nil
		}
	}

	for path, m := range cr.argMatch {
		ok, err := matchArg(m, in.Args[path])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if in.Session != nil {
		for _, sp := range cr.Session {
			count := in.Session.ToolCount(sp.Tool)
			if !matchCounter(sp.Op, count, sp.N) {
				return false, nil
			}
		}
	}

	if cr.Context != nil {
		ok, err := matchContext(cr.Context, in, eval)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(cr.Chain) > 0 {
		if in.Session == nil {
			return false, nil
		}
		if !matchChain(cr.Chain, in.Session.RecentEvents(), in.Now) {
			return false, nil
		}
	}

	return true, nil
}

func matchCounter(op CounterOp, count, n uint64) bool {
	switch op {
	case CounterGT:
		return count > n
	case CounterLT:
		return count < n
	case CounterEQ:
		return count == n
	default:
		return false
	}
}

func matchArg(m compiledArgMatcher, value any) (bool, error) {
	switch m.op {
	case OpEq:
		return reflect.DeepEqual(value, m.value), nil
	case OpContains:
		return strings.Contains(stringify(value), stringify(m.value)), nil
	case OpNotContain:
		return !strings.Contains(stringify(value), stringify(m.value)), nil
	case OpRegex:
		return m.re.MatchString(stringify(value)), nil
	case OpNotRegex:
		return !m.re.MatchString(stringify(value)), nil
	case OpGT, OpLT:
		v, ok1 := toFloat(value)
		n, ok2 := toFloat(m.value)
		if !ok1 || !ok2 {
			return false, nil
		}
		if m.op == OpGT {
			return v > n, nil
		}
		return v < n, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOp, m.op)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func matchContext(ctx *ContextRule, in MatchInput, eval ExprEvaluator) (bool, error) {
	if ctx.TimeWindowStart != "" && ctx.TimeWindowEnd != "" {
		if !withinTimeWindow(in.Now, ctx.TimeWindowStart, ctx.TimeWindowEnd) {
			return false, nil
		}
	}
	if len(ctx.DaysOfWeek) > 0 {
		found := false
		for _, d := range ctx.DaysOfWeek {
			if in.Now.Weekday() == d {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if ctx.Role != "" && ctx.Role != in.Sender {
		return false, nil
	}
	if ctx.Environment != "" && ctx.Environment != in.Environment {
		return false, nil
	}
	if ctx.ContextExpr != "" {
		if eval == nil {
			return false, fmt.Errorf("context_expr set but no expression evaluator configured")
		}
		vars := map[string]any{
			"tool_name":   in.Tool,
			"args":        in.Args,
			"session_id":  in.SessionID,
			"sender":      in.Sender,
			"role":        in.Sender,
			"environment": in.Environment,
			"day_of_week": int64(in.Now.Weekday()),
			"time":        in.Now.Format("15:04"),
		}
		ok, err := eval.Eval(ctx.ContextExpr, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func withinTimeWindow(now time.Time, start, end string) bool {
	s, errS := parseHHMM(start)
	e, errE := parseHHMM(end)
	if errS != nil || errE != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if s <= e {
		return cur >= s && cur <= e
	}
	// window wraps midnight
	return cur >= s || cur <= e
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// matchChain searches the ring buffer (most recent first) for each chain
// step, bounded by the buffer's own capacity. All steps must match.
func matchChain(steps []ChainStep, events []Event, now time.Time) bool {
	for _, step := range steps {
		within := time.Duration(step.WithinSeconds) * time.Second
		found := false
		for _, ev := range events {
			if ev.Tool != step.Tool {
				continue
			}
			if now.Sub(ev.Monotonic) <= within {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
