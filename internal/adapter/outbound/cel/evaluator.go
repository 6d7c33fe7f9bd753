// Package cel provides a CEL-based evaluator for a Rule's optional
// context_expr guard, adapting google/cel-go to the rule package's
// ExprEvaluator interface without forcing the domain layer to depend on
// CEL directly.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength bounds a context_expr's source length.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, guarding against
// cost-exhaustion from a pathological expression.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 2 * time.Second

const interruptCheckFreq = 100

// Evaluator compiles and evaluates context_expr guard expressions against
// the fixed variable set a ContextRule exposes: tool_name, args,
// session_id, sender, role, environment, day_of_week, time. It caches
// compiled programs by source text since the engine calls Eval with raw
// expression strings on every matching attempt.
type Evaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds an Evaluator with the policy environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newContextEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// ValidateExpression checks that expr is syntactically valid and within
// the length/nesting/compile budget, without evaluating it. Rule
// compilation calls this so a bad context_expr is rejected at load time
// like any other bad regex.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d chars (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.compile(expr)
	return err
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program creation failed: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Eval implements rule.ExprEvaluator. vars is the activation built by the
// caller from a rule.MatchInput (tool_name/args/session_id/sender/
// role/environment/day_of_week/time).
func (e *Evaluator) Eval(expr string, vars map[string]any) (bool, error) {
	if len(expr) > maxExpressionLength {
		return false, fmt.Errorf("cel: expression too long: %d chars (max %d)", len(expr), maxExpressionLength)
	}

	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

// validateNesting rejects expressions with pathological bracket nesting.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
