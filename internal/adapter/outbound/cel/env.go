package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// newContextEnvironment builds the CEL environment for ContextRule's
// optional context_expr: the handful of variables a context predicate
// actually needs, not the full action/destination surface a general
// policy expression language would expose.
func newContextEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("time", cel.StringType),
	)
}
