package api

import (
	"fmt"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// Evaluation is the outcome of evaluating one expression on behalf of a
// client.
type Evaluation struct {
	Result      float64
	Tree        string
	Variables   []string
	Diagnostics []types.Diagnostic
}

// ResolveEnvironment builds the environment for a request: the stored
// environment named by envID, if any, overlaid with vars.
func ResolveEnvironment(s *store.Store, envID string, vars expr.Environment) (expr.Environment, error) {
	env := make(expr.Environment, len(vars))
	if envID != "" {
		stored, err := s.GetEnvironment(store.EnvironmentName(envID))
		if err != nil {
			return nil, err
		}
		for k, v := range stored.Variables {
			env[k] = v
		}
	}
	for k, v := range vars {
		env[k] = v
	}
	return env, nil
}

// CheckSourceLength rejects sources longer than expr.MaxExpressionLength.
func CheckSourceLength(source string) error {
	if len(source) > expr.MaxExpressionLength {
		return fmt.Errorf("expression exceeds maximum length of %d characters", expr.MaxExpressionLength)
	}
	return nil
}

// EvaluateSource parses and evaluates source. Every diagnostic goes to the
// returned Evaluation and to extra, if not nil.
func EvaluateSource(source string, env expr.Environment, extra types.Sink) Evaluation {
	var c types.Collector
	sink := types.Multi(c.Sink(), extra)
	e := expr.Parse(source, sink)
	return Evaluation{
		Result:      e.Evaluate(env, sink),
		Tree:        e.String(),
		Variables:   e.Vars(),
		Diagnostics: c.Diagnostics(),
	}
}

// EvaluateStored evaluates a stored expression. The diagnostics recorded
// when it was parsed come first.
func EvaluateStored(e *store.Expression, env expr.Environment, extra types.Sink) Evaluation {
	var c types.Collector
	return Evaluation{
		Result:      e.Expr.Evaluate(env, types.Multi(c.Sink(), extra)),
		Tree:        e.Expr.String(),
		Variables:   e.Expr.Vars(),
		Diagnostics: append(append([]types.Diagnostic(nil), e.Diagnostics...), c.Diagnostics()...),
	}
}

// ToNumbers converts an environment for JSON encoding.
func ToNumbers(env expr.Environment) map[string]types.Number {
	out := make(map[string]types.Number, len(env))
	for k, v := range env {
		out[k] = types.Number(v)
	}
	return out
}

// FromNumbers converts decoded request variables into an environment.
func FromNumbers(vars map[string]types.Number) expr.Environment {
	env := make(expr.Environment, len(vars))
	for k, v := range vars {
		env[k] = float64(v)
	}
	return env
}

// FromInterfaces converts generically decoded variables, such as the fields
// of a protobuf Struct, into an environment.
func FromInterfaces(vars map[string]interface{}) (expr.Environment, error) {
	env := make(expr.Environment, len(vars))
	for k, v := range vars {
		n, err := types.NumberFromJSON(v)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", k, err)
		}
		env[k] = float64(n)
	}
	return env, nil
}
