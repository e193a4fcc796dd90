package expr

import (
	"math"

	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// Environment maps variable names to values. Lookups are case-sensitive and
// the evaluator never writes to it. The name "PI" is reserved.
type Environment map[string]float64

// Lookup returns the value bound to name.
func (e Environment) Lookup(name string) (float64, bool) {
	v, ok := e[name]
	return v, ok
}

// EvaluateNode walks node against env. Unknown variables evaluate to 0 and
// are reported to sink. Floating point exceptions are not intercepted:
// division by zero and domain errors produce Inf or NaN.
func EvaluateNode(node Node, env Environment, sink types.Sink) float64 {
	return evalNode(node, env, sink.OrDefault())
}

func evalNode(node Node, env Environment, sink types.Sink) float64 {
	switch n := node.(type) {
	case *ConstantNode:
		return n.Value
	case *VariableNode:
		if v, ok := env.Lookup(n.Name); ok {
			return v
		}
		sink(types.Newf(types.TagUnknownVariable, "unknown variable: %s", n.Name))
		return 0
	case *BinaryNode:
		// Both sides are always evaluated so every diagnostic is reported.
		left := evalNode(n.Left, env, sink)
		right := evalNode(n.Right, env, sink)
		return applyBinary(n.Op, left, right)
	case *NegateNode:
		return -evalNode(n.Operand, env, sink)
	case *MathNode:
		return applyMath(n.Func, evalNode(n.Operand, env, sink))
	default:
		sink(types.Newf(types.TagNoParseTree, "No parse tree!"))
		return 0
	}
}

func applyBinary(op BinaryOp, left, right float64) float64 {
	switch op {
	case OpAdd:
		return left + right
	case OpSub:
		return left - right
	case OpMul:
		return left * right
	case OpDiv:
		return left / right
	case OpMod:
		return math.Mod(left, right)
	case OpPow:
		return math.Pow(left, right)
	default:
		return math.NaN()
	}
}

func applyMath(fn MathFunc, x float64) float64 {
	switch fn {
	case FnSin:
		return math.Sin(x)
	case FnCos:
		return math.Cos(x)
	case FnLog10:
		return math.Log10(x)
	case FnLn:
		return math.Log(x)
	case FnExp:
		return math.Exp(x)
	case FnSqrt:
		return math.Sqrt(x)
	default:
		return math.NaN()
	}
}
