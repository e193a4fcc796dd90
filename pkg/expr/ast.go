package expr

import (
	"strconv"
	"strings"
)

// Node is the interface for all expression AST nodes. The set of node types
// is closed: only this package can implement it.
type Node interface {
	nodeType() string
}

// BinaryOp is one of the six binary operations.
type BinaryOp int8

const (
	OpAdd BinaryOp = iota // +
	OpSub                 // -
	OpMul                 // *
	OpDiv                 // /
	OpMod                 // %
	OpPow                 // ^ and **
)

// String returns the operator symbol.
func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpPow:
		return "^"
	default:
		return "?"
	}
}

// binaryOps maps operator lexemes to operations.
var binaryOps = map[string]BinaryOp{
	"+":  OpAdd,
	"-":  OpSub,
	"*":  OpMul,
	"/":  OpDiv,
	"%":  OpMod,
	"^":  OpPow,
	"**": OpPow,
}

// MathFunc is one of the built-in functions of one argument.
type MathFunc int8

const (
	FnSin   MathFunc = iota // sin
	FnCos                   // cos
	FnLog10                 // log
	FnLn                    // ln
	FnExp                   // exp
	FnSqrt                  // sqrt
)

// String returns the function name as written in source.
func (fn MathFunc) String() string {
	switch fn {
	case FnSin:
		return "sin"
	case FnCos:
		return "cos"
	case FnLog10:
		return "log"
	case FnLn:
		return "ln"
	case FnExp:
		return "exp"
	case FnSqrt:
		return "sqrt"
	default:
		return "?"
	}
}

// mathFuncs maps function names to functions.
var mathFuncs = map[string]MathFunc{
	"sin":  FnSin,
	"cos":  FnCos,
	"log":  FnLog10,
	"ln":   FnLn,
	"exp":  FnExp,
	"sqrt": FnSqrt,
}

// ConstantNode is a literal real value.
type ConstantNode struct {
	Value float64
}

func (n *ConstantNode) nodeType() string { return "Constant" }

// VariableNode is a reference resolved against the environment at
// evaluation time.
type VariableNode struct {
	Name string
}

func (n *VariableNode) nodeType() string { return "Variable" }

// BinaryNode applies Op to its two operands.
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (n *BinaryNode) nodeType() string { return "Binary" }

// NegateNode is unary minus.
type NegateNode struct {
	Operand Node
}

func (n *NegateNode) nodeType() string { return "Negate" }

// MathNode applies a built-in function to its operand.
type MathNode struct {
	Func    MathFunc
	Operand Node
}

func (n *MathNode) nodeType() string { return "Math" }

// format writes a fully parenthesized rendering of n.
func format(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case *ConstantNode:
		b.WriteString(strconv.FormatFloat(n.Value, 'g', -1, 64))
	case *VariableNode:
		b.WriteString(n.Name)
	case *BinaryNode:
		b.WriteByte('(')
		format(b, n.Left)
		b.WriteByte(' ')
		b.WriteString(n.Op.String())
		b.WriteByte(' ')
		format(b, n.Right)
		b.WriteByte(')')
	case *NegateNode:
		b.WriteString("-")
		format(b, n.Operand)
	case *MathNode:
		b.WriteString(n.Func.String())
		b.WriteByte('(')
		format(b, n.Operand)
		b.WriteByte(')')
	default:
		b.WriteString("$invalid$")
	}
}

// collectVars appends the names of all variables under n.
func collectVars(n Node, seen map[string]struct{}) {
	switch n := n.(type) {
	case *VariableNode:
		seen[n.Name] = struct{}{}
	case *BinaryNode:
		collectVars(n.Left, seen)
		collectVars(n.Right, seen)
	case *NegateNode:
		collectVars(n.Operand, seen)
	case *MathNode:
		collectVars(n.Operand, seen)
	}
}
