// Package sheet defines the parsed form of a sheet: an ordered list of
// variable bindings followed by an ordered list of outputs, each backed by
// an expression.
package sheet

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
)

// Sheet is a complete parsed sheet.
type Sheet struct {
	// Name is the sheet identifier from the document, if any.
	Name string

	// Description is free text shown in listings.
	Description string

	// Vars are evaluated in order; each may refer to the ones before it.
	Vars []Binding

	// Steps run in order after all bindings are evaluated.
	Steps []Step
}

// Binding assigns the value of an expression to a variable.
type Binding struct {
	// Name is the variable being defined.
	Name string

	// Source is the expression text.
	Source string

	// Expr is the parsed form of Source.
	Expr *expr.Expression

	// As is applied to the value before it is stored. FormatInt truncates;
	// FormatChar is treated like FormatInt.
	As Format
}

// StepKind identifies what a Step does.
type StepKind int

const (
	StepPrint  StepKind = iota // evaluate Expr and print it rendered with As
	StepText                   // print Text verbatim
	StepSet                    // reassign the variables in Set, in order
	StepRepeat                 // run Body the number of times Expr evaluates to
)

// String returns the key used for the step in sheet source.
func (k StepKind) String() string {
	switch k {
	case StepPrint:
		return "expr"
	case StepText:
		return "text"
	case StepSet:
		return "set"
	case StepRepeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// Step is one entry of a sheet's print list.
type Step struct {
	Kind StepKind

	// Source and Expr hold the printed expression, or the repeat count.
	Source string
	Expr   *expr.Expression
	As     Format

	Text string
	Set  []Binding
	Body []Step
}

// Format controls how a value is converted for storage or display.
type Format string

const (
	FormatReal Format = "real"
	FormatInt  Format = "int"
	FormatChar Format = "char"
)

// ParseFormat validates a format name. The empty string means FormatReal.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatReal:
		return FormatReal, nil
	case FormatInt, FormatChar:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q (expected real, int or char)", s)
	}
}

// Apply converts v the way a binding stores it: int and char truncate
// toward zero, real leaves v unchanged. Non-finite values pass through.
func (f Format) Apply(v float64) float64 {
	if f == FormatReal || f == "" || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Trunc(v)
}

// Render formats v for display.
func (f Format) Render(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}

	t := math.Trunc(v)
	switch f {
	case FormatInt:
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return strconv.FormatFloat(t, 'f', 0, 64)
		}
		return strconv.FormatInt(int64(t), 10)
	case FormatChar:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return string(utf8.RuneError)
		}
		return string(rune(t))
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
