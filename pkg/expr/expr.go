package expr

import (
	"sort"
	"strings"

	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// Expression is a parsed formula. Its tree is built once by Parse and never
// modified, so one Expression may be evaluated from many goroutines at once
// as long as each call gets its own Environment.
type Expression struct {
	source string
	root   Node
}

// Parse parses source into an Expression. It never fails: problems are
// reported to sink (or the process-wide default sink when sink is nil) and
// the tree is patched up. Empty input produces an Expression with no tree.
func Parse(source string, sink types.Sink) *Expression {
	return &Expression{source: source, root: ParseNode(source, sink)}
}

// Evaluate computes the value of e against env. An Expression without a
// tree evaluates to 0 and reports nothing else. A "PI" entry in env is
// ignored with a warning.
func (e *Expression) Evaluate(env Environment, sink types.Sink) float64 {
	sink = sink.OrDefault()
	if e == nil || e.root == nil {
		sink(types.Newf(types.TagNoParseTree, "No parse tree!"))
		return 0
	}
	if _, ok := env["PI"]; ok {
		sink(types.Newf(types.TagShadowedPI,
			"Warning: PI is a built-in constant; the value passed in the environment will be ignored."))
	}
	return evalNode(e.root, env, sink)
}

// Eval parses and evaluates source in one step.
func Eval(source string, env Environment, sink types.Sink) float64 {
	return Parse(source, sink).Evaluate(env, sink)
}

// Source returns the text the Expression was parsed from.
func (e *Expression) Source() string {
	return e.source
}

// Root returns the tree, or nil for a degenerate Expression.
func (e *Expression) Root() Node {
	return e.root
}

// Valid reports whether the Expression has a tree.
func (e *Expression) Valid() bool {
	return e != nil && e.root != nil
}

// String renders the tree fully parenthesized, making the left-to-right
// grouping visible.
func (e *Expression) String() string {
	if !e.Valid() {
		return "<empty>"
	}
	var b strings.Builder
	format(&b, e.root)
	return b.String()
}

// Vars returns the sorted, de-duplicated variable names the Expression reads.
func (e *Expression) Vars() []string {
	if !e.Valid() {
		return nil
	}
	seen := make(map[string]struct{})
	collectVars(e.root, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsReserved reports whether name is PI or a built-in function name.
func IsReserved(name string) bool {
	if name == "PI" {
		return true
	}
	_, ok := mathFuncs[name]
	return ok
}

// ValidName reports whether name can be referenced as a variable: it must
// scan as a single identifier token and must not be reserved.
func ValidName(name string) bool {
	toks := Tokenize(name)
	return len(toks) == 1 && toks[0].Type == TokenIdent && toks[0].Value == name && !IsReserved(name)
}
