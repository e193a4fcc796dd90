package expr

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

func TestParseShape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"2 + 3 * 4", "((2 + 3) * 4)"},
		{"2 + (3 * 4)", "(2 + (3 * 4))"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"-2 ^ 2", "(-2 ^ 2)"},
		{"- (2 ^ 2)", "-(2 ^ 2)"},
		{"a - -b", "(a - -b)"},
		{"2 ** 3", "(2 ^ 3)"},
		{"((1))", "1"},
		{"sin(x)", "sin(x)"},
		{"sqrt(a + b) / 2", "(sqrt((a + b)) / 2)"},
		{"log(100) % ln(y)", "(log(100) % ln(y))"},
		{"exp(cos(0))", "exp(cos(0))"},
		{"PI", "3.1415"},
		{"2*PI*r", "((2 * 3.1415) * r)"},
		{".5 + 1e3", "(0.5 + 1000)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var c types.Collector
			e := Parse(tt.input, c.Sink())
			if got := e.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
			if c.Len() != 0 {
				t.Errorf("unexpected diagnostics: %v", c.Diagnostics())
			}
		})
	}
}

func TestParseRecovery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		shape string
		tags  []types.Tag
	}{
		{"truncated", "(2 +", "(2 + 0)", []types.Tag{types.TagMissingOperand, types.TagCutShort, types.TagMissingParen}},
		{"dangling operator", "2 +", "(2 + 0)", []types.Tag{types.TagMissingOperand}},
		{"leading operator", "* 3", "(0 * 3)", []types.Tag{types.TagMissingOperand}},
		{"lone paren", "(", "0", []types.Tag{types.TagMissingOperand, types.TagCutShort, types.TagMissingParen}},
		{"lone minus", "-", "-0", []types.Tag{types.TagMissingOperand}},
		{"extra close", "2 )", "2", []types.Tag{types.TagTrailingInput}},
		{"unknown operator", "2 & 3", "0", []types.Tag{types.TagUnknownOperator}},
		{"unknown operator keeps prefix going", "1 + 2 & 3 + 4", "(0 + 4)", []types.Tag{types.TagUnknownOperator}},
		{"bad number", "1.2.3", "0", []types.Tag{types.TagBadNumber}},
		{"number with suffix", "3abc + 1", "(0 + 1)", []types.Tag{types.TagBadNumber}},
		{"dangling exponent", "1e", "0", []types.Tag{types.TagBadNumber}},
		{"function without parens", "sqrt 16", "(0 + 16)", []types.Tag{types.TagFunctionParen}},
		{"function swallows rest", "sin 1 + 2", "(0 + (1 + 2))", []types.Tag{types.TagFunctionParen}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c types.Collector
			e := Parse(tt.input, c.Sink())
			if !e.Valid() {
				t.Fatalf("Parse(%q) produced no tree", tt.input)
			}
			if got := e.String(); got != tt.shape {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.shape)
			}
			var tags []types.Tag
			for _, d := range c.Diagnostics() {
				tags = append(tags, d.Tag)
			}
			if !reflect.DeepEqual(tags, tt.tags) {
				t.Errorf("diagnostics = %v, want %v", tags, tt.tags)
			}
		})
	}
}

func TestParseNestingLimit(t *testing.T) {
	nested := func(n int) string {
		return strings.Repeat("(", n) + "1" + strings.Repeat(")", n)
	}

	tests := []struct {
		name    string
		input   string
		want    float64
		tooDeep bool
	}{
		{"within limit", nested(100), 1, false},
		{"deep parens", nested(1 << 20), 0, true},
		{"deep negation", strings.Repeat("-", 1<<20) + "1", 0, true},
		{"deep function calls", strings.Repeat("sqrt(", 4096) + "1" + strings.Repeat(")", 4096), 0, true},
		{"rest of the expression survives", "2 + " + nested(1<<16) + " * 3", 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c types.Collector
			if got := Eval(tt.input, nil, c.Sink()); got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
			if c.Has(types.TagTooDeep) != tt.tooDeep {
				t.Errorf("diagnostics = %v", c.Diagnostics())
			}
			if !tt.tooDeep && c.Len() != 0 {
				t.Errorf("unexpected diagnostics %v", c.Diagnostics())
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		var c types.Collector
		e := Parse(input, c.Sink())
		if e.Valid() {
			t.Errorf("Parse(%q) produced a tree: %s", input, e)
		}
		if !c.Has(types.TagEmptyExpression) {
			t.Errorf("Parse(%q) did not report an empty expression", input)
		}
	}
}

func TestParseMessages(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2 & 3", "unknown operation: &"},
		{"1.2.3", "expecting a real number but received: 1.2.3"},
		{"cos 1", "built-in function cos must be followed by parentheses"},
		{"(1", `expression error: expected ")"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var c types.Collector
			Parse(tt.input, c.Sink())
			found := false
			for _, d := range c.Diagnostics() {
				if d.Message == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("diagnostics %v do not contain %q", c.Diagnostics(), tt.want)
			}
		})
	}
}

func TestParseVariablesResolvedLate(t *testing.T) {
	e := Parse("x * 2", types.Discard)
	b, ok := e.Root().(*BinaryNode)
	if !ok {
		t.Fatalf("root = %T, want *BinaryNode", e.Root())
	}
	if v, ok := b.Left.(*VariableNode); !ok || v.Name != "x" {
		t.Errorf("left = %#v, want variable x", b.Left)
	}
	if got := e.Vars(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Vars() = %v", got)
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"x", true},
		{"rate_2", true},
		{"PI", false},
		{"sqrt", false},
		{"2x", false},
		{"a+b", false},
		{"a b", false},
		{"", false},
		{" x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidName(tt.name); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
