// Package parser converts YAML/JSON sheet definitions and variable files into
// their parsed forms.
package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/sheet"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// MaxBindings is the maximum number of variable bindings per sheet.
const MaxBindings = 500

// MaxSteps is the maximum number of steps per sheet, counting nested ones.
const MaxSteps = 500

// MaxNestingDepth is the maximum nesting depth of repeat steps.
const MaxNestingDepth = 10

// MaxSourceSize is the maximum sheet source size in bytes (128 KB).
const MaxSourceSize = 128 * 1024

// ParseError represents an error encountered during sheet parsing.
type ParseError struct {
	Message  string
	Location string // e.g., "print[2].do[0]"
}

func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Parse parses a YAML or JSON sheet. Expression problems are soft: they are
// reported to sink and the patched expression is kept. Structural problems
// in the document are returned as a *ParseError.
func Parse(source []byte, sink types.Sink) (*sheet.Sheet, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("sheet source size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}

	root, err := decodeMapping(source, "sheet definition")
	if err != nil {
		return nil, err
	}

	p := &sheetParser{sink: sink.OrDefault()}
	sh := &sheet.Sheet{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := resolve(root.Content[i+1])
		if seen[key] {
			return nil, &ParseError{Message: fmt.Sprintf("duplicate key '%s'", key)}
		}
		seen[key] = true

		switch key {
		case "name":
			if sh.Name, err = scalar(val, key); err != nil {
				return nil, err
			}
		case "description":
			if sh.Description, err = scalar(val, key); err != nil {
				return nil, err
			}
		case "vars":
			if sh.Vars, err = p.parseBindings(val, "vars"); err != nil {
				return nil, err
			}
			if len(sh.Vars) > MaxBindings {
				return nil, &ParseError{
					Message:  fmt.Sprintf("too many bindings: %d (max %d)", len(sh.Vars), MaxBindings),
					Location: "vars",
				}
			}
		case "print":
			if sh.Steps, err = p.parseSteps(val, "print", 0); err != nil {
				return nil, err
			}
		default:
			return nil, &ParseError{Message: fmt.Sprintf("unknown key '%s' in sheet", key)}
		}
	}

	if sh.Vars == nil && sh.Steps == nil {
		return nil, &ParseError{Message: "sheet must have 'vars' or 'print'"}
	}
	return sh, nil
}

type sheetParser struct {
	sink  types.Sink
	steps int
}

// parseBindings parses an ordered mapping of variable names to expressions.
func (p *sheetParser) parseBindings(node *yaml.Node, loc string) ([]sheet.Binding, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "must be a mapping of variable names to expressions", Location: loc}
	}

	bindings := make([]sheet.Binding, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		bloc := loc + "." + name
		if !expr.ValidName(name) {
			return nil, &ParseError{Message: fmt.Sprintf("'%s' is not a valid variable name", name), Location: bloc}
		}

		b, err := p.parseBinding(name, resolve(node.Content[i+1]), bloc)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// parseBinding parses either a bare expression or {expr, as}.
func (p *sheetParser) parseBinding(name string, node *yaml.Node, loc string) (sheet.Binding, error) {
	b := sheet.Binding{Name: name, As: sheet.FormatReal}

	switch node.Kind {
	case yaml.ScalarNode:
		src, err := exprSource(node, loc)
		if err != nil {
			return b, err
		}
		b.Source = src
	case yaml.MappingNode:
		fields, err := fieldsOf(node, loc, "expr", "as")
		if err != nil {
			return b, err
		}
		exprNode, ok := fields["expr"]
		if !ok {
			return b, &ParseError{Message: "binding must have 'expr'", Location: loc}
		}
		if b.Source, err = exprSource(exprNode, loc); err != nil {
			return b, err
		}
		if asNode, ok := fields["as"]; ok {
			if b.As, err = parseFormat(asNode, loc); err != nil {
				return b, err
			}
		}
	default:
		return b, &ParseError{Message: "binding must be an expression or a mapping", Location: loc}
	}

	b.Expr = expr.Parse(b.Source, p.sink)
	return b, nil
}

// parseSteps parses a sequence of print, text, set and repeat steps.
func (p *sheetParser) parseSteps(node *yaml.Node, loc string, depth int) ([]sheet.Step, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &ParseError{Message: "must be a sequence", Location: loc}
	}
	if depth > MaxNestingDepth {
		return nil, &ParseError{Message: fmt.Sprintf("repeat nesting exceeds maximum depth %d", MaxNestingDepth), Location: loc}
	}

	steps := make([]sheet.Step, 0, len(node.Content))
	for i, item := range node.Content {
		p.steps++
		if p.steps > MaxSteps {
			return nil, &ParseError{Message: fmt.Sprintf("too many steps (max %d)", MaxSteps), Location: loc}
		}
		step, err := p.parseStep(resolve(item), fmt.Sprintf("%s[%d]", loc, i), depth)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (p *sheetParser) parseStep(node *yaml.Node, loc string, depth int) (sheet.Step, error) {
	step := sheet.Step{Kind: sheet.StepPrint, As: sheet.FormatReal}

	if node.Kind == yaml.ScalarNode {
		src, err := exprSource(node, loc)
		if err != nil {
			return step, err
		}
		step.Source = src
		step.Expr = expr.Parse(src, p.sink)
		return step, nil
	}

	fields, err := fieldsOf(node, loc, "expr", "as", "text", "set", "repeat", "do")
	if err != nil {
		return step, err
	}

	switch {
	case fields["expr"] != nil:
		if err := onlyKeys(fields, loc, "expr", "as"); err != nil {
			return step, err
		}
		if step.Source, err = exprSource(fields["expr"], loc); err != nil {
			return step, err
		}
		if asNode, ok := fields["as"]; ok {
			if step.As, err = parseFormat(asNode, loc); err != nil {
				return step, err
			}
		}
		step.Expr = expr.Parse(step.Source, p.sink)

	case fields["text"] != nil:
		if err := onlyKeys(fields, loc, "text"); err != nil {
			return step, err
		}
		step.Kind = sheet.StepText
		if step.Text, err = scalar(fields["text"], loc+".text"); err != nil {
			return step, err
		}

	case fields["set"] != nil:
		if err := onlyKeys(fields, loc, "set"); err != nil {
			return step, err
		}
		step.Kind = sheet.StepSet
		if step.Set, err = p.parseBindings(fields["set"], loc+".set"); err != nil {
			return step, err
		}

	case fields["repeat"] != nil:
		if err := onlyKeys(fields, loc, "repeat", "do"); err != nil {
			return step, err
		}
		step.Kind = sheet.StepRepeat
		if step.Source, err = exprSource(fields["repeat"], loc+".repeat"); err != nil {
			return step, err
		}
		step.Expr = expr.Parse(step.Source, p.sink)
		body, ok := fields["do"]
		if !ok {
			return step, &ParseError{Message: "repeat step must have 'do'", Location: loc}
		}
		if step.Body, err = p.parseSteps(body, loc+".do", depth+1); err != nil {
			return step, err
		}

	default:
		return step, &ParseError{Message: "step must have one of 'expr', 'text', 'set' or 'repeat'", Location: loc}
	}
	return step, nil
}

// ParseEnvironment parses a YAML or JSON mapping of variable names to
// numbers. Besides plain numbers, the strings "NaN", "Inf", "+Inf" and
// "-Inf" and the YAML forms .nan and .inf are accepted.
func ParseEnvironment(data []byte) (expr.Environment, error) {
	env := expr.Environment{}
	if strings.TrimSpace(string(data)) == "" {
		return env, nil
	}

	root, err := decodeMapping(data, "variables file")
	if err != nil {
		return nil, err
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		val := resolve(root.Content[i+1])
		if name == "" {
			return nil, &ParseError{Message: "empty variable name"}
		}
		if val.Kind != yaml.ScalarNode {
			return nil, &ParseError{Message: "value must be a number", Location: name}
		}

		var f float64
		if val.Tag == "!!int" || val.Tag == "!!float" {
			if err := val.Decode(&f); err != nil {
				return nil, &ParseError{Message: err.Error(), Location: name}
			}
		} else {
			n, err := types.ParseNumber(val.Value)
			if err != nil {
				return nil, &ParseError{Message: err.Error(), Location: name}
			}
			f = float64(n)
		}
		env[name] = f
	}
	return env, nil
}

// ParseAssignments parses "name=value" pairs, as given on a command line.
func ParseAssignments(pairs []string) (expr.Environment, error) {
	env := make(expr.Environment, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected name=value)", pair)
		}
		n, err := types.ParseNumber(value)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		env[name] = float64(n)
	}
	return env, nil
}

// decodeMapping unmarshals source and returns its top-level mapping node.
func decodeMapping(source []byte, what string) (*yaml.Node, error) {
	var raw yaml.Node
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if raw.Kind != yaml.DocumentNode || len(raw.Content) == 0 {
		return nil, &ParseError{Message: "empty " + what}
	}
	root := resolve(raw.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: what + " must be a mapping"}
	}
	return root, nil
}

// fieldsOf collects the keys of a mapping node, rejecting unknown ones.
func fieldsOf(node *yaml.Node, loc string, allowed ...string) (map[string]*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "must be a mapping", Location: loc}
	}
	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return nil, &ParseError{Message: fmt.Sprintf("unknown key '%s'", key), Location: loc}
		}
		fields[key] = resolve(node.Content[i+1])
	}
	return fields, nil
}

// onlyKeys rejects keys outside allowed once the step kind is known.
func onlyKeys(fields map[string]*yaml.Node, loc string, allowed ...string) error {
	for key := range fields {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return &ParseError{Message: fmt.Sprintf("key '%s' cannot be combined with '%s'", key, allowed[0]), Location: loc}
		}
	}
	return nil
}

// exprSource returns the text of a scalar holding an expression. Numbers
// keep their literal spelling.
func exprSource(node *yaml.Node, loc string) (string, error) {
	if node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return "", &ParseError{Message: "expected an expression", Location: loc}
	}
	if len(node.Value) > expr.MaxExpressionLength {
		return "", &ParseError{Message: fmt.Sprintf("expression exceeds maximum length of %d characters", expr.MaxExpressionLength), Location: loc}
	}
	return node.Value, nil
}

func scalar(node *yaml.Node, loc string) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", &ParseError{Message: "must be a string", Location: loc}
	}
	return node.Value, nil
}

func parseFormat(node *yaml.Node, loc string) (sheet.Format, error) {
	s, err := scalar(node, loc+".as")
	if err != nil {
		return "", err
	}
	f, err := sheet.ParseFormat(s)
	if err != nil {
		return "", &ParseError{Message: err.Error(), Location: loc + ".as"}
	}
	return f, nil
}

// resolve follows alias nodes.
func resolve(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}
