package expr

import (
	"regexp"
	"strconv"

	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// PI is the value the parser substitutes for the identifier "PI". It is a
// truncated approximation, about 9.3e-5 below math.Pi. Bind math.Pi to a
// variable with another name when an accurate value is needed.
const PI = 3.1415

// MaxExpressionLength is the longest source, in bytes, the servers and the
// sheet parser accept for a single expression. Parse itself has no limit.
const MaxExpressionLength = 4096

// MaxNestingDepth is the deepest chain of parentheses, negations and function
// calls the parser descends into. Anything deeper is reported and read as 0.
const MaxNestingDepth = 256

// numberLiteral matches the plain decimal literals accepted as numbers.
var numberLiteral = regexp.MustCompile(`^([0-9]+\.?[0-9]*|\.[0-9]+)([eE][0-9]+)?$`)

// Parser is a recursive descent parser for the flat expression grammar:
//
//	expr  := value ( binop value )*
//	value := '(' expr ')' | '-' value | number | fname '(' value ')' | 'PI' | identifier
//	binop := '+' | '-' | '*' | '/' | '%' | '^' | '**'
//
// All binary operators share one precedence and associate to the left.
// The parser never aborts; each problem is reported to the sink and replaced
// by a best-effort node.
type Parser struct {
	tokens *Tokenizer
	sink   types.Sink
	depth  int
}

// ParseNode parses input into a tree. The input is wrapped in a synthetic
// pair of parentheses so that the top level is an ordinary parenthesized
// value. Empty input yields a nil tree.
func ParseNode(input string, sink types.Sink) Node {
	sink = sink.OrDefault()
	if len(Tokenize(input)) == 0 {
		sink(types.Newf(types.TagEmptyExpression, "empty expression"))
		return nil
	}

	p := &Parser{tokens: NewTokenizer("(" + input + ")"), sink: sink}
	node := p.parseValue()
	if !p.tokens.EOF() {
		p.report(types.TagTrailingInput, "unexpected trailing input starting at %q", p.tokens.Peek().Value)
	}
	return node
}

func (p *Parser) report(tag types.Tag, format string, args ...interface{}) {
	p.sink(types.Newf(tag, format, args...))
}

// parseExpression parses a left-associative chain of values joined by
// binary operators, stopping in front of the closing parenthesis.
func (p *Parser) parseExpression() Node {
	left := p.parseValue()

	for p.tokens.Peek().Type != TokenRParen {
		if p.tokens.EOF() {
			p.report(types.TagCutShort, "expression cut short")
			return left
		}
		op := p.tokens.Eat()
		right := p.parseValue()
		left = p.makeBinary(op, left, right)
	}
	return left
}

func (p *Parser) makeBinary(op Token, left, right Node) Node {
	kind, ok := binaryOps[op.Value]
	if !ok || op.Type != TokenOperator {
		p.report(types.TagUnknownOperator, "unknown operation: %s", op.Value)
		return &ConstantNode{Value: 0}
	}
	return &BinaryNode{Op: kind, Left: left, Right: right}
}

// parseValue parses a single operand.
func (p *Parser) parseValue() Node {
	p.depth++
	defer func() { p.depth-- }()

	next := p.tokens.Peek()
	switch {
	case p.depth > MaxNestingDepth:
		p.report(types.TagTooDeep, "expression nested deeper than %d levels", MaxNestingDepth)
		p.skipGroup()
		return &ConstantNode{Value: 0}
	case next.Type == TokenEOF:
		p.report(types.TagCutShort, "expression cut short")
		return &ConstantNode{Value: 0}
	case next.Type == TokenRParen,
		next.Type == TokenOperator && next.Value != "-":
		// Leave the token for the caller; the operand is taken as 0.
		p.report(types.TagMissingOperand, "expected a value but found %q", next.Value)
		return &ConstantNode{Value: 0}
	}

	tok := p.tokens.Eat()
	switch tok.Type {
	case TokenLParen:
		inner := p.parseExpression()
		if rp := p.tokens.Eat(); rp.Type != TokenRParen {
			p.report(types.TagMissingParen, `expression error: expected ")"`)
		}
		return inner
	case TokenOperator:
		return &NegateNode{Operand: p.parseValue()}
	case TokenNumber:
		return p.parseNumber(tok.Value)
	}

	if fn, ok := mathFuncs[tok.Value]; ok {
		if p.tokens.Peek().Type != TokenLParen {
			p.report(types.TagFunctionParen, "built-in function %s must be followed by parentheses", tok.Value)
			return &BinaryNode{Op: OpAdd, Left: &ConstantNode{Value: 0}, Right: p.parseExpression()}
		}
		return &MathNode{Func: fn, Operand: p.parseValue()}
	}

	if tok.Value == "PI" {
		return &ConstantNode{Value: PI}
	}
	return &VariableNode{Name: tok.Value}
}

// skipGroup discards tokens up to, but not including, the parenthesis that
// closes the current group.
func (p *Parser) skipGroup() {
	open := 0
	for !p.tokens.EOF() {
		switch p.tokens.Peek().Type {
		case TokenLParen:
			open++
		case TokenRParen:
			if open == 0 {
				return
			}
			open--
		}
		p.tokens.Eat()
	}
}

func (p *Parser) parseNumber(text string) Node {
	if !numberLiteral.MatchString(text) {
		p.report(types.TagBadNumber, "expecting a real number but received: %s", text)
		return &ConstantNode{Value: 0}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.report(types.TagBadNumber, "expecting a real number but received: %s", text)
		return &ConstantNode{Value: 0}
	}
	return &ConstantNode{Value: f}
}
