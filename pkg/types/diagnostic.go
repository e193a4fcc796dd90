// Package types defines the diagnostic values shared by the expression core
// and the services built around it.
package types

import "fmt"

// Tag identifies the condition a diagnostic reports.
type Tag string

// Diagnostic tags. Every condition is non-fatal: the parser or evaluator
// substitutes a value and keeps going.
const (
	TagCutShort        Tag = "CutShort"
	TagEmptyExpression Tag = "EmptyExpression"
	TagMissingParen    Tag = "MissingParen"
	TagMissingOperand  Tag = "MissingOperand"
	TagUnknownOperator Tag = "UnknownOperator"
	TagFunctionParen   Tag = "FunctionParen"
	TagTrailingInput   Tag = "TrailingInput"
	TagTooDeep         Tag = "TooDeep"
	TagUnknownVariable Tag = "UnknownVariable"
	TagBadNumber       Tag = "BadNumber"
	TagShadowedPI      Tag = "ShadowedPI"
	TagNoParseTree     Tag = "NoParseTree"
)

// Class groups tags into the three failure families.
type Class int

const (
	ClassLexical  Class = iota // input ran out where a token was needed
	ClassSyntax                // tokens in the wrong place
	ClassSemantic              // well-formed input with a soft meaning problem
)

// String returns the lowercase class name.
func (c Class) String() string {
	switch c {
	case ClassLexical:
		return "lexical"
	case ClassSyntax:
		return "syntax"
	case ClassSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Class returns the family a tag belongs to.
func (t Tag) Class() Class {
	switch t {
	case TagCutShort, TagEmptyExpression:
		return ClassLexical
	case TagMissingParen, TagMissingOperand, TagUnknownOperator, TagFunctionParen, TagTrailingInput, TagTooDeep:
		return ClassSyntax
	default:
		return ClassSemantic
	}
}

// Diagnostic is one human-readable report from the diagnostic channel.
type Diagnostic struct {
	Tag     Tag    `json:"tag"`
	Message string `json:"message"`
}

// String returns the message line.
func (d Diagnostic) String() string {
	return d.Message
}

// Newf builds a diagnostic with a formatted message.
func Newf(tag Tag, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Tag: tag, Message: fmt.Sprintf(format, args...)}
}
