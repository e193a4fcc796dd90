// Package expr implements a small arithmetic expression engine: a
// whitespace-insensitive tokenizer, a recursive descent parser for a flat
// left-to-right grammar, and a tree evaluator over float64 values.
//
// Every binary operator has the same precedence, so "2 + 3 * 4" is 20.
// Parentheses are the only way to change grouping. Malformed input never
// fails: the parser reports the problem on a diagnostic sink and substitutes
// a best-effort node, usually the constant 0.
package expr

// TokenType represents the class of a lexical token.
type TokenType int

const (
	TokenEOF      TokenType = iota // end of input
	TokenLParen                    // (
	TokenRParen                    // )
	TokenOperator                  // + - * / % ^ **
	TokenNumber                    // word starting with a digit or '.'
	TokenIdent                     // any other word: PI, function or variable name
)

// Token is a single lexeme. Tokens carry no position information.
type Token struct {
	Type  TokenType
	Value string
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenOperator:
		return "OPERATOR"
	case TokenNumber:
		return "NUMBER"
	case TokenIdent:
		return "IDENT"
	default:
		return "UNKNOWN"
	}
}

// String returns the lexeme, or "EOF" for the end-of-input token.
func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	return t.Value
}
