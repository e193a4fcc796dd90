package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer produces tokens from source text one at a time, keeping a
// single token of lookahead.
//
// Whitespace separates tokens. Each of ( ) + - / % ^ is a token of its own,
// and so is *, except that two adjacent stars form the ** operator. Every
// other run of characters is one word, so a name containing an operator
// character (say "a+b") is split apart.
type Tokenizer struct {
	input string
	pos   int
	cur   Token
}

// NewTokenizer creates a tokenizer positioned on the first token of input.
func NewTokenizer(input string) *Tokenizer {
	t := &Tokenizer{input: input}
	t.advance()
	return t
}

// Peek returns the current token without consuming it. At the end of input
// it returns a TokenEOF token with an empty value.
func (t *Tokenizer) Peek() Token {
	return t.cur
}

// Eat returns the current token and advances to the next one.
func (t *Tokenizer) Eat() Token {
	tok := t.cur
	t.advance()
	return tok
}

// EOF reports whether the input is exhausted.
func (t *Tokenizer) EOF() bool {
	return t.cur.Type == TokenEOF
}

// Tokenize scans the entire input and returns all tokens, excluding EOF.
func Tokenize(input string) []Token {
	var tokens []Token
	for t := NewTokenizer(input); !t.EOF(); {
		tokens = append(tokens, t.Eat())
	}
	return tokens
}

// advance scans the next token into cur.
func (t *Tokenizer) advance() {
	t.skipWhitespace()

	if t.pos >= len(t.input) {
		t.cur = Token{Type: TokenEOF}
		return
	}

	ch := t.input[t.pos]
	switch ch {
	case '(':
		t.pos++
		t.cur = Token{Type: TokenLParen, Value: "("}
		return
	case ')':
		t.pos++
		t.cur = Token{Type: TokenRParen, Value: ")"}
		return
	case '*':
		if t.pos+1 < len(t.input) && t.input[t.pos+1] == '*' {
			t.pos += 2
			t.cur = Token{Type: TokenOperator, Value: "**"}
			return
		}
		t.pos++
		t.cur = Token{Type: TokenOperator, Value: "*"}
		return
	case '+', '-', '/', '%', '^':
		t.pos++
		t.cur = Token{Type: TokenOperator, Value: string(ch)}
		return
	}

	t.cur = t.readWord()
}

// readWord reads a run of characters up to whitespace, a parenthesis or an
// operator.
func (t *Tokenizer) readWord() Token {
	start := t.pos
	for t.pos < len(t.input) {
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		if unicode.IsSpace(r) || isBreak(t.input[t.pos]) {
			break
		}
		t.pos += size
	}

	word := t.input[start:t.pos]
	if isNumberStart(word[0]) {
		return Token{Type: TokenNumber, Value: word}
	}
	return Token{Type: TokenIdent, Value: word}
}

func (t *Tokenizer) skipWhitespace() {
	for t.pos < len(t.input) {
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		t.pos += size
	}
}

// isBreak reports whether ch always ends a word.
func isBreak(ch byte) bool {
	return strings.IndexByte("()+-*/%^", ch) >= 0
}

func isNumberStart(ch byte) bool {
	return ch == '.' || (ch >= '0' && ch <= '9')
}
