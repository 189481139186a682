package compiler

import "unicode"

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// scanWord collects runes up to the next whitespace.
func (l *Lexer) scanWord() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) && !unicode.IsSpace(l.peek()) {
		l.advance()
	}
	return Token{Text: string(l.src[start:l.pos]), Line: line}
}

// Tokenize splits src into words separated by runs of whitespace.
// There is no quoting or escaping; every non-space rune belongs to a word.
func Tokenize(src string) []Token {
	l := newLexer(src)
	tokens := make([]Token, 0)
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return tokens
		}
		tokens = append(tokens, l.scanWord())
	}
}

type commentState int

const (
	outsideComment commentState = iota
	insideComment
)

// step advances the comment state machine by one token and reports whether
// the token survives.
func (s commentState) step(word string) (commentState, bool) {
	switch s {
	case insideComment:
		if word == ")" {
			return outsideComment, false
		}
		return insideComment, false
	default:
		if word == "(" {
			return insideComment, false
		}
		return outsideComment, true
	}
}

// StripComments drops every token from a "(" up to and including the next
// ")". Comments do not nest, and an unterminated comment swallows the rest
// of the input.
func StripComments(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	state := outsideComment
	for _, tok := range tokens {
		var keep bool
		state, keep = state.step(tok.Text)
		if keep {
			out = append(out, tok)
		}
	}
	return out
}

// UnterminatedComment returns the "(" that opens a comment still open at
// end of input.
func UnterminatedComment(tokens []Token) (Token, bool) {
	state := outsideComment
	var open Token
	for _, tok := range tokens {
		next, _ := state.step(tok.Text)
		if state == outsideComment && next == insideComment {
			open = tok
		}
		state = next
	}
	return open, state == insideComment
}
