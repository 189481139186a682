package asm

import (
	"fmt"
	"strconv"
	"strings"
)

// node is one S-expression: either an atom or a parenthesised list.
type node struct {
	line   int
	atom   string
	quoted bool // atom was written as a "string"
	list   []*node
	isList bool
}

func (n *node) String() string {
	if !n.isList {
		if n.quoted {
			return strconv.Quote(n.atom)
		}
		return n.atom
	}
	parts := make([]string, len(n.list))
	for i, c := range n.list {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// keyword returns the leading atom of a list, or "".
func (n *node) keyword() string {
	if !n.isList || len(n.list) == 0 || n.list[0].isList || n.list[0].quoted {
		return ""
	}
	return n.list[0].atom
}

type scanner struct {
	src  string
	pos  int
	line int
}

func (s *scanner) peek() byte {
	if s.pos >= len(s.src) {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) peek2() byte {
	if s.pos+1 >= len(s.src) {
		return 0
	}
	return s.src[s.pos+1]
}

func (s *scanner) advance() byte {
	c := s.src[s.pos]
	s.pos++
	if c == '\n' {
		s.line++
	}
	return c
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// skipBlank discards whitespace, line comments and (possibly nested) block
// comments.
func (s *scanner) skipBlank() error {
	for s.pos < len(s.src) {
		c := s.peek()
		switch {
		case isSpace(c):
			s.advance()
		case c == ';' && s.peek2() == ';':
			for s.pos < len(s.src) && s.peek() != '\n' {
				s.advance()
			}
		case c == '(' && s.peek2() == ';':
			if err := s.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) skipBlockComment() error {
	startLine := s.line
	depth := 0
	for s.pos < len(s.src) {
		switch {
		case s.peek() == '(' && s.peek2() == ';':
			s.advance()
			s.advance()
			depth++
		case s.peek() == ';' && s.peek2() == ')':
			s.advance()
			s.advance()
			depth--
			if depth == 0 {
				return nil
			}
		default:
			s.advance()
		}
	}
	return fmt.Errorf("unterminated block comment (opened on line %d)", startLine)
}

func (s *scanner) scanString() (string, error) {
	line := s.line
	s.advance() // opening quote
	var sb strings.Builder
	for s.pos < len(s.src) {
		c := s.advance()
		switch c {
		case '"':
			return sb.String(), nil
		case '\n':
			return "", fmt.Errorf("newline in string literal on line %d", line)
		case '\\':
			if s.pos >= len(s.src) {
				return "", fmt.Errorf("unterminated string literal on line %d", line)
			}
			e := s.advance()
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\'', '\\':
				sb.WriteByte(e)
			default:
				if s.pos >= len(s.src) {
					return "", fmt.Errorf("unterminated string literal on line %d", line)
				}
				v, err := strconv.ParseUint(string([]byte{e, s.advance()}), 16, 8)
				if err != nil {
					return "", fmt.Errorf("invalid escape in string literal on line %d", line)
				}
				sb.WriteByte(byte(v))
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated string literal on line %d", line)
}

func (s *scanner) scanAtom() string {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.peek()
		if isSpace(c) || c == '(' || c == ')' || c == '"' || c == ';' {
			break
		}
		s.advance()
	}
	return s.src[start:s.pos]
}

// parseSExpr reads every top-level S-expression in src.
func parseSExpr(src string) ([]*node, error) {
	s := &scanner{src: src, line: 1}
	root := &node{isList: true}
	stack := []*node{root}

	for {
		if err := s.skipBlank(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.src) {
			break
		}

		top := stack[len(stack)-1]
		switch c := s.peek(); c {
		case '(':
			n := &node{line: s.line, isList: true}
			s.advance()
			top.list = append(top.list, n)
			stack = append(stack, n)
		case ')':
			if len(stack) == 1 {
				return nil, fmt.Errorf("unexpected ')' on line %d", s.line)
			}
			s.advance()
			stack = stack[:len(stack)-1]
		case '"':
			line := s.line
			str, err := s.scanString()
			if err != nil {
				return nil, err
			}
			top.list = append(top.list, &node{line: line, atom: str, quoted: true})
		default:
			line := s.line
			atom := s.scanAtom()
			if atom == "" {
				return nil, fmt.Errorf("unexpected character %q on line %d", c, line)
			}
			top.list = append(top.list, &node{line: line, atom: atom})
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, fmt.Errorf("unclosed '(' opened on line %d", open.line)
	}
	return root.list, nil
}
