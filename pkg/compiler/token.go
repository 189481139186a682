package compiler

import "fmt"

// Token is one whitespace-delimited word of source text.
type Token struct {
	Text string
	Line int // 1-based source line, used only for diagnostics
}

func (t Token) String() string {
	return fmt.Sprintf("%d:%q", t.Line, t.Text)
}

// WordKind identifies how a token is translated.
type WordKind int

const (
	Invalid WordKind = iota

	Literal  // signed base-10 integer
	Operator // key of the operation table
	VarRead  // variable name, pushes the local
	VarWrite // variable name with a trailing '!', pops into the local
)

var wordKindNames = map[WordKind]string{
	Invalid:  "invalid",
	Literal:  "literal",
	Operator: "operator",
	VarRead:  "variable read",
	VarWrite: "variable write",
}

func (k WordKind) String() string {
	if name, ok := wordKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("WordKind(%d)", int(k))
}

// Word is the classification outcome of a single token.
type Word struct {
	Kind  WordKind
	Token Token

	Value int64    // Literal; zero when the digits overflow int64
	Name  string   // VarRead, VarWrite
	Code  []string // Operator
}
