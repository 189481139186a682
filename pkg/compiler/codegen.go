package compiler

import "fmt"

// CodeGen translates a comment-free token stream into WAT instructions.
type CodeGen struct {
	out []string
}

func newCodeGen() *CodeGen {
	return &CodeGen{out: make([]string, 0)}
}

func (cg *CodeGen) line(format string, args ...any) {
	cg.out = append(cg.out, fmt.Sprintf(format, args...))
}

func (cg *CodeGen) word(w Word) {
	switch w.Kind {
	case Literal:
		cg.line("i32.const %s", w.Token.Text)
	case Operator:
		cg.out = append(cg.out, w.Code...)
	case VarRead:
		cg.line("local.get $%s", w.Name)
	case VarWrite:
		cg.line("local.set $%s", w.Name)
	}
}

// Generate emits the instructions for tokens in source order. The first
// invalid token aborts generation and no instructions are returned.
func Generate(tokens []Token) ([]string, error) {
	cg := newCodeGen()
	for _, tok := range tokens {
		w, err := Classify(tok)
		if err != nil {
			return nil, err
		}
		cg.word(w)
	}
	return cg.out, nil
}
