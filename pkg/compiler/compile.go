package compiler

import "chiquiforth/pkg/asm"

// Unit is the result of translating one source file.
type Unit struct {
	Tokens []Token // comment-free token stream
	Vars   *VariableSet
	Code   []string
	Text   string // assembled module text
}

// Translate runs the front end: tokenize, strip comments, collect
// variables, generate code and wrap it in the module template.
func Translate(src string) (*Unit, error) {
	tokens := StripComments(Tokenize(src))

	vars := CollectVariables(tokens)
	code, err := Generate(tokens)
	if err != nil {
		return nil, err
	}

	return &Unit{
		Tokens: tokens,
		Vars:   vars,
		Code:   code,
		Text:   BuildModule(vars, code),
	}, nil
}

// Compile translates src and encodes the module text. Either both results
// are returned or neither is. Operand stack balance is not checked here; an
// unbalanced program encodes and traps when run.
func Compile(src string) (string, []byte, error) {
	unit, err := Translate(src)
	if err != nil {
		return "", nil, err
	}

	wasm, _, err := asm.Assemble(unit.Text)
	if err != nil {
		return "", nil, &EncodingError{Err: err}
	}

	return unit.Text, wasm, nil
}
