package compiler

import "fmt"

// CompileError reports a token that is neither a literal, an operator nor a
// variable reference.
type CompileError struct {
	Token Token
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: '%s' is not a valid word", e.Token.Line, e.Token.Text)
}

// EncodingError wraps a failure of the WAT encoder.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "encoding failed: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
