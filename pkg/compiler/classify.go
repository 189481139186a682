package compiler

import (
	"strconv"
	"strings"
	"unicode"
)

// isNumber reports whether word is an optionally signed run of decimal
// digits, where single '_' separators may appear between digits. Range is
// not checked here; the encoder rejects constants that do not fit an i32.
func isNumber(word string) bool {
	digits := word
	if strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c == '_' {
			if i == 0 || i == len(digits)-1 || digits[i+1] == '_' {
				return false
			}
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsVarName reports whether word can name a variable: a letter followed by
// letters or digits, and not an operator.
func IsVarName(word string) bool {
	if word == "" || IsOperation(word) {
		return false
	}
	for i, r := range word {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// writeTarget returns the variable a "name!" word stores into.
func writeTarget(word string) (string, bool) {
	name, ok := strings.CutSuffix(word, "!")
	if !ok || !IsVarName(name) {
		return "", false
	}
	return name, true
}

// varName extracts the variable referenced by word in either form.
func varName(word string) (string, bool) {
	if IsVarName(word) {
		return word, true
	}
	return writeTarget(word)
}

// Classify decides how tok is translated. The rules are tried in order:
// integer literal, operator, variable read, variable write. A token that
// matches none is returned as Invalid together with a *CompileError.
func Classify(tok Token) (Word, error) {
	w := Word{Token: tok}
	switch {
	case isNumber(tok.Text):
		w.Kind = Literal
		if v, err := strconv.ParseInt(strings.ReplaceAll(tok.Text, "_", ""), 10, 64); err == nil {
			w.Value = v
		}
	case IsOperation(tok.Text):
		w.Kind = Operator
		w.Code, _ = Operation(tok.Text)
	case IsVarName(tok.Text):
		w.Kind = VarRead
		w.Name = tok.Text
	default:
		name, ok := writeTarget(tok.Text)
		if !ok {
			w.Kind = Invalid
			return w, &CompileError{Token: tok}
		}
		w.Kind = VarWrite
		w.Name = name
	}
	return w, nil
}
