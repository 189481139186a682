package compiler

// operations maps operator spellings to the WAT instructions they expand to.
var operations = map[string][]string{
	"*":     {"i32.mul"},
	"+":     {"i32.add"},
	"-":     {"i32.sub"},
	"/":     {"i32.div_s"},
	".":     {"call $print"},
	"emit":  {"call $emit"},
	"input": {"call $input"},
	"nl": {
		"i32.const 10",
		"call $emit",
	},
}

// Operation returns a copy of the expansion for word.
func Operation(word string) ([]string, bool) {
	code, ok := operations[word]
	if !ok {
		return nil, false
	}
	return append([]string(nil), code...), true
}

// IsOperation reports whether word is an operation table key.
func IsOperation(word string) bool {
	_, ok := operations[word]
	return ok
}
