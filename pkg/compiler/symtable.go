package compiler

import (
	"fmt"
	"strings"
)

// VariableSet holds the distinct variable names of a program in the order
// they were first seen.
type VariableSet struct {
	names []string
	index map[string]int
}

func NewVariableSet() *VariableSet {
	return &VariableSet{index: make(map[string]int)}
}

// Add records name and reports whether it was new.
func (s *VariableSet) Add(name string) bool {
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	return true
}

func (s *VariableSet) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *VariableSet) Len() int {
	return len(s.names)
}

// Names returns the variables in discovery order.
func (s *VariableSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *VariableSet) String() string {
	var sb strings.Builder
	sb.WriteString("Variables\n")
	for i, name := range s.names {
		fmt.Fprintf(&sb, "  %d: %s\n", i, name)
	}
	return sb.String()
}

// CollectVariables finds every variable read or written in tokens. Tokens
// that do not name a variable are ignored, including invalid ones.
func CollectVariables(tokens []Token) *VariableSet {
	vars := NewVariableSet()
	for _, tok := range tokens {
		if name, ok := varName(tok.Text); ok {
			vars.Add(name)
		}
	}
	return vars
}
