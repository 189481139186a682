package compiler

import "strings"

const moduleHeader = `;; chiqui_forth compiler WAT output

(module
  (import "forth" "emit" (func $emit (param i32)))
  (import "forth" "input" (func $input (result i32)))
  (import "forth" "print" (func $print (param i32)))
  (func (export "_start")`

const moduleFooter = `  )
)`

const indentation = "    "

// BuildModule wraps the local declarations and instructions in the fixed
// module template.
func BuildModule(vars *VariableSet, code []string) string {
	lines := make([]string, 0, vars.Len()+len(code)+2)
	lines = append(lines, moduleHeader)
	for _, name := range vars.Names() {
		lines = append(lines, indentation+"(local $"+name+" i32)")
	}
	for _, instr := range code {
		lines = append(lines, indentation+instr)
	}
	lines = append(lines, moduleFooter)
	return strings.Join(lines, "\n")
}
