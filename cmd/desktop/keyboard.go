package main

import (
	"fmt"

	"chiquiforth/pkg/grid"
	"chiquiforth/pkg/vm"
)

// keyboardHost feeds typed lines to the program and renders its output on
// a terminal grid. Input reports no value until a line has been entered.
type keyboardHost struct {
	term    *grid.Terminal
	pending []rune
	lines   []string
}

func newKeyboardHost(term *grid.Terminal) *keyboardHost {
	return &keyboardHost{term: term}
}

func (h *keyboardHost) Emit(c int32) {
	h.term.Put(rune(c))
}

func (h *keyboardHost) Print(n int32) {
	fmt.Fprintf(h.term, "%d ", n)
}

func (h *keyboardHost) Input() (int32, bool) {
	if len(h.lines) == 0 {
		return 0, false
	}
	line := h.lines[0]
	h.lines = h.lines[1:]
	return vm.ParseInput(line), true
}

// Type echoes r and appends it to the line being edited.
func (h *keyboardHost) Type(r rune) {
	if r < ' ' {
		return
	}
	h.pending = append(h.pending, r)
	h.term.Put(r)
}

func (h *keyboardHost) Backspace() {
	if len(h.pending) == 0 {
		return
	}
	h.pending = h.pending[:len(h.pending)-1]
	h.term.Put('\b')
}

// Enter completes the line being edited.
func (h *keyboardHost) Enter() {
	h.lines = append(h.lines, string(h.pending))
	h.pending = h.pending[:0]
	h.term.Put('\n')
}
