// Package grid lays out program output as a fixed grid of character cells.
package grid

import "strings"

// GetGridCoords converts a linear cell index to column and row.
func GetGridCoords(index, cols int) (x, y int) {
	return index % cols, index / cols
}

// Terminal is a scrolling character-cell screen with a cursor.
type Terminal struct {
	Cols, Rows int

	cells  []rune
	cursor int
}

func NewTerminal(cols, rows int) *Terminal {
	t := &Terminal{Cols: cols, Rows: rows, cells: make([]rune, cols*rows)}
	t.Clear()
	return t
}

func (t *Terminal) Clear() {
	for i := range t.cells {
		t.cells[i] = ' '
	}
	t.cursor = 0
}

// Cursor returns the cursor's column and row.
func (t *Terminal) Cursor() (x, y int) {
	return GetGridCoords(t.cursor, t.Cols)
}

func (t *Terminal) scroll() {
	copy(t.cells, t.cells[t.Cols:])
	last := t.cells[len(t.cells)-t.Cols:]
	for i := range last {
		last[i] = ' '
	}
	t.cursor -= t.Cols
}

// Put writes r at the cursor. Newline moves to the next row, backspace
// erases the previous cell, other control characters are ignored.
func (t *Terminal) Put(r rune) {
	switch {
	case r == '\n':
		_, y := t.Cursor()
		t.cursor = (y + 1) * t.Cols
	case r == '\r':
		_, y := t.Cursor()
		t.cursor = y * t.Cols
	case r == '\b':
		if t.cursor > 0 {
			t.cursor--
			t.cells[t.cursor] = ' '
		}
		return
	case r < ' ':
		return
	default:
		t.cells[t.cursor] = r
		t.cursor++
	}
	if t.cursor >= len(t.cells) {
		t.scroll()
	}
}

// Write implements io.Writer.
func (t *Terminal) Write(p []byte) (int, error) {
	for _, r := range string(p) {
		t.Put(r)
	}
	return len(p), nil
}

// Lines returns the rows with trailing blanks removed.
func (t *Terminal) Lines() []string {
	lines := make([]string, t.Rows)
	for y := 0; y < t.Rows; y++ {
		lines[y] = strings.TrimRight(string(t.cells[y*t.Cols:(y+1)*t.Cols]), " ")
	}
	return lines
}

func (t *Terminal) String() string {
	return strings.Join(t.Lines(), "\n")
}
