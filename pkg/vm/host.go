package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Host supplies the primitives a compiled program imports.
type Host interface {
	// Emit writes the character with code point c.
	Emit(c int32)
	// Input reads one integer. ok is false when no input is available yet;
	// the VM then waits and retries.
	Input() (n int32, ok bool)
	// Print writes n in decimal followed by a space.
	Print(n int32)
}

// ConsoleHost implements Host over a line-oriented reader and a writer.
type ConsoleHost struct {
	in  *bufio.Reader
	out io.Writer
}

func NewConsoleHost(in io.Reader, out io.Writer) *ConsoleHost {
	return &ConsoleHost{in: bufio.NewReader(in), out: out}
}

// DefaultConsoleHost reads stdin and writes stdout.
func DefaultConsoleHost() *ConsoleHost {
	return NewConsoleHost(os.Stdin, os.Stdout)
}

// Emit writes c as a UTF-8 character; invalid code points become U+FFFD.
func (h *ConsoleHost) Emit(c int32) {
	fmt.Fprint(h.out, string(rune(c)))
}

// Input reads one line. Malformed numbers and end of input read as 0.
func (h *ConsoleHost) Input() (int32, bool) {
	line, err := h.in.ReadString('\n')
	if err != nil && line == "" {
		return 0, true
	}
	return ParseInput(line), true
}

func (h *ConsoleHost) Print(n int32) {
	fmt.Fprintf(h.out, "%d ", n)
}

// ParseInput converts one line of user input to an integer, yielding 0 when
// the line is not a base-10 i32.
func ParseInput(line string) int32 {
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}
