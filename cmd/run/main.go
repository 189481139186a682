package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/tebeka/atexit"

	"chiquiforth/pkg/utils"
	"chiquiforth/pkg/vm"
)

// flushingHost flushes buffered output before blocking on input.
type flushingHost struct {
	*vm.ConsoleHost
	out *bufio.Writer
}

func (h flushingHost) Input() (int32, bool) {
	h.out.Flush()
	return h.ConsoleHost.Input()
}

func main() {
	slog.SetDefault(utils.NewLogger(os.Stderr))

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Please specify the name of the WASM binary file.")
		atexit.Exit(1)
	}

	binPath := os.Args[1]
	bin, err := os.ReadFile(binPath)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Oops! File not found: %s\n", binPath)
		atexit.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read binary file %q: %v\n", binPath, err)
		atexit.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	atexit.Register(func() { out.Flush() })
	host := flushingHost{ConsoleHost: vm.NewConsoleHost(os.Stdin, out), out: out}

	machine, err := vm.Load(bin, vm.WithHost(host))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	if err := machine.Run(); err != nil {
		out.Flush()
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	slog.Debug("program finished", "path", binPath, "steps", machine.Steps)
	atexit.Exit(0)
}
