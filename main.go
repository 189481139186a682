//go:build !js

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/tebeka/atexit"

	"chiquiforth/pkg/compiler"
	"chiquiforth/pkg/utils"
)

func main() {
	slog.SetDefault(utils.NewLogger(os.Stderr))

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Please specify the name of the Forth source file.")
		atexit.Exit(1)
	}

	var temps []string
	atexit.Register(func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	})

	srcPath := os.Args[1]
	watPath, wasmPath, err := compileFile(srcPath, func(tmp string) { temps = append(temps, tmp) })
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	slog.Info("compiled", "source", srcPath, "text", watPath, "binary", wasmPath)
	atexit.Exit(0)
}

// sourceNotFoundError reports a missing input file.
type sourceNotFoundError struct {
	path string
}

func (e *sourceNotFoundError) Error() string {
	return "Oops! File not found: " + e.path
}

// compileFile compiles the source at srcPath and writes the text and binary
// modules next to it, returning their absolute paths. Nothing is written
// unless both were produced.
func compileFile(srcPath string, onTemp func(string)) (string, string, error) {
	fullPath, outDir, err := utils.GetPathInfo(srcPath)
	if err != nil {
		return "", "", err
	}

	source, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", &sourceNotFoundError{path: srcPath}
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read input file %q: %v", srcPath, err)
	}
	slog.Debug("read source", "path", fullPath, "dir", outDir, "bytes", len(source))

	tokens := compiler.Tokenize(string(source))
	if open, ok := compiler.UnterminatedComment(tokens); ok {
		slog.Warn("unterminated comment, ignoring the rest of the source", "path", srcPath, "line", open.Line)
	}

	wat, wasm, err := compiler.Compile(string(source))
	if err != nil {
		return "", "", err
	}
	slog.Debug("encoded module", "text_bytes", len(wat), "binary_bytes", len(wasm))

	watPath, wasmPath := utils.ArtifactPaths(fullPath)
	err = utils.WriteArtifacts([]utils.Artifact{
		{Path: watPath, Data: []byte(wat)},
		{Path: wasmPath, Data: wasm},
	}, onTemp)
	if err != nil {
		return "", "", err
	}
	return watPath, wasmPath, nil
}
