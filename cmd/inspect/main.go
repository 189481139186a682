package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"chiquiforth/pkg/asm"
	"chiquiforth/pkg/compiler"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Please specify the name of the Forth source file.")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read error:", err)
		os.Exit(1)
	}
	src := string(data)

	tokens := compiler.Tokenize(src)
	stripped := compiler.StripComments(tokens)
	fmt.Printf("Tokens (%d, %d after removing comments)\n", len(tokens), len(stripped))
	if open, ok := compiler.UnterminatedComment(tokens); ok {
		fmt.Printf("  warning: comment opened on line %d is never closed\n", open.Line)
	}
	fmt.Println()

	words := table.NewWriter()
	words.SetOutputMirror(os.Stdout)
	words.SetStyle(table.StyleLight)
	words.AppendHeader(table.Row{"#", "Line", "Word", "Kind", "Instructions"})
	invalid := 0
	for i, tok := range stripped {
		w, err := compiler.Classify(tok)
		code := ""
		if err != nil {
			invalid++
			code = err.Error()
		} else if one, err := compiler.Generate([]compiler.Token{tok}); err == nil {
			code = strings.Join(one, "\n")
		}
		words.AppendRow(table.Row{i, tok.Line, tok.Text, w.Kind, code})
	}
	words.AppendFooter(table.Row{"", "", "", "invalid", invalid})
	words.Render()
	fmt.Println()

	vars := compiler.CollectVariables(stripped)
	fmt.Print(vars)
	fmt.Println()

	unit, err := compiler.Translate(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile error:", err)
		os.Exit(1)
	}
	fmt.Println("Generated WAT")
	fmt.Println(unit.Text)
	fmt.Println()

	bin, sourceMap, err := asm.Assemble(unit.Text)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encoding error:", err)
		os.Exit(1)
	}

	offsets := table.NewWriter()
	offsets.SetOutputMirror(os.Stdout)
	offsets.SetStyle(table.StyleLight)
	offsets.AppendHeader(table.Row{"Offset", "WAT line", "Instruction"})
	lines := strings.Split(unit.Text, "\n")
	for off := uint32(0); off < uint32(len(bin)); off++ {
		line, ok := sourceMap[off]
		if !ok {
			continue
		}
		offsets.AppendRow(table.Row{fmt.Sprintf("0x%04x", off), line, strings.TrimSpace(lines[line-1])})
	}
	offsets.Render()
	fmt.Println()

	fmt.Printf("Binary (%d bytes)\n", len(bin))
	fmt.Print(hex.Dump(bin))
}
