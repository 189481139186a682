package main

import (
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"chiquiforth/pkg/compiler"
	"chiquiforth/pkg/grid"
	"chiquiforth/pkg/utils"
	"chiquiforth/pkg/vm"
)

const (
	cols       = 80
	rows       = 30
	charWidth  = 7
	charHeight = 16

	// instructions executed per frame at most
	stepsPerFrame = 10000
)

type Game struct {
	vm       *vm.VM
	host     *keyboardHost
	face     text.Face
	finished bool
}

func (g *Game) Update() error {
	for _, r := range ebiten.AppendInputChars(nil) {
		g.host.Type(r)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadEnter) {
		g.host.Enter()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.host.Backspace()
	}

	if g.finished {
		return nil
	}

	for i := 0; i < stepsPerFrame; i++ {
		if err := g.vm.Step(); err != nil {
			fmt.Fprintf(g.host.term, "\n%v\n", err)
			g.finished = true
			return nil
		}
		if g.vm.Halted {
			fmt.Fprint(g.host.term, "\n[program finished]\n")
			g.finished = true
			return nil
		}
		if g.vm.Waiting {
			break
		}
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.Black)

	op := &text.DrawOptions{}
	op.LineSpacing = charHeight
	op.GeoM.Translate(2, 2)
	op.ColorScale.ScaleWithColor(color.White)
	text.Draw(screen, g.host.term.String(), g.face, op)

	if g.vm.Waiting {
		x, y := g.host.term.Cursor()
		cursor := &text.DrawOptions{}
		cursor.GeoM.Translate(float64(2+x*charWidth), float64(2+y*charHeight))
		cursor.ColorScale.ScaleWithColor(color.RGBA{0x80, 0xff, 0x80, 0xff})
		text.Draw(screen, "_", g.face, cursor)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return cols*charWidth + 4, rows*charHeight + 4
}

// loadBinary reads a .wasm module, compiling the file first if it is source.
func loadBinary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == utils.BinaryExt {
		return data, nil
	}
	_, wasm, err := compiler.Compile(string(data))
	return wasm, err
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Please specify the name of the WASM binary or Forth source file.")
		os.Exit(1)
	}

	bin, err := loadBinary(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	term := grid.NewTerminal(cols, rows)
	host := newKeyboardHost(term)
	machine, err := vm.Load(bin, vm.WithHost(host))
	if err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(2*(cols*charWidth+4), 2*(rows*charHeight+4))
	ebiten.SetWindowTitle("chiqui_forth - " + filepath.Base(os.Args[1]))

	game := &Game{
		vm:   machine,
		host: host,
		face: text.NewGoXFace(basicfont.Face7x13),
	}
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
