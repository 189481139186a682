// Package compiler translates chiqui_forth source into WebAssembly text.
//
// Pipeline: source → Tokenize → StripComments → {CollectVariables, Generate}
// → BuildModule → WAT text (→ asm.Assemble → wasm)
package compiler
