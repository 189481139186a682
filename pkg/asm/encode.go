package asm

import (
	"fmt"

	"chiquiforth/pkg/vm"
)

type instrPos struct {
	offset uint32 // relative to the start of the function's expression
	line   int
}

// bodyEncoder encodes one function body and tracks the operand stack depth
// so that, with stack checking on, ill-typed bodies are rejected before they
// reach a runtime.
type bodyEncoder struct {
	a           *Assembler
	f           *function
	code        []byte
	positions   []instrPos
	depth       int
	unreachable bool
}

func needsImmediate(mnemonic string) bool {
	if _, ok := localIndexOps[mnemonic]; ok {
		return true
	}
	if _, ok := funcIndexOps[mnemonic]; ok {
		return true
	}
	_, ok := i32ImmediateOps[mnemonic]
	return ok
}

func (e *bodyEncoder) instrs(nodes []*node) error {
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if n.isList {
			if err := e.folded(n); err != nil {
				return err
			}
			continue
		}
		if n.quoted {
			return fmt.Errorf("unexpected string %s on line %d", n, n.line)
		}

		var imm *node
		if needsImmediate(n.atom) {
			if i+1 >= len(nodes) || nodes[i+1].isList {
				return fmt.Errorf("%s expects 1 operand on line %d", n.atom, n.line)
			}
			i++
			imm = nodes[i]
		}
		if err := e.instr(n, imm); err != nil {
			return err
		}
	}
	return nil
}

// folded encodes (op imm? operand...) by emitting the operands first.
func (e *bodyEncoder) folded(n *node) error {
	if len(n.list) == 0 || n.list[0].isList || n.list[0].quoted {
		return fmt.Errorf("expected instruction on line %d, got %s", n.line, n)
	}
	op := n.list[0]
	rest := n.list[1:]

	var imm *node
	if needsImmediate(op.atom) {
		if len(rest) == 0 || rest[0].isList {
			return fmt.Errorf("%s expects 1 operand on line %d", op.atom, op.line)
		}
		imm = rest[0]
		rest = rest[1:]
	}

	for _, operand := range rest {
		if !operand.isList {
			return fmt.Errorf("unexpected %s in folded instruction on line %d", operand, operand.line)
		}
		if err := e.folded(operand); err != nil {
			return err
		}
	}
	return e.instr(op, imm)
}

func (e *bodyEncoder) instr(op *node, imm *node) error {
	mnemonic := op.atom
	line := op.line
	e.positions = append(e.positions, instrPos{offset: uint32(len(e.code)), line: line})

	if opcode, ok := zeroOperandOps[mnemonic]; ok {
		e.code = append(e.code, opcode)
		switch opcode {
		case vm.OpUnreachable:
			e.unreachable = true
			e.depth = 0
			return nil
		case vm.OpReturn:
			if err := e.apply(mnemonic, e.f.typ.results, 0, line); err != nil {
				return err
			}
			e.unreachable = true
			e.depth = 0
			return nil
		}
		pops, pushes := effectOf(opcode)
		return e.apply(mnemonic, pops, pushes, line)
	}

	if opcode, ok := localIndexOps[mnemonic]; ok {
		idx, err := e.localRef(imm)
		if err != nil {
			return err
		}
		e.code = append(e.code, opcode)
		e.code = vm.AppendULEB128(e.code, idx)
		pops, pushes := effectOf(opcode)
		return e.apply(mnemonic, pops, pushes, line)
	}

	if opcode, ok := funcIndexOps[mnemonic]; ok {
		idx, err := e.a.funcRef(imm)
		if err != nil {
			return err
		}
		e.code = append(e.code, opcode)
		e.code = vm.AppendULEB128(e.code, idx)
		callee := e.a.funcs[idx].typ
		return e.apply(mnemonic, callee.params, callee.results, line)
	}

	if opcode, ok := i32ImmediateOps[mnemonic]; ok {
		if imm.isList || imm.quoted {
			return fmt.Errorf("invalid immediate %s on line %d", imm, line)
		}
		v, err := parseI32(imm.atom)
		if err != nil {
			return fmt.Errorf("%v on line %d", err, line)
		}
		e.code = append(e.code, opcode)
		e.code = vm.AppendSLEB128(e.code, v)
		pops, pushes := effectOf(opcode)
		return e.apply(mnemonic, pops, pushes, line)
	}

	return fmt.Errorf("unknown instruction on line %d: %s", line, mnemonic)
}

func (e *bodyEncoder) apply(mnemonic string, pops, pushes, line int) error {
	if e.depth < pops {
		if e.a.checkStack && !e.unreachable {
			return fmt.Errorf("type mismatch in %s on line %d: expected %d operands, stack has %d", mnemonic, line, pops, e.depth)
		}
		e.depth = pops
	}
	e.depth += pushes - pops
	return nil
}

func (e *bodyEncoder) localRef(n *node) (uint32, error) {
	if n.isList || n.quoted {
		return 0, fmt.Errorf("expected local reference on line %d, got %s", n.line, n)
	}
	if isIdentifier(n) {
		idx, ok := e.f.locals[n.atom]
		if !ok {
			return 0, fmt.Errorf("undefined local '%s' on line %d", n.atom, n.line)
		}
		return idx, nil
	}
	total := uint64(e.f.typ.params) + uint64(e.f.nLocals)
	v, err := parseIndex(n.atom)
	if err != nil || v >= total {
		return 0, fmt.Errorf("invalid local index '%s' on line %d", n.atom, n.line)
	}
	return uint32(v), nil
}

// encodeBody returns the locals declaration and expression of f.
func (a *Assembler) encodeBody(f *function) ([]byte, []byte, []instrPos, error) {
	e := &bodyEncoder{a: a, f: f, code: make([]byte, 0)}
	if err := e.instrs(f.body); err != nil {
		return nil, nil, nil, err
	}
	if e.a.checkStack && !e.unreachable && e.depth != f.typ.results {
		return nil, nil, nil, fmt.Errorf("type mismatch at end of function on line %d: expected %d values, got %d", f.line, f.typ.results, e.depth)
	}
	e.code = append(e.code, vm.OpEnd)

	locals := make([]byte, 0)
	if f.nLocals == 0 {
		locals = vm.AppendULEB128(locals, 0)
	} else {
		locals = vm.AppendULEB128(locals, 1)
		locals = vm.AppendULEB128(locals, f.nLocals)
		locals = append(locals, vm.ValueI32)
	}
	return locals, e.code, e.positions, nil
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = vm.AppendULEB128(out, uint32(len(content)))
	return append(out, content...)
}

func appendValueTypes(b []byte, n int) []byte {
	b = vm.AppendULEB128(b, uint32(n))
	for i := 0; i < n; i++ {
		b = append(b, vm.ValueI32)
	}
	return b
}

// pass2 encodes every section of the module.
func (a *Assembler) pass2() ([]byte, SourceMap, error) {
	type encodedFunc struct {
		locals    []byte
		expr      []byte
		positions []instrPos
	}

	var imports, defined []uint32
	var bodies []encodedFunc
	for _, f := range a.funcs {
		ti := a.typeIndex(f.typ)
		if f.imported {
			imports = append(imports, ti)
			continue
		}
		defined = append(defined, ti)
		locals, expr, positions, err := a.encodeBody(f)
		if err != nil {
			return nil, nil, err
		}
		bodies = append(bodies, encodedFunc{locals: locals, expr: expr, positions: positions})
	}

	out := make([]byte, 0, 256)
	out = append(out, vm.Magic...)
	out = append(out, vm.Version...)

	if len(a.types) > 0 {
		content := vm.AppendULEB128(nil, uint32(len(a.types)))
		for _, t := range a.types {
			content = append(content, vm.FuncTypeTag)
			content = appendValueTypes(content, t.params)
			content = appendValueTypes(content, t.results)
		}
		out = appendSection(out, vm.SectionType, content)
	}

	if len(imports) > 0 {
		content := vm.AppendULEB128(nil, uint32(len(imports)))
		for i, ti := range imports {
			f := a.funcs[i]
			content = vm.AppendName(content, f.module)
			content = vm.AppendName(content, f.field)
			content = append(content, vm.ExternFunc)
			content = vm.AppendULEB128(content, ti)
		}
		out = appendSection(out, vm.SectionImport, content)
	}

	if len(defined) > 0 {
		content := vm.AppendULEB128(nil, uint32(len(defined)))
		for _, ti := range defined {
			content = vm.AppendULEB128(content, ti)
		}
		out = appendSection(out, vm.SectionFunction, content)
	}

	if len(a.exports) > 0 {
		content := vm.AppendULEB128(nil, uint32(len(a.exports)))
		for _, exp := range a.exports {
			content = vm.AppendName(content, exp.name)
			content = append(content, vm.ExternFunc)
			content = vm.AppendULEB128(content, exp.index)
		}
		out = appendSection(out, vm.SectionExport, content)
	}

	sourceMap := make(SourceMap)
	if len(bodies) > 0 {
		content := vm.AppendULEB128(nil, uint32(len(bodies)))
		exprStarts := make([]uint32, len(bodies))
		for i, body := range bodies {
			size := uint32(len(body.locals) + len(body.expr))
			content = vm.AppendULEB128(content, size)
			content = append(content, body.locals...)
			exprStarts[i] = uint32(len(content))
			content = append(content, body.expr...)
		}

		contentStart := uint32(len(out)+1) + uint32(len(vm.AppendULEB128(nil, uint32(len(content)))))
		for i, body := range bodies {
			for _, pos := range body.positions {
				sourceMap[contentStart+exprStarts[i]+pos.offset] = pos.line
			}
		}
		out = appendSection(out, vm.SectionCode, content)
	}

	return out, sourceMap, nil
}
