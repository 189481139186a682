package vm

import (
	"errors"
	"fmt"
	"math"
)

const (
	// EntryPoint is the export invoked to run a program.
	EntryPoint = "_start"
	// HostNamespace is the import module that supplies the primitives.
	HostNamespace = "forth"

	defaultMaxCallDepth = 1024
	defaultStackLimit   = 1 << 16
)

// ErrWaiting is returned by Run when the program is blocked on input that
// the host cannot supply yet.
var ErrWaiting = errors.New("waiting for input")

// Trap aborts execution.
type Trap struct {
	Offset uint32 // byte offset of the faulting instruction
	Reason string
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap at offset 0x%x: %s", t.Offset, t.Reason)
}

// LinkError reports an import or export that cannot be bound.
type LinkError struct {
	Module string
	Name   string
	Reason string
}

func (e *LinkError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("link error: %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("link error: %s.%s: %s", e.Module, e.Name, e.Reason)
}

type primitive int

const (
	primEmit primitive = iota
	primInput
	primPrint
)

var primitives = map[string]struct {
	prim primitive
	typ  FuncType
}{
	"emit":  {primEmit, FuncType{Params: 1}},
	"input": {primInput, FuncType{Results: 1}},
	"print": {primPrint, FuncType{Params: 1}},
}

type frame struct {
	pc      uint32
	end     uint32
	locals  []int32
	base    int // operand stack height on entry
	results int
}

// VM executes the entry point of a decoded module one instruction at a time.
type VM struct {
	Module *Module
	Stack  []int32

	// Halted is set once the entry point returns or a trap occurs.
	Halted bool
	// Waiting is set while an input call is blocked on the host.
	Waiting bool
	// Steps counts executed instructions.
	Steps uint64

	frames       []frame
	host         Host
	imports      []primitive
	maxCallDepth int
	stackLimit   int
}

type Option func(*VM)

// WithHost sets the provider of the emit, input and print primitives.
// Without it the VM uses a console host on stdin and stdout.
func WithHost(h Host) Option {
	return func(v *VM) { v.host = h }
}

func WithMaxCallDepth(n int) Option {
	return func(v *VM) { v.maxCallDepth = n }
}

func WithStackLimit(n int) Option {
	return func(v *VM) { v.stackLimit = n }
}

// Load decodes bin and prepares its entry point for execution.
func Load(bin []byte, opts ...Option) (*VM, error) {
	m, err := Decode(bin)
	if err != nil {
		return nil, err
	}
	return New(m, opts...)
}

// New links m against the host primitives and positions the VM at the
// start of the entry point.
func New(m *Module, opts ...Option) (*VM, error) {
	v := &VM{
		Module:       m,
		Stack:        make([]int32, 0, 64),
		maxCallDepth: defaultMaxCallDepth,
		stackLimit:   defaultStackLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.host == nil {
		v.host = DefaultConsoleHost()
	}

	for _, imp := range m.Imports {
		if imp.Module != HostNamespace {
			return nil, &LinkError{Module: imp.Module, Name: imp.Name, Reason: "unknown import module"}
		}
		p, ok := primitives[imp.Name]
		if !ok {
			return nil, &LinkError{Module: imp.Module, Name: imp.Name, Reason: "unknown import"}
		}
		if m.Types[imp.Type] != p.typ {
			return nil, &LinkError{Module: imp.Module, Name: imp.Name, Reason: "incompatible import type"}
		}
		v.imports = append(v.imports, p.prim)
	}

	entry, ok := m.ExportedFunc(EntryPoint)
	if !ok {
		return nil, &LinkError{Name: EntryPoint, Reason: "export not found"}
	}
	if int(entry) < len(m.Imports) {
		return nil, &LinkError{Name: EntryPoint, Reason: "entry point is an import"}
	}
	if t, _ := m.TypeOf(entry); t != (FuncType{}) {
		return nil, &LinkError{Name: EntryPoint, Reason: "entry point must take and return nothing"}
	}

	v.enter(m.Funcs[int(entry)-len(m.Imports)], nil)
	return v, nil
}

func (v *VM) enter(fn Function, args []int32) {
	t := v.Module.Types[fn.Type]
	locals := make([]int32, uint32(t.Params)+fn.NumLocals)
	copy(locals, args)
	v.frames = append(v.frames, frame{
		pc:      fn.Start,
		end:     fn.End,
		locals:  locals,
		base:    len(v.Stack),
		results: t.Results,
	})
}

// CallDepth is the number of active frames.
func (v *VM) CallDepth() int {
	return len(v.frames)
}

func (v *VM) trap(offset uint32, format string, args ...any) error {
	v.Halted = true
	v.Waiting = false
	return &Trap{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (v *VM) push(offset uint32, val int32) error {
	if len(v.Stack) >= v.stackLimit {
		return v.trap(offset, "operand stack overflow")
	}
	v.Stack = append(v.Stack, val)
	return nil
}

func (v *VM) pop(offset uint32, f *frame) (int32, error) {
	if len(v.Stack) <= f.base {
		return 0, v.trap(offset, "operand stack underflow")
	}
	val := v.Stack[len(v.Stack)-1]
	v.Stack = v.Stack[:len(v.Stack)-1]
	return val, nil
}

func (v *VM) pop2(offset uint32, f *frame) (int32, int32, error) {
	b, err := v.pop(offset, f)
	if err != nil {
		return 0, 0, err
	}
	a, err := v.pop(offset, f)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// immediate reads the LEB128 operand following the opcode of f.
func (v *VM) immediate(f *frame, signed bool) (uint32, error) {
	r := &reader{b: v.Module.code, pos: int(f.pc)}
	var val uint32
	var err error
	if signed {
		var s int32
		s, err = r.sleb32()
		val = uint32(s)
	} else {
		val, err = r.uleb32()
	}
	if err != nil {
		return 0, err
	}
	f.pc = uint32(r.pos)
	return val, nil
}

func (v *VM) ret(offset uint32, f *frame) error {
	if len(v.Stack)-f.base < f.results {
		return v.trap(offset, "missing return values")
	}
	copy(v.Stack[f.base:], v.Stack[len(v.Stack)-f.results:])
	v.Stack = v.Stack[:f.base+f.results]
	v.frames = v.frames[:len(v.frames)-1]
	if len(v.frames) == 0 {
		v.Halted = true
	}
	return nil
}

// Step executes one instruction. A blocked input call leaves the program
// counter on the call and sets Waiting.
func (v *VM) Step() error {
	if v.Halted {
		return nil
	}

	f := &v.frames[len(v.frames)-1]
	offset := f.pc
	if offset >= f.end {
		return v.trap(offset, "execution ran past the end of the function")
	}
	op := v.Module.code[f.pc]
	f.pc++
	v.Steps++

	switch op {
	case OpUnreachable:
		return v.trap(offset, "unreachable executed")

	case OpNop:
		// No operation.

	case OpEnd:
		if len(v.Stack)-f.base != f.results {
			return v.trap(offset, "stack height mismatch at end of function")
		}
		return v.ret(offset, f)

	case OpReturn:
		return v.ret(offset, f)

	case OpCall:
		idx, err := v.immediate(f, false)
		if err != nil {
			return v.trap(offset, "bad call operand: %v", err)
		}
		return v.call(offset, f, idx)

	case OpDrop:
		if _, err := v.pop(offset, f); err != nil {
			return err
		}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := v.immediate(f, false)
		if err != nil {
			return v.trap(offset, "bad local operand: %v", err)
		}
		if int(idx) >= len(f.locals) {
			return v.trap(offset, "local index %d out of range", idx)
		}
		switch op {
		case OpLocalGet:
			return v.push(offset, f.locals[idx])
		case OpLocalSet:
			val, err := v.pop(offset, f)
			if err != nil {
				return err
			}
			f.locals[idx] = val
		case OpLocalTee:
			if len(v.Stack) <= f.base {
				return v.trap(offset, "operand stack underflow")
			}
			f.locals[idx] = v.Stack[len(v.Stack)-1]
		}

	case OpI32Const:
		val, err := v.immediate(f, true)
		if err != nil {
			return v.trap(offset, "bad constant: %v", err)
		}
		return v.push(offset, int32(val))

	case OpI32Eqz:
		a, err := v.pop(offset, f)
		if err != nil {
			return err
		}
		return v.push(offset, boolToI32(a == 0))

	default:
		if op < OpI32Eq || op > OpI32ShrU || (op > OpI32GeU && op < OpI32Add) {
			return v.trap(offset, "unsupported opcode 0x%02x", op)
		}
		a, b, err := v.pop2(offset, f)
		if err != nil {
			return err
		}
		res, err := v.binary(offset, op, a, b)
		if err != nil {
			return err
		}
		return v.push(offset, res)
	}
	return nil
}

func (v *VM) call(offset uint32, f *frame, idx uint32) error {
	if int(idx) >= v.Module.NumFuncs() {
		return v.trap(offset, "call to unknown function %d", idx)
	}

	if int(idx) < len(v.imports) {
		switch v.imports[idx] {
		case primEmit:
			c, err := v.pop(offset, f)
			if err != nil {
				return err
			}
			v.host.Emit(c)
		case primPrint:
			n, err := v.pop(offset, f)
			if err != nil {
				return err
			}
			v.host.Print(n)
		case primInput:
			n, ok := v.host.Input()
			if !ok {
				// retry the call on the next step
				v.Waiting = true
				f.pc = offset
				v.Steps--
				return nil
			}
			v.Waiting = false
			return v.push(offset, n)
		}
		return nil
	}

	if len(v.frames) >= v.maxCallDepth {
		return v.trap(offset, "call stack exhausted")
	}
	fn := v.Module.Funcs[int(idx)-len(v.imports)]
	params := v.Module.Types[fn.Type].Params
	if len(v.Stack)-f.base < params {
		return v.trap(offset, "operand stack underflow")
	}
	args := append([]int32(nil), v.Stack[len(v.Stack)-params:]...)
	v.Stack = v.Stack[:len(v.Stack)-params]
	v.enter(fn, args)
	return nil
}

func (v *VM) binary(offset uint32, op byte, a, b int32) (int32, error) {
	switch op {
	case OpI32Eq:
		return boolToI32(a == b), nil
	case OpI32Ne:
		return boolToI32(a != b), nil
	case OpI32LtS:
		return boolToI32(a < b), nil
	case OpI32LtU:
		return boolToI32(uint32(a) < uint32(b)), nil
	case OpI32GtS:
		return boolToI32(a > b), nil
	case OpI32GtU:
		return boolToI32(uint32(a) > uint32(b)), nil
	case OpI32LeS:
		return boolToI32(a <= b), nil
	case OpI32LeU:
		return boolToI32(uint32(a) <= uint32(b)), nil
	case OpI32GeS:
		return boolToI32(a >= b), nil
	case OpI32GeU:
		return boolToI32(uint32(a) >= uint32(b)), nil
	case OpI32Add:
		return a + b, nil
	case OpI32Sub:
		return a - b, nil
	case OpI32Mul:
		return a * b, nil
	case OpI32DivS:
		if b == 0 {
			return 0, v.trap(offset, "integer divide by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, v.trap(offset, "integer overflow")
		}
		return a / b, nil
	case OpI32DivU:
		if b == 0 {
			return 0, v.trap(offset, "integer divide by zero")
		}
		return int32(uint32(a) / uint32(b)), nil
	case OpI32RemS:
		if b == 0 {
			return 0, v.trap(offset, "integer divide by zero")
		}
		return a % b, nil
	case OpI32RemU:
		if b == 0 {
			return 0, v.trap(offset, "integer divide by zero")
		}
		return int32(uint32(a) % uint32(b)), nil
	case OpI32And:
		return a & b, nil
	case OpI32Or:
		return a | b, nil
	case OpI32Xor:
		return a ^ b, nil
	case OpI32Shl:
		return a << (uint32(b) & 31), nil
	case OpI32ShrS:
		return a >> (uint32(b) & 31), nil
	case OpI32ShrU:
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	}
	return 0, v.trap(offset, "unsupported opcode 0x%02x", op)
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Run steps until the entry point returns. It returns ErrWaiting if the
// host has no input available.
func (v *VM) Run() error {
	for !v.Halted {
		if err := v.Step(); err != nil {
			return err
		}
		if v.Waiting {
			return ErrWaiting
		}
	}
	return nil
}
