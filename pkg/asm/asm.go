package asm

import (
	"fmt"
	"strconv"
	"strings"

	"chiquiforth/pkg/vm"
)

var zeroOperandOps = map[string]byte{
	"unreachable": vm.OpUnreachable,
	"nop":         vm.OpNop,
	"return":      vm.OpReturn,
	"drop":        vm.OpDrop,
	"i32.eqz":     vm.OpI32Eqz,
	"i32.eq":      vm.OpI32Eq,
	"i32.ne":      vm.OpI32Ne,
	"i32.lt_s":    vm.OpI32LtS,
	"i32.lt_u":    vm.OpI32LtU,
	"i32.gt_s":    vm.OpI32GtS,
	"i32.gt_u":    vm.OpI32GtU,
	"i32.le_s":    vm.OpI32LeS,
	"i32.le_u":    vm.OpI32LeU,
	"i32.ge_s":    vm.OpI32GeS,
	"i32.ge_u":    vm.OpI32GeU,
	"i32.add":     vm.OpI32Add,
	"i32.sub":     vm.OpI32Sub,
	"i32.mul":     vm.OpI32Mul,
	"i32.div_s":   vm.OpI32DivS,
	"i32.div_u":   vm.OpI32DivU,
	"i32.rem_s":   vm.OpI32RemS,
	"i32.rem_u":   vm.OpI32RemU,
	"i32.and":     vm.OpI32And,
	"i32.or":      vm.OpI32Or,
	"i32.xor":     vm.OpI32Xor,
	"i32.shl":     vm.OpI32Shl,
	"i32.shr_s":   vm.OpI32ShrS,
	"i32.shr_u":   vm.OpI32ShrU,
}

var localIndexOps = map[string]byte{
	"local.get": vm.OpLocalGet,
	"local.set": vm.OpLocalSet,
	"local.tee": vm.OpLocalTee,
}

var funcIndexOps = map[string]byte{
	"call": vm.OpCall,
}

var i32ImmediateOps = map[string]byte{
	"i32.const": vm.OpI32Const,
}

// stackEffect is the number of operands popped and results pushed by an
// opcode; call is resolved from the callee's signature.
var stackEffect = map[byte][2]int{
	vm.OpNop:      {0, 0},
	vm.OpDrop:     {1, 0},
	vm.OpLocalGet: {0, 1},
	vm.OpLocalSet: {1, 0},
	vm.OpLocalTee: {1, 1},
	vm.OpI32Const: {0, 1},
	vm.OpI32Eqz:   {1, 1},
}

func effectOf(op byte) (pops, pushes int) {
	if e, ok := stackEffect[op]; ok {
		return e[0], e[1]
	}
	// every remaining i32 opcode is binary
	return 2, 1
}

// SourceMap maps the byte offset of each encoded instruction to the line of
// the text it came from.
type SourceMap map[uint32]int

type funcType struct {
	params  int
	results int
}

type function struct {
	line     int
	id       string
	typ      funcType
	imported bool
	module   string
	field    string
	locals   map[string]uint32 // named params and locals
	nLocals  uint32            // declared locals, excluding params
	body     []*node
}

type export struct {
	name  string
	index uint32
}

// Assembler encodes one module in the WebAssembly text format subset used by
// the compiler.
type Assembler struct {
	funcs     []*function
	funcIndex map[string]uint32
	exports   []export
	exported  map[string]bool
	types     []funcType

	checkStack bool
}

type Option func(*Assembler)

// WithStackCheck rejects function bodies whose operand stack underflows or
// does not end with exactly the declared results. Without it such bodies
// are encoded as written and fail when executed.
func WithStackCheck() Option {
	return func(a *Assembler) { a.checkStack = true }
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		funcIndex: make(map[string]uint32),
		exported:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble encodes the module in code to a binary module.
func Assemble(code string, opts ...Option) ([]byte, SourceMap, error) {
	return NewAssembler(opts...).Assemble(code)
}

func (a *Assembler) Assemble(code string) ([]byte, SourceMap, error) {
	nodes, err := parseSExpr(code)
	if err != nil {
		return nil, nil, err
	}

	if len(nodes) != 1 || nodes[0].keyword() != "module" {
		return nil, nil, fmt.Errorf("expected a single (module ...) form")
	}

	if err := a.pass1(nodes[0]); err != nil {
		return nil, nil, err
	}

	return a.pass2()
}

// pass1 collects functions, imports and exports and assigns indices.
func (a *Assembler) pass1(module *node) error {
	fields := module.list[1:]
	if len(fields) > 0 && !fields[0].isList && strings.HasPrefix(fields[0].atom, "$") {
		fields = fields[1:]
	}

	var pendingExports []*node
	defined := false

	for _, field := range fields {
		switch field.keyword() {
		case "import":
			if defined {
				return fmt.Errorf("imports must occur before all function definitions (line %d)", field.line)
			}
			if err := a.importField(field); err != nil {
				return err
			}
		case "func":
			f, inlineImport, err := a.funcField(field)
			if err != nil {
				return err
			}
			if inlineImport && defined {
				return fmt.Errorf("imports must occur before all function definitions (line %d)", field.line)
			}
			if !inlineImport {
				defined = true
			}
			if err := a.addFunc(f); err != nil {
				return err
			}
		case "export":
			pendingExports = append(pendingExports, field)
		default:
			return fmt.Errorf("unsupported module field %s on line %d", field, field.line)
		}
	}

	for _, field := range pendingExports {
		if err := a.exportField(field); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) addFunc(f *function) error {
	index := uint32(len(a.funcs))
	if f.id != "" {
		if _, exists := a.funcIndex[f.id]; exists {
			return fmt.Errorf("duplicate func identifier '%s' on line %d", f.id, f.line)
		}
		a.funcIndex[f.id] = index
	}
	a.funcs = append(a.funcs, f)
	return nil
}

func (a *Assembler) addExport(name string, index uint32, line int) error {
	if a.exported[name] {
		return fmt.Errorf("duplicate export \"%s\" on line %d", name, line)
	}
	a.exported[name] = true
	a.exports = append(a.exports, export{name: name, index: index})
	return nil
}

// importField handles (import "mod" "name" (func $id? sig...)).
func (a *Assembler) importField(n *node) error {
	if len(n.list) != 4 || !n.list[1].quoted || !n.list[2].quoted {
		return fmt.Errorf("malformed import on line %d", n.line)
	}
	desc := n.list[3]
	if desc.keyword() != "func" {
		return fmt.Errorf("only function imports are supported (line %d)", n.line)
	}

	f := &function{
		line:     n.line,
		imported: true,
		module:   n.list[1].atom,
		field:    n.list[2].atom,
		locals:   make(map[string]uint32),
	}
	rest := desc.list[1:]
	if len(rest) > 0 && isIdentifier(rest[0]) {
		f.id = rest[0].atom
		rest = rest[1:]
	}
	for _, item := range rest {
		if err := f.signature(item); err != nil {
			return err
		}
	}
	return a.addFunc(f)
}

// funcField handles (func $id? (export "n")* (import "m" "n")? sig... locals... body...).
func (a *Assembler) funcField(n *node) (*function, bool, error) {
	f := &function{line: n.line, locals: make(map[string]uint32)}
	rest := n.list[1:]
	if len(rest) > 0 && isIdentifier(rest[0]) {
		f.id = rest[0].atom
		rest = rest[1:]
	}

	var exportNames []string
	i := 0
	for ; i < len(rest); i++ {
		item := rest[i]
		switch item.keyword() {
		case "export":
			if len(item.list) != 2 || !item.list[1].quoted {
				return nil, false, fmt.Errorf("malformed inline export on line %d", item.line)
			}
			exportNames = append(exportNames, item.list[1].atom)
			continue
		case "import":
			if len(item.list) != 3 || !item.list[1].quoted || !item.list[2].quoted {
				return nil, false, fmt.Errorf("malformed inline import on line %d", item.line)
			}
			f.imported = true
			f.module = item.list[1].atom
			f.field = item.list[2].atom
			continue
		}
		break
	}

	for ; i < len(rest); i++ {
		item := rest[i]
		kw := item.keyword()
		if kw != "param" && kw != "result" {
			break
		}
		if err := f.signature(item); err != nil {
			return nil, false, err
		}
	}

	for ; i < len(rest); i++ {
		item := rest[i]
		if item.keyword() != "local" {
			break
		}
		if f.imported {
			return nil, false, fmt.Errorf("imported function cannot declare locals (line %d)", item.line)
		}
		if err := f.local(item); err != nil {
			return nil, false, err
		}
	}

	f.body = rest[i:]
	if f.imported && len(f.body) > 0 {
		return nil, false, fmt.Errorf("imported function cannot have a body (line %d)", n.line)
	}

	index := uint32(len(a.funcs))
	for _, name := range exportNames {
		if err := a.addExport(name, index, n.line); err != nil {
			return nil, false, err
		}
	}
	return f, f.imported, nil
}

// exportField handles (export "name" (func $id|index)).
func (a *Assembler) exportField(n *node) error {
	if len(n.list) != 3 || !n.list[1].quoted || n.list[2].keyword() != "func" || len(n.list[2].list) != 2 {
		return fmt.Errorf("malformed export on line %d", n.line)
	}
	index, err := a.funcRef(n.list[2].list[1])
	if err != nil {
		return err
	}
	return a.addExport(n.list[1].atom, index, n.line)
}

// signature handles one (param ...) or (result ...) clause.
func (f *function) signature(n *node) error {
	kw := n.keyword()
	items := n.list[1:]
	switch kw {
	case "param":
		if f.typ.results > 0 {
			return fmt.Errorf("param after result on line %d", n.line)
		}
		if len(items) == 2 && isIdentifier(items[0]) {
			if err := checkValueType(items[1]); err != nil {
				return err
			}
			if _, exists := f.locals[items[0].atom]; exists {
				return fmt.Errorf("duplicate local '%s' on line %d", items[0].atom, n.line)
			}
			f.locals[items[0].atom] = uint32(f.typ.params)
			f.typ.params++
			return nil
		}
		for _, item := range items {
			if err := checkValueType(item); err != nil {
				return err
			}
			f.typ.params++
		}
	case "result":
		for _, item := range items {
			if err := checkValueType(item); err != nil {
				return err
			}
			f.typ.results++
		}
	default:
		return fmt.Errorf("unexpected %s in function signature on line %d", n, n.line)
	}
	return nil
}

// local handles one (local ...) clause.
func (f *function) local(n *node) error {
	items := n.list[1:]
	if len(items) == 2 && isIdentifier(items[0]) {
		if err := checkValueType(items[1]); err != nil {
			return err
		}
		if _, exists := f.locals[items[0].atom]; exists {
			return fmt.Errorf("duplicate local '%s' on line %d", items[0].atom, n.line)
		}
		f.locals[items[0].atom] = uint32(f.typ.params) + f.nLocals
		f.nLocals++
		return nil
	}
	for _, item := range items {
		if err := checkValueType(item); err != nil {
			return err
		}
		f.nLocals++
	}
	return nil
}

func checkValueType(n *node) error {
	if n.isList || n.quoted || n.atom != "i32" {
		return fmt.Errorf("unsupported value type %s on line %d", n, n.line)
	}
	return nil
}

func (a *Assembler) funcRef(n *node) (uint32, error) {
	if n.isList || n.quoted {
		return 0, fmt.Errorf("expected function reference on line %d, got %s", n.line, n)
	}
	if idx, ok := a.funcIndex[n.atom]; ok {
		return idx, nil
	}
	if isIdentifier(n) {
		return 0, fmt.Errorf("undefined function '%s' on line %d", n.atom, n.line)
	}
	v, err := parseIndex(n.atom)
	if err != nil || v >= uint64(len(a.funcs)) {
		return 0, fmt.Errorf("invalid function index '%s' on line %d", n.atom, n.line)
	}
	return uint32(v), nil
}

func parseIndex(text string) (uint64, error) {
	return strconv.ParseUint(text, 10, 32)
}

func (a *Assembler) typeIndex(t funcType) uint32 {
	for i, existing := range a.types {
		if existing == t {
			return uint32(i)
		}
	}
	a.types = append(a.types, t)
	return uint32(len(a.types) - 1)
}

// isIdentifier reports whether n is a $name atom made of WAT idchars.
func isIdentifier(n *node) bool {
	if n.isList || n.quoted || len(n.atom) < 2 || n.atom[0] != '$' {
		return false
	}
	for i := 1; i < len(n.atom); i++ {
		if !isIDChar(n.atom[i]) {
			return false
		}
	}
	return true
}

func isIDChar(c byte) bool {
	if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	return strings.IndexByte("!#$%&'*+-./:<=>?@\\^_`|~", c) >= 0
}

// parseI32 accepts decimal or 0x hexadecimal integers with an optional sign
// and '_' digit separators, in the range [-2^31, 2^32).
func parseI32(text string) (int32, error) {
	neg := false
	digits := text
	if strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
		neg = digits[0] == '-'
		digits = digits[1:]
	}

	base := 10
	if strings.HasPrefix(digits, "0x") {
		base = 16
		digits = digits[2:]
	}
	if digits == "" || digits[0] == '_' || digits[len(digits)-1] == '_' || strings.Contains(digits, "__") {
		return 0, fmt.Errorf("invalid integer '%s'", text)
	}

	v, err := strconv.ParseUint(strings.ReplaceAll(digits, "_", ""), base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer '%s'", text)
	}
	if neg {
		if v > 1<<31 {
			return 0, fmt.Errorf("i32 constant out of range: %s", text)
		}
		return int32(-int64(v)), nil
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("i32 constant out of range: %s", text)
	}
	return int32(uint32(v)), nil
}
