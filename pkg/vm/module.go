package vm

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// maxLocals bounds the locals a single function may declare.
const maxLocals = 50000

type FuncType struct {
	Params  int
	Results int
}

type Import struct {
	Module string
	Name   string
	Type   uint32
}

type Export struct {
	Name string
	Func uint32
}

// Function is a function defined in the module. Start and End are byte
// offsets into the binary delimiting its expression, including the final
// end opcode.
type Function struct {
	Type      uint32
	NumLocals uint32
	Start     uint32
	End       uint32
}

// Module is a decoded binary module.
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Function
	Exports []Export

	code []byte
}

// DecodeError reports a malformed binary.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed module at offset 0x%x: %s", e.Offset, e.Msg)
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) fail(format string, args ...any) error {
	return &DecodeError{Offset: r.pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, r.fail("unexpected end")
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) uleb32() (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		c, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if i == 4 && c&0xF0 != 0 {
			return 0, r.fail("integer too large")
		}
		result |= uint32(c&0x7F) << shift
		if c&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, r.fail("integer representation too long")
}

func (r *reader) sleb32() (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		c, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if i == 4 {
			// the unused bits of the last byte must extend the sign
			rest := c & 0x70
			if c&0x80 != 0 || (rest != 0 && rest != 0x70) {
				return 0, r.fail("integer too large")
			}
		}
		result |= int32(c&0x7F) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 32 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, r.fail("integer representation too long")
}

func (r *reader) name() (string, error) {
	n, err := r.uleb32()
	if err != nil {
		return "", err
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.b)) {
		return "", r.fail("name extends past end")
	}
	s := r.b[r.pos : r.pos+int(n)]
	if !utf8.Valid(s) {
		return "", r.fail("invalid UTF-8 name")
	}
	r.pos += int(n)
	return string(s), nil
}

func (r *reader) valueTypes() (int, error) {
	n, err := r.uleb32()
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < n; i++ {
		t, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if t != ValueI32 {
			return 0, r.fail("unsupported value type 0x%02x", t)
		}
	}
	return int(n), nil
}

// Decode parses a binary module. Only the sections produced by the encoder
// are accepted; custom sections are skipped.
func Decode(bin []byte) (*Module, error) {
	r := &reader{b: bin}
	if len(bin) < 8 || !bytes.Equal(bin[:4], Magic) {
		return nil, r.fail("bad magic number")
	}
	if !bytes.Equal(bin[4:8], Version) {
		return nil, &DecodeError{Offset: 4, Msg: "unsupported version"}
	}
	r.pos = 8

	m := &Module{code: bin}
	var funcTypes []uint32
	var last byte

	for r.pos < len(bin) {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb32()
		if err != nil {
			return nil, err
		}
		end := r.pos + int(size)
		if end > len(bin) {
			return nil, r.fail("section %d extends past end", id)
		}

		if id == SectionCustom {
			r.pos = end
			continue
		}
		if id <= last {
			return nil, r.fail("section %d out of order", id)
		}
		last = id

		switch id {
		case SectionType:
			err = m.decodeTypes(r)
		case SectionImport:
			err = m.decodeImports(r)
		case SectionFunction:
			funcTypes, err = m.decodeFunctions(r)
		case SectionExport:
			err = m.decodeExports(r)
		case SectionCode:
			err = m.decodeCode(r, funcTypes)
			funcTypes = nil
		default:
			return nil, r.fail("unsupported section %d", id)
		}
		if err != nil {
			return nil, err
		}
		if r.pos != end {
			return nil, r.fail("section %d size mismatch", id)
		}
	}

	if len(funcTypes) > 0 {
		return nil, r.fail("function section without code section")
	}
	for _, exp := range m.Exports {
		if int(exp.Func) >= m.NumFuncs() {
			return nil, r.fail("export %q refers to unknown function %d", exp.Name, exp.Func)
		}
	}
	return m, nil
}

func (m *Module) decodeTypes(r *reader) error {
	n, err := r.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		tag, err := r.readByte()
		if err != nil {
			return err
		}
		if tag != FuncTypeTag {
			return r.fail("expected function type, got 0x%02x", tag)
		}
		params, err := r.valueTypes()
		if err != nil {
			return err
		}
		results, err := r.valueTypes()
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func (m *Module) decodeImports(r *reader) error {
	n, err := r.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		mod, err := r.name()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		if kind != ExternFunc {
			return r.fail("unsupported import kind 0x%02x for %s.%s", kind, mod, name)
		}
		ti, err := r.uleb32()
		if err != nil {
			return err
		}
		if int(ti) >= len(m.Types) {
			return r.fail("import %s.%s has unknown type %d", mod, name, ti)
		}
		m.Imports = append(m.Imports, Import{Module: mod, Name: name, Type: ti})
	}
	return nil
}

func (m *Module) decodeFunctions(r *reader) ([]uint32, error) {
	n, err := r.uleb32()
	if err != nil {
		return nil, err
	}
	types := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		ti, err := r.uleb32()
		if err != nil {
			return nil, err
		}
		if int(ti) >= len(m.Types) {
			return nil, r.fail("function %d has unknown type %d", i, ti)
		}
		types = append(types, ti)
	}
	return types, nil
}

func (m *Module) decodeExports(r *reader) error {
	n, err := r.uleb32()
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i := uint32(0); i < n; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		if seen[name] {
			return r.fail("duplicate export %q", name)
		}
		seen[name] = true
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		if kind != ExternFunc {
			// only function exports are meaningful here
			continue
		}
		m.Exports = append(m.Exports, Export{Name: name, Func: idx})
	}
	return nil
}

func (m *Module) decodeCode(r *reader, funcTypes []uint32) error {
	n, err := r.uleb32()
	if err != nil {
		return err
	}
	if int(n) != len(funcTypes) {
		return r.fail("code section has %d bodies for %d functions", n, len(funcTypes))
	}
	for i := uint32(0); i < n; i++ {
		size, err := r.uleb32()
		if err != nil {
			return err
		}
		end := r.pos + int(size)
		if size == 0 || end > len(r.b) {
			return r.fail("function body %d has invalid size", i)
		}

		groups, err := r.uleb32()
		if err != nil {
			return err
		}
		var locals uint64
		for g := uint32(0); g < groups; g++ {
			count, err := r.uleb32()
			if err != nil {
				return err
			}
			t, err := r.readByte()
			if err != nil {
				return err
			}
			if t != ValueI32 {
				return r.fail("unsupported local type 0x%02x", t)
			}
			locals += uint64(count)
			if locals > maxLocals {
				return r.fail("too many locals")
			}
		}
		if r.pos >= end || r.b[end-1] != OpEnd {
			return r.fail("function body %d is not terminated by end", i)
		}

		m.Funcs = append(m.Funcs, Function{
			Type:      funcTypes[i],
			NumLocals: uint32(locals),
			Start:     uint32(r.pos),
			End:       uint32(end),
		})
		r.pos = end
	}
	return nil
}

// NumFuncs is the size of the function index space: imports then definitions.
func (m *Module) NumFuncs() int {
	return len(m.Imports) + len(m.Funcs)
}

// TypeOf returns the signature of function index idx.
func (m *Module) TypeOf(idx uint32) (FuncType, bool) {
	switch {
	case int(idx) < len(m.Imports):
		return m.Types[m.Imports[idx].Type], true
	case int(idx) < m.NumFuncs():
		return m.Types[m.Funcs[int(idx)-len(m.Imports)].Type], true
	}
	return FuncType{}, false
}

// ExportedFunc looks up a function export by name.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name {
			return exp.Func, true
		}
	}
	return 0, false
}
