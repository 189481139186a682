package vm

// Instruction opcodes understood by the interpreter.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpEnd         byte = 0x0B
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpI32Const    byte = 0x41
	OpI32Eqz      byte = 0x45
	OpI32Eq       byte = 0x46
	OpI32Ne       byte = 0x47
	OpI32LtS      byte = 0x48
	OpI32LtU      byte = 0x49
	OpI32GtS      byte = 0x4A
	OpI32GtU      byte = 0x4B
	OpI32LeS      byte = 0x4C
	OpI32LeU      byte = 0x4D
	OpI32GeS      byte = 0x4E
	OpI32GeU      byte = 0x4F
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI32DivS     byte = 0x6D
	OpI32DivU     byte = 0x6E
	OpI32RemS     byte = 0x6F
	OpI32RemU     byte = 0x70
	OpI32And      byte = 0x71
	OpI32Or       byte = 0x72
	OpI32Xor      byte = 0x73
	OpI32Shl      byte = 0x74
	OpI32ShrS     byte = 0x75
	OpI32ShrU     byte = 0x76
)

// Section ids.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionExport   byte = 7
	SectionCode     byte = 10
)

const (
	ValueI32    byte = 0x7F
	FuncTypeTag byte = 0x60
	ExternFunc  byte = 0x00
)

var (
	Magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	Version = []byte{0x01, 0x00, 0x00, 0x00}
)

// AppendULEB128 appends v in unsigned LEB128 form.
func AppendULEB128(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// AppendSLEB128 appends v in signed LEB128 form.
func AppendSLEB128(b []byte, v int32) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b = append(b, c)
		if done {
			return b
		}
	}
}

// AppendName appends a length-prefixed UTF-8 name.
func AppendName(b []byte, name string) []byte {
	b = AppendULEB128(b, uint32(len(name)))
	return append(b, name...)
}
