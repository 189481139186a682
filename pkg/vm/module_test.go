package vm

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LEB128", func() {
	It("should encode unsigned values", func() {
		Expect(AppendULEB128(nil, 0)).To(Equal([]byte{0x00}))
		Expect(AppendULEB128(nil, 127)).To(Equal([]byte{0x7F}))
		Expect(AppendULEB128(nil, 128)).To(Equal([]byte{0x80, 0x01}))
		Expect(AppendULEB128(nil, 624485)).To(Equal([]byte{0xE5, 0x8E, 0x26}))
	})

	It("should encode signed values", func() {
		Expect(AppendSLEB128(nil, 3)).To(Equal([]byte{0x03}))
		Expect(AppendSLEB128(nil, 63)).To(Equal([]byte{0x3F}))
		Expect(AppendSLEB128(nil, 64)).To(Equal([]byte{0xC0, 0x00}))
		Expect(AppendSLEB128(nil, -1)).To(Equal([]byte{0x7F}))
		Expect(AppendSLEB128(nil, -64)).To(Equal([]byte{0x40}))
		Expect(AppendSLEB128(nil, -65)).To(Equal([]byte{0xBF, 0x7F}))
		Expect(AppendSLEB128(nil, -123456)).To(Equal([]byte{0xC0, 0xBB, 0x78}))
	})

	It("should read back what it writes", func() {
		for _, v := range []int32{0, 1, -1, 63, 64, -64, -65, 1 << 20, math.MaxInt32, math.MinInt32} {
			r := &reader{b: AppendSLEB128(nil, v)}
			got, err := r.sleb32()
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(v))
			Expect(r.pos).To(Equal(len(r.b)))
		}
		for _, v := range []uint32{0, 1, 127, 128, 1 << 28, math.MaxUint32} {
			r := &reader{b: AppendULEB128(nil, v)}
			got, err := r.uleb32()
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(v))
		}
	})

	It("should reject overlong or oversized encodings", func() {
		r := &reader{b: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}}
		_, err := r.uleb32()
		Expect(err).To(HaveOccurred())

		r = &reader{b: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}}
		_, err = r.uleb32()
		Expect(err).To(MatchError(ContainSubstring("integer too large")))

		r = &reader{b: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x4F}}
		_, err = r.sleb32()
		Expect(err).To(MatchError(ContainSubstring("integer too large")))

		r = &reader{b: []byte{0x80}}
		_, err = r.uleb32()
		Expect(err).To(MatchError(ContainSubstring("unexpected end")))
	})
})

var _ = Describe("Decode", func() {
	It("should decode a program", func() {
		m, err := Decode(forthModule(2, ops(i32(5), localSet(0))...).encode())

		Expect(err).NotTo(HaveOccurred())
		Expect(m.Types).To(Equal([]FuncType{{Params: 1}, {Results: 1}, {}}))
		Expect(m.Imports).To(HaveLen(3))
		Expect(m.Imports[1]).To(Equal(Import{Module: "forth", Name: "input", Type: 1}))
		Expect(m.Funcs).To(HaveLen(1))
		Expect(m.Funcs[0].NumLocals).To(Equal(uint32(2)))
		Expect(m.NumFuncs()).To(Equal(4))

		idx, ok := m.ExportedFunc(EntryPoint)
		Expect(ok).To(BeTrue())
		Expect(idx).To(Equal(uint32(3)))

		t, ok := m.TypeOf(idx)
		Expect(ok).To(BeTrue())
		Expect(t).To(Equal(FuncType{}))
		_, ok = m.TypeOf(4)
		Expect(ok).To(BeFalse())
	})

	It("should locate function bodies", func() {
		bin := forthModule(0, ops(i32(3), []byte{OpDrop})...).encode()
		m, err := Decode(bin)
		Expect(err).NotTo(HaveOccurred())

		fn := m.Funcs[0]
		Expect(bin[fn.Start:fn.End]).To(Equal([]byte{OpI32Const, 0x03, OpDrop, OpEnd}))
		Expect(int(fn.End)).To(Equal(len(bin)))
	})

	It("should skip custom sections", func() {
		bin := forthModule(0).encode()
		custom := section(nil, SectionCustom, AppendName(nil, "name"))
		withCustom := append(append(append([]byte{}, bin[:8]...), custom...), bin[8:]...)

		_, err := Decode(withCustom)
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("should reject malformed binaries",
		func(mutate func([]byte) []byte, msg string) {
			bin := mutate(forthModule(0).encode())
			_, err := Decode(bin)
			var decodeErr *DecodeError
			Expect(err).To(BeAssignableToTypeOf(decodeErr))
			Expect(err.Error()).To(ContainSubstring(msg))
		},
		Entry("empty", func([]byte) []byte { return nil }, "bad magic number"),
		Entry("bad magic", func(b []byte) []byte { b[1] = 'b'; return b }, "bad magic number"),
		Entry("bad version", func(b []byte) []byte { b[4] = 2; return b }, "unsupported version"),
		Entry("truncated", func(b []byte) []byte { return b[:len(b)-3] }, "extends past end"),
		Entry("unsupported section", func(b []byte) []byte {
			return append(b, section(nil, 11, []byte{0x00})...)
		}, "unsupported section 11"),
		Entry("sections out of order", func(b []byte) []byte {
			return append(b, section(nil, SectionType, []byte{0x00})...)
		}, "section 1 out of order"),
		Entry("function without code", func(b []byte) []byte {
			// id, size, count, body size, no locals, end
			const codeSection = 6
			return b[:len(b)-codeSection]
		}, "function section without code section"),
	)

	It("should reject a body that does not end with end", func() {
		bin := forthModule(0, OpNop).encode()
		bin[len(bin)-1] = OpNop
		_, err := Decode(bin)
		Expect(err).To(MatchError(ContainSubstring("not terminated by end")))
	})

	It("should reject exports of unknown functions", func() {
		tm := forthModule(0)
		tm.exports = append(tm.exports, Export{Name: "ghost", Func: 9})
		_, err := Decode(tm.encode())
		Expect(err).To(MatchError(ContainSubstring(`export "ghost" refers to unknown function 9`)))
	})

	It("should reject imports with unknown types", func() {
		tm := forthModule(0)
		tm.imports[0].Type = 7
		_, err := Decode(tm.encode())
		Expect(err).To(MatchError(ContainSubstring("has unknown type 7")))
	})

	It("should reject duplicate exports", func() {
		tm := forthModule(0)
		tm.exports = append(tm.exports, Export{Name: EntryPoint, Func: 3})
		_, err := Decode(tm.encode())
		Expect(err).To(MatchError(ContainSubstring("duplicate export")))
	})

	It("should report the offset", func() {
		_, err := Decode([]byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
		Expect(err).To(MatchError("malformed module at offset 0x4: unsupported version"))
	})
})
