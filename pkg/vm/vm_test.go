package vm

import (
	"math"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("VM", func() {
	var (
		mockCtrl *gomock.Controller
		host     *MockHost
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		host = NewMockHost(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	load := func(tm *testModule, opts ...Option) *VM {
		v, err := Load(tm.encode(), append([]Option{WithHost(host)}, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		return v
	}

	Context("Running compiled programs", func() {
		It("should add and print", func() {
			host.EXPECT().Print(int32(7))

			v := load(forthModule(0, ops(i32(3), i32(4), []byte{OpI32Add}, call(printIdx))...))

			Expect(v.Run()).To(Succeed())
			Expect(v.Halted).To(BeTrue())
			Expect(v.Steps).To(Equal(uint64(5)))
			Expect(v.CallDepth()).To(Equal(0))
		})

		It("should store and read variables", func() {
			host.EXPECT().Print(int32(10))

			v := load(forthModule(1, ops(
				i32(5), localSet(0),
				localGet(0), localGet(0), []byte{OpI32Add}, call(printIdx),
			)...))

			Expect(v.Run()).To(Succeed())
		})

		It("should emit a newline", func() {
			host.EXPECT().Emit(int32(10))

			v := load(forthModule(0, ops(i32(10), call(emitIdx))...))

			Expect(v.Run()).To(Succeed())
		})

		It("should run an empty program", func() {
			v := load(forthModule(0))

			Expect(v.Run()).To(Succeed())
			Expect(v.Steps).To(Equal(uint64(1)))
		})

		It("should start every local at zero", func() {
			host.EXPECT().Print(int32(0))

			v := load(forthModule(3, ops(localGet(2), call(printIdx))...))

			Expect(v.Run()).To(Succeed())
		})

		It("should call the host in program order", func() {
			gomock.InOrder(
				host.EXPECT().Input().Return(int32(-12), true),
				host.EXPECT().Print(int32(144)),
				host.EXPECT().Emit(int32(10)),
			)

			v := load(forthModule(1, ops(
				call(inputIdx), localSet(0),
				localGet(0), localGet(0), []byte{OpI32Mul}, call(printIdx),
				i32(10), call(emitIdx),
			)...))

			Expect(v.Run()).To(Succeed())
		})

		It("should wrap around on overflow", func() {
			host.EXPECT().Print(int32(math.MinInt32))

			v := load(forthModule(0, ops(i32(math.MaxInt32), i32(1), []byte{OpI32Add}, call(printIdx))...))

			Expect(v.Run()).To(Succeed())
		})

		It("should truncate signed division toward zero", func() {
			gomock.InOrder(
				host.EXPECT().Print(int32(-3)),
				host.EXPECT().Print(int32(-4)),
			)

			v := load(forthModule(0, ops(
				i32(-7), i32(2), []byte{OpI32DivS}, call(printIdx),
				i32(5), i32(9), []byte{OpI32Sub}, call(printIdx),
			)...))

			Expect(v.Run()).To(Succeed())
		})

		It("should call functions defined in the module", func() {
			host.EXPECT().Print(int32(49))

			tm := forthModule(0, ops(i32(7), call(4), call(printIdx))...)
			tm.types = append(tm.types, FuncType{Params: 1, Results: 1})
			tm.funcs = append(tm.funcs, testFunc{
				typ:  3,
				body: ops(localGet(0), localGet(0), []byte{OpI32Mul}),
			})
			v := load(tm)

			Expect(v.Run()).To(Succeed())
			Expect(v.Stack).To(BeEmpty())
		})
	})

	Context("Stepping", func() {
		It("should expose the operand stack between steps", func() {
			host.EXPECT().Print(int32(7))
			v := load(forthModule(0, ops(i32(3), i32(4), []byte{OpI32Add}, call(printIdx))...))

			Expect(v.Step()).To(Succeed())
			Expect(v.Stack).To(Equal([]int32{3}))
			Expect(v.Step()).To(Succeed())
			Expect(v.Stack).To(Equal([]int32{3, 4}))
			Expect(v.Step()).To(Succeed())
			Expect(v.Stack).To(Equal([]int32{7}))
			Expect(v.Step()).To(Succeed())
			Expect(v.Stack).To(BeEmpty())
			Expect(v.Halted).To(BeFalse())
			Expect(v.Step()).To(Succeed())
			Expect(v.Halted).To(BeTrue())
		})

		It("should do nothing once halted", func() {
			v := load(forthModule(0))
			Expect(v.Run()).To(Succeed())
			steps := v.Steps

			Expect(v.Step()).To(Succeed())
			Expect(v.Steps).To(Equal(steps))
		})
	})

	Context("Waiting for input", func() {
		It("should retry the input call until the host has a value", func() {
			gomock.InOrder(
				host.EXPECT().Input().Return(int32(0), false),
				host.EXPECT().Input().Return(int32(0), false),
				host.EXPECT().Input().Return(int32(6), true),
				host.EXPECT().Print(int32(6)),
			)
			v := load(forthModule(0, ops(call(inputIdx), call(printIdx))...))

			Expect(v.Run()).To(MatchError(ErrWaiting))
			Expect(v.Waiting).To(BeTrue())
			Expect(v.Steps).To(Equal(uint64(0)))

			Expect(v.Step()).To(Succeed())
			Expect(v.Waiting).To(BeTrue())

			Expect(v.Run()).To(Succeed())
			Expect(v.Waiting).To(BeFalse())
			Expect(v.Halted).To(BeTrue())
		})
	})

	Context("Traps", func() {
		expectTrap := func(v *VM, reason string) {
			err := v.Run()
			var trap *Trap
			Expect(err).To(BeAssignableToTypeOf(trap))
			Expect(err.(*Trap).Reason).To(Equal(reason))
			Expect(v.Halted).To(BeTrue())
		}

		It("should trap on division by zero", func() {
			v := load(forthModule(0, ops(i32(1), i32(0), []byte{OpI32DivS}, call(printIdx))...))
			expectTrap(v, "integer divide by zero")
		})

		It("should trap on signed division overflow", func() {
			v := load(forthModule(0, ops(i32(math.MinInt32), i32(-1), []byte{OpI32DivS}, call(printIdx))...))
			expectTrap(v, "integer overflow")
		})

		It("should trap on operand stack underflow", func() {
			v := load(forthModule(0, OpI32Add))
			expectTrap(v, "operand stack underflow")
		})

		It("should trap on a value left at the end", func() {
			v := load(forthModule(0, i32(3)...))
			expectTrap(v, "stack height mismatch at end of function")
		})

		It("should trap on unreachable", func() {
			v := load(forthModule(0, OpUnreachable))
			expectTrap(v, "unreachable executed")
		})

		It("should trap on an unsupported opcode", func() {
			v := load(forthModule(0, 0xFC))
			expectTrap(v, "unsupported opcode 0xfc")
		})

		It("should trap on an out of range local", func() {
			v := load(forthModule(1, ops(localGet(1), []byte{OpDrop})...))
			expectTrap(v, "local index 1 out of range")
		})

		It("should trap when the call stack is exhausted", func() {
			v := load(forthModule(0, call(3)...), WithMaxCallDepth(16))
			expectTrap(v, "call stack exhausted")
		})

		It("should trap when the operand stack is full", func() {
			v := load(forthModule(0, ops(i32(1), i32(2), i32(3))...), WithStackLimit(2))
			expectTrap(v, "operand stack overflow")
		})

		It("should report the offset of the faulting instruction", func() {
			bin := forthModule(0, OpUnreachable).encode()
			v, err := Load(bin, WithHost(host))
			Expect(err).NotTo(HaveOccurred())

			err = v.Run()
			Expect(err).To(HaveOccurred())
			Expect(bin[err.(*Trap).Offset]).To(Equal(OpUnreachable))
			Expect(err.Error()).To(HavePrefix("trap at offset 0x"))
		})
	})

	Context("Linking", func() {
		expectLinkError := func(tm *testModule, reason string) {
			_, err := Load(tm.encode(), WithHost(host))
			var linkErr *LinkError
			Expect(err).To(BeAssignableToTypeOf(linkErr))
			Expect(err.(*LinkError).Reason).To(Equal(reason))
		}

		It("should reject imports from other modules", func() {
			tm := forthModule(0)
			tm.imports[0].Module = "env"
			expectLinkError(tm, "unknown import module")
		})

		It("should reject unknown primitives", func() {
			tm := forthModule(0)
			tm.imports[2].Name = "dup"
			expectLinkError(tm, "unknown import")
		})

		It("should reject primitives with the wrong signature", func() {
			tm := forthModule(0)
			tm.imports[1].Type = 0
			expectLinkError(tm, "incompatible import type")
		})

		It("should require the entry point", func() {
			tm := forthModule(0)
			tm.exports[0].Name = "main"
			expectLinkError(tm, "export not found")
		})

		It("should reject an imported entry point", func() {
			tm := forthModule(0)
			tm.exports[0].Func = printIdx
			expectLinkError(tm, "entry point is an import")
		})

		It("should reject an entry point with parameters", func() {
			tm := forthModule(0)
			tm.funcs[0].typ = 0
			expectLinkError(tm, "entry point must take and return nothing")
		})

		It("should accept programs importing a subset of the primitives", func() {
			tm := &testModule{
				types:   []FuncType{{Params: 1}, {}},
				imports: []Import{{Module: HostNamespace, Name: "print", Type: 0}},
				funcs:   []testFunc{{typ: 1, body: ops(i32(1), call(0))}},
				exports: []Export{{Name: EntryPoint, Func: 1}},
			}
			host.EXPECT().Print(int32(1))

			v := load(tm)
			Expect(v.Run()).To(Succeed())
		})

		It("should format link errors", func() {
			err := &LinkError{Module: "env", Name: "f", Reason: "unknown import module"}
			Expect(err.Error()).To(Equal("link error: env.f: unknown import module"))
			err = &LinkError{Name: "_start", Reason: "export not found"}
			Expect(err.Error()).To(Equal("link error: _start: export not found"))
		})
	})
})
