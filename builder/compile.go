// Package builder dispatches a universal-IR program to the best-matching
// target backend and lowers it to final bytes: native x86/x86-64 machine
// code for PE/ELF/Mach-O, direct bytecode for the JVM and CLR metadata
// writers, and a WASM module for the WASI target.
package builder

import (
	"fmt"

	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/x86asm"
)

// regSet names the general-purpose registers a native compiler uses for
// frame bookkeeping (BP/SP) and scratch arithmetic (A/B), at a given mode.
type regSet struct {
	A, B, BP, SP x86asm.Reg
}

func regsFor(mode x86asm.Mode) regSet {
	if mode == x86asm.Mode64 {
		return regSet{A: x86asm.RAX, B: x86asm.RBX, BP: x86asm.RBP, SP: x86asm.RSP}
	}
	return regSet{A: x86asm.EAX, B: x86asm.EBX, BP: x86asm.EBP, SP: x86asm.ESP}
}

// callMarshaler emits a backend's full calling sequence for one OpCall: it
// pops argc values off the IR's conceptual stack in whatever order/registers
// its ABI needs, emits the call itself (a local label, an imported symbol,
// or a raw syscall), and leaves any return value the backend's convention
// dictates. sibling is true when name resolves to another function in the
// same program.
type callMarshaler func(cb *x86asm.CodeBuilder, sibling bool, name string, argc int) error

// stringLoader records a string literal in the backend's data section and
// emits code leaving its address on the IR's conceptual stack. nil means
// the backend has no addressable data section, and OpLoadString is reported
// as unsupported.
type stringLoader func(cb *x86asm.CodeBuilder, s string) error

// nativeCompiler lowers one ir.Program's functions onto the hardware stack:
// the IR's own evaluation stack maps directly onto PUSH/POP, locals and
// arguments live in a frame-pointer-addressed region below rbp/ebp, and
// Call/Ret follow whatever ABI the embedding backend's callMarshaler
// implements.
//
// Scope: integer, boolean and pointer-width values only (no float
// registers); comparisons (Eq/Ne/Lt/Le/Gt/Ge) can only be used fused with an
// immediately following JumpIfTrue/JumpIfFalse, since the encoder this
// toolkit builds on has no SETcc form to materialize a standalone boolean.
// Multiply, divide, remainder, negate, bitwise not and the shifts have no
// encoder support either and are reported as unsupported, not faked.
type nativeCompiler struct {
	mode    x86asm.Mode
	r       regSet
	argRegs []x86asm.Reg // Mode64 only: registers incoming parameters are spilled from
	call    callMarshaler
	loadStr stringLoader
}

func (nc *nativeCompiler) compileProgram(prog *ir.Program, cb *x86asm.CodeBuilder) error {
	for i := range prog.Functions {
		if err := nc.compileFunction(prog, &prog.Functions[i], cb); err != nil {
			return fmt.Errorf("function %q: %w", prog.Functions[i].Name, err)
		}
	}
	return nil
}

func condFor(op ir.Op) (x86asm.Cond, bool) {
	switch op {
	case ir.OpEq:
		return x86asm.CondE, true
	case ir.OpNe:
		return x86asm.CondNE, true
	case ir.OpLt:
		return x86asm.CondL, true
	case ir.OpLe:
		return x86asm.CondLE, true
	case ir.OpGt:
		return x86asm.CondG, true
	case ir.OpGe:
		return x86asm.CondGE, true
	default:
		return 0, false
	}
}

func invertCond(c x86asm.Cond) x86asm.Cond {
	switch c {
	case x86asm.CondE:
		return x86asm.CondNE
	case x86asm.CondNE:
		return x86asm.CondE
	case x86asm.CondL:
		return x86asm.CondGE
	case x86asm.CondLE:
		return x86asm.CondG
	case x86asm.CondG:
		return x86asm.CondLE
	default: // CondGE
		return x86asm.CondL
	}
}

func unsupported(op ir.Instruction, reason string) error {
	return &diag.InvalidInstruction{Mnemonic: op.OpcodeName(), Architecture: "x86/x86-64", Reason: reason}
}

func (nc *nativeCompiler) compileFunction(prog *ir.Program, f *ir.Function, cb *x86asm.CodeBuilder) error {
	slot := int32(4)
	if nc.mode == x86asm.Mode64 {
		slot = 8
	}
	var argSpill int32
	if nc.mode == x86asm.Mode64 {
		argSpill = slot * int32(len(f.Params))
	}
	frameSize := argSpill + slot*int32(len(f.Locals))
	if rem := frameSize % 16; rem != 0 {
		frameSize += 16 - rem
	}

	// argOffset/localOffset give each slot's byte offset from rbp/ebp.
	// Mode64 spills incoming register arguments just below the frame
	// pointer, then locals below that. Mode32 has no spill area: arguments
	// arrive on the caller's stack, and this backend requires callers to
	// push them in reverse declared order so argOffset's positive,
	// cdecl-shaped addressing lines up (see the PE backend's call
	// marshaler for the matching convention).
	argOffset := func(i uint32) int32 {
		if nc.mode == x86asm.Mode64 {
			return -(slot * (int32(i) + 1))
		}
		return 8 + slot*int32(i)
	}
	localOffset := func(i uint32) int32 {
		return -(argSpill + slot*(int32(i)+1))
	}

	cb.Label(f.Name)
	emit := func(insn x86asm.Instruction) error { return cb.Emit(insn) }

	if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.BP)}); err != nil {
		return err
	}
	if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(nc.r.BP), Src: x86asm.RegOp(nc.r.SP)}); err != nil {
		return err
	}
	if frameSize > 0 {
		if err := emit(x86asm.Instruction{Mnemonic: x86asm.Sub, Dst: x86asm.RegOp(nc.r.SP), Src: x86asm.ImmOp(int64(frameSize), 32)}); err != nil {
			return err
		}
	}
	if nc.mode == x86asm.Mode64 {
		for i := range f.Params {
			if i >= len(nc.argRegs) {
				return &diag.InvalidInstruction{Mnemonic: "call", Architecture: "x86-64", Reason: fmt.Sprintf("more than %d parameters is unsupported", len(nc.argRegs))}
			}
			bp := nc.r.BP
			mem := x86asm.MemOp(&bp, nil, 1, argOffset(uint32(i)))
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: mem, Src: x86asm.RegOp(nc.argRegs[i])}); err != nil {
				return err
			}
		}
	}

	body := f.Body
	for i := 0; i < len(body); i++ {
		insn := body[i]
		bp := nc.r.BP
		switch insn.Op {
		case ir.OpLabel:
			cb.Label(insn.Name)

		case ir.OpLoadConstant:
			c := insn.Const
			var v int64
			switch c.Kind {
			case ir.TypeBool:
				if c.Bool {
					v = 1
				}
			case ir.TypeI8:
				v = int64(c.I8)
			case ir.TypeI16:
				v = int64(c.I16)
			case ir.TypeI32:
				v = int64(c.I32)
			case ir.TypeI64:
				v = c.I64
			default:
				return unsupported(insn, "unsupported constant kind for the native backend")
			}
			if nc.mode == x86asm.Mode64 && (v < -(1<<31) || v >= (1<<31)) {
				if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(nc.r.A), Src: x86asm.ImmOp(v, 64)}); err != nil {
					return err
				}
				if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
					return err
				}
				break
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.ImmOp(v, 32)}); err != nil {
				return err
			}

		case ir.OpLoadString:
			if nc.loadStr == nil {
				return unsupported(insn, "this backend has no addressable data section for string constants")
			}
			if err := nc.loadStr(cb, insn.Str); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}

		case ir.OpLoadLocal:
			mem := x86asm.MemOp(&bp, nil, 1, localOffset(insn.Index))
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(nc.r.A), Src: mem}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}

		case ir.OpStoreLocal:
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			mem := x86asm.MemOp(&bp, nil, 1, localOffset(insn.Index))
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: mem, Src: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}

		case ir.OpLoadArgument:
			mem := x86asm.MemOp(&bp, nil, 1, argOffset(insn.Index))
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(nc.r.A), Src: mem}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}

		case ir.OpStoreArgument:
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			mem := x86asm.MemOp(&bp, nil, 1, argOffset(insn.Index))
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: mem, Src: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}

		case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.B)}); err != nil {
				return err
			}
			mnemonic := map[ir.Op]x86asm.Mnemonic{ir.OpAdd: x86asm.Add, ir.OpSub: x86asm.Sub, ir.OpAnd: x86asm.AndI, ir.OpOr: x86asm.OrI, ir.OpXor: x86asm.XorI}[insn.Op]
			if err := emit(x86asm.Instruction{Mnemonic: mnemonic, Dst: x86asm.RegOp(nc.r.B), Src: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.B)}); err != nil {
				return err
			}

		case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
			if i+1 >= len(body) || (body[i+1].Op != ir.OpJumpIfTrue && body[i+1].Op != ir.OpJumpIfFalse) {
				return unsupported(insn, "a comparison must be immediately followed by a jump-if-true/false to branch on; this backend cannot materialize a standalone boolean")
			}
			next := body[i+1]
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.B)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Cmp, Dst: x86asm.RegOp(nc.r.B), Src: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			cond, _ := condFor(insn.Op)
			if next.Op == ir.OpJumpIfFalse {
				cond = invertCond(cond)
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Jcc, Cond: cond, Dst: x86asm.LabelOp(next.Name)}); err != nil {
				return err
			}
			i++

		case ir.OpJump:
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Jmp, Dst: x86asm.LabelOp(insn.Name)}); err != nil {
				return err
			}

		case ir.OpJumpIfTrue, ir.OpJumpIfFalse:
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Cmp, Dst: x86asm.RegOp(nc.r.A), Src: x86asm.ImmOp(0, 32)}); err != nil {
				return err
			}
			cond := x86asm.CondNE
			if insn.Op == ir.OpJumpIfFalse {
				cond = x86asm.CondE
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Jcc, Cond: cond, Dst: x86asm.LabelOp(insn.Name)}); err != nil {
				return err
			}

		case ir.OpCall:
			_, sibling := prog.FunctionByName(insn.Name)
			if nc.call == nil {
				return unsupported(insn, "this backend does not support calls")
			}
			if err := nc.call(cb, sibling, insn.Name, insn.Argc); err != nil {
				return err
			}
			if f2, ok := prog.FunctionByName(insn.Name); ok && f2.ReturnType != nil && f2.ReturnType.Kind != ir.TypeVoid {
				if err := emit(x86asm.Instruction{Mnemonic: x86asm.Push, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
					return err
				}
			}

		case ir.OpRet:
			if f.ReturnType != nil && f.ReturnType.Kind != ir.TypeVoid {
				if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.A)}); err != nil {
					return err
				}
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(nc.r.SP), Src: x86asm.RegOp(nc.r.BP)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(nc.r.BP)}); err != nil {
				return err
			}
			if err := emit(x86asm.Instruction{Mnemonic: x86asm.Ret}); err != nil {
				return err
			}

		default:
			return unsupported(insn, "not implemented by the native backend")
		}
	}
	return nil
}

// dataSection accumulates NUL-terminated string literals referenced by
// RIP-relative loads, interning repeats and handing each one back a
// "data:<offset>" fixup symbol (see formats/pe's resolve convention).
type dataSection struct {
	bytes []byte
	cache map[string]string
}

func newDataSection() *dataSection { return &dataSection{cache: map[string]string{}} }

func (d *dataSection) intern(s string) string {
	if sym, ok := d.cache[s]; ok {
		return sym
	}
	sym := fmt.Sprintf("data:%d", len(d.bytes))
	d.bytes = append(d.bytes, []byte(s)...)
	d.bytes = append(d.bytes, 0)
	d.cache[s] = sym
	return sym
}

// entryFunctionName picks the program's entry point by convention: the
// function named "main", falling back to the first declared function. The
// universal IR carries no explicit entry-point marker, so backends agree on
// this lookup order rather than each guessing independently.
func entryFunctionName(prog *ir.Program) string {
	if _, ok := prog.FunctionByName("main"); ok {
		return "main"
	}
	if len(prog.Functions) > 0 {
		return prog.Functions[0].Name
	}
	return ""
}
