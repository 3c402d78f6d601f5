package builder

import (
	"fmt"

	"github.com/xyproto/multiforge/formats/clr"
	"github.com/xyproto/multiforge/formats/pe"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/x86asm"
)

// buildCLRPE lowers prog to IL method bodies and metadata (formats/clr),
// then embeds the resulting assembly in a PE image behind a tiny native
// bootstrap that hands control to the CLR loader via mscoree.dll's
// _CorExeMain, the same entry point real .NET Framework executables use.
func buildCLRPE(prog *ir.Program) (*pe.Program, error) {
	clrProg := &clr.Program{
		AssemblyName: prog.Name,
		ModuleName:   prog.Name + ".exe",
		TypeName:     "Program",
		EntryPoint:   -1,
	}

	methodIndex := make(map[string]int, len(prog.Functions))
	for i, f := range prog.Functions {
		methodIndex[f.Name] = i
	}
	entry := entryFunctionName(prog)

	enc := &ilEncoder{methodIndex: methodIndex}
	for i := range prog.Functions {
		f := &prog.Functions[i]
		body, err := enc.encodeFunction(f)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", f.Name, err)
		}
		clrProg.Methods = append(clrProg.Methods, clr.Method{
			Name:      f.Name,
			Signature: ilMethodSignature(f),
			MaxStack:  8,
			Body:      body,
			Locals:    ilLocalsSignature(f),
		})
		if f.Name == entry {
			clrProg.EntryPoint = i
		}
	}
	clrProg.UserStrings = enc.userStrings

	asm, err := clr.Write(clrProg)
	if err != nil {
		return nil, err
	}

	cb := x86asm.NewCodeBuilder(x86asm.Mode64)
	cb.Label("_start")
	if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Sub, Dst: x86asm.RegOp(x86asm.RSP), Src: x86asm.ImmOp(40, 32)}); err != nil {
		return nil, err
	}
	if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Call, Dst: x86asm.RIPSymOp("iat:mscoree.dll:_CorExeMain")}); err != nil {
		return nil, err
	}
	if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Add, Dst: x86asm.RegOp(x86asm.RSP), Src: x86asm.ImmOp(40, 32)}); err != nil {
		return nil, err
	}
	if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Ret}); err != nil {
		return nil, err
	}

	fixups := make([]pe.CodeFixup, len(cb.Arena.Fixups))
	for i, f := range cb.Arena.Fixups {
		fixups[i] = pe.CodeFixup{OffsetInCode: f.OffsetInCode, Kind: pe.FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen}
	}

	return &pe.Program{
		Machine:            pe.MachineAMD64,
		Is64:               true,
		Subsystem:          pe.SubsystemWindowsCUI,
		DllCharacteristics: pe.DllCharacteristicsDynamicBase | pe.DllCharacteristicsNXCompat,
		ImageBase:          pe.ImageBaseDefaultX64,
		EntryLabel:         "_start",
		Code:               cb.Code,
		CodeLabels:         cb.Labels(),
		Imports:            []pe.ImportedDLL{{Name: "mscoree.dll", Functions: []pe.ImportedFunction{{Name: "_CorExeMain"}}}},
		Fixups:             fixups,
		CLR:                &pe.CLRPayload{Header: asm.CLIHeader, Metadata: asm.Metadata, MethodBodies: asm.MethodBodies},
	}, nil
}

func ilTypeByte(t *ir.Type) byte {
	if t == nil {
		return 0x01 // ELEMENT_TYPE_VOID
	}
	switch t.Kind {
	case ir.TypeVoid:
		return 0x01
	case ir.TypeBool:
		return 0x02
	case ir.TypeI8:
		return 0x04
	case ir.TypeI16:
		return 0x06
	case ir.TypeI32:
		return 0x08
	case ir.TypeI64:
		return 0x0A
	case ir.TypeF32:
		return 0x0C
	case ir.TypeF64:
		return 0x0D
	case ir.TypeString:
		return 0x0E
	default:
		return 0x1C // ELEMENT_TYPE_OBJECT
	}
}

func ilMethodSignature(f *ir.Function) []byte {
	sig := []byte{0x00, byte(len(f.Params))}
	sig = append(sig, ilTypeByte(f.ReturnType))
	for i := range f.Params {
		sig = append(sig, ilTypeByte(&f.Params[i]))
	}
	return sig
}

func ilLocalsSignature(f *ir.Function) []byte {
	if len(f.Locals) == 0 {
		return nil
	}
	sig := []byte{0x07, byte(len(f.Locals))}
	for i := range f.Locals {
		sig = append(sig, ilTypeByte(&f.Locals[i]))
	}
	return sig
}

// ilAsm is a small label-patching IL assembler: branch operands are 4-byte
// offsets relative to the instruction immediately following the branch,
// matching ECMA-335's long-form br/brtrue/brfalse encoding.
type ilAsm struct {
	code   []byte
	labels map[string]int
	gotos  []ilGoto
	tmp    int
}

type ilGoto struct {
	operand int
	after   int
	label   string
}

func newILAsm() *ilAsm { return &ilAsm{labels: map[string]int{}} }

func (a *ilAsm) u8(b byte)  { a.code = append(a.code, b) }
func (a *ilAsm) u32(v uint32) {
	a.code = append(a.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (a *ilAsm) label(name string) { a.labels[name] = len(a.code) }
func (a *ilAsm) newLabel(prefix string) string {
	a.tmp++
	return fmt.Sprintf("$%s%d", prefix, a.tmp)
}

func (a *ilAsm) branch(opcode byte, label string) {
	a.u8(opcode)
	operand := len(a.code)
	a.u32(0)
	a.gotos = append(a.gotos, ilGoto{operand: operand, after: len(a.code), label: label})
}

func (a *ilAsm) finish() ([]byte, error) {
	for _, g := range a.gotos {
		target, ok := a.labels[g.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", g.label)
		}
		rel := uint32(int32(target - g.after))
		a.code[g.operand] = byte(rel)
		a.code[g.operand+1] = byte(rel >> 8)
		a.code[g.operand+2] = byte(rel >> 16)
		a.code[g.operand+3] = byte(rel >> 24)
	}
	return a.code, nil
}

// ilEncoder lowers one ir.Function at a time to IL bytes, interning ldstr
// operands into a shared user-string list exactly like msil/convert.go's
// bodyEncoder, and resolving sibling calls to MethodDef tokens.
type ilEncoder struct {
	methodIndex map[string]int
	userStrings []string
}

func (e *ilEncoder) internString(s string) uint32 {
	for i, existing := range e.userStrings {
		if existing == s {
			return clr.TokenString | uint32(i+1)
		}
	}
	e.userStrings = append(e.userStrings, s)
	return clr.TokenString | uint32(len(e.userStrings))
}

func (e *ilEncoder) encodeFunction(f *ir.Function) ([]byte, error) {
	a := newILAsm()
	for _, insn := range f.Body {
		if err := e.encodeInstruction(a, f, insn); err != nil {
			return nil, err
		}
	}
	return a.finish()
}

func unsupportedIL(insn ir.Instruction, reason string) error {
	return &diag.InvalidInstruction{Mnemonic: insn.OpcodeName(), Architecture: "clr", Reason: reason}
}

func (e *ilEncoder) encodeInstruction(a *ilAsm, f *ir.Function, insn ir.Instruction) error {
	switch insn.Op {
	case ir.OpLabel:
		a.label(insn.Name)

	case ir.OpLoadConstant:
		c := insn.Const
		var v int32
		switch c.Kind {
		case ir.TypeBool:
			if c.Bool {
				v = 1
			}
		case ir.TypeI8:
			v = int32(c.I8)
		case ir.TypeI16:
			v = int32(c.I16)
		case ir.TypeI32:
			v = c.I32
		default:
			return unsupportedIL(insn, "unsupported constant kind")
		}
		a.u8(0x20) // ldc.i4
		a.u32(uint32(v))

	case ir.OpLoadString:
		token := e.internString(insn.Str)
		a.u8(0x72) // ldstr
		a.u32(token)

	case ir.OpLoadArgument:
		a.u8(0x0e) // ldarg.s
		a.u8(byte(insn.Index))
	case ir.OpStoreArgument:
		a.u8(0x10) // starg.s
		a.u8(byte(insn.Index))
	case ir.OpLoadLocal:
		a.u8(0x11) // ldloc.s
		a.u8(byte(insn.Index))
	case ir.OpStoreLocal:
		a.u8(0x13) // stloc.s
		a.u8(byte(insn.Index))

	case ir.OpAdd:
		a.u8(0x58)
	case ir.OpSub:
		a.u8(0x59)
	case ir.OpMul:
		a.u8(0x5A)
	case ir.OpDiv:
		a.u8(0x5B)
	case ir.OpRem:
		a.u8(0x5D)
	case ir.OpNeg:
		a.u8(0x65)
	case ir.OpAnd, ir.OpLogicalAnd:
		a.u8(0x5F)
	case ir.OpOr, ir.OpLogicalOr:
		a.u8(0x60)
	case ir.OpXor:
		a.u8(0x61)
	case ir.OpNot:
		a.u8(0x66)
	case ir.OpShl:
		a.u8(0x62)
	case ir.OpShr:
		a.u8(0x63)
	case ir.OpLogicalNot:
		a.u8(0x16)       // ldc.i4.0
		a.u8(0xFE)
		a.u8(0x01) // ceq

	case ir.OpEq:
		a.u8(0xFE)
		a.u8(0x01) // ceq
	case ir.OpLt:
		a.u8(0xFE)
		a.u8(0x02) // clt
	case ir.OpGt:
		a.u8(0xFE)
		a.u8(0x03) // cgt
	case ir.OpNe:
		a.u8(0xFE)
		a.u8(0x01) // ceq
		a.u8(0x16) // ldc.i4.0
		a.u8(0xFE)
		a.u8(0x01) // ceq: !(a==b)
	case ir.OpLe:
		a.u8(0xFE)
		a.u8(0x03) // cgt
		a.u8(0x16)
		a.u8(0xFE)
		a.u8(0x01) // !(a>b)
	case ir.OpGe:
		a.u8(0xFE)
		a.u8(0x02) // clt
		a.u8(0x16)
		a.u8(0xFE)
		a.u8(0x01) // !(a<b)

	case ir.OpJump:
		a.branch(0x38, insn.Name) // br
	case ir.OpJumpIfTrue:
		a.branch(0x3A, insn.Name) // brtrue
	case ir.OpJumpIfFalse:
		a.branch(0x39, insn.Name) // brfalse

	case ir.OpCall:
		var token uint32
		if idx, ok := e.methodIndex[insn.Name]; ok {
			token = clr.TokenMethodDef | uint32(idx+1)
		} else {
			// No external MemberRef table is modeled; a placeholder token in
			// MemberRef space keeps the body well-formed, matching the
			// package's existing non-certified metadata scope.
			token = 0x0A000000 | uint32(len(e.userStrings)+1)
		}
		a.u8(0x28) // call
		a.u32(token)

	case ir.OpRet:
		a.u8(0x2A)

	default:
		return unsupportedIL(insn, "not implemented by the CLR backend")
	}
	return nil
}
