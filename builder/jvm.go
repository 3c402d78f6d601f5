package builder

import (
	"fmt"

	"github.com/xyproto/multiforge/formats/jvm"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
)

// buildJVM lowers prog straight to class-file bytes. The JVM's own
// evaluation stack matches the IR's shape closely enough that, unlike the
// native backends, comparisons materialize a real standalone boolean
// (if_icmp<cond> plus an iconst_0/iconst_1 dance) and Mul/Div/Rem/Neg/Not
// all have direct opcodes - this backend is strictly more capable than the
// x86 ones for arithmetic.
//
// Every ir.Function becomes a static method on one class named after the
// program; a function literally named "main" with no parameters also gets
// a real `public static void main(String[])` entry point that forwards to
// it, so the assembled class is directly runnable with `java`.
func buildJVM(prog *ir.Program, want target.Triple) ([]byte, error) {
	b := jvm.NewBuilder()
	pool := b.Pool()

	major := uint16(52)
	if want.Version > 0 {
		major = uint16(want.Version)
	}

	className := sanitizeClassName(prog.Name)
	out := &jvm.Program{
		MajorVersion: major,
		AccessFlags:  jvm.AccPublic | jvm.AccSuper,
		ThisClass:    className,
		SuperClass:   "java/lang/Object",
	}

	for i := range prog.Functions {
		f := &prog.Functions[i]
		m, err := compileJVMMethod(prog, className, pool, f)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", f.Name, err)
		}
		out.Methods = append(out.Methods, *m)
	}

	entry := entryFunctionName(prog)
	if f, ok := prog.FunctionByName(entry); ok && entry == "main" && len(f.Params) == 0 {
		out.Methods = append(out.Methods, buildJVMMainWrapper(className, pool, f))
	}

	return b.Build(out)
}

func sanitizeClassName(name string) string {
	if name == "" {
		return "Program"
	}
	return name
}

// jvmDescriptor maps an IR type to its JVM field/return descriptor letter.
func jvmDescriptor(t *ir.Type) string {
	if t == nil {
		return "V"
	}
	switch t.Kind {
	case ir.TypeI8, ir.TypeI16, ir.TypeI32, ir.TypeBool:
		if t.Kind == ir.TypeBool {
			return "Z"
		}
		return "I"
	case ir.TypeI64:
		return "J"
	case ir.TypeF32:
		return "F"
	case ir.TypeF64:
		return "D"
	case ir.TypeString:
		return "Ljava/lang/String;"
	case ir.TypeVoid:
		return "V"
	default:
		return "Ljava/lang/Object;"
	}
}

func jvmMethodDescriptor(f *ir.Function) string {
	desc := "("
	for i := range f.Params {
		desc += jvmDescriptor(&f.Params[i])
	}
	desc += ")" + jvmDescriptor(f.ReturnType)
	return desc
}

// jvmAsm assembles one method body, tracking label offsets so forward and
// backward branches can be backpatched once the whole body is laid out (JVM
// branch operands are 16-bit offsets relative to the branch opcode itself).
type jvmAsm struct {
	code   []byte
	labels map[string]int
	gotos  []jvmGoto
	tmp    int
}

type jvmGoto struct {
	operand int // offset of the 2-byte branch operand
	from    int // offset of the branch opcode
	label   string
}

func newJVMAsm() *jvmAsm { return &jvmAsm{labels: map[string]int{}} }

func (a *jvmAsm) u8(b byte)     { a.code = append(a.code, b) }
func (a *jvmAsm) u16(v uint16)  { a.code = append(a.code, byte(v>>8), byte(v)) }
func (a *jvmAsm) u32(v uint32)  { a.code = append(a.code, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)) }
func (a *jvmAsm) label(name string) { a.labels[name] = len(a.code) }

func (a *jvmAsm) newLabel(prefix string) string {
	a.tmp++
	return fmt.Sprintf("$%s%d", prefix, a.tmp)
}

func (a *jvmAsm) branch(opcode byte, label string) {
	from := len(a.code)
	a.u8(opcode)
	a.gotos = append(a.gotos, jvmGoto{operand: len(a.code), from: from, label: label})
	a.u16(0)
}

func (a *jvmAsm) finish() ([]byte, error) {
	for _, g := range a.gotos {
		target, ok := a.labels[g.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", g.label)
		}
		rel := int16(target - g.from)
		a.code[g.operand] = byte(uint16(rel) >> 8)
		a.code[g.operand+1] = byte(uint16(rel))
	}
	return a.code, nil
}

func compileJVMMethod(prog *ir.Program, className string, pool *jvm.ConstantPool, f *ir.Function) (*jvm.Method, error) {
	argSlots := uint32(len(f.Params))
	localSlot := func(i uint32) uint16 { return uint16(argSlots + i) }

	a := newJVMAsm()
	for _, insn := range f.Body {
		if err := compileJVMInstruction(prog, className, pool, a, f, insn, localSlot); err != nil {
			return nil, err
		}
	}
	code, err := a.finish()
	if err != nil {
		return nil, err
	}

	maxLocals := argSlots + uint32(len(f.Locals))
	return &jvm.Method{
		AccessFlags: jvm.AccPublic | jvm.AccStatic,
		Name:        f.Name,
		Descriptor:  jvmMethodDescriptor(f),
		MaxStack:    64, // conservative fixed bound; this toolkit emits no StackMapTable to verify against
		MaxLocals:   uint16(maxLocals),
		Code:        code,
	}, nil
}

func compileJVMInstruction(prog *ir.Program, className string, pool *jvm.ConstantPool, a *jvmAsm, f *ir.Function, insn ir.Instruction, localSlot func(uint32) uint16) error {
	switch insn.Op {
	case ir.OpLabel:
		a.label(insn.Name)

	case ir.OpLoadConstant:
		c := insn.Const
		switch c.Kind {
		case ir.TypeBool:
			if c.Bool {
				a.u8(0x04) // iconst_1
			} else {
				a.u8(0x03) // iconst_0
			}
		case ir.TypeI8, ir.TypeI16, ir.TypeI32:
			v := int32(c.I32)
			switch {
			case v >= -1 && v <= 5:
				a.u8(byte(0x03 + v))
			case v >= -128 && v <= 127:
				a.u8(0x10)
				a.u8(byte(v))
			case v >= -32768 && v <= 32767:
				a.u8(0x11)
				a.u16(uint16(v))
			default:
				idx := pool.Integer(v)
				a.u8(0x13) // ldc_w
				a.u16(idx)
			}
		default:
			return unsupportedJVM(insn, "unsupported constant kind")
		}

	case ir.OpLoadString:
		idx := pool.String(insn.Str)
		if idx > 0xFF {
			a.u8(0x13)
			a.u16(idx)
		} else {
			a.u8(0x12)
			a.u8(byte(idx))
		}

	case ir.OpLoadLocal:
		a.u8(0x15) // iload
		a.u8(byte(localSlot(insn.Index)))
	case ir.OpStoreLocal:
		a.u8(0x36) // istore
		a.u8(byte(localSlot(insn.Index)))
	case ir.OpLoadArgument:
		a.u8(0x15)
		a.u8(byte(insn.Index))
	case ir.OpStoreArgument:
		a.u8(0x36)
		a.u8(byte(insn.Index))

	case ir.OpAdd:
		a.u8(0x60)
	case ir.OpSub:
		a.u8(0x64)
	case ir.OpMul:
		a.u8(0x68)
	case ir.OpDiv:
		a.u8(0x6c)
	case ir.OpRem:
		a.u8(0x70)
	case ir.OpNeg:
		a.u8(0x74)
	case ir.OpAnd, ir.OpLogicalAnd:
		a.u8(0x7e)
	case ir.OpOr, ir.OpLogicalOr:
		a.u8(0x80)
	case ir.OpXor:
		a.u8(0x82)
	case ir.OpShl:
		a.u8(0x78)
	case ir.OpShr:
		a.u8(0x7a)
	case ir.OpNot:
		a.u8(0x02) // iconst_m1
		a.u8(0x82) // ixor: v ^ -1 == ~v
	case ir.OpLogicalNot:
		a.u8(0x04) // iconst_1
		a.u8(0x82) // ixor: v ^ 1 flips a 0/1 boolean

	case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		trueL, endL := a.newLabel("t"), a.newLabel("e")
		a.branch(jvmCmpOpcode(insn.Op), trueL)
		a.u8(0x03) // iconst_0
		a.branch(0xa7, endL) // goto
		a.label(trueL)
		a.u8(0x04) // iconst_1
		a.label(endL)

	case ir.OpJump:
		a.branch(0xa7, insn.Name) // goto
	case ir.OpJumpIfTrue:
		a.branch(0x9a, insn.Name) // ifne
	case ir.OpJumpIfFalse:
		a.branch(0x99, insn.Name) // ifeq

	case ir.OpCall:
		if err := compileJVMCall(prog, className, pool, a, insn); err != nil {
			return err
		}

	case ir.OpRet:
		if f.ReturnType == nil || f.ReturnType.Kind == ir.TypeVoid {
			a.u8(0xb1) // return
		} else {
			a.u8(0xac) // ireturn
		}

	case ir.OpArrayNew:
		a.u8(0xbc) // newarray
		a.u8(10)   // T_INT; only int[] arrays are supported
	case ir.OpArrayLoad:
		a.u8(0x2e) // iaload
	case ir.OpArrayStore:
		a.u8(0x4f) // iastore
	case ir.OpArrayLength:
		a.u8(0xbe) // arraylength

	default:
		return unsupportedJVM(insn, "not implemented by the JVM backend")
	}
	return nil
}

func jvmCmpOpcode(op ir.Op) byte {
	switch op {
	case ir.OpEq:
		return 0x9f // if_icmpeq
	case ir.OpNe:
		return 0xa0
	case ir.OpLt:
		return 0xa1
	case ir.OpGe:
		return 0xa2
	case ir.OpGt:
		return 0xa3
	default: // OpLe
		return 0xa4
	}
}

func compileJVMCall(prog *ir.Program, className string, pool *jvm.ConstantPool, a *jvmAsm, insn ir.Instruction) error {
	if callee, ok := prog.FunctionByName(insn.Name); ok {
		idx := pool.Methodref(className, callee.Name, jvmMethodDescriptor(callee))
		a.u8(0xb8) // invokestatic
		a.u16(idx)
		return nil
	}
	if insn.Name == "__builtin_print" && insn.Argc == 1 {
		idx := pool.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
		a.u8(0xb2) // getstatic
		a.u16(idx)
		a.u8(0x5f) // swap: [..., arg, out] -> [..., out, arg]
		midx := pool.Methodref("java/io/PrintStream", "println", "(I)V")
		a.u8(0xb6) // invokevirtual
		a.u16(midx)
		return nil
	}
	return unsupportedJVM(insn, "unresolved call target for the JVM backend")
}

func unsupportedJVM(insn ir.Instruction, reason string) error {
	return &diag.InvalidInstruction{Mnemonic: insn.OpcodeName(), Architecture: "jvm", Reason: reason}
}

// buildJVMMainWrapper synthesizes the real `public static void main(String[])`
// entry point the JVM requires, forwarding to the program's own zero-arg
// "main" function and discarding its result if it returns one.
func buildJVMMainWrapper(className string, pool *jvm.ConstantPool, entry *ir.Function) jvm.Method {
	a := newJVMAsm()
	desc := jvmMethodDescriptor(entry)
	idx := pool.Methodref(className, entry.Name, desc)
	a.u8(0xb8)
	a.u16(idx)
	if entry.ReturnType != nil && entry.ReturnType.Kind != ir.TypeVoid {
		a.u8(0x57) // pop
	}
	a.u8(0xb1) // return
	code, _ := a.finish()
	return jvm.Method{
		AccessFlags: jvm.AccPublic | jvm.AccStatic,
		Name:        "main",
		Descriptor:  "([Ljava/lang/String;)V",
		MaxStack:    8,
		MaxLocals:   1,
		Code:        code,
	}
}
