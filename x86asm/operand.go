package x86asm

// Operand is one of Register, Immediate, Memory, or Label.
type Operand struct {
	Kind OperandKind

	Reg Reg

	ImmValue int64
	ImmBits  int // 8, 16, 32, or 64

	// Memory fields.
	Base        *Reg
	Index       *Reg
	Scale       int // 1, 2, 4, or 8
	Disp        int32
	RIPRelative bool
	// SymDisp, when non-empty, means Disp is not yet known: the encoder
	// emits a zero placeholder and records a RipRelative32 fixup against
	// this symbol instead of using Disp directly.
	SymDisp string

	Label string
}

type OperandKind int

const (
	KindNone OperandKind = iota
	KindRegister
	KindImmediate
	KindMemory
	KindLabel
)

func RegOp(r Reg) Operand { return Operand{Kind: KindRegister, Reg: r} }

func ImmOp(value int64, bits int) Operand {
	return Operand{Kind: KindImmediate, ImmValue: value, ImmBits: bits}
}

func MemOp(base, index *Reg, scale int, disp int32) Operand {
	return Operand{Kind: KindMemory, Base: base, Index: index, Scale: scale, Disp: disp}
}

func RIPMemOp(disp int32) Operand {
	return Operand{Kind: KindMemory, RIPRelative: true, Disp: disp}
}

// RIPSymOp builds a RIP-relative memory operand whose displacement is
// unknown until image layout, e.g. `call [rip+iat_slot]`.
func RIPSymOp(symbol string) Operand {
	return Operand{Kind: KindMemory, RIPRelative: true, SymDisp: symbol}
}

func LabelOp(name string) Operand { return Operand{Kind: KindLabel, Label: name} }
