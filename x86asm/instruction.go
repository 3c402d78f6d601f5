package x86asm

// Mnemonic is the tagged variant of an Instruction.
type Mnemonic int

const (
	Mov Mnemonic = iota
	Push
	Pop
	Add
	Sub
	AndI
	OrI
	XorI
	Cmp
	Lea
	Call
	Jmp
	Jcc
	Ret
	Nop
	Syscall
)

// Cond is a jump condition code for Jcc.
type Cond int

const (
	CondE Cond = iota // ZF=1
	CondNE
	CondL
	CondLE
	CondG
	CondGE
)

// ccByte is the condition-code nibble used by both short (0x70+cc) and
// near (0x0F 0x80+cc) conditional jump opcodes.
var ccByte = map[Cond]uint8{
	CondE: 0x4, CondNE: 0x5, CondL: 0xC, CondLE: 0xE, CondG: 0xF, CondGE: 0xD,
}

// Instruction is one typed x86/x86-64 machine instruction before encoding.
type Instruction struct {
	Mnemonic Mnemonic
	Dst      Operand
	Src      Operand
	Cond     Cond // only meaningful when Mnemonic == Jcc
}

// Mode selects the operand/address-size context the encoder assumes.
type Mode int

const (
	Mode32 Mode = iota
	Mode64
)
