package x86asm

import "github.com/xyproto/multiforge/internal/diag"

// localFixup is a Fixup whose OffsetInCode is relative to the start of a
// single instruction's encoded bytes; Encode returns these so a CodeBuilder
// can translate them into absolute offsets as it appends instructions.
type localFixup = Fixup

// Encode turns one typed instruction into its byte sequence for the given
// mode. Returned fixups have OffsetInCode relative to the start of code.
func Encode(insn Instruction, mode Mode) (code []byte, fixups []localFixup, err error) {
	e := &encoder{mode: mode}
	if err := e.encode(insn); err != nil {
		return nil, nil, err
	}
	return e.buf, e.fixups, nil
}

type encoder struct {
	mode   Mode
	buf    []byte
	fixups []localFixup
}

func (e *encoder) emit(b ...byte) { e.buf = append(e.buf, b...) }

func (e *encoder) emit32(v uint32) {
	e.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (e *encoder) emit64(v uint64) {
	for i := 0; i < 8; i++ {
		e.emit(byte(v >> (8 * i)))
	}
}

func invalid(mnemonic, reason string) error {
	return &diag.InvalidInstruction{Mnemonic: mnemonic, Architecture: "x86/x86-64", Reason: reason}
}

func (e *encoder) encode(insn Instruction) error {
	switch insn.Mnemonic {
	case Mov:
		return e.encodeMov(insn)
	case Push:
		return e.encodePush(insn)
	case Pop:
		return e.encodePop(insn)
	case Add:
		return e.encodeArith(insn, 0x00, 0x05, 0)
	case Sub:
		return e.encodeArith(insn, 0x28, 0x2D, 5)
	case AndI:
		return e.encodeArith(insn, 0x20, 0x25, 4)
	case OrI:
		return e.encodeArith(insn, 0x08, 0x0D, 1)
	case XorI:
		return e.encodeArith(insn, 0x30, 0x35, 6)
	case Cmp:
		return e.encodeArith(insn, 0x38, 0x3D, 7)
	case Lea:
		return e.encodeLea(insn)
	case Call:
		return e.encodeCall(insn)
	case Jmp:
		return e.encodeJmp(insn)
	case Jcc:
		return e.encodeJcc(insn)
	case Ret:
		e.emit(0xC3)
		return nil
	case Nop:
		e.emit(0x90)
		return nil
	case Syscall:
		e.emit(0x0F, 0x05)
		return nil
	default:
		return invalid("?", "unknown mnemonic")
	}
}

// rexPrefix constructs the REX byte: W selects 64-bit operand size; R/X/B
// extend the ModR/M reg, SIB index, and ModR/M rm / SIB base / opcode-reg
// fields respectively to reach registers R8-R15. Returns 0 (omit) when none
// of the bits are set and W is false, since REX is an optional prefix.
func rexPrefix(w, r, x, b bool) byte {
	if !w && !r && !x && !b {
		return 0
	}
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm uint8) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

func sib(scale, index, base uint8) byte {
	return (scale << 6) | ((index & 7) << 3) | (base & 7)
}

func scaleBits(scale int) (uint8, error) {
	switch scale {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	default:
		return 0, invalid("lea/mov", "memory operand scale must be 1, 2, 4, or 8")
	}
}

// encodeModRM appends the ModR/M byte (and SIB/displacement if needed) for
// an instruction whose reg field is regField and whose rm operand is m. It
// returns the REX.X/B bits the caller must fold into the instruction's
// REX byte, and records a RipRelative32 fixup if m.SymDisp is set.
func (e *encoder) encodeModRM(regField uint8, m Operand) (needX, needB bool, err error) {
	if m.Kind == KindRegister {
		e.emit(modrm(3, regField, m.Reg.Low3()))
		return false, m.Reg.Ext(), nil
	}
	if m.Kind != KindMemory {
		return false, false, invalid("modrm", "rm operand must be register or memory")
	}
	if m.RIPRelative {
		e.emit(modrm(0, regField, 5))
		fixupAt := len(e.buf)
		e.emit32(0)
		if m.SymDisp != "" {
			e.fixups = append(e.fixups, localFixup{Kind: RipRelative32, Symbol: m.SymDisp, OffsetInCode: fixupAt})
		} else {
			put32(e.buf[fixupAt:fixupAt+4], uint32(m.Disp))
		}
		return false, false, nil
	}
	if m.Base == nil {
		// Absolute disp32 addressing (valid encoding in 32-bit mode; on
		// x86-64 this form also means RIP-relative, handled above).
		e.emit(modrm(0, regField, 5))
		e.emit32(uint32(m.Disp))
		return false, false, nil
	}
	base := *m.Base
	needsSIB := m.Index != nil || base.Low3() == 4
	rmField := base.Low3()
	if needsSIB {
		rmField = 4
	}
	mod := uint8(0)
	switch {
	case base.Low3() == 5 && m.Disp == 0:
		mod = 1 // rbp/r13 base with no displacement must still encode disp8=0
	case fitsI8(m.Disp):
		mod = 1
	default:
		mod = 2
	}
	e.emit(modrm(mod, regField, rmField))
	if needsSIB {
		sc, serr := scaleBits(m.Scale)
		if serr != nil {
			return false, false, serr
		}
		idx := uint8(4) // no index
		needX = false
		if m.Index != nil {
			idx = m.Index.Low3()
			needX = m.Index.Ext()
		}
		e.emit(sib(sc, idx, base.Low3()))
	}
	switch mod {
	case 1:
		e.emit(byte(int8(m.Disp)))
	case 2:
		e.emit32(uint32(m.Disp))
	}
	return needX, base.Ext(), nil
}

func fitsI8(v int32) bool  { return v >= -128 && v <= 127 }
func fitsI32(v int64) bool { return v >= -2147483648 && v <= 2147483647 }
