package x86asm

// CALL: direct relative (`E8 rel32`, patched once the callee's address is
// known) and indirect through memory (`FF /2`, the canonical form for
// calling into the IAT via `call [rip+disp32]` on x86-64).
func (e *encoder) encodeCall(insn Instruction) error {
	switch insn.Dst.Kind {
	case KindLabel:
		e.emit(0xE8)
		at := len(e.buf)
		e.emit32(0)
		e.fixups = append(e.fixups, localFixup{Kind: RelativeCall32, Symbol: insn.Dst.Label, OffsetInCode: at})
		return nil
	case KindMemory:
		needX, needB := memNeedsRex(insn.Dst)
		if r := rexPrefix(false, false, needX, needB); r != 0 {
			e.emit(r)
		}
		e.emit(0xFF)
		if _, _, err := e.encodeModRM(2, insn.Dst); err != nil {
			return err
		}
		return nil
	default:
		return invalid("call", "operand must be a label or memory")
	}
}

// JMP: near unconditional relative jump, `E9 rel32`.
func (e *encoder) encodeJmp(insn Instruction) error {
	if insn.Dst.Kind != KindLabel {
		return invalid("jmp", "operand must be a label")
	}
	e.emit(0xE9)
	at := len(e.buf)
	e.emit32(0)
	e.fixups = append(e.fixups, localFixup{Kind: RelativeCall32, Symbol: insn.Dst.Label, OffsetInCode: at})
	return nil
}

// JCC: near conditional relative jump, `0F 80+cc rel32`.
func (e *encoder) encodeJcc(insn Instruction) error {
	if insn.Dst.Kind != KindLabel {
		return invalid("jcc", "operand must be a label")
	}
	cc, ok := ccByte[insn.Cond]
	if !ok {
		return invalid("jcc", "unknown condition code")
	}
	e.emit(0x0F, 0x80+cc)
	at := len(e.buf)
	e.emit32(0)
	e.fixups = append(e.fixups, localFixup{Kind: RelativeCall32, Symbol: insn.Dst.Label, OffsetInCode: at})
	return nil
}
