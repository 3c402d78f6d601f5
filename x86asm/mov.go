package x86asm

// MOV instructions: register-to-register, memory-to-register,
// register-to-memory, and immediate loads.
//
// Immediate sizing: a 64-bit destination whose immediate fits in a signed
// 32-bit value uses the compact `B8+r` 32-bit form (5 bytes, zero-extended
// by the processor into the full 64-bit register); wider values use the
// `REX.W + B8+r` 64-bit form (10 bytes).
func (e *encoder) encodeMov(insn Instruction) error {
	dst, src := insn.Dst, insn.Src

	if dst.Kind == KindRegister && src.Kind == KindImmediate {
		return e.encodeMovRegImm(dst.Reg, src)
	}
	if dst.Kind == KindMemory && src.Kind == KindImmediate {
		return e.encodeMovMemImm(dst, src)
	}
	if src.Kind == KindMemory {
		// mov reg, [mem] — 0x8B /r, reg field is destination.
		return e.encodeMovRM(dst.Reg, src, 0x8B)
	}
	if dst.Kind == KindMemory {
		// mov [mem], reg — 0x89 /r, reg field is source.
		return e.encodeMovRM(src.Reg, dst, 0x89)
	}
	if dst.Kind == KindRegister && src.Kind == KindRegister {
		// mov reg, reg — 0x89 /r with rm=dst, reg=src.
		return e.encodeMovRM(src.Reg, RegOp(dst.Reg), 0x89)
	}
	return invalid("mov", "unsupported operand combination")
}

func (e *encoder) encodeMovRegImm(dst Reg, imm Operand) error {
	if dst.Bits != 64 {
		if dst.Ext() {
			e.emit(rexPrefix(false, false, false, true))
		}
		e.emit(0xB8 + dst.Low3())
		e.emit32(uint32(imm.ImmValue))
		return nil
	}
	if fitsI32(imm.ImmValue) {
		if dst.Ext() {
			e.emit(rexPrefix(false, false, false, true))
		}
		e.emit(0xB8 + dst.Low3())
		e.emit32(uint32(imm.ImmValue))
		return nil
	}
	e.emit(rexPrefix(true, false, false, dst.Ext()))
	e.emit(0xB8 + dst.Low3())
	e.emit64(uint64(imm.ImmValue))
	return nil
}

func (e *encoder) encodeMovMemImm(dst, imm Operand) error {
	if !fitsI32(imm.ImmValue) {
		return invalid("mov", "immediate does not fit in 32 bits for memory destination")
	}
	w := e.mode == Mode64
	// Peek REX.X/B requirement by pre-scanning the memory operand.
	needX, needB := memNeedsRex(dst)
	if r := rexPrefix(w, false, needX, needB); r != 0 {
		e.emit(r)
	}
	e.emit(0xC7)
	if _, _, err := e.encodeModRM(0, dst); err != nil {
		return err
	}
	e.emit32(uint32(imm.ImmValue))
	return nil
}

// encodeMovRM encodes the shared `op /r` shape used by both directions of
// reg<->mem/reg MOV.
func (e *encoder) encodeMovRM(regField Reg, rm Operand, opcode byte) error {
	w := regField.Bits == 64 || (rm.Kind == KindRegister && rm.Reg.Bits == 64)
	needX, needB := memNeedsRex(rm)
	if r := rexPrefix(w, regField.Ext(), needX, needB); r != 0 {
		e.emit(r)
	}
	e.emit(opcode)
	if _, _, err := e.encodeModRM(regField.Low3(), rm); err != nil {
		return err
	}
	return nil
}

// memNeedsRex pre-scans an operand destined for encodeModRM to determine
// whether REX.X/B are needed, without committing any bytes.
func memNeedsRex(m Operand) (needX, needB bool) {
	if m.Kind == KindRegister {
		return false, m.Reg.Ext()
	}
	if m.Base != nil {
		needB = m.Base.Ext()
	}
	if m.Index != nil {
		needX = m.Index.Ext()
	}
	return
}
