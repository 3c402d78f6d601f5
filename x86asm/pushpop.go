package x86asm

// PUSH/POP: compact `50+r`/`58+r` register forms, plus PUSH's immediate
// forms (`6A ib` for imm8, `68 id` for imm32).
func (e *encoder) encodePush(insn Instruction) error {
	switch insn.Dst.Kind {
	case KindRegister:
		r := insn.Dst.Reg
		if r.Ext() {
			e.emit(rexPrefix(false, false, false, true))
		}
		e.emit(0x50 + r.Low3())
		return nil
	case KindImmediate:
		useImm8 := insn.Dst.ImmBits == 8
		if insn.Dst.ImmBits == 0 && fitsI8Imm(insn.Dst.ImmValue) {
			useImm8 = true
		}
		if useImm8 {
			e.emit(0x6A)
			e.emit(byte(int8(insn.Dst.ImmValue)))
			return nil
		}
		e.emit(0x68)
		e.emit32(uint32(insn.Dst.ImmValue))
		return nil
	default:
		return invalid("push", "operand must be register or immediate")
	}
}

func (e *encoder) encodePop(insn Instruction) error {
	if insn.Dst.Kind != KindRegister {
		return invalid("pop", "operand must be register")
	}
	r := insn.Dst.Reg
	if r.Ext() {
		e.emit(rexPrefix(false, false, false, true))
	}
	e.emit(0x58 + r.Low3())
	return nil
}

func fitsI8Imm(v int64) bool { return v >= -128 && v <= 127 }
