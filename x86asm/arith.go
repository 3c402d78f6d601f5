package x86asm

// Arithmetic/logical group instructions (Add, Sub, AndI, OrI, XorI, Cmp)
// share one encoding shape: register destination with an immediate uses
// the `83 /ext ib` sign-extended form when the value fits in 8 bits,
// otherwise `81 /ext id`; register/register uses the `op+1 /r` form with
// the source in the reg field and the destination as rm.
func (e *encoder) encodeArith(insn Instruction, opcodeBase, _ byte, ext byte) error {
	dst, src := insn.Dst, insn.Src

	if dst.Kind != KindRegister {
		return invalid("arith", "destination must be a register")
	}
	w := dst.Reg.Bits == 64

	if src.Kind == KindImmediate {
		if w {
			if dst.Reg.Ext() {
				e.emit(rexPrefix(true, false, false, true))
			} else {
				e.emit(rexPrefix(true, false, false, false))
			}
		} else if dst.Reg.Ext() {
			e.emit(rexPrefix(false, false, false, true))
		}
		if fitsI8(int32(src.ImmValue)) {
			e.emit(0x83)
			e.emit(modrm(3, ext, dst.Reg.Low3()))
			e.emit(byte(int8(src.ImmValue)))
			return nil
		}
		if !fitsI32(src.ImmValue) {
			return invalid("arith", "immediate does not fit in 32 bits")
		}
		e.emit(0x81)
		e.emit(modrm(3, ext, dst.Reg.Low3()))
		e.emit32(uint32(src.ImmValue))
		return nil
	}

	if src.Kind == KindRegister {
		if src.Reg.Bits != dst.Reg.Bits {
			return invalid("arith", "operand widths are inconsistent")
		}
		if r := rexPrefix(w, src.Reg.Ext(), false, dst.Reg.Ext()); r != 0 {
			e.emit(r)
		}
		e.emit(opcodeBase + 1)
		e.emit(modrm(3, src.Reg.Low3(), dst.Reg.Low3()))
		return nil
	}

	return invalid("arith", "source must be register or immediate")
}
