package x86asm

// LEA computes an effective address without dereferencing it. The common
// position-independent form is `lea reg, [rip+disp32]`, used to compute
// the address of a string literal or data-section symbol.
func (e *encoder) encodeLea(insn Instruction) error {
	if insn.Dst.Kind != KindRegister || insn.Src.Kind != KindMemory {
		return invalid("lea", "expected register destination and memory source")
	}
	dst := insn.Dst.Reg
	needX, needB := memNeedsRex(insn.Src)
	if r := rexPrefix(dst.Bits == 64, dst.Ext(), needX, needB); r != 0 {
		e.emit(r)
	}
	e.emit(0x8D)
	if _, _, err := e.encodeModRM(dst.Low3(), insn.Src); err != nil {
		return err
	}
	return nil
}
