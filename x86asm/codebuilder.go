package x86asm

// CodeBuilder assembles a sequence of Instructions into one contiguous code
// buffer, translating each instruction's local fixups into absolute offsets
// and recording label offsets as it goes. Fixups stay in Arena until a
// backend resolves and applies them.
type CodeBuilder struct {
	Mode   Mode
	Code   []byte
	Arena  Arena
	labels map[string]int // label name -> offset in Code
}

func NewCodeBuilder(mode Mode) *CodeBuilder {
	return &CodeBuilder{Mode: mode, labels: map[string]int{}}
}

// Label records the current offset as the target for name. Backends resolve
// Call/Jmp/Jcc fixups against these local labels first, falling back to
// external symbols (import slots, data offsets) at image-layout time.
func (b *CodeBuilder) Label(name string) {
	b.labels[name] = len(b.Code)
}

// LocalLabelRVA resolves a label recorded via Label to an RVA given the
// code section's base RVA, for use inside a Resolver.
func (b *CodeBuilder) LocalLabelRVA(name string, codeRVA uint64) (uint64, bool) {
	off, ok := b.labels[name]
	if !ok {
		return 0, false
	}
	return codeRVA + uint64(off), true
}

// LabelOffset returns the byte offset of name within Code, for callers that
// build their own label-name-to-offset table (format writers' CodeLabels)
// instead of resolving through LocalLabelRVA directly.
func (b *CodeBuilder) LabelOffset(name string) (int, bool) {
	off, ok := b.labels[name]
	return off, ok
}

// Labels returns a copy of the recorded label->offset table.
func (b *CodeBuilder) Labels() map[string]int {
	out := make(map[string]int, len(b.labels))
	for k, v := range b.labels {
		out[k] = v
	}
	return out
}

// Emit encodes insn and appends it, recording any fixups at their absolute
// offset within Code.
func (b *CodeBuilder) Emit(insn Instruction) error {
	code, fixups, err := Encode(insn, b.Mode)
	if err != nil {
		return err
	}
	base := len(b.Code)
	b.Code = append(b.Code, code...)
	for _, f := range fixups {
		f.OffsetInCode += base
		if f.InsnLen == 0 {
			f.InsnLen = len(code)
		}
		b.Arena.Record(f)
	}
	return nil
}

// Len returns the current length of the assembled code buffer.
func (b *CodeBuilder) Len() int { return len(b.Code) }
