package elf

import (
	"bytes"
	"encoding/binary"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/x86asm"
)

type segment struct {
	typ    uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

func alignUp(v, to uint64) uint64 {
	if to == 0 {
		return v
	}
	r := v % to
	if r == 0 {
		return v
	}
	return v + (to - r)
}

// Write lays out and emits a complete ELF64 executable for prog.
func Write(prog *Program) ([]byte, error) {
	numSegs := uint64(1) // main LOAD
	if len(prog.Data) > 0 {
		numSegs++
	}
	if prog.Interp != "" {
		numSegs += 2 // PT_INTERP + PT_DYNAMIC
	}

	codeOff := uint64(PageSize)
	codeVAddr := uint64(BaseAddr) + codeOff

	code := make([]byte, len(prog.Code))
	copy(code, prog.Code)
	resolve := func(sym string) (uint64, bool) {
		if off, ok := prog.CodeLabels[sym]; ok {
			return codeVAddr + uint64(off), true
		}
		return 0, false
	}
	arena := &x86asm.Arena{}
	for _, f := range prog.Fixups {
		arena.Record(x86asm.Fixup{OffsetInCode: f.OffsetInCode, Kind: x86asm.FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen})
	}
	if err := arena.Apply(code, codeVAddr, uint64(BaseAddr), resolve); err != nil {
		return nil, err
	}
	if arena.Pending() {
		return nil, &diag.InvalidData{Message: "unresolved fixups remain after patching"}
	}

	entry := codeVAddr
	if prog.EntryLabel != "" {
		if off, ok := prog.CodeLabels[prog.EntryLabel]; ok {
			entry = codeVAddr + uint64(off)
		}
	}

	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.LittleEndian)
	if err := writeHeader(w, prog, entry, numSegs); err != nil {
		return nil, err
	}

	mainSeg := segment{typ: PTLoad, flags: PFRead | PFExec, offset: 0, vaddr: uint64(BaseAddr),
		filesz: codeOff + uint64(len(code)), memsz: codeOff + uint64(len(code)), align: PageSize}
	segs := []segment{mainSeg}

	var dataOff uint64
	if len(prog.Data) > 0 {
		dataOff = alignUp(codeOff+uint64(len(code)), PageSize)
		segs = append(segs, segment{typ: PTLoad, flags: PFRead | PFWrite, offset: dataOff,
			vaddr: uint64(BaseAddr) + dataOff, filesz: uint64(len(prog.Data)), memsz: uint64(len(prog.Data)), align: PageSize})
	}

	var interpBytes []byte
	var interpOff, dynOff uint64
	if prog.Interp != "" {
		interpOff = uint64(HeaderSize) + numSegs*ProgramHeaderSize
		interpBytes = append([]byte(prog.Interp), 0)
		dynOff = alignUp(interpOff+uint64(len(interpBytes)), 8)
		if dynOff+16 > PageSize {
			return nil, &diag.InvalidData{Message: "elf header page overflowed by interp/dynamic metadata"}
		}
		segs = append(segs,
			segment{typ: PTInterp, flags: PFRead, offset: interpOff, vaddr: uint64(BaseAddr) + interpOff,
				filesz: uint64(len(interpBytes)), memsz: uint64(len(interpBytes)), align: 1},
			segment{typ: PTDynamic, flags: PFRead | PFWrite, offset: dynOff, vaddr: uint64(BaseAddr) + dynOff,
				filesz: 16, memsz: 16, align: 8},
		)
	}

	for _, s := range segs {
		if err := writeProgramHeader(w, s); err != nil {
			return nil, err
		}
	}
	if prog.Interp != "" {
		if err := w.Bytes(interpBytes); err != nil {
			return nil, err
		}
		if err := w.PadToOffset(int64(dynOff)); err != nil {
			return nil, err
		}
		// Minimal dynamic section: a single DT_NULL terminator. A real
		// dynamic linker needs DT_NEEDED/DT_SYMTAB/DT_STRTAB/PLT relocations
		// beyond what this toolkit's format layer specifies; this segment
		// exists so readers see a well-formed, if inert, PT_DYNAMIC.
		if err := w.Bytes(make([]byte, 16)); err != nil {
			return nil, err
		}
	}
	if err := w.PadToOffset(PageSize); err != nil {
		return nil, err
	}
	if err := w.Bytes(code); err != nil {
		return nil, err
	}
	if len(prog.Data) > 0 {
		if err := w.PadToOffset(int64(dataOff)); err != nil {
			return nil, err
		}
		if err := w.Bytes(prog.Data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeHeader(w *bio.Writer, prog *Program, entry uint64, numSegs uint64) error {
	if err := w.Bytes([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 3, 0}); err != nil {
		return err
	}
	if err := w.Bytes(make([]byte, 7)); err != nil { // EI_PAD (ABI version is the 0 above)
		return err
	}
	if err := w.U16(TypeExec); err != nil {
		return err
	}
	if err := w.U16(prog.Machine); err != nil {
		return err
	}
	if err := w.U32(1); err != nil { // e_version
		return err
	}
	if err := w.U64(entry); err != nil {
		return err
	}
	if err := w.U64(HeaderSize); err != nil { // e_phoff
		return err
	}
	if err := w.U64(0); err != nil { // e_shoff, no section headers
		return err
	}
	if err := w.U32(0); err != nil { // e_flags
		return err
	}
	if err := w.U16(HeaderSize); err != nil {
		return err
	}
	if err := w.U16(ProgramHeaderSize); err != nil {
		return err
	}
	if err := w.U16(uint16(numSegs)); err != nil {
		return err
	}
	if err := w.U16(0); err != nil { // e_shentsize
		return err
	}
	if err := w.U16(0); err != nil { // e_shnum
		return err
	}
	return w.U16(0) // e_shstrndx
}

func writeProgramHeader(w *bio.Writer, s segment) error {
	if err := w.U32(s.typ); err != nil {
		return err
	}
	if err := w.U32(s.flags); err != nil {
		return err
	}
	if err := w.U64(s.offset); err != nil {
		return err
	}
	if err := w.U64(s.vaddr); err != nil {
		return err
	}
	if err := w.U64(s.vaddr); err != nil { // p_paddr, unused on Linux
		return err
	}
	if err := w.U64(s.filesz); err != nil {
		return err
	}
	if err := w.U64(s.memsz); err != nil {
		return err
	}
	return w.U64(s.align)
}
