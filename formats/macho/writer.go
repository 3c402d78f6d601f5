package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/xyproto/multiforge/internal/bio"
)

const pageAlign = 0x1000

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

// Write lays out and emits a complete Mach-O 64-bit executable for prog.
func Write(prog *Program) ([]byte, error) {
	numCmds := uint32(2) // __TEXT segment, LC_SYMTAB
	if len(prog.Data) > 0 {
		numCmds++
	}
	numCmds += uint32(len(prog.Dylibs))
	numCmds++ // LC_MAIN

	cmdsSize := uint32(SegmentCommandSize64 + SectionSize64) // __TEXT with one section
	if len(prog.Data) > 0 {
		cmdsSize += SegmentCommandSize64 + SectionSize64
	}
	cmdsSize += SymtabCommandSize
	for _, d := range prog.Dylibs {
		cmdsSize += dylibCmdSize(d.Name)
	}
	cmdsSize += EntryPointCommandSize

	headersEnd := uint64(HeaderSize64) + uint64(cmdsSize)
	textFileSize := headersEnd + uint64(len(prog.Code))
	textVMSize := alignUp(textFileSize, pageAlign)

	var dataFileOff, dataVMAddr uint64
	if len(prog.Data) > 0 {
		dataFileOff = alignUp(textFileSize, pageAlign)
		dataVMAddr = TextVMAddr + dataFileOff
	}

	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.LittleEndian)

	if err := writeHeader(w, prog, numCmds, cmdsSize); err != nil {
		return nil, err
	}
	if err := writeSegment64(w, Segment{
		Name: "__TEXT", VMAddr: TextVMAddr, VMSize: textVMSize, FileOff: 0, FileSize: textFileSize,
		MaxProt: VMProtRead | VMProtExecute, InitProt: VMProtRead | VMProtExecute,
		Sections: []Section{{Name: "__text", Addr: TextVMAddr + headersEnd, Size: uint64(len(prog.Code)), Offset: uint32(headersEnd), Align: 4}},
	}); err != nil {
		return nil, err
	}
	if len(prog.Data) > 0 {
		if err := writeSegment64(w, Segment{
			Name: "__DATA", VMAddr: dataVMAddr, VMSize: alignUp(uint64(len(prog.Data)), pageAlign), FileOff: dataFileOff, FileSize: uint64(len(prog.Data)),
			MaxProt: VMProtRead | VMProtWrite, InitProt: VMProtRead | VMProtWrite,
			Sections: []Section{{Name: "__data", Addr: dataVMAddr, Size: uint64(len(prog.Data)), Offset: uint32(dataFileOff), Align: 3}},
		}); err != nil {
			return nil, err
		}
	}
	if err := writeSymtab(w); err != nil {
		return nil, err
	}
	for _, d := range prog.Dylibs {
		if err := writeDylib(w, d); err != nil {
			return nil, err
		}
	}
	if err := writeEntryPoint(w, prog.EntryOff); err != nil {
		return nil, err
	}

	if err := w.Bytes(prog.Code); err != nil {
		return nil, err
	}
	if len(prog.Data) > 0 {
		if err := w.PadToOffset(int64(dataFileOff)); err != nil {
			return nil, err
		}
		if err := w.Bytes(prog.Data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func dylibCmdSize(name string) uint32 {
	total := DylibCommandBaseSize + len(name) + 1
	return uint32(alignUp(uint64(total), 8))
}

func writeHeader(w *bio.Writer, prog *Program, numCmds, cmdsSize uint32) error {
	if err := w.U32(Magic64); err != nil {
		return err
	}
	if err := w.U32(prog.CPUType); err != nil {
		return err
	}
	if err := w.U32(prog.CPUSubtype); err != nil {
		return err
	}
	if err := w.U32(FileTypeExecute); err != nil {
		return err
	}
	if err := w.U32(numCmds); err != nil {
		return err
	}
	if err := w.U32(cmdsSize); err != nil {
		return err
	}
	if err := w.U32(FlagNoUndefs | FlagDyldLink | FlagTwoLevel | FlagPIE); err != nil {
		return err
	}
	return w.U32(0) // reserved
}

func writeName16(w *bio.Writer, name string) error {
	b := make([]byte, 16)
	copy(b, name)
	return w.Bytes(b)
}

func writeSegment64(w *bio.Writer, s Segment) error {
	if err := w.U32(LCSegment64); err != nil {
		return err
	}
	size := uint32(SegmentCommandSize64 + len(s.Sections)*SectionSize64)
	if err := w.U32(size); err != nil {
		return err
	}
	if err := writeName16(w, s.Name); err != nil {
		return err
	}
	if err := w.U64(s.VMAddr); err != nil {
		return err
	}
	if err := w.U64(s.VMSize); err != nil {
		return err
	}
	if err := w.U64(s.FileOff); err != nil {
		return err
	}
	if err := w.U64(s.FileSize); err != nil {
		return err
	}
	if err := w.U32(s.MaxProt); err != nil {
		return err
	}
	if err := w.U32(s.InitProt); err != nil {
		return err
	}
	if err := w.U32(uint32(len(s.Sections))); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // flags
		return err
	}
	for _, sec := range s.Sections {
		if err := writeName16(w, sec.Name); err != nil {
			return err
		}
		if err := writeName16(w, s.Name); err != nil {
			return err
		}
		if err := w.U64(sec.Addr); err != nil {
			return err
		}
		if err := w.U64(sec.Size); err != nil {
			return err
		}
		if err := w.U32(sec.Offset); err != nil {
			return err
		}
		if err := w.U32(sec.Align); err != nil {
			return err
		}
		if err := w.U32(0); err != nil { // reloff
			return err
		}
		if err := w.U32(0); err != nil { // nreloc
			return err
		}
		if err := w.U32(sec.Flags); err != nil {
			return err
		}
		if err := w.U32(0); err != nil { // reserved1
			return err
		}
		if err := w.U32(0); err != nil { // reserved2
			return err
		}
		if err := w.U32(0); err != nil { // reserved3
			return err
		}
	}
	return nil
}

func writeSymtab(w *bio.Writer) error {
	if err := w.U32(LCSymtab); err != nil {
		return err
	}
	if err := w.U32(SymtabCommandSize); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // symoff
		return err
	}
	if err := w.U32(0); err != nil { // nsyms
		return err
	}
	if err := w.U32(0); err != nil { // stroff
		return err
	}
	return w.U32(0) // strsize
}

func writeDylib(w *bio.Writer, d DylibImport) error {
	size := dylibCmdSize(d.Name)
	if err := w.U32(LCLoadDylib); err != nil {
		return err
	}
	if err := w.U32(size); err != nil {
		return err
	}
	if err := w.U32(24); err != nil { // offset of name string within this command
		return err
	}
	if err := w.U32(d.Timestamp); err != nil {
		return err
	}
	if err := w.U32(d.CurrentVer); err != nil {
		return err
	}
	if err := w.U32(d.CompatVer); err != nil {
		return err
	}
	nameBytes := make([]byte, size-24)
	copy(nameBytes, d.Name)
	return w.Bytes(nameBytes)
}

func writeEntryPoint(w *bio.Writer, entryOff uint64) error {
	if err := w.U32(LCMain); err != nil {
		return err
	}
	if err := w.U32(EntryPointCommandSize); err != nil {
		return err
	}
	if err := w.U64(entryOff); err != nil {
		return err
	}
	return w.U64(0) // stack size, 0 means default
}
