package pe

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/x86asm"
)

func align(v, to uint32) uint32 {
	if to == 0 {
		return v
	}
	r := v % to
	if r == 0 {
		return v
	}
	return v + (to - r)
}

// layoutSection is a section after phases 1-2 have assigned its RVA and file
// offset.
type layoutSection struct {
	Section
	rva      uint32
	virtSize uint32
	fileOff  uint32
	rawSize  uint32
}

// idataLayout is the result of phase 3: a fully-formed .idata payload with
// every internal pointer already relative to the payload's own start, plus
// the per-import-function offset of its IAT slot for the fixup resolver.
type idataLayout struct {
	payload     []byte
	firstIATOff uint32
	firstIATSz  uint32
	iatSlotOff  map[string]uint32 // "iat:<dll>:<func>" -> offset within payload
}

// Write runs the five-phase PE emission pipeline over prog and returns the
// completed image bytes.
func Write(prog *Program) ([]byte, error) {
	ptrSize := uint32(4)
	if prog.Is64 {
		ptrSize = 8
	}

	// --- Phase 1: sizing ---
	var sections []layoutSection
	sections = append(sections, layoutSection{Section: Section{Name: ".text", Characteristics: TextCharacteristics, Payload: prog.Code}})
	if len(prog.Data) > 0 {
		sections = append(sections, layoutSection{Section: Section{Name: ".data", Characteristics: DataCharacteristics, Payload: prog.Data}})
	}

	var idata *idataLayout
	if len(prog.Imports) > 0 {
		idata = synthesizeImports(prog.Imports, ptrSize)
		sections = append(sections, layoutSection{Section: Section{Name: ".idata", Characteristics: IdataCharacteristics, Payload: idata.payload}})
	}

	var cliHeaderLen int
	if prog.CLR != nil {
		cliHeaderLen = len(prog.CLR.Header)
		payload := make([]byte, 0, cliHeaderLen+len(prog.CLR.Metadata)+len(prog.CLR.MethodBodies))
		payload = append(payload, prog.CLR.Header...)
		payload = append(payload, prog.CLR.Metadata...)
		payload = append(payload, prog.CLR.MethodBodies...)
		sections = append(sections, layoutSection{Section: Section{Name: ".cli", Characteristics: DataCharacteristics, Payload: payload}})
	}

	sectionAlign := SectionAlignDefault
	fileAlign := FileAlignDefault
	headerSize := align(uint32(dosHeaderSize+dosStubPad+4+coffHeaderSize)+uint32(optionalHeaderSize(prog.Is64))+uint32(len(sections))*sectionHeaderSize, fileAlign)

	// --- Phase 2: RVA and file-offset assignment ---
	rva := sectionAlign
	fileOff := headerSize
	for i := range sections {
		sections[i].virtSize = align(uint32(len(sections[i].Payload)), sectionAlign)
		sections[i].rawSize = align(uint32(len(sections[i].Payload)), fileAlign)
		sections[i].rva = rva
		sections[i].fileOff = fileOff
		rva += sections[i].virtSize
		fileOff += sections[i].rawSize
	}

	var textRVA, idataRVA, cliRVA, dataRVA uint32
	for _, s := range sections {
		switch s.Name {
		case ".text":
			textRVA = s.rva
		case ".idata":
			idataRVA = s.rva
		case ".cli":
			cliRVA = s.rva
		case ".data":
			dataRVA = s.rva
		}
	}

	var importDirRVA, importDirSize, iatRVA, iatSize uint32
	iatSlotRVA := map[string]uint32{}
	if idata != nil {
		importDirRVA = idataRVA
		importDirSize = uint32(len(prog.Imports)+1) * 20
		iatRVA = idataRVA + idata.firstIATOff
		iatSize = idata.firstIATSz
		for sym, off := range idata.iatSlotOff {
			iatSlotRVA[sym] = idataRVA + off
		}
		// Rebase the payload-relative pointers (IDT fields, by-name thunks)
		// onto the section's RVA; the .idata section shares this payload.
		for i, d := range prog.Imports {
			base := uint32(i) * 20
			intOff, iatOff := binary.LittleEndian.Uint32(idata.payload[base:]), binary.LittleEndian.Uint32(idata.payload[base+16:])
			at := []uint32{base, base + 12, base + 16}
			for j, f := range d.Functions {
				if f.Name != "" { // ordinal thunks hold no pointer
					at = append(at, intOff+uint32(j)*ptrSize, iatOff+uint32(j)*ptrSize)
				}
			}
			for _, a := range at {
				putU32(idata.payload, a, binary.LittleEndian.Uint32(idata.payload[a:])+idataRVA)
			}
		}
	}

	var clrDirRVA, clrDirSize uint32
	if prog.CLR != nil {
		clrDirRVA = cliRVA
		clrDirSize = uint32(cliHeaderLen)
		for i := range sections {
			if sections[i].Name != ".cli" {
				continue
			}
			// Patch the CLI header's MetaData.RVA field (offset 8) in place,
			// now that the section's own RVA is known.
			buf := make([]byte, len(sections[i].Payload))
			copy(buf, sections[i].Payload)
			putU32(buf, 8, cliRVA+uint32(cliHeaderLen))
			sections[i].Payload = buf
		}
	}

	// --- Phase 4: fixup patching ---
	resolve := func(sym string) (uint64, bool) {
		if addr, ok := iatSlotRVA[sym]; ok {
			return uint64(addr), true
		}
		if off, ok := prog.CodeLabels[sym]; ok {
			return uint64(textRVA) + uint64(off), true
		}
		if off, ok := strings.CutPrefix(sym, "data:"); ok {
			n, err := strconv.ParseUint(off, 10, 32)
			if err == nil {
				return uint64(dataRVA) + n, true
			}
		}
		return 0, false
	}
	arena := &x86asm.Arena{}
	for _, f := range prog.Fixups {
		arena.Record(x86asm.Fixup{OffsetInCode: f.OffsetInCode, Kind: x86asm.FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen})
	}
	code := make([]byte, len(prog.Code))
	copy(code, prog.Code)
	if err := arena.Apply(code, uint64(textRVA), prog.ImageBase, resolve); err != nil {
		return nil, err
	}
	if arena.Pending() {
		return nil, &diag.InvalidData{Message: "unresolved fixups remain after patching"}
	}
	for i := range sections {
		if sections[i].Name == ".text" {
			sections[i].Payload = code
		}
	}

	entryRVA := textRVA
	if prog.EntryLabel != "" {
		if off, ok := prog.CodeLabels[prog.EntryLabel]; ok {
			entryRVA = textRVA + uint32(off)
		}
	}
	sizeOfImage := align(rva, sectionAlign)

	// --- Phase 5: emission ---
	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.LittleEndian)

	if err := writeDOSHeader(w); err != nil {
		return nil, err
	}
	if err := writeCOFFAndOptional(w, prog, sections, headerSize, sizeOfImage, entryRVA, textRVA,
		importDirRVA, importDirSize, iatRVA, iatSize, clrDirRVA, clrDirSize); err != nil {
		return nil, err
	}
	for _, s := range sections {
		if err := writeSectionHeader(w, s); err != nil {
			return nil, err
		}
	}
	if err := w.PadToOffset(int64(headerSize)); err != nil {
		return nil, err
	}
	for _, s := range sections {
		if err := w.PadToOffset(int64(s.fileOff)); err != nil {
			return nil, err
		}
		if err := w.Bytes(s.Payload); err != nil {
			return nil, err
		}
		if err := w.PadToOffset(int64(s.fileOff + s.rawSize)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeDOSHeader(w *bio.Writer) error {
	if err := w.U16(0x5A4D); err != nil {
		return err
	}
	if err := w.Bytes(make([]byte, 58)); err != nil {
		return err
	}
	if err := w.U32(peSigOffset); err != nil {
		return err
	}
	stub := []byte("This program requires Windows.\r\n$")
	if err := w.Bytes(stub); err != nil {
		return err
	}
	return w.Bytes(make([]byte, dosStubPad-len(stub)))
}

func writeCOFFAndOptional(w *bio.Writer, prog *Program, sections []layoutSection, headerSize, sizeOfImage, entryRVA, textRVA,
	importDirRVA, importDirSize, iatRVA, iatSize, clrDirRVA, clrDirSize uint32) error {
	if err := w.U32(0x00004550); err != nil {
		return err
	}
	characteristics := CharacteristicsExecutableImage
	if prog.Is64 {
		characteristics |= CharacteristicsLargeAddressAware
	} else {
		characteristics |= Characteristics32BitMachine
	}
	if err := w.U16(prog.Machine); err != nil {
		return err
	}
	if err := w.U16(uint16(len(sections))); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // timestamp
		return err
	}
	if err := w.U32(0); err != nil { // symbol table pointer
		return err
	}
	if err := w.U32(0); err != nil { // number of symbols
		return err
	}
	if err := w.U16(optionalHeaderSize(prog.Is64)); err != nil {
		return err
	}
	if err := w.U16(characteristics); err != nil {
		return err
	}

	magic := Magic32
	if prog.Is64 {
		magic = Magic64
	}
	if err := w.U16(magic); err != nil {
		return err
	}
	if err := w.U8(1); err != nil { // major linker version
		return err
	}
	if err := w.U8(0); err != nil { // minor linker version
		return err
	}
	codeSize, dataSize := uint32(0), uint32(0)
	var dataRVA uint32
	for _, s := range sections {
		switch s.Name {
		case ".text":
			codeSize = s.rawSize
		case ".data":
			dataSize = s.rawSize
			dataRVA = s.rva
		}
	}
	if err := w.U32(codeSize); err != nil {
		return err
	}
	if err := w.U32(dataSize); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // uninitialized data size
		return err
	}
	if err := w.U32(entryRVA); err != nil {
		return err
	}
	if err := w.U32(textRVA); err != nil {
		return err
	}

	if !prog.Is64 {
		if err := w.U32(dataRVA); err != nil { // base_of_data, PE32-only field
			return err
		}
		if err := w.U32(uint32(prog.ImageBase)); err != nil {
			return err
		}
	} else {
		if err := w.U64(prog.ImageBase); err != nil {
			return err
		}
	}
	if err := w.U32(SectionAlignDefault); err != nil {
		return err
	}
	if err := w.U32(FileAlignDefault); err != nil {
		return err
	}
	if err := w.U16(6); err != nil { // major OS version
		return err
	}
	if err := w.U16(0); err != nil {
		return err
	}
	if err := w.U16(0); err != nil { // major/minor image version
		return err
	}
	if err := w.U16(0); err != nil {
		return err
	}
	if err := w.U16(6); err != nil { // major subsystem version
		return err
	}
	if err := w.U16(0); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // win32 version value
		return err
	}
	if err := w.U32(sizeOfImage); err != nil {
		return err
	}
	if err := w.U32(headerSize); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // checksum
		return err
	}
	if err := w.U16(prog.Subsystem); err != nil {
		return err
	}
	if err := w.U16(prog.DllCharacteristics); err != nil {
		return err
	}
	if prog.Is64 {
		if err := w.U64(0x100000); err != nil {
			return err
		}
		if err := w.U64(0x1000); err != nil {
			return err
		}
		if err := w.U64(0x100000); err != nil {
			return err
		}
		if err := w.U64(0x1000); err != nil {
			return err
		}
	} else {
		if err := w.U32(0x100000); err != nil {
			return err
		}
		if err := w.U32(0x1000); err != nil {
			return err
		}
		if err := w.U32(0x100000); err != nil {
			return err
		}
		if err := w.U32(0x1000); err != nil {
			return err
		}
	}
	if err := w.U32(0); err != nil { // loader flags
		return err
	}
	if err := w.U32(dataDirCount); err != nil {
		return err
	}
	dirs := make([]DataDirectory, dataDirCount)
	dirs[DirImport] = DataDirectory{VirtualAddress: importDirRVA, Size: importDirSize}
	dirs[DirIAT] = DataDirectory{VirtualAddress: iatRVA, Size: iatSize}
	dirs[DirCLRHeader] = DataDirectory{VirtualAddress: clrDirRVA, Size: clrDirSize}
	for _, d := range dirs {
		if err := w.U32(d.VirtualAddress); err != nil {
			return err
		}
		if err := w.U32(d.Size); err != nil {
			return err
		}
	}
	return nil
}

func writeSectionHeader(w *bio.Writer, s layoutSection) error {
	name := make([]byte, 8)
	copy(name, s.Name)
	if err := w.Bytes(name); err != nil {
		return err
	}
	if err := w.U32(s.virtSize); err != nil {
		return err
	}
	if err := w.U32(s.rva); err != nil {
		return err
	}
	if err := w.U32(s.rawSize); err != nil {
		return err
	}
	if err := w.U32(s.fileOff); err != nil {
		return err
	}
	if err := w.U32(0); err != nil { // relocations pointer
		return err
	}
	if err := w.U32(0); err != nil { // line numbers pointer
		return err
	}
	if err := w.U16(0); err != nil { // number of relocations
		return err
	}
	if err := w.U16(0); err != nil { // number of line numbers
		return err
	}
	return w.U32(s.Characteristics)
}

// synthesizeImports lays out the import directory table (IDT), per-DLL
// INT/IAT thunk arrays, hint/name records, and DLL name strings into one
// contiguous payload. Every pointer field is relative to the payload's own
// start; the writer rebases them to RVAs once the section's RVA is known.
func synthesizeImports(dlls []ImportedDLL, ptrSize uint32) *idataLayout {
	idtSize := uint32(len(dlls)+1) * 20

	intOff := make([]uint32, len(dlls))
	iatOff := make([]uint32, len(dlls))
	nameOff := make([]uint32, len(dlls))
	hintOff := make([][]uint32, len(dlls))

	cursor := idtSize
	for i, d := range dlls {
		intOff[i] = cursor
		cursor += (uint32(len(d.Functions)) + 1) * ptrSize
	}
	for i, d := range dlls {
		iatOff[i] = cursor
		cursor += (uint32(len(d.Functions)) + 1) * ptrSize
	}
	for i, d := range dlls {
		hintOff[i] = make([]uint32, len(d.Functions))
		for j, f := range d.Functions {
			if f.Name == "" {
				continue // ordinal import, no hint/name record
			}
			hintOff[i][j] = cursor
			recLen := 2 + len(f.Name) + 1
			if recLen%2 != 0 {
				recLen++
			}
			cursor += uint32(recLen)
		}
	}
	for i, d := range dlls {
		nameOff[i] = cursor
		cursor += uint32(len(d.Name) + 1)
	}

	payload := make([]byte, cursor)

	for i := range dlls {
		base := uint32(i) * 20
		putU32(payload, base+0, intOff[i])
		putU32(payload, base+4, 0) // timestamp
		putU32(payload, base+8, 0) // forwarder chain
		putU32(payload, base+12, nameOff[i])
		putU32(payload, base+16, iatOff[i])
	}

	iatSlotOff := map[string]uint32{}
	writeThunks := func(base uint32, d ImportedDLL, hints []uint32, record bool) {
		for j, f := range d.Functions {
			var thunk uint64
			if f.Name == "" {
				if ptrSize == 8 {
					thunk = 0x8000000000000000 | uint64(f.Ordinal)
				} else {
					thunk = 0x80000000 | uint64(f.Ordinal)
				}
			} else {
				thunk = uint64(hints[j])
			}
			off := base + uint32(j)*ptrSize
			if ptrSize == 8 {
				putU64(payload, off, thunk)
			} else {
				putU32(payload, off, uint32(thunk))
			}
			if record {
				iatSlotOff["iat:"+d.Name+":"+f.Name] = off
			}
		}
	}
	for i, d := range dlls {
		writeThunks(intOff[i], d, hintOff[i], false)
		writeThunks(iatOff[i], d, hintOff[i], true)
	}
	for i, d := range dlls {
		for j, f := range d.Functions {
			if f.Name == "" {
				continue
			}
			off := hintOff[i][j]
			payload[off] = 0
			payload[off+1] = 0
			copy(payload[off+2:], f.Name)
		}
	}
	for i, d := range dlls {
		copy(payload[nameOff[i]:], d.Name)
	}

	firstIATOff, firstIATSz := uint32(0), uint32(0)
	if len(dlls) > 0 {
		firstIATOff = iatOff[0]
		firstIATSz = (uint32(len(dlls[0].Functions)) + 1) * ptrSize
	}
	return &idataLayout{payload: payload, firstIATOff: firstIATOff, firstIATSz: firstIATSz, iatSlotOff: iatSlotOff}
}

func putU32(b []byte, off uint32, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func putU64(b []byte, off uint32, v uint64) {
	for i := uint32(0); i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}
