package coff

import (
	"bytes"
	"encoding/binary"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// stringTable accumulates symbol names longer than 8 bytes, in first-seen
// order, matching the intern convention formats/clr's heaps use for their
// constant pools. The table is emitted with a leading 4-byte total size
// (itself included), per the COFF spec.
type stringTable struct {
	bytes []byte
	index map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{bytes: make([]byte, 4), index: map[string]uint32{}}
}

// offset interns name and returns its byte offset into the table, relative
// to the table's own start (so 0 is never a valid returned offset: the
// first 4 bytes are the size prefix).
func (t *stringTable) offset(name string) uint32 {
	if off, ok := t.index[name]; ok {
		return off
	}
	off := uint32(len(t.bytes))
	t.bytes = append(t.bytes, name...)
	t.bytes = append(t.bytes, 0x00)
	t.index[name] = off
	return off
}

func (t *stringTable) finish() []byte {
	binary.LittleEndian.PutUint32(t.bytes, uint32(len(t.bytes)))
	return t.bytes
}

// Write assembles obj into a COFF object file: file header, section header
// table, each section's raw data and relocations, the symbol table, and
// finally the string table. Object files carry no optional header and no
// image-layout phase — every pointer here is a flat file offset, computed
// in one pass rather than formats/pe's five-phase RVA/file-offset split.
func Write(obj *Object) ([]byte, error) {
	if len(obj.Sections) > 0xFFFF {
		return nil, &diag.InvalidData{Message: "too many sections for a 16-bit section count"}
	}

	strs := newStringTable()

	// encodeName packs a symbol name into its 8-byte field: inline ASCII if
	// it fits, else four zero bytes followed by a string-table offset.
	encodeName := func(name string) [8]byte {
		var inline [8]byte
		if len(name) <= 8 {
			copy(inline[:], name)
			return inline
		}
		off := strs.offset(name)
		binary.LittleEndian.PutUint32(inline[4:], off)
		return inline
	}

	headerSize := uint32(HeaderSize)
	secHeadersSize := uint32(len(obj.Sections)) * SectionHeaderSize
	offset := headerSize + secHeadersSize

	secHeaders := make([]SectionHeader, len(obj.Sections))
	for i, s := range obj.Sections {
		sh := SectionHeader{
			Name:            s.Name,
			SizeOfRawData:   uint32(len(s.Payload)),
			Characteristics: s.Characteristics,
		}
		if len(s.Payload) > 0 {
			sh.PointerToRawData = offset
			offset += uint32(len(s.Payload))
		}
		if len(s.Relocations) > 0xFFFF {
			return nil, &diag.InvalidData{Message: "too many relocations for a 16-bit count"}
		}
		if len(s.Relocations) > 0 {
			sh.PointerToRelocations = offset
			sh.NumberOfRelocations = uint16(len(s.Relocations))
			offset += uint32(len(s.Relocations)) * RelocationSize
		}
		secHeaders[i] = sh
	}

	symbolTableOff := offset
	offset += uint32(len(obj.Symbols)) * SymbolSize

	hdr := Header{
		Machine:              obj.Machine,
		NumberOfSections:     uint16(len(obj.Sections)),
		PointerToSymbolTable: symbolTableOff,
		NumberOfSymbols:      uint32(len(obj.Symbols)),
	}

	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.LittleEndian)
	if err := writeHeader(w, hdr); err != nil {
		return nil, err
	}
	for _, sh := range secHeaders {
		if err := writeSectionHeader(w, sh); err != nil {
			return nil, err
		}
	}
	for _, s := range obj.Sections {
		if len(s.Payload) > 0 {
			if err := w.Bytes(s.Payload); err != nil {
				return nil, err
			}
		}
		for _, r := range s.Relocations {
			if err := w.U32(r.VirtualAddress); err != nil {
				return nil, err
			}
			if err := w.U32(r.SymbolTableIndex); err != nil {
				return nil, err
			}
			if err := w.U16(r.Type); err != nil {
				return nil, err
			}
		}
	}
	for _, sym := range obj.Symbols {
		name := encodeName(sym.Name)
		if err := w.Bytes(name[:]); err != nil {
			return nil, err
		}
		if err := w.U32(sym.Value); err != nil {
			return nil, err
		}
		if err := w.I16(sym.SectionNumber); err != nil {
			return nil, err
		}
		if err := w.U16(sym.Type); err != nil {
			return nil, err
		}
		if err := w.U8(sym.StorageClass); err != nil {
			return nil, err
		}
		if err := w.U8(sym.NumberOfAuxSymbols); err != nil {
			return nil, err
		}
	}
	if err := w.Bytes(strs.finish()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeHeader(w *bio.Writer, h Header) error {
	if err := w.U16(h.Machine); err != nil {
		return err
	}
	if err := w.U16(h.NumberOfSections); err != nil {
		return err
	}
	if err := w.U32(h.TimeDateStamp); err != nil {
		return err
	}
	if err := w.U32(h.PointerToSymbolTable); err != nil {
		return err
	}
	if err := w.U32(h.NumberOfSymbols); err != nil {
		return err
	}
	if err := w.U16(h.SizeOfOptionalHeader); err != nil {
		return err
	}
	return w.U16(h.Characteristics)
}

func writeSectionHeader(w *bio.Writer, sh SectionHeader) error {
	var name [8]byte
	copy(name[:], sh.Name)
	if err := w.Bytes(name[:]); err != nil {
		return err
	}
	if err := w.U32(sh.VirtualSize); err != nil {
		return err
	}
	if err := w.U32(sh.VirtualAddress); err != nil {
		return err
	}
	if err := w.U32(sh.SizeOfRawData); err != nil {
		return err
	}
	if err := w.U32(sh.PointerToRawData); err != nil {
		return err
	}
	if err := w.U32(sh.PointerToRelocations); err != nil {
		return err
	}
	if err := w.U32(sh.PointerToLineNumbers); err != nil {
		return err
	}
	if err := w.U16(sh.NumberOfRelocations); err != nil {
		return err
	}
	if err := w.U16(sh.NumberOfLineNumbers); err != nil {
		return err
	}
	return w.U32(sh.Characteristics)
}
