package coff

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// Reader lazily parses a COFF object file from a random-access byte source,
// exposing the same header → section-table → program accessor chain every
// other format reader in this toolkit uses.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[Header]
	secs    bio.LazyCell[[]SectionHeader]
	program bio.LazyCell[Object]
}

// NewReader wraps src (an in-memory byte slice or a memory-mapped file) of
// the given size for lazy COFF object parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Header parses (once) and returns the 20-byte COFF file header.
func (r *Reader) Header() (Header, error) {
	return r.header.Get(func() (Header, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		machine, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		numSections, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		timestamp, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		symTablePtr, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		numSymbols, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		sizeOptHdr, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		characteristics, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		if sizeOptHdr != 0 {
			return Header{}, &diag.InvalidData{Message: "coff: a .obj file carries no optional header"}
		}
		return Header{
			Machine: machine, NumberOfSections: numSections, TimeDateStamp: timestamp,
			PointerToSymbolTable: symTablePtr, NumberOfSymbols: numSymbols,
			SizeOfOptionalHeader: sizeOptHdr, Characteristics: characteristics,
		}, nil
	})
}

// SectionHeaders parses (once) and returns the section header table.
func (r *Reader) SectionHeaders() ([]SectionHeader, error) {
	return r.secs.Get(func() ([]SectionHeader, error) {
		hdr, err := r.Header()
		if err != nil {
			return nil, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		if err := br.SeekAbs(HeaderSize); err != nil {
			return nil, err
		}
		out := make([]SectionHeader, hdr.NumberOfSections)
		for i := range out {
			nameBytes, err := br.ReadExact(8)
			if err != nil {
				return nil, err
			}
			sh := SectionHeader{Name: trimName(nameBytes)}
			if sh.VirtualSize, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.VirtualAddress, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.SizeOfRawData, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.PointerToRawData, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.PointerToRelocations, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.PointerToLineNumbers, err = br.U32(); err != nil {
				return nil, err
			}
			if sh.NumberOfRelocations, err = br.U16(); err != nil {
				return nil, err
			}
			if sh.NumberOfLineNumbers, err = br.U16(); err != nil {
				return nil, err
			}
			if sh.Characteristics, err = br.U32(); err != nil {
				return nil, err
			}
			out[i] = sh
		}
		return out, nil
	})
}

// Program parses (once) the full object: every section's raw payload and
// relocations, plus the symbol table with long names resolved against the
// string table.
func (r *Reader) Program() (Object, error) {
	return r.program.Get(func() (Object, error) {
		hdr, err := r.Header()
		if err != nil {
			return Object{}, err
		}
		secHeaders, err := r.SectionHeaders()
		if err != nil {
			return Object{}, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)

		strs, err := r.readStringTable(hdr)
		if err != nil {
			return Object{}, err
		}

		sections := make([]Section, len(secHeaders))
		for i, sh := range secHeaders {
			s := Section{Name: sh.Name, Characteristics: sh.Characteristics}
			if sh.SizeOfRawData > 0 {
				s.Payload, err = br.PeekAt(int64(sh.PointerToRawData), int(sh.SizeOfRawData))
				if err != nil {
					return Object{}, err
				}
			}
			if sh.NumberOfRelocations > 0 {
				if err := br.SeekAbs(int64(sh.PointerToRelocations)); err != nil {
					return Object{}, err
				}
				s.Relocations = make([]Relocation, sh.NumberOfRelocations)
				for j := range s.Relocations {
					var rel Relocation
					if rel.VirtualAddress, err = br.U32(); err != nil {
						return Object{}, err
					}
					if rel.SymbolTableIndex, err = br.U32(); err != nil {
						return Object{}, err
					}
					if rel.Type, err = br.U16(); err != nil {
						return Object{}, err
					}
					s.Relocations[j] = rel
				}
			}
			sections[i] = s
		}

		if err := br.SeekAbs(int64(hdr.PointerToSymbolTable)); err != nil {
			return Object{}, err
		}
		symbols := make([]Symbol, hdr.NumberOfSymbols)
		for i := range symbols {
			nameBytes, err := br.ReadExact(8)
			if err != nil {
				return Object{}, err
			}
			sym := Symbol{Name: resolveSymbolName(nameBytes, strs)}
			if sym.Value, err = br.U32(); err != nil {
				return Object{}, err
			}
			sec16, err := br.I16()
			if err != nil {
				return Object{}, err
			}
			sym.SectionNumber = sec16
			if sym.Type, err = br.U16(); err != nil {
				return Object{}, err
			}
			if sym.StorageClass, err = br.U8(); err != nil {
				return Object{}, err
			}
			if sym.NumberOfAuxSymbols, err = br.U8(); err != nil {
				return Object{}, err
			}
			symbols[i] = sym
		}

		return Object{Machine: hdr.Machine, Sections: sections, Symbols: symbols}, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (Object, error) {
	return r.Program()
}

func (r *Reader) readStringTable(hdr Header) ([]byte, error) {
	if hdr.NumberOfSymbols == 0 {
		return nil, nil
	}
	tableOff := int64(hdr.PointerToSymbolTable) + int64(hdr.NumberOfSymbols)*SymbolSize
	if tableOff >= r.size {
		return nil, nil
	}
	br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
	if err := br.SeekAbs(tableOff); err != nil {
		return nil, err
	}
	size, err := br.U32()
	if err != nil {
		return nil, err
	}
	if size < 4 {
		return nil, &diag.InvalidData{Message: "coff: string table size smaller than its own length prefix"}
	}
	rest, err := br.ReadExact(int(size) - 4)
	if err != nil {
		return nil, err
	}
	table := make([]byte, 4, size)
	binary.LittleEndian.PutUint32(table, size)
	table = append(table, rest...)
	return table, nil
}

// resolveSymbolName decodes an 8-byte COFF symbol name field: inline ASCII
// if the first 4 bytes are nonzero, else a string-table offset in the last
// 4 bytes.
func resolveSymbolName(raw []byte, strs []byte) string {
	if raw[0] != 0 || raw[1] != 0 || raw[2] != 0 || raw[3] != 0 {
		return trimName(raw[:8])
	}
	off := binary.LittleEndian.Uint32(raw[4:8])
	if int(off) >= len(strs) {
		return ""
	}
	end := int(off)
	for end < len(strs) && strs[end] != 0 {
		end++
	}
	return string(strs[off:end])
}

func trimName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
