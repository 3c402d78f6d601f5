package elf

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// ReadProgram is the fully-parsed view Reader.Finish returns.
type ReadProgram struct {
	Header   Header64
	Segments []ProgramHeader64
	Code     []byte
}

// Reader lazily parses an ELF64 image, exposing the
// header → segment-table → program accessor chain.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[Header64]
	segs    bio.LazyCell[[]ProgramHeader64]
	program bio.LazyCell[ReadProgram]
}

// NewReader wraps src (an in-memory byte slice or memory-mapped file) for
// lazy ELF parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Header parses (once) and returns the ELF64 header.
func (r *Reader) Header() (Header64, error) {
	return r.header.Get(func() (Header64, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		magic, err := br.ReadExact(4)
		if err != nil {
			return Header64{}, err
		}
		if magic[0] != 0x7f || magic[1] != 'E' || magic[2] != 'L' || magic[3] != 'F' {
			return Header64{}, &diag.InvalidMagicHead{Got: magic, Expected: []byte{0x7f, 'E', 'L', 'F'}}
		}
		if _, err := br.ReadExact(12); err != nil { // class/endian/version/abi/padding
			return Header64{}, err
		}
		typ, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		machine, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // e_version
			return Header64{}, err
		}
		entry, err := br.U64()
		if err != nil {
			return Header64{}, err
		}
		phoff, err := br.U64()
		if err != nil {
			return Header64{}, err
		}
		shoff, err := br.U64()
		if err != nil {
			return Header64{}, err
		}
		flags, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		if _, err := br.ReadExact(2); err != nil { // e_ehsize
			return Header64{}, err
		}
		phentsize, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		phnum, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		shentsize, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		shnum, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		shstrndx, err := br.U16()
		if err != nil {
			return Header64{}, err
		}
		return Header64{
			Type: typ, Machine: machine, Entry: entry,
			ProgramHeaderOff: phoff, SectionHeaderOff: shoff, Flags: flags,
			ProgramHeaderSize: phentsize, ProgramHeaderNum: phnum,
			SectionHeaderSize: shentsize, SectionHeaderNum: shnum, StringTableIndex: shstrndx,
		}, nil
	})
}

// SegmentTable parses (once) and returns the program header table.
func (r *Reader) SegmentTable() ([]ProgramHeader64, error) {
	return r.segs.Get(func() ([]ProgramHeader64, error) {
		hdr, err := r.Header()
		if err != nil {
			return nil, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		if err := br.SeekAbs(int64(hdr.ProgramHeaderOff)); err != nil {
			return nil, err
		}
		out := make([]ProgramHeader64, hdr.ProgramHeaderNum)
		for i := range out {
			if out[i].Type, err = br.U32(); err != nil {
				return nil, err
			}
			if out[i].Flags, err = br.U32(); err != nil {
				return nil, err
			}
			if out[i].Offset, err = br.U64(); err != nil {
				return nil, err
			}
			if out[i].VAddr, err = br.U64(); err != nil {
				return nil, err
			}
			if out[i].PAddr, err = br.U64(); err != nil {
				return nil, err
			}
			if out[i].FileSz, err = br.U64(); err != nil {
				return nil, err
			}
			if out[i].MemSz, err = br.U64(); err != nil {
				return nil, err
			}
			if out[i].Align, err = br.U64(); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// Program parses (once) the full program: header, segment table, and the
// first executable LOAD segment's raw bytes.
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		hdr, err := r.Header()
		if err != nil {
			return ReadProgram{}, err
		}
		segs, err := r.SegmentTable()
		if err != nil {
			return ReadProgram{}, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		var code []byte
		for _, s := range segs {
			if s.Type == PTLoad && s.Flags&PFExec != 0 {
				code, err = br.PeekAt(int64(s.Offset), int(s.FileSz))
				if err != nil {
					return ReadProgram{}, err
				}
				break
			}
		}
		return ReadProgram{Header: hdr, Segments: segs, Code: code}, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}
