package wasm

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// RawSection is one undecoded (id, payload) pair as it appears in the
// module, in file order.
type RawSection struct {
	ID      byte
	Payload []byte
}

// ReadProgram is the fully-parsed view Reader.Finish returns. Only the
// sections this toolkit writes are decoded into typed views; everything
// else stays available as RawSections for callers that need it.
type ReadProgram struct {
	Sections  []RawSection
	Types     []FuncType
	Functions []uint32 // function section: type indices
	Exports   []Export
	Memories  []Memory
}

// Reader lazily parses a binary module, exposing the
// magic/version → section-list → program accessor chain.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	sections bio.LazyCell[[]RawSection]
	program  bio.LazyCell[ReadProgram]
}

// NewReader wraps src for lazy module parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Sections parses (once) the magic/version preamble and every section
// header, keeping each section's payload as raw bytes.
func (r *Reader) Sections() ([]RawSection, error) {
	return r.sections.Get(func() ([]RawSection, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		magic, err := br.U32()
		if err != nil {
			return nil, err
		}
		if magic != Magic {
			return nil, &diag.InvalidMagicHead{Got: u32Bytes(magic), Expected: u32Bytes(Magic)}
		}
		version, err := br.U32()
		if err != nil {
			return nil, err
		}
		if version != Version {
			return nil, &diag.InvalidData{Message: "unsupported wasm module version"}
		}
		var out []RawSection
		for br.Remaining() > 0 {
			id, err := br.U8()
			if err != nil {
				return nil, err
			}
			size, err := readLEBFromReader(br)
			if err != nil {
				return nil, err
			}
			payload, err := br.ReadExact(int(size))
			if err != nil {
				return nil, err
			}
			out = append(out, RawSection{ID: id, Payload: payload})
		}
		return out, nil
	})
}

func readLEBFromReader(br *bio.Reader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := br.U8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// Program parses (once) every section this toolkit understands into
// typed views, in addition to the raw section list.
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		secs, err := r.Sections()
		if err != nil {
			return ReadProgram{}, err
		}
		prog := ReadProgram{Sections: secs}
		for _, s := range secs {
			switch s.ID {
			case SecType:
				types, err := decodeTypeSection(s.Payload)
				if err != nil {
					return ReadProgram{}, err
				}
				prog.Types = types
			case SecFunction:
				fns, err := decodeFunctionSection(s.Payload)
				if err != nil {
					return ReadProgram{}, err
				}
				prog.Functions = fns
			case SecExport:
				exports, err := decodeExportSection(s.Payload)
				if err != nil {
					return ReadProgram{}, err
				}
				prog.Exports = exports
			case SecMemory:
				mems, err := decodeMemorySection(s.Payload)
				if err != nil {
					return ReadProgram{}, err
				}
				prog.Memories = mems
			}
		}
		return prog, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}

func decodeTypeSection(b []byte) ([]FuncType, error) {
	count, off, err := readUvarint32(b, 0)
	if err != nil {
		return nil, err
	}
	out := make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		if off >= len(b) || b[off] != FuncTypeTag {
			return nil, &diag.InvalidData{Message: "expected func type tag 0x60"}
		}
		off++
		nParams, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		params := append([]byte(nil), b[off:off+int(nParams)]...)
		off += int(nParams)
		nResults, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		results := append([]byte(nil), b[off:off+int(nResults)]...)
		off += int(nResults)
		out = append(out, FuncType{Params: params, Results: results})
	}
	return out, nil
}

func decodeFunctionSection(b []byte) ([]uint32, error) {
	count, off, err := readUvarint32(b, 0)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, v)
	}
	return out, nil
}

func decodeExportSection(b []byte) ([]Export, error) {
	count, off, err := readUvarint32(b, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		name := string(b[off : off+int(nameLen)])
		off += int(nameLen)
		kind := b[off]
		off++
		idx, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, Export{Name: name, Kind: kind, Index: idx})
	}
	return out, nil
}

func decodeMemorySection(b []byte) ([]Memory, error) {
	count, off, err := readUvarint32(b, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, 0, count)
	for i := uint32(0); i < count; i++ {
		flag := b[off]
		off++
		min, n, err := readUvarint32(b, off)
		if err != nil {
			return nil, err
		}
		off += n
		m := Memory{Min: min}
		if flag == 0x01 {
			max, n, err := readUvarint32(b, off)
			if err != nil {
				return nil, err
			}
			off += n
			m.Max, m.HasMax = max, true
		}
		out = append(out, m)
	}
	return out, nil
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
