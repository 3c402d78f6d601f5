package macho

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// ReadProgram is the fully-parsed view Reader.Finish returns.
type ReadProgram struct {
	Header       Header64
	LoadCommands []LoadCommand
}

// Reader lazily parses a Mach-O 64-bit image, exposing the
// header → load-command-table → program accessor chain.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[Header64]
	cmds    bio.LazyCell[[]LoadCommand]
	program bio.LazyCell[ReadProgram]
}

// NewReader wraps src for lazy Mach-O parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Header parses (once) and returns the Mach-O header.
func (r *Reader) Header() (Header64, error) {
	return r.header.Get(func() (Header64, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		magic, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		if magic != Magic64 {
			return Header64{}, &diag.InvalidMagicHead{Got: u32Bytes(magic), Expected: u32Bytes(Magic64)}
		}
		cpuType, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		cpuSubtype, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		fileType, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		nCmds, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		sizeOfCmds, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		flags, err := br.U32()
		if err != nil {
			return Header64{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // reserved
			return Header64{}, err
		}
		return Header64{Magic: magic, CPUType: cpuType, CPUSubtype: cpuSubtype, FileType: fileType,
			NCmds: nCmds, SizeOfCmds: sizeOfCmds, Flags: flags}, nil
	})
}

// LoadCommands parses (once) and returns every load command as an
// undecoded (id, size, payload) triple.
func (r *Reader) LoadCommands() ([]LoadCommand, error) {
	return r.cmds.Get(func() ([]LoadCommand, error) {
		hdr, err := r.Header()
		if err != nil {
			return nil, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		if err := br.SeekAbs(HeaderSize64); err != nil {
			return nil, err
		}
		out := make([]LoadCommand, 0, hdr.NCmds)
		for i := uint32(0); i < hdr.NCmds; i++ {
			start := br.Offset()
			cmd, err := br.U32()
			if err != nil {
				return nil, err
			}
			size, err := br.U32()
			if err != nil {
				return nil, err
			}
			if size < 8 {
				return nil, &diag.InvalidData{Message: "load command size smaller than its own header"}
			}
			payload, err := br.ReadExact(int(size) - 8)
			if err != nil {
				return nil, err
			}
			out = append(out, LoadCommand{Cmd: cmd, CmdSize: size, Data: payload})
			if err := br.SeekAbs(start + int64(size)); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// Program parses (once) the header and full load command list.
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		hdr, err := r.Header()
		if err != nil {
			return ReadProgram{}, err
		}
		cmds, err := r.LoadCommands()
		if err != nil {
			return ReadProgram{}, err
		}
		return ReadProgram{Header: hdr, LoadCommands: cmds}, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
