package coff

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// ArchiveSignature is the fixed 8-byte magic every COFF static library
// (.lib) file starts with, shared with the Unix ar format COFF libraries
// are themselves a dialect of.
const ArchiveSignature = "!<arch>\n"

const archiveMemberHeaderSize = 60

// ArchiveMemberHeader is one member's 60-byte ASCII-field header.
type ArchiveMemberHeader struct {
	Name      string
	Timestamp uint32
	UserID    uint16
	GroupID   uint16
	Mode      uint32
	Size      uint32
}

// ArchiveMember is one member of a static library: its header, raw data,
// and — if the data parses as a COFF object — the parsed object.
type ArchiveMember struct {
	Header     ArchiveMemberHeader
	Data       []byte
	CoffObject *Object
}

// SymbolIndexEntry maps one externally-visible symbol to the archive member
// that defines it, in the order the archive's linker symbol index lists
// them.
type SymbolIndexEntry struct {
	Symbol      string
	MemberIndex int
}

// StaticLibrary is the in-memory model of a .lib file: a linker symbol
// index followed by the member object files it indexes.
type StaticLibrary struct {
	Members     []ArchiveMember
	SymbolIndex []SymbolIndexEntry
}

// WriteArchive assembles lib into a .lib file: the ar signature, then each
// member's 60-byte header and (even-padded) data. This toolkit does not
// emit the MS-specific linker symbol-index first member (archive member
// "/") — SymbolIndex is carried on StaticLibrary for callers that build one
// themselves, but this writer only emits what it was explicitly given in
// Members, matching the assembler-grade (not linker-grade) scope the rest
// of this package's writers keep to.
func WriteArchive(lib *StaticLibrary) ([]byte, error) {
	var out []byte
	out = append(out, ArchiveSignature...)
	for _, m := range lib.Members {
		if len(m.Header.Name) > 16 {
			return nil, &diag.InvalidData{Message: fmt.Sprintf("coff: archive member name %q longer than 16 bytes", m.Header.Name)}
		}
		hdr := make([]byte, 0, archiveMemberHeaderSize)
		hdr = appendField(hdr, m.Header.Name, 16)
		hdr = appendField(hdr, strconv.FormatUint(uint64(m.Header.Timestamp), 10), 12)
		hdr = appendField(hdr, strconv.FormatUint(uint64(m.Header.UserID), 10), 6)
		hdr = appendField(hdr, strconv.FormatUint(uint64(m.Header.GroupID), 10), 6)
		hdr = appendField(hdr, strconv.FormatUint(uint64(m.Header.Mode), 8), 8)
		hdr = appendField(hdr, strconv.Itoa(len(m.Data)), 10)
		hdr = append(hdr, '`', '\n')
		if len(hdr) != archiveMemberHeaderSize {
			return nil, diag.ErrUnreachable
		}
		out = append(out, hdr...)
		out = append(out, m.Data...)
		if len(m.Data)%2 != 0 {
			out = append(out, '\n')
		}
	}
	return out, nil
}

// appendField left-justifies s and space-pads it to width, the ar format's
// convention for every ASCII header field.
func appendField(dst []byte, s string, width int) []byte {
	if len(s) > width {
		s = s[:width]
	}
	dst = append(dst, s...)
	for i := len(s); i < width; i++ {
		dst = append(dst, ' ')
	}
	return dst
}

// ArchiveReader lazily parses a static library from a random-access byte
// source, exposing the same accessor-chain convention every other format
// reader in this toolkit uses.
type ArchiveReader struct {
	src  io.ReaderAt
	size int64
	url  string

	program bio.LazyCell[StaticLibrary]
}

// NewArchiveReader wraps src (an in-memory byte slice or a memory-mapped
// file) of the given size for lazy archive parsing.
func NewArchiveReader(src io.ReaderAt, size int64, url string) *ArchiveReader {
	return &ArchiveReader{src: src, size: size, url: url}
}

// Program parses (once) every member of the archive, attempting to parse
// each member's data as a COFF object (leaving CoffObject nil on failure,
// since a linker symbol-index member is never itself a valid object).
func (r *ArchiveReader) Program() (StaticLibrary, error) {
	return r.program.Get(func() (StaticLibrary, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		sig, err := br.ReadExact(len(ArchiveSignature))
		if err != nil {
			return StaticLibrary{}, err
		}
		if string(sig) != ArchiveSignature {
			return StaticLibrary{}, &diag.InvalidMagicHead{Got: sig, Expected: []byte(ArchiveSignature)}
		}

		var lib StaticLibrary
		for br.Remaining() > 0 {
			hdrBytes, err := br.ReadExact(archiveMemberHeaderSize)
			if err != nil {
				return StaticLibrary{}, err
			}
			hdr, err := parseMemberHeader(hdrBytes)
			if err != nil {
				return StaticLibrary{}, err
			}
			data, err := br.ReadExact(int(hdr.Size))
			if err != nil {
				return StaticLibrary{}, err
			}
			if hdr.Size%2 != 0 && br.Remaining() > 0 {
				if _, err := br.ReadExact(1); err != nil {
					return StaticLibrary{}, err
				}
			}
			member := ArchiveMember{Header: hdr, Data: data}
			if obj, err := NewReader(readerAtBytes(data), int64(len(data)), r.url).Program(); err == nil {
				cp := obj
				member.CoffObject = &cp
			}
			lib.Members = append(lib.Members, member)
		}
		return lib, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *ArchiveReader) Finish() (StaticLibrary, error) {
	return r.Program()
}

func parseMemberHeader(b []byte) (ArchiveMemberHeader, error) {
	if len(b) != archiveMemberHeaderSize {
		return ArchiveMemberHeader{}, &diag.InvalidData{Message: "coff: short archive member header"}
	}
	if b[58] != '`' || b[59] != '\n' {
		return ArchiveMemberHeader{}, &diag.InvalidData{Message: "coff: archive member header missing end-of-header marker"}
	}
	name := strings.TrimRight(string(b[0:16]), " ")
	timestamp, err := parseUintField(b[16:28])
	if err != nil {
		return ArchiveMemberHeader{}, err
	}
	uid, err := parseUintField(b[28:34])
	if err != nil {
		return ArchiveMemberHeader{}, err
	}
	gid, err := parseUintField(b[34:40])
	if err != nil {
		return ArchiveMemberHeader{}, err
	}
	mode, err := parseUintFieldBase(b[40:48], 8)
	if err != nil {
		return ArchiveMemberHeader{}, err
	}
	size, err := parseUintField(b[48:58])
	if err != nil {
		return ArchiveMemberHeader{}, err
	}
	return ArchiveMemberHeader{
		Name: name, Timestamp: uint32(timestamp), UserID: uint16(uid),
		GroupID: uint16(gid), Mode: uint32(mode), Size: uint32(size),
	}, nil
}

func parseUintField(b []byte) (uint64, error) {
	return parseUintFieldBase(b, 10)
}

func parseUintFieldBase(b []byte, base int) (uint64, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, &diag.InvalidData{Message: fmt.Sprintf("coff: malformed archive header field %q", s)}
	}
	return v, nil
}

type readerAtBytes []byte

func (b readerAtBytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
