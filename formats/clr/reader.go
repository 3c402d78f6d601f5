package clr

import (
	"encoding/binary"
	"io"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// ReadProgram is the fully-parsed view Reader.Finish returns: the resolved
// strings for the fixed table set this toolkit emits, not a general
// ECMA-335 metadata walker.
type ReadProgram struct {
	ModuleName   string
	AssemblyName string
	TypeName     string
	Methods      []ReadMethod
}

// ReadMethod is one decoded MethodDef row: its name and signature blob.
// The method body is not read (the reader only sees the metadata root, and
// this toolkit doesn't model a disassembler for MSIL bodies).
type ReadMethod struct {
	Name      string
	Signature []byte
}

// Reader lazily parses a metadata root (the bytes Write's Assembly.Metadata
// holds), exposing the header → streams → program accessor chain every
// format package here follows.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[metaHeader]
	streams bio.LazyCell[map[string]streamRef]
	program bio.LazyCell[ReadProgram]
}

type metaHeader struct {
	versionString string
	streamCount   uint16
	dirOffset     int64 // byte offset where the stream directory begins
}

type streamRef struct {
	offset uint32
	size   uint32
}

// NewReader wraps src for lazy metadata-root parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Header parses (once) the BSJB signature, version string, and locates the
// stream directory.
func (r *Reader) Header() (metaHeader, error) {
	return r.header.Get(func() (metaHeader, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		sig, err := br.U32()
		if err != nil {
			return metaHeader{}, err
		}
		if sig != MetadataSignature {
			return metaHeader{}, &diag.InvalidMagicHead{Got: u32Bytes(sig), Expected: u32Bytes(MetadataSignature)}
		}
		if _, err := br.U16(); err != nil { // MajorVersion
			return metaHeader{}, err
		}
		if _, err := br.U16(); err != nil { // MinorVersion
			return metaHeader{}, err
		}
		if _, err := br.U32(); err != nil { // Reserved
			return metaHeader{}, err
		}
		length, err := br.U32()
		if err != nil {
			return metaHeader{}, err
		}
		verBytes, err := br.ReadExact(int(length))
		if err != nil {
			return metaHeader{}, err
		}
		version := trimNulPadding(verBytes)
		if _, err := br.U16(); err != nil { // Flags
			return metaHeader{}, err
		}
		count, err := br.U16()
		if err != nil {
			return metaHeader{}, err
		}
		dirOffset := br.Offset()
		return metaHeader{versionString: version, streamCount: count, dirOffset: dirOffset}, nil
	})
}

// Streams parses (once) the stream directory into a name-indexed map of
// offset/size pairs, relative to the metadata root's start.
func (r *Reader) Streams() (map[string]streamRef, error) {
	return r.streams.Get(func() (map[string]streamRef, error) {
		hdr, err := r.Header()
		if err != nil {
			return nil, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		if err := br.SeekAbs(hdr.dirOffset); err != nil {
			return nil, err
		}
		out := make(map[string]streamRef, hdr.streamCount)
		for i := uint16(0); i < hdr.streamCount; i++ {
			offset, err := br.U32()
			if err != nil {
				return nil, err
			}
			size, err := br.U32()
			if err != nil {
				return nil, err
			}
			name, err := readNulPaddedName(br)
			if err != nil {
				return nil, err
			}
			out[name] = streamRef{offset: offset, size: size}
		}
		return out, nil
	})
}

// Program fully parses the #~ table stream (Module, TypeRef, TypeDef,
// MethodDef, Assembly, AssemblyRef) and resolves names via #Strings and
// signatures via #Blob.
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		streamMap, err := r.Streams()
		if err != nil {
			return ReadProgram{}, err
		}
		strs, err := r.readStreamBytes(streamMap, "#Strings")
		if err != nil {
			return ReadProgram{}, err
		}
		blob, err := r.readStreamBytes(streamMap, "#Blob")
		if err != nil {
			return ReadProgram{}, err
		}
		tilde, err := r.readStreamBytes(streamMap, "#~")
		if err != nil {
			return ReadProgram{}, err
		}

		rows, err := parseTildeStream(tilde)
		if err != nil {
			return ReadProgram{}, err
		}

		prog := ReadProgram{
			ModuleName:   readHeapString(strs, rows.module.name),
			AssemblyName: readHeapString(strs, rows.assembly.name),
			TypeName:     readHeapString(strs, rows.typeDef.name),
		}
		for _, m := range rows.methodDefs {
			prog.Methods = append(prog.Methods, ReadMethod{
				Name:      readHeapString(strs, m.name),
				Signature: readHeapBlob(blob, m.signature),
			})
		}
		return prog, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}

func (r *Reader) readStreamBytes(streams map[string]streamRef, name string) ([]byte, error) {
	ref, ok := streams[name]
	if !ok {
		return nil, nil
	}
	buf := make([]byte, ref.size)
	if _, err := r.src.ReadAt(buf, int64(ref.offset)); err != nil && err != io.EOF {
		return nil, &diag.IoError{Inner: err, URL: r.url}
	}
	return buf, nil
}

// tildeRows is the Program-level decode of the #~ stream's fixed table set.
type tildeRows struct {
	module      moduleRow
	typeRef     typeRefRow
	typeDef     typeDefRow
	methodDefs  []methodDefRow
	assembly    assemblyRow
	assemblyRef assemblyRefRow
}

func parseTildeStream(b []byte) (tildeRows, error) {
	if len(b) < 24 {
		return tildeRows{}, &diag.SyntaxError{Message: "#~ stream too short"}
	}
	valid := binary.LittleEndian.Uint64(b[8:16])
	off := 24

	counts := make(map[int]uint32)
	for _, id := range tableOrder() {
		if valid&(1<<uint(id)) != 0 {
			counts[id] = binary.LittleEndian.Uint32(b[off:])
			off += 4
		}
	}

	var rows tildeRows
	if counts[TableModule] > 0 {
		rows.module = moduleRow{name: binary.LittleEndian.Uint16(b[off+2:]), mvid: binary.LittleEndian.Uint16(b[off+4:])}
		off += 10
	}
	if counts[TableTypeRef] > 0 {
		rows.typeRef = typeRefRow{
			resolutionScope: binary.LittleEndian.Uint16(b[off:]),
			name:            binary.LittleEndian.Uint16(b[off+2:]),
			namespace:       binary.LittleEndian.Uint16(b[off+4:]),
		}
		off += 6
	}
	if counts[TableTypeDef] > 0 {
		rows.typeDef = typeDefRow{
			flags:      binary.LittleEndian.Uint32(b[off:]),
			name:       binary.LittleEndian.Uint16(b[off+4:]),
			namespace:  binary.LittleEndian.Uint16(b[off+6:]),
			extends:    binary.LittleEndian.Uint16(b[off+8:]),
			fieldList:  binary.LittleEndian.Uint16(b[off+10:]),
			methodList: binary.LittleEndian.Uint16(b[off+12:]),
		}
		off += 14
	}
	for i := uint32(0); i < counts[TableMethodDef]; i++ {
		rows.methodDefs = append(rows.methodDefs, methodDefRow{
			rva:       binary.LittleEndian.Uint32(b[off:]),
			implFlags: binary.LittleEndian.Uint16(b[off+4:]),
			flags:     binary.LittleEndian.Uint16(b[off+6:]),
			name:      binary.LittleEndian.Uint16(b[off+8:]),
			signature: binary.LittleEndian.Uint16(b[off+10:]),
			paramList: binary.LittleEndian.Uint16(b[off+12:]),
		})
		off += 14
	}
	if counts[TableAssembly] > 0 {
		rows.assembly = assemblyRow{
			hashAlgId: binary.LittleEndian.Uint32(b[off:]),
			major:     binary.LittleEndian.Uint16(b[off+4:]),
			minor:     binary.LittleEndian.Uint16(b[off+6:]),
			build:     binary.LittleEndian.Uint16(b[off+8:]),
			revision:  binary.LittleEndian.Uint16(b[off+10:]),
			flags:     binary.LittleEndian.Uint32(b[off+12:]),
			publicKey: binary.LittleEndian.Uint16(b[off+16:]),
			name:      binary.LittleEndian.Uint16(b[off+18:]),
			culture:   binary.LittleEndian.Uint16(b[off+20:]),
		}
		off += 22
	}
	if counts[TableAssemblyRef] > 0 {
		rows.assemblyRef = assemblyRefRow{
			major:          binary.LittleEndian.Uint16(b[off:]),
			minor:          binary.LittleEndian.Uint16(b[off+2:]),
			build:          binary.LittleEndian.Uint16(b[off+4:]),
			revision:       binary.LittleEndian.Uint16(b[off+6:]),
			flags:          binary.LittleEndian.Uint32(b[off+8:]),
			publicKeyToken: binary.LittleEndian.Uint16(b[off+12:]),
			name:           binary.LittleEndian.Uint16(b[off+14:]),
			culture:        binary.LittleEndian.Uint16(b[off+16:]),
			hashValue:      binary.LittleEndian.Uint16(b[off+18:]),
		}
	}
	return rows, nil
}

func readHeapString(heap []byte, idx uint16) string {
	if int(idx) >= len(heap) {
		return ""
	}
	end := int(idx)
	for end < len(heap) && heap[end] != 0x00 {
		end++
	}
	return string(heap[idx:end])
}

func readHeapBlob(heap []byte, idx uint16) []byte {
	if int(idx) >= len(heap) {
		return nil
	}
	n, consumed := decodeBlobLen(heap[idx:])
	start := int(idx) + consumed
	end := start + int(n)
	if end > len(heap) {
		return nil
	}
	return heap[start:end]
}

func decodeBlobLen(b []byte) (uint32, int) {
	if len(b) == 0 {
		return 0, 0
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1
	case b[0]&0xC0 == 0x80:
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2
	default:
		return uint32(b[0]&0x3F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4
	}
}

func trimNulPadding(b []byte) string {
	for i, c := range b {
		if c == 0x00 {
			return string(b[:i])
		}
	}
	return string(b)
}

func readNulPaddedName(br *bio.Reader) (string, error) {
	var raw []byte
	for {
		b, err := br.U8()
		if err != nil {
			return "", err
		}
		raw = append(raw, b)
		if b == 0x00 && len(raw)%4 == 0 {
			break
		}
	}
	return trimNulPadding(raw), nil
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
