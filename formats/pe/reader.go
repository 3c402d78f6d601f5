package pe

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// Header is the parsed DOS/COFF/Optional header triple.
type Header struct {
	Machine            uint16
	Is64               bool
	NumberOfSections   uint16
	SizeOfOptionalHdr  uint16
	Characteristics    uint16
	Subsystem          uint16
	DllCharacteristics uint16
	ImageBase          uint64
	SectionAlignment   uint32
	FileAlignment      uint32
	AddressOfEntry     uint32
	SizeOfImage        uint32
	SizeOfHeaders      uint32
	DataDirectories    [dataDirCount]DataDirectory
	peHeaderOffset     int64
}

// ReadProgram is the fully-parsed view a Reader's Finish returns: header,
// section table, and raw section payloads.
type ReadProgram struct {
	Header   Header
	Sections []Section
}

// Reader lazily parses a PE image from a random-access byte source, exposing
// the header → section-table → program accessor chain.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[Header]
	rawSecs bio.LazyCell[[]rawSection]
	program bio.LazyCell[ReadProgram]
}

type rawSection struct {
	name                 [8]byte
	virtualSize          uint32
	virtualAddress       uint32
	sizeOfRawData        uint32
	pointerToRawData     uint32
	pointerToRelocations uint32
	pointerToLinenumbers uint32
	numberOfRelocations  uint16
	numberOfLinenumbers  uint16
	characteristics      uint32
}

// Open memory-maps path and returns a lazy Reader over it, plus a closer
// function that callers must call when finished to release the mapping.
func Open(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, diag.NewIoError(err, path)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, diag.NewIoError(err, path)
	}
	closer := func() error {
		m.Unmap()
		return f.Close()
	}
	return NewReader(readerAtBytes(m), int64(len(m)), path), closer, nil
}

// NewReader wraps an arbitrary io.ReaderAt (an in-memory byte slice or a
// memory-mapped file) of the given size for lazy PE parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
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

// Header parses (once) and returns the DOS/COFF/Optional header.
func (r *Reader) Header() (Header, error) {
	return r.header.Get(func() (Header, error) {
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		magic, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		if magic != 0x5A4D {
			return Header{}, &diag.InvalidMagicHead{Got: []byte{byte(magic), byte(magic >> 8)}, Expected: []byte{'M', 'Z'}}
		}
		if err := br.SeekAbs(0x3C); err != nil {
			return Header{}, err
		}
		lfanew, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		if err := br.SeekAbs(int64(lfanew)); err != nil {
			return Header{}, err
		}
		peSig, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		if peSig != 0x00004550 {
			return Header{}, &diag.InvalidMagicHead{Got: u32Bytes(peSig), Expected: []byte("PE\x00\x00")}
		}
		machine, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		numSections, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // timestamp
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // symbol table pointer
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // number of symbols
			return Header{}, err
		}
		sizeOfOptHdr, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		characteristics, err := br.U16()
		if err != nil {
			return Header{}, err
		}

		optStart := br.Offset()
		magicOpt, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		is64 := magicOpt == Magic64
		if magicOpt != Magic32 && magicOpt != Magic64 {
			return Header{}, &diag.InvalidData{Message: "unknown optional header magic"}
		}
		if err := br.SeekAbs(optStart + 2 + 2); err != nil { // skip linker versions
			return Header{}, err
		}
		if _, err := br.ReadExact(4 * 3); err != nil { // code/init-data/uninit-data sizes
			return Header{}, err
		}
		entryRVA, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // base of code
			return Header{}, err
		}
		var imageBase uint64
		if is64 {
			imageBase, err = br.U64()
		} else {
			if _, err := br.ReadExact(4); err != nil { // base of data
				return Header{}, err
			}
			var base32 uint32
			base32, err = br.U32()
			imageBase = uint64(base32)
		}
		if err != nil {
			return Header{}, err
		}
		sectionAlign, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		fileAlign, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		if _, err := br.ReadExact(2 * 6); err != nil { // OS/image/subsystem version pairs
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // win32 version value
			return Header{}, err
		}
		sizeOfImage, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		sizeOfHeaders, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		if _, err := br.ReadExact(4); err != nil { // checksum
			return Header{}, err
		}
		subsystem, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		dllCharacteristics, err := br.U16()
		if err != nil {
			return Header{}, err
		}
		if is64 {
			if _, err := br.ReadExact(8 * 4); err != nil {
				return Header{}, err
			}
		} else {
			if _, err := br.ReadExact(4 * 4); err != nil {
				return Header{}, err
			}
		}
		if _, err := br.ReadExact(4); err != nil { // loader flags
			return Header{}, err
		}
		numDirs, err := br.U32()
		if err != nil {
			return Header{}, err
		}
		var dirs [dataDirCount]DataDirectory
		for i := 0; i < int(numDirs) && i < dataDirCount; i++ {
			rvaVal, err := br.U32()
			if err != nil {
				return Header{}, err
			}
			sz, err := br.U32()
			if err != nil {
				return Header{}, err
			}
			dirs[i] = DataDirectory{VirtualAddress: rvaVal, Size: sz}
		}

		return Header{
			Machine: machine, Is64: is64, NumberOfSections: numSections,
			SizeOfOptionalHdr: sizeOfOptHdr, Characteristics: characteristics,
			Subsystem: subsystem, DllCharacteristics: dllCharacteristics,
			ImageBase: imageBase, SectionAlignment: sectionAlign, FileAlignment: fileAlign,
			AddressOfEntry: entryRVA, SizeOfImage: sizeOfImage, SizeOfHeaders: sizeOfHeaders,
			DataDirectories: dirs, peHeaderOffset: int64(lfanew),
		}, nil
	})
}

// SectionTable parses (once) and returns the section header table.
func (r *Reader) SectionTable() ([]rawSection, error) {
	return r.rawSecs.Get(func() ([]rawSection, error) {
		hdr, err := r.Header()
		if err != nil {
			return nil, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		off := hdr.peHeaderOffset + 4 + coffHeaderSize + int64(hdr.SizeOfOptionalHdr)
		if err := br.SeekAbs(off); err != nil {
			return nil, err
		}
		secs := make([]rawSection, hdr.NumberOfSections)
		for i := range secs {
			nameBytes, err := br.ReadExact(8)
			if err != nil {
				return nil, err
			}
			copy(secs[i].name[:], nameBytes)
			if secs[i].virtualSize, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].virtualAddress, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].sizeOfRawData, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].pointerToRawData, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].pointerToRelocations, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].pointerToLinenumbers, err = br.U32(); err != nil {
				return nil, err
			}
			if secs[i].numberOfRelocations, err = br.U16(); err != nil {
				return nil, err
			}
			if secs[i].numberOfLinenumbers, err = br.U16(); err != nil {
				return nil, err
			}
			if secs[i].characteristics, err = br.U32(); err != nil {
				return nil, err
			}
		}
		return secs, nil
	})
}

// Program parses (once) the full program: header, section table, and every
// section's raw payload.
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		hdr, err := r.Header()
		if err != nil {
			return ReadProgram{}, err
		}
		secs, err := r.SectionTable()
		if err != nil {
			return ReadProgram{}, err
		}
		br := bio.NewReader(r.src, r.size, binary.LittleEndian, r.url)
		out := make([]Section, len(secs))
		for i, s := range secs {
			payload, err := br.PeekAt(int64(s.pointerToRawData), int(s.sizeOfRawData))
			if err != nil {
				return ReadProgram{}, err
			}
			out[i] = Section{Name: trimName(s.name), Characteristics: s.characteristics, Payload: payload}
		}
		return ReadProgram{Header: hdr, Sections: out}, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}

func trimName(b [8]byte) string {
	n := 0
	for n < 8 && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
