// Package macho builds and reads Mach-O images: the fixed header, a
// sequence of load commands, and their file-backed segments.
package macho

const (
	Magic32 uint32 = 0xfeedface
	Magic64 uint32 = 0xfeedfacf

	CPUTypeX86_64 uint32 = 0x01000007
	CPUTypeARM64  uint32 = 0x0100000c

	CPUSubtypeX86_64All uint32 = 0x00000003
	CPUSubtypeARM64All  uint32 = 0x00000000

	FileTypeObject   uint32 = 0x1
	FileTypeExecute  uint32 = 0x2
	FileTypeDylib    uint32 = 0x6

	FlagNoUndefs  uint32 = 0x1
	FlagDyldLink  uint32 = 0x4
	FlagTwoLevel  uint32 = 0x80
	FlagPIE       uint32 = 0x200000
)

// Load command ids (spec.md §4.9's named subset, plus the DYLIB/SYMTAB
// commands any linked executable needs to be loadable).
const (
	LCSegment64  uint32 = 0x19
	LCSymtab     uint32 = 0x02
	LCLoadDylib  uint32 = 0x0c
	LCMain       uint32 = 0x80000028
)

const (
	VMProtNone    uint32 = 0x0
	VMProtRead    uint32 = 0x1
	VMProtWrite   uint32 = 0x2
	VMProtExecute uint32 = 0x4
)

const (
	HeaderSize64 = 32
	HeaderSize32 = 28

	SegmentCommandSize64 = 72
	SectionSize64        = 80
	SymtabCommandSize    = 24
	DylibCommandBaseSize = 24 // + name string, padded to 8
	EntryPointCommandSize = 24

	PageZeroSize = 0x100000000
	TextVMAddr   = 0x100000000
)

// Section is one section within a segment: its characteristics plus the
// raw bytes to place at its file offset (empty for zero-fill sections).
type Section struct {
	Name    string
	Addr    uint64
	Size    uint64
	Offset  uint32
	Align   uint32
	Flags   uint32
	Payload []byte
}

// Segment is one LC_SEGMENT_64 load command plus its sections.
type Segment struct {
	Name     string
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	Sections []Section
}

// DylibImport is one LC_LOAD_DYLIB command: a shared library this
// executable links against.
type DylibImport struct {
	Name          string
	Timestamp     uint32
	CurrentVer    uint32
	CompatVer     uint32
}

// Program is the Mach-O writer input.
type Program struct {
	CPUType    uint32
	CPUSubtype uint32
	Code       []byte
	Data       []byte
	Dylibs     []DylibImport
	EntryOff   uint64 // file offset of the entry point within __TEXT,__text
}

// Header64 is the parsed Mach-O 64-bit header, for the reader.
type Header64 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
}

// LoadCommand is a generic parsed load command: its id, size, and raw
// command-specific payload (undecoded — callers with the id's specific
// layout parse it further).
type LoadCommand struct {
	Cmd     uint32
	CmdSize uint32
	Data    []byte
}
