// Package elf builds and reads 64-bit Linux ELF executables: the fixed
// header, the program-header table, and page-aligned loadable segments.
package elf

// e_machine values.
const (
	MachineX86_64 uint16 = 62
	MachineAARCH64 uint16 = 183
)

// e_type values.
const (
	TypeRel  uint16 = 1
	TypeExec uint16 = 2
	TypeDyn  uint16 = 3
	TypeCore uint16 = 4
)

// Program header p_type values.
const (
	PTLoad    uint32 = 1
	PTDynamic uint32 = 2
	PTInterp  uint32 = 3
)

// Program header p_flags bits.
const (
	PFExec  uint32 = 0x1
	PFWrite uint32 = 0x2
	PFRead  uint32 = 0x4
)

const (
	HeaderSize        = 64
	ProgramHeaderSize = 56

	BaseAddr = 0x400000
	PageSize = 0x1000

	DefaultInterp = "/lib64/ld-linux-x86-64.so.2"
)

// Program is the ELF-specific writer input: a code segment, optional data
// segment, and optional dynamic-linking metadata.
type Program struct {
	Machine uint16
	Code    []byte
	Data    []byte

	EntryLabel string
	CodeLabels map[string]int

	// Dynamic linking: when Interp is non-empty the writer emits a PT_INTERP
	// segment and a placeholder PT_DYNAMIC segment; the file type stays
	// ET_EXEC. Static syscall-based programs leave this empty.
	Interp string

	Fixups []CodeFixup
}

// CodeFixup mirrors x86asm.Fixup; kept local so formats/elf's type surface
// does not need to import the encoder package.
type CodeFixup struct {
	OffsetInCode int
	Kind         FixupKind
	Symbol       string
	InsnLen      int
}

type FixupKind int

const (
	RelativeCall32 FixupKind = iota
	RipRelative32
	Absolute64
	Absolute32
)

// Header64 is the parsed ELF64 header, for the reader.
type Header64 struct {
	Type              uint16
	Machine           uint16
	Entry             uint64
	ProgramHeaderOff  uint64
	SectionHeaderOff  uint64
	Flags             uint32
	ProgramHeaderSize uint16
	ProgramHeaderNum  uint16
	SectionHeaderSize uint16
	SectionHeaderNum  uint16
	StringTableIndex  uint16
}

// ProgramHeader64 is one parsed program-header-table entry.
type ProgramHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}
