// Package coff builds and reads Microsoft COFF object files (.obj) and
// archive libraries (.lib): the unlinked, pre-image-layout counterpart to
// formats/pe's linked executable. A COFF object carries the same file
// header and section-header shapes formats/pe already parses (COFF is PE's
// header format minus the DOS stub, optional header, and image layout), so
// the two packages intentionally duplicate that sub-layer rather than share
// it — an object file's sections are not yet assigned an RVA, and mixing
// the two concerns into one package would force formats/pe's image-layout
// types to grow unused fields for the object-only case.
package coff

// Header is the 20-byte COFF file header shared by every object/image
// format that starts with one (PE's COFF header is this same layout).
type Header struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

const HeaderSize = 20

// Machine types (same values as formats/pe's Machine* constants; duplicated
// here so this package has no import dependency on formats/pe).
const (
	MachineI386  uint16 = 0x014c
	MachineAMD64 uint16 = 0x8664
)

// SectionHeader describes one object-file section's placement and
// attributes. VirtualAddress stays 0 for an object file — sections are not
// relocated to an image until a linker places them.
type SectionHeader struct {
	Name                 string
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

const SectionHeaderSize = 40

// Section characteristics bits this toolkit emits (a subset of the full MS
// COFF flag set, matching formats/pe's own subset).
const (
	SectionCntCode            uint32 = 0x00000020
	SectionCntInitializedData uint32 = 0x00000040
	SectionAlign1Bytes        uint32 = 0x00100000
	SectionMemExecute         uint32 = 0x20000000
	SectionMemRead            uint32 = 0x40000000
	SectionMemWrite           uint32 = 0x80000000
)

// Relocation is one 10-byte COFF relocation entry, applying to the section
// it is attached to.
type Relocation struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             uint16
}

const RelocationSize = 10

// AMD64 relocation types this toolkit emits.
const (
	RelocAmd64Addr64 uint16 = 0x0001 // 64-bit VA
	RelocAmd64Addr32 uint16 = 0x0002 // 32-bit VA
	RelocAmd64Rel32  uint16 = 0x0004 // 32-bit relative displacement, target - (site+4)
)

// Symbol is one 18-byte COFF symbol table entry. A Name longer than 8 bytes
// is stored inline here as a plain string; the writer decides at emission
// time whether it fits inline or needs a string-table offset.
type Symbol struct {
	Name               string
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

const SymbolSize = 18

// Symbol section-number sentinels.
const (
	SectionUndefined int16 = 0
	SectionAbsolute  int16 = -1
	SectionDebug     int16 = -2
)

// Storage classes this toolkit emits.
const (
	ClassExternal uint8 = 2
	ClassStatic   uint8 = 3
	ClassFile     uint8 = 103
)

// Symbol type: MSB nibble is derived type (0 = not derived), LSB nibble is
// base type; this toolkit only ever emits "function" (0x20) or "null" (0).
const (
	TypeNull     uint16 = 0x0000
	TypeFunction uint16 = 0x0020
)

// Section is one object-file section: its attributes, raw payload, and the
// relocations that apply against it.
type Section struct {
	Name            string
	Characteristics uint32
	Payload         []byte
	Relocations     []Relocation
}

// Object is the in-memory model of a COFF object file: unlinked code/data
// sections plus the symbol table a linker resolves external references
// against. This is the writer's input and the reader's output.
type Object struct {
	Machine  uint16
	Sections []Section
	Symbols  []Symbol
}
