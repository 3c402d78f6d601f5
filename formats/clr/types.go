// Package clr builds .NET CLI metadata: the CLI (COR20) header that lives
// at PE data directory entry 14, a BSJB metadata root with its four
// heaps (#Strings, #US, #GUID, #Blob) and a #~ table stream, and
// tiny/fat method headers for MSIL method bodies.
//
// This toolkit's metadata is simplified and non-certified: enough for a
// reader to walk the heaps/tables and recover the assembled program, not
// enough to satisfy the CLR's own metadata validator (no full ECMA-335
// table encoding, no large-heap 4-byte index support — every heap here
// stays under 64KiB, so every index is 2 bytes).
package clr

const (
	CLIHeaderSize = 72

	MetadataSignature uint32 = 0x424A5342 // "BSJB"

	// Method body header flags.
	CorILMethodTinyFormat uint8  = 0x2
	CorILMethodFatFormat  uint16 = 0x3
	CorILMethodMoreSects  uint16 = 0x8
	CorILMethodInitLocals uint16 = 0x10

	// CLI header flags.
	ComImageFlagsILOnly uint32 = 0x1

	// Table IDs this toolkit emits, matching their ECMA-335 table index.
	TableModule     = 0x00
	TableTypeRef    = 0x01
	TableTypeDef    = 0x02
	TableMethodDef  = 0x06
	TableAssembly   = 0x20
	TableAssemblyRef = 0x23

	// Metadata token type tags (top byte of a token).
	TokenMethodDef = 0x06000000
	TokenTypeDef   = 0x02000000
	TokenTypeRef   = 0x01000000
	TokenString    = 0x70000000 // #US heap reference, as ldstr uses it
)

// Method is one method definition: its name, signature blob, and already
// encoded MSIL body.
type Method struct {
	Name      string
	Signature []byte // a blob-heap-ready signature, e.g. {0x00, 0x00, 0x01} for void f()
	MaxStack  uint16
	Body      []byte // encoded instructions, not including the tiny/fat header
	Locals    []byte // local variable signature blob, nil if the method has none
}

// Program is the metadata writer's input: one module, a minimal type
// universe (just enough to host an entry point), and its methods.
type Program struct {
	AssemblyName string
	ModuleName   string
	TypeName     string // the single type hosting Methods, e.g. "Program"
	Methods      []Method
	EntryPoint   int // index into Methods, or -1 for a library with no entry point
	UserStrings  []string
}

// Assembly is what Write produces: the CLI header and the metadata root
// are ready to embed verbatim; MethodBodies is a contiguous blob of
// tiny/fat-prefixed method bodies, and MethodRVAs gives each method's
// offset within it (an offset into MethodBodies, not an image RVA).
type Assembly struct {
	CLIHeader    []byte
	Metadata     []byte
	MethodBodies []byte
	MethodRVAs   []uint32 // one per Program.Methods entry, offset into MethodBodies
	EntryToken   uint32
}
