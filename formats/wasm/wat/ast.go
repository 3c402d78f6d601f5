package wat

// Module is the root of a parsed WAT file.
type Module struct {
	Funcs    []Func
	Memories []MemoryDecl
}

// Func is one (func ...) form: its signature, locals, and flat
// instruction list. Folded (nested) instruction syntax is not modeled —
// only the flat sequential form, which is what this toolkit emits and the
// only form its own writer needs to round-trip.
type Func struct {
	Export     string // "" if not exported
	Params     []string
	Results    []string
	Locals     []string
	Body       []Instr
}

// Instr is one instruction: a mnemonic plus its textual operands (a local
// index, an i32 constant, a call target, ...).
type Instr struct {
	Op   string
	Args []string
}

// MemoryDecl is one (memory min max?) form, optionally exported.
type MemoryDecl struct {
	Export string
	Min    uint32
	Max    uint32
	HasMax bool
}
