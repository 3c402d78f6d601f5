package x86asm

// FixupKind identifies how a late-patched placeholder is resolved once
// image layout is known.
type FixupKind int

const (
	// RelativeCall32 patches target_RVA - (call_site_RVA + 4).
	RelativeCall32 FixupKind = iota
	// RipRelative32 patches target_RVA - (insn_RVA + insn_length).
	RipRelative32
	// Absolute64 patches image_base + target_RVA.
	Absolute64
	// Absolute32 patches image_base + target_RVA as a 32-bit value (x86, no REX.W).
	Absolute32
)

// Fixup records a placeholder emitted during encoding that must be patched
// once the containing backend has computed final addresses. Symbol
// identifies what the placeholder refers to; backends define
// their own symbol namespaces (label name, "iat:<dll>:<func>", "data:<off>").
type Fixup struct {
	OffsetInCode int
	Kind         FixupKind
	Symbol       string
	InsnLen      int // total encoded length of the owning instruction, for RipRelative32
}

// Arena collects fixups produced while encoding a function body. It is
// consumed exactly once by the layout phase that patches every offset; any
// entry left unconsumed after patching is a hard error (see Apply).
type Arena struct {
	Fixups []Fixup
}

func (a *Arena) Record(f Fixup) { a.Fixups = append(a.Fixups, f) }

// Resolver maps a fixup's symbol to its resolved RVA. For Absolute64 and
// Absolute32 fixups Apply adds imageBase to that RVA itself.
type Resolver func(symbol string) (targetRVA uint64, ok bool)

// Apply patches every fixup's placeholder bytes in code in place. codeRVA
// is the RVA at which code[0] will be loaded. Returns an error naming the
// first symbol that failed to resolve; callers should treat this as fatal.
func (a *Arena) Apply(code []byte, codeRVA uint64, imageBase uint64, resolve Resolver) error {
	for _, f := range a.Fixups {
		target, ok := resolve(f.Symbol)
		if !ok {
			return &unresolvedFixupError{Symbol: f.Symbol}
		}
		var value uint64
		switch f.Kind {
		case RelativeCall32:
			callSiteRVA := codeRVA + uint64(f.OffsetInCode)
			value = target - (callSiteRVA + 4)
		case RipRelative32:
			insnRVA := codeRVA + uint64(f.OffsetInCode-(f.InsnLen-4))
			value = target - (insnRVA + uint64(f.InsnLen))
		case Absolute64:
			value = imageBase + target
			put64(code[f.OffsetInCode:f.OffsetInCode+8], value)
			continue
		case Absolute32:
			value = imageBase + target
		}
		put32(code[f.OffsetInCode:f.OffsetInCode+4], uint32(value))
	}
	a.Fixups = nil
	return nil
}

// Pending reports whether any fixup remains unconsumed.
func (a *Arena) Pending() bool { return len(a.Fixups) > 0 }

func put32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func put64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

type unresolvedFixupError struct{ Symbol string }

func (e *unresolvedFixupError) Error() string {
	return "unresolved fixup symbol: " + e.Symbol
}
