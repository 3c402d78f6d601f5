// Package x86asm implements the typed x86/x86-64 instruction IR and its
// machine-code encoder: ModR/M/SIB/REX construction, RIP-relative
// addressing, and late-patched fixups for call targets and IAT references.
package x86asm

// Reg identifies one member of the x86/x86-64 register file at a given
// width. Encoding is the 3-bit (plus REX extension bit) register number
// used in ModR/M reg and rm fields.
type Reg struct {
	Name     string
	Bits     int // 8, 16, 32, or 64
	Encoding uint8
	HighByte bool // true for AH/CH/DH/BH (no REX allowed with these)
}

func (r Reg) Ext() bool { return r.Encoding >= 8 }
func (r Reg) Low3() uint8 { return r.Encoding & 7 }

var (
	RAX = Reg{"rax", 64, 0, false}
	RCX = Reg{"rcx", 64, 1, false}
	RDX = Reg{"rdx", 64, 2, false}
	RBX = Reg{"rbx", 64, 3, false}
	RSP = Reg{"rsp", 64, 4, false}
	RBP = Reg{"rbp", 64, 5, false}
	RSI = Reg{"rsi", 64, 6, false}
	RDI = Reg{"rdi", 64, 7, false}
	R8  = Reg{"r8", 64, 8, false}
	R9  = Reg{"r9", 64, 9, false}
	R10 = Reg{"r10", 64, 10, false}
	R11 = Reg{"r11", 64, 11, false}
	R12 = Reg{"r12", 64, 12, false}
	R13 = Reg{"r13", 64, 13, false}
	R14 = Reg{"r14", 64, 14, false}
	R15 = Reg{"r15", 64, 15, false}

	EAX = Reg{"eax", 32, 0, false}
	ECX = Reg{"ecx", 32, 1, false}
	EDX = Reg{"edx", 32, 2, false}
	EBX = Reg{"ebx", 32, 3, false}
	ESP = Reg{"esp", 32, 4, false}
	EBP = Reg{"ebp", 32, 5, false}
	ESI = Reg{"esi", 32, 6, false}
	EDI = Reg{"edi", 32, 7, false}

	AX = Reg{"ax", 16, 0, false}
	CX = Reg{"cx", 16, 1, false}
	DX = Reg{"dx", 16, 2, false}
	BX = Reg{"bx", 16, 3, false}

	AL = Reg{"al", 8, 0, false}
	CL = Reg{"cl", 8, 1, false}
	DL = Reg{"dl", 8, 2, false}
	BL = Reg{"bl", 8, 3, false}
	AH = Reg{"ah", 8, 4, true}
	CH = Reg{"ch", 8, 5, true}
	DH = Reg{"dh", 8, 6, true}
	BH = Reg{"bh", 8, 7, true}
)

var byName = func() map[string]Reg {
	all := []Reg{
		RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15,
		EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI,
		AX, CX, DX, BX,
		AL, CL, DL, BL, AH, CH, DH, BH,
	}
	m := make(map[string]Reg, len(all))
	for _, r := range all {
		m[r.Name] = r
	}
	return m
}()

// Lookup resolves a register by its canonical lowercase name.
func Lookup(name string) (Reg, bool) {
	r, ok := byName[name]
	return r, ok
}
