package builder

import (
	"github.com/xyproto/multiforge/formats/macho"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/x86asm"
)

// buildMachO lowers prog to a statically-linked Mach-O 64-bit executable.
// Unlike the PE/ELF writers, macho.Program carries no Fixups field at all,
// so this backend must patch its own Call/Jmp/Jcc placeholders before
// handing the writer finished code. RelativeCall32/RipRelative32 fixup math
// is callSiteRVA/insnRVA relative to the target, and since both the call
// site and every label target live in the same Code buffer, the actual
// code-section base RVA cancels out of the subtraction; resolving against
// offset 0 rather than the real __text VM address gives identical bytes.
func buildMachO(prog *ir.Program) (*macho.Program, error) {
	mode := x86asm.Mode64
	r := regsFor(mode)
	nc := &nativeCompiler{
		mode: mode,
		r:    r,
		call: syscallCallMarshaler("x86-64 (Mach-O)", darwinSyscalls),
	}
	cb := x86asm.NewCodeBuilder(mode)
	if err := nc.compileProgram(prog, cb); err != nil {
		return nil, err
	}

	labels := cb.Labels()
	resolve := func(sym string) (uint64, bool) {
		off, ok := labels[sym]
		return uint64(off), ok
	}
	if err := cb.Arena.Apply(cb.Code, 0, 0, resolve); err != nil {
		return nil, &diag.InvalidData{Message: err.Error()}
	}

	entryOff, ok := labels[entryFunctionName(prog)]
	if !ok {
		return nil, &diag.InvalidData{Message: "no entry function to place at the Mach-O entry point"}
	}

	return &macho.Program{
		CPUType:    macho.CPUTypeX86_64,
		CPUSubtype: macho.CPUSubtypeX86_64All,
		Code:       cb.Code,
		EntryOff:   uint64(entryOff),
	}, nil
}
