package builder

import (
	"github.com/xyproto/multiforge/formats/elf"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/x86asm"
)

// buildELF lowers prog to a statically-linked ELF executable. The writer's
// fixup resolver only understands local code labels (no PLT, no dynamic
// symbol table), so external calls are scoped to the sys_read/sys_write/
// sys_exit raw syscalls; anything else non-sibling is reported unsupported
// by the shared syscall call marshaler. There is no data section either,
// so OpLoadString is unsupported on this backend.
func buildELF(prog *ir.Program) (*elf.Program, error) {
	mode := x86asm.Mode64
	r := regsFor(mode)
	nc := &nativeCompiler{
		mode: mode,
		r:    r,
		call: syscallCallMarshaler("x86-64 (ELF)", linuxSyscalls),
	}
	cb := x86asm.NewCodeBuilder(mode)
	if err := nc.compileProgram(prog, cb); err != nil {
		return nil, err
	}

	fixups := make([]elf.CodeFixup, len(cb.Arena.Fixups))
	for i, f := range cb.Arena.Fixups {
		fixups[i] = elf.CodeFixup{OffsetInCode: f.OffsetInCode, Kind: elf.FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen}
	}

	return &elf.Program{
		Machine:    elf.MachineX86_64,
		Code:       cb.Code,
		EntryLabel: entryFunctionName(prog),
		CodeLabels: cb.Labels(),
		Fixups:     fixups,
	}, nil
}
