package builder

import (
	"github.com/xyproto/multiforge/formats/pe"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
	"github.com/xyproto/multiforge/x86asm"
)

// winArgRegs is the Microsoft x64 calling convention's integer argument
// register order.
var winArgRegs = []x86asm.Reg{x86asm.RCX, x86asm.RDX, x86asm.R8, x86asm.R9}

// winX64ShadowSpace is the Microsoft x64 convention's caller-allocated
// scratch space, fixed at 40 bytes (32 bytes of register spill slots plus
// 8 bytes for 16-byte stack alignment at the call site).
const winX64ShadowSpace = 40

// peImportTable maps a handful of well-known external call names to the DLL
// that exports them, for programs that call out to the Windows runtime
// without declaring imports themselves.
var peImportTable = map[string]string{
	"ExitProcess":  "kernel32.dll",
	"WriteFile":    "kernel32.dll",
	"GetStdHandle": "kernel32.dll",
	"printf":       "msvcrt.dll",
	"exit":         "msvcrt.dll",
}

func peImportDLL(name string) string {
	if dll, ok := peImportTable[name]; ok {
		return dll
	}
	return "kernel32.dll"
}

// peImports accumulates the (dll, function) pairs a program's external
// calls reference, in first-seen order, for the final ImportedDLL table.
type peImports struct {
	order []string
	funcs map[string][]string
	seen  map[string]bool
}

func newPEImports() *peImports {
	return &peImports{funcs: map[string][]string{}, seen: map[string]bool{}}
}

func (p *peImports) add(dll, fn string) {
	key := dll + ":" + fn
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	if _, ok := p.funcs[dll]; !ok {
		p.order = append(p.order, dll)
	}
	p.funcs[dll] = append(p.funcs[dll], fn)
}

func (p *peImports) table() []pe.ImportedDLL {
	out := make([]pe.ImportedDLL, 0, len(p.order))
	for _, dll := range p.order {
		fns := make([]pe.ImportedFunction, 0, len(p.funcs[dll]))
		for _, fn := range p.funcs[dll] {
			fns = append(fns, pe.ImportedFunction{Name: fn})
		}
		out = append(out, pe.ImportedDLL{Name: dll, Functions: fns})
	}
	return out
}

// buildPE lowers prog to a pe.Program for the given target triple. Mode64
// calls follow the Microsoft x64 convention (register args, 40-byte shadow
// space); external calls go through the import address table via a
// RIP-relative fixup. Mode32 is scoped to sibling calls only: x86asm has no
// encoder path for an absolute, non-RIP-relative 32-bit call operand, so an
// external DLL call in 32-bit mode is reported as unsupported rather than
// mis-encoded.
func buildPE(prog *ir.Program, want target.Triple) (*pe.Program, error) {
	mode := x86asm.Mode64
	imageBase := pe.ImageBaseDefaultX64
	machine := pe.MachineAMD64
	is64 := true
	if want.Arch == target.ArchX86 {
		mode = x86asm.Mode32
		imageBase = pe.ImageBaseDefaultX86
		machine = pe.MachineI386
		is64 = false
	}

	imports := newPEImports()
	data := newDataSection()
	r := regsFor(mode)

	var call callMarshaler
	if mode == x86asm.Mode64 {
		call = func(cb *x86asm.CodeBuilder, sibling bool, name string, argc int) error {
			if argc > len(winArgRegs) {
				return &diag.InvalidInstruction{Mnemonic: "call", Architecture: "x86-64", Reason: "more than 4 arguments is unsupported by the Windows x64 backend"}
			}
			for i := argc - 1; i >= 0; i-- {
				if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(winArgRegs[i])}); err != nil {
					return err
				}
			}
			if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Sub, Dst: x86asm.RegOp(x86asm.RSP), Src: x86asm.ImmOp(winX64ShadowSpace, 32)}); err != nil {
				return err
			}
			callDst := x86asm.LabelOp(name)
			if !sibling {
				dll := peImportDLL(name)
				imports.add(dll, name)
				callDst = x86asm.RIPSymOp("iat:" + dll + ":" + name)
			}
			if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Call, Dst: callDst}); err != nil {
				return err
			}
			return cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Add, Dst: x86asm.RegOp(x86asm.RSP), Src: x86asm.ImmOp(winX64ShadowSpace, 32)})
		}
	} else {
		call = func(cb *x86asm.CodeBuilder, sibling bool, name string, argc int) error {
			if !sibling {
				return &diag.InvalidInstruction{Mnemonic: "call", Architecture: "x86", Reason: "the 32-bit PE backend only supports calls to sibling functions"}
			}
			if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Call, Dst: x86asm.LabelOp(name)}); err != nil {
				return err
			}
			if argc > 0 {
				return cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Add, Dst: x86asm.RegOp(x86asm.ESP), Src: x86asm.ImmOp(int64(4*argc), 32)})
			}
			return nil
		}
	}

	var loadStr stringLoader
	if mode == x86asm.Mode64 {
		loadStr = func(cb *x86asm.CodeBuilder, s string) error {
			sym := data.intern(s)
			return cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Lea, Dst: x86asm.RegOp(r.A), Src: x86asm.RIPSymOp(sym)})
		}
	}

	nc := &nativeCompiler{mode: mode, r: r, argRegs: winArgRegs, call: call, loadStr: loadStr}
	cb := x86asm.NewCodeBuilder(mode)
	if err := nc.compileProgram(prog, cb); err != nil {
		return nil, err
	}

	fixups := make([]pe.CodeFixup, len(cb.Arena.Fixups))
	for i, f := range cb.Arena.Fixups {
		fixups[i] = pe.CodeFixup{OffsetInCode: f.OffsetInCode, Kind: pe.FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen}
	}

	return &pe.Program{
		Machine:            machine,
		Is64:               is64,
		Subsystem:          pe.SubsystemWindowsCUI,
		DllCharacteristics: pe.DllCharacteristicsDynamicBase | pe.DllCharacteristicsNXCompat,
		ImageBase:          imageBase,
		EntryLabel:         entryFunctionName(prog),
		Code:               cb.Code,
		CodeLabels:         cb.Labels(),
		Data:               data.bytes,
		Imports:            imports.table(),
		Fixups:             fixups,
	}, nil
}
