package builder

import (
	"github.com/xyproto/multiforge/formats/elf"
	"github.com/xyproto/multiforge/formats/macho"
	"github.com/xyproto/multiforge/formats/pe"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
)

// Backends lists every code-generation target this toolkit dispatches to,
// one per supported triple, in the order target.PickBackend scans them.
var Backends = []target.Backend{
	{Name: "pe-x86-64-msvc", Primary: target.X86_64PEMsvc},
	{Name: "pe-x86-msvc", Primary: target.X86PEMsvc},
	{Name: "elf-x86-64-gnu", Primary: target.X86_64ELFGnu},
	{Name: "macho-x86-64", Primary: target.X86_64MachO},
	{Name: "jvm-bytecode", Primary: target.JVMBytecode61},
	{Name: "clr-runtime", Primary: target.CLRRuntime25},
	{Name: "wasm-wasi", Primary: target.Wasm32Wasi},
}

// Build lowers prog to final bytes for want, routing through the
// best-matching backend per target.PickBackend and that backend's format
// writer.
func Build(prog *ir.Program, want target.Triple) ([]byte, error) {
	backend, err := target.PickBackend(want, Backends)
	if err != nil {
		return nil, err
	}

	switch backend.Name {
	case "pe-x86-64-msvc", "pe-x86-msvc":
		p, err := buildPE(prog, want)
		if err != nil {
			return nil, err
		}
		return pe.Write(p)

	case "elf-x86-64-gnu":
		p, err := buildELF(prog)
		if err != nil {
			return nil, err
		}
		return elf.Write(p)

	case "macho-x86-64":
		p, err := buildMachO(prog)
		if err != nil {
			return nil, err
		}
		return macho.Write(p)

	case "jvm-bytecode":
		return buildJVM(prog, want)

	case "clr-runtime":
		p, err := buildCLRPE(prog)
		if err != nil {
			return nil, err
		}
		return pe.Write(p)

	case "wasm-wasi":
		return buildWasm(prog)

	default:
		return nil, &diag.UnsupportedArchitecture{Arch: backend.Name}
	}
}
