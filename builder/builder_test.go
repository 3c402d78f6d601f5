package builder

import (
	"testing"

	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
)

// constReturnProgram is a single "main" function that returns a constant,
// chosen because it lowers cleanly on every backend without touching any
// backend's call/string scope limits.
func constReturnProgram() *ir.Program {
	prog := ir.NewProgram("t")
	ret := ir.I32
	prog.AddFunction(ir.Function{
		Name:       "main",
		ReturnType: &ret,
		Body: []ir.Instruction{
			ir.LoadConstant(ir.ConstI32(42)),
			ir.Ret(),
		},
	})
	return prog
}

func TestBuildAllBackends(t *testing.T) {
	for _, want := range []target.Triple{
		target.X86_64PEMsvc,
		target.X86PEMsvc,
		target.X86_64ELFGnu,
		target.X86_64MachO,
		target.JVMBytecode61,
		target.CLRRuntime25,
		target.Wasm32Wasi,
	} {
		t.Run(want.String(), func(t *testing.T) {
			out, err := Build(constReturnProgram(), want)
			if err != nil {
				t.Fatalf("Build(%s): %v", want, err)
			}
			if len(out) == 0 {
				t.Fatalf("Build(%s) produced no bytes", want)
			}
		})
	}
}

func TestBuildUnsupportedTarget(t *testing.T) {
	_, err := Build(constReturnProgram(), target.Triple{Arch: target.ArchRiscv64})
	if err == nil {
		t.Fatal("expected an error for a triple with no matching backend")
	}
}

func TestEntryFunctionNameConventions(t *testing.T) {
	prog := ir.NewProgram("t")
	if got := entryFunctionName(prog); got != "" {
		t.Fatalf("empty program entry = %q, want empty", got)
	}

	prog.AddFunction(ir.Function{Name: "helper"})
	if got := entryFunctionName(prog); got != "helper" {
		t.Fatalf("first-declared entry = %q, want helper", got)
	}

	prog.AddFunction(ir.Function{Name: "main"})
	if got := entryFunctionName(prog); got != "main" {
		t.Fatalf("entry = %q, want main to win regardless of declaration order", got)
	}
}

func TestDataSectionInternsRepeats(t *testing.T) {
	d := newDataSection()
	a := d.intern("hello")
	b := d.intern("world")
	c := d.intern("hello")
	if a != c {
		t.Fatalf("intern(%q) not stable: %q vs %q", "hello", a, c)
	}
	if a == b {
		t.Fatalf("distinct strings got the same symbol %q", a)
	}
	want := len("hello") + 1 + len("world") + 1
	if len(d.bytes) != want {
		t.Fatalf("data section size = %d, want %d", len(d.bytes), want)
	}
}

// standaloneComparisonProgram loads two constants, compares them, and
// returns without an immediately-following jump - the one construct the
// native backends cannot lower.
func standaloneComparisonProgram() *ir.Program {
	prog := ir.NewProgram("t")
	ret := ir.I32
	prog.AddFunction(ir.Function{
		Name:       "main",
		ReturnType: &ret,
		Body: []ir.Instruction{
			ir.LoadConstant(ir.ConstI32(1)),
			ir.LoadConstant(ir.ConstI32(2)),
			{Op: ir.OpEq},
			ir.Ret(),
		},
	})
	return prog
}

func TestNativeBackendRejectsStandaloneComparison(t *testing.T) {
	for _, want := range []target.Triple{target.X86_64ELFGnu, target.X86_64MachO, target.X86_64PEMsvc} {
		t.Run(want.String(), func(t *testing.T) {
			if _, err := Build(standaloneComparisonProgram(), want); err == nil {
				t.Fatalf("Build(%s): expected an error for an un-fused comparison", want)
			}
		})
	}
}

// jvmCompareAndBranchProgram compares two constants and returns the result
// as a standalone boolean, with no following jump - a case JVM can
// materialize but the native backends cannot. Only asserted indirectly via
// a successful Build.
func jvmCompareAndBranchProgram() *ir.Program {
	prog := ir.NewProgram("t")
	ret := ir.I32
	prog.AddFunction(ir.Function{
		Name:       "main",
		ReturnType: &ret,
		Body: []ir.Instruction{
			ir.LoadConstant(ir.ConstI32(1)),
			ir.LoadConstant(ir.ConstI32(2)),
			{Op: ir.OpLt},
			ir.Ret(),
		},
	})
	return prog
}

func TestJVMBackendMaterializesStandaloneBoolean(t *testing.T) {
	out, err := Build(jvmCompareAndBranchProgram(), target.JVMBytecode61)
	if err != nil {
		t.Fatalf("Build(jvm): %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Build(jvm) produced no bytes")
	}
}

func TestWasmRejectsControlFlow(t *testing.T) {
	prog := ir.NewProgram("t")
	prog.AddFunction(ir.Function{
		Name: "main",
		Body: []ir.Instruction{
			ir.Jump("done"),
			ir.Label("done"),
			ir.Ret(),
		},
	})
	if _, err := Build(prog, target.Wasm32Wasi); err == nil {
		t.Fatal("expected an error for structured control flow on the WASM backend")
	}
}

func TestELFRejectsExternalCallOutsideSyscallTable(t *testing.T) {
	prog := ir.NewProgram("t")
	prog.AddFunction(ir.Function{
		Name: "main",
		Body: []ir.Instruction{
			ir.Call("printf", 0),
			ir.Ret(),
		},
	})
	if _, err := Build(prog, target.X86_64ELFGnu); err == nil {
		t.Fatal("expected an error calling an unrecognized external function on the ELF backend")
	}
}

// siblingCallProgram has "main" call another function declared in the same
// program - the one call shape the 32-bit PE backend supports.
func siblingCallProgram() *ir.Program {
	prog := ir.NewProgram("t")
	ret := ir.I32
	prog.AddFunction(ir.Function{
		Name:       "helper",
		ReturnType: &ret,
		Body: []ir.Instruction{
			ir.LoadConstant(ir.ConstI32(7)),
			ir.Ret(),
		},
	})
	prog.AddFunction(ir.Function{
		Name:       "main",
		ReturnType: &ret,
		Body: []ir.Instruction{
			ir.Call("helper", 0),
			ir.Ret(),
		},
	})
	return prog
}

func TestPEMode32AcceptsSiblingCalls(t *testing.T) {
	out, err := Build(siblingCallProgram(), target.X86PEMsvc)
	if err != nil {
		t.Fatalf("Build(x86-pe-msvc): %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Build(x86-pe-msvc) produced no bytes")
	}
}

func TestPEMode32RejectsExternalCalls(t *testing.T) {
	prog := ir.NewProgram("t")
	prog.AddFunction(ir.Function{
		Name: "main",
		Body: []ir.Instruction{
			ir.Call("printf", 0),
			ir.Ret(),
		},
	})
	if _, err := Build(prog, target.X86PEMsvc); err == nil {
		t.Fatal("expected an error calling an external DLL function on the 32-bit PE backend")
	}
}
