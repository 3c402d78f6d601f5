// Command forgec is a thin CLI wrapper around the builder package: it
// selects a target triple, builds a small demonstration program, lowers it
// through builder.Build, and writes the resulting bytes to a file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/multiforge/builder"
	"github.com/xyproto/multiforge/internal/config"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
)

const versionString = "forgec 0.1.0"

// namedTriples maps a -target flag value to the triple it selects. Kept in
// sync with builder.Backends.
var namedTriples = map[string]target.Triple{
	"x86-pe-msvc":      target.X86PEMsvc,
	"x86_64-pe-msvc":   target.X86_64PEMsvc,
	"x86_64-elf-gnu":   target.X86_64ELFGnu,
	"x86_64-macho-gnu": target.X86_64MachO,
	"jvm-bytecode":     target.JVMBytecode61,
	"clr-runtime":      target.CLRRuntime25,
	"wasm32-wasi":      target.Wasm32Wasi,
}

func targetNames() []string {
	names := make([]string, 0, len(namedTriples))
	for name := range namedTriples {
		names = append(names, name)
	}
	return names
}

// demoProgram builds a tiny universal-IR program exercised identically by
// every backend: a single "main" function that returns a constant. It
// avoids calls and string literals so it lowers cleanly regardless of
// which backend's import/intrinsic scope it lands on.
func demoProgram() *ir.Program {
	prog := ir.NewProgram("forgec_demo")
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

var verbose bool

func main() {
	defaultTarget := config.DefaultTriple()
	if defaultTarget == "" {
		defaultTarget = "x86_64-elf-gnu"
	}

	var targetFlag = flag.String("target", defaultTarget, "target triple, one of: "+fmt.Sprint(targetNames())+" (default from $FORGE_TARGET)")
	var outputFlag = flag.String("o", "a.out", "output filename")
	var verboseFlag = flag.Bool("v", config.Verbose(), "verbose mode (default from $FORGE_VERBOSE)")
	var versionFlag = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(versionString)
		os.Exit(0)
	}
	verbose = *verboseFlag

	want, ok := namedTriples[*targetFlag]
	if !ok {
		fmt.Fprintf(os.Stderr, "forgec: unknown -target %q (want one of: %v)\n", *targetFlag, targetNames())
		os.Exit(1)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "forgec: building for %s\n", want.String())
	}

	out, err := builder.Build(demoProgram(), want)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgec: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outputFlag, out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "forgec: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "forgec: wrote %s (%d bytes)\n", *outputFlag, len(out))
	} else {
		fmt.Println(*outputFlag)
	}
}
