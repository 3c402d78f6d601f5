package wat

import (
	"fmt"
	"strings"
)

// Write renders m as WAT source text, wrapped in a single (module ...).
func Write(m *Module) string {
	var b strings.Builder
	b.WriteString("(module\n")
	for _, mem := range m.Memories {
		b.WriteString("  (memory")
		if mem.Export != "" {
			fmt.Fprintf(&b, " (export %q)", mem.Export)
		}
		fmt.Fprintf(&b, " %d", mem.Min)
		if mem.HasMax {
			fmt.Fprintf(&b, " %d", mem.Max)
		}
		b.WriteString(")\n")
	}
	for _, fn := range m.Funcs {
		writeFunc(&b, fn)
	}
	b.WriteString(")\n")
	return b.String()
}

func writeFunc(b *strings.Builder, fn Func) {
	b.WriteString("  (func")
	if fn.Export != "" {
		fmt.Fprintf(b, " (export %q)", fn.Export)
	}
	for _, p := range fn.Params {
		fmt.Fprintf(b, " (param %s)", p)
	}
	for _, r := range fn.Results {
		fmt.Fprintf(b, " (result %s)", r)
	}
	for _, l := range fn.Locals {
		fmt.Fprintf(b, " (local %s)", l)
	}
	b.WriteString("\n")
	for _, insn := range fn.Body {
		if len(insn.Args) == 0 {
			fmt.Fprintf(b, "    %s\n", insn.Op)
			continue
		}
		fmt.Fprintf(b, "    %s %s\n", insn.Op, strings.Join(insn.Args, " "))
	}
	b.WriteString("  )\n")
}
