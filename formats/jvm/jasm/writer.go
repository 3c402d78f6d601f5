package jasm

import (
	"fmt"
	"strings"
)

// Write renders c as JASM source text.
func Write(c *Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".class %s%s\n", flag(c.Public, "public "), c.Name)
	fmt.Fprintf(&b, ".super %s\n", c.Super)
	for _, iface := range c.Interfaces {
		fmt.Fprintf(&b, ".implements %s\n", iface)
	}
	for _, f := range c.Fields {
		fmt.Fprintf(&b, ".field %s%s%s%s %s\n", flag(f.Public, "public "), flag(f.Static, "static "),
			flag(f.Final, "final "), f.Name, f.Descriptor)
	}
	for _, m := range c.Methods {
		fmt.Fprintf(&b, "\n.method %s%s%s%s%s\n", flag(m.Public, "public "), flag(m.Static, "static "),
			flag(m.Final, "final "), m.Name, m.Descriptor)
		fmt.Fprintf(&b, "    .maxstack %d\n", m.MaxStack)
		fmt.Fprintf(&b, "    .maxlocals %d\n", m.MaxLocals)
		for _, insn := range m.Body {
			if len(insn.Args) == 0 {
				fmt.Fprintf(&b, "    %s\n", insn.Mnemonic)
				continue
			}
			args := insn.Args
			if insn.Mnemonic == "ldc" { // string operand: quote it so Parse reads it back as one token
				args = []string{"\"" + strings.Join(insn.Args, " ") + "\""}
			}
			fmt.Fprintf(&b, "    %s %s\n", insn.Mnemonic, strings.Join(args, " "))
		}
		b.WriteString(".end method\n")
	}
	return b.String()
}

func flag(on bool, s string) string {
	if on {
		return s
	}
	return ""
}
