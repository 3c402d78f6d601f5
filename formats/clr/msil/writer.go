package msil

import (
	"fmt"
	"strings"
)

// Write renders a Class back to MSIL text.
func Write(c *Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".assembly %s\n", c.AssemblyName)
	fmt.Fprintf(&b, ".module %s\n", c.ModuleName)
	fmt.Fprintf(&b, ".class public %s extends %s\n{\n", c.ClassName, orDefault(c.Extends, "System.Object"))
	for _, m := range c.Methods {
		writeMethod(&b, m)
	}
	b.WriteString("}\n")
	return b.String()
}

func writeMethod(b *strings.Builder, m Method) {
	b.WriteString("    .method")
	if m.Public {
		b.WriteString(" public")
	}
	if m.Static {
		b.WriteString(" static")
	}
	fmt.Fprintf(b, " %s %s(%s)\n    {\n", m.ReturnType, m.Name, paramList(m.Parameters))
	if m.EntryPoint {
		b.WriteString("        .entrypoint\n")
	}
	if m.MaxStack != 0 {
		fmt.Fprintf(b, "        .maxstack %d\n", m.MaxStack)
	}
	if len(m.Locals) > 0 {
		b.WriteString("        .locals init (" + localsList(m.Locals) + ")\n")
	}
	for _, insn := range m.Body {
		b.WriteString("        " + insn.Opcode)
		for _, op := range insn.Operands {
			if strings.ContainsAny(op, " \t") || needsQuoting(insn.Opcode) {
				b.WriteString(fmt.Sprintf(" %q", op))
			} else {
				b.WriteString(" " + op)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("    }\n")
}

func needsQuoting(opcode string) bool {
	return opcode == "ldstr"
}

func paramList(params []Parameter) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if p.Name != "" {
			parts[i] = p.Type + " " + p.Name
		} else {
			parts[i] = p.Type
		}
	}
	return strings.Join(parts, ",")
}

func localsList(locals []Local) string {
	parts := make([]string, len(locals))
	for i, l := range locals {
		if l.Name != "" {
			parts[i] = l.Type + " " + l.Name
		} else {
			parts[i] = l.Type
		}
	}
	return strings.Join(parts, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
