package jasm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/multiforge/formats/jvm"
)

// Assemble parses JASM source and encodes it straight to class-file bytes.
func Assemble(src string) ([]byte, error) {
	class, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return ToClassBytes(class)
}

// ToClassBytes encodes c into class-file bytes, assembling each method's
// instruction list into bytecode against a single shared constant pool.
func ToClassBytes(c *Class) ([]byte, error) {
	b := jvm.NewBuilder()
	pool := b.Pool()

	prog := &jvm.Program{
		MajorVersion: 52, // Java 8
		AccessFlags:  classAccessFlags(c),
		ThisClass:    c.Name,
		SuperClass:   orObjectSuper(c.Super),
		Interfaces:   c.Interfaces,
	}
	for _, f := range c.Fields {
		prog.Fields = append(prog.Fields, jvm.Field{
			AccessFlags: fieldAccessFlags(f), Name: f.Name, Descriptor: f.Descriptor,
		})
	}
	for _, m := range c.Methods {
		code, err := assembleBody(pool, m.Body)
		if err != nil {
			return nil, fmt.Errorf("jasm: method %s%s: %w", m.Name, m.Descriptor, err)
		}
		prog.Methods = append(prog.Methods, jvm.Method{
			AccessFlags: methodAccessFlags(m), Name: m.Name, Descriptor: m.Descriptor,
			MaxStack: uint16(m.MaxStack), MaxLocals: uint16(m.MaxLocals), Code: code,
		})
	}
	return b.Build(prog)
}

func orObjectSuper(s string) string {
	if s == "" {
		return "java/lang/Object"
	}
	return s
}

func classAccessFlags(c *Class) uint16 {
	flags := jvm.AccSuper
	if c.Public {
		flags |= jvm.AccPublic
	}
	return flags
}

func fieldAccessFlags(f Field) uint16 {
	var flags uint16
	if f.Public {
		flags |= jvm.AccPublic
	}
	if f.Static {
		flags |= jvm.AccStatic
	}
	if f.Final {
		flags |= jvm.AccFinal
	}
	return flags
}

func methodAccessFlags(m Method) uint16 {
	var flags uint16
	if m.Public {
		flags |= jvm.AccPublic
	}
	if m.Static {
		flags |= jvm.AccStatic
	}
	if m.Final {
		flags |= jvm.AccFinal
	}
	return flags
}

// assembleBody encodes a JASM instruction list into JVM bytecode. The
// mnemonic set covers the instructions a small assembled program actually
// needs: constant loads, field/method dispatch, locals, stack shuffling,
// and the return family. Anything else is reported as an error rather than
// silently dropped.
func assembleBody(pool *jvm.ConstantPool, body []Instruction) ([]byte, error) {
	var out []byte
	u8 := func(v byte) { out = append(out, v) }
	u16 := func(v uint16) { out = append(out, byte(v>>8), byte(v)) }

	for _, insn := range body {
		switch insn.Mnemonic {
		case "nop":
			u8(0x00)
		case "aconst_null":
			u8(0x01)
		case "iconst_m1":
			u8(0x02)
		case "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5":
			u8(0x03 + (insn.Mnemonic[7] - '0'))
		case "bipush":
			n, err := intArg(insn, 0)
			if err != nil {
				return nil, err
			}
			u8(0x10)
			out = append(out, byte(n))
		case "sipush":
			n, err := intArg(insn, 0)
			if err != nil {
				return nil, err
			}
			u8(0x11)
			u16(uint16(n))
		case "ldc":
			idx := pool.String(stringArg(insn, 0))
			if idx > 0xFF {
				u8(0x13) // ldc_w
				u16(idx)
			} else {
				u8(0x12)
				u8(byte(idx))
			}
		case "aload_0", "aload_1", "aload_2", "aload_3":
			u8(0x2a + (insn.Mnemonic[6] - '0'))
		case "iload_0", "iload_1", "iload_2", "iload_3":
			u8(0x1a + (insn.Mnemonic[6] - '0'))
		case "astore_0", "astore_1", "astore_2", "astore_3":
			u8(0x4b + (insn.Mnemonic[7] - '0'))
		case "istore_0", "istore_1", "istore_2", "istore_3":
			u8(0x3b + (insn.Mnemonic[7] - '0'))
		case "dup":
			u8(0x59)
		case "pop":
			u8(0x57)
		case "new":
			idx := pool.Class(stringArg(insn, 0))
			u8(0xbb)
			u16(idx)
		case "getstatic", "putstatic", "getfield", "putfield":
			class, name, desc, err := fieldRefArg(insn)
			if err != nil {
				return nil, err
			}
			idx := pool.Fieldref(class, name, desc)
			u8(fieldOpcode(insn.Mnemonic))
			u16(idx)
		case "invokevirtual", "invokespecial", "invokestatic":
			class, name, desc, err := methodRefArg(insn)
			if err != nil {
				return nil, err
			}
			idx := pool.Methodref(class, name, desc)
			u8(invokeOpcode(insn.Mnemonic))
			u16(idx)
		case "invokeinterface":
			class, name, desc, err := methodRefArg(insn)
			if err != nil {
				return nil, err
			}
			idx := pool.InterfaceMethodref(class, name, desc)
			argCount := countArgs(desc)
			u8(0xb9)
			u16(idx)
			u8(byte(argCount + 1))
			u8(0)
		case "return":
			u8(0xb1)
		case "ireturn":
			u8(0xac)
		case "areturn":
			u8(0xb0)
		case "lreturn":
			u8(0xad)
		case "freturn":
			u8(0xae)
		case "dreturn":
			u8(0xaf)
		default:
			return nil, fmt.Errorf("unsupported mnemonic %q", insn.Mnemonic)
		}
	}
	return out, nil
}

func fieldOpcode(mnemonic string) byte {
	switch mnemonic {
	case "getstatic":
		return 0xb2
	case "putstatic":
		return 0xb3
	case "getfield":
		return 0xb4
	default: // putfield
		return 0xb5
	}
}

func invokeOpcode(mnemonic string) byte {
	switch mnemonic {
	case "invokevirtual":
		return 0xb6
	case "invokespecial":
		return 0xb7
	default: // invokestatic
		return 0xb8
	}
}

func intArg(insn Instruction, i int) (int64, error) {
	if i >= len(insn.Args) {
		return 0, fmt.Errorf("%s: missing integer operand", insn.Mnemonic)
	}
	return strconv.ParseInt(insn.Args[i], 10, 32)
}

func stringArg(insn Instruction, i int) string {
	if i >= len(insn.Args) {
		return ""
	}
	return insn.Args[i]
}

// fieldRefArg expects "Class/field Descriptor".
func fieldRefArg(insn Instruction) (class, name, desc string, err error) {
	if len(insn.Args) < 2 {
		return "", "", "", fmt.Errorf("%s: expected Class/field descriptor", insn.Mnemonic)
	}
	idx := strings.LastIndexByte(insn.Args[0], '/')
	if idx < 0 {
		return "", "", "", fmt.Errorf("%s: malformed field reference %q", insn.Mnemonic, insn.Args[0])
	}
	return insn.Args[0][:idx], insn.Args[0][idx+1:], insn.Args[1], nil
}

// methodRefArg expects "Class/method(args)ret" as one token.
func methodRefArg(insn Instruction) (class, name, desc string, err error) {
	if len(insn.Args) < 1 {
		return "", "", "", fmt.Errorf("%s: expected Class/method(desc)ret", insn.Mnemonic)
	}
	full := insn.Args[0]
	paren := strings.IndexByte(full, '(')
	if paren < 0 {
		return "", "", "", fmt.Errorf("%s: malformed method reference %q", insn.Mnemonic, full)
	}
	head, desc := full[:paren], full[paren:]
	slash := strings.LastIndexByte(head, '/')
	if slash < 0 {
		return "", "", "", fmt.Errorf("%s: malformed method reference %q", insn.Mnemonic, full)
	}
	return head[:slash], head[slash+1:], desc, nil
}

// countArgs counts parameter slots in a "(...)ret" descriptor (object and
// array types each count as one slot; this toolkit doesn't assemble long/
// double parameters through invokeinterface).
func countArgs(desc string) int {
	i := strings.IndexByte(desc, '(') + 1
	end := strings.IndexByte(desc, ')')
	count := 0
	for i < end {
		switch desc[i] {
		case 'L':
			i = strings.IndexByte(desc[i:], ';') + i + 1
		case '[':
			i++
			continue
		default:
			i++
		}
		count++
	}
	return count
}
