package msil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/multiforge/formats/clr"
)

// Assemble parses MSIL source and builds the .NET metadata Assembly hosting
// it. Unlike jvm/jasm's class-file bytes or wasm/wat's module bytes, CLR
// metadata has no standalone file form of its own — it always lives inside
// a PE image — so Assemble stops at the clr.Assembly the PE builder embeds,
// rather than a final on-disk byte slice.
func Assemble(src string) (*clr.Assembly, error) {
	c, err := Parse(src)
	if err != nil {
		return nil, err
	}
	prog, err := ToProgram(c)
	if err != nil {
		return nil, err
	}
	return clr.Write(prog)
}

// ToProgram lowers a parsed Class into a clr.Program: one Method per MSIL
// method, with each body's instructions encoded to raw bytes.
func ToProgram(c *Class) (*clr.Program, error) {
	prog := &clr.Program{
		AssemblyName: c.AssemblyName,
		ModuleName:   c.ModuleName,
		TypeName:     c.ClassName,
		EntryPoint:   -1,
	}

	methodIndex := make(map[string]int, len(c.Methods))
	for i, m := range c.Methods {
		methodIndex[m.Name] = i
	}

	enc := &bodyEncoder{methodIndex: methodIndex}
	for i, m := range c.Methods {
		body, err := enc.encodeBody(m.Body)
		if err != nil {
			return nil, fmt.Errorf("msil: method %s: %w", m.Name, err)
		}
		var locals []byte
		if len(m.Locals) > 0 {
			locals = encodeLocalsSignature(m.Locals)
		}
		prog.Methods = append(prog.Methods, clr.Method{
			Name:      m.Name,
			Signature: encodeMethodSignature(m),
			MaxStack:  m.MaxStack,
			Body:      body,
			Locals:    locals,
		})
		if m.EntryPoint {
			prog.EntryPoint = i
		}
	}
	prog.UserStrings = enc.userStrings
	return prog, nil
}

// encodeMethodSignature produces a minimal signature blob: calling
// convention byte (0 = default managed), param count, then a return-type
// byte and one byte per parameter using encodeTypeByte.
func encodeMethodSignature(m Method) []byte {
	sig := []byte{0x00, byte(len(m.Parameters))}
	sig = append(sig, encodeTypeByte(m.ReturnType))
	for _, p := range m.Parameters {
		sig = append(sig, encodeTypeByte(p.Type))
	}
	return sig
}

func encodeLocalsSignature(locals []Local) []byte {
	sig := []byte{0x07, byte(len(locals))} // LOCAL_SIG prefix, count
	for _, l := range locals {
		sig = append(sig, encodeTypeByte(l.Type))
	}
	return sig
}

// encodeTypeByte maps a handful of common CLR element types to their
// ECMA-335 ELEMENT_TYPE byte; anything unrecognized falls back to
// ELEMENT_TYPE_OBJECT so the signature still has a well-formed shape.
func encodeTypeByte(t string) byte {
	switch t {
	case "void":
		return 0x01
	case "bool":
		return 0x02
	case "char":
		return 0x03
	case "int8":
		return 0x04
	case "uint8":
		return 0x05
	case "int16":
		return 0x06
	case "uint16":
		return 0x07
	case "int32":
		return 0x08
	case "uint32":
		return 0x09
	case "int64":
		return 0x0A
	case "uint64":
		return 0x0B
	case "float32":
		return 0x0C
	case "float64":
		return 0x0D
	case "string":
		return 0x0E
	default:
		return 0x1C // ELEMENT_TYPE_OBJECT
	}
}

// bodyEncoder turns parsed instructions into raw IL bytes, interning ldstr
// operands into a user-string list and resolving call targets that name a
// sibling method to that method's (1-based) MethodDef token.
type bodyEncoder struct {
	methodIndex map[string]int
	userStrings []string
}

func (e *bodyEncoder) internUserString(s string) uint32 {
	for i, existing := range e.userStrings {
		if existing == s {
			return clr.TokenString | uint32(i+1)
		}
	}
	e.userStrings = append(e.userStrings, s)
	return clr.TokenString | uint32(len(e.userStrings))
}

func (e *bodyEncoder) encodeBody(body []Instruction) ([]byte, error) {
	var out []byte
	for _, insn := range body {
		b, err := e.encodeInstruction(insn)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (e *bodyEncoder) encodeInstruction(insn Instruction) ([]byte, error) {
	switch insn.Opcode {
	case "nop":
		return []byte{0x00}, nil
	case "ret":
		return []byte{0x2A}, nil
	case "pop":
		return []byte{0x26}, nil
	case "dup":
		return []byte{0x25}, nil
	case "ldarg.0":
		return []byte{0x02}, nil
	case "ldarg.1":
		return []byte{0x03}, nil
	case "ldarg.2":
		return []byte{0x04}, nil
	case "ldarg.3":
		return []byte{0x05}, nil
	case "add":
		return []byte{0x58}, nil
	case "ldstr":
		if len(insn.Operands) != 1 {
			return nil, fmt.Errorf("ldstr: expected one operand")
		}
		token := e.internUserString(insn.Operands[0])
		return append([]byte{0x72}, tokenBytes(token)...), nil
	case "ldc.i4":
		if len(insn.Operands) != 1 {
			return nil, fmt.Errorf("ldc.i4: expected one operand")
		}
		n, err := strconv.ParseInt(insn.Operands[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ldc.i4: %w", err)
		}
		return append([]byte{0x20}, tokenBytes(uint32(int32(n)))...), nil
	case "call":
		token := e.callTarget(insn.Operands)
		return append([]byte{0x28}, tokenBytes(token)...), nil
	default:
		return nil, fmt.Errorf("unsupported opcode %q", insn.Opcode)
	}
}

// callTarget resolves a call's final operand: "Name(...)" referring to a
// sibling method gets that method's MethodDef token; anything else (an
// external reference like "[mscorlib]System.Console::WriteLine") gets a
// placeholder MemberRef-space token, since this toolkit doesn't model an
// external MemberRef table — matching the package's simplified/
// non-certified scope.
func (e *bodyEncoder) callTarget(operands []string) uint32 {
	if len(operands) == 0 {
		return 0
	}
	last := operands[len(operands)-1]
	name := last
	if i := strings.IndexByte(last, '('); i >= 0 {
		name = last[:i]
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if idx, ok := e.methodIndex[name]; ok {
		return clr.TokenMethodDef | uint32(idx+1)
	}
	return 0x0A000000 | uint32(len(e.userStrings)+1)
}

func tokenBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
