package wat

import (
	"fmt"
	"strconv"

	"github.com/xyproto/multiforge/formats/wasm"
)

// Assemble parses WAT source and encodes it straight to module bytes.
func Assemble(src string) ([]byte, error) {
	m, err := Parse(src)
	if err != nil {
		return nil, err
	}
	prog, err := ToProgram(m)
	if err != nil {
		return nil, err
	}
	return wasm.Write(prog)
}

// ToProgram lowers a parsed WAT module into a wasm.Program: each distinct
// function signature becomes one type-section entry (deduplicated by
// shape), instructions are encoded to their binary opcodes, and export/
// memory declarations carry over directly.
func ToProgram(m *Module) (*wasm.Program, error) {
	prog := &wasm.Program{}
	typeIdx := map[string]uint32{}

	for _, fn := range m.Funcs {
		ft, err := toFuncType(fn)
		if err != nil {
			return nil, err
		}
		key := funcTypeKey(ft)
		idx, ok := typeIdx[key]
		if !ok {
			idx = uint32(len(prog.Types))
			prog.Types = append(prog.Types, ft)
			typeIdx[key] = idx
		}

		body, err := encodeInstrs(fn.Body)
		if err != nil {
			return nil, fmt.Errorf("wat: func %s: %w", fn.Export, err)
		}
		locals, err := toLocals(fn.Locals)
		if err != nil {
			return nil, err
		}
		funcIdx := uint32(len(prog.Functions))
		prog.Functions = append(prog.Functions, wasm.Function{TypeIdx: idx, Locals: locals, Body: body})
		if fn.Export != "" {
			prog.Exports = append(prog.Exports, wasm.Export{Name: fn.Export, Kind: wasm.ExportFunc, Index: funcIdx})
		}
	}
	for _, mem := range m.Memories {
		memIdx := uint32(len(prog.Memories))
		prog.Memories = append(prog.Memories, wasm.Memory{Min: mem.Min, Max: mem.Max, HasMax: mem.HasMax})
		if mem.Export != "" {
			prog.Exports = append(prog.Exports, wasm.Export{Name: mem.Export, Kind: wasm.ExportMemory, Index: memIdx})
		}
	}
	return prog, nil
}

func toFuncType(fn Func) (wasm.FuncType, error) {
	params, err := valTypes(fn.Params)
	if err != nil {
		return wasm.FuncType{}, err
	}
	results, err := valTypes(fn.Results)
	if err != nil {
		return wasm.FuncType{}, err
	}
	return wasm.FuncType{Params: params, Results: results}, nil
}

func toLocals(decls []string) ([]wasm.Local, error) {
	var out []wasm.Local
	for _, d := range decls {
		vt, err := valType(d)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && out[len(out)-1].Type == vt {
			out[len(out)-1].Count++
			continue
		}
		out = append(out, wasm.Local{Count: 1, Type: vt})
	}
	return out, nil
}

func funcTypeKey(ft wasm.FuncType) string { return string(ft.Params) + "|" + string(ft.Results) }

func valTypes(names []string) ([]byte, error) {
	out := make([]byte, 0, len(names))
	for _, n := range names {
		vt, err := valType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func valType(name string) (byte, error) {
	switch name {
	case "i32":
		return wasm.ValI32, nil
	case "i64":
		return wasm.ValI64, nil
	case "f32":
		return wasm.ValF32, nil
	case "f64":
		return wasm.ValF64, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", name)
	}
}

// encodeInstrs lowers a flat instruction sequence to bytecode, appending
// the implicit function-terminating `end` (0x0B) if the source omitted it.
func encodeInstrs(body []Instr) ([]byte, error) {
	var out []byte
	sawEnd := false
	for _, insn := range body {
		b, err := encodeInstr(insn)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		if insn.Op == "end" {
			sawEnd = true
		}
	}
	if !sawEnd {
		out = append(out, 0x0b)
	}
	return out, nil
}

func encodeInstr(insn Instr) ([]byte, error) {
	switch insn.Op {
	case "unreachable":
		return []byte{0x00}, nil
	case "nop":
		return []byte{0x01}, nil
	case "end":
		return []byte{0x0b}, nil
	case "return":
		return []byte{0x0f}, nil
	case "drop":
		return []byte{0x1a}, nil
	case "local.get":
		return encodeIdxInstr(0x20, insn)
	case "local.set":
		return encodeIdxInstr(0x21, insn)
	case "local.tee":
		return encodeIdxInstr(0x22, insn)
	case "call":
		return encodeIdxInstr(0x10, insn)
	case "i32.const":
		return encodeConstInstr(0x41, insn)
	case "i64.const":
		return encodeConstInstr(0x42, insn)
	case "i32.add":
		return []byte{0x6a}, nil
	case "i32.sub":
		return []byte{0x6b}, nil
	case "i32.mul":
		return []byte{0x6c}, nil
	case "i32.eq":
		return []byte{0x46}, nil
	case "i32.lt_s":
		return []byte{0x48}, nil
	case "i32.gt_s":
		return []byte{0x4a}, nil
	case "i64.add":
		return []byte{0x7c}, nil
	case "i64.sub":
		return []byte{0x7d}, nil
	case "i64.mul":
		return []byte{0x7e}, nil
	default:
		return nil, fmt.Errorf("unsupported instruction %q", insn.Op)
	}
}

func encodeIdxInstr(opcode byte, insn Instr) ([]byte, error) {
	if len(insn.Args) != 1 {
		return nil, fmt.Errorf("%s: expected one index operand", insn.Op)
	}
	idx, err := strconv.ParseUint(insn.Args[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", insn.Op, err)
	}
	return append([]byte{opcode}, wasm.PutUvarint32(uint32(idx))...), nil
}

func encodeConstInstr(opcode byte, insn Instr) ([]byte, error) {
	if len(insn.Args) != 1 {
		return nil, fmt.Errorf("%s: expected one immediate operand", insn.Op)
	}
	v, err := strconv.ParseInt(insn.Args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", insn.Op, err)
	}
	return append([]byte{opcode}, wasm.PutVarint64(v)...), nil
}
