package builder

import (
	"github.com/xyproto/multiforge/formats/wasm"
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/ir"
	"github.com/xyproto/multiforge/target"
)

// buildWasm lowers prog to a WASI module. WASM's operand stack matches the
// IR's own stack machine closely, and its comparison opcodes push a real
// standalone i32 boolean (no SETcc-style gap to work around), but its
// control-flow instructions are structured (br/br_if target an enclosing
// block/loop by nesting depth, not an arbitrary label). Reshaping the IR's
// flat Label/Jump/JumpIfTrue/JumpIfFalse graph into nested blocks is a
// relooper-class transform this backend does not implement, so it is
// scoped to straight-line function bodies: any OpLabel/OpJump/OpJumpIfTrue/
// OpJumpIfFalse is reported as unsupported rather than mis-encoded.
//
// There is also no modeled data section, so OpLoadString is unsupported;
// arithmetic is scoped to int32. I64 constants load with i64.const, but the
// IR's F32/F64 constant kinds are out of scope here.
func buildWasm(prog *ir.Program) ([]byte, error) {
	imports := map[string]int{} // intrinsic name -> import index
	var importOrder []string
	for i := range prog.Functions {
		if err := scanWasmCalls(prog, &prog.Functions[i], imports, &importOrder); err != nil {
			return nil, err
		}
	}

	out := &wasm.Program{}
	funcIndex := make(map[string]int, len(prog.Functions)+len(importOrder))
	for _, name := range importOrder {
		typeIdx := uint32(len(out.Types))
		out.Types = append(out.Types, wasm.FuncType{Params: []byte{wasm.ValI32}})
		out.Imports = append(out.Imports, wasm.Import{Module: "env", Name: name, TypeIdx: typeIdx})
		funcIndex[name] = imports[name]
	}
	base := len(out.Imports)
	for i, f := range prog.Functions {
		funcIndex[f.Name] = base + i
	}

	for i := range prog.Functions {
		f := &prog.Functions[i]
		typeIdx := uint32(len(out.Types))
		out.Types = append(out.Types, wasm.FuncType{Params: wasmValueTypes(f.Params), Results: wasmResultTypes(f.ReturnType)})

		locals := make([]wasm.Local, len(f.Locals))
		for j := range f.Locals {
			locals[j] = wasm.Local{Count: 1, Type: wasmValueType(&f.Locals[j])}
		}

		body, err := compileWasmFunction(f, funcIndex)
		if err != nil {
			return nil, err
		}
		out.Functions = append(out.Functions, wasm.Function{TypeIdx: typeIdx, Locals: locals, Body: body})
	}

	if entry := entryFunctionName(prog); entry != "" {
		if idx, ok := funcIndex[entry]; ok {
			out.Exports = append(out.Exports, wasm.Export{Name: "_start", Kind: wasm.ExportFunc, Index: uint32(idx)})
		}
	}

	return wasm.Write(out)
}

// scanWasmCalls registers every external (non-sibling) call target as a
// WASM import, resolved through the universal intrinsic table. Imports
// must precede defined functions in WASM's function index space, so every
// call target has to be known before any body is encoded.
func scanWasmCalls(prog *ir.Program, f *ir.Function, imports map[string]int, order *[]string) error {
	for _, insn := range f.Body {
		if insn.Op != ir.OpCall {
			continue
		}
		if _, ok := prog.FunctionByName(insn.Name); ok {
			continue
		}
		resolved, ok := target.Resolve(insn.Name, target.HostWat)
		if !ok {
			return &diag.InvalidInstruction{Mnemonic: insn.OpcodeName(), Architecture: "wasm", Reason: "unresolved call target for the WASM backend"}
		}
		if _, ok := imports[resolved]; ok {
			continue
		}
		imports[resolved] = len(*order)
		*order = append(*order, resolved)
	}
	return nil
}

func wasmValueType(t *ir.Type) byte {
	if t == nil {
		return wasm.ValI32
	}
	switch t.Kind {
	case ir.TypeI64:
		return wasm.ValI64
	case ir.TypeF32:
		return wasm.ValF32
	case ir.TypeF64:
		return wasm.ValF64
	default:
		return wasm.ValI32
	}
}

func wasmValueTypes(ts []ir.Type) []byte {
	out := make([]byte, len(ts))
	for i := range ts {
		out[i] = wasmValueType(&ts[i])
	}
	return out
}

func wasmResultTypes(t *ir.Type) []byte {
	if t == nil || t.Kind == ir.TypeVoid {
		return nil
	}
	return []byte{wasmValueType(t)}
}

func unsupportedWasm(insn ir.Instruction, reason string) error {
	return &diag.InvalidInstruction{Mnemonic: insn.OpcodeName(), Architecture: "wasm", Reason: reason}
}

func compileWasmFunction(f *ir.Function, funcIndex map[string]int) ([]byte, error) {
	var out []byte
	u8 := func(b byte) { out = append(out, b) }
	sleb := func(v int64) { out = append(out, wasm.PutVarint64(v)...) }
	uleb := func(v uint32) { out = append(out, wasm.PutUvarint32(v)...) }
	argSlot := func(i uint32) uint32 { return i }
	localSlot := func(i uint32) uint32 { return uint32(len(f.Params)) + i }

	for i, insn := range f.Body {
		switch insn.Op {
		case ir.OpLoadConstant:
			c := insn.Const
			switch c.Kind {
			case ir.TypeBool:
				u8(0x41) // i32.const
				if c.Bool {
					sleb(1)
				} else {
					sleb(0)
				}
			case ir.TypeI8:
				u8(0x41)
				sleb(int64(c.I8))
			case ir.TypeI16:
				u8(0x41)
				sleb(int64(c.I16))
			case ir.TypeI32:
				u8(0x41)
				sleb(int64(c.I32))
			case ir.TypeI64:
				u8(0x42) // i64.const
				sleb(c.I64)
			default:
				return nil, unsupportedWasm(insn, "unsupported constant kind")
			}

		case ir.OpLoadArgument:
			u8(0x20) // local.get
			uleb(argSlot(insn.Index))
		case ir.OpStoreArgument:
			u8(0x21) // local.set
			uleb(argSlot(insn.Index))
		case ir.OpLoadLocal:
			u8(0x20)
			uleb(localSlot(insn.Index))
		case ir.OpStoreLocal:
			u8(0x21)
			uleb(localSlot(insn.Index))

		case ir.OpAdd:
			u8(0x6A)
		case ir.OpSub:
			u8(0x6B)
		case ir.OpMul:
			u8(0x6C)
		case ir.OpDiv:
			u8(0x6D) // i32.div_s
		case ir.OpRem:
			u8(0x6F) // i32.rem_s
		case ir.OpNeg:
			u8(0x41)
			sleb(-1)
			u8(0x73) // i32.xor
			u8(0x41)
			sleb(1)
			u8(0x6A) // i32.add: (v ^ -1) + 1 == -v
		case ir.OpAnd, ir.OpLogicalAnd:
			u8(0x71)
		case ir.OpOr, ir.OpLogicalOr:
			u8(0x72)
		case ir.OpXor:
			u8(0x73)
		case ir.OpNot:
			u8(0x41)
			sleb(-1)
			u8(0x73) // bitwise not via xor -1
		case ir.OpShl:
			u8(0x74)
		case ir.OpShr:
			u8(0x75) // i32.shr_s
		case ir.OpLogicalNot:
			u8(0x45) // i32.eqz

		case ir.OpEq:
			u8(0x46)
		case ir.OpNe:
			u8(0x47)
		case ir.OpLt:
			u8(0x48) // i32.lt_s
		case ir.OpGt:
			u8(0x4A) // i32.gt_s
		case ir.OpLe:
			u8(0x4C) // i32.le_s
		case ir.OpGe:
			u8(0x4E) // i32.ge_s

		case ir.OpCall:
			idx, ok := funcIndex[insn.Name]
			if !ok {
				if resolved, rok := target.Resolve(insn.Name, target.HostWat); rok {
					idx, ok = funcIndex[resolved]
				}
			}
			if !ok {
				return nil, unsupportedWasm(insn, "unresolved call target for the WASM backend")
			}
			u8(0x10) // call
			uleb(uint32(idx))

		case ir.OpRet:
			if i != len(f.Body)-1 {
				return nil, unsupportedWasm(insn, "ret must be the final instruction in a straight-line WASM function body")
			}
			// Whatever remains on the stack becomes the function's result
			// at the implicit end-of-body return; no opcode is needed.

		case ir.OpLabel, ir.OpJump, ir.OpJumpIfTrue, ir.OpJumpIfFalse:
			return nil, unsupportedWasm(insn, "structured control flow is not implemented by the WASM backend; only straight-line bodies are supported")

		default:
			return nil, unsupportedWasm(insn, "not implemented by the WASM backend")
		}
	}
	out = append(out, 0x0B) // end
	return out, nil
}
