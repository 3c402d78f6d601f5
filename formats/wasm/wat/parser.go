package wat

import (
	"fmt"
	"strconv"
)

// Parse reads WAT source and returns the module it describes. A bare
// sequence of top-level (func ...)/(memory ...) forms is accepted in
// addition to a wrapping (module ...), since both appear in the wild.
func Parse(src string) (*Module, error) {
	exprs, err := parseSExprs(src)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 1 && !exprs[0].isAtom() && len(exprs[0].List) > 0 &&
		exprs[0].List[0].isAtom() && exprs[0].List[0].Atom == "module" {
		exprs = exprs[0].List[1:]
	}
	m := &Module{}
	for _, e := range exprs {
		if e.isAtom() || len(e.List) == 0 || !e.List[0].isAtom() {
			return nil, fmt.Errorf("wat: expected a top-level form")
		}
		switch e.List[0].Atom {
		case "func":
			fn, err := parseFunc(e.List[1:])
			if err != nil {
				return nil, err
			}
			m.Funcs = append(m.Funcs, fn)
		case "memory":
			mem, err := parseMemory(e.List[1:])
			if err != nil {
				return nil, err
			}
			m.Memories = append(m.Memories, mem)
		default:
			return nil, fmt.Errorf("wat: unsupported top-level form %q", e.List[0].Atom)
		}
	}
	return m, nil
}

func parseFunc(forms []*sexpr) (Func, error) {
	fn := Func{}
	i := 0
	for i < len(forms) {
		f := forms[i]
		if f.isAtom() {
			// a bare atom this early is the start of an instruction sequence
			break
		}
		if len(f.List) == 0 || !f.List[0].isAtom() {
			break
		}
		switch f.List[0].Atom {
		case "export":
			if len(f.List) < 2 {
				return fn, fmt.Errorf("wat: (export) needs a name")
			}
			fn.Export = unquote(f.List[1].Atom)
		case "param":
			for _, t := range f.List[1:] {
				fn.Params = append(fn.Params, t.Atom)
			}
		case "result":
			for _, t := range f.List[1:] {
				fn.Results = append(fn.Results, t.Atom)
			}
		case "local":
			for _, t := range f.List[1:] {
				fn.Locals = append(fn.Locals, t.Atom)
			}
		default:
			goto body
		}
		i++
	}
body:
	body, err := parseInstrs(forms[i:])
	if err != nil {
		return fn, err
	}
	fn.Body = body
	return fn, nil
}

// instrArity names the instructions this toolkit recognizes that take one
// trailing immediate token (an index or constant), matching WAT's flat
// (non-folded) instruction syntax: "local.get 0", not "(local.get 0)".
var instrArity = map[string]bool{
	"local.get": true, "local.set": true, "local.tee": true,
	"call": true, "i32.const": true, "i64.const": true,
}

// parseInstrs reads a flat instruction sequence of bare atoms (e.g.
// "local.get", "0", "i32.const", "1", "i32.add"). Folded/parenthesized
// instruction syntax is rejected since this toolkit's own writer never
// emits it and no assembled program here needs it.
func parseInstrs(forms []*sexpr) ([]Instr, error) {
	var out []Instr
	i := 0
	for i < len(forms) {
		f := forms[i]
		if !f.isAtom() {
			return nil, fmt.Errorf("wat: folded instruction syntax is not supported")
		}
		insn := Instr{Op: f.Atom}
		i++
		if instrArity[f.Atom] {
			if i >= len(forms) || !forms[i].isAtom() {
				return nil, fmt.Errorf("wat: %s: missing operand", f.Atom)
			}
			insn.Args = append(insn.Args, forms[i].Atom)
			i++
		}
		out = append(out, insn)
	}
	return out, nil
}

func parseMemory(forms []*sexpr) (MemoryDecl, error) {
	m := MemoryDecl{}
	var nums []*sexpr
	for _, f := range forms {
		if !f.isAtom() && len(f.List) >= 2 && f.List[0].isAtom() && f.List[0].Atom == "export" {
			m.Export = unquote(f.List[1].Atom)
			continue
		}
		nums = append(nums, f)
	}
	if len(nums) < 1 {
		return m, fmt.Errorf("wat: (memory) needs a minimum page count")
	}
	min, err := strconv.ParseUint(nums[0].Atom, 10, 32)
	if err != nil {
		return m, err
	}
	m.Min = uint32(min)
	if len(nums) >= 2 {
		max, err := strconv.ParseUint(nums[1].Atom, 10, 32)
		if err != nil {
			return m, err
		}
		m.Max, m.HasMax = uint32(max), true
	}
	return m, nil
}
