package ir

import "fmt"

// Function is one ordered sequence of Instructions with a typed signature.
type Function struct {
	Name       string
	Params     []Type
	ReturnType *Type
	Locals     []Type
	Body       []Instruction
}

// Global is a module-level variable declaration.
type Global struct {
	Name string
	Type Type
}

// Program is the root universal-IR unit: an ordered list of functions, a
// named constant pool, and an optional ordered list of globals.
type Program struct {
	Name      string
	Functions []Function
	Constants map[string]Constant
	Globals   []Global

	constOrder []string
}

func NewProgram(name string) *Program {
	return &Program{Name: name, Constants: map[string]Constant{}}
}

// AddFunction appends a function in declaration order.
func (p *Program) AddFunction(f Function) { p.Functions = append(p.Functions, f) }

// AddGlobal appends a global in declaration order.
func (p *Program) AddGlobal(g Global) { p.Globals = append(p.Globals, g) }

// SetConstant inserts or overwrites a named constant-pool entry, preserving
// insertion order for the first insertion of a given name.
func (p *Program) SetConstant(name string, c Constant) {
	if _, exists := p.Constants[name]; !exists {
		p.constOrder = append(p.constOrder, name)
	}
	p.Constants[name] = c
}

// ConstantOrder returns constant-pool names in insertion order.
func (p *Program) ConstantOrder() []string {
	out := make([]string, len(p.constOrder))
	copy(out, p.constOrder)
	return out
}

// FunctionByName looks up a function declared in this program.
func (p *Program) FunctionByName(name string) (*Function, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return &p.Functions[i], true
		}
	}
	return nil, false
}

// Validate enforces the call-resolution invariant from the data model: every
// Call operand must resolve to a function in the program, an entry in
// resolve (the backend's name-mapping table), or be accepted as an import by
// allowImport. Violations are returned as a single aggregate error.
func (p *Program) Validate(resolve func(name string) bool, allowImport func(name string) bool) error {
	for _, fn := range p.Functions {
		for _, insn := range fn.Body {
			if insn.Op != OpCall {
				continue
			}
			if _, ok := p.FunctionByName(insn.Name); ok {
				continue
			}
			if resolve != nil && resolve(insn.Name) {
				continue
			}
			if allowImport != nil && allowImport(insn.Name) {
				continue
			}
			return fmt.Errorf("unresolved call target %q in function %q", insn.Name, fn.Name)
		}
	}
	return nil
}
