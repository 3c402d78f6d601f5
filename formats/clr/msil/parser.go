package msil

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.peek().typ == tokNewline {
		p.next()
	}
}

// Parse reads a ".assembly"/".module"/".class" source listing into a Class.
func Parse(src string) (*Class, error) {
	p := &parser{toks: lex(src)}
	c := &Class{Extends: "System.Object"}
	sawClass := false
	for {
		p.skipNewlines()
		if p.peek().typ == tokEOF {
			break
		}
		tok := p.peek()
		if tok.typ != tokDirective {
			return nil, fmt.Errorf("msil: expected a directive, got %q", tok.val)
		}
		switch tok.val {
		case ".assembly":
			p.next()
			c.AssemblyName = p.next().val
		case ".module":
			p.next()
			c.ModuleName = p.next().val
		case ".class":
			if sawClass {
				return nil, fmt.Errorf("msil: only one .class is supported")
			}
			if err := parseClass(p, c); err != nil {
				return nil, err
			}
			sawClass = true
		default:
			return nil, fmt.Errorf("msil: unexpected directive %q", tok.val)
		}
	}
	if !sawClass {
		return nil, fmt.Errorf("msil: source has no .class")
	}
	return c, nil
}

func parseClass(p *parser, c *Class) error {
	p.next() // .class
	for p.peek().typ == tokIdent && p.peek().val == "public" {
		p.next()
	}
	c.ClassName = p.next().val
	if p.peek().typ == tokIdent && p.peek().val == "extends" {
		p.next()
		c.Extends = p.next().val
	}
	p.skipNewlines()
	if p.peek().typ != tokLBrace {
		return fmt.Errorf("msil: expected '{' after .class %s", c.ClassName)
	}
	p.next()
	p.skipNewlines()
	for p.peek().typ != tokRBrace {
		if p.peek().typ == tokEOF {
			return fmt.Errorf("msil: unterminated .class %s", c.ClassName)
		}
		if p.peek().typ != tokDirective || p.peek().val != ".method" {
			return fmt.Errorf("msil: expected .method, got %q", p.peek().val)
		}
		m, err := parseMethod(p)
		if err != nil {
			return err
		}
		c.Methods = append(c.Methods, m)
		p.skipNewlines()
	}
	p.next() // }
	return nil
}

func parseMethod(p *parser) (Method, error) {
	p.next() // .method
	m := Method{ReturnType: "void"}
	for p.peek().typ == tokIdent {
		switch p.peek().val {
		case "public":
			m.Public = true
		case "static":
			m.Static = true
		case "instance", "cil", "managed", "hidebysig":
			// recognized no-op modifiers
		default:
			goto signature
		}
		p.next()
	}
signature:
	m.ReturnType = p.next().val
	name, params, err := splitNameAndParams(p.next().val)
	if err != nil {
		return Method{}, err
	}
	m.Name = name
	m.Parameters = params

	p.skipNewlines()
	if p.peek().typ != tokLBrace {
		return Method{}, fmt.Errorf("msil: expected '{' in method %s body", m.Name)
	}
	p.next()
	p.skipNewlines()
	for p.peek().typ != tokRBrace {
		if p.peek().typ == tokEOF {
			return Method{}, fmt.Errorf("msil: unterminated method %s", m.Name)
		}
		if err := parseMethodStatement(p, &m); err != nil {
			return Method{}, err
		}
		p.skipNewlines()
	}
	p.next() // }
	return m, nil
}

func parseMethodStatement(p *parser, m *Method) error {
	tok := p.peek()
	switch tok.typ {
	case tokDirective:
		switch tok.val {
		case ".entrypoint":
			p.next()
			m.EntryPoint = true
		case ".maxstack":
			p.next()
			n, err := strconv.Atoi(p.next().val)
			if err != nil {
				return fmt.Errorf("msil: .maxstack: %w", err)
			}
			m.MaxStack = uint16(n)
		case ".locals":
			p.next()
			if err := parseLocals(p, m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("msil: unexpected directive %q in method body", tok.val)
		}
	case tokIdent:
		insn := Instruction{Opcode: tok.val}
		p.next()
		for p.peek().typ != tokNewline && p.peek().typ != tokEOF {
			insn.Operands = append(insn.Operands, p.next().val)
		}
		m.Body = append(m.Body, insn)
	default:
		return fmt.Errorf("msil: unexpected token in method body")
	}
	return nil
}

// parseLocals reads "init (type1 V_0, type2 V_1)" after ".locals".
func parseLocals(p *parser, m *Method) error {
	if p.peek().typ == tokIdent && p.peek().val == "init" {
		p.next()
	}
	var parts []string
	for p.peek().typ != tokNewline && p.peek().typ != tokEOF {
		parts = append(parts, p.next().val)
	}
	raw := strings.TrimSpace(strings.Join(parts, " "))
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	if raw == "" {
		return nil
	}
	for _, entry := range strings.Split(raw, ",") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		loc := Local{Type: fields[0]}
		if len(fields) > 1 {
			loc.Name = fields[1]
		}
		m.Locals = append(m.Locals, loc)
	}
	return nil
}

// splitNameAndParams splits "Name(type1,type2)" into the bare name and its
// parameter type list.
func splitNameAndParams(s string) (string, []Parameter, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return "", nil, fmt.Errorf("msil: malformed method signature %q", s)
	}
	name := s[:open]
	inner := s[open+1 : len(s)-1]
	if inner == "" {
		return name, nil, nil
	}
	var params []Parameter
	for _, t := range strings.Split(inner, ",") {
		params = append(params, Parameter{Type: strings.TrimSpace(t)})
	}
	return name, params, nil
}
