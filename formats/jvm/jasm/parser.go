package jasm

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	toks []token
	pos  int
}

// Parse reads JASM source and returns the class it describes.
func Parse(src string) (*Class, error) {
	p := &parser{toks: lex(src)}
	return p.parseClass()
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

// line collects all tokens up to (and consuming) the next newline/EOF.
func (p *parser) line() []token {
	var out []token
	for {
		t := p.peek()
		if t.typ == tokNewline || t.typ == tokEOF {
			if t.typ == tokNewline {
				p.next()
			}
			return out
		}
		out = append(out, p.next())
	}
}

func (p *parser) parseClass() (*Class, error) {
	c := &Class{}
	for p.peek().typ == tokNewline {
		p.next()
	}
	line := p.line()
	if len(line) == 0 || line[0].typ != tokDirective || line[0].val != ".class" {
		return nil, fmt.Errorf("jasm: expected .class directive")
	}
	rest := line[1:]
	for _, t := range rest {
		if t.val == "public" {
			c.Public = true
			continue
		}
		c.Name = t.val
	}

	for p.peek().typ != tokEOF {
		if p.peek().typ == tokNewline {
			p.next()
			continue
		}
		line := p.line()
		if len(line) == 0 {
			continue
		}
		switch line[0].val {
		case ".super":
			c.Super = line[1].val
		case ".implements":
			c.Interfaces = append(c.Interfaces, line[1].val)
		case ".field":
			f, err := parseField(line[1:])
			if err != nil {
				return nil, err
			}
			c.Fields = append(c.Fields, f)
		case ".method":
			m, err := p.parseMethod(line[1:])
			if err != nil {
				return nil, err
			}
			c.Methods = append(c.Methods, m)
		default:
			return nil, fmt.Errorf("jasm: unexpected directive %q at class level", line[0].val)
		}
	}
	return c, nil
}

func parseField(toks []token) (Field, error) {
	f := Field{}
	var rest []token
	for _, t := range toks {
		switch t.val {
		case "public":
			f.Public = true
		case "static":
			f.Static = true
		case "final":
			f.Final = true
		default:
			rest = append(rest, t)
		}
	}
	if len(rest) < 2 {
		return f, fmt.Errorf("jasm: .field needs a name and a descriptor")
	}
	f.Name = rest[0].val
	f.Descriptor = rest[1].val
	return f, nil
}

func (p *parser) parseMethod(toks []token) (Method, error) {
	m := Method{}
	var nameDesc string
	for _, t := range toks {
		switch t.val {
		case "public":
			m.Public = true
		case "static":
			m.Static = true
		case "final":
			m.Final = true
		default:
			nameDesc = t.val
		}
	}
	name, desc, err := splitNameDescriptor(nameDesc)
	if err != nil {
		return m, err
	}
	m.Name, m.Descriptor = name, desc

	for {
		if p.peek().typ == tokEOF {
			return m, fmt.Errorf("jasm: .method %s missing .end method", m.Name)
		}
		if p.peek().typ == tokNewline {
			p.next()
			continue
		}
		line := p.line()
		if len(line) == 0 {
			continue
		}
		if line[0].typ == tokDirective {
			switch line[0].val {
			case ".maxstack":
				n, err := strconv.Atoi(line[1].val)
				if err != nil {
					return m, err
				}
				m.MaxStack = n
			case ".maxlocals":
				n, err := strconv.Atoi(line[1].val)
				if err != nil {
					return m, err
				}
				m.MaxLocals = n
			case ".end":
				return m, nil
			default:
				return m, fmt.Errorf("jasm: unexpected directive %q in method body", line[0].val)
			}
			continue
		}
		insn := Instruction{Mnemonic: line[0].val}
		for _, t := range line[1:] {
			insn.Args = append(insn.Args, t.val)
		}
		m.Body = append(m.Body, insn)
	}
}

// splitNameDescriptor splits "name(args)ret" into "name" and "(args)ret".
func splitNameDescriptor(s string) (string, string, error) {
	idx := strings.IndexByte(s, '(')
	if idx < 0 {
		return "", "", fmt.Errorf("jasm: malformed method signature %q", s)
	}
	return s[:idx], s[idx:], nil
}
