package msil

import "testing"

const helloSource = `
.assembly Hello
.module Hello.exe
.class public Program extends System.Object
{
    .method public static void Main()
    {
        .entrypoint
        .maxstack 8
        ldstr "hello, world"
        call void Console::WriteLine(string)
        pop
        ret
    }
}
`

func TestParseClass(t *testing.T) {
	c, err := Parse(helloSource)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.AssemblyName != "Hello" || c.ModuleName != "Hello.exe" || c.ClassName != "Program" {
		t.Fatalf("unexpected class: %+v", c)
	}
	if len(c.Methods) != 1 {
		t.Fatalf("Methods len = %d, want 1", len(c.Methods))
	}
	m := c.Methods[0]
	if !m.Public || !m.Static || !m.EntryPoint || m.MaxStack != 8 {
		t.Fatalf("unexpected method flags: %+v", m)
	}
	if len(m.Body) != 4 {
		t.Fatalf("Body len = %d, want 4", len(m.Body))
	}
	if m.Body[0].Opcode != "ldstr" || m.Body[0].Operands[0] != "hello, world" {
		t.Fatalf("unexpected first instruction: %+v", m.Body[0])
	}
}

func TestAssembleProducesAssembly(t *testing.T) {
	asm, err := Assemble(helloSource)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(asm.CLIHeader) == 0 || len(asm.Metadata) == 0 || len(asm.MethodBodies) == 0 {
		t.Fatalf("Assemble produced an incomplete Assembly: %+v", asm)
	}
	if asm.EntryToken == 0 {
		t.Fatalf("EntryToken not set despite .entrypoint")
	}
}

func TestWriteRoundTripsThroughParse(t *testing.T) {
	c, err := Parse(helloSource)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	text := Write(c)
	c2, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Write(c)): %v", err)
	}
	if c2.ClassName != c.ClassName || len(c2.Methods) != len(c.Methods) {
		t.Fatalf("round trip mismatch: %+v vs %+v", c2, c)
	}
	if len(c2.Methods[0].Body) != len(c.Methods[0].Body) {
		t.Fatalf("body length mismatch after round trip")
	}
}
