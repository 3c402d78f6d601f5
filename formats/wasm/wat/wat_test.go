package wat

import (
	"strings"
	"testing"
)

const addOneSource = `
(module
  (func (export "addOne") (param i32) (result i32)
    local.get 0
    i32.const 1
    i32.add
  )
)
`

func TestParseModule(t *testing.T) {
	m, err := Parse(addOneSource)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Funcs) != 1 {
		t.Fatalf("expected 1 func, got %d", len(m.Funcs))
	}
	fn := m.Funcs[0]
	if fn.Export != "addOne" || len(fn.Params) != 1 || len(fn.Results) != 1 {
		t.Fatalf("unexpected func header: %+v", fn)
	}
	if len(fn.Body) != 3 {
		t.Fatalf("expected 3 instructions, got %d: %+v", len(fn.Body), fn.Body)
	}
}

func TestAssembleProducesModule(t *testing.T) {
	out, err := Assemble(addOneSource)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0x00 || out[1] != 0x61 || out[2] != 0x73 || out[3] != 0x6d {
		t.Fatal("missing \\0asm magic")
	}
}

func TestWriteRoundTripsThroughParse(t *testing.T) {
	m, err := Parse(addOneSource)
	if err != nil {
		t.Fatal(err)
	}
	text := Write(m)
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("reparse failed: %v\n%s", err, text)
	}
	if len(reparsed.Funcs) != len(m.Funcs) {
		t.Fatalf("round trip mismatch: %+v vs %+v", reparsed, m)
	}
	if !strings.Contains(text, `(export "addOne")`) {
		t.Fatalf("expected rendered export clause, got:\n%s", text)
	}
}
