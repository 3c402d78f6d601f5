package wasm

import (
	"bytes"
	"testing"
)

func addOneModule() *Program {
	// (func (export "addOne") (param i32) (result i32) local.get 0 i32.const 1 i32.add)
	body := []byte{0x20, 0x00, 0x41, 0x01, 0x6a, 0x0b} // local.get 0; i32.const 1; i32.add; end
	return &Program{
		Types:     []FuncType{{Params: []byte{ValI32}, Results: []byte{ValI32}}},
		Functions: []Function{{TypeIdx: 0, Body: body}},
		Exports:   []Export{{Name: "addOne", Kind: ExportFunc, Index: 0}},
	}
}

func TestWriteMinimalModule(t *testing.T) {
	out, err := Write(addOneModule())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[:4], []byte{0x00, 0x61, 0x73, 0x6d}) {
		t.Fatalf("missing \\0asm magic: %x", out[:4])
	}
	if !bytes.Equal(out[4:8], []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("wrong version: %x", out[4:8])
	}
}

func TestRoundTripThroughReader(t *testing.T) {
	out, err := Write(addOneModule())
	if err != nil {
		t.Fatal(err)
	}
	r := NewReader(bytes.NewReader(out), int64(len(out)), "test")
	prog, err := r.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Types) != 1 || len(prog.Types[0].Params) != 1 || prog.Types[0].Params[0] != ValI32 {
		t.Fatalf("unexpected types: %+v", prog.Types)
	}
	if len(prog.Exports) != 1 || prog.Exports[0].Name != "addOne" {
		t.Fatalf("unexpected exports: %+v", prog.Exports)
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 0xFFFFFFFF} {
		enc := putUvarint32(v)
		got, n, err := readUvarint32(enc, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got != v || n != len(enc) {
			t.Fatalf("roundtrip(%d) = %d, consumed %d/%d bytes", v, got, n, len(enc))
		}
	}
}
