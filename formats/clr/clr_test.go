package clr

import (
	"bytes"
	"testing"
)

func helloProgram() *Program {
	// void Main(): ldstr "hello, world" ; pop ; ret
	body := []byte{0x72, 0x01, 0x00, 0x00, 0x70, 0x26, 0x2A}
	return &Program{
		AssemblyName: "Hello",
		ModuleName:   "Hello.exe",
		TypeName:     "Program",
		UserStrings:  []string{"hello, world"},
		EntryPoint:   0,
		Methods: []Method{
			{Name: "Main", Signature: []byte{0x00, 0x00, 0x01}, MaxStack: 8, Body: body},
		},
	}
}

func TestWriteProducesCLIHeaderAndMetadata(t *testing.T) {
	asm, err := Write(helloProgram())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(asm.CLIHeader) != CLIHeaderSize {
		t.Fatalf("CLIHeader size = %d, want %d", len(asm.CLIHeader), CLIHeaderSize)
	}
	if !bytes.HasPrefix(asm.Metadata, []byte{0x42, 0x53, 0x4A, 0x42}) {
		t.Fatalf("metadata root missing BSJB signature")
	}
	if asm.EntryToken != TokenMethodDef|1 {
		t.Fatalf("EntryToken = %#x, want %#x", asm.EntryToken, TokenMethodDef|1)
	}
	if len(asm.MethodRVAs) != 1 {
		t.Fatalf("MethodRVAs len = %d, want 1", len(asm.MethodRVAs))
	}
}

func TestMethodHeaderPicksTinyFormat(t *testing.T) {
	m := Method{MaxStack: 2, Body: []byte{0x2A}}
	hdr := encodeMethodHeader(m)
	if len(hdr) != 1 {
		t.Fatalf("tiny header len = %d, want 1", len(hdr))
	}
	if hdr[0]&0x3 != uint8(CorILMethodTinyFormat) {
		t.Fatalf("tiny header format bits wrong: %#x", hdr[0])
	}
	if hdr[0]>>2 != byte(len(m.Body)) {
		t.Fatalf("tiny header size = %d, want %d", hdr[0]>>2, len(m.Body))
	}
}

func TestMethodHeaderPicksFatFormatWithLocals(t *testing.T) {
	m := Method{MaxStack: 4, Body: make([]byte, 10), Locals: []byte{0x07, 0x01, 0x08}}
	hdr := encodeMethodHeader(m)
	if len(hdr) != 12 {
		t.Fatalf("fat header len = %d, want 12", len(hdr))
	}
}

func TestHeapsInternDeduplicates(t *testing.T) {
	h := newHeaps()
	a := h.str("Program")
	b := h.str("Program")
	if a != b {
		t.Fatalf("str did not dedup: %d != %d", a, b)
	}
	c := h.str("Other")
	if c == a {
		t.Fatalf("distinct strings got the same index")
	}
}

func TestRoundTripThroughReader(t *testing.T) {
	prog := helloProgram()
	asm, err := Write(prog)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	r := NewReader(bytes.NewReader(asm.Metadata), int64(len(asm.Metadata)), "test")
	read, err := r.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if read.ModuleName != prog.ModuleName {
		t.Fatalf("ModuleName = %q, want %q", read.ModuleName, prog.ModuleName)
	}
	if read.AssemblyName != prog.AssemblyName {
		t.Fatalf("AssemblyName = %q, want %q", read.AssemblyName, prog.AssemblyName)
	}
	if read.TypeName != prog.TypeName {
		t.Fatalf("TypeName = %q, want %q", read.TypeName, prog.TypeName)
	}
	if len(read.Methods) != 1 || read.Methods[0].Name != "Main" {
		t.Fatalf("Methods = %+v, want one Main method", read.Methods)
	}
	if !bytes.Equal(read.Methods[0].Signature, prog.Methods[0].Signature) {
		t.Fatalf("Signature = %v, want %v", read.Methods[0].Signature, prog.Methods[0].Signature)
	}
}
