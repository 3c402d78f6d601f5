package jvm

import (
	"bytes"
	"testing"
)

func TestWriteMinimalClass(t *testing.T) {
	prog := &Program{
		MajorVersion: 52,
		AccessFlags:  AccPublic | AccSuper,
		ThisClass:    "Minimal",
		SuperClass:   "java/lang/Object",
		Methods: []Method{
			{AccessFlags: AccPublic, Name: "<init>", Descriptor: "()V", MaxStack: 1, MaxLocals: 1,
				Code: []byte{0x2a, 0xb7, 0, 0, 0xb1}}, // aload_0; invokespecial #0; return (placeholder ref)
		},
	}
	out, err := Write(prog)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) < 10 || out[0] != 0xCA || out[1] != 0xFE || out[2] != 0xBA || out[3] != 0xBE {
		t.Fatalf("missing CAFEBABE magic: %x", out[:4])
	}
}

func TestBuilderSharesPoolWithMethodBody(t *testing.T) {
	b := NewBuilder()
	pool := b.Pool()
	methodRef := pool.Methodref("java/lang/Object", "<init>", "()V")
	code := []byte{0x2a, 0xb7, byte(methodRef >> 8), byte(methodRef), 0xb1}

	prog := &Program{
		MajorVersion: 52, AccessFlags: AccPublic | AccSuper,
		ThisClass: "WithRef", SuperClass: "java/lang/Object",
		Methods: []Method{{AccessFlags: AccPublic, Name: "<init>", Descriptor: "()V", MaxStack: 1, MaxLocals: 1, Code: code}},
	}
	out, err := b.Build(prog)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte("<init>")) {
		t.Fatal("expected <init> name in constant pool UTF8 entries")
	}
}

func TestConstantPoolLongSkipsFillerSlot(t *testing.T) {
	p := NewConstantPool()
	longIdx := p.Long(1 << 40)
	nextIdx := p.Utf8("after")
	if nextIdx != longIdx+2 {
		t.Fatalf("expected next entry at %d, got %d", longIdx+2, nextIdx)
	}
}
