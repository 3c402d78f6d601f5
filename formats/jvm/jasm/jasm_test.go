package jasm

import (
	"bytes"
	"strings"
	"testing"
)

const helloSource = `
.class public Hello
.super java/lang/Object

.method public <init>()V
    .maxstack 1
    .maxlocals 1
    aload_0
    invokespecial java/lang/Object/<init>()V
    return
.end method

.method public static main([Ljava/lang/String;)V
    .maxstack 2
    .maxlocals 1
    getstatic java/lang/System/out Ljava/io/PrintStream;
    ldc "hello, world"
    invokevirtual java/io/PrintStream/println(Ljava/lang/String;)V
    return
.end method
`

func TestParseClass(t *testing.T) {
	c, err := Parse(helloSource)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Hello" || c.Super != "java/lang/Object" {
		t.Fatalf("unexpected class header: %+v", c)
	}
	if len(c.Methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(c.Methods))
	}
	main := c.Methods[1]
	if main.Name != "main" || main.Descriptor != "([Ljava/lang/String;)V" {
		t.Fatalf("unexpected main signature: %+v", main)
	}
	if len(main.Body) != 4 {
		t.Fatalf("expected 4 instructions in main, got %d", len(main.Body))
	}
}

func TestAssembleProducesClassFile(t *testing.T) {
	out, err := Assemble(helloSource)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0xCA || out[1] != 0xFE {
		t.Fatalf("missing CAFEBABE magic")
	}
	if !bytes.Contains(out, []byte("hello, world")) {
		t.Fatal("expected the ldc string literal in the constant pool")
	}
}

func TestWriteRoundTripsThroughParse(t *testing.T) {
	c, err := Parse(helloSource)
	if err != nil {
		t.Fatal(err)
	}
	text := Write(c)
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("reparse failed: %v\n%s", err, text)
	}
	if reparsed.Name != c.Name || len(reparsed.Methods) != len(c.Methods) {
		t.Fatalf("round trip mismatch: %+v vs %+v", reparsed, c)
	}
	if !strings.Contains(text, ".method public static main") {
		t.Fatalf("expected rendered main method header, got:\n%s", text)
	}
}
