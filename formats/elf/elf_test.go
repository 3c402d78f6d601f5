package elf

import (
	"bytes"
	"testing"

	"github.com/xyproto/multiforge/x86asm"
)

// assembleExit builds `mov edi, code; mov eax, 60; syscall` — the canonical
// Linux x86-64 exit(code) sequence.
func assembleExit(t *testing.T, code int64) []byte {
	t.Helper()
	b := x86asm.NewCodeBuilder(x86asm.Mode64)
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.EDI), Src: x86asm.ImmOp(code, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.EAX), Src: x86asm.ImmOp(60, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Syscall}); err != nil {
		t.Fatal(err)
	}
	return b.Code
}

func TestWriteStaticExit(t *testing.T) {
	code := assembleExit(t, 42)
	out, err := Write(&Program{Machine: MachineX86_64, Code: code})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte{0x7f, 'E', 'L', 'F'}) {
		t.Fatalf("missing ELF magic: % x", out[:4])
	}
	if out[4] != 2 || out[5] != 1 {
		t.Fatalf("expected 64-bit little-endian class/data, got %d/%d", out[4], out[5])
	}
	typ := uint16(out[16]) | uint16(out[17])<<8
	if typ != TypeExec {
		t.Fatalf("e_type = %d, want %d", typ, TypeExec)
	}
	if len(out) < PageSize+len(code) {
		t.Fatalf("file too short: %d bytes", len(out))
	}
	gotCode := out[PageSize : PageSize+len(code)]
	if !bytes.Equal(gotCode, code) {
		t.Fatalf("code section mismatch: % x", gotCode)
	}
}

func TestWriteDynamicAddsInterpAndDynamicSegments(t *testing.T) {
	code := assembleExit(t, 0)
	out, err := Write(&Program{Machine: MachineX86_64, Code: code, Interp: DefaultInterp})
	if err != nil {
		t.Fatal(err)
	}
	phnum := uint16(out[56]) | uint16(out[57])<<8
	if phnum != 3 {
		t.Fatalf("expected 3 program headers (LOAD+INTERP+DYNAMIC), got %d", phnum)
	}
}

func TestWriteWithDataSegment(t *testing.T) {
	code := assembleExit(t, 0)
	out, err := Write(&Program{Machine: MachineX86_64, Code: code, Data: []byte("hello\x00")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty image")
	}
}
