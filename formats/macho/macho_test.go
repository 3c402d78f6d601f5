package macho

import (
	"bytes"
	"testing"

	"github.com/xyproto/multiforge/x86asm"
)

func assembleExit(t *testing.T, code int64) []byte {
	t.Helper()
	b := x86asm.NewCodeBuilder(x86asm.Mode64)
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.EDI), Src: x86asm.ImmOp(code, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.EAX), Src: x86asm.ImmOp(0x2000001, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Syscall}); err != nil {
		t.Fatal(err)
	}
	return b.Code
}

func TestWriteMinimalExecutable(t *testing.T) {
	code := assembleExit(t, 0)
	out, err := Write(&Program{CPUType: CPUTypeX86_64, CPUSubtype: CPUSubtypeX86_64All, Code: code})
	if err != nil {
		t.Fatal(err)
	}
	magic := uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24
	if magic != Magic64 {
		t.Fatalf("magic = %x, want %x", magic, Magic64)
	}
	nCmds := uint32(out[16]) | uint32(out[17])<<8 | uint32(out[18])<<16 | uint32(out[19])<<24
	if nCmds != 3 { // __TEXT segment, LC_SYMTAB, LC_MAIN
		t.Fatalf("ncmds = %d, want 3", nCmds)
	}
}

func TestWriteWithDylib(t *testing.T) {
	code := assembleExit(t, 0)
	out, err := Write(&Program{
		CPUType: CPUTypeX86_64, CPUSubtype: CPUSubtypeX86_64All, Code: code,
		Dylibs: []DylibImport{{Name: "/usr/lib/libSystem.B.dylib", CurrentVer: 1, CompatVer: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte("/usr/lib/libSystem.B.dylib")) {
		t.Fatal("expected dylib name to appear in the image")
	}
}
