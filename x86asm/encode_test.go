package x86asm

import (
	"bytes"
	"testing"
)

func encodeOrFail(t *testing.T, insn Instruction, mode Mode) []byte {
	t.Helper()
	code, _, err := Encode(insn, mode)
	if err != nil {
		t.Fatalf("encode %v: %v", insn, err)
	}
	return code
}

func TestRetNopSyscall(t *testing.T) {
	if got := encodeOrFail(t, Instruction{Mnemonic: Ret}, Mode64); !bytes.Equal(got, []byte{0xC3}) {
		t.Errorf("ret = % x", got)
	}
	if got := encodeOrFail(t, Instruction{Mnemonic: Nop}, Mode64); !bytes.Equal(got, []byte{0x90}) {
		t.Errorf("nop = % x", got)
	}
	if got := encodeOrFail(t, Instruction{Mnemonic: Syscall}, Mode64); !bytes.Equal(got, []byte{0x0F, 0x05}) {
		t.Errorf("syscall = % x", got)
	}
}

func TestPushImmForms(t *testing.T) {
	got := encodeOrFail(t, Instruction{Mnemonic: Push, Dst: ImmOp(42, 8)}, Mode32)
	if !bytes.Equal(got, []byte{0x6A, 42}) {
		t.Errorf("push imm8 = % x", got)
	}
	got = encodeOrFail(t, Instruction{Mnemonic: Push, Dst: ImmOp(1000, 32)}, Mode32)
	want := []byte{0x68, 0xE8, 0x03, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("push imm32 = % x, want % x", got, want)
	}
}

func TestPushRegExtended(t *testing.T) {
	got := encodeOrFail(t, Instruction{Mnemonic: Push, Dst: RegOp(RDI)}, Mode64)
	if !bytes.Equal(got, []byte{0x57}) {
		t.Errorf("push rdi = % x", got)
	}
	got = encodeOrFail(t, Instruction{Mnemonic: Push, Dst: RegOp(R12)}, Mode64)
	if !bytes.Equal(got, []byte{0x41, 0x54}) {
		t.Errorf("push r12 = % x", got)
	}
}

func TestMovRegImm64Forms(t *testing.T) {
	// fits in i32: compact 5-byte form, no REX.W.
	got := encodeOrFail(t, Instruction{Mnemonic: Mov, Dst: RegOp(RAX), Src: ImmOp(42, 64)}, Mode64)
	if len(got) != 5 || got[0] != 0xB8 {
		t.Errorf("mov rax, 42 = % x", got)
	}
	// wider than i32: REX.W + 10-byte form.
	got = encodeOrFail(t, Instruction{Mnemonic: Mov, Dst: RegOp(RAX), Src: ImmOp(1 << 40, 64)}, Mode64)
	if len(got) != 10 || got[0] != 0x48 || got[1] != 0xB8 {
		t.Errorf("mov rax, imm64 = % x", got)
	}
}

func TestSubRspImm(t *testing.T) {
	got := encodeOrFail(t, Instruction{Mnemonic: Sub, Dst: RegOp(RSP), Src: ImmOp(40, 8)}, Mode64)
	want := []byte{0x48, 0x83, 0xEC, 40}
	if !bytes.Equal(got, want) {
		t.Errorf("sub rsp, 40 = % x, want % x", got, want)
	}
}

func TestCallLabelRecordsFixup(t *testing.T) {
	code, fixups, err := Encode(Instruction{Mnemonic: Call, Dst: LabelOp("ExitProcess")}, Mode32)
	if err != nil {
		t.Fatal(err)
	}
	if code[0] != 0xE8 || len(code) != 5 {
		t.Fatalf("call = % x", code)
	}
	if len(fixups) != 1 || fixups[0].Kind != RelativeCall32 || fixups[0].Symbol != "ExitProcess" {
		t.Fatalf("fixups = %+v", fixups)
	}
}

func TestRipRelativeCallRecordsFixup(t *testing.T) {
	code, fixups, err := Encode(Instruction{Mnemonic: Call, Dst: RIPSymOp("iat:kernel32:ExitProcess")}, Mode64)
	if err != nil {
		t.Fatal(err)
	}
	if code[0] != 0xFF {
		t.Fatalf("call mem = % x", code)
	}
	if len(fixups) != 1 || fixups[0].Kind != RipRelative32 {
		t.Fatalf("fixups = %+v", fixups)
	}
}

func TestArithOperandWidthMismatchErrors(t *testing.T) {
	_, _, err := Encode(Instruction{Mnemonic: Add, Dst: RegOp(EAX), Src: RegOp(RBX)}, Mode64)
	if err == nil {
		t.Fatal("expected error for mismatched operand widths")
	}
}

func TestPopImmediateErrors(t *testing.T) {
	_, _, err := Encode(Instruction{Mnemonic: Pop, Dst: ImmOp(1, 8)}, Mode64)
	if err == nil {
		t.Fatal("expected error for pop with immediate operand")
	}
}

func TestCodeBuilderFixupApply(t *testing.T) {
	b := NewCodeBuilder(Mode64)
	if err := b.Emit(Instruction{Mnemonic: Push, Dst: ImmOp(42, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(Instruction{Mnemonic: Call, Dst: LabelOp("ExitProcess")}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(Instruction{Mnemonic: Ret}); err != nil {
		t.Fatal(err)
	}
	resolve := func(sym string) (uint64, bool) {
		if sym == "ExitProcess" {
			return 0x2000, true
		}
		return 0, false
	}
	if err := b.Arena.Apply(b.Code, 0x1000, 0, resolve); err != nil {
		t.Fatal(err)
	}
	if b.Arena.Pending() {
		t.Fatal("fixups should be fully consumed")
	}
}
