package pe

import (
	"bytes"
	"testing"

	"github.com/xyproto/multiforge/x86asm"
)

func assembleExitProcess(t *testing.T) ([]byte, map[string]int, []CodeFixup) {
	t.Helper()
	b := x86asm.NewCodeBuilder(x86asm.Mode64)
	b.Label("_start")
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Sub, Dst: x86asm.RegOp(x86asm.RSP), Src: x86asm.ImmOp(40, 8)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.RCX), Src: x86asm.ImmOp(0, 32)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Call, Dst: x86asm.RIPSymOp("iat:KERNEL32.DLL:ExitProcess")}); err != nil {
		t.Fatal(err)
	}
	labels := b.Labels()
	fixups := make([]CodeFixup, len(b.Arena.Fixups))
	for i, f := range b.Arena.Fixups {
		fixups[i] = CodeFixup{OffsetInCode: f.OffsetInCode, Kind: FixupKind(f.Kind), Symbol: f.Symbol, InsnLen: f.InsnLen}
	}
	return b.Code, labels, fixups
}

func TestWriteMinimalExe(t *testing.T) {
	code, labels, fixups := assembleExitProcess(t)
	prog := &Program{
		Machine:            MachineAMD64,
		Is64:               true,
		Subsystem:          SubsystemWindowsCUI,
		DllCharacteristics: DllCharacteristicsDynamicBase | DllCharacteristicsNXCompat,
		ImageBase:          ImageBaseDefaultX64,
		EntryLabel:         "_start",
		Code:               code,
		CodeLabels:         labels,
		Fixups:             fixups,
		Imports: []ImportedDLL{
			{Name: "KERNEL32.DLL", Functions: []ImportedFunction{{Name: "ExitProcess"}}},
		},
	}
	out, err := Write(prog)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte{0x4D, 0x5A}) {
		t.Fatalf("missing MZ signature: % x", out[:2])
	}
	lfanew := uint32(out[0x3C]) | uint32(out[0x3D])<<8 | uint32(out[0x3E])<<16 | uint32(out[0x3F])<<24
	if lfanew != peSigOffset {
		t.Fatalf("e_lfanew = %d, want %d", lfanew, peSigOffset)
	}
	sig := out[lfanew : lfanew+4]
	if !bytes.Equal(sig, []byte("PE\x00\x00")) {
		t.Fatalf("PE signature = % x", sig)
	}
	machine := uint16(out[lfanew+4]) | uint16(out[lfanew+5])<<8
	if machine != MachineAMD64 {
		t.Fatalf("machine = %x, want %x", machine, MachineAMD64)
	}
}

func TestWriteNoImportsOmitsIdata(t *testing.T) {
	b := x86asm.NewCodeBuilder(x86asm.Mode64)
	if err := b.Emit(x86asm.Instruction{Mnemonic: x86asm.Ret}); err != nil {
		t.Fatal(err)
	}
	prog := &Program{
		Machine: MachineAMD64, Is64: true, Subsystem: SubsystemWindowsCUI,
		ImageBase: ImageBaseDefaultX64, Code: b.Code,
	}
	out, err := Write(prog)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty image")
	}
}

func TestSynthesizeImportsRoundTripsIATOffsets(t *testing.T) {
	dlls := []ImportedDLL{
		{Name: "KERNEL32.DLL", Functions: []ImportedFunction{{Name: "ExitProcess"}, {Name: "GetStdHandle"}}},
	}
	layout := synthesizeImports(dlls, 8)
	if len(layout.iatSlotOff) != 2 {
		t.Fatalf("expected 2 IAT slots, got %d", len(layout.iatSlotOff))
	}
	if _, ok := layout.iatSlotOff["iat:KERNEL32.DLL:ExitProcess"]; !ok {
		t.Fatal("missing ExitProcess slot")
	}
}
