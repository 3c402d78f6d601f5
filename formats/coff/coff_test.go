package coff

import (
	"bytes"
	"testing"
)

func sampleObject() *Object {
	return &Object{
		Machine: MachineAMD64,
		Sections: []Section{
			{
				Name:            ".text",
				Characteristics: SectionCntCode | SectionMemExecute | SectionMemRead,
				Payload:         []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3}, // mov eax, 42 ; ret
				Relocations: []Relocation{
					{VirtualAddress: 1, SymbolTableIndex: 0, Type: RelocAmd64Rel32},
				},
			},
		},
		Symbols: []Symbol{
			{Name: "main", Value: 0, SectionNumber: 1, Type: TypeFunction, StorageClass: ClassExternal},
			{Name: "a_symbol_name_longer_than_eight_bytes", Value: 0, SectionNumber: 1, StorageClass: ClassStatic},
		},
	}
}

func TestWriteObjectHeader(t *testing.T) {
	out, err := Write(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	machine := uint16(out[0]) | uint16(out[1])<<8
	if machine != MachineAMD64 {
		t.Fatalf("machine = %x, want %x", machine, MachineAMD64)
	}
	numSections := uint16(out[2]) | uint16(out[3])<<8
	if numSections != 1 {
		t.Fatalf("number of sections = %d, want 1", numSections)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	want := sampleObject()
	out, err := Write(want)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(readerAtBytes(out), int64(len(out)), "test")
	got, err := r.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if got.Machine != want.Machine {
		t.Fatalf("machine = %x, want %x", got.Machine, want.Machine)
	}
	if len(got.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(got.Sections))
	}
	if !bytes.Equal(got.Sections[0].Payload, want.Sections[0].Payload) {
		t.Fatalf("section payload = % x, want % x", got.Sections[0].Payload, want.Sections[0].Payload)
	}
	if len(got.Sections[0].Relocations) != 1 || got.Sections[0].Relocations[0].Type != RelocAmd64Rel32 {
		t.Fatalf("relocations did not round-trip: %+v", got.Sections[0].Relocations)
	}
	if len(got.Symbols) != 2 {
		t.Fatalf("symbols = %d, want 2", len(got.Symbols))
	}
	if got.Symbols[0].Name != "main" {
		t.Fatalf("inline symbol name = %q, want main", got.Symbols[0].Name)
	}
	if got.Symbols[1].Name != "a_symbol_name_longer_than_eight_bytes" {
		t.Fatalf("string-table symbol name = %q", got.Symbols[1].Name)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	objBytes, err := Write(sampleObject())
	if err != nil {
		t.Fatal(err)
	}
	lib := &StaticLibrary{
		Members: []ArchiveMember{
			{
				Header: ArchiveMemberHeader{Name: "a.obj", Mode: 0o100644, Size: uint32(len(objBytes))},
				Data:   objBytes,
			},
		},
	}
	out, err := WriteArchive(lib)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte(ArchiveSignature)) {
		t.Fatalf("missing archive signature: % x", out[:8])
	}

	r := NewArchiveReader(readerAtBytes(out), int64(len(out)), "test")
	got, err := r.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) != 1 {
		t.Fatalf("members = %d, want 1", len(got.Members))
	}
	if got.Members[0].Header.Name != "a.obj" {
		t.Fatalf("member name = %q, want a.obj", got.Members[0].Header.Name)
	}
	if got.Members[0].CoffObject == nil {
		t.Fatal("expected the member's data to parse back as a COFF object")
	}
	if got.Members[0].CoffObject.Machine != MachineAMD64 {
		t.Fatalf("member object machine = %x, want %x", got.Members[0].CoffObject.Machine, MachineAMD64)
	}
}

func TestArchiveRejectsBadSignature(t *testing.T) {
	r := NewArchiveReader(readerAtBytes([]byte("not an archive!!")), 16, "test")
	if _, err := r.Finish(); err == nil {
		t.Fatal("expected an error for a bad archive signature")
	}
}
