package clr

import "encoding/binary"

// tableOrder lists, in ascending order, the ECMA-335 table index of each
// table this toolkit can emit; each index is also its Valid-bitmask bit
// position.
func tableOrder() []int {
	return []int{TableModule, TableTypeRef, TableTypeDef, TableMethodDef, TableAssembly, TableAssemblyRef}
}

// buildMetadataRoot serializes the BSJB metadata root: version string,
// stream directory, then each stream's bytes (#~, #Strings, #US, #GUID,
// #Blob, in that order).
func buildMetadataRoot(h *heaps, tildeStream []byte) []byte {
	const versionString = "v4.0.30319"
	verBytes := padTo4(append([]byte(versionString), 0x00))

	type streamDesc struct {
		name string
		data []byte
	}
	streams := []streamDesc{
		{"#~", padTo4(tildeStream)},
		{"#Strings", padTo4(h.strings)},
		{"#US", padTo4(h.userStr)},
		{"#GUID", h.guid}, // already a multiple of 16
		{"#Blob", padTo4(h.blob)},
	}

	var header []byte
	header = appendU32(header, MetadataSignature)
	header = appendU16(header, 1) // MajorVersion
	header = appendU16(header, 1) // MinorVersion
	header = appendU32(header, 0) // Reserved
	header = appendU32(header, uint32(len(verBytes)))
	header = append(header, verBytes...)
	header = appendU16(header, 0) // Flags
	header = appendU16(header, uint16(len(streams)))

	// Stream directory entries reference offsets relative to the root's
	// start, which aren't known until the directory itself (variable
	// length, since names are padded ASCII) is sized. Compute it in two
	// passes: first the directory bytes with placeholder offsets, then
	// patch them in once the directory length — and so every stream's
	// start — is fixed.
	dirStart := len(header)
	var dir []byte
	type patch struct{ at int }
	var patches []patch
	for _, s := range streams {
		patches = append(patches, patch{at: len(dir)})
		dir = appendU32(dir, 0) // offset placeholder
		dir = appendU32(dir, uint32(len(s.data)))
		nameBytes := padTo4(append([]byte(s.name), 0x00))
		dir = append(dir, nameBytes...)
	}
	cursor := uint32(dirStart + len(dir))
	for i, s := range streams {
		binary.LittleEndian.PutUint32(dir[patches[i].at:], cursor)
		cursor += uint32(len(s.data))
	}

	out := append(header, dir...)
	for _, s := range streams {
		out = append(out, s.data...)
	}
	return out
}

// buildTildeStream serializes the #~ table stream: header, the Valid
// bitmask, per-table row counts, then every table's rows in ascending
// table-index order.
func buildTildeStream(rows struct {
	module      moduleRow
	typeRef     typeRefRow
	typeDef     typeDefRow
	methodDefs  []methodDefRow
	assembly    assemblyRow
	assemblyRef assemblyRefRow
}) []byte {
	var valid uint64
	counts := map[int]uint32{
		TableModule:    1,
		TableTypeRef:   1,
		TableTypeDef:   1,
		TableMethodDef: uint32(len(rows.methodDefs)),
		TableAssembly:    1,
		TableAssemblyRef: 1,
	}
	for _, id := range tableOrder() {
		if counts[id] > 0 {
			valid |= 1 << uint(id)
		}
	}

	var out []byte
	out = append(out, 0, 0, 0, 0) // Reserved
	out = append(out, 2, 0)       // Major/MinorVersion
	out = append(out, 0)          // HeapSizes: all heaps use 2-byte indices
	out = append(out, 1)          // Reserved2
	out = appendU64(out, valid)
	out = appendU64(out, 0) // Sorted: none of our tables require it

	for _, id := range tableOrder() {
		if counts[id] > 0 {
			out = appendU32(out, counts[id])
		}
	}

	out = appendModuleRow(out, rows.module)
	out = appendTypeRefRow(out, rows.typeRef)
	out = appendTypeDefRow(out, rows.typeDef)
	for _, m := range rows.methodDefs {
		out = appendMethodDefRow(out, m)
	}
	out = appendAssemblyRow(out, rows.assembly)
	out = appendAssemblyRefRow(out, rows.assemblyRef)
	return out
}

func appendModuleRow(out []byte, r moduleRow) []byte {
	out = appendU16(out, 0) // Generation
	out = appendU16(out, r.name)
	out = appendU16(out, r.mvid)
	out = appendU16(out, 0) // EncId
	return appendU16(out, 0) // EncBaseId
}

func appendTypeRefRow(out []byte, r typeRefRow) []byte {
	out = appendU16(out, r.resolutionScope)
	out = appendU16(out, r.name)
	return appendU16(out, r.namespace)
}

func appendTypeDefRow(out []byte, r typeDefRow) []byte {
	out = appendU32(out, r.flags)
	out = appendU16(out, r.name)
	out = appendU16(out, r.namespace)
	out = appendU16(out, r.extends)
	out = appendU16(out, r.fieldList)
	return appendU16(out, r.methodList)
}

func appendMethodDefRow(out []byte, r methodDefRow) []byte {
	out = appendU32(out, r.rva)
	out = appendU16(out, r.implFlags)
	out = appendU16(out, r.flags)
	out = appendU16(out, r.name)
	out = appendU16(out, r.signature)
	return appendU16(out, r.paramList)
}

func appendAssemblyRow(out []byte, r assemblyRow) []byte {
	out = appendU32(out, r.hashAlgId)
	out = appendU16(out, r.major)
	out = appendU16(out, r.minor)
	out = appendU16(out, r.build)
	out = appendU16(out, r.revision)
	out = appendU32(out, r.flags)
	out = appendU16(out, r.publicKey)
	out = appendU16(out, r.name)
	return appendU16(out, r.culture)
}

func appendAssemblyRefRow(out []byte, r assemblyRefRow) []byte {
	out = appendU16(out, r.major)
	out = appendU16(out, r.minor)
	out = appendU16(out, r.build)
	out = appendU16(out, r.revision)
	out = appendU32(out, r.flags)
	out = appendU16(out, r.publicKeyToken)
	out = appendU16(out, r.name)
	out = appendU16(out, r.culture)
	return appendU16(out, r.hashValue)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func padTo4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0x00)
	}
	return b
}
