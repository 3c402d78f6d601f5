package clr

// Write assembles a Program into its metadata root, CLI header, and method
// body blob. The caller (the PE builder) places CLIHeader, Metadata and
// MethodBodies into a section and patches CLIHeader's MetaData.RVA with the
// metadata root's RVA; MetaData.Size is already filled in here. MethodRVAs,
// like the MethodDef rows' RVA column, stays an offset into MethodBodies and
// is not rebased to an image RVA.
func Write(prog *Program) (*Assembly, error) {
	h := newHeaps()
	for _, s := range prog.UserStrings {
		h.userString(s)
	}

	rows := buildTables(prog, h)
	bodies, rvas := encodeMethodBodies(prog.Methods)
	for i := range rows.methodDefs {
		rows.methodDefs[i].rva = rvas[i]
	}
	tilde := buildTildeStream(rows)
	metadata := buildMetadataRoot(h, tilde)

	var entryToken uint32
	if prog.EntryPoint >= 0 && prog.EntryPoint < len(prog.Methods) {
		entryToken = TokenMethodDef | uint32(prog.EntryPoint+1)
	}

	return &Assembly{
		CLIHeader:    buildCLIHeader(uint32(len(metadata)), entryToken),
		Metadata:     metadata,
		MethodBodies: bodies,
		MethodRVAs:   rvas,
		EntryToken:   entryToken,
	}, nil
}

// buildCLIHeader emits the 72-byte COR20 header. MetaData.RVA is left zero;
// the caller patches it once the metadata root's section placement is known.
func buildCLIHeader(metadataSize uint32, entryToken uint32) []byte {
	var out []byte
	out = appendU32(out, CLIHeaderSize)
	out = appendU16(out, 2) // MajorRuntimeVersion
	out = appendU16(out, 5) // MinorRuntimeVersion
	out = appendU32(out, 0) // MetaData.RVA, patched by the caller
	out = appendU32(out, metadataSize)
	out = appendU32(out, ComImageFlagsILOnly)
	out = appendU32(out, entryToken)
	// Resources, StrongNameSignature, CodeManagerTable, VTableFixups,
	// ExportAddressTableJumps, ManagedNativeHeader: six zeroed RVA/Size pairs.
	for i := 0; i < 12; i++ {
		out = appendU32(out, 0)
	}
	return out
}

// encodeMethodBodies prefixes each method's instructions with a tiny or fat
// header and concatenates them, returning each method's offset into the
// result.
func encodeMethodBodies(methods []Method) ([]byte, []uint32) {
	var out []byte
	rvas := make([]uint32, len(methods))
	for i, m := range methods {
		rvas[i] = uint32(len(out))
		out = append(out, encodeMethodHeader(m)...)
		out = append(out, m.Body...)
		for len(out)%4 != 0 {
			out = append(out, 0x00)
		}
	}
	return out, rvas
}

// encodeMethodHeader picks the 1-byte tiny header when the body is small,
// has no locals, and needs at most 8 stack slots; otherwise it emits the
// 12-byte fat header.
func encodeMethodHeader(m Method) []byte {
	if len(m.Locals) == 0 && len(m.Body) < 64 && m.MaxStack <= 8 {
		return []byte{byte(len(m.Body)<<2) | CorILMethodTinyFormat}
	}

	flags := CorILMethodFatFormat | CorILMethodInitLocals
	var out []byte
	out = appendU16(out, flags|(3<<12)) // low 2 bits = format, size nibble = 3 (dwords)
	out = appendU16(out, m.MaxStack)
	out = appendU32(out, uint32(len(m.Body)))
	out = appendU32(out, 0) // LocalVarSigTok: no local signature table modeled
	return out
}
