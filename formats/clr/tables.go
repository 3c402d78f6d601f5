package clr

// moduleRow, typeRefRow, etc. mirror the ECMA-335 row layouts this
// toolkit emits, using 2-byte heap/coded indices throughout per the
// package's small-heap simplification.
type moduleRow struct {
	name uint16 // #Strings index
	mvid uint16 // #GUID index
}

type typeRefRow struct {
	resolutionScope uint16 // coded index: (rowIndex<<2)|tag
	name            uint16
	namespace       uint16
}

type typeDefRow struct {
	flags      uint32
	name       uint16
	namespace  uint16
	extends    uint16 // coded TypeDefOrRef index
	fieldList  uint16
	methodList uint16
}

type methodDefRow struct {
	rva       uint32
	implFlags uint16
	flags     uint16
	name      uint16
	signature uint16
	paramList uint16
}

type assemblyRow struct {
	hashAlgId uint32
	major, minor, build, revision uint16
	flags     uint32
	publicKey uint16
	name      uint16
	culture   uint16
}

type assemblyRefRow struct {
	major, minor, build, revision uint16
	flags          uint32
	publicKeyToken uint16
	name           uint16
	culture        uint16
	hashValue      uint16
}

// codedTypeDefOrRef builds the TypeDefOrRef coded index: tag 0 = TypeDef,
// 1 = TypeRef, 2 = TypeSpec (2 tag bits).
func codedTypeDefOrRef(rowIndex uint16, tag uint16) uint16 { return (rowIndex << 2) | tag }

// codedResolutionScope builds the ResolutionScope coded index: tag 0 =
// Module, 1 = ModuleRef, 2 = AssemblyRef, 3 = TypeRef (2 tag bits).
func codedResolutionScope(rowIndex uint16, tag uint16) uint16 { return (rowIndex << 2) | tag }

// methodAttrPublic / methodAttrStatic mirror the MethodDef.Flags bits
// this toolkit sets: public, static, and IL-managed ("cil managed").
const (
	methodAttrPublic = 0x0006 // Public member access
	methodAttrStatic = 0x0010
	methodImplIL     = 0x0000 // CodeType = IL, Managed

	typeAttrPublic      = 0x00000001
	typeAttrAutoLayout  = 0x00000000
	typeAttrClass       = 0x00000000
)

// buildTables assembles the fixed table set (Module, TypeRef, TypeDef,
// MethodDef, Assembly, AssemblyRef) this toolkit always emits, interning
// names/signatures into h as it goes.
func buildTables(prog *Program, h *heaps) (rows struct {
	module      moduleRow
	typeRef     typeRefRow
	typeDef     typeDefRow
	methodDefs  []methodDefRow
	assembly    assemblyRow
	assemblyRef assemblyRefRow
}) {
	rows.module = moduleRow{
		name: h.str(prog.ModuleName),
		mvid: h.guidIndex([16]byte{}),
	}
	rows.assemblyRef = assemblyRefRow{
		major: 4, minor: 0, build: 0, revision: 0,
		name: h.str("mscorlib"),
	}
	rows.typeRef = typeRefRow{
		resolutionScope: codedResolutionScope(1, 2), // AssemblyRef row 1
		name:            h.str("Object"),
		namespace:       h.str("System"),
	}
	rows.typeDef = typeDefRow{
		flags:      typeAttrPublic | typeAttrAutoLayout | typeAttrClass,
		name:       h.str(prog.TypeName),
		namespace:  h.str(""),
		extends:    codedTypeDefOrRef(1, 1), // TypeRef row 1 (System.Object)
		fieldList:  1,                       // no fields: points one past the end
		methodList: 1,                       // first MethodDef row (1-based)
	}
	rows.assembly = assemblyRow{
		name: h.str(prog.AssemblyName),
	}
	for _, m := range prog.Methods {
		sigIdx := h.blobBytes(m.Signature)
		rows.methodDefs = append(rows.methodDefs, methodDefRow{
			implFlags: methodImplIL,
			flags:     methodAttrPublic | methodAttrStatic,
			name:      h.str(m.Name),
			signature: sigIdx,
			paramList: 1, // no params modeled: points one past the end
		})
	}
	return rows
}
