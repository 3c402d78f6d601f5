package wasm

import (
	"bytes"
	"encoding/binary"

	"github.com/xyproto/multiforge/internal/bio"
)

// Write lays out and emits a complete binary module for prog. Sections
// are emitted in the fixed module-layout order the format requires, and
// only the sections prog actually populates are written.
func Write(prog *Program) ([]byte, error) {
	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.LittleEndian)

	if err := w.U32(Magic); err != nil {
		return nil, err
	}
	if err := w.U32(Version); err != nil {
		return nil, err
	}

	if len(prog.Types) > 0 {
		if err := writeSection(w, SecType, encodeTypeSection(prog.Types)); err != nil {
			return nil, err
		}
	}
	if len(prog.Imports) > 0 {
		if err := writeSection(w, SecImport, encodeImportSection(prog.Imports)); err != nil {
			return nil, err
		}
	}
	if len(prog.Functions) > 0 {
		if err := writeSection(w, SecFunction, encodeFunctionSection(prog.Functions)); err != nil {
			return nil, err
		}
	}
	if len(prog.Memories) > 0 {
		if err := writeSection(w, SecMemory, encodeMemorySection(prog.Memories)); err != nil {
			return nil, err
		}
	}
	if len(prog.Exports) > 0 {
		if err := writeSection(w, SecExport, encodeExportSection(prog.Exports)); err != nil {
			return nil, err
		}
	}
	if prog.HasStart {
		if err := writeSection(w, SecStart, putUvarint32(prog.StartFunc)); err != nil {
			return nil, err
		}
	}
	if len(prog.Functions) > 0 {
		if err := writeSection(w, SecCode, encodeCodeSection(prog.Functions)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeSection(w *bio.Writer, id byte, payload []byte) error {
	if err := w.U8(id); err != nil {
		return err
	}
	if err := w.Bytes(putUvarint32(uint32(len(payload)))); err != nil {
		return err
	}
	return w.Bytes(payload)
}

func encodeTypeSection(types []FuncType) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(types)))...)
	for _, t := range types {
		out = append(out, FuncTypeTag)
		out = append(out, putUvarint32(uint32(len(t.Params)))...)
		out = append(out, t.Params...)
		out = append(out, putUvarint32(uint32(len(t.Results)))...)
		out = append(out, t.Results...)
	}
	return out
}

func encodeImportSection(imports []Import) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(imports)))...)
	for _, im := range imports {
		out = append(out, encodeName(im.Module)...)
		out = append(out, encodeName(im.Name)...)
		out = append(out, ExportFunc) // import kind: function
		out = append(out, putUvarint32(im.TypeIdx)...)
	}
	return out
}

func encodeFunctionSection(fns []Function) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(fns)))...)
	for _, fn := range fns {
		out = append(out, putUvarint32(fn.TypeIdx)...)
	}
	return out
}

func encodeMemorySection(mems []Memory) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(mems)))...)
	for _, m := range mems {
		if m.HasMax {
			out = append(out, 0x01)
			out = append(out, putUvarint32(m.Min)...)
			out = append(out, putUvarint32(m.Max)...)
		} else {
			out = append(out, 0x00)
			out = append(out, putUvarint32(m.Min)...)
		}
	}
	return out
}

func encodeExportSection(exports []Export) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(exports)))...)
	for _, e := range exports {
		out = append(out, encodeName(e.Name)...)
		out = append(out, e.Kind)
		out = append(out, putUvarint32(e.Index)...)
	}
	return out
}

func encodeCodeSection(fns []Function) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(fns)))...)
	for _, fn := range fns {
		body := encodeFunctionBody(fn)
		out = append(out, putUvarint32(uint32(len(body)))...)
		out = append(out, body...)
	}
	return out
}

func encodeFunctionBody(fn Function) []byte {
	var out []byte
	out = append(out, putUvarint32(uint32(len(fn.Locals)))...)
	for _, l := range fn.Locals {
		out = append(out, putUvarint32(l.Count)...)
		out = append(out, l.Type)
	}
	out = append(out, fn.Body...)
	return out
}

func encodeName(s string) []byte {
	b := []byte(s)
	out := putUvarint32(uint32(len(b)))
	return append(out, b...)
}
