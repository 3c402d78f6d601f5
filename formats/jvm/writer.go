package jvm

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/xyproto/multiforge/internal/bio"
)

// write lays out and emits a complete class file for prog using p, which
// may already carry entries interned by a method-body encoder.
func write(prog *Program, p *ConstantPool) ([]byte, error) {
	thisIdx := p.Class(prog.ThisClass)
	superIdx := p.Class(prog.SuperClass)
	ifaceIdx := make([]uint16, len(prog.Interfaces))
	for i, name := range prog.Interfaces {
		ifaceIdx[i] = p.Class(name)
	}

	fieldNameIdx := make([]uint16, len(prog.Fields))
	fieldDescIdx := make([]uint16, len(prog.Fields))
	for i, f := range prog.Fields {
		fieldNameIdx[i] = p.Utf8(f.Name)
		fieldDescIdx[i] = p.Utf8(f.Descriptor)
	}

	codeAttrNameIdx := p.Utf8("Code")
	methodNameIdx := make([]uint16, len(prog.Methods))
	methodDescIdx := make([]uint16, len(prog.Methods))
	for i, m := range prog.Methods {
		methodNameIdx[i] = p.Utf8(m.Name)
		methodDescIdx[i] = p.Utf8(m.Descriptor)
	}

	var buf bytes.Buffer
	w := bio.NewWriter(&buf, binary.BigEndian) // class files are big-endian

	if err := w.U32(Magic); err != nil {
		return nil, err
	}
	if err := w.U16(prog.MinorVersion); err != nil {
		return nil, err
	}
	if err := w.U16(prog.MajorVersion); err != nil {
		return nil, err
	}
	if err := w.U16(p.Count()); err != nil {
		return nil, err
	}
	if err := writeConstantPool(w, p); err != nil {
		return nil, err
	}
	if err := w.U16(prog.AccessFlags); err != nil {
		return nil, err
	}
	if err := w.U16(thisIdx); err != nil {
		return nil, err
	}
	if err := w.U16(superIdx); err != nil {
		return nil, err
	}
	if err := w.U16(uint16(len(ifaceIdx))); err != nil {
		return nil, err
	}
	for _, idx := range ifaceIdx {
		if err := w.U16(idx); err != nil {
			return nil, err
		}
	}
	if err := w.U16(uint16(len(prog.Fields))); err != nil {
		return nil, err
	}
	for i, f := range prog.Fields {
		if err := w.U16(f.AccessFlags); err != nil {
			return nil, err
		}
		if err := w.U16(fieldNameIdx[i]); err != nil {
			return nil, err
		}
		if err := w.U16(fieldDescIdx[i]); err != nil {
			return nil, err
		}
		if err := w.U16(0); err != nil { // attributes_count
			return nil, err
		}
	}
	if err := w.U16(uint16(len(prog.Methods))); err != nil {
		return nil, err
	}
	for i, m := range prog.Methods {
		if err := writeMethod(w, m, methodNameIdx[i], methodDescIdx[i], codeAttrNameIdx); err != nil {
			return nil, err
		}
	}
	if err := w.U16(0); err != nil { // class attributes_count
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeConstantPool(w *bio.Writer, p *ConstantPool) error {
	for i := 0; i < len(p.entries); i++ {
		c := p.entries[i]
		switch c.Kind {
		case ckFiller:
			continue
		case CkUTF8:
			if err := w.U8(TagUTF8); err != nil {
				return err
			}
			b := []byte(c.UTF8)
			if err := w.U16(uint16(len(b))); err != nil {
				return err
			}
			if err := w.Bytes(b); err != nil {
				return err
			}
		case CkInteger:
			if err := w.U8(TagInteger); err != nil {
				return err
			}
			if err := w.I32(c.Int); err != nil {
				return err
			}
		case CkFloat:
			if err := w.U8(TagFloat); err != nil {
				return err
			}
			if err := w.U32(math.Float32bits(c.Float)); err != nil {
				return err
			}
		case CkLong:
			if err := w.U8(TagLong); err != nil {
				return err
			}
			if err := w.I64(c.Long); err != nil {
				return err
			}
		case CkDouble:
			if err := w.U8(TagDouble); err != nil {
				return err
			}
			if err := w.U64(math.Float64bits(c.Double)); err != nil {
				return err
			}
		case CkClass:
			if err := w.U8(TagClass); err != nil {
				return err
			}
			if err := w.U16(c.Index); err != nil {
				return err
			}
		case CkString:
			if err := w.U8(TagString); err != nil {
				return err
			}
			if err := w.U16(c.Index); err != nil {
				return err
			}
		case CkFieldref:
			if err := w.U8(TagFieldref); err != nil {
				return err
			}
			if err := w.U16(c.ClassIndex); err != nil {
				return err
			}
			if err := w.U16(c.NameAndTypeIndex); err != nil {
				return err
			}
		case CkMethodref:
			if err := w.U8(TagMethodref); err != nil {
				return err
			}
			if err := w.U16(c.ClassIndex); err != nil {
				return err
			}
			if err := w.U16(c.NameAndTypeIndex); err != nil {
				return err
			}
		case CkInterfaceMethodref:
			if err := w.U8(TagInterfaceMethodref); err != nil {
				return err
			}
			if err := w.U16(c.ClassIndex); err != nil {
				return err
			}
			if err := w.U16(c.NameAndTypeIndex); err != nil {
				return err
			}
		case CkNameAndType:
			if err := w.U8(TagNameAndType); err != nil {
				return err
			}
			if err := w.U16(c.NameIndex); err != nil {
				return err
			}
			if err := w.U16(c.DescriptorIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMethod(w *bio.Writer, m Method, nameIdx, descIdx, codeAttrNameIdx uint16) error {
	if err := w.U16(m.AccessFlags); err != nil {
		return err
	}
	if err := w.U16(nameIdx); err != nil {
		return err
	}
	if err := w.U16(descIdx); err != nil {
		return err
	}
	hasAbstractFlag := m.AccessFlags&0x0400 != 0 // ACC_ABSTRACT: no Code attribute
	if hasAbstractFlag || m.Code == nil {
		return w.U16(0) // attributes_count
	}
	if err := w.U16(1); err != nil { // attributes_count: Code
		return err
	}
	return writeCodeAttribute(w, m, codeAttrNameIdx)
}

func writeCodeAttribute(w *bio.Writer, m Method, codeAttrNameIdx uint16) error {
	attrLen := uint32(2 + 2 + 4 + len(m.Code) + 2 + len(m.Exceptions)*8 + 2)
	if err := w.U16(codeAttrNameIdx); err != nil {
		return err
	}
	if err := w.U32(attrLen); err != nil {
		return err
	}
	if err := w.U16(m.MaxStack); err != nil {
		return err
	}
	if err := w.U16(m.MaxLocals); err != nil {
		return err
	}
	if err := w.U32(uint32(len(m.Code))); err != nil {
		return err
	}
	if err := w.Bytes(m.Code); err != nil {
		return err
	}
	if err := w.U16(uint16(len(m.Exceptions))); err != nil {
		return err
	}
	for _, e := range m.Exceptions {
		if err := w.U16(e.StartPC); err != nil {
			return err
		}
		if err := w.U16(e.EndPC); err != nil {
			return err
		}
		if err := w.U16(e.HandlerPC); err != nil {
			return err
		}
		if err := w.U16(e.CatchType); err != nil {
			return err
		}
	}
	return w.U16(0) // Code attribute's own attributes_count
}
