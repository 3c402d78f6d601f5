package jvm

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/xyproto/multiforge/internal/bio"
	"github.com/xyproto/multiforge/internal/diag"
)

// ReadProgram is the fully-parsed view Reader.Finish returns.
type ReadProgram struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool []Constant
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []Field
	Methods      []Method
}

// Reader lazily parses a class file, exposing the
// header → constant-pool → program accessor chain.
type Reader struct {
	src  io.ReaderAt
	size int64
	url  string

	header  bio.LazyCell[classHeader]
	program bio.LazyCell[ReadProgram]
}

type classHeader struct {
	minor, major uint16
}

// NewReader wraps src for lazy class-file parsing.
func NewReader(src io.ReaderAt, size int64, url string) *Reader {
	return &Reader{src: src, size: size, url: url}
}

// Header parses (once) the magic and version fields.
func (r *Reader) Header() (classHeader, error) {
	return r.header.Get(func() (classHeader, error) {
		br := bio.NewReader(r.src, r.size, binary.BigEndian, r.url)
		magic, err := br.U32()
		if err != nil {
			return classHeader{}, err
		}
		if magic != Magic {
			return classHeader{}, &diag.InvalidMagicHead{Got: u32Bytes(magic), Expected: u32Bytes(Magic)}
		}
		minor, err := br.U16()
		if err != nil {
			return classHeader{}, err
		}
		major, err := br.U16()
		if err != nil {
			return classHeader{}, err
		}
		return classHeader{minor: minor, major: major}, nil
	})
}

// Program fully parses the class file, including every method's Code
// attribute (and skipping attributes this toolkit does not model).
func (r *Reader) Program() (ReadProgram, error) {
	return r.program.Get(func() (ReadProgram, error) {
		hdr, err := r.Header()
		if err != nil {
			return ReadProgram{}, err
		}
		br := bio.NewReader(r.src, r.size, binary.BigEndian, r.url)
		if err := br.SeekAbs(8); err != nil { // past magic+minor+major
			return ReadProgram{}, err
		}
		poolCount, err := br.U16()
		if err != nil {
			return ReadProgram{}, err
		}
		entries, err := readConstantPool(br, poolCount)
		if err != nil {
			return ReadProgram{}, err
		}
		accessFlags, err := br.U16()
		if err != nil {
			return ReadProgram{}, err
		}
		thisClass, err := br.U16()
		if err != nil {
			return ReadProgram{}, err
		}
		superClass, err := br.U16()
		if err != nil {
			return ReadProgram{}, err
		}
		ifaceCount, err := br.U16()
		if err != nil {
			return ReadProgram{}, err
		}
		interfaces := make([]uint16, ifaceCount)
		for i := range interfaces {
			if interfaces[i], err = br.U16(); err != nil {
				return ReadProgram{}, err
			}
		}
		rawFields, err := readFieldsOrMethods(br, entries, false)
		if err != nil {
			return ReadProgram{}, err
		}
		rawMethods, err := readFieldsOrMethods(br, entries, true)
		if err != nil {
			return ReadProgram{}, err
		}
		return ReadProgram{
			MinorVersion: hdr.minor, MajorVersion: hdr.major,
			ConstantPool: entries, AccessFlags: accessFlags,
			ThisClass: thisClass, SuperClass: superClass, Interfaces: interfaces,
			Fields: toFields(rawFields, entries), Methods: toMethods(rawMethods, entries),
		}, nil
	})
}

// Finish consumes the reader, guaranteeing the program cache is populated.
func (r *Reader) Finish() (ReadProgram, error) {
	return r.Program()
}

func readConstantPool(br *bio.Reader, count uint16) ([]Constant, error) {
	entries := make([]Constant, count) // index 0 unused, matches constant_pool_count semantics
	for i := uint16(1); i < count; i++ {
		tag, err := br.U8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case TagUTF8:
			length, err := br.U16()
			if err != nil {
				return nil, err
			}
			b, err := br.ReadExact(int(length))
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkUTF8, UTF8: string(b)}
		case TagInteger:
			v, err := br.U32()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkInteger, Int: int32(v)}
		case TagFloat:
			v, err := br.U32()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkFloat, Float: math.Float32frombits(v)}
		case TagLong:
			v, err := br.U64()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkLong, Long: int64(v)}
			i++ // consumes the following filler slot
		case TagDouble:
			v, err := br.U64()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkDouble, Double: math.Float64frombits(v)}
			i++
		case TagClass:
			idx, err := br.U16()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkClass, Index: idx}
		case TagString:
			idx, err := br.U16()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkString, Index: idx}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIdx, err := br.U16()
			if err != nil {
				return nil, err
			}
			natIdx, err := br.U16()
			if err != nil {
				return nil, err
			}
			kind := CkFieldref
			if tag == TagMethodref {
				kind = CkMethodref
			} else if tag == TagInterfaceMethodref {
				kind = CkInterfaceMethodref
			}
			entries[i] = Constant{Kind: kind, ClassIndex: classIdx, NameAndTypeIndex: natIdx}
		case TagNameAndType:
			nameIdx, err := br.U16()
			if err != nil {
				return nil, err
			}
			descIdx, err := br.U16()
			if err != nil {
				return nil, err
			}
			entries[i] = Constant{Kind: CkNameAndType, NameIndex: nameIdx, DescriptorIndex: descIdx}
		default:
			return nil, &diag.InvalidData{Message: "unknown constant pool tag"}
		}
	}
	return entries, nil
}

// rawMember mirrors one field_info/method_info record before it is split
// into the exported Field/Method views.
type rawMember struct {
	accessFlags, nameIdx, descIdx uint16
	code                          []byte
	maxStack, maxLocals           uint16
	exceptions                    []ExceptionHandler
}

func readFieldsOrMethods(br *bio.Reader, pool []Constant, isMethod bool) ([]rawMember, error) {
	count, err := br.U16()
	if err != nil {
		return nil, err
	}
	out := make([]rawMember, count)
	for i := range out {
		accessFlags, err := br.U16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := br.U16()
		if err != nil {
			return nil, err
		}
		descIdx, err := br.U16()
		if err != nil {
			return nil, err
		}
		attrCount, err := br.U16()
		if err != nil {
			return nil, err
		}
		m := rawMember{accessFlags: accessFlags, nameIdx: nameIdx, descIdx: descIdx}
		for a := uint16(0); a < attrCount; a++ {
			attrNameIdx, err := br.U16()
			if err != nil {
				return nil, err
			}
			attrLen, err := br.U32()
			if err != nil {
				return nil, err
			}
			if isMethod && int(attrNameIdx) < len(pool) && pool[attrNameIdx].Kind == CkUTF8 && pool[attrNameIdx].UTF8 == "Code" {
				if err := readCodeAttribute(br, &m); err != nil {
					return nil, err
				}
				continue
			}
			if _, err := br.ReadExact(int(attrLen)); err != nil { // skip unmodeled attribute
				return nil, err
			}
		}
		out[i] = m
	}
	return out, nil
}

func readCodeAttribute(br *bio.Reader, m *rawMember) error {
	maxStack, err := br.U16()
	if err != nil {
		return err
	}
	maxLocals, err := br.U16()
	if err != nil {
		return err
	}
	codeLen, err := br.U32()
	if err != nil {
		return err
	}
	code, err := br.ReadExact(int(codeLen))
	if err != nil {
		return err
	}
	excCount, err := br.U16()
	if err != nil {
		return err
	}
	exceptions := make([]ExceptionHandler, excCount)
	for i := range exceptions {
		startPC, err := br.U16()
		if err != nil {
			return err
		}
		endPC, err := br.U16()
		if err != nil {
			return err
		}
		handlerPC, err := br.U16()
		if err != nil {
			return err
		}
		catchType, err := br.U16()
		if err != nil {
			return err
		}
		exceptions[i] = ExceptionHandler{StartPC: startPC, EndPC: endPC, HandlerPC: handlerPC, CatchType: catchType}
	}
	innerAttrCount, err := br.U16()
	if err != nil {
		return err
	}
	for a := uint16(0); a < innerAttrCount; a++ {
		if _, err := br.U16(); err != nil {
			return err
		}
		innerLen, err := br.U32()
		if err != nil {
			return err
		}
		if _, err := br.ReadExact(int(innerLen)); err != nil {
			return err
		}
	}
	m.maxStack, m.maxLocals, m.code, m.exceptions = maxStack, maxLocals, code, exceptions
	return nil
}

func toFields(raw []rawMember, pool []Constant) []Field {
	out := make([]Field, 0, len(raw))
	for _, m := range raw {
		name, desc := "", ""
		if int(m.nameIdx) < len(pool) {
			name = pool[m.nameIdx].UTF8
		}
		if int(m.descIdx) < len(pool) {
			desc = pool[m.descIdx].UTF8
		}
		out = append(out, Field{AccessFlags: m.accessFlags, Name: name, Descriptor: desc})
	}
	return out
}

func toMethods(raw []rawMember, pool []Constant) []Method {
	out := make([]Method, 0, len(raw))
	for _, m := range raw {
		name, desc := "", ""
		if int(m.nameIdx) < len(pool) {
			name = pool[m.nameIdx].UTF8
		}
		if int(m.descIdx) < len(pool) {
			desc = pool[m.descIdx].UTF8
		}
		out = append(out, Method{
			AccessFlags: m.accessFlags, Name: name, Descriptor: desc,
			MaxStack: m.maxStack, MaxLocals: m.maxLocals, Code: m.code, Exceptions: m.exceptions,
		})
	}
	return out
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
