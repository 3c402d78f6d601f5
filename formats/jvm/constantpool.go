package jvm

// ConstantPool is an insertion-order constant pool builder with interning
// for entry kinds callers look up more than once (UTF8, Class, NameAndType,
// method/field refs). Indices are 1-based per the class-file format;
// Long/Double entries consume two consecutive slots, so the physical index
// assigned to the next entry can skip one ahead of len(entries)+1.
//
// A ConstantPool is shared between whatever assembles a method's bytecode
// (which needs Methodref/Fieldref/String indices inline) and the class
// writer that finally serializes it, so both see the same index space.
type ConstantPool struct {
	entries  []Constant
	utf8     map[string]uint16
	classes  map[string]uint16
	natDesc  map[string]uint16 // "name\x00descriptor" -> NameAndType index
	strings  map[string]uint16
	integers map[int32]uint16
}

// NewConstantPool returns an empty pool ready for interning.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		utf8:     make(map[string]uint16),
		classes:  make(map[string]uint16),
		natDesc:  make(map[string]uint16),
		strings:  make(map[string]uint16),
		integers: make(map[int32]uint16),
	}
}

func (p *ConstantPool) add(c Constant) uint16 {
	if c.Kind == CkFieldref || c.Kind == CkMethodref || c.Kind == CkInterfaceMethodref {
		for i, e := range p.entries {
			if e == c {
				return uint16(i + 1)
			}
		}
	}
	p.entries = append(p.entries, c)
	idx := uint16(len(p.entries))
	if c.Kind == CkLong || c.Kind == CkDouble {
		p.entries = append(p.entries, Constant{Kind: ckFiller})
	}
	return idx
}

// Utf8 interns a UTF8 constant, returning its pool index.
func (p *ConstantPool) Utf8(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	idx := p.add(Constant{Kind: CkUTF8, UTF8: s})
	p.utf8[s] = idx
	return idx
}

// Class interns a Class constant (and its name's UTF8 entry).
func (p *ConstantPool) Class(name string) uint16 {
	if idx, ok := p.classes[name]; ok {
		return idx
	}
	nameIdx := p.Utf8(name)
	idx := p.add(Constant{Kind: CkClass, Index: nameIdx})
	p.classes[name] = idx
	return idx
}

// NameAndType interns a NameAndType constant.
func (p *ConstantPool) NameAndType(name, descriptor string) uint16 {
	key := name + "\x00" + descriptor
	if idx, ok := p.natDesc[key]; ok {
		return idx
	}
	nameIdx := p.Utf8(name)
	descIdx := p.Utf8(descriptor)
	idx := p.add(Constant{Kind: CkNameAndType, NameIndex: nameIdx, DescriptorIndex: descIdx})
	p.natDesc[key] = idx
	return idx
}

// Methodref interns a Methodref constant for class.name(descriptor).
func (p *ConstantPool) Methodref(class, name, descriptor string) uint16 {
	classIdx := p.Class(class)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(Constant{Kind: CkMethodref, ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// InterfaceMethodref interns an InterfaceMethodref constant.
func (p *ConstantPool) InterfaceMethodref(class, name, descriptor string) uint16 {
	classIdx := p.Class(class)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(Constant{Kind: CkInterfaceMethodref, ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// Fieldref interns a Fieldref constant for class.name:descriptor.
func (p *ConstantPool) Fieldref(class, name, descriptor string) uint16 {
	classIdx := p.Class(class)
	natIdx := p.NameAndType(name, descriptor)
	return p.add(Constant{Kind: CkFieldref, ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// String interns a String constant referencing a UTF8 literal.
func (p *ConstantPool) String(s string) uint16 {
	if idx, ok := p.strings[s]; ok {
		return idx
	}
	utfIdx := p.Utf8(s)
	idx := p.add(Constant{Kind: CkString, Index: utfIdx})
	p.strings[s] = idx
	return idx
}

// Integer interns an Integer constant.
func (p *ConstantPool) Integer(v int32) uint16 {
	if idx, ok := p.integers[v]; ok {
		return idx
	}
	idx := p.add(Constant{Kind: CkInteger, Int: v})
	p.integers[v] = idx
	return idx
}

// Long interns a Long constant. Long values are rarely repeated in
// practice, so this does not intern by value.
func (p *ConstantPool) Long(v int64) uint16 { return p.add(Constant{Kind: CkLong, Long: v}) }

// Float adds a Float constant; like Long, it is not interned by value.
func (p *ConstantPool) Float(v float32) uint16 { return p.add(Constant{Kind: CkFloat, Float: v}) }

// Double adds a Double constant; like Long, it is not interned by value.
func (p *ConstantPool) Double(v float64) uint16 { return p.add(Constant{Kind: CkDouble, Double: v}) }

// Count is constant_pool_count: one past the highest valid index.
func (p *ConstantPool) Count() uint16 { return uint16(len(p.entries)) + 1 }
