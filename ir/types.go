// Package ir implements the platform-neutral universal intermediate
// representation: a stack-machine instruction set, a type lattice, and the
// program/function/constant-pool structures every format backend
// translates from.
package ir

// Type is a node in the universal type lattice.
type Type struct {
	Kind TypeKind
	// Elem is the pointee/element type for Pointer and Array kinds.
	Elem *Type
}

type TypeKind int

const (
	TypeI8 TypeKind = iota
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeBool
	TypeString
	TypeObject
	TypePointer
	TypeArray
	TypeVoid
)

func (k TypeKind) String() string {
	switch k {
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypePointer:
		return "pointer"
	case TypeArray:
		return "array"
	case TypeVoid:
		return "void"
	default:
		return "unknown"
	}
}

func (t Type) String() string {
	switch t.Kind {
	case TypePointer:
		if t.Elem != nil {
			return "pointer-to(" + t.Elem.String() + ")"
		}
		return "pointer-to(?)"
	case TypeArray:
		if t.Elem != nil {
			return "array-of(" + t.Elem.String() + ")"
		}
		return "array-of(?)"
	default:
		return t.Kind.String()
	}
}

func PointerTo(elem Type) Type { return Type{Kind: TypePointer, Elem: &elem} }
func ArrayOf(elem Type) Type   { return Type{Kind: TypeArray, Elem: &elem} }

var (
	I8     = Type{Kind: TypeI8}
	I16    = Type{Kind: TypeI16}
	I32    = Type{Kind: TypeI32}
	I64    = Type{Kind: TypeI64}
	F32    = Type{Kind: TypeF32}
	F64    = Type{Kind: TypeF64}
	Bool   = Type{Kind: TypeBool}
	String = Type{Kind: TypeString}
	Object = Type{Kind: TypeObject}
	Void   = Type{Kind: TypeVoid}
)

// Constant is a compile-time literal value carried in a program's constant
// pool or as a LoadConstant operand.
type Constant struct {
	Kind  TypeKind // one of the Type widths, or TypeVoid to mean Null
	I8    int8
	I16   int16
	I32   int32
	I64   int64
	F32   float32
	F64   float64
	Str   string
	Bool  bool
	IsNil bool
}

func ConstI32(v int32) Constant { return Constant{Kind: TypeI32, I32: v} }
func ConstI64(v int64) Constant { return Constant{Kind: TypeI64, I64: v} }
func ConstF64(v float64) Constant { return Constant{Kind: TypeF64, F64: v} }
func ConstStr(v string) Constant  { return Constant{Kind: TypeString, Str: v} }
func ConstBool(v bool) Constant   { return Constant{Kind: TypeBool, Bool: v} }
func Null() Constant              { return Constant{Kind: TypeVoid, IsNil: true} }
