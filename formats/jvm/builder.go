package jvm

// Builder assembles a class file around a ConstantPool that a method-body
// encoder (such as package jasm) can intern into before the class-level
// names are added, so bytecode operand indices and the final serialized
// pool agree.
type Builder struct {
	pool *ConstantPool
}

// NewBuilder returns a Builder with a fresh, empty constant pool.
func NewBuilder() *Builder { return &Builder{pool: NewConstantPool()} }

// Pool exposes the builder's constant pool for interning ahead of Build.
func (b *Builder) Pool() *ConstantPool { return b.pool }

// Build serializes prog using the builder's pool, adding this/super/
// interface/field/method name-and-descriptor entries to it before writing.
// Each Method's Code must already reference indices from this same pool.
func (b *Builder) Build(prog *Program) ([]byte, error) {
	return write(prog, b.pool)
}

// Write lays out and emits a complete class file for prog using a fresh,
// private constant pool. Use Builder directly instead when method bodies
// need to intern constants (string literals, method/field refs) while
// being assembled.
func Write(prog *Program) ([]byte, error) {
	return NewBuilder().Build(prog)
}
