// Package jasm is a textual assembly notation for the jvm class-file
// writer: a JASM source file parses into a Class, which assembles to
// class-file bytes through a jvm.Program (ToClassBytes) and renders back to
// JASM text (Write). Class files are not disassembled back into a Class.
// The AST mirrors the class/field/method/instruction shape one-for-one so
// the binary writer never has to guess at intent.
package jasm

// Class is the root of a parsed JASM file — one class per file, matching
// the class-file format itself.
type Class struct {
	Public     bool
	Name       string
	Super      string
	Interfaces []string
	Fields     []Field
	Methods    []Method
}

type Field struct {
	Public, Static, Final bool
	Name                  string
	Descriptor            string
}

type Instruction struct {
	Mnemonic string
	// Operands as written in source; interpretation (constant-pool
	// reference, branch offset, immediate) depends on Mnemonic.
	Args []string
}

type Method struct {
	Public, Static, Final bool
	Name                  string
	Descriptor            string
	MaxStack, MaxLocals   int
	Body                  []Instruction
}
