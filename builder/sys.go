package builder

import (
	"github.com/xyproto/multiforge/internal/diag"
	"github.com/xyproto/multiforge/x86asm"
)

// syscallTable maps a program-visible raw-syscall intrinsic name to its
// platform syscall number. Programs targeting the ELF/Mach-O backends call
// these directly (OpCall("sys_exit", 1) etc.) since neither writer models a
// PLT or dynamic symbol table that a libc call could resolve against.
type syscallTable map[string]int64

var linuxSyscalls = syscallTable{
	"sys_read":  0,
	"sys_write": 1,
	"sys_exit":  60,
}

var darwinSyscalls = syscallTable{
	"sys_read":  0x2000003,
	"sys_write": 0x2000004,
	"sys_exit":  0x2000001,
}

// sysvArgRegs is the System V AMD64 integer argument register order, used
// for ordinary (sibling) function calls on both ELF and Mach-O.
var sysvArgRegs = []x86asm.Reg{x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.RCX, x86asm.R8, x86asm.R9}

// syscallArgRegs is the Linux/Darwin syscall-instruction argument register
// order: r10 stands in for rcx as the 4th argument because the syscall
// instruction itself clobbers rcx (it holds the post-syscall return
// address).
var syscallArgRegs = []x86asm.Reg{x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.R10, x86asm.R8, x86asm.R9}

// syscallCallMarshaler builds a callMarshaler scoped to raw syscalls (by
// name, via table) plus same-program sibling calls under the System V
// AMD64 convention. Any other external call name is unsupported: neither
// the ELF nor the Mach-O writer models a dynamic import/PLT mechanism a
// libc call could resolve against.
func syscallCallMarshaler(arch string, table syscallTable) callMarshaler {
	return func(cb *x86asm.CodeBuilder, sibling bool, name string, argc int) error {
		if sibling {
			if argc > len(sysvArgRegs) {
				return &diag.InvalidInstruction{Mnemonic: "call", Architecture: arch, Reason: "more than 6 arguments is unsupported"}
			}
			for i := argc - 1; i >= 0; i-- {
				if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(sysvArgRegs[i])}); err != nil {
					return err
				}
			}
			return cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Call, Dst: x86asm.LabelOp(name)})
		}
		num, ok := table[name]
		if !ok {
			return &diag.InvalidInstruction{Mnemonic: "call", Architecture: arch, Reason: "only sibling calls and the sys_read/sys_write/sys_exit syscalls are supported"}
		}
		if argc > len(syscallArgRegs) {
			return &diag.InvalidInstruction{Mnemonic: "call", Architecture: arch, Reason: "more than 6 syscall arguments is unsupported"}
		}
		for i := argc - 1; i >= 0; i-- {
			if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Pop, Dst: x86asm.RegOp(syscallArgRegs[i])}); err != nil {
				return err
			}
		}
		if err := cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Mov, Dst: x86asm.RegOp(x86asm.EAX), Src: x86asm.ImmOp(num, 32)}); err != nil {
			return err
		}
		return cb.Emit(x86asm.Instruction{Mnemonic: x86asm.Syscall})
	}
}
