// Package ir holds the intermediate representation shared by the
// disassembler, basic-block builder, and CFG builder: decoded
// instructions, basic blocks, and the control-flow graph connecting them.
package ir

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Instruction is a single decoded bytecode instruction. It is immutable
// once produced by the disassembler.
type Instruction struct {
	Offset     uint64
	Op         vm.OpCode
	Arg        []byte // push immediate, nil for non-push opcodes
	JumpDest   bool   // true iff Offset is a valid JUMPDEST landing site
}

// Mnemonic returns the opcode name, synthesising INVALID_<hex> for bytes
// that are not assigned to any real opcode.
func (i Instruction) Mnemonic() string {
	if IsKnownOpcode(i.Op) {
		return i.Op.String()
	}
	return fmt.Sprintf("INVALID_%02x", byte(i.Op))
}

// IsKnownOpcode reports whether op is assigned a real mnemonic by the EVM
// opcode table, as opposed to an unassigned byte value.
func IsKnownOpcode(op vm.OpCode) bool {
	s := op.String()
	// go-ethereum's OpCode.String renders unassigned bytes as
	// "opcode 0x.. not defined"; anything else is a real mnemonic.
	return len(s) < 7 || s[:7] != "opcode "
}

// IsTerminator reports whether op ends a basic block: either a genuine
// control-transfer opcode, or an unassigned byte (which halts execution).
func IsTerminator(op vm.OpCode) bool {
	switch op {
	case vm.JUMP, vm.JUMPI, vm.STOP, vm.RETURN, vm.REVERT, vm.SELFDESTRUCT, vm.INVALID:
		return true
	}
	return !IsKnownOpcode(op)
}
