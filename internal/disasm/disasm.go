// Package disasm turns runtime bytecode into the Instruction sequence
// consumed by the basic-block and CFG builders (C1 in the design doc).
package disasm

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
)

// Result is the output of decoding a contract's runtime bytecode.
type Result struct {
	Instructions []ir.Instruction
	// JumpDests holds every offset that decoded as a genuine JUMPDEST
	// instruction boundary, for O(1) validation of jump targets in C3.
	JumpDests map[uint64]bool
}

// Decode walks code left to right, consuming PUSH immediates as opaque
// data and recording every JUMPDEST landing site. It never errors: empty
// or truncated bytecode simply yields a short (possibly empty) result,
// per the disassembler's tolerant-of-malformed-input contract.
func Decode(code []byte) *Result {
	res := &Result{JumpDests: make(map[uint64]bool)}
	n := uint64(len(code))
	for pc := uint64(0); pc < n; {
		op := vm.OpCode(code[pc])

		if op.IsPush() {
			size := uint64(op) - uint64(vm.PUSH1) + 1
			start, end := pc+1, pc+1+size
			if end > n {
				log.Debug("disasm: truncated push immediate, stopping", "pc", pc, "op", op)
				break
			}
			arg := make([]byte, size)
			copy(arg, code[start:end])
			res.Instructions = append(res.Instructions, ir.Instruction{Offset: pc, Op: op, Arg: arg})
			pc = end
			continue
		}

		inst := ir.Instruction{Offset: pc, Op: op}
		if op == vm.JUMPDEST {
			inst.JumpDest = true
			res.JumpDests[pc] = true
		}
		res.Instructions = append(res.Instructions, inst)
		pc++
	}
	return res
}
