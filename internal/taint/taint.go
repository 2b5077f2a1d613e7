// Package taint implements the reaching-taint dataflow engine (C6): it
// walks the control-flow graph from the contract's entry block, abstractly
// interpreting the EVM stack, memory, and storage, and reports whether
// attacker-controlled input reaches a storage write bound to a key
// variable (spec §4.6).
package taint

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/storage"
)

// Bounds on path enumeration (spec §4.6): paths longer than maxPathBlocks
// blocks, or that would revisit a block more than maxVisitsPerNode times,
// are abandoned; at most maxPathsPerSink paths are kept per variable.
const (
	maxPathBlocks    = 50
	maxVisitsPerNode = 2
	maxPathsPerSink  = 256
)

// taintSources maps an opcode that yields attacker-controlled data to the
// number of stack items it consumes (spec §4.6's taint-source set). CALLER
// and ORIGIN double as guard signals in the guard classifier (C7), but the
// spec still counts them as taint sources here.
var taintSources = map[vm.OpCode]int{
	vm.CALLDATALOAD: 1,
	vm.CALLDATASIZE: 0,
	vm.CALLVALUE:    0,
	vm.GASPRICE:     0,
	vm.CALLER:       0,
	vm.ORIGIN:       0,
}

type stackVal struct {
	tainted bool
	known   bool
	value   uint64
}

// state is the abstract interpreter state threaded along one path.
type state struct {
	stack       []stackVal
	memTainted  bool
	storage     map[uint64]bool // resolved slot -> tainted
	storageFuzz bool            // any write to an unresolved slot was tainted
}

func newState() *state {
	return &state{storage: make(map[uint64]bool)}
}

func (s *state) clone() *state {
	cp := &state{
		stack:       append([]stackVal(nil), s.stack...),
		memTainted:  s.memTainted,
		storageFuzz: s.storageFuzz,
		storage:     make(map[uint64]bool, len(s.storage)),
	}
	for k, v := range s.storage {
		cp.storage[k] = v
	}
	return cp
}

func (s *state) pop() stackVal {
	if len(s.stack) == 0 {
		return stackVal{}
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

func (s *state) push(v stackVal) { s.stack = append(s.stack, v) }

func popN(s *state, n int) {
	for i := 0; i < n && len(s.stack) > 0; i++ {
		s.pop()
	}
}

// TaintPath records one bounded path from the contract's entry block to a
// storage write, with the write's tainted/clean verdict.
type TaintPath struct {
	Variable string
	Slot     uint64
	Instr    uint64 // byte offset of the SSTORE instruction (for source-map lookup)
	Blocks   []uint64
	Tainted  bool
	Dynamic  bool // the path passed through a block whose successors were over-approximated by a dynamic jump
}

// FindTaints enumerates bounded paths from the entry block to every SSTORE
// whose target slot resolves to a bound key variable, and reports whether
// attacker-controlled data reaches the stored value.
func FindTaints(blocks []*ir.BasicBlock, cfg *ir.CFG, bindings map[string]*storage.Binding) map[string][]TaintPath {
	out := make(map[string][]TaintPath)
	if len(blocks) == 0 {
		return out
	}
	slotToVar := make(map[uint64]string, len(bindings))
	for name, b := range bindings {
		if !b.Unknown && b.Slot >= 0 {
			slotToVar[uint64(b.Slot)] = name
		}
	}
	byStart := make(map[uint64]*ir.BasicBlock, len(blocks))
	for _, b := range blocks {
		byStart[b.Start] = b
	}

	visits := make(map[uint64]int)
	var walk func(start uint64, st *state, path []uint64, dynamic bool)
	walk = func(start uint64, st *state, path []uint64, dynamic bool) {
		if len(path) >= maxPathBlocks {
			return
		}
		visits[start]++
		defer func() { visits[start]-- }()
		if visits[start] > maxVisitsPerNode {
			return
		}
		b := byStart[start]
		if b == nil {
			return
		}
		path = append(path, start)

		cur := st.clone()
		for _, inst := range b.Instructions {
			slot, isWrite, tainted := step(cur, inst)
			if !isWrite {
				continue
			}
			v, ok := slotToVar[slot]
			if !ok || len(out[v]) >= maxPathsPerSink {
				continue
			}
			out[v] = append(out[v], TaintPath{
				Variable: v,
				Slot:     slot,
				Instr:    inst.Offset,
				Blocks:   append([]uint64(nil), path...),
				Tainted:  tainted,
				Dynamic:  dynamic,
			})
		}

		nextDynamic := dynamic || cfg.Dynamic[start]
		for _, next := range cfg.Succs[start] {
			walk(next, cur, path, nextDynamic)
		}
	}
	walk(blocks[0].Start, newState(), nil, false)
	return out
}

// step applies one instruction's abstract stack/memory/storage effect and
// reports whether it was an SSTORE to a resolvable slot, that slot, and
// whether the stored value was tainted.
func step(s *state, inst ir.Instruction) (slot uint64, isWrite bool, tainted bool) {
	op := inst.Op
	switch {
	case op.IsPush():
		v := uint256.NewInt(0).SetBytes(inst.Arg)
		s.push(stackVal{known: true, value: v.Uint64()})
		return 0, false, false
	case op == vm.PUSH0:
		s.push(stackVal{known: true, value: 0})
		return 0, false, false
	case op >= vm.DUP1 && op <= vm.DUP16:
		n := int(op-vm.DUP1) + 1
		if n <= len(s.stack) {
			s.push(s.stack[len(s.stack)-n])
		} else {
			s.push(stackVal{})
		}
		return 0, false, false
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		n := int(op-vm.SWAP1) + 1
		if n < len(s.stack) {
			i, j := len(s.stack)-1, len(s.stack)-1-n
			s.stack[i], s.stack[j] = s.stack[j], s.stack[i]
		}
		return 0, false, false
	}

	if pops, ok := taintSources[op]; ok {
		popN(s, pops)
		s.push(stackVal{tainted: true})
		return 0, false, false
	}

	switch op {
	case vm.CALLDATACOPY:
		popN(s, 3)
		s.memTainted = true
		return 0, false, false
	case vm.MLOAD:
		s.pop()
		s.push(stackVal{tainted: s.memTainted})
		return 0, false, false
	case vm.MSTORE, vm.MSTORE8:
		s.pop()
		val := s.pop()
		if val.tainted {
			s.memTainted = true
		}
		return 0, false, false
	case vm.SLOAD:
		off := s.pop()
		tainted := s.storageFuzz
		if off.known {
			tainted = s.storage[off.value]
		}
		s.push(stackVal{tainted: tainted})
		return 0, false, false
	case vm.SSTORE:
		off := s.pop()
		val := s.pop()
		if off.known {
			s.storage[off.value] = val.tainted
			return off.value, true, val.tainted
		}
		s.storageFuzz = s.storageFuzz || val.tainted
		return 0, false, false
	case vm.ADD, vm.SUB, vm.MUL, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD, vm.EXP, vm.SIGNEXTEND,
		vm.AND, vm.OR, vm.XOR, vm.BYTE, vm.SHL, vm.SHR, vm.SAR,
		vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ:
		a, b := s.pop(), s.pop()
		s.push(stackVal{tainted: a.tainted || b.tainted})
		return 0, false, false
	case vm.ISZERO, vm.NOT:
		a := s.pop()
		s.push(stackVal{tainted: a.tainted})
		return 0, false, false
	case vm.POP:
		s.pop()
		return 0, false, false
	case vm.SHA3:
		s.pop()
		s.pop()
		s.push(stackVal{tainted: s.memTainted})
		return 0, false, false
	case vm.CALL, vm.CALLCODE:
		// Treat the call's return value as tainted; the call target is
		// not followed (spec §4.6).
		popN(s, 7)
		s.push(stackVal{tainted: true})
		return 0, false, false
	case vm.DELEGATECALL, vm.STATICCALL:
		popN(s, 6)
		s.push(stackVal{tainted: true})
		return 0, false, false
	default:
		// Unmodelled opcode: pop its documented stack inputs (if any) and
		// push untainted, unknown results so later DUP/SWAP indices stay
		// aligned with real EVM stack depth.
		in, outN := stackEffect(op)
		popN(s, in)
		for i := 0; i < outN; i++ {
			s.push(stackVal{})
		}
		return 0, false, false
	}
}

// stackEffect gives the (pop, push) counts for opcodes not already handled
// explicitly in step. Unknown opcodes default to (0, 0).
func stackEffect(op vm.OpCode) (pop, push int) {
	switch op {
	case vm.ADDRESS, vm.ORIGIN, vm.CALLER, vm.CODESIZE, vm.RETURNDATASIZE,
		vm.COINBASE, vm.TIMESTAMP, vm.NUMBER, vm.DIFFICULTY, vm.GASLIMIT,
		vm.CHAINID, vm.SELFBALANCE, vm.BASEFEE, vm.PC, vm.MSIZE, vm.GAS:
		return 0, 1
	case vm.BALANCE, vm.EXTCODEHASH, vm.BLOCKHASH:
		return 1, 1
	case vm.CODECOPY:
		return 3, 0
	case vm.EXTCODECOPY:
		return 4, 0
	case vm.RETURNDATACOPY:
		return 3, 0
	case vm.LOG0:
		return 2, 0
	case vm.LOG1:
		return 3, 0
	case vm.LOG2:
		return 4, 0
	case vm.LOG3:
		return 5, 0
	case vm.LOG4:
		return 6, 0
	case vm.CREATE:
		return 3, 1
	case vm.CREATE2:
		return 4, 1
	case vm.RETURN, vm.REVERT:
		return 2, 0
	case vm.SELFDESTRUCT:
		return 1, 0
	default:
		return 0, 0
	}
}
