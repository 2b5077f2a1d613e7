package ir

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// backscanLimit bounds how far the static-jump-target resolver looks
// backwards from a JUMP/JUMPI for a preceding PUSH immediate (spec §4.3).
const backscanLimit = 10

// blockingOps are the stack-mutating instructions that, if found before a
// PUSH during the backward scan, invalidate static target resolution.
var blockingOps = map[vm.OpCode]bool{
	vm.ADD: true, vm.SUB: true, vm.MUL: true, vm.DIV: true, vm.MOD: true,
	vm.MLOAD: true, vm.SLOAD: true, vm.JUMP: true,
}

// CFG is the control-flow graph: block-start offset to successor
// block-start offsets, plus a record of which blocks fell back to the
// conservative dynamic-jump over-approximation.
type CFG struct {
	Succs   map[uint64][]uint64
	Dynamic map[uint64]bool
}

// BuildCFG connects basic blocks via successor edges (C3).
func BuildCFG(blocks []*BasicBlock, jumpDests map[uint64]bool) *CFG {
	cfg := &CFG{Succs: make(map[uint64][]uint64), Dynamic: make(map[uint64]bool)}
	if len(blocks) == 0 {
		return cfg
	}

	allDests := sortedKeys(jumpDests)

	for idx, b := range blocks {
		term := b.Terminator()
		var succs []uint64

		switch term.Op {
		case vm.STOP, vm.RETURN, vm.REVERT, vm.SELFDESTRUCT, vm.INVALID:
			// no successors

		case vm.JUMP:
			if target, ok := resolveStaticTarget(b, jumpDests); ok {
				succs = append(succs, target)
			} else {
				cfg.Dynamic[b.Start] = true
				succs = append(succs, allDests...)
			}

		case vm.JUMPI:
			if target, ok := resolveStaticTarget(b, jumpDests); ok {
				succs = append(succs, target)
			} else {
				cfg.Dynamic[b.Start] = true
				succs = append(succs, allDests...)
			}
			if idx+1 < len(blocks) {
				succs = append(succs, blocks[idx+1].Start)
			}

		default:
			if !IsTerminator(term.Op) && idx+1 < len(blocks) {
				// fell through to the next JUMPDEST without an explicit
				// control-transfer instruction.
				succs = append(succs, blocks[idx+1].Start)
			}
			// An unknown-opcode terminator (IsTerminator but not one of
			// the named cases above) behaves like INVALID: no successors.
		}

		cfg.Succs[b.Start] = dedupSorted(succs)
	}
	return cfg
}

// resolveStaticTarget scans backwards from the block's terminating
// JUMP/JUMPI, within the same block, for up to backscanLimit instructions,
// looking for a PUSH immediate that precedes any stack-mutating
// instruction. It returns the target offset only if that offset is a
// valid JUMPDEST.
func resolveStaticTarget(b *BasicBlock, jumpDests map[uint64]bool) (uint64, bool) {
	instrs := b.Instructions
	if len(instrs) < 2 {
		return 0, false
	}
	scanned := 0
	for i := len(instrs) - 2; i >= 0 && scanned < backscanLimit; i-- {
		scanned++
		inst := instrs[i]
		if inst.Op.IsPush() {
			target := uint256.NewInt(0).SetBytes(inst.Arg).Uint64()
			if jumpDests[target] {
				return target, true
			}
			return 0, false
		}
		if blockingOps[inst.Op] {
			return 0, false
		}
	}
	return 0, false
}

func sortedKeys(m map[uint64]bool) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func dedupSorted(vals []uint64) []uint64 {
	if len(vals) == 0 {
		return nil
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	out := vals[:1]
	for _, v := range vals[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
