package ir

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/almightyfish/Solidity-ACCheck/internal/disasm"
)

// buildAll is a small helper chaining disasm -> blocks -> cfg, mirroring
// how the real pipeline wires C1-C3 together.
func buildAll(t *testing.T, code []byte) ([]*BasicBlock, *CFG) {
	t.Helper()
	res := disasm.Decode(code)
	blocks := BuildBlocks(res.Instructions)
	cfg := BuildCFG(blocks, res.JumpDests)
	return blocks, cfg
}

// PUSH1 0x03 JUMP JUMPDEST STOP
func simpleJumpProgram() []byte {
	return []byte{
		byte(vm.PUSH1), 0x03,
		byte(vm.JUMP),
		byte(vm.JUMPDEST),
		byte(vm.STOP),
	}
}

func TestInvariant1_InstructionsWithinBlockBounds(t *testing.T) {
	blocks, _ := buildAll(t, simpleJumpProgram())
	for _, b := range blocks {
		for _, i := range b.Instructions {
			require.GreaterOrEqual(t, i.Offset, b.Start)
			require.Less(t, i.Offset, b.End)
		}
	}
}

func TestInvariant3_TerminalBlocksHaveNoSuccessors(t *testing.T) {
	_, cfg := buildAll(t, simpleJumpProgram())
	require.Empty(t, cfg.Succs[3]) // the JUMPDEST/STOP block
}

func TestStaticJumpResolution(t *testing.T) {
	_, cfg := buildAll(t, simpleJumpProgram())
	require.Equal(t, []uint64{3}, cfg.Succs[0])
}

// JUMPI with a resolvable static target must carry both the taken edge
// and the fall-through edge (spec §4.3 dual-edge treatment).
func TestJUMPIDualEdge(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x00, // condition
		byte(vm.PUSH1), 0x06, // target
		byte(vm.JUMPI),
		byte(vm.STOP),     // fall-through block start (offset 5)
		byte(vm.JUMPDEST), // offset 6
		byte(vm.STOP),
	}
	_, cfg := buildAll(t, code)
	succs := cfg.Succs[0]
	require.Len(t, succs, 2)
	require.Contains(t, succs, uint64(5)) // fall-through
	require.Contains(t, succs, uint64(6)) // taken branch
}

// An unresolved dynamic JUMP falls back to every valid JUMPDEST.
func TestDynamicJumpFallback(t *testing.T) {
	code := []byte{
		byte(vm.CALLDATALOAD), // non-static: no preceding PUSH
		byte(vm.JUMP),
		byte(vm.JUMPDEST),
		byte(vm.STOP),
		byte(vm.JUMPDEST),
		byte(vm.STOP),
	}
	_, cfg := buildAll(t, code)
	require.True(t, cfg.Dynamic[0])
	require.ElementsMatch(t, []uint64{2, 4}, cfg.Succs[0])
}

func TestFallthroughBlockWithNoTerminator(t *testing.T) {
	// JUMPDEST ADD JUMPDEST STOP: first block has no terminator, falls
	// through to the second.
	code := []byte{
		byte(vm.JUMPDEST),
		byte(vm.ADD),
		byte(vm.JUMPDEST),
		byte(vm.STOP),
	}
	_, cfg := buildAll(t, code)
	require.Equal(t, []uint64{2}, cfg.Succs[0])
}
