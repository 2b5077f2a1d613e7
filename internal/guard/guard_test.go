package guard

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/almightyfish/Solidity-ACCheck/internal/disasm"
	"github.com/almightyfish/Solidity-ACCheck/internal/ir"
	"github.com/almightyfish/Solidity-ACCheck/internal/taint"
)

func buildAll(code []byte) ([]*ir.BasicBlock, *ir.CFG) {
	res := disasm.Decode(code)
	blocks := ir.BuildBlocks(res.Instructions)
	cfg := ir.BuildCFG(blocks, res.JumpDests)
	return blocks, cfg
}

// CALLER == 0 ? jump to REVERT : fall through to the guarded SSTORE.
// A classic onlyOwner-style require compiled form.
func callerGuardedProgram() []byte {
	return []byte{
		byte(vm.CALLER),
		byte(vm.PUSH1), 0x00,
		byte(vm.EQ),
		byte(vm.PUSH1), 0x0d, // revert target, offset 13
		byte(vm.JUMPI),
		byte(vm.PUSH1), 0x05,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.STOP),
		byte(vm.JUMPDEST), // offset 13
		byte(vm.PUSH1), 0x00,
		byte(vm.PUSH1), 0x00,
		byte(vm.REVERT),
	}
}

func TestClassifyOnlyOwnerPattern(t *testing.T) {
	blocks, cfg := buildAll(callerGuardedProgram())
	path := taint.TaintPath{Variable: "owner", Slot: 0, Blocks: []uint64{0, 7}, Tainted: false}

	ev := Classify(path, blocks, cfg)
	require.Contains(t, ev.Tags, TagConditionalJump)
	require.Contains(t, ev.Tags, TagComparison)
	require.Contains(t, ev.Tags, TagRevert)
	require.Contains(t, ev.Tags, TagAccessControl)
	require.True(t, ev.HasTags())
}

func TestClassifyUnguardedWriteHasNoTags(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x05,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.STOP),
	}
	blocks, cfg := buildAll(code)
	path := taint.TaintPath{Variable: "owner", Slot: 0, Blocks: []uint64{0}, Tainted: false}

	ev := Classify(path, blocks, cfg)
	require.Empty(t, ev.Tags)
	require.False(t, ev.HasTags())
	require.Equal(t, 0, ev.Count)
}

// A comparison with no CALLER/ORIGIN present does not synthesise
// access-control, matching S3 (require without identity check).
func TestClassifyComparisonWithoutIdentityIsNotAccessControl(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x01,
		byte(vm.PUSH1), 0x00,
		byte(vm.GT),
		byte(vm.PUSH1), 0x0a, // target: offset 10, the JUMPDEST below
		byte(vm.JUMPI),
		byte(vm.PUSH1), 0x05, // fallthrough block starts at offset 8
		byte(vm.JUMPDEST),    // offset 10
		byte(vm.STOP),
	}
	blocks, cfg := buildAll(code)
	path := taint.TaintPath{Variable: "limit", Slot: 0, Blocks: []uint64{0, 8}, Tainted: false}

	ev := Classify(path, blocks, cfg)
	require.Contains(t, ev.Tags, TagComparison)
	require.NotContains(t, ev.Tags, TagAccessControl)
}
