package source

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func usagesOf(t *testing.T, res *ParseResult, v string, op Operation) []Usage {
	t.Helper()
	var out []Usage
	for _, u := range res.Usages[v] {
		if u.Op == op {
			out = append(out, u)
		}
	}
	return out
}

// S1: unguarded owner setter.
func TestS1UnguardedSetter(t *testing.T) {
	src := `contract C {
    address owner;
    function setOwner(address n) public { owner = n; }
}
`
	res, err := Parse(src, []string{"owner"})
	require.NoError(t, err)

	writes := usagesOf(t, res, "owner", OpWrite)
	require.Len(t, writes, 1)
	require.Equal(t, "setOwner", writes[0].Function)
	require.False(t, writes[0].FuncAttrs.IsConstructor)
	require.Empty(t, writes[0].FuncAttrs.Modifiers)
	require.False(t, writes[0].HasSourceCondition)
}

// S2: modifier-guarded setter.
func TestS2ModifierGuardedSetter(t *testing.T) {
	src := `contract C {
    address owner;
    modifier onlyOwner() { require(msg.sender == owner); _; }
    function setOwner(address n) public onlyOwner { owner = n; }
}
`
	res, err := Parse(src, []string{"owner"})
	require.NoError(t, err)

	writes := usagesOf(t, res, "owner", OpWrite)
	require.Len(t, writes, 1)
	require.Contains(t, writes[0].FuncAttrs.Modifiers, "onlyOwner")
	require.True(t, writes[0].FuncAttrs.HasAccessControlModifier())
}

// S3: require-guarded setter without an identity check.
func TestS3RequireWithoutIdentity(t *testing.T) {
	src := `contract C {
    uint withdrawLimit;
    function setLimit(uint newLimit) public { require(newLimit > 0); withdrawLimit = newLimit; }
}
`
	res, err := Parse(src, []string{"withdrawLimit"})
	require.NoError(t, err)

	writes := usagesOf(t, res, "withdrawLimit", OpWrite)
	require.Len(t, writes, 1)
	require.True(t, writes[0].HasSourceCondition)
	require.False(t, writes[0].FuncAttrs.HasAccessControlModifier())

	var fn *Function
	for _, f := range res.Functions {
		if f.Name == "setLimit" {
			fn = f
		}
	}
	require.NotNil(t, fn)
	require.False(t, fn.HasBodyAccessControl())
	require.True(t, fn.HasConditional())
}

// S4: constructor initialisation is filtered before classification
// downstream, but the parser must still tag it as a constructor usage.
func TestS4ConstructorInitialisation(t *testing.T) {
	src := `contract C {
    address owner;
    constructor() public { owner = msg.sender; }
}
`
	res, err := Parse(src, []string{"owner"})
	require.NoError(t, err)

	writes := usagesOf(t, res, "owner", OpWrite)
	require.Len(t, writes, 1)
	require.True(t, writes[0].FuncAttrs.IsConstructor)
}

// S5: a view function's named-return assignment is a read of the state
// variable, not a write -- it never becomes a write Usage in the first
// place, independent of any later C8 filtering.
func TestS5ViewFunctionReturnIsARead(t *testing.T) {
	src := `contract C {
    address owner;
    function getOwner() public view returns (address o) { o = owner; }
}
`
	res, err := Parse(src, []string{"owner"})
	require.NoError(t, err)

	require.Empty(t, usagesOf(t, res, "owner", OpWrite))
	reads := usagesOf(t, res, "owner", OpRead)
	require.Len(t, reads, 1)

	var fn *Function
	for _, f := range res.Functions {
		if f.Name == "getOwner" {
			fn = f
		}
	}
	require.NotNil(t, fn)
	require.Equal(t, MutabilityView, fn.Mutability)
}

// S6: selfdestruct is a sensitive sink regardless of key-variable status.
func TestS6Selfdestruct(t *testing.T) {
	src := `contract C {
    address owner;
    function kill() public { selfdestruct(owner); }
}
`
	res, err := Parse(src, []string{"owner"})
	require.NoError(t, err)

	require.Len(t, res.SensitiveLines, 1)
	require.Equal(t, "selfdestruct", res.SensitiveLines[0].Sink)
	require.Equal(t, "kill", res.SensitiveLines[0].Function)
	require.False(t, res.SensitiveLines[0].FuncAttrs.HasAccessControlModifier())
}
