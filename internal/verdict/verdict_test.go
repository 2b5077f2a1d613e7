package verdict

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/almightyfish/Solidity-ACCheck/internal/source"
)

func TestFuseVerdictTable(t *testing.T) {
	cases := []struct {
		bc, src, ac bool
		level       Level
		conf        Confidence
	}{
		{true, true, true, LevelSafe, ConfidenceHigh},
		{true, true, false, LevelSuspicious, ConfidenceMedium},
		{true, false, true, LevelSuspicious, ConfidenceMedium},
		{true, false, false, LevelSuspicious, ConfidenceLow},
		{false, true, false, LevelSuspicious, ConfidenceMedium},
		{false, false, false, LevelDangerous, ConfidenceLow},
	}
	for _, c := range cases {
		level, conf := fuse(c.bc, c.src, c.ac)
		require.Equal(t, c.level, level, "bc=%v src=%v ac=%v", c.bc, c.src, c.ac)
		require.Equal(t, c.conf, conf, "bc=%v src=%v ac=%v", c.bc, c.src, c.ac)
	}
}

func TestSupplementDangerousWithNoGuardAtAll(t *testing.T) {
	u := source.Usage{FuncAttrs: source.FunctionAttrs{}}
	f := supplement("owner", u, false, nil)
	require.Equal(t, LevelDangerous, f.Verdict)
	require.Equal(t, "source-supplement", f.Kind)
}

func TestSupplementSuspiciousWithNonAccessControlGuard(t *testing.T) {
	u := source.Usage{FuncAttrs: source.FunctionAttrs{}}
	f := supplement("limit", u, true, nil)
	require.Equal(t, LevelSuspicious, f.Verdict)
}

func TestSupplementSafeWithAccessControlModifier(t *testing.T) {
	u := source.Usage{FuncAttrs: source.FunctionAttrs{Modifiers: []string{"onlyOwner"}}}
	f := supplement("owner", u, false, nil)
	require.Equal(t, LevelSafe, f.Verdict)
}

func TestSupplementSafeWithBodyAccessControl(t *testing.T) {
	fn := &source.Function{Name: "setOwner", Body: "require(msg.sender == owner);"}
	u := source.Usage{Function: "setOwner", FuncAttrs: source.FunctionAttrs{}}
	f := supplement("owner", u, false, fn)
	require.Equal(t, LevelSafe, f.Verdict)
}

func TestIsFilteredDropsConstructorViewAndModifier(t *testing.T) {
	require.True(t, isFiltered(source.FunctionAttrs{IsConstructor: true}))
	require.True(t, isFiltered(source.FunctionAttrs{Mutability: source.MutabilityView}))
	require.True(t, isFiltered(source.FunctionAttrs{Mutability: source.MutabilityPure}))
	require.True(t, isFiltered(source.FunctionAttrs{IsFallbackOrReceive: true}))
	require.True(t, isFiltered(source.FunctionAttrs{IsModifierDef: true}))
	require.False(t, isFiltered(source.FunctionAttrs{Visibility: source.VisibilityPublic}))
}

func TestBuildProducesSensitiveSinkFinding(t *testing.T) {
	src, err := source.Parse(`contract C {
    address owner;
    function kill() public { selfdestruct(owner); }
}
`, []string{"owner"})
	require.NoError(t, err)

	findings := Build(src, nil, nil, nil, nil, nil, nil)
	require.Len(t, findings, 1)
	require.Equal(t, "sensitive-sink", findings[0].Kind)
	require.Equal(t, LevelDangerous, findings[0].Verdict)
}

func TestBuildSensitiveSinkSuspiciousWithBodyAccessControlOnly(t *testing.T) {
	src, err := source.Parse(`contract C {
    address owner;
    function kill() public { require(msg.sender == owner); selfdestruct(owner); }
}
`, []string{"owner"})
	require.NoError(t, err)

	findings := Build(src, nil, nil, nil, nil, nil, nil)
	require.Len(t, findings, 1)
	require.Equal(t, "sensitive-sink", findings[0].Kind)
	require.Equal(t, LevelSuspicious, findings[0].Verdict)
	require.Equal(t, ConfidenceMedium, findings[0].Confidence)
}
