package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/almightyfish/Solidity-ACCheck/internal/storage"
	"github.com/almightyfish/Solidity-ACCheck/internal/verdict"
)

func TestBuildGroupsAndOrdersByLine(t *testing.T) {
	findings := []verdict.Finding{
		{Variable: "owner", Line: 10, Verdict: verdict.LevelDangerous, Confidence: verdict.ConfidenceLow},
		{Variable: "owner", Line: 3, Verdict: verdict.LevelSuspicious, Confidence: verdict.ConfidenceMedium},
	}
	bindings := map[string]*storage.Binding{"owner": {Slot: 0}}

	rep := Build("C.sol", []string{"owner"}, bindings, findings, 2, false)
	require.Len(t, rep.Results, 1)
	vr := rep.Results[0]
	require.Equal(t, "0", vr.StorageSlot)
	require.True(t, vr.HasVulnerability)
	require.Len(t, vr.DangerousLocations, 1)
	require.Len(t, vr.SuspiciousLocations, 1)
	require.Equal(t, 3, vr.SuspiciousLocations[0].Line)
	require.Equal(t, 2, rep.Summary.DynamicJumps)
}

func TestBuildReportsUnknownSlot(t *testing.T) {
	rep := Build("C.sol", []string{"missing"}, map[string]*storage.Binding{}, nil, 0, false)
	require.Equal(t, "unknown", rep.Results[0].StorageSlot)
	require.False(t, rep.Results[0].HasVulnerability)
}

func TestBuildSeparatesSensitiveSinks(t *testing.T) {
	findings := []verdict.Finding{
		{Kind: "sensitive-sink", Line: 5, Verdict: verdict.LevelDangerous},
	}
	rep := Build("C.sol", nil, nil, findings, 0, false)
	require.Len(t, rep.SensitiveSinks, 1)
	require.Empty(t, rep.Results)
	require.Equal(t, 1, rep.Summary.DangerousCount)
}
