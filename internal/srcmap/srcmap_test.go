package srcmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFirstEntryFullySpecified(t *testing.T) {
	entries := Parse("10:5:0:-:1")
	require.Len(t, entries, 1)
	require.Equal(t, Entry{S: 10, L: 5, F: 0, Jump: "-", Modifier: 1}, entries[0])
}

func TestParseInheritsOmittedFields(t *testing.T) {
	entries := Parse("10:5:0:-:0;;20::1")
	require.Len(t, entries, 3)
	// second entry: everything omitted -> identical to the first.
	require.Equal(t, entries[0], entries[1])
	// third entry: S and F are explicit, L/jump/modifier are omitted and inherit.
	require.Equal(t, 20, entries[2].S)
	require.Equal(t, 5, entries[2].L)
	require.Equal(t, 1, entries[2].F)
	require.Equal(t, 0, entries[2].Modifier)
}

func TestLineOfCountsNewlines(t *testing.T) {
	src := "line1\nline2\nline3\n"
	require.Equal(t, 1, LineOf(src, 0))
	require.Equal(t, 2, LineOf(src, 6))
	require.Equal(t, 3, LineOf(src, 12))
}

func TestLineOfOutOfRange(t *testing.T) {
	require.Equal(t, 0, LineOf("abc", -1))
	require.Equal(t, 0, LineOf("abc", 99))
}

func TestParseEmptyMapIsEmpty(t *testing.T) {
	require.Empty(t, Parse(""))
}
