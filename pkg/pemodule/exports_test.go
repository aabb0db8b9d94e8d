package pemodule

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExportIndexBuildAndLookup(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	var idx exportIndex
	require.NoError(t, idx.build(v, l, false))
	require.Equal(t, 1, idx.count())

	exp, ok := idx.lookupByName(fixtureExportName)
	require.True(t, ok)
	require.EqualValues(t, 1, exp.Ordinal)
	require.Equal(t, v.addr(fixtureEntryRVA), exp.Address)

	exp2, ok := idx.lookupByOrdinal(1)
	require.True(t, ok)
	require.Equal(t, exp.Address, exp2.Address)

	_, ok = idx.lookupByName("DoesNotExist")
	require.False(t, ok)
}

func TestExportIndexNumericNameIsOrdinalFallback(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	var idx exportIndex
	require.NoError(t, idx.build(v, l, false))

	exp, ok := idx.lookupByName("1")
	require.True(t, ok)
	require.EqualValues(t, 1, exp.Ordinal)
}

// TestExportIndexDefaultOmitsNamelessExports covers spec.md §8's boundary
// case: "PE with only ordinal exports (no names) -> export_count() == 0 in
// this specification" for the default (non-ordinal-only) build.
func TestExportIndexDefaultOmitsNamelessExports(t *testing.T) {
	img := buildTestImage()
	binary.LittleEndian.PutUint32(img[0x2100+24:], 0) // NumberOfNames = 0

	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	var idx exportIndex
	require.NoError(t, idx.build(v, l, false))
	require.Equal(t, 0, idx.count())
	_, ok := idx.lookupByOrdinal(1)
	require.False(t, ok)
	_, ok = idx.lookupByName(fixtureExportName)
	require.False(t, ok)
}

// TestExportIndexOrdinalOnlyIncludesNamelessExports covers the
// WithOrdinalExports() opt-in side of the same slot: it should still be
// indexed, just without a name.
func TestExportIndexOrdinalOnlyIncludesNamelessExports(t *testing.T) {
	img := buildTestImage()
	binary.LittleEndian.PutUint32(img[0x2100+24:], 0) // NumberOfNames = 0

	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	var idx exportIndex
	require.NoError(t, idx.build(v, l, true))
	require.Equal(t, 1, idx.count())
	exp, ok := idx.lookupByOrdinal(1)
	require.True(t, ok)
	require.Empty(t, exp.Name)
}

func TestExportIndexOrdinalOnlySkipsNames(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	var idx exportIndex
	require.NoError(t, idx.build(v, l, true))

	_, ok := idx.lookupByName(fixtureExportName)
	require.False(t, ok)

	_, ok = idx.lookupByOrdinal(1)
	require.True(t, ok)
}

func TestParseDecimalOrdinal(t *testing.T) {
	v, ok := parseDecimalOrdinal("42")
	require.True(t, ok)
	require.EqualValues(t, 42, v)

	_, ok = parseDecimalOrdinal("not-a-number")
	require.False(t, ok)

	_, ok = parseDecimalOrdinal("")
	require.False(t, ok)
}
