package pemodule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	libs      map[string]uintptr
	byName    map[string]uintptr // keyed "handle:name"
	byOrdinal map[string]uintptr // keyed "handle:ordinal"
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		libs:      make(map[string]uintptr),
		byName:    make(map[string]uintptr),
		byOrdinal: make(map[string]uintptr),
	}
}

func (f *fakeResolver) LoadLibrary(name string) (uintptr, error) {
	if h, ok := f.libs[name]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("fakeResolver: unknown library %q", name)
}

func (f *fakeResolver) ProcByName(handle uintptr, name string) (uintptr, error) {
	key := fmt.Sprintf("%d:%s", handle, name)
	if addr, ok := f.byName[key]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("fakeResolver: unknown proc %q", name)
}

func (f *fakeResolver) ProcByOrdinal(handle uintptr, ordinal uint16) (uintptr, error) {
	key := fmt.Sprintf("%d:%d", handle, ordinal)
	if addr, ok := f.byOrdinal[key]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("fakeResolver: unknown ordinal %d", ordinal)
}

func TestResolveImportsPatchesIAT(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	resolver := newFakeResolver()
	const libHandle = uintptr(0x77770000)
	const resolvedAddr = uintptr(0xdeadbeefcafe)
	resolver.libs[fixtureImportDLL] = libHandle
	resolver.byName[fmt.Sprintf("%d:%s", libHandle, fixtureImportFunc)] = resolvedAddr

	require.NoError(t, resolveImports(v, l, resolver))

	patched, ok := v.u64(0x2050)
	require.True(t, ok)
	require.EqualValues(t, resolvedAddr, patched)
}

func TestResolveImportsMissingLibraryFails(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	err = resolveImports(v, l, newFakeResolver())
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindImportLibraryNotFound, perr.Kind)
}

func TestResolveImportsUnresolvedSymbolFails(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	resolver := newFakeResolver()
	resolver.libs[fixtureImportDLL] = 0x1
	err = resolveImports(v, l, resolver)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindImportSymbolNotFound, perr.Kind)
}

func TestResolveImportsOrdinalThunk(t *testing.T) {
	img := buildTestImage()
	l, err := parseLayout(img)
	require.NoError(t, err)
	v := newTestView(t, img)

	// Rewrite the INT/IAT entries to an ordinal-flagged thunk (#7) instead
	// of the name-thunk the fixture builds by default.
	ordinalThunk := imageOrdinalFlag64 | 7
	v.putU64(0x2040, ordinalThunk)
	v.putU64(0x2050, ordinalThunk)

	resolver := newFakeResolver()
	const libHandle = uintptr(0x88880000)
	const resolvedAddr = uintptr(0x1234)
	resolver.libs[fixtureImportDLL] = libHandle
	resolver.byOrdinal[fmt.Sprintf("%d:%d", libHandle, 7)] = resolvedAddr

	require.NoError(t, resolveImports(v, l, resolver))

	patched, ok := v.u64(0x2050)
	require.True(t, ok)
	require.EqualValues(t, resolvedAddr, patched)
}
