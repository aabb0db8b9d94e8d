package pemodule

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestView(t *testing.T, buf []byte) imageView {
	t.Helper()
	v := newImageView(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	t.Cleanup(func() { runtime.KeepAlive(buf) })
	return v
}

func TestImageViewBounds(t *testing.T) {
	buf := make([]byte, 16)
	v := newTestView(t, buf)

	require.True(t, v.contains(0, 16))
	require.False(t, v.contains(0, 17))
	require.False(t, v.contains(16, 1))
	require.False(t, v.contains(0xffffffff, 8)) // overflow guard
}

func TestImageViewReadWrite(t *testing.T) {
	buf := make([]byte, 16)
	v := newTestView(t, buf)

	require.True(t, v.putU32(0, 0xdeadbeef))
	val, ok := v.u32(0)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), val)

	require.True(t, v.putU64(8, 0x1122334455667788))
	val64, ok := v.u64(8)
	require.True(t, ok)
	require.Equal(t, uint64(0x1122334455667788), val64)

	_, ok = v.u64(12) // out of bounds, 12+8 > 16
	require.False(t, ok)
}

func TestImageViewCString(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf[1:], "hello\x00world")
	v := newTestView(t, buf)

	s, ok := v.cstr(1)
	require.True(t, ok)
	require.Equal(t, "hello", s)

	_, ok = v.cstr(100)
	require.False(t, ok)
}

func TestImageViewWriteAtZeroAt(t *testing.T) {
	buf := make([]byte, 8)
	v := newTestView(t, buf)

	require.True(t, v.writeAt(0, []byte{1, 2, 3, 4}))
	require.Equal(t, []byte{1, 2, 3, 4}, buf[:4])

	require.True(t, v.zeroAt(0, 4))
	require.Equal(t, []byte{0, 0, 0, 0}, buf[:4])

	require.False(t, v.writeAt(6, []byte{1, 2, 3}))
}
