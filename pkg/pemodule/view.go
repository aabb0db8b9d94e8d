package pemodule

import "unsafe"

// imageView is a bounds-checked accessor into a mapped image. It replaces
// the raw pointer arithmetic the teacher performs directly against
// unsafe.Pointer(base+rva): every read here is checked against the image
// size first, so a malformed RVA becomes a MalformedSection/MalformedReloc
// error instead of a fault (§9's "index-based view" re-expression note).
//
// It is deliberately backed by a plain uintptr rather than a []byte: the
// region it describes may be windows virtual memory that Go's slice runtime
// never allocated, so it cannot be a real Go slice. Tests satisfy the same
// contract by pointing base at a []byte they control and keeping it alive
// with runtime.KeepAlive for the duration of the test.
type imageView struct {
	base uintptr
	size uintptr
}

func newImageView(base, size uintptr) imageView {
	return imageView{base: base, size: size}
}

func (v imageView) contains(rva uint32, width uintptr) bool {
	if v.base == 0 {
		return false
	}
	start := uintptr(rva)
	if start > v.size {
		return false
	}
	end := start + width
	if end < start { // overflow
		return false
	}
	return end <= v.size
}

func (v imageView) addr(rva uint32) uintptr {
	return v.base + uintptr(rva)
}

func (v imageView) u16(rva uint32) (uint16, bool) {
	if !v.contains(rva, 2) {
		return 0, false
	}
	return *(*uint16)(unsafe.Pointer(v.addr(rva))), true
}

func (v imageView) u32(rva uint32) (uint32, bool) {
	if !v.contains(rva, 4) {
		return 0, false
	}
	return *(*uint32)(unsafe.Pointer(v.addr(rva))), true
}

func (v imageView) u64(rva uint32) (uint64, bool) {
	if !v.contains(rva, 8) {
		return 0, false
	}
	return *(*uint64)(unsafe.Pointer(v.addr(rva))), true
}

func (v imageView) putU32(rva uint32, val uint32) bool {
	if !v.contains(rva, 4) {
		return false
	}
	*(*uint32)(unsafe.Pointer(v.addr(rva))) = val
	return true
}

func (v imageView) putU64(rva uint32, val uint64) bool {
	if !v.contains(rva, 8) {
		return false
	}
	*(*uint64)(unsafe.Pointer(v.addr(rva))) = val
	return true
}

func (v imageView) putUintptr(rva uint32, val uintptr, is64 bool) bool {
	if is64 {
		return v.putU64(rva, uint64(val))
	}
	if val > uintptr(^uint32(0)) {
		return false
	}
	return v.putU32(rva, uint32(val))
}

// cstr reads a NUL-terminated ANSI string starting at rva. Returns false if
// rva is 0 (the PE convention for "no string present") or if no terminator
// is found within the image bounds.
func (v imageView) cstr(rva uint32) (string, bool) {
	if rva == 0 || uintptr(rva) >= v.size {
		return "", false
	}
	var b []byte
	for off := uintptr(rva); off < v.size; off++ {
		c := *(*byte)(unsafe.Pointer(v.base + off))
		if c == 0 {
			return string(b), true
		}
		b = append(b, c)
	}
	return "", false
}

// bytesAt returns width bytes at rva as a copy, or nil if out of bounds.
func (v imageView) bytesAt(rva uint32, width uintptr) []byte {
	if !v.contains(rva, width) {
		return nil
	}
	out := make([]byte, width)
	src := (*[1 << 30]byte)(unsafe.Pointer(v.addr(rva)))[:width:width]
	copy(out, src)
	return out
}

// writeAt copies data into the view at rva, bounds-checked.
func (v imageView) writeAt(rva uint32, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if !v.contains(rva, uintptr(len(data))) {
		return false
	}
	dst := (*[1 << 30]byte)(unsafe.Pointer(v.addr(rva)))[:len(data):len(data)]
	copy(dst, data)
	return true
}

// zeroAt zero-fills width bytes at rva, bounds-checked.
func (v imageView) zeroAt(rva uint32, width uintptr) bool {
	if width == 0 {
		return true
	}
	if !v.contains(rva, width) {
		return false
	}
	dst := (*[1 << 30]byte)(unsafe.Pointer(v.addr(rva)))[:width:width]
	for i := range dst {
		dst[i] = 0
	}
	return true
}
