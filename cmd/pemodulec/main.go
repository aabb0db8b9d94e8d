// Command pemodulec builds as a C shared library
// (go build -buildmode=c-shared) exposing the handle-based procedural
// interface described for embedding this loader from non-Go callers. The
// cgo shape follows carved4-meltload/go-dll-src/main.go; the handle
// registry pattern is new here since that file only ever exported plain
// functions, never a stateful object.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/kryptoslogic/pemodule/pkg/pemodule"
)

var (
	registryMu sync.Mutex
	registry   = make(map[int64]pemodule.Module)
	lastErrMu  sync.Mutex
	lastErr    = make(map[int64]string)
	nextHandle int64
)

func setErr(handle int64, err error) {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	if err == nil {
		delete(lastErr, handle)
		return
	}
	lastErr[handle] = err.Error()
}

//export PeModuleOpen
func PeModuleOpen() C.int64_t {
	registryMu.Lock()
	defer registryMu.Unlock()
	nextHandle++
	handle := nextHandle
	registry[handle] = pemodule.New()
	return C.int64_t(handle)
}

//export PeModuleLoad
func PeModuleLoad(handle C.int64_t, data *C.uint8_t, length C.size_t) C.int {
	h := int64(handle)
	registryMu.Lock()
	mod, ok := registry[h]
	registryMu.Unlock()
	if !ok {
		return -1
	}
	buf := C.GoBytes(unsafe.Pointer(data), C.int(length))
	if err := mod.Load(buf); err != nil {
		setErr(h, err)
		return -1
	}
	setErr(h, nil)
	return 0
}

//export PeModuleLookupByName
func PeModuleLookupByName(handle C.int64_t, name *C.char) C.uintptr_t {
	h := int64(handle)
	registryMu.Lock()
	mod, ok := registry[h]
	registryMu.Unlock()
	if !ok {
		return 0
	}
	addr, err := mod.LookupByName(C.GoString(name))
	setErr(h, err)
	return C.uintptr_t(addr)
}

//export PeModuleLookupByOrdinal
func PeModuleLookupByOrdinal(handle C.int64_t, ordinal C.uint16_t) C.uintptr_t {
	h := int64(handle)
	registryMu.Lock()
	mod, ok := registry[h]
	registryMu.Unlock()
	if !ok {
		return 0
	}
	addr, err := mod.LookupByOrdinal(uint16(ordinal))
	setErr(h, err)
	return C.uintptr_t(addr)
}

//export PeModuleBaseAddress
func PeModuleBaseAddress(handle C.int64_t) C.uintptr_t {
	registryMu.Lock()
	mod, ok := registry[int64(handle)]
	registryMu.Unlock()
	if !ok {
		return 0
	}
	return C.uintptr_t(mod.BaseAddress())
}

//export PeModuleClose
func PeModuleClose(handle C.int64_t) C.int {
	h := int64(handle)
	registryMu.Lock()
	mod, ok := registry[h]
	if ok {
		delete(registry, h)
	}
	registryMu.Unlock()
	if !ok {
		return -1
	}
	if err := mod.Close(); err != nil {
		setErr(h, err)
		return -1
	}
	lastErrMu.Lock()
	delete(lastErr, h)
	lastErrMu.Unlock()
	return 0
}

func main() {}
