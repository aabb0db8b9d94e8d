//go:build windows

package pemodule

import (
	"fmt"

	api "github.com/carved4/go-wincall"
)

// windowsResolver is the procResolver port backed by go-wincall's PEB-walk
// export resolution. GetFunctionAddress already chases a forwarder string
// one hop when the resolved export slot points back inside its own export
// directory (github.com/carved4/go-wincall's resolve.go), so this port
// needs no forwarder logic of its own.
type windowsResolver struct{}

func (windowsResolver) LoadLibrary(name string) (uintptr, error) {
	handle := api.LoadLibraryW(name)
	if handle == 0 {
		return 0, fmt.Errorf("LoadLibraryW(%s) failed", name)
	}
	return handle, nil
}

func (windowsResolver) ProcByName(handle uintptr, name string) (uintptr, error) {
	addr := api.GetFunctionAddress(handle, api.GetHash(name))
	if addr == 0 {
		return 0, fmt.Errorf("GetFunctionAddress(%s) failed", name)
	}
	return addr, nil
}

func (windowsResolver) ProcByOrdinal(handle uintptr, ordinal uint16) (uintptr, error) {
	addr := api.GetFunctionAddress(handle, uint32(ordinal))
	if addr == 0 {
		return 0, fmt.Errorf("GetFunctionAddress(#%d) failed", ordinal)
	}
	return addr, nil
}
