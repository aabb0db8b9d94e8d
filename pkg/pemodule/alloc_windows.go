//go:build windows

package pemodule

import (
	"fmt"

	api "github.com/carved4/go-wincall"
)

const (
	memCommit    = 0x00001000
	memReserve   = 0x00002000
	memRelease   = 0x00008000
	pageReadonly = 0x02
	pageReadwrite = 0x04
	pageExecuteRead      = 0x20
	pageExecuteReadwrite = 0x40
	pageNoaccess         = 0x01
	// ntCurrentProcess is the pseudo-handle every Nt* call in this package
	// uses; meltload/pkg/pe/dll.go addresses the calling process the same
	// way rather than opening a real handle.
	ntCurrentProcess = ^uintptr(0)
)

func winProtect(p Protection) uintptr {
	switch p {
	case ProtectReadOnly:
		return pageReadonly
	case ProtectReadWrite:
		return pageReadwrite
	case ProtectExecuteRead:
		return pageExecuteRead
	case ProtectExecuteReadWrite:
		return pageExecuteReadwrite
	default:
		return pageNoaccess
	}
}

// windowsMemory is the virtualMemory port backed directly by go-wincall's
// Nt* wrappers, the same calls carved4-meltload/pkg/pe/dll.go makes against
// the current process.
type windowsMemory struct{}

func (windowsMemory) PageSize() uintptr {
	return 0x1000
}

func (windowsMemory) Reserve(base, size uintptr) (uintptr, error) {
	addr := base
	regionSize := size
	status, err := api.NtAllocateVirtualMemory(ntCurrentProcess, &addr, 0, &regionSize, memCommit|memReserve, pageReadwrite)
	if status != 0 || err != nil {
		// Preferred base unavailable; let the kernel pick one, same fallback
		// order as dll.go.
		addr = 0
		regionSize = size
		status, err = api.NtAllocateVirtualMemory(ntCurrentProcess, &addr, 0, &regionSize, memCommit|memReserve, pageReadwrite)
		if status != 0 {
			return 0, fmt.Errorf("NtAllocateVirtualMemory failed: status=0x%x err=%v", status, err)
		}
	}
	return addr, nil
}

func (windowsMemory) Protect(addr, size uintptr, prot Protection) error {
	base := addr
	regionSize := size
	var oldProtect uintptr
	status, err := api.NtProtectVirtualMemory(ntCurrentProcess, &base, &regionSize, winProtect(prot), &oldProtect)
	if status != 0 || err != nil {
		return fmt.Errorf("NtProtectVirtualMemory failed: status=0x%x err=%v", status, err)
	}
	return nil
}

func (windowsMemory) Release(base uintptr) error {
	result, err := api.Call("kernel32.dll", "VirtualFree", base, uintptr(0), uintptr(memRelease))
	if err != nil {
		return fmt.Errorf("VirtualFree failed: %v", err)
	}
	if result == 0 {
		return fmt.Errorf("VirtualFree returned FALSE")
	}
	return nil
}
