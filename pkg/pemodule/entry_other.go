//go:build !windows

package pemodule

import "fmt"

// unsupportedHost stands in for virtualMemory, procResolver and entryCaller
// on any GOOS other than windows, so the package builds and its
// OS-independent pipeline stays testable everywhere, matching cilium's
// memmod_windows.go convention of isolating the syscall surface behind a
// build tag rather than the whole package.
type unsupportedHost struct{}

func (unsupportedHost) PageSize() uintptr { return 0x1000 }

func (unsupportedHost) Reserve(base, size uintptr) (uintptr, error) {
	return 0, fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) Protect(addr, size uintptr, prot Protection) error {
	return fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) Release(base uintptr) error {
	return fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) LoadLibrary(name string) (uintptr, error) {
	return 0, fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) ProcByName(handle uintptr, name string) (uintptr, error) {
	return 0, fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) ProcByOrdinal(handle uintptr, ordinal uint16) (uintptr, error) {
	return 0, fmt.Errorf("pemodule: in-process PE loading is only supported on windows")
}

func (unsupportedHost) CallTLS(callback, imageBase uintptr, reason uintptr) {}

func (unsupportedHost) CallEntry(entry, imageBase uintptr, reason uintptr) bool { return false }

func newHostSurfaces() (virtualMemory, procResolver, entryCaller) {
	h := unsupportedHost{}
	return h, h, h
}
