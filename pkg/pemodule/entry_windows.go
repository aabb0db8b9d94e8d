//go:build windows

package pemodule

import api "github.com/carved4/go-wincall"

// windowsEntryCaller runs code inside the mapped image via go-wincall's
// CallWorker, the same call carved4-meltload/pkg/pe/dll.go makes both for
// TLS callbacks and for DllMain/an explicit export.
type windowsEntryCaller struct{}

func (windowsEntryCaller) CallTLS(callback, imageBase uintptr, reason uintptr) {
	api.CallWorker(callback, imageBase, reason, 0)
}

func (windowsEntryCaller) CallEntry(entry, imageBase uintptr, reason uintptr) bool {
	result, err := api.CallWorker(entry, imageBase, reason, 0)
	if err != nil {
		return false
	}
	return result != 0
}

func newHostSurfaces() (virtualMemory, procResolver, entryCaller) {
	return windowsMemory{}, windowsResolver{}, windowsEntryCaller{}
}
