package pemodule

// Protection is the page protection the Section Finalizer derives from a
// section's characteristics (spec.md §4.6).
type Protection int

const (
	ProtectNoAccess Protection = iota
	ProtectReadOnly
	ProtectReadWrite
	ProtectExecuteRead
	ProtectExecuteReadWrite
)

// protectionFor derives a page protection from a section's characteristics,
// per the table in spec.md §4.6.
func protectionFor(characteristics uint32) Protection {
	execute := characteristics&imageSCNMemExecute != 0
	write := characteristics&imageSCNMemWrite != 0
	read := characteristics&imageSCNMemRead != 0

	switch {
	case execute && write:
		return ProtectExecuteReadWrite
	case execute:
		return ProtectExecuteRead
	case write:
		return ProtectReadWrite
	case read:
		return ProtectReadOnly
	default:
		return ProtectNoAccess
	}
}

// virtualMemory is the host surface §6 names for address-space management.
// The windows-backed implementation (alloc_windows.go) calls straight
// through to github.com/carved4/go-wincall's Nt* wrappers, the same calls
// carved4-meltload/pkg/pe/dll.go makes against the current process. Tests
// substitute a fake backed by a plain Go allocation so the pipeline above
// this port is exercised on any GOOS.
type virtualMemory interface {
	PageSize() uintptr
	// Reserve reserves and commits size bytes as read-write, preferring
	// base. It returns the address actually granted, which may differ from
	// base. size is not required to already be page-aligned.
	Reserve(base uintptr, size uintptr) (uintptr, error)
	// Protect changes the protection of the page range covering
	// [addr, addr+size).
	Protect(addr uintptr, size uintptr, prot Protection) error
	// Release frees a region previously returned by Reserve.
	Release(base uintptr) error
}

// procResolver is the host surface §6 names for dependency resolution:
// loading a named library and looking up a procedure by name or ordinal.
type procResolver interface {
	LoadLibrary(name string) (uintptr, error)
	// ProcByName resolves a procedure by name, chasing a single forwarder
	// hop if the export slot holds a "DLL.Function" forwarder string
	// (§12.1) rather than a code address.
	ProcByName(handle uintptr, name string) (uintptr, error)
	// ProcByOrdinal resolves a procedure by ordinal, with the same
	// single-hop forwarder chase as ProcByName.
	ProcByOrdinal(handle uintptr, ordinal uint16) (uintptr, error)
}

// entryCaller is the host surface for executing code inside the mapped
// image: TLS callbacks and the DLL entry point (§4.7).
type entryCaller interface {
	CallTLS(callback, imageBase uintptr, reason uintptr)
	// CallEntry invokes the image entry point and reports whether it
	// returned a nonzero (success) value.
	CallEntry(entry, imageBase uintptr, reason uintptr) bool
}
