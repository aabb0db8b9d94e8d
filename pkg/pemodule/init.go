package pemodule

// DLL entry point call reasons (WinAPI DLL_PROCESS_ATTACH / DETACH), named
// here rather than imported from any Windows-specific package since the
// value is just handed through to entryCaller.
const (
	dllProcessAttach uintptr = 1
	dllProcessDetach uintptr = 0
)

// runTLSCallbacks invokes every callback in the TLS directory's callback
// array with DLL_PROCESS_ATTACH, in array order, per spec.md §4.7. A missing
// TLS directory is not an error.
func runTLSCallbacks(view imageView, l *layout, base uintptr, caller entryCaller) error {
	dir := l.directory(imageDirectoryEntryTLS)
	if dir.VirtualAddress == 0 {
		return nil
	}

	var callbacksVA uint64
	if l.is64 {
		v, ok := view.u64(dir.VirtualAddress + 24) // offsetof(AddressOfCallBacks) in IMAGE_TLS_DIRECTORY64
		if !ok {
			return newErr(KindMalformedSection, "TLS directory out of bounds")
		}
		callbacksVA = v
	} else {
		v, ok := view.u32(dir.VirtualAddress + 12) // offsetof(AddressOfCallBacks) in IMAGE_TLS_DIRECTORY32
		if !ok {
			return newErr(KindMalformedSection, "TLS directory out of bounds")
		}
		callbacksVA = uint64(v)
	}
	if callbacksVA == 0 {
		return nil
	}

	// AddressOfCallBacks is a VA in the loaded image, not an RVA: rebase it.
	callbacksRVA := uint32(callbacksVA - uint64(base))
	pointerWidth := uint32(4)
	if l.is64 {
		pointerWidth = 8
	}

	for {
		var cbVA uint64
		var ok bool
		if l.is64 {
			cbVA, ok = view.u64(callbacksRVA)
		} else {
			var v uint32
			v, ok = view.u32(callbacksRVA)
			cbVA = uint64(v)
		}
		if !ok {
			return newErr(KindMalformedSection, "TLS callback array out of bounds")
		}
		if cbVA == 0 {
			break
		}
		caller.CallTLS(uintptr(cbVA), base, dllProcessAttach)
		callbacksRVA += pointerWidth
	}
	return nil
}

// runEntryPoint invokes the image entry point with DLL_PROCESS_ATTACH and
// reports KindEntryPointRejected if it returns FALSE, per spec.md §4.7. An
// entry RVA of zero (valid for some non-DLL images) is a no-op success.
func runEntryPoint(l *layout, base uintptr, caller entryCaller) error {
	if l.entryRVA == 0 {
		return nil
	}
	entry := base + uintptr(l.entryRVA)
	if !caller.CallEntry(entry, base, dllProcessAttach) {
		return newErr(KindEntryPointRejected, "entry point returned FALSE")
	}
	return nil
}
