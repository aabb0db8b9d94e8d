package pemodule

// importDescriptorSize is sizeof(IMAGE_IMPORT_DESCRIPTOR): OriginalFirstThunk,
// TimeDateStamp, ForwarderChain, Name, FirstThunk, each a uint32.
const importDescriptorSize = 20

// resolveImports walks the import directory of the mapped image and patches
// every thunk in the Import Address Table with a live procedure address
// (spec.md §4.5). It reads descriptor and thunk layout from view rather than
// the original input buffer, since patching must land in the mapped copy and
// the RVA space is identical either way once placeSections has run.
//
// This is the same walk on every GOOS, generalized from
// carved4-meltload/pkg/pe/dll.go's two-thunk-array loop to run against the
// procResolver port instead of calling api.LoadLibraryW/GetFunctionAddress
// directly, so it is exercised directly in tests against a fake resolver.
// The host's forwarder chasing (a single hop, per §12.1) happens inside
// procResolver.ProcByName/ProcByOrdinal, not here.
func resolveImports(view imageView, l *layout, resolver procResolver) error {
	dir := l.directory(imageDirectoryEntryImport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	offset := dir.VirtualAddress
	for {
		nameRVA, ok := view.u32(offset + 12)
		if !ok {
			return newErr(KindMalformedSection, "import descriptor at 0x%x out of bounds", offset)
		}
		if nameRVA == 0 {
			break // null descriptor terminates the array
		}
		originalFirstThunk, ok1 := view.u32(offset + 0)
		firstThunk, ok2 := view.u32(offset + 16)
		if !ok1 || !ok2 {
			return newErr(KindMalformedSection, "import descriptor at 0x%x out of bounds", offset)
		}

		dllName, ok := view.cstr(nameRVA)
		if !ok {
			return newErr(KindImportLibraryNotFound, "import descriptor DLL name at 0x%x unreadable", nameRVA)
		}

		handle, err := resolver.LoadLibrary(dllName)
		if err != nil {
			return wrapErr(KindImportLibraryNotFound, err, "loading %s", dllName)
		}

		nameThunkRVA := originalFirstThunk
		if nameThunkRVA == 0 {
			// No original (INT) thunk array; some linkers only emit the IAT.
			nameThunkRVA = firstThunk
		}
		if err := patchThunkChain(view, l, resolver, handle, dllName, nameThunkRVA, firstThunk); err != nil {
			return err
		}

		offset += importDescriptorSize
	}
	return nil
}

// patchThunkChain walks one DLL's thunk array starting at nameThunkRVA
// (name/ordinal source) and firstThunkRVA (patch destination, the IAT),
// resolving each entry against handle and writing the resolved address back
// in place.
func patchThunkChain(view imageView, l *layout, resolver procResolver, handle uintptr, dllName string, nameThunkRVA, firstThunkRVA uint32) error {
	thunkWidth := uint32(4)
	ordinalFlag := uint64(imageOrdinalFlag32)
	if l.is64 {
		thunkWidth = 8
		ordinalFlag = imageOrdinalFlag64
	}

	for {
		var raw uint64
		var ok bool
		if l.is64 {
			var v uint64
			v, ok = view.u64(nameThunkRVA)
			raw = v
		} else {
			var v uint32
			v, ok = view.u32(nameThunkRVA)
			raw = uint64(v)
		}
		if !ok {
			return newErr(KindMalformedSection, "import thunk at 0x%x out of bounds", nameThunkRVA)
		}
		if raw == 0 {
			return nil
		}

		var (
			procAddr uintptr
			err      error
		)
		if raw&ordinalFlag != 0 {
			ordinal := uint16(raw & 0xffff)
			procAddr, err = resolver.ProcByOrdinal(handle, ordinal)
			if err != nil {
				return wrapErr(KindImportSymbolNotFound, err, "%s ordinal %d", dllName, ordinal)
			}
		} else {
			hintNameRVA := uint32(raw)
			name, ok := view.cstr(hintNameRVA + 2) // skip the 2-byte Hint field
			if !ok {
				return newErr(KindMalformedSection, "import name at 0x%x out of bounds", hintNameRVA)
			}
			procAddr, err = resolver.ProcByName(handle, name)
			if err != nil {
				return wrapErr(KindImportSymbolNotFound, err, "%s!%s", dllName, name)
			}
		}
		if procAddr == 0 {
			return newErr(KindImportSymbolNotFound, "%s: unresolved import at thunk 0x%x", dllName, nameThunkRVA)
		}

		if !view.putUintptr(firstThunkRVA, procAddr, l.is64) {
			return newErr(KindMalformedSection, "IAT slot at 0x%x out of bounds", firstThunkRVA)
		}

		nameThunkRVA += thunkWidth
		firstThunkRVA += thunkWidth
	}
}
