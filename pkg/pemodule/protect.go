package pemodule

// finalizeProtections sets each section's final page protection from its
// characteristics (spec.md §4.6). The headers region (before the first
// section) is left read-only. IMAGE_SCN_MEM_DISCARDABLE is not honored: the
// Module keeps the whole reservation live for the lifetime of the load, same
// as every loader in the corpus.
func finalizeProtections(mem virtualMemory, base uintptr, l *layout) error {
	if err := mem.Protect(base, uintptr(l.sizeOfHeaders), ProtectReadOnly); err != nil {
		return wrapErr(KindProtectionFailed, err, "headers")
	}
	for i := range l.sections {
		s := &l.sections[i]
		if s.VirtualSize == 0 {
			continue
		}
		prot := protectionFor(s.Characteristics)
		addr := base + uintptr(s.VirtualAddress)
		size := uintptr(s.VirtualSize)
		if err := mem.Protect(addr, size, prot); err != nil {
			return wrapErr(KindProtectionFailed, err, "section %s", s.name())
		}
	}
	return nil
}
