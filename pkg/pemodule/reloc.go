package pemodule

// MissingRelocPolicy governs what happens when the image is loaded at a
// non-preferred base but declares no relocation directory (§9 Open
// Question 1).
type MissingRelocPolicy int

const (
	// AllowFixedBaseAssumption succeeds without relocating, matching the
	// observed behavior of every reflective loader in the corpus. This is
	// the default.
	AllowFixedBaseAssumption MissingRelocPolicy = iota
	// FailOnMissingReloc reports KindCannotRelocate instead.
	FailOnMissingReloc
)

// relocate walks the base-relocation directory and patches every absolute
// address by delta (spec.md §4.4). delta == 0 is a no-op. A missing
// directory with a nonzero delta is governed by policy.
func relocate(view imageView, l *layout, delta int64, policy MissingRelocPolicy) error {
	if delta == 0 {
		return nil
	}

	dir := l.directory(imageDirectoryEntryBaseReloc)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		if policy == FailOnMissingReloc {
			return newErr(KindCannotRelocate, "image loaded at non-preferred base but has no relocation directory")
		}
		return nil
	}

	dirEnd := dir.VirtualAddress + dir.Size
	offset := dir.VirtualAddress
	const blockHeaderSize = 8 // sizeof(IMAGE_BASE_RELOCATION): VirtualAddress + SizeOfBlock

	for offset < dirEnd {
		vaddr, ok := view.u32(offset)
		if !ok {
			return newErr(KindMalformedReloc, "relocation block header at 0x%x out of bounds", offset)
		}
		blockSize, ok := view.u32(offset + 4)
		if !ok {
			return newErr(KindMalformedReloc, "relocation block header at 0x%x out of bounds", offset)
		}
		if vaddr == 0 && blockSize == 0 {
			break
		}
		if blockSize < blockHeaderSize {
			return newErr(KindMalformedReloc, "relocation block size %d smaller than header", blockSize)
		}

		entryCount := (blockSize - blockHeaderSize) / 2
		for i := uint32(0); i < entryCount; i++ {
			entryRVA := offset + blockHeaderSize + i*2
			raw, ok := view.u16(entryRVA)
			if !ok {
				return newErr(KindMalformedReloc, "relocation entry at 0x%x out of bounds", entryRVA)
			}
			relType := raw >> 12
			relOffset := uint32(raw & 0x0fff)
			target := vaddr + relOffset

			switch relType {
			case imageRelBasedAbsolute:
				// padding entry, ignored.
			case imageRelBasedHighLow:
				val, ok := view.u32(target)
				if !ok {
					return newErr(KindMalformedReloc, "relocation target 0x%x out of bounds", target)
				}
				view.putU32(target, uint32(int64(val)+delta))
			case imageRelBasedDir64:
				if !l.is64 {
					return newErr(KindMalformedReloc, "DIR64 relocation in a 32-bit image")
				}
				val, ok := view.u64(target)
				if !ok {
					return newErr(KindMalformedReloc, "relocation target 0x%x out of bounds", target)
				}
				view.putU64(target, uint64(int64(val)+delta))
			default:
				// other types (e.g. IMAGE_REL_BASED_HIGH/LOW alone) are not
				// produced by modern toolchains for x86/x64 and are ignored
				// silently, matching spec.md §4.4.
			}
		}

		offset += blockSize
	}
	return nil
}
