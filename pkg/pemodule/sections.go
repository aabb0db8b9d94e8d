package pemodule

// placeSections copies headers and each raw section from input into view,
// per spec.md §4.3. Sections with SizeOfRawData == 0 (e.g. .bss) are left as
// the zero-initialized committed memory the allocator already supplied.
func placeSections(view imageView, input []byte, l *layout) error {
	if !view.writeAt(0, input[:l.sizeOfHeaders]) {
		return newErr(KindMalformedSection, "headers do not fit in mapped region")
	}

	for i := range l.sections {
		s := &l.sections[i]
		if s.SizeOfRawData == 0 {
			continue
		}
		end := int64(s.PointerToRawData) + int64(s.SizeOfRawData)
		if end > int64(len(input)) {
			return newErr(KindMalformedSection, "section %s raw data extends past end of input", s.name())
		}
		data := input[s.PointerToRawData:end]
		if !view.writeAt(s.VirtualAddress, data) {
			return newErr(KindMalformedSection, "section %s virtual range extends past mapped region", s.name())
		}
	}
	return nil
}

// rewriteImageBase patches the ImageBase field of the copied optional header
// in place so every later stage reads headers consistent with the actual
// base (spec.md §4.3, Header View).
func rewriteImageBase(view imageView, l *layout, actualBase uint64) error {
	if l.is64 {
		if !view.putU64(l.imageBaseFieldRVA, actualBase) {
			return newErr(KindMalformedSection, "ImageBase field out of bounds")
		}
		return nil
	}
	if !view.putU32(l.imageBaseFieldRVA, uint32(actualBase)) {
		return newErr(KindMalformedSection, "ImageBase field out of bounds")
	}
	return nil
}
