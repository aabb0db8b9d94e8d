package pemodule

import (
	"bytes"
	"encoding/binary"
	"runtime"
)

// layout is the OS-independent parse of an on-disk PE image: everything the
// later pipeline stages need before anything is mapped. It is built purely
// from the input []byte via encoding/binary, the same idiom
// philcantcode-goodware-lab's pe_parser pipeline uses, so it can run (and be
// tested) without touching virtual memory.
type layout struct {
	is64          bool
	machine       uint16
	isDLL         bool
	preferredBase uint64
	sizeOfImage   uint32
	sizeOfHeaders uint32
	entryRVA      uint32
	sectionAlign  uint32
	dataDirs      [imageNumberOfDirectoryEntries]dataDirectory
	sections      []sectionHeader

	// imageBaseFieldRVA is the RVA, within the mapped headers, of the
	// OptionalHeader.ImageBase field. Recorded once at parse time so the
	// Section Placer can rewrite it in place without recomputing PE32 vs.
	// PE32+ offsets a second time (spec.md §4.3, Header View).
	imageBaseFieldRVA uint32
}

// hostMachine reports the IMAGE_FILE_HEADER.Machine value that matches the
// calling process, per spec.md §4.1 rule 5.
func hostMachine() uint16 {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return imageFileMachineAMD64
	case "386", "arm":
		return imageFileMachineI386
	default:
		return imageFileMachineAMD64
	}
}

// parseLayout validates the header chain (§4.1) and extracts everything
// downstream stages need. It never allocates virtual memory and never reads
// past len(input).
func parseLayout(input []byte) (*layout, error) {
	const dosHeaderSize = 64
	if len(input) < dosHeaderSize {
		return nil, newErr(KindInvalidImage, "buffer too small for DOS header (%d bytes)", len(input))
	}

	var dos dosHeader
	if err := binary.Read(bytes.NewReader(input[:dosHeaderSize]), binary.LittleEndian, &dos); err != nil {
		return nil, wrapErr(KindInvalidImage, err, "failed to read DOS header")
	}
	if dos.Magic != imageDOSSignature {
		return nil, newErr(KindInvalidImage, "bad DOS signature 0x%x", dos.Magic)
	}
	if dos.LFANew < 0 || int64(dos.LFANew)+4+int64(binary.Size(fileHeader{})) > int64(len(input)) {
		return nil, newErr(KindInvalidImage, "e_lfanew 0x%x out of bounds", dos.LFANew)
	}

	ntOff := int(dos.LFANew)
	r := bytes.NewReader(input[ntOff:])

	var signature uint32
	if err := binary.Read(r, binary.LittleEndian, &signature); err != nil {
		return nil, wrapErr(KindInvalidImage, err, "failed to read NT signature")
	}
	if signature != imageNTSignature {
		return nil, newErr(KindInvalidImage, "bad NT signature 0x%x", signature)
	}

	var fh fileHeader
	if err := binary.Read(r, binary.LittleEndian, &fh); err != nil {
		return nil, wrapErr(KindInvalidImage, err, "failed to read file header")
	}
	if fh.Machine != hostMachine() {
		return nil, newErr(KindUnsupportedArchitecture, "machine 0x%x does not match host 0x%x", fh.Machine, hostMachine())
	}

	optStart := ntOff + 4 + binary.Size(fh)
	if optStart+2 > len(input) {
		return nil, newErr(KindInvalidImage, "optional header out of bounds")
	}
	magic := binary.LittleEndian.Uint16(input[optStart : optStart+2])

	l := &layout{
		machine: fh.Machine,
		isDLL:   fh.Characteristics&imageFileDLL != 0,
	}

	switch magic {
	case imageNTOptionalHDR32Magic:
		l.is64 = false
		l.imageBaseFieldRVA = uint32(optStart) + 28 // Magic..BaseOfData = 28 bytes for PE32
		if err := l.readOptional32(input, optStart); err != nil {
			return nil, err
		}
	case imageNTOptionalHDR64Magic:
		l.is64 = true
		l.imageBaseFieldRVA = uint32(optStart) + 24 // Magic..BaseOfCode = 24 bytes for PE32+
		if err := l.readOptional64(input, optStart); err != nil {
			return nil, err
		}
	default:
		return nil, newErr(KindInvalidImage, "unrecognized optional header magic 0x%x", magic)
	}

	sectionsOff := optStart + int(fh.SizeOfOptionalHeader)
	if sectionsOff < optStart {
		return nil, newErr(KindInvalidImage, "invalid SizeOfOptionalHeader")
	}
	sectionSize := binary.Size(sectionHeader{})
	needed := sectionsOff + sectionSize*int(fh.NumberOfSections)
	if needed > len(input) || needed < sectionsOff {
		return nil, newErr(KindMalformedSection, "section table extends past end of buffer")
	}
	sections := make([]sectionHeader, fh.NumberOfSections)
	if err := binary.Read(bytes.NewReader(input[sectionsOff:needed]), binary.LittleEndian, &sections); err != nil {
		return nil, wrapErr(KindMalformedSection, err, "failed to read section table")
	}
	l.sections = sections

	if l.sizeOfHeaders == 0 || int(l.sizeOfHeaders) > len(input) {
		return nil, newErr(KindInvalidImage, "invalid SizeOfHeaders 0x%x", l.sizeOfHeaders)
	}
	for i := range l.sections {
		s := &l.sections[i]
		if s.SizeOfRawData == 0 {
			continue
		}
		end := int64(s.PointerToRawData) + int64(s.SizeOfRawData)
		if end > int64(len(input)) {
			return nil, newErr(KindMalformedSection, "section %s raw data extends past end of buffer", s.name())
		}
	}

	return l, nil
}

func (l *layout) readOptional32(input []byte, optStart int) error {
	type opt32 struct {
		Magic                       uint16
		MajorLinkerVersion          uint8
		MinorLinkerVersion          uint8
		SizeOfCode                  uint32
		SizeOfInitializedData       uint32
		SizeOfUninitializedData     uint32
		AddressOfEntryPoint         uint32
		BaseOfCode                  uint32
		BaseOfData                  uint32
		ImageBase                   uint32
		SectionAlignment            uint32
		FileAlignment               uint32
		MajorOSVersion              uint16
		MinorOSVersion              uint16
		MajorImageVersion           uint16
		MinorImageVersion           uint16
		MajorSubsystemVersion       uint16
		MinorSubsystemVersion       uint16
		Win32VersionValue           uint32
		SizeOfImage                 uint32
		SizeOfHeaders               uint32
		CheckSum                    uint32
		Subsystem                   uint16
		DllCharacteristics          uint16
		SizeOfStackReserve          uint32
		SizeOfStackCommit           uint32
		SizeOfHeapReserve           uint32
		SizeOfHeapCommit            uint32
		LoaderFlags                 uint32
		NumberOfRvaAndSizes         uint32
	}
	var o opt32
	sz := binary.Size(o)
	if optStart+sz > len(input) {
		return newErr(KindInvalidImage, "PE32 optional header out of bounds")
	}
	if err := binary.Read(bytes.NewReader(input[optStart:optStart+sz]), binary.LittleEndian, &o); err != nil {
		return wrapErr(KindInvalidImage, err, "failed to read PE32 optional header")
	}
	l.preferredBase = uint64(o.ImageBase)
	l.sizeOfImage = o.SizeOfImage
	l.sizeOfHeaders = o.SizeOfHeaders
	l.entryRVA = o.AddressOfEntryPoint
	l.sectionAlign = o.SectionAlignment
	return l.readDataDirs(input, optStart+sz, o.NumberOfRvaAndSizes)
}

func (l *layout) readOptional64(input []byte, optStart int) error {
	type opt64 struct {
		Magic                       uint16
		MajorLinkerVersion          uint8
		MinorLinkerVersion          uint8
		SizeOfCode                  uint32
		SizeOfInitializedData       uint32
		SizeOfUninitializedData     uint32
		AddressOfEntryPoint         uint32
		BaseOfCode                  uint32
		ImageBase                   uint64
		SectionAlignment            uint32
		FileAlignment               uint32
		MajorOSVersion              uint16
		MinorOSVersion              uint16
		MajorImageVersion           uint16
		MinorImageVersion           uint16
		MajorSubsystemVersion       uint16
		MinorSubsystemVersion       uint16
		Win32VersionValue           uint32
		SizeOfImage                 uint32
		SizeOfHeaders               uint32
		CheckSum                    uint32
		Subsystem                   uint16
		DllCharacteristics          uint16
		SizeOfStackReserve          uint64
		SizeOfStackCommit           uint64
		SizeOfHeapReserve           uint64
		SizeOfHeapCommit            uint64
		LoaderFlags                 uint32
		NumberOfRvaAndSizes         uint32
	}
	var o opt64
	sz := binary.Size(o)
	if optStart+sz > len(input) {
		return newErr(KindInvalidImage, "PE32+ optional header out of bounds")
	}
	if err := binary.Read(bytes.NewReader(input[optStart:optStart+sz]), binary.LittleEndian, &o); err != nil {
		return wrapErr(KindInvalidImage, err, "failed to read PE32+ optional header")
	}
	l.preferredBase = o.ImageBase
	l.sizeOfImage = o.SizeOfImage
	l.sizeOfHeaders = o.SizeOfHeaders
	l.entryRVA = o.AddressOfEntryPoint
	l.sectionAlign = o.SectionAlignment
	return l.readDataDirs(input, optStart+sz, o.NumberOfRvaAndSizes)
}

func (l *layout) readDataDirs(input []byte, off int, count uint32) error {
	if count > imageNumberOfDirectoryEntries {
		count = imageNumberOfDirectoryEntries
	}
	dirSize := binary.Size(dataDirectory{})
	need := off + dirSize*int(count)
	if need > len(input) {
		return newErr(KindInvalidImage, "data directory table out of bounds")
	}
	dirs := make([]dataDirectory, count)
	if err := binary.Read(bytes.NewReader(input[off:need]), binary.LittleEndian, &dirs); err != nil {
		return wrapErr(KindInvalidImage, err, "failed to read data directories")
	}
	copy(l.dataDirs[:], dirs)
	return nil
}

func (l *layout) directory(index int) dataDirectory {
	if index < 0 || index >= len(l.dataDirs) {
		return dataDirectory{}
	}
	return l.dataDirs[index]
}

// alignUp rounds value up to the nearest multiple of alignment (alignment
// must be a power of two).
func alignUp(value, alignment uintptr) uintptr {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

func alignDown(value, alignment uintptr) uintptr {
	if alignment == 0 {
		return value
	}
	return value &^ (alignment - 1)
}
