package pemodule

// PE structure layout, lifted from the on-disk format. Kept independent of
// any parsing library so the Validator and Header View can run against the
// raw input buffer before anything is mapped.

const (
	imageDOSSignature = 0x5A4D // "MZ"
	imageNTSignature  = 0x00004550
)

// Machine types (IMAGE_FILE_HEADER.Machine). Only the two this host can ever
// load are named; anything else fails UnsupportedArchitecture.
const (
	imageFileMachineI386  = 0x014c
	imageFileMachineAMD64 = 0x8664
)

// FileHeader.Characteristics bits this loader inspects.
const (
	imageFileDLL = 0x2000
)

// Optional header magic numbers.
const (
	imageNTOptionalHDR32Magic = 0x10b
	imageNTOptionalHDR64Magic = 0x20b
)

// Data directory indices used by this loader.
const (
	imageDirectoryEntryExport    = 0
	imageDirectoryEntryImport    = 1
	imageDirectoryEntryBaseReloc = 5
	imageDirectoryEntryTLS       = 9
	imageNumberOfDirectoryEntries = 16
)

// Section characteristics bits used by the Section Finalizer.
const (
	imageSCNMemExecute     = 0x20000000
	imageSCNMemRead        = 0x40000000
	imageSCNMemWrite       = 0x80000000
	imageSCNMemDiscardable = 0x02000000
)

// Base relocation types this loader honors (§4.4).
const (
	imageRelBasedAbsolute = 0
	imageRelBasedHighLow  = 3
	imageRelBasedDir64    = 10
)

// Import thunk ordinal flags, word-size dependent.
const (
	imageOrdinalFlag32 = uint64(0x80000000)
	imageOrdinalFlag64 = uint64(0x8000000000000000)
)

// dosHeader mirrors IMAGE_DOS_HEADER, truncated to the fields this loader
// reads: the magic and the offset to the NT headers.
type dosHeader struct {
	Magic      uint16
	_          [58]byte
	LFANew     int32
}

// fileHeader mirrors IMAGE_FILE_HEADER.
type fileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// dataDirectory mirrors IMAGE_DATA_DIRECTORY.
type dataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// sectionHeader mirrors IMAGE_SECTION_HEADER.
type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

func (s *sectionHeader) name() string {
	n := 0
	for n < len(s.Name) && s.Name[n] != 0 {
		n++
	}
	return string(s.Name[:n])
}

// exportDirectory mirrors IMAGE_EXPORT_DIRECTORY (40 bytes on disk).
type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}
