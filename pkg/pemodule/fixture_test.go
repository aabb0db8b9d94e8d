package pemodule

import "encoding/binary"

// testFixture is a minimal, hand-assembled PE32+ DLL image exercising every
// pipeline stage: one relocation, one import, one export, headers and two
// sections. Section VirtualAddress and PointerToRawData are kept equal on
// purpose, so the raw bytes written here already sit at the RVA offset the
// mapped view will see after placeSections copies them verbatim — that
// lets one buffer double as both "file on disk" and "expected mapped
// layout" for assertions.
const (
	fixturePreferredBase = uint64(0x140000000)
	fixtureSizeOfImage   = uint32(0x3000)
	fixtureSizeOfHeaders = uint32(0x200)
	fixtureEntryRVA      = uint32(0x1000)
	fixtureRelocPatchRVA = uint32(0x1004)
	fixtureImportDLL     = "TESTLIB.dll"
	fixtureImportFunc    = "TestImport"
	fixtureExportName    = "TestExport"
	fixtureModuleName    = "TESTMOD.dll"
)

func buildTestImage() []byte {
	const total = 0x2400
	buf := make([]byte, total)
	le := binary.LittleEndian

	// DOS header
	le.PutUint16(buf[0:], imageDOSSignature)
	le.PutUint32(buf[0x3c:], 0x80) // e_lfanew

	ntOff := 0x80
	le.PutUint32(buf[ntOff:], imageNTSignature)

	fhOff := ntOff + 4
	le.PutUint16(buf[fhOff:], imageFileMachineAMD64)     // Machine
	le.PutUint16(buf[fhOff+2:], 2)                       // NumberOfSections
	le.PutUint16(buf[fhOff+16:], 240)                    // SizeOfOptionalHeader
	le.PutUint16(buf[fhOff+18:], imageFileDLL)           // Characteristics

	optOff := fhOff + 20
	le.PutUint16(buf[optOff:], imageNTOptionalHDR64Magic) // Magic
	le.PutUint32(buf[optOff+16:], fixtureEntryRVA)         // AddressOfEntryPoint
	le.PutUint64(buf[optOff+24:], fixturePreferredBase)    // ImageBase
	le.PutUint32(buf[optOff+32:], 0x1000)                  // SectionAlignment
	le.PutUint32(buf[optOff+56:], fixtureSizeOfImage)      // SizeOfImage
	le.PutUint32(buf[optOff+60:], fixtureSizeOfHeaders)    // SizeOfHeaders
	le.PutUint32(buf[optOff+108:], 16)                     // NumberOfRvaAndSizes

	dirsOff := optOff + 112
	putDir := func(index int, va, size uint32) {
		le.PutUint32(buf[dirsOff+index*8:], va)
		le.PutUint32(buf[dirsOff+index*8+4:], size)
	}
	putDir(imageDirectoryEntryExport, 0x2100, 0x100)
	putDir(imageDirectoryEntryImport, 0x2000, 0x200)
	putDir(imageDirectoryEntryBaseReloc, 0x2200, 10)

	sectionsOff := dirsOff + 128
	putSection := func(i int, name string, va, vsize, rawOff, rawSize, characteristics uint32) {
		off := sectionsOff + i*40
		copy(buf[off:off+8], name)
		le.PutUint32(buf[off+8:], vsize)
		le.PutUint32(buf[off+12:], va)
		le.PutUint32(buf[off+16:], rawSize)
		le.PutUint32(buf[off+20:], rawOff)
		le.PutUint32(buf[off+36:], characteristics)
	}
	putSection(0, ".text", 0x1000, 0x20, 0x1000, 0x200, imageSCNMemExecute|imageSCNMemRead)
	putSection(1, ".rdata", 0x2000, 0x300, 0x2000, 0x400, imageSCNMemRead)

	// .text: 8-byte pointer at RVA 0x1004, initially holding the preferred
	// base. relocate() should rebase it by delta.
	le.PutUint64(buf[fixtureRelocPatchRVA:], fixturePreferredBase)

	// .rdata: import descriptor array (one entry + null terminator)
	putImportDescriptor := func(off int, originalFirstThunk, name, firstThunk uint32) {
		le.PutUint32(buf[off:], originalFirstThunk)
		le.PutUint32(buf[off+12:], name)
		le.PutUint32(buf[off+16:], firstThunk)
	}
	putImportDescriptor(0x2000, 0x2040, 0x2028, 0x2050)
	// second descriptor at 0x2014 left zeroed -> Name==0 terminates the loop

	copy(buf[0x2028:], fixtureImportDLL+"\x00")

	le.PutUint64(buf[0x2040:], 0x2060) // INT[0] -> hint/name RVA
	le.PutUint64(buf[0x2048:], 0)      // INT terminator
	le.PutUint64(buf[0x2050:], 0x2060) // IAT[0], mirrors INT before patch
	le.PutUint64(buf[0x2058:], 0)      // IAT terminator

	le.PutUint16(buf[0x2060:], 0) // hint
	copy(buf[0x2062:], fixtureImportFunc+"\x00")

	// export directory
	le.PutUint32(buf[0x2100+12:], 0x2160) // Name
	le.PutUint32(buf[0x2100+16:], 1)      // Base
	le.PutUint32(buf[0x2100+20:], 1)      // NumberOfFunctions
	le.PutUint32(buf[0x2100+24:], 1)      // NumberOfNames
	le.PutUint32(buf[0x2100+28:], 0x2140) // AddressOfFunctions
	le.PutUint32(buf[0x2100+32:], 0x2148) // AddressOfNames
	le.PutUint32(buf[0x2100+36:], 0x214c) // AddressOfNameOrdinals

	le.PutUint32(buf[0x2140:], fixtureEntryRVA) // AddressOfFunctions[0]
	le.PutUint32(buf[0x2148:], 0x2180)          // AddressOfNames[0]
	le.PutUint16(buf[0x214c:], 0)               // AddressOfNameOrdinals[0]

	copy(buf[0x2160:], fixtureModuleName+"\x00")
	copy(buf[0x2180:], fixtureExportName+"\x00")

	// base relocation directory: one DIR64 entry at .text+4
	le.PutUint32(buf[0x2200:], 0x1000) // block VirtualAddress
	le.PutUint32(buf[0x2204:], 10)     // block SizeOfBlock (header + 1 entry)
	entry := uint16(imageRelBasedDir64)<<12 | uint16(4)
	le.PutUint16(buf[0x2208:], entry)

	return buf
}
