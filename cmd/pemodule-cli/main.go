// Command pemodule-cli loads a PE image into the current process and
// optionally resolves one of its exports by name or #ordinal, printing the
// export's address without calling it, in the style of
// carved4-meltload's cmd/main.go demo harness.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	bpe "github.com/Binject/debug/pe"

	"github.com/kryptoslogic/pemodule/pkg/pemodule"
)

func main() {
	path := flag.String("file", "", "path to the PE/DLL image to load")
	export := flag.String("export", "", "export to resolve by name or #ordinal after loading")
	dump := flag.Bool("dump", false, "print the section and import tables before loading")
	ordinalOnly := flag.Bool("ordinal-only", false, "skip the by-name export index")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: pemodule-cli -file <path> [-export name|#ordinal] [-dump]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("reading %s: %v", *path, err)
	}

	if *dump {
		printDiagnostics(raw)
	}

	mod := pemodule.New()
	opts := []pemodule.LoadOption{}
	if *ordinalOnly {
		opts = append(opts, pemodule.WithOrdinalExports())
	}
	if err := mod.Load(raw, opts...); err != nil {
		log.Fatalf("load failed: %v", err)
	}
	defer mod.Close()

	fmt.Printf("loaded %q at 0x%x (%d bytes, pe64=%v, %d exports)\n",
		mod.Name(), mod.BaseAddress(), mod.ImageSize(), mod.IsPE64(), mod.ExportCount())

	if *export == "" {
		return
	}

	addr, err := resolveCLIExport(mod, *export)
	if err != nil {
		log.Fatalf("resolving export %q: %v", *export, err)
	}
	fmt.Printf("%s resolved to 0x%x\n", *export, addr)
}

func resolveCLIExport(mod pemodule.Module, name string) (uintptr, error) {
	if len(name) > 1 && name[0] == '#' {
		ordinal, err := strconv.ParseUint(name[1:], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid ordinal %q: %w", name, err)
		}
		return mod.LookupByOrdinal(uint16(ordinal))
	}
	return mod.LookupByName(name)
}

// printDiagnostics parses the raw file with Binject/debug/pe for a
// human-readable summary, the same structural parser carved4-meltload uses
// internally to walk the import directory table.
func printDiagnostics(raw []byte) {
	f, err := bpe.NewFile(bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "diagnostic parse failed: %v\n", err)
		return
	}
	fmt.Println("sections:")
	for _, s := range f.Sections {
		fmt.Printf("  %-10s va=0x%08x size=%-10d characteristics=0x%08x\n", s.Name, s.VirtualAddress, s.Size, s.Characteristics)
	}
	imports, _, _, err := f.ImportDirectoryTable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "import directory: %v\n", err)
		return
	}
	fmt.Println("imports:")
	for _, imp := range imports {
		fmt.Printf("  %s\n", imp.DllName)
	}
}
