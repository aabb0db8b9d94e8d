package pemodule

import (
	"sort"
	"sync"
)

// Export is one entry in a module's export table (spec.md §3). Address is
// base+RVA in the mapped image. Forwarded exports are not chased: their
// RVA and Address point at the forwarder string inside the export
// directory.
type Export struct {
	Name        string
	Ordinal     uint16
	OrdinalBase uint16
	RVA         uint32
	Address     uintptr
}

// exportIndex is a lazily-built, cached view of the export directory,
// guarded for concurrent read access per spec.md §5's single-writer/
// multi-reader model. Load never calls build itself (spec.md §2/§4.8: the
// Export Indexer sits on the lookup path, not the load path); each of
// Module's LookupByName, LookupByOrdinal, ExportCount and Exports calls
// build on first use, and once resolves that to a single actual parse no
// matter how many accessors race to trigger it. The resulting maps are
// never mutated afterward, so lookups after the build take only a read
// lock.
//
// Grounded on the exportIndexCache idiom in
// carved4-go-wincall's resolve.go, adapted from a package-level cache keyed
// by module handle to one instance per Module.
type exportIndex struct {
	once sync.Once
	mu   sync.RWMutex

	byName    map[string]*Export
	byOrdinal map[uint16]*Export
	ordered   []*Export
	buildErr  error
}

func (e *exportIndex) build(view imageView, l *layout, ordinalOnly bool) error {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.byName = make(map[string]*Export)
		e.byOrdinal = make(map[uint16]*Export)

		dir := l.directory(imageDirectoryEntryExport)
		if dir.VirtualAddress == 0 || dir.Size == 0 {
			return // no exports; empty index is not an error
		}

		var ed exportDirectory
		fields := []struct {
			off uint32
			dst *uint32
		}{
			{0, &ed.Characteristics}, {4, &ed.TimeDateStamp},
			// MajorVersion/MinorVersion (offsets 8, 10) are two uint16s this
			// loader never reads.
			{12, &ed.Name}, {16, &ed.Base},
			{20, &ed.NumberOfFunctions}, {24, &ed.NumberOfNames},
			{28, &ed.AddressOfFunctions}, {32, &ed.AddressOfNames},
			{36, &ed.AddressOfNameOrdinals},
		}
		for _, f := range fields {
			v, ok := view.u32(dir.VirtualAddress + f.off)
			if !ok {
				e.buildErr = newErr(KindMalformedSection, "export directory out of bounds")
				return
			}
			*f.dst = v
		}

		funcs := make([]uint32, ed.NumberOfFunctions)
		for i := range funcs {
			v, ok := view.u32(ed.AddressOfFunctions + uint32(i)*4)
			if !ok {
				e.buildErr = newErr(KindMalformedSection, "export address table out of bounds")
				return
			}
			funcs[i] = v
		}

		// newExport builds an *Export for the function-table slot at ordIdx,
		// or nil if that slot is empty (a gap the compiler leaves for a
		// removed export). A forwarded export's RVA points inside the export
		// directory itself rather than at code; the OS-independent index
		// records it by RVA/Address as-is (single-hop forwarder chasing is
		// done by the Import Resolver's procResolver at wiring time, per
		// §12.1, since only the host knows how to load the forward target
		// library).
		newExport := func(ordIdx uint32) (*Export, error) {
			if ordIdx >= uint32(len(funcs)) {
				return nil, newErr(KindMalformedSection, "export name ordinal %d out of range", ordIdx)
			}
			rva := funcs[ordIdx]
			if rva == 0 {
				return nil, nil
			}
			return &Export{
				Ordinal:     uint16(ed.Base + ordIdx),
				OrdinalBase: uint16(ed.Base),
				RVA:         rva,
				Address:     view.addr(rva),
			}, nil
		}

		if ordinalOnly {
			// spec.md §9 Open Question 2, ordinal-only mode: index every
			// function-table slot directly, named or not.
			for i := uint32(0); i < ed.NumberOfFunctions; i++ {
				exp, err := newExport(i)
				if err != nil {
					e.buildErr = err
					return
				}
				if exp == nil {
					continue
				}
				e.byOrdinal[exp.Ordinal] = exp
				e.ordered = append(e.ordered, exp)
			}
		} else {
			// Default mode (spec.md §9 Open Question 2): only exports the
			// name table actually resolves are cached, so a PE with only
			// nameless exports reports export_count() == 0.
			for i := uint32(0); i < ed.NumberOfNames; i++ {
				nameRVA, ok := view.u32(ed.AddressOfNames + i*4)
				if !ok {
					e.buildErr = newErr(KindMalformedSection, "export name table out of bounds")
					return
				}
				ordIdx, ok := view.u16(ed.AddressOfNameOrdinals + i*2)
				if !ok {
					e.buildErr = newErr(KindMalformedSection, "export name ordinal table out of bounds")
					return
				}
				name, ok := view.cstr(nameRVA)
				if !ok {
					e.buildErr = newErr(KindMalformedSection, "export name at 0x%x unreadable", nameRVA)
					return
				}
				exp, err := newExport(uint32(ordIdx))
				if err != nil {
					e.buildErr = err
					return
				}
				if exp == nil {
					continue
				}
				exp.Name = name
				e.byName[name] = exp
				e.byOrdinal[exp.Ordinal] = exp
				e.ordered = append(e.ordered, exp)
			}
		}

		sort.Slice(e.ordered, func(i, j int) bool { return e.ordered[i].Ordinal < e.ordered[j].Ordinal })
	})
	return e.buildErr
}

// lookupByName resolves a name, falling back to the "numeric name is
// actually an ordinal" quirk in spec.md §4.8: if name is not found but
// parses as a decimal integer, it is retried as an ordinal.
func (e *exportIndex) lookupByName(name string) (*Export, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if exp, ok := e.byName[name]; ok {
		return exp, true
	}
	if ord, ok := parseDecimalOrdinal(name); ok {
		if exp, ok := e.byOrdinal[ord]; ok {
			return exp, true
		}
	}
	return nil, false
}

func (e *exportIndex) lookupByOrdinal(ordinal uint16) (*Export, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exp, ok := e.byOrdinal[ordinal]
	return exp, ok
}

func (e *exportIndex) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ordered)
}

func (e *exportIndex) all() []Export {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Export, len(e.ordered))
	for i, exp := range e.ordered {
		out[i] = *exp
	}
	return out
}

func parseDecimalOrdinal(s string) (uint16, bool) {
	if s == "" {
		return 0, false
	}
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint32(c-'0')
		if v > 0xffff {
			return 0, false
		}
	}
	return uint16(v), true
}
