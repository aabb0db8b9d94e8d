package pemodule

import (
	"errors"
	"io"
	"sync"
)

// state is the Module lifecycle state machine (spec.md §3): a Module starts
// Empty, becomes Loaded after a successful Load, and returns to Empty after
// Unload. Only one Mapped Image may be owned by a Module at a time.
type state int

const (
	stateEmpty state = iota
	stateLoaded
)

// loadOptions carries the Open Question policy decisions a caller may
// override (SPEC_FULL.md §14).
type loadOptions struct {
	relocPolicy MissingRelocPolicy
	ordinalOnly bool
}

// LoadOption configures a Load call's policy decisions.
type LoadOption func(*loadOptions)

// WithMissingRelocPolicy overrides how Load handles an image loaded at a
// non-preferred base with no relocation directory. The default is
// AllowFixedBaseAssumption.
func WithMissingRelocPolicy(p MissingRelocPolicy) LoadOption {
	return func(o *loadOptions) { o.relocPolicy = p }
}

// WithOrdinalExports skips building the by-name export index, leaving only
// ordinal lookups available. Useful for images whose export name table is
// absent or untrusted.
func WithOrdinalExports() LoadOption {
	return func(o *loadOptions) { o.ordinalOnly = true }
}

// Module is the handle-based procedural interface spec.md §4.9 and
// SPEC_FULL.md §12.3 name: a single in-memory image, loaded from a byte
// buffer and addressable by name or ordinal until Close (Unload) releases
// it. Modeled on uni7corn-microdbg/loader/module.go's accessor-plus-Closer
// shape.
type Module interface {
	io.Closer

	// Load maps input into the current process and runs it through
	// validation, relocation, import resolution and initialization
	// (spec.md §4). If this Module already holds a mapped image, Load
	// unloads it first (spec.md §4.9), so a second Load replaces the first
	// rather than failing.
	Load(input []byte, opts ...LoadOption) error

	LookupByName(name string) (uintptr, error)
	LookupByOrdinal(ordinal uint16) (uintptr, error)
	Name() string
	IsPE64() bool
	BaseAddress() uintptr
	ImageSize() uint32
	ExportCount() int
	Exports() []Export
}

// ErrNotLoaded is returned by LookupByName and LookupByOrdinal called before
// Load or after Close. The other accessors return zero values (0, "", false
// or nil) in that state.
var ErrNotLoaded = errors.New("pemodule: module not loaded")

// memModule is the concrete Module implementation. Its state transitions
// are guarded by mu so LookupByName et al. may run concurrently with each
// other (spec.md §5) but never overlap a Load or Unload.
type memModule struct {
	mu    sync.RWMutex
	state state

	mem      virtualMemory
	resolver procResolver
	caller   entryCaller

	view        imageView
	layout      *layout
	base        uintptr
	exports     exportIndex
	ordinalOnly bool
}

// New returns an unloaded Module wired to this host's real virtual memory,
// import resolution and entry-call surfaces (entry_windows.go on windows,
// entry_other.go elsewhere). Call Load to map an image into it.
func New() Module {
	mem, resolver, caller := newHostSurfaces()
	return &memModule{mem: mem, resolver: resolver, caller: caller}
}

// newTestModule builds a Module over caller-supplied ports, used by tests to
// exercise the pipeline without touching real virtual memory.
func newTestModule(mem virtualMemory, resolver procResolver, caller entryCaller) *memModule {
	return &memModule{mem: mem, resolver: resolver, caller: caller}
}

func (m *memModule) Load(input []byte, opts ...LoadOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateLoaded {
		// spec.md §4.9: Load on a populated Module performs Unload first, so
		// "at most one mapped image" holds across retries — a second Load
		// replaces the first rather than failing.
		m.unloadLocked()
	}

	cfg := loadOptions{relocPolicy: AllowFixedBaseAssumption}
	for _, opt := range opts {
		opt(&cfg)
	}

	l, err := parseLayout(input)
	if err != nil {
		return err
	}

	reserveSize := alignUp(uintptr(l.sizeOfImage), m.mem.PageSize())
	actualBase, err := m.mem.Reserve(uintptr(l.preferredBase), reserveSize)
	if err != nil {
		return wrapErr(KindOutOfAddressSpace, err, "reserving %d bytes", reserveSize)
	}
	view := newImageView(actualBase, reserveSize)

	if err := placeSections(view, input, l); err != nil {
		m.mem.Release(actualBase)
		return err
	}
	if err := rewriteImageBase(view, l, uint64(actualBase)); err != nil {
		m.mem.Release(actualBase)
		return err
	}

	delta := int64(actualBase) - int64(l.preferredBase)
	if err := relocate(view, l, delta, cfg.relocPolicy); err != nil {
		m.mem.Release(actualBase)
		return err
	}

	if err := resolveImports(view, l, m.resolver); err != nil {
		m.mem.Release(actualBase)
		return err
	}

	if err := finalizeProtections(m.mem, actualBase, l); err != nil {
		m.mem.Release(actualBase)
		return err
	}

	if err := runTLSCallbacks(view, l, actualBase, m.caller); err != nil {
		m.mem.Release(actualBase)
		return err
	}
	if l.isDLL {
		if err := runEntryPoint(l, actualBase, m.caller); err != nil {
			m.mem.Release(actualBase)
			return err
		}
	}

	m.view = view
	m.layout = l
	m.base = actualBase
	m.exports = exportIndex{}
	m.ordinalOnly = cfg.ordinalOnly
	m.state = stateLoaded
	return nil
}

// Close unloads the Module, releasing the reservation and running the DLL
// entry point with DLL_PROCESS_DETACH (spec.md §4.9). TLS detach callbacks
// are not invoked, and dependency DLLs loaded by the Import Resolver are
// never released; see SPEC_FULL.md §14 items 4 and 5. Unload is total per
// spec.md §7: it always succeeds, so Close always returns nil.
func (m *memModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked()
}

// unloadLocked releases the currently mapped image, if any, resetting the
// Module to Empty. Callers must hold m.mu. Load calls this directly (without
// going through Close's lock) to implement §4.9's "Load on a populated
// Module unloads first" rule.
func (m *memModule) unloadLocked() error {
	if m.state != stateLoaded {
		return nil
	}
	if m.layout.isDLL && m.layout.entryRVA != 0 {
		entry := m.base + uintptr(m.layout.entryRVA)
		m.caller.CallEntry(entry, m.base, dllProcessDetach)
	}
	// Release is best-effort; unload must be total and never fail
	// observably (spec.md §7), matching the discard-on-cleanup pattern
	// Load already uses on its own failure paths.
	m.mem.Release(m.base)
	m.state = stateEmpty
	m.view = imageView{}
	m.layout = nil
	m.base = 0
	m.exports = exportIndex{}
	return nil
}

func (m *memModule) LookupByName(name string) (uintptr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return 0, ErrNotLoaded
	}
	if err := m.exports.build(m.view, m.layout, m.ordinalOnly); err != nil {
		return 0, err
	}
	exp, ok := m.exports.lookupByName(name)
	if !ok {
		return 0, newErr(KindExportNotFound, "export %q not found", name)
	}
	return exp.Address, nil
}

func (m *memModule) LookupByOrdinal(ordinal uint16) (uintptr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return 0, ErrNotLoaded
	}
	if err := m.exports.build(m.view, m.layout, m.ordinalOnly); err != nil {
		return 0, err
	}
	exp, ok := m.exports.lookupByOrdinal(ordinal)
	if !ok {
		return 0, newErr(KindExportNotFound, "export ordinal %d not found", ordinal)
	}
	return exp.Address, nil
}

// Name returns the module's own name as recorded in its export directory
// (spec.md §4.9), or "" if it has none.
func (m *memModule) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return ""
	}
	dir := m.layout.directory(imageDirectoryEntryExport)
	if dir.VirtualAddress == 0 {
		return ""
	}
	nameRVA, ok := m.view.u32(dir.VirtualAddress + 12) // offsetof(Name) in IMAGE_EXPORT_DIRECTORY
	if !ok {
		return ""
	}
	name, ok := m.view.cstr(nameRVA)
	if !ok {
		return ""
	}
	return name
}

func (m *memModule) IsPE64() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateLoaded && m.layout.is64
}

func (m *memModule) BaseAddress() uintptr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return 0
	}
	return m.base
}

func (m *memModule) ImageSize() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return 0
	}
	return m.layout.sizeOfImage
}

// ExportCount builds the export index on first call, per §4.8's "built
// lazily on first query". Neither ExportCount nor Exports has an error
// return in this interface, so a malformed export directory is reported as
// zero exports rather than surfaced here; LookupByName/LookupByOrdinal
// return the build error to any caller that needs it.
func (m *memModule) ExportCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return 0
	}
	if err := m.exports.build(m.view, m.layout, m.ordinalOnly); err != nil {
		return 0
	}
	return m.exports.count()
}

func (m *memModule) Exports() []Export {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateLoaded {
		return nil
	}
	if err := m.exports.build(m.view, m.layout, m.ordinalOnly); err != nil {
		return nil
	}
	return m.exports.all()
}
