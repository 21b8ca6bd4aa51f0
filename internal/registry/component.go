// Package registry holds the component registry (C2): the insertion-ordered
// collection of components that every later pipeline stage reads and
// annotates.
package registry

// MaxSymbolNameLen bounds a symbol name, per spec §3 invariants. Exceeding it
// is an error, never a silent truncation.
const MaxSymbolNameLen = 255

// MaxDependencies bounds how many declared dependencies a single component
// may carry (MAX_TRUSTED in the original loader).
const MaxDependencies = 32

// NumAtomicSymbols is the number of atomic-region begin/end address pairs
// read out of a host-installed component's cos_comp_info (NUM_ATOMIC_SYMBS
// in the original; 5 pairs, 10 addresses).
const NumAtomicSymbols = 10

// Symbol is an exported or undefined symbol belonging to a component.
type Symbol struct {
	Name string
	Addr uint32

	// Exporter and ExportedRef are filled in by the resolver (C4) for
	// undefined symbols: the component that exports a matching name, and
	// the specific exported Symbol it resolved to.
	Exporter    *Component
	ExportedRef *Symbol
}

// Dependency is a directed edge caller -> callee, with an optional name
// modifier (spec §3).
type Dependency struct {
	Target   *Component
	Modifier string // empty means no modifier
	Resolved bool
}

// SectionInfo records a section's placement within a component's image.
type SectionInfo struct {
	FileOffset uint32
	Size       uint32
}

// Sections holds the three placed regions of a component's image. Offsets
// must be monotonically ordered RO < DATA < BSS (spec §3 invariants).
type Sections struct {
	RO   SectionInfo
	Data SectionInfo
	BSS  SectionInfo
}

// Special tags the well-known, path-substring-recognized components of §4.9
// and the DESIGN NOTES recommendation to lift substring matching into an
// explicit enum rather than scattering strstr calls through the loader.
type Special int

const (
	SpecialNone Special = iota
	SpecialInit
	SpecialRootScheduler
	SpecialMPDManager
	SpecialInitFile
	SpecialConfig
	SpecialBoot
)

// Component is a protection domain: its object file, attributes, symbol
// tables, dependency list, and (once placed) its address-space window.
type Component struct {
	// Name is the declared (possibly decorated) name from the dependency
	// text; ObjPath is the resolved on-disk object file, which is replaced
	// in place by the stub synthesizer (C5) with the combined object and
	// then by the two-pass linker (C6) with the relinked image.
	Name    string
	ObjPath string

	InitStr string

	IsScheduler     bool
	IsBootPackaged  bool
	IsRootScheduler bool

	// Scheduler is the component responsible for scheduling this one, or
	// nil if none was declared.
	Scheduler *Component

	Exported []Symbol
	Undef    []Symbol

	Dependencies []Dependency

	Sections Sections

	LowerAddr uint32
	Size      uint32
	HeapTop   uint32

	// AtomicRegions holds the 5 begin/end address pairs read from
	// cos_comp_info for host-installed components (SPEC_FULL §4;
	// NUM_ATOMIC_SYMBS in the original).
	AtomicRegions [NumAtomicSymbols]uint32

	Depth int

	// SpdID is the integer identity assigned at install time (1-based,
	// monotonic, shared across host-installed and boot-packaged
	// components per SPEC_FULL §4).
	SpdID int

	// Special marks a well-known component recognized by path substring.
	Special Special

	// Cobj is set iff IsBootPackaged.
	Cobj any // *cobj.Object, kept as `any` here to avoid an import cycle
}

// ExportedByName returns the exported symbol with the given name, or nil.
func (c *Component) ExportedByName(name string) *Symbol {
	for i := range c.Exported {
		if c.Exported[i].Name == name {
			return &c.Exported[i]
		}
	}
	return nil
}

// UndefIndex returns the position of the undefined symbol with the given
// name within c.Undef, or -1. This position becomes the capability table
// slot index (spec §3, rel_offset).
func (c *Component) UndefIndex(name string) int {
	for i := range c.Undef {
		if c.Undef[i].Name == name {
			return i
		}
	}
	return -1
}
