// Package layout implements C6, the address-window assignment and two-pass
// linker/loader. Address arithmetic and page rounding are lifted from the
// original loader's consts.h (PAGE_SIZE, PGD_RANGE, SERVICE_START); the
// external linker invocations follow the subprocess idiom already
// established by internal/stub.
package layout

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// PageSize is the VM page size assumed by address arithmetic (PAGE_SIZE,
// 1<<PAGE_ORDER in the original consts.h).
const PageSize = 1 << 12

// WindowSize is the size of one component's address-space window (W in
// spec §4.6; PGD_RANGE/SERVICE_SIZE in the original, one page directory's
// worth of address space).
const WindowSize = 1 << 22

// Base is the first address handed out to component 0 (SERVICE_START:
// a 1 GiB shared region followed by one window reserved for it).
const Base = (1 << 30) + WindowSize

// roundUpToPage rounds x up to the next multiple of PageSize.
func roundUpToPage(x uint32) uint32 {
	return (x + PageSize - 1) &^ (PageSize - 1)
}

// AssignAddresses assigns each component in reg a window, in declaration
// order, skipping one extra window right after the named boot component
// (registry.SpecialBoot — boot.o/bootr.o) if one is present (spec §4.6;
// strstr(services->obj, BOOT_COMP) in the original, cos_loader.c:1570). This
// is orthogonal to boot-packaging (the "!" marker, c.IsBootPackaged): the
// gap follows the single host-installed component special-cased as the boot
// component, not every boot-packaged component.
// AssignAddresses also assigns each component a provisional SpdID from a
// single shared, monotonic counter (spdid_inc in the original loader):
// host-installed components first, in declaration order, then boot-packaged
// components, in declaration order. Host-installed components get their
// SpdID overwritten by the kernel's create_component reply; boot-packaged
// components, which never go through the kernel, keep this id permanently.
func AssignAddresses(reg *registry.Registry) {
	addr := uint32(Base)
	k := 0
	for _, c := range reg.All() {
		c.LowerAddr = addr
		k++
		addr = uint32(Base) + uint32(k)*WindowSize
		if c.Special == registry.SpecialBoot {
			k++
			addr = uint32(Base) + uint32(k)*WindowSize
		}
	}

	id := 1
	for _, bootPackaged := range []bool{false, true} {
		for _, c := range reg.All() {
			if c.IsBootPackaged == bootPackaged {
				c.SpdID = id
				id++
			}
		}
	}
}

// Toolchain names the external linker program used for both passes.
type Toolchain struct {
	Linker string // defaults to "ld"
}

// DefaultToolchain returns the conventional ld.
func DefaultToolchain() Toolchain { return Toolchain{Linker: "ld"} }

// Linker drives the two-pass link for every component in a registry.
type Linker struct {
	Toolchain Toolchain
	TmpDir    string
	Reader    *objectfile.Reader
	log       *diag.Logger
}

// New returns a Linker. log may be nil.
func New(tc Toolchain, tmpDir string, reader *objectfile.Reader, log *diag.Logger) *Linker {
	return &Linker{Toolchain: tc, TmpDir: tmpDir, Reader: reader, log: log}
}

// LinkAll runs AssignAddresses then the two-pass link for every component.
func (l *Linker) LinkAll(reg *registry.Registry) error {
	AssignAddresses(reg)
	for _, c := range reg.All() {
		if err := l.linkOne(c); err != nil {
			return err
		}
	}
	return nil
}

// measure performs pass 1: link at address 0 and read back section layout.
func (l *Linker) measure(c *registry.Component) (objectfile.SectionLayout, string, error) {
	out := filepath.Join(l.TmpDir, filepath.Base(c.ObjPath)+".pass1.o")
	script := filepath.Join(l.TmpDir, filepath.Base(c.ObjPath)+".pass1.lds")

	if err := writeLinkerScript(script, 0); err != nil {
		return objectfile.SectionLayout{}, "", err
	}
	if err := l.runLinker(script, out, c.ObjPath); err != nil {
		return objectfile.SectionLayout{}, "", err
	}

	layout, err := l.Reader.ReadSectionLayout(out)
	if err != nil {
		return objectfile.SectionLayout{}, "", err
	}
	return layout, out, nil
}

// linkOne runs both passes for c and records its section placement (spec
// §4.6).
func (l *Linker) linkOne(c *registry.Component) error {
	layout, pass1Obj, err := l.measure(c)
	if err != nil {
		return diag.Wrap(diag.KindExternalTool, c.ObjPath, "", err)
	}

	roSize := roundUpToPage(sectionSize(layout.Text) + alignUp(sectionSize(layout.Rodata), layout.Rodata.Align))
	dataSize := sectionSize(layout.Data)
	bssSize := sectionSize(layout.BSS)
	totalAlloc := roundUpToPage(roSize) + roundUpToPage(dataSize+bssSize)

	c.Sections.RO = registry.SectionInfo{FileOffset: 0, Size: roSize}
	c.Sections.Data = registry.SectionInfo{FileOffset: roundUpToPage(roSize), Size: dataSize}
	c.Sections.BSS = registry.SectionInfo{FileOffset: roundUpToPage(roSize) + dataSize, Size: bssSize}
	c.Size = totalAlloc
	c.HeapTop = c.LowerAddr + totalAlloc

	pass2Out := filepath.Join(l.TmpDir, filepath.Base(c.ObjPath)+".pass2.o")
	script := filepath.Join(l.TmpDir, filepath.Base(c.ObjPath)+".pass2.lds")
	if err := writeBindScript(script, c.LowerAddr, roundUpToPage(roSize)); err != nil {
		return diag.Wrap(diag.KindIo, script, "", err)
	}
	if err := l.runLinker(script, pass2Out, c.ObjPath); err != nil {
		return diag.Wrap(diag.KindExternalTool, c.ObjPath, "", err)
	}

	for i := range c.Exported {
		addr, err := l.Reader.Lookup(pass2Out, c.Exported[i].Name)
		if err != nil {
			return err
		}
		c.Exported[i].Addr = addr
	}
	c.ObjPath = pass2Out // later stages read section bytes and addresses from the relinked image

	if l.log != nil {
		l.log.Debug("%s: RO=%d DATA=%d BSS=%d lower=0x%x", c.Name, roSize, dataSize, bssSize, c.LowerAddr)
	}

	_ = pass1Obj // retained only for diagnostics; nothing else consumes it past measurement
	return nil
}

func sectionSize(a objectfile.SectionAlign) uint32 {
	if !a.Present {
		return 0
	}
	return uint32(a.Size)
}

func alignUp(size uint32, align uint64) uint32 {
	if align == 0 {
		return size
	}
	a := uint32(align)
	return (size + a - 1) &^ (a - 1)
}

func writeLinkerScript(path string, base uint32) error {
	script := fmt.Sprintf("SECTIONS {\n  . = 0x%x;\n  .text : { *(.text) }\n  .rodata : { *(.rodata) }\n  .data : { *(.data) }\n  .bss : { *(.bss) }\n}\n", base)
	return os.WriteFile(path, []byte(script), 0o644)
}

func writeBindScript(path string, lowerAddr, roSize uint32) error {
	script := fmt.Sprintf(
		"SECTIONS {\n  . = 0x%x;\n  .text : { *(.text) }\n  .rodata : { *(.rodata) }\n  . = 0x%x;\n  .data : { *(.data) }\n  .bss : { *(.bss) }\n}\n",
		lowerAddr, lowerAddr+roSize)
	return os.WriteFile(path, []byte(script), 0o644)
}

func (l *Linker) runLinker(scriptPath, outPath string, inputs ...string) error {
	args := append([]string{"-T", scriptPath, "-o", outPath}, inputs...)
	cmd := exec.Command(l.Toolchain.Linker, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (stderr: %s)", l.Toolchain.Linker, err, stderr.String())
	}
	return nil
}
