package main

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/cosloader/internal/kernel"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// mappedImage implements kernel.Image over the set of per-component memory
// mappings created for a host-install run; it dispatches a read or write at
// an arbitrary address to whichever component's window contains it.
type mappedImage struct {
	mappings []addrMapping
}

type addrMapping struct {
	lo, hi uint32
	buf    []byte
}

// newMappedImage maps every host-installed (non-boot-packaged) component's
// address window and copies its linked RO/DATA section bytes into the
// mapping, per spec §4.6's host-memory deployment path ("the section
// contents are copied in"). BSS needs no copy: the underlying mmap is
// already zero-filled.
func newMappedImage(reg *registry.Registry, reader *objectfile.Reader) (*mappedImage, error) {
	img := &mappedImage{}
	for _, c := range reg.All() {
		if c.IsBootPackaged {
			continue
		}
		mem, err := kernel.MapComponentMemory(c)
		if err != nil {
			return nil, err
		}
		if err := copyComponentSections(mem, c, reader); err != nil {
			return nil, err
		}
		img.mappings = append(img.mappings, addrMapping{lo: c.LowerAddr, hi: c.LowerAddr + c.Size, buf: mem})
	}
	return img, nil
}

// copyComponentSections reads c's linked .text/.rodata/.data bytes and
// copies them into mem at the offsets layout.go assigned them, so a
// host-installed component's pages hold its actual code and data rather
// than the mmap's initial zeros.
func copyComponentSections(mem []byte, c *registry.Component, reader *objectfile.Reader) error {
	text, err := reader.SectionBytes(c.ObjPath, ".text")
	if err != nil {
		return err
	}
	rodata, err := reader.SectionBytes(c.ObjPath, ".rodata")
	if err != nil {
		return err
	}
	ro := append(append([]byte{}, text...), rodata...)
	copy(mem[c.Sections.RO.FileOffset:], ro)

	data, err := reader.SectionBytes(c.ObjPath, ".data")
	if err != nil {
		return err
	}
	copy(mem[c.Sections.Data.FileOffset:], data)
	return nil
}

func (m *mappedImage) find(addr uint32) ([]byte, uint32, error) {
	for _, mm := range m.mappings {
		if addr >= mm.lo && addr < mm.hi {
			return mm.buf, addr - mm.lo, nil
		}
	}
	return nil, 0, fmt.Errorf("address 0x%x is not within any mapped component window", addr)
}

func (m *mappedImage) ReadUint32(addr uint32) (uint32, error) {
	buf, off, err := m.find(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), nil
}

func (m *mappedImage) WriteUint32(addr, val uint32) error {
	buf, off, err := m.find(addr)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], val)
	return nil
}

// Finalize drops every mapping's write permission once installation and
// initialization are complete, leaving PROT_READ|PROT_EXEC per spec §4.6.
func (m *mappedImage) Finalize() error {
	for _, mm := range m.mappings {
		if err := kernel.FinalizeComponentMemory(mm.buf); err != nil {
			return err
		}
	}
	return nil
}
