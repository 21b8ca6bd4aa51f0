package kernel

import (
	"github.com/xyproto/cosloader/internal/capability"
	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// compInfoLayout gives the byte offsets of the fields spec §4.9 names
// within a component's cos_comp_info control struct, in the order the spec
// lists them. The original control-struct header was not part of the
// retrieved source pack, so these offsets are inferred from the spec's
// field list rather than lifted from original source; see DESIGN NOTES.
type compInfoLayout struct {
	upcallOff       uint32
	idOff           uint32
	heapTopOff      uint32
	usrcapsAddrOff  uint32
	atomicRegionOff uint32
	cosPolyBaseOff  uint32 // cos_poly[0]: base address of the boot component's packaged-cobj concatenation
	cosPolyCountOff uint32 // cos_poly[1]: count of packaged cobjs concatenated there
}

var defaultCompInfoLayout = compInfoLayout{
	upcallOff:       0,
	idOff:           4,
	heapTopOff:      8,
	usrcapsAddrOff:  12,
	atomicRegionOff: 16, // followed by NumAtomicSymbols*4 bytes
	cosPolyBaseOff:  16 + registry.NumAtomicSymbols*4,
	cosPolyCountOff: 16 + registry.NumAtomicSymbols*4 + 4,
}

// Image is the byte-addressable view of a component's mapped memory that
// InstallAll reads cos_comp_info fields from and writes the assigned id and
// heap top back into.
type Image interface {
	ReadUint32(addr uint32) (uint32, error)
	WriteUint32(addr, val uint32) error
}

// InstallAll performs C9 for every host-installed (non-boot-packaged)
// component in reg, in declaration order: locate cos_comp_info, register
// with the kernel, write back id and heap top, promote schedulers, and
// install capabilities.
func InstallAll(reg *registry.Registry, reader *objectfile.Reader, in *Installer, img Image, caps []capability.Capability, log interface {
	Debug(format string, args ...any)
}) error {
	layout := defaultCompInfoLayout

	capsByCaller := make(map[*registry.Component][]capability.Capability)
	for _, c := range caps {
		capsByCaller[c.Caller] = append(capsByCaller[c.Caller], c)
	}

	for _, c := range reg.All() {
		if c.IsBootPackaged {
			continue
		}

		compInfoAddr, err := reader.Lookup(c.ObjPath, "cos_comp_info")
		if err != nil {
			return err
		}
		if compInfoAddr == 0 {
			return diag.New(diag.KindFormat, c.Name, "cos_comp_info", "component is missing its control struct")
		}

		upcallAddr, err := img.ReadUint32(compInfoAddr + layout.upcallOff)
		if err != nil {
			return diag.Wrap(diag.KindKernel, c.Name, "", err)
		}
		usrcapsAddr, err := img.ReadUint32(compInfoAddr + layout.usrcapsAddrOff)
		if err != nil {
			return diag.Wrap(diag.KindKernel, c.Name, "", err)
		}

		if err := readAtomicRegions(img, compInfoAddr+layout.atomicRegionOff, &c.AtomicRegions); err != nil {
			return diag.Wrap(diag.KindKernel, c.Name, "", err)
		}

		id, err := in.CreateComponent(c, upcallAddr, usrcapsAddr, len(capsByCaller[c]))
		if err != nil {
			return err
		}
		if err := img.WriteUint32(compInfoAddr+layout.idOff, id); err != nil {
			return diag.Wrap(diag.KindKernel, c.Name, "", err)
		}
		if err := img.WriteUint32(compInfoAddr+layout.heapTopOff, c.HeapTop); err != nil {
			return diag.Wrap(diag.KindKernel, c.Name, "", err)
		}

		if c.IsScheduler {
			var parentID uint32
			if c.Scheduler != nil {
				parentID = uint32(c.Scheduler.SpdID)
			}
			if err := in.PromoteScheduler(id, parentID, 0); err != nil {
				return err
			}
		}

		for _, invCap := range capsByCaller[c] {
			if invCap.Callee.SpdID == 0 {
				continue // callee has no id at all (addresses and ids were never assigned)
			}
			if err := in.AddCapability(invCap, id, uint32(invCap.Callee.SpdID)); err != nil {
				return err
			}
		}

		if log != nil {
			log.Debug("%s: installed as spd %d", c.Name, id)
		}
	}

	if err := installSpecialPayloads(reg, reader, img, layout); err != nil {
		return err
	}

	if initComp := reg.FindBySubstring("c0.o"); initComp != nil {
		var schedID uint32
		if initComp.Scheduler != nil {
			schedID = uint32(initComp.Scheduler.SpdID)
		}
		if err := in.CreateThread(uint32(initComp.SpdID), schedID); err != nil {
			return err
		}
	}

	return nil
}

func readAtomicRegions(img Image, base uint32, out *[registry.NumAtomicSymbols]uint32) error {
	for i := range out {
		v, err := img.ReadUint32(base + uint32(i)*4)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}
