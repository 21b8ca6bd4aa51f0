package cobj

import (
	"github.com/xyproto/cosloader/internal/capability"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// BuildForComponent assembles the cobj.Object for a boot-packaged
// component: its three section payloads (RO, DATA, BSS-zeros), one symbol
// descriptor per exported symbol (cos_comp_info, one of the exports, is
// typed SymbCompInfo), and one
// capability descriptor per invocation capability it originates (spec
// §4.7's boot-packaged path, §4.8).
func BuildForComponent(c *registry.Component, reader *objectfile.Reader, caps []capability.Capability) (*Object, error) {
	roBytes, dataBytes, err := sectionPayloads(c, reader)
	if err != nil {
		return nil, err
	}

	sections := []Sect{
		{Flags: SectRead, Offset: 0, Vaddr: c.LowerAddr, Bytes: uint32(len(roBytes))},
		{Flags: SectRead | SectWrite, Offset: c.Sections.Data.FileOffset, Vaddr: c.LowerAddr + c.Sections.Data.FileOffset, Bytes: uint32(len(dataBytes))},
		{Flags: SectRead | SectWrite | SectZeros, Offset: c.Sections.BSS.FileOffset, Vaddr: c.LowerAddr + c.Sections.BSS.FileOffset, Bytes: c.Sections.BSS.Size},
	}
	payloads := [][]byte{roBytes, dataBytes, nil}

	symbols := buildSymbolDescs(c)
	capDescs := buildCapDescs(c, caps)

	return New(uint32(c.SpdID), sections, symbols, capDescs, payloads)
}

func sectionPayloads(c *registry.Component, reader *objectfile.Reader) (ro, data []byte, err error) {
	text, err := reader.SectionBytes(c.ObjPath, ".text")
	if err != nil {
		return nil, nil, err
	}
	rodata, err := reader.SectionBytes(c.ObjPath, ".rodata")
	if err != nil {
		return nil, nil, err
	}
	data, err = reader.SectionBytes(c.ObjPath, ".data")
	if err != nil {
		return nil, nil, err
	}
	ro = append(append([]byte{}, text...), rodata...)
	return ro, data, nil
}

func buildSymbolDescs(c *registry.Component) []Symb {
	symbols := make([]Symb, 0, len(c.Exported)+1)
	for _, s := range c.Exported {
		if s.Name == "cos_comp_info" {
			symbols = append(symbols, Symb{Type: SymbCompInfo, Vaddr: s.Addr})
			continue
		}
		symbols = append(symbols, Symb{Type: SymbExported, Vaddr: s.Addr})
	}
	return symbols
}

func buildCapDescs(c *registry.Component, caps []capability.Capability) []Cap {
	var out []Cap
	for _, invCap := range caps {
		if invCap.Caller != c {
			continue
		}
		faultNum := ^uint32(0) // above 1: an ordinary call site, not a fault handler
		if invCap.FaultHandlerKind != 0 {
			faultNum = uint32(invCap.FaultHandlerKind)
		}
		out = append(out, Cap{
			CapOff:   uint32(invCap.RelOffset),
			DestID:   uint32(invCap.Callee.SpdID),
			FaultNum: faultNum,
			Sfn:      1, // defined: this slot is resolved, never undefined
			Cstub:    hashStubName(invCap.ClientStub),
			Sstub:    hashStubName(invCap.ServerStub),
		})
	}
	return out
}

// hashStubName maps a stub symbol name to the small integer identifier the
// cobj format stores in place of a string (the wire format has no room for
// variable-length names in a fixed 24-byte capability descriptor); the
// kernel resolves the integer back to an address via its own symbol table
// at install time, mirroring how dest_id stands in for a component name.
func hashStubName(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}
