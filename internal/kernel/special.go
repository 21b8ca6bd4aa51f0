package kernel

import (
	"encoding/binary"
	"os"

	"github.com/xyproto/cosloader/internal/cobj"
	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// initStrSize is the fixed width of a config-component init string entry
// (INIT_STR_SZ in the original loader's component_init_str struct).
const initStrSize = 52

// installSpecialPayloads writes the path-substring-recognized components'
// extra payloads just past their heap (spec §4.9 step 5). The initial thread
// (step 6) is created afterwards by InstallAll.
func installSpecialPayloads(reg *registry.Registry, reader *objectfile.Reader, img Image, layout compInfoLayout) error {
	for _, c := range reg.All() {
		switch c.Special {
		case registry.SpecialMPDManager:
			if err := writeAt(img, c.HeapTop, mpdManagerGraph(reg)); err != nil {
				return diag.Wrap(diag.KindKernel, c.Name, "", err)
			}
		case registry.SpecialInitFile:
			payload, err := os.ReadFile(c.InitStr)
			if err != nil {
				return diag.Wrap(diag.KindIo, c.Name, "", err)
			}
			if err := writeAt(img, c.HeapTop, payload); err != nil {
				return diag.Wrap(diag.KindKernel, c.Name, "", err)
			}
		case registry.SpecialConfig:
			table, err := configStrideTable(reg)
			if err != nil {
				return err
			}
			if err := writeAt(img, c.HeapTop, table); err != nil {
				return diag.Wrap(diag.KindKernel, c.Name, "", err)
			}
		case registry.SpecialBoot:
			if err := installBootPayload(reg, reader, c, img, layout); err != nil {
				return err
			}
		}
	}
	return nil
}

// installBootPayload concatenates every boot-packaged component's
// serialized cobj and writes it just past the boot component's heap, then
// records the base address and count in the boot component's
// cos_comp_info.cos_poly[0..1] (spec §4.9 step 5, SPEC_FULL scenario 5).
func installBootPayload(reg *registry.Registry, reader *objectfile.Reader, boot *registry.Component, img Image, layout compInfoLayout) error {
	var concatenated []byte
	count := 0
	for _, c := range reg.All() {
		if !c.IsBootPackaged {
			continue
		}
		o, ok := c.Cobj.(*cobj.Object)
		if !ok || o == nil {
			return diag.New(diag.KindFormat, c.Name, "", "boot-packaged component has no serialized cobj")
		}
		bytes, err := cobj.Serialize(o)
		if err != nil {
			return diag.Wrap(diag.KindFormat, c.Name, "", err)
		}
		concatenated = append(concatenated, bytes...)
		count++
	}

	if err := writeAt(img, boot.HeapTop, concatenated); err != nil {
		return diag.Wrap(diag.KindKernel, boot.Name, "", err)
	}

	compInfoAddr, err := reader.Lookup(boot.ObjPath, "cos_comp_info")
	if err != nil {
		return err
	}
	if err := img.WriteUint32(compInfoAddr+layout.cosPolyBaseOff, boot.HeapTop); err != nil {
		return diag.Wrap(diag.KindKernel, boot.Name, "", err)
	}
	if err := img.WriteUint32(compInfoAddr+layout.cosPolyCountOff, uint32(count)); err != nil {
		return diag.Wrap(diag.KindKernel, boot.Name, "", err)
	}
	return nil
}

// mpdManagerGraph serializes every caller/callee id pair as
// {caller_id, callee_id}, terminated by a zero pair (spec §4.9).
func mpdManagerGraph(reg *registry.Registry) []byte {
	var buf []byte
	for _, c := range reg.All() {
		for _, d := range c.Dependencies {
			pair := make([]byte, 8)
			binary.LittleEndian.PutUint32(pair[0:4], uint32(c.SpdID))
			binary.LittleEndian.PutUint32(pair[4:8], uint32(d.Target.SpdID))
			buf = append(buf, pair...)
		}
	}
	buf = append(buf, make([]byte, 8)...) // zero pair terminator
	return buf
}

// configStrideTable serializes every host-installed component as
// {spdid, schedid, startup, init_str[52]}, terminated by a zero spdid
// (spec §4.9), matching format_config_info in the original loader
// (cos_loader.c:2218): a lone space is normalized to the empty string, and
// an init_str that would not fit in the fixed 52-byte field is a hard
// error rather than a silent truncation.
func configStrideTable(reg *registry.Registry) ([]byte, error) {
	const strideSize = 4 + 4 + 4 + initStrSize
	var buf []byte
	for _, c := range reg.All() {
		if c.IsBootPackaged {
			continue
		}
		initStr := c.InitStr
		if initStr == " " {
			initStr = ""
		}
		if len(initStr) >= initStrSize {
			return nil, diag.New(diag.KindOverflow, c.Name, "", "init_str exceeds the 52-byte component_init_str field")
		}

		entry := make([]byte, strideSize)
		binary.LittleEndian.PutUint32(entry[0:4], uint32(c.SpdID))
		if c.Scheduler != nil {
			binary.LittleEndian.PutUint32(entry[4:8], uint32(c.Scheduler.SpdID))
		}
		var startup uint32
		if c.IsRootScheduler {
			startup = 1
		}
		binary.LittleEndian.PutUint32(entry[8:12], startup)
		copy(entry[12:12+initStrSize], initStr)
		buf = append(buf, entry...)
	}
	buf = append(buf, make([]byte, strideSize)...) // zero-spdid terminator
	return buf, nil
}

func writeAt(img Image, base uint32, payload []byte) error {
	for i := 0; i < len(payload); i += 4 {
		var word [4]byte // a trailing partial word is zero-padded
		copy(word[:], payload[i:])
		v := binary.LittleEndian.Uint32(word[:])
		if err := img.WriteUint32(base+uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}
