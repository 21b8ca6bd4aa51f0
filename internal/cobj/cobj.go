// Package cobj implements C8, the cobj binary container serializer and
// deserializer (spec §6.2). Field-by-field packing via bytes.Buffer and
// encoding/binary.Write mirrors the teacher's ELF section writers
// (elf_sections.go's dynsym/rela/hash encoding).
package cobj

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NSect is the fixed section count: RO, DATA, BSS (COBJ_NSECT in the
// original format).
const NSect = 3

// Section flags, combinable (spec §6.2).
const (
	SectUninit = 0
	SectRead   = 0x1
	SectWrite  = 0x2
	SectZeros  = 0x8
)

// Symbol kinds (spec §6.2).
const (
	SymbUndef = iota
	SymbCompInfo
	SymbExported
)

const (
	headerSize = 20
	sectSize   = 16
	symbSize   = 8
	capSize    = 24
)

// Header is the fixed 20-byte cobj header.
type Header struct {
	ID, Nsect, Nsymb, Ncap, Size uint32
}

// Sect is one 16-byte section descriptor.
type Sect struct {
	Flags, Offset, Vaddr, Bytes uint32
}

// Symb is one 8-byte symbol descriptor.
type Symb struct {
	Type, Vaddr uint32
}

// Cap is one 24-byte capability descriptor. Sfn == 0 means undefined;
// FaultNum <= 1 indicates a fault handler rather than a normal call site
// (spec §6.2).
type Cap struct {
	CapOff, DestID, FaultNum uint32
	Sfn, Cstub, Sstub        uint32
}

// IsFault reports whether c is a fault-handler capability.
func (c Cap) IsFault() bool { return c.FaultNum <= 1 }

// IsUndef reports whether c is an undefined capability slot.
func (c Cap) IsUndef() bool { return c.Sfn == 0 }

// Object is a fully assembled cobj: header, descriptor tables, and the
// raw section payloads (RO, DATA; BSS is omitted when ZEROS is set).
type Object struct {
	Header   Header
	Sections []Sect
	Symbols  []Symb
	Caps     []Cap
	Payloads [][]byte // parallel to Sections; nil entry for a ZEROS section
}

// New builds an Object from its parts, computing Header.Size and
// Header.Nsect/Nsymb/Ncap from the slice lengths.
func New(id uint32, sections []Sect, symbols []Symb, caps []Cap, payloads [][]byte) (*Object, error) {
	if len(sections) != len(payloads) {
		return nil, fmt.Errorf("cobj: %d sections but %d payloads", len(sections), len(payloads))
	}

	size := uint32(headerSize) + uint32(len(sections))*sectSize + uint32(len(symbols))*symbSize + uint32(len(caps))*capSize
	for i, s := range sections {
		if s.Flags&SectZeros == 0 {
			size += uint32(len(payloads[i]))
		}
	}

	return &Object{
		Header: Header{
			ID:    id,
			Nsect: uint32(len(sections)),
			Nsymb: uint32(len(symbols)),
			Ncap:  uint32(len(caps)),
			Size:  size,
		},
		Sections: sections,
		Symbols:  symbols,
		Caps:     caps,
		Payloads: payloads,
	}, nil
}

// Serialize writes o's byte-exact wire representation: header, section
// descriptors, symbol descriptors, capability descriptors, then payloads in
// section order (spec §6.2 layout), omitting the payload of any section
// flagged ZEROS.
func Serialize(o *Object) ([]byte, error) {
	var buf bytes.Buffer

	if err := write(&buf, o.Header.ID, o.Header.Nsect, o.Header.Nsymb, o.Header.Ncap, o.Header.Size); err != nil {
		return nil, err
	}
	for _, s := range o.Sections {
		if err := write(&buf, s.Flags, s.Offset, s.Vaddr, s.Bytes); err != nil {
			return nil, err
		}
	}
	for _, s := range o.Symbols {
		if err := write(&buf, s.Type, s.Vaddr); err != nil {
			return nil, err
		}
	}
	for _, c := range o.Caps {
		if err := write(&buf, c.CapOff, c.DestID, c.FaultNum, c.Sfn, c.Cstub, c.Sstub); err != nil {
			return nil, err
		}
	}
	for i, s := range o.Sections {
		if s.Flags&SectZeros != 0 {
			continue
		}
		buf.Write(o.Payloads[i])
	}

	return buf.Bytes(), nil
}

func write(buf *bytes.Buffer, fields ...uint32) error {
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize parses the byte-exact wire representation back into an
// Object, the inverse of Serialize.
func Deserialize(data []byte) (*Object, error) {
	r := bytes.NewReader(data)

	var h Header
	if err := readFields(r, &h.ID, &h.Nsect, &h.Nsymb, &h.Ncap, &h.Size); err != nil {
		return nil, fmt.Errorf("cobj: reading header: %w", err)
	}

	sections := make([]Sect, h.Nsect)
	for i := range sections {
		if err := readFields(r, &sections[i].Flags, &sections[i].Offset, &sections[i].Vaddr, &sections[i].Bytes); err != nil {
			return nil, fmt.Errorf("cobj: reading section %d: %w", i, err)
		}
	}

	symbols := make([]Symb, h.Nsymb)
	for i := range symbols {
		if err := readFields(r, &symbols[i].Type, &symbols[i].Vaddr); err != nil {
			return nil, fmt.Errorf("cobj: reading symbol %d: %w", i, err)
		}
	}

	caps := make([]Cap, h.Ncap)
	for i := range caps {
		if err := readFields(r, &caps[i].CapOff, &caps[i].DestID, &caps[i].FaultNum, &caps[i].Sfn, &caps[i].Cstub, &caps[i].Sstub); err != nil {
			return nil, fmt.Errorf("cobj: reading capability %d: %w", i, err)
		}
	}

	payloads := make([][]byte, len(sections))
	for i, s := range sections {
		if s.Flags&SectZeros != 0 {
			continue
		}
		payload := make([]byte, s.Bytes)
		if _, err := r.Read(payload); err != nil {
			return nil, fmt.Errorf("cobj: reading section %d payload: %w", i, err)
		}
		payloads[i] = payload
	}

	return &Object{Header: h, Sections: sections, Symbols: symbols, Caps: caps, Payloads: payloads}, nil
}

func readFields(r *bytes.Reader, fields ...*uint32) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}
