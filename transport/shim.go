// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// PCI function + MMIO BAR shim (spec.md §4.G). Presents one PCI function
// with a single MMIO BAR; BAR reads/writes are decomposed into 1/2/4-byte
// accesses and routed to the command dispatcher. The shim is otherwise
// unaware of UEFI semantics (spec.md §4.G: "the shim is otherwise unaware
// of UEFI semantics").

package transport

import (
	"encoding/binary"
	"fmt"
	"log"
)

// CommandHandler is satisfied by dispatch.Engine: it consumes a raw
// command buffer and returns the response to write back. The transport
// package depends only on this narrow interface, not on the dispatch
// package itself, to keep "the dispatcher owns the store; the transport
// shim owns the PCI function" (spec.md §9) a one-way dependency.
type CommandHandler interface {
	Dispatch(buf []byte) []byte
}

// Shim presents a synthetic PCI function with one MMIO BAR over a
// Hypervisor, and forwards doorbell writes to a CommandHandler.
//
// spec.md §9's REDESIGN FLAG: the original source's pci_config_write
// overloaded a single `size` parameter as `(size>>16, size&0xffff)` for
// offset and length; ConfigWrite here takes offset and width as separate,
// non-overloaded parameters, and that overload is not reproduced.
type Shim struct {
	BDF      BDF
	Config   *ConfigSpace
	Handler  CommandHandler
	hv       Hypervisor
	barWin   []byte
	barBase  uint64
	barSize  uint32
	doorbell uint32 // offset within the BAR window that triggers dispatch
}

// NewShim constructs a Shim for bdf/identity, wired to hv and handler. The
// BAR is not yet mapped; mapping happens on a guest BAR-configuration
// write, per spec.md §4.G.
func NewShim(bdf BDF, identity Identity, hv Hypervisor, handler CommandHandler) *Shim {
	return &Shim{
		BDF:     bdf,
		Config:  NewConfigSpace(identity),
		Handler: handler,
		hv:      hv,
		barSize: identity.BARSize,
	}
}

// Start registers the PCI function with the hypervisor (spec.md §6
// capability 1).
func (s *Shim) Start() error {
	if err := s.hv.MapPCI(s.BDF); err != nil {
		return fmt.Errorf("transport: map_pci %s: %w", s.BDF, err)
	}
	return nil
}

// Stop unmaps the BAR window (if mapped) and the PCI function.
func (s *Shim) Stop() error {
	if s.barWin != nil {
		if err := s.hv.UnmapIORange(s.barWin); err != nil {
			return err
		}
		s.barWin = nil
	}
	return s.hv.UnmapPCI(s.BDF)
}

// ConfigRead reads one byte of PCI configuration space.
func (s *Shim) ConfigRead(offset uint8) byte {
	return s.Config.ReadByte(offset)
}

// ConfigWrite writes value (truncated to width bytes) at offset in
// configuration space, honoring the writable-bits mask one byte at a
// time. A BAR0 write that establishes a non-zero base address triggers
// (un)mapping of the MMIO window with the hypervisor (spec.md §4.G: "on
// BAR configuration writes, (un)maps the BAR's address range").
func (s *Shim) ConfigWrite(offset uint8, width int, value uint32) error {
	for i := 0; i < width; i++ {
		b := byte(value >> (8 * i))
		o := offset + uint8(i)
		if int(o) >= len(s.Config.bytes) {
			break
		}
		s.Config.WriteByte(o, b)
	}
	if offset == OffsetBAR0 {
		return s.remapBAR()
	}
	return nil
}

func (s *Shim) remapBAR() error {
	if s.barWin != nil {
		if err := s.hv.UnmapIORange(s.barWin); err != nil {
			return err
		}
		s.barWin = nil
	}
	base := s.Config.BAR0()
	if base == 0 || s.barSize == 0 {
		return nil
	}
	lo := uint64(base)
	hi := lo + uint64(s.barSize)
	win, err := s.hv.MapIORange(true, lo, hi)
	if err != nil {
		return fmt.Errorf("transport: remap BAR: %w", err)
	}
	s.barWin = win
	s.barBase = lo
	log.Printf("transport: BAR0 mapped at %#x, size %#x", lo, s.barSize)
	return nil
}

// HandleIO services a single descriptor from the hypervisor I/O ring
// (spec.md §4.G). A write targeting the doorbell offset dispatches the
// command currently staged in the BAR window; every other access reads
// or writes the BAR window directly. Accesses of 1, 2 or 4 bytes are
// served at any alignment as a single access; no access is split into
// narrower ones, and any other width reads as 0 and writes nothing.
func (s *Shim) HandleIO(req IORequest) (uint32, error) {
	if !req.IsMMIO || s.barWin == nil {
		return 0, fmt.Errorf("transport: no BAR mapped for request")
	}
	rel := req.Address - s.barBase
	if rel+uint64(req.Size) > uint64(len(s.barWin)) {
		return 0, fmt.Errorf("transport: access at %#x/%d outside BAR window", req.Address, req.Size)
	}

	switch req.Direction {
	case DirWrite:
		writeWidth(s.barWin[rel:], req.Size, req.Data)
		if uint32(rel) == s.doorbell {
			resp := s.Handler.Dispatch(s.barWin)
			copy(s.barWin, resp)
		}
		return 0, nil
	default:
		return readWidth(s.barWin[rel:], req.Size), nil
	}
}

func readWidth(b []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	default:
		return 0
	}
}

func writeWidth(b []byte, width int, value uint32) {
	switch width {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, value)
	}
}
