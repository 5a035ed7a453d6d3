// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Hypervisor transport abstraction (spec.md §6 "Hypervisor transport").
// Grounded on the teacher's MegasasIoctl/SCSIDevice pattern of a small
// struct owning one open OS resource (here, an mmap'd BAR window) behind
// a handful of methods, rather than free functions operating on globals.

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Hypervisor is the three abstract capabilities spec.md §6 names: PCI
// function registration, BAR-range mapping, and the I/O ring. A transport
// shim is built around an implementation of this interface so the engine
// never depends on a specific hypervisor's API.
type Hypervisor interface {
	MapPCI(bdf BDF) error
	UnmapPCI(bdf BDF) error
	MapIORange(isMMIO bool, lo, hi uint64) ([]byte, error)
	UnmapIORange(region []byte) error
}

// Direction is the access direction of an I/O ring descriptor.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

// IORequest is one hypervisor I/O ring descriptor (spec.md §4.G: "Each
// descriptor carries (is_mmio, address, size, data, direction)").
type IORequest struct {
	IsMMIO    bool
	Address   uint64
	Size      int // access width in bytes: 1, 2, or 4
	Data      uint32
	Direction Direction
}

// LinuxHypervisor is a reference Hypervisor backed by an anonymous mmap
// region standing in for the guest-visible BAR window, and a Go channel
// standing in for the I/O ring descriptor queue (spec.md §5: "one
// in-flight command handled to completion before the next is consumed" —
// an unbuffered channel enforces exactly that).
type LinuxHypervisor struct {
	Requests chan IORequest
}

// NewLinuxHypervisor constructs a LinuxHypervisor with an unbuffered
// request channel.
func NewLinuxHypervisor() *LinuxHypervisor {
	return &LinuxHypervisor{Requests: make(chan IORequest)}
}

// MapPCI is a no-op for the reference implementation: registering the
// synthetic function with a real hypervisor is outside this process's
// reach, and is logged by the caller rather than performed here.
func (h *LinuxHypervisor) MapPCI(bdf BDF) error {
	return nil
}

func (h *LinuxHypervisor) UnmapPCI(bdf BDF) error {
	return nil
}

// MapIORange allocates an anonymous, zero-filled mapping of size (hi-lo)
// bytes via mmap, standing in for the hypervisor establishing a BAR
// window into guest-visible memory.
func (h *LinuxHypervisor) MapIORange(isMMIO bool, lo, hi uint64) ([]byte, error) {
	if hi <= lo {
		return nil, fmt.Errorf("transport: invalid range [%#x, %#x)", lo, hi)
	}
	size := int(hi - lo)
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("transport: mmap BAR range: %w", err)
	}
	return region, nil
}

// UnmapIORange releases a region obtained from MapIORange.
func (h *LinuxHypervisor) UnmapIORange(region []byte) error {
	if region == nil {
		return nil
	}
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("transport: munmap BAR range: %w", err)
	}
	return nil
}
