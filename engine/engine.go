// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Engine wiring (spec.md §9: "a single explicit engine object passed by
// reference"). Composes the variable store, command dispatcher,
// persistence adapter and transport shim the same way the teacher
// composes a device out of small owned resources (MegasasIoctl owning an
// ioctl fd, SCSIDevice owning an open device) rather than through
// package-level globals.

package engine

import (
	"fmt"

	"github.com/tescande/varstored/config"
	"github.com/tescande/varstored/dispatch"
	"github.com/tescande/varstored/persist"
	"github.com/tescande/varstored/transport"
	"github.com/tescande/varstored/variable"
)

// Engine owns the whole server side of the UEFI variable service for one
// guest: the in-memory store and its dispatcher, the persistence
// adapter backing it, and the transport shim presenting it to the
// hypervisor.
type Engine struct {
	Dispatcher *dispatch.Engine
	Transport  *transport.Shim
}

// New builds an Engine from cfg, wired to hv. Mirroring
// dispatch.NewEngine's own boot-time snapshot load, New does not start
// the transport shim; call Run for that.
func New(cfg config.Config, hv transport.Hypervisor, bdf transport.BDF) (*Engine, error) {
	store := variable.New(cfg.MaxStorage, cfg.MaxSize)

	adapter, err := buildAdapter(cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("engine: persistence adapter: %w", err)
	}

	disp, err := dispatch.NewEngine(store, adapter)
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	}

	identity := transport.Identity{
		VendorID:  cfg.PCI.VendorID,
		DeviceID:  cfg.PCI.DeviceID,
		ClassCode: cfg.PCI.ClassCode,
		BARSize:   cfg.PCI.BARSize,
	}
	shim := transport.NewShim(bdf, identity, hv, disp)

	return &Engine{Dispatcher: disp, Transport: shim}, nil
}

func buildAdapter(p config.Persistence) (persist.Adapter, error) {
	switch p.Backend {
	case "", "file":
		if p.Path == "" {
			return nil, fmt.Errorf("engine: file persistence requires a path")
		}
		return &persist.FileStore{Path: p.Path}, nil
	case "kv":
		return nil, fmt.Errorf("engine: kv persistence requires a caller-supplied persist.KVStore; construct a persist.KVAdapter directly")
	default:
		return nil, fmt.Errorf("engine: unknown persistence backend %q", p.Backend)
	}
}

// Run registers the transport shim with the hypervisor. Callers service
// the hypervisor's I/O ring themselves (spec.md §5) and call
// e.Transport.HandleIO per descriptor; Run only performs the one-time
// PCI registration spec.md §6 capability 1 describes.
func (e *Engine) Run() error {
	return e.Transport.Start()
}

// Shutdown notifies the dispatcher that boot services have exited (from
// then on variables lacking RUNTIME_ACCESS are hidden and writes of
// volatile variables are rejected) and unmaps the transport shim.
func (e *Engine) Shutdown() error {
	e.Dispatcher.NotifyExitBootServices()
	return e.Transport.Stop()
}
