// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// varstored is the process entry point for the UEFI variable service
// backend (spec.md §1). It loads a YAML config, constructs an Engine, and
// services a hypervisor's I/O ring until interrupted. Grounded on
// cmd/smartctl's flag-based main and pre-flight capability check.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tescande/varstored/config"
	"github.com/tescande/varstored/engine"
	"github.com/tescande/varstored/transport"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/varstored/config.yaml", "path to engine config YAML")
		bus        = flag.Uint("bus", 0, "PCI bus number for the synthetic function")
		device     = flag.Uint("device", 3, "PCI device number for the synthetic function")
		function   = flag.Uint("function", 0, "PCI function number for the synthetic function")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("varstored: %v; falling back to defaults", err)
		cfg = config.Default()
	}

	bdf := transport.BDF{Bus: uint8(*bus), Device: uint8(*device), Function: uint8(*function)}
	hv := transport.NewLinuxHypervisor()

	eng, err := engine.New(cfg, hv, bdf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "varstored: %v\n", err)
		os.Exit(1)
	}

	if err := eng.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "varstored: %v\n", err)
		os.Exit(1)
	}
	log.Printf("varstored: registered PCI function %s, servicing I/O ring", bdf)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case req := <-hv.Requests:
			if _, err := eng.Transport.HandleIO(req); err != nil {
				log.Printf("varstored: I/O request failed: %v", err)
			}
		case <-sigs:
			log.Printf("varstored: shutting down")
			if err := eng.Shutdown(); err != nil {
				log.Printf("varstored: shutdown: %v", err)
			}
			return
		}
	}
}
