// Package canopen is the CANopen façade: it aggregates one NMT instance
// and N SDO servers against a single CAN device and Object Dictionary,
// exposing the two entry points the rest of an application needs
// (Init/Enable) without requiring callers to wire the components
// themselves.
package canopen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/henrikbrixandersen/canopen/pkg/nmt"
	"github.com/henrikbrixandersen/canopen/pkg/od"
	"github.com/henrikbrixandersen/canopen/pkg/sdo"
)

// CANopen is one CANopen node: an Object Dictionary, its NMT lifecycle,
// and the SDO servers exposed against it.
type CANopen struct {
	logger     *slog.Logger
	dictionary *od.Dictionary
	nmt        *nmt.NMT
	sdoServers []*sdo.Server
}

// New constructs an empty façade. Init must be called before Enable/Run.
func New(logger *slog.Logger) *CANopen {
	if logger == nil {
		logger = slog.Default()
	}
	return &CANopen{logger: logger}
}

// Init verifies the CAN device is ready, records the Object Dictionary,
// initializes NMT (validating 1 <= node_id <= 127), and initializes one
// SDO server per entry in sdoNumbers (each validated to 1..128).
func (c *CANopen) Init(dictionary *od.Dictionary, bus can.Bus, nodeID uint8, sdoNumbers []uint8) error {
	if bus == nil {
		return fmt.Errorf("canopen: CAN device is nil")
	}
	if dictionary == nil {
		return fmt.Errorf("canopen: object dictionary is nil")
	}
	if err := bus.Connect(); err != nil {
		return fmt.Errorf("canopen: CAN device not ready: %w", err)
	}

	shared, err := can.NewSharedBus(bus)
	if err != nil {
		return fmt.Errorf("canopen: subscribe to CAN device: %w", err)
	}

	c.dictionary = dictionary

	n, err := nmt.New(nmt.Config{
		NodeID:     nodeID,
		Bus:        shared,
		Dictionary: dictionary,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("canopen: init NMT: %w", err)
	}
	c.nmt = n

	if len(sdoNumbers) == 0 {
		sdoNumbers = []uint8{1}
	}
	for _, number := range sdoNumbers {
		server, err := sdo.New(sdo.Config{
			SDONumber:  number,
			NodeID:     nodeID,
			Bus:        shared,
			Dictionary: dictionary,
			Logger:     c.logger,
		})
		if err != nil {
			return fmt.Errorf("canopen: init SDO server %d: %w", number, err)
		}
		c.sdoServers = append(c.sdoServers, server)
	}
	return nil
}

// Enable posts PowerOn to NMT, initiating the boot-up sequence. Run must
// already be draining NMT's event queue (or be started concurrently) for
// this to take effect.
func (c *CANopen) Enable() error {
	if c.nmt == nil {
		return fmt.Errorf("canopen: not initialized")
	}
	return c.nmt.Enable()
}

// NMT returns the node's NMT instance, for registering state callbacks or
// issuing local Start/Stop/Reset calls directly.
func (c *CANopen) NMT() *nmt.NMT { return c.nmt }

// Dictionary returns the node's Object Dictionary.
func (c *CANopen) Dictionary() *od.Dictionary { return c.dictionary }

// Run drives every component's worker (the NMT FSA and each SDO server)
// concurrently until ctx is canceled, one goroutine per component per the
// single-cooperative-worker-per-component concurrency model.
func (c *CANopen) Run(ctx context.Context) {
	go c.nmt.Run(ctx)
	for _, server := range c.sdoServers {
		go server.Run(ctx)
	}
	<-ctx.Done()
}
