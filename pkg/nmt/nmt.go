// Package nmt implements the CANopen Network Management finite-state
// automaton: node lifecycle (CiA 301 figures 48/49), the asynchronous
// boot-up write, and remote/local node control.
package nmt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/henrikbrixandersen/canopen/pkg/od"
)

// ErrInvalidArgument flags a programmer error (bad node ID, nil
// dependency) rather than a protocol-level failure.
type ErrInvalidArgument struct{ Reason string }

func (e *ErrInvalidArgument) Error() string { return "nmt: invalid argument: " + e.Reason }

// ErrEventQueueFull is returned by Enqueue when the bounded event FIFO has
// no space; the caller's event is dropped, the FSA state is unaffected.
var ErrEventQueueFull = fmt.Errorf("nmt: event queue full")

const bootUpFrameID = 0x700
const nodeControlFrameID = 0x000
const defaultQueueSize = 8

// StateCallback is an intrusive list node: ownership stays with whoever
// registers it. Handler is invoked synchronously from the NMT worker on
// every state entry except the internal InternalBootUpWrite sub-state, in
// registration order, and must not block or call
// back into the NMT API (though it may Enqueue an event).
type StateCallback struct {
	Handler func(nmt *NMT, newState State, nodeID uint8)
}

// Config configures a new NMT instance.
type Config struct {
	NodeID     uint8
	Bus        can.Bus
	Dictionary *od.Dictionary
	Logger     *slog.Logger
	QueueSize  int

	// RetryBootUpWrite, if true, posts a ResetNode event RetryDelay after
	// the transport reports a boot-up write failure; the resulting
	// ResetApplication -> ResetCommunication cascade (including their OD
	// resets) ends by re-entering InternalBootUpWrite. The spec leaves this as an implementation choice; the default is no
	// retry, matching the original source's behavior.
	RetryBootUpWrite bool
	RetryDelay       time.Duration
}

// NMT drives the node lifecycle state machine for a single node.
type NMT struct {
	nodeID uint8
	bus    can.Bus
	od     *od.Dictionary
	logger *slog.Logger

	retryBootUpWrite bool
	retryDelay       time.Duration

	events chan Event

	stateMu sync.RWMutex
	state   State

	callbacksMu sync.Mutex
	callbacks   []*StateCallback
}

// New validates cfg and constructs an NMT in its pre-power-on state. The
// worker goroutine is not started until Run is called.
func New(cfg Config) (*NMT, error) {
	if cfg.NodeID < 1 || cfg.NodeID > 127 {
		return nil, &ErrInvalidArgument{Reason: fmt.Sprintf("node_id %d out of range 1..127", cfg.NodeID)}
	}
	if cfg.Bus == nil {
		return nil, &ErrInvalidArgument{Reason: "bus is nil"}
	}
	if cfg.Dictionary == nil {
		return nil, &ErrInvalidArgument{Reason: "dictionary is nil"}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &NMT{
		nodeID:           cfg.NodeID,
		bus:              cfg.Bus,
		od:               cfg.Dictionary,
		logger:           logger.With("component", "nmt", "node_id", cfg.NodeID),
		retryBootUpWrite: cfg.RetryBootUpWrite,
		retryDelay:       cfg.RetryDelay,
		events:           make(chan Event, queueSize),
	}
	if err := cfg.Bus.Subscribe(n); err != nil {
		return nil, fmt.Errorf("nmt: subscribe to bus: %w", err)
	}
	return n, nil
}

// NodeID returns the configured node ID.
func (n *NMT) NodeID() uint8 { return n.nodeID }

// State returns the current FSA state. Safe for concurrent use.
func (n *NMT) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

// Enqueue submits a local event non-blockingly. Returns ErrEventQueueFull
// if the bounded FIFO has no space; the FSA state is unaffected.
func (n *NMT) Enqueue(event Event) error {
	select {
	case n.events <- event:
		return nil
	default:
		n.logger.Warn("event queue full, dropping event", "event", event)
		return ErrEventQueueFull
	}
}

// Enable posts PowerOn, initiating the boot-up sequence. It is the public
// entry point equivalent to the façade's canopen_enable for this
// component alone.
func (n *NMT) Enable() error { return n.Enqueue(EventPowerOn) }

// Start/Stop/ResetNode/ResetCommunication/EnterPreOperational are the
// local-API equivalents of the like-named CiA 301 events.
func (n *NMT) Start() error               { return n.Enqueue(EventStart) }
func (n *NMT) Stop() error                { return n.Enqueue(EventStop) }
func (n *NMT) ResetNode() error           { return n.Enqueue(EventResetNode) }
func (n *NMT) ResetCommunication() error  { return n.Enqueue(EventResetCommunication) }
func (n *NMT) EnterPreOperational() error { return n.Enqueue(EventEnterPreOperational) }

// AddStateChangeCallback registers cb, collapsing a duplicate
// registration (same pointer) to a single entry at the end of the list
// (remove-then-append).
func (n *NMT) AddStateChangeCallback(cb *StateCallback) {
	n.callbacksMu.Lock()
	defer n.callbacksMu.Unlock()
	n.removeCallbackLocked(cb)
	n.callbacks = append(n.callbacks, cb)
}

// RemoveStateChangeCallback unregisters cb, if present.
func (n *NMT) RemoveStateChangeCallback(cb *StateCallback) {
	n.callbacksMu.Lock()
	defer n.callbacksMu.Unlock()
	n.removeCallbackLocked(cb)
}

func (n *NMT) removeCallbackLocked(cb *StateCallback) {
	for i, existing := range n.callbacks {
		if existing == cb {
			n.callbacks = append(n.callbacks[:i], n.callbacks[i+1:]...)
			return
		}
	}
}

func (n *NMT) fireCallbacks(state State) {
	n.callbacksMu.Lock()
	snapshot := append([]*StateCallback(nil), n.callbacks...)
	n.callbacksMu.Unlock()
	for _, cb := range snapshot {
		cb.Handler(n, state, n.nodeID)
	}
}

// Handle implements can.FrameListener: it is the CAN receive path for the
// remote node-control protocol (COB-ID 0x000, DLC 2).
func (n *NMT) Handle(frame can.Frame) {
	if frame.ID != nodeControlFrameID {
		return
	}
	if frame.DLC != 2 {
		return
	}
	cs := frame.Data[0]
	target := frame.Data[1]
	if target != 0 && target != n.nodeID {
		return
	}
	var event Event
	switch cs {
	case csStart:
		event = EventStart
	case csStop:
		event = EventStop
	case csEnterPreOperational:
		event = EventEnterPreOperational
	case csResetNode:
		event = EventResetNode
	case csResetCommunication:
		event = EventResetCommunication
	default:
		return
	}
	_ = n.Enqueue(event)
}

// Run drains the event queue until ctx is canceled. Every event is
// processed to completion before the next is dequeued, the single
// cooperative worker the concurrency model requires.
func (n *NMT) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.events:
			n.step(event)
		}
	}
}

func (n *NMT) setState(state State) {
	n.stateMu.Lock()
	n.state = state
	n.stateMu.Unlock()
	n.fireCallbacks(state)
}

// step applies one event to the FSA. Events outside the transition table
// for the current state are silently ignored, leaving the state
// unchanged — this is not an error condition.
func (n *NMT) step(event Event) {
	current := n.State()
	n.logger.Debug("nmt event", "event", event, "state", current)

	switch event {
	case EventPowerOn:
		if current != Initialisation {
			return // already powered on; self-directed, ignored
		}
		n.cascadeFromInitialising()
		return
	case EventResetNode:
		if current == Initialisation {
			return // not powered on yet; ignored
		}
		n.cascadeFromResetApplication()
		return
	case EventResetCommunication:
		if current == Initialisation {
			return // not powered on yet; ignored
		}
		n.cascadeFromResetCommunication()
		return
	case EventBootUpWriteAck:
		if current == InternalBootUpWrite {
			n.enterPreOperational()
		}
		return
	case EventBootUpWriteError:
		if current != InternalBootUpWrite {
			return
		}
		n.logger.Warn("boot-up write failed")
		if n.retryBootUpWrite {
			time.AfterFunc(n.retryDelay, func() {
				_ = n.Enqueue(EventResetNode)
			})
		}
		return
	}

	switch current {
	case PreOperational:
		switch event {
		case EventStart:
			n.setState(Operational)
		case EventStop:
			n.setState(Stopped)
		}
	case Operational:
		switch event {
		case EventEnterPreOperational:
			n.setState(PreOperational)
		case EventStop:
			n.setState(Stopped)
		}
	case Stopped:
		switch event {
		case EventStart:
			n.setState(Operational)
		case EventEnterPreOperational:
			n.setState(PreOperational)
		}
	default:
		// No-op/self-directed events in any other state, including the
		// Initialisation sub-tree, are silently ignored.
	}
}

// cascadeFromInitialising drives Initialisation -> Initialising ->
// ResetApplication -> ResetCommunication -> InternalBootUpWrite without
// consulting further events, per the Initialisation-tree's automatic
// entry actions.
func (n *NMT) cascadeFromInitialising() {
	n.enterInitialisation()
	n.setState(Initialising)
	n.cascadeFromResetApplication()
}

func (n *NMT) cascadeFromResetApplication() {
	n.enterResetApplication()
	n.cascadeFromResetCommunication()
}

func (n *NMT) cascadeFromResetCommunication() {
	n.enterResetCommunication()
	n.enterInternalBootUpWrite()
}

// enterInitialisation halts the CAN transport if it was previously
// running and fires state callbacks. This implementation does not own
// the bus's connect/disconnect lifecycle (the façade does), so halting
// is a documented no-op here.
func (n *NMT) enterInitialisation() {
	n.setState(Initialisation)
}

func (n *NMT) enterResetApplication() {
	n.setState(ResetApplication)
	n.od.ResetRange(od.ManufacturerAreaStart, od.ManufacturerAreaEnd)
	n.od.FixupRelative(func(obj *od.Object, entry *od.Entry) {
		// Canonical storage of a relative COB-ID is the raw value;
		// resolution to base+node_id happens at the CAN layer.
	})
}

func (n *NMT) enterResetCommunication() {
	n.setState(ResetCommunication)
	n.od.ResetRange(od.CommunicationProfileAreaStart, od.CommunicationProfileAreaEnd)
}

// enterInternalBootUpWrite records the internal sub-state for State()
// without firing state-change callbacks, then sends the boot-up frame.
func (n *NMT) enterInternalBootUpWrite() {
	n.stateMu.Lock()
	n.state = InternalBootUpWrite
	n.stateMu.Unlock()
	frame := can.NewFrame(bootUpFrameID+uint32(n.nodeID), 0, 1)
	err := can.SendAsync(n.bus, frame, func(sendErr error) {
		if sendErr != nil {
			_ = n.Enqueue(EventBootUpWriteError)
			return
		}
		_ = n.Enqueue(EventBootUpWriteAck)
	})
	if err != nil {
		n.logger.Error("boot-up write send failed", "err", err)
	}
}

func (n *NMT) enterPreOperational() {
	n.setState(PreOperational)
}
