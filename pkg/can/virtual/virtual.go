// Package virtual implements an in-process CAN bus used to exercise the
// CANopen stack without real hardware. Buses sharing the same channel
// name form a broadcast domain, the way a real CAN segment would.
package virtual

import (
	"log/slog"
	"sync"

	canopen "github.com/henrikbrixandersen/canopen/pkg/can"
)

func init() {
	canopen.RegisterInterface("virtual", NewVirtualCanBus)
}

// broker fans frames out to every bus subscribed on a channel name.
type broker struct {
	mu      sync.Mutex
	members map[*Bus]struct{}
}

var brokers = struct {
	mu sync.Mutex
	m  map[string]*broker
}{m: make(map[string]*broker)}

func brokerFor(channel string) *broker {
	brokers.mu.Lock()
	defer brokers.mu.Unlock()
	b, ok := brokers.m[channel]
	if !ok {
		b = &broker{members: make(map[*Bus]struct{})}
		brokers.m[channel] = b
	}
	return b
}

func (b *broker) join(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[bus] = struct{}{}
}

func (b *broker) leave(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, bus)
}

func (b *broker) broadcast(from *Bus, frame canopen.Frame) {
	b.mu.Lock()
	targets := make([]*Bus, 0, len(b.members))
	for member := range b.members {
		if member == from && !member.receiveOwn {
			continue
		}
		targets = append(targets, member)
	}
	b.mu.Unlock()
	for _, target := range targets {
		target.deliver(frame)
	}
}

// Bus is a channel-backed stand-in for a real CAN controller, used by
// tests and by any in-process simulation of a CANopen network.
type Bus struct {
	logger       *slog.Logger
	mu           sync.Mutex
	channel      string
	broker       *broker
	connected    bool
	receiveOwn   bool
	frameHandler canopen.FrameListener
}

// NewVirtualCanBus constructs a Bus bound to the given logical channel
// name. Multiple buses constructed with the same channel name observe
// each other's traffic once connected.
func NewVirtualCanBus(channel string) (canopen.Bus, error) {
	return &Bus{channel: channel, logger: slog.Default()}, nil
}

func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.broker = brokerFor(b.channel)
	b.broker.join(b)
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.broker.leave(b)
	b.connected = false
	return nil
}

func (b *Bus) Send(frame canopen.Frame) error {
	b.mu.Lock()
	brk := b.broker
	b.mu.Unlock()
	if brk == nil {
		return nil
	}
	brk.broadcast(b, frame)
	return nil
}

// SendAsync implements canopen.AsyncSender; the virtual bus always
// completes synchronously and successfully.
func (b *Bus) SendAsync(frame canopen.Frame, onComplete canopen.CompletionFunc) error {
	err := b.Send(frame)
	if onComplete != nil {
		onComplete(err)
	}
	return err
}

func (b *Bus) Subscribe(handler canopen.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameHandler = handler
	return nil
}

// SetReceiveOwn controls whether this bus observes its own transmissions,
// mirroring a CAN controller's loopback mode.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) deliver(frame canopen.Frame) {
	b.mu.Lock()
	handler := b.frameHandler
	b.mu.Unlock()
	if handler != nil {
		handler.Handle(frame)
	}
}
