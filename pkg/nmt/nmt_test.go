package nmt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/henrikbrixandersen/canopen/pkg/od"
)

// fakeBus is a minimal can.Bus + can.AsyncSender stand-in that records
// every sent frame and lets a test control when SendAsync completes.
type fakeBus struct {
	mu        sync.Mutex
	sent      []can.Frame
	hold      bool
	pending   []func(error)
	handler   can.FrameListener
}

func (b *fakeBus) Connect(...any) error { return nil }
func (b *fakeBus) Disconnect() error    { return nil }

func (b *fakeBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, frame)
	return nil
}

func (b *fakeBus) SendAsync(frame can.Frame, onComplete can.CompletionFunc) error {
	b.mu.Lock()
	b.sent = append(b.sent, frame)
	hold := b.hold
	b.mu.Unlock()
	if hold {
		b.mu.Lock()
		b.pending = append(b.pending, onComplete)
		b.mu.Unlock()
		return nil
	}
	onComplete(nil)
	return nil
}

func (b *fakeBus) Subscribe(handler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBus) completeOldest(err error) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	cb := b.pending[0]
	b.pending = b.pending[1:]
	b.mu.Unlock()
	cb(err)
}

func (b *fakeBus) frames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

func newTestNMT(t *testing.T, nodeID uint8, bus *fakeBus) (*NMT, context.CancelFunc, []State) {
	t.Helper()
	dict := od.New(nil)
	n, err := New(Config{NodeID: nodeID, Bus: bus, Dictionary: dict})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []State
	n.AddStateChangeCallback(&StateCallback{Handler: func(_ *NMT, state State, _ uint8) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	t.Cleanup(cancel)

	return n, cancel, seen
}

// waitForState polls (bounded) until n reaches want or the timeout elapses.
func waitForState(t *testing.T, n *NMT, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, currently %s", want, n.State())
}

func TestBootUpSequence(t *testing.T) {
	bus := &fakeBus{}
	n, _, _ := newTestNMT(t, 127, bus)

	require.NoError(t, n.Enable())
	waitForState(t, n, PreOperational)

	frames := bus.frames()
	require.Len(t, frames, 1)
	assert.EqualValues(t, 0x77F, frames[0].ID)
	assert.EqualValues(t, 1, frames[0].DLC)
	assert.EqualValues(t, 0x00, frames[0].Data[0])
}

func TestRemoteBroadcastStart(t *testing.T) {
	bus := &fakeBus{}
	n, _, _ := newTestNMT(t, 5, bus)
	require.NoError(t, n.Enable())
	waitForState(t, n, PreOperational)

	before := len(bus.frames())
	bus.handler.Handle(can.Frame{ID: 0x000, DLC: 2, Data: [8]byte{csStart, 0}})
	waitForState(t, n, Operational)
	assert.Len(t, bus.frames(), before)
}

func TestRemoteNonMatchingNodeIDIgnored(t *testing.T) {
	bus := &fakeBus{}
	n, _, _ := newTestNMT(t, 5, bus)
	require.NoError(t, n.Enable())
	waitForState(t, n, PreOperational)

	bus.handler.Handle(can.Frame{ID: 0x000, DLC: 2, Data: [8]byte{csStart, 9}})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PreOperational, n.State())
}

func TestDelayedBootUpAck(t *testing.T) {
	bus := &fakeBus{hold: true}
	n, _, _ := newTestNMT(t, 3, bus)

	require.NoError(t, n.Enable())
	waitForState(t, n, InternalBootUpWrite)

	require.NoError(t, n.ResetNode())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, InternalBootUpWrite, n.State())

	bus.completeOldest(nil)
	waitForState(t, n, PreOperational)
}

func TestEventsOutsideTableLeaveStateUnchanged(t *testing.T) {
	bus := &fakeBus{}
	n, _, _ := newTestNMT(t, 1, bus)
	require.NoError(t, n.Enable())
	waitForState(t, n, PreOperational)

	require.NoError(t, n.Enqueue(EventBootUpWriteAck))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PreOperational, n.State())
}

func TestConstructorRejectsOutOfRangeNodeID(t *testing.T) {
	dict := od.New(nil)
	bus := &fakeBus{}

	_, err := New(Config{NodeID: 0, Bus: bus, Dictionary: dict})
	assert.Error(t, err)

	_, err = New(Config{NodeID: 128, Bus: bus, Dictionary: dict})
	assert.Error(t, err)
}
