package virtual

import (
	"sync"
	"testing"

	can "github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) snapshot() []can.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]can.Frame(nil), r.frames...)
}

func newTestBus(t *testing.T, channel string) *Bus {
	t.Helper()
	raw, err := NewVirtualCanBus(channel)
	require.NoError(t, err)
	bus := raw.(*Bus)
	require.NoError(t, bus.Connect())
	t.Cleanup(func() { _ = bus.Disconnect() })
	return bus
}

func TestSendAndSubscribe(t *testing.T) {
	channel := t.Name()
	sender := newTestBus(t, channel)
	receiver := newTestBus(t, channel)

	rec := &frameRecorder{}
	require.NoError(t, receiver.Subscribe(rec))

	frame := can.Frame{ID: 0x111, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		require.NoError(t, sender.Send(frame))
	}

	frames := rec.snapshot()
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.EqualValues(t, 0x111, f.ID)
		assert.EqualValues(t, uint8(i), f.Data[0])
	}
}

func TestReceiveOwnDefaultsOff(t *testing.T) {
	bus := newTestBus(t, t.Name())
	rec := &frameRecorder{}
	require.NoError(t, bus.Subscribe(rec))

	frame := can.Frame{ID: 0x111, DLC: 1}
	require.NoError(t, bus.Send(frame))
	assert.Empty(t, rec.snapshot())

	bus.SetReceiveOwn(true)
	require.NoError(t, bus.Send(frame))
	assert.Len(t, rec.snapshot(), 1)
}

func TestSendAsyncCompletesSynchronously(t *testing.T) {
	bus := newTestBus(t, t.Name())
	done := make(chan error, 1)
	err := bus.SendAsync(can.Frame{ID: 0x700}, func(sendErr error) {
		done <- sendErr
	})
	require.NoError(t, err)
	select {
	case sendErr := <-done:
		require.NoError(t, sendErr)
	default:
		t.Fatal("completion callback was not invoked synchronously")
	}
}
