package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct{ received []Frame }

func (r *recordingListener) Handle(frame Frame) { r.received = append(r.received, frame) }

type stubBus struct {
	subscribed FrameListener
	sent       []Frame
}

func (s *stubBus) Connect(...any) error { return nil }
func (s *stubBus) Disconnect() error    { return nil }
func (s *stubBus) Send(frame Frame) error {
	s.sent = append(s.sent, frame)
	return nil
}
func (s *stubBus) Subscribe(listener FrameListener) error {
	s.subscribed = listener
	return nil
}

func TestFanOutDispatchesToAllListeners(t *testing.T) {
	fanOut := &FanOut{}
	a, b := &recordingListener{}, &recordingListener{}
	fanOut.Add(a)
	fanOut.Add(b)

	frame := NewFrame(0x123, 0, 4)
	fanOut.Handle(frame)

	assert.Equal(t, []Frame{frame}, a.received)
	assert.Equal(t, []Frame{frame}, b.received)
}

func TestSharedBusFansOutSingleSubscription(t *testing.T) {
	bus := &stubBus{}
	shared, err := NewSharedBus(bus)
	require.NoError(t, err)

	a, b := &recordingListener{}, &recordingListener{}
	require.NoError(t, shared.Subscribe(a))
	require.NoError(t, shared.Subscribe(b))

	require.NotNil(t, bus.subscribed)
	bus.subscribed.Handle(NewFrame(0x456, 0, 2))

	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 1)
}

func TestSendAsyncFallsBackToSynchronousSend(t *testing.T) {
	bus := &stubBus{}
	var completed error
	called := false
	err := SendAsync(bus, NewFrame(0x1, 0, 0), func(e error) {
		called = true
		completed = e
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, completed)
	assert.Len(t, bus.sent, 1)
}
