package sdo

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

// recordingBus is a minimal can.Bus stand-in that records every sent
// frame and lets a test deliver request frames directly to the server
// under test via its registered Subscribe handler.
type recordingBus struct {
	mu      sync.Mutex
	sent    []can.Frame
	handler can.FrameListener
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error    { return nil }

func (b *recordingBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, frame)
	return nil
}

func (b *recordingBus) Subscribe(handler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *recordingBus) frames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

func newTestServer(t *testing.T, nodeID uint8, dict *od.Dictionary) (*Server, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	srv, err := New(Config{SDONumber: 1, NodeID: nodeID, Bus: bus, Dictionary: dict})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(cancel)
	return srv, bus
}

func waitForFrame(t *testing.T, bus *recordingBus, n int) []can.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := bus.frames(); len(frames) >= n {
			return frames
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d response frame(s), got %d", n, len(bus.frames()))
	return nil
}

func TestExpeditedUploadOfIdentityProductCode(t *testing.T) {
	dict := od.New(nil)
	members := []od.ArrayMember{
		{DataType: od.Unsigned8, Bits: 8, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 1, Initial: []byte{4}},
		{DataType: od.Unsigned32, Bits: 32, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 4, Initial: []byte{0xEF, 0xBE, 0xAD, 0xDE}},
	}
	_, err := dict.AddArray(0x1018, "identity", members)
	require.NoError(t, err)

	_, bus := newTestServer(t, 127, dict)

	request := can.Frame{ID: 0x67F, DLC: 8, Data: [8]byte{0x40, 0x18, 0x10, 0x02, 0, 0, 0, 0}}
	bus.handler.Handle(request)

	frames := waitForFrame(t, bus, 1)
	assert.EqualValues(t, 0x5FF, frames[0].ID)
	assert.EqualValues(t, [8]byte{0x43, 0x18, 0x10, 0x02, 0xEF, 0xBE, 0xAD, 0xDE}, frames[0].Data)
}

func TestUploadOfNonExistentObjectAborts(t *testing.T) {
	dict := od.New(nil)
	_, bus := newTestServer(t, 127, dict)

	request := can.Frame{ID: 0x67F, DLC: 8, Data: [8]byte{0x40, 0x04, 0x10, 0x00, 0, 0, 0, 0}}
	bus.handler.Handle(request)

	frames := waitForFrame(t, bus, 1)
	assert.EqualValues(t, 0x5FF, frames[0].ID)
	assert.EqualValues(t, [8]byte{0x80, 0x04, 0x10, 0x00, 0x00, 0x00, 0x02, 0x06}, frames[0].Data)
}

func TestExpeditedDownloadThenRead(t *testing.T) {
	dict := od.New(nil)
	_, err := dict.AddVariable(0x2100, "scratch", od.Unsigned32, 32, od.NewAttribute(od.AccessRW, od.PDONone, false), 4, []byte{0, 0, 0, 0})
	require.NoError(t, err)

	_, bus := newTestServer(t, 5, dict)

	// Expedited download, 4 bytes indicated (n=0), value 0x11223344 LE.
	request := can.Frame{ID: 0x605, DLC: 8, Data: [8]byte{0x23, 0x00, 0x21, 0x00, 0x44, 0x33, 0x22, 0x11}}
	bus.handler.Handle(request)

	frames := waitForFrame(t, bus, 1)
	assert.EqualValues(t, 0x585, frames[0].ID)
	assert.EqualValues(t, uint8(0x60), frames[0].Data[0])

	value, _, err := dict.ReadUint32(0x2100, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x11223344, value)
}

func TestConstructorRejectsOutOfRangeSDONumber(t *testing.T) {
	dict := od.New(nil)
	bus := &recordingBus{}
	_, err := New(Config{SDONumber: 0, NodeID: 1, Bus: bus, Dictionary: dict})
	assert.Error(t, err)
	_, err = New(Config{SDONumber: 129, NodeID: 1, Bus: bus, Dictionary: dict})
	assert.Error(t, err)
}
