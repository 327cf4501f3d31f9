package canopen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/henrikbrixandersen/canopen/pkg/can/virtual"
	"github.com/henrikbrixandersen/canopen/pkg/nmt"
	"github.com/henrikbrixandersen/canopen/pkg/od"
)

// peer records every frame received by a test-only second bus on the same
// virtual channel, which stands in for a remote SDO client / NMT master.
type peer struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (p *peer) Handle(frame can.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

func (p *peer) snapshot() []can.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]can.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

func TestFacadeBootUpAndExpeditedUpload(t *testing.T) {
	channel := "facade-test-" + t.Name()
	nodeBus, err := virtual.NewVirtualCanBus(channel)
	require.NoError(t, err)
	peerBus, err := virtual.NewVirtualCanBus(channel)
	require.NoError(t, err)
	require.NoError(t, peerBus.Connect())

	observer := &peer{}
	require.NoError(t, peerBus.Subscribe(observer))

	dict := od.New(nil)
	_, err = dict.AddVariable(od.IndexDeviceType, "device type", od.Unsigned32, 32, od.NewAttribute(od.AccessRO, od.PDONone, false), 4, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	co := New(nil)
	require.NoError(t, co.Init(dict, nodeBus, 42, []uint8{1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go co.Run(ctx)

	require.NoError(t, co.Enable())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && co.NMT().State() != nmt.PreOperational {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, nmt.PreOperational, co.NMT().State())

	bootUp := observer.snapshot()
	require.Len(t, bootUp, 1)
	assert.EqualValues(t, 0x700+42, bootUp[0].ID)

	request := can.Frame{ID: 0x600 + 42, DLC: 8, Data: [8]byte{0x40, 0x00, 0x10, 0x00, 0, 0, 0, 0}}
	require.NoError(t, peerBus.Send(request))

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(observer.snapshot()) < 2 {
		time.Sleep(time.Millisecond)
	}
	frames := observer.snapshot()
	require.Len(t, frames, 2)
	assert.EqualValues(t, 0x580+42, frames[1].ID)
	assert.EqualValues(t, [8]byte{0x43, 0x00, 0x10, 0x00, 1, 2, 3, 4}, frames[1].Data)
}
