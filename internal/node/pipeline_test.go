package node

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/xbee"
)

type discardTransport struct {
	mu      sync.Mutex
	written [][]byte
}

func (t *discardTransport) Write(b []byte) error {
	t.mu.Lock()
	t.written = append(t.written, append([]byte(nil), b...))
	t.mu.Unlock()
	return nil
}

// TestBytesToRegistry feeds raw serial bytes through the frame assembler
// and the dispatcher into the registry.
func TestBytesToRegistry(t *testing.T) {
	const addr uint64 = 0x00112233AABBCCDD

	d := dispatch.New(&discardTransport{}, nil)
	reg := NewRegistry(d, Config{})
	d.SetSink(reg)
	rec := &eventRecorder{}
	reg.AddObserver(rec)

	require.NoError(t, d.Start())
	defer d.Stop()

	wire, err := xbee.Encode(xbee.BuildRxData(addr, 0x0001, xbee.AppDeviceStatus, 1, xbee.DeviceStatusBody(xbee.StatusOK)))
	require.NoError(t, err)

	// Noise before the frame, then the frame in two chunks.
	stream := append([]byte{0x00, 0x13}, wire...)
	asm := xbee.NewAssembler()
	onErr := func(err error) { t.Errorf("unexpected frame error: %v", err) }
	asm.Feed(stream[:5], d.ReceiveFrame, onErr)
	asm.Feed(stream[5:], d.ReceiveFrame, onErr)

	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)

	snap, err := reg.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, LivenessActive, snap.Liveness)
	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
}
