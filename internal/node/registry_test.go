package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

func TestUpdateDiscoversDevice(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)

	reg.Update(statusFrom(0x00112233AABBCCDD, 0x0001, xbee.StatusOK))
	reg.Update(statusFrom(0x00112233AABBCCDD, 0x0001, xbee.StatusOK))

	require.Equal(t, 1, reg.Count())
	snap, err := reg.Get(0x00112233AABBCCDD)
	require.NoError(t, err)
	assert.Equal(t, LivenessActive, snap.Liveness)
	assert.Equal(t, uint16(0x0001), snap.Address16)
	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
	assert.Equal(t, 1, reg.QueueLength(), "new device queued once")
}

func TestUpdateIgnoresLocalFrames(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)

	reg.Update(xbee.Classify(xbee.NewFrame([]byte{byte(xbee.FrameModemStatus), byte(xbee.ModemCoordinatorUp)})))

	assert.Equal(t, 0, reg.Count())
}

func TestUpdatePlaceholderRekeyedBySerial(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)

	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))
	require.Equal(t, 1, reg.Count())
	placeholder := reg.List()[0].ID
	require.True(t, IsPlaceholder(placeholder))

	// Same network address, no serial yet: same device.
	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))
	require.Equal(t, 1, reg.Count())

	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))

	require.Equal(t, 1, reg.Count())
	_, err := reg.Get(testSerial)
	require.NoError(t, err)
	_, err = reg.Get(placeholder)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	var rekeyed *Event
	for _, ev := range rec.all() {
		if ev.Type == EventDeviceRekeyed {
			rekeyed = &ev
		}
	}
	require.NotNil(t, rekeyed)
	assert.Equal(t, testSerial, rekeyed.DeviceID)
	assert.Equal(t, placeholder, rekeyed.PreviousID)
	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
}

func TestUpdateUnknownSerialMatchesRekeyedDevice(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)

	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))
	require.Equal(t, 1, reg.Count())
	require.NoError(t, reg.Rekey(reg.List()[0].ID, testSerial))

	// Heard again without its serial on the same network address.
	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))
	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))

	require.Equal(t, 1, reg.Count())
	assert.Equal(t, testSerial, reg.List()[0].ID)
	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
	assert.Equal(t, 1, rec.count(EventDeviceRekeyed))
	assert.LessOrEqual(t, reg.QueueLength(), 1, "one investigation for the one device")
}

func TestUpdateUnknownSerialPrefersRealIdentity(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)

	require.NoError(t, reg.Add(testSerial, testAddr16))
	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))

	require.Equal(t, 1, reg.Count())
	assert.Equal(t, testSerial, reg.List()[0].ID)
}

func TestRekeyMergesIntoExisting(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)

	require.NoError(t, reg.Add(testSerial, testAddr16))
	reg.Update(statusFrom(xbee.UnknownAddress64, 0x5555, xbee.StatusOK))
	require.Equal(t, 2, reg.Count())

	var placeholder uint64
	for _, s := range reg.List() {
		if IsPlaceholder(s.ID) {
			placeholder = s.ID
		}
	}
	require.NotZero(t, placeholder)

	require.NoError(t, reg.Rekey(placeholder, testSerial))

	assert.Equal(t, 1, reg.Count())
	_, err := reg.Get(testSerial)
	assert.NoError(t, err)
	assert.Equal(t, 1, rec.count(EventDeviceRekeyed))

	assert.ErrorIs(t, reg.Rekey(placeholder, testSerial), ErrDeviceNotFound)
}

func TestAddRemove(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)

	require.NoError(t, reg.Add(testSerial, testAddr16))
	assert.ErrorIs(t, reg.Add(testSerial, testAddr16), ErrDeviceExists)

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.Equal(t, LivenessUnknown, snap.Liveness)

	require.NoError(t, reg.Investigate(testSerial))
	require.Equal(t, 1, reg.QueueLength())

	require.NoError(t, reg.Remove(testSerial))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, reg.QueueLength(), "removed device leaves the queue")
	assert.ErrorIs(t, reg.Remove(testSerial), ErrDeviceNotFound)
	assert.ErrorIs(t, reg.Investigate(testSerial), ErrDeviceNotFound)

	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
	assert.Equal(t, 1, rec.count(EventDeviceRemoved))
}

func TestListOrderedByID(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)
	for _, id := range []uint64{30, 10, 20} {
		require.NoError(t, reg.Add(id, 0))
	}

	var ids []uint64
	for _, s := range reg.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []uint64{10, 20, 30}, ids)
}

func TestLoadSkipsPlaceholdersAndDuplicates(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)
	require.NoError(t, reg.Add(42, 0))

	n := reg.Load([]Snapshot{
		completeSnapshot(),
		{ID: placeholderBase | 1, CatalogCount: -1},
		{ID: 42, CatalogCount: -1},
	})

	assert.Equal(t, 1, n)
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, 2, rec.count(EventDeviceDiscovered))
	assert.Equal(t, 0, reg.QueueLength(), "complete device not queued")

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.True(t, snap.FullCatalog)
	assert.True(t, snap.FullParameters)
	assert.False(t, snap.Investigating)
}

func TestRefreshTransitionsLiveness(t *testing.T) {
	reg, sender, rec := newTestRegistry(nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))

	clock = clock.Add(10 * time.Minute)
	reg.Refresh()

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.Equal(t, LivenessRecent, snap.Liveness)
	assert.Equal(t, 1, rec.count(EventLivenessChanged))

	probes := sender.probes()
	require.Len(t, probes, 1)
	assert.Equal(t, xbee.AppStatusRequest, probes[0].AppCode())
	assert.Equal(t, testSerial, probes[0].Dest64)

	// A reply brings it back.
	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))
	assert.Equal(t, 2, rec.count(EventLivenessChanged))

	// No transition, no event.
	reg.Refresh()
	assert.Equal(t, 2, rec.count(EventLivenessChanged))
}

func TestObserverPanicRecovered(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)
	reg.AddObserver(ObserverFunc(func(Event) { panic("boom") }))

	require.NotPanics(t, func() {
		require.NoError(t, reg.Add(testSerial, 0))
	})
	assert.Equal(t, 1, rec.count(EventDeviceDiscovered))
}

func TestStartTwice(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	assert.ErrorIs(t, reg.Start(context.Background()), ErrAlreadyRunning)
}
