package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/serialport"
)

type fakeSerial struct {
	mu    sync.Mutex
	stats serialport.Stats
}

func (f *fakeSerial) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats.Connected
}

func (f *fakeSerial) Stats() serialport.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type fakeDispatcher struct {
	state dispatch.State
	stats dispatch.Stats
}

func (f *fakeDispatcher) State() dispatch.State { return f.state }
func (f *fakeDispatcher) Stats() dispatch.Stats { return f.stats }

func healthyParts() (*MockMQTTClient, *fakeSerial, *fakeDispatcher) {
	return NewMockMQTTClient(),
		&fakeSerial{stats: serialport.Stats{Connected: true, BytesRx: 120, BytesTx: 40, FramesRx: 6, FrameErrors: 1, Reconnects: 2, LastActivity: time.Now()}},
		&fakeDispatcher{state: dispatch.StateRunning, stats: dispatch.Stats{Received: 6, Sent: 3, Written: 3, Matched: 2, Timeouts: 1, PendingExchanges: 1}}
}

func decodeHealth(t *testing.T, client *MockMQTTClient) HealthMessage {
	t.Helper()
	msg, ok := client.Last("nodelink/health")
	require.True(t, ok, "no health message published")
	assert.True(t, msg.Retained)
	assert.Equal(t, byte(1), msg.QoS)

	var hm HealthMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &hm))
	return hm
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		serialUp   bool
		state      dispatch.State
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, true, dispatch.StateRunning, HealthHealthy, ""},
		{"serial down", true, false, dispatch.StateRunning, HealthDegraded, "serial port disconnected"},
		{"mqtt down", false, true, dispatch.StateRunning, HealthDegraded, "MQTT disconnected"},
		{"dispatcher stopped", true, true, dispatch.StateStopped, HealthUnhealthy, "dispatcher stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, serial, disp := healthyParts()
			client.SetConnected(tt.mqttUp)
			serial.stats.Connected = tt.serialUp
			disp.state = tt.state

			h := NewHealthReporter(HealthReporterConfig{Publisher: client, Serial: serial, Dispatcher: disp})
			status, reason := h.determineStatus()
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	client, serial, disp := healthyParts()
	reg := newFakeRegistry(sampleSnapshot(devA), sampleSnapshot(devB))
	reg.queue = 1

	h := NewHealthReporter(HealthReporterConfig{
		Version:    "1.2.0",
		Device:     "/dev/ttyUSB0",
		Publisher:  client,
		Serial:     serial,
		Dispatcher: disp,
		Devices:    reg,
	})
	h.SetCoordinator(0x0013A20040000001)

	require.NoError(t, h.PublishNow())

	hm := decodeHealth(t, client)
	assert.Equal(t, HealthHealthy, hm.Status)
	assert.Equal(t, "1.2.0", hm.Version)
	assert.Equal(t, "0013A20040000001", hm.Coordinator)
	assert.Equal(t, 2, hm.Devices)
	assert.Equal(t, 1, hm.InvestigationQueue)
	assert.Empty(t, hm.Reason)

	require.NotNil(t, hm.Serial)
	assert.Equal(t, "connected", hm.Serial.Status)
	assert.Equal(t, "/dev/ttyUSB0", hm.Serial.Device)
	assert.Equal(t, uint64(120), hm.Serial.BytesRx)
	assert.Equal(t, uint64(1), hm.Serial.FrameErrors)
	assert.NotNil(t, hm.Serial.LastActivity)

	require.NotNil(t, hm.Dispatcher)
	assert.Equal(t, "running", hm.Dispatcher.State)
	assert.Equal(t, uint64(2), hm.Dispatcher.Matched)
	assert.Equal(t, 1, hm.Dispatcher.PendingExchanges)
}

func TestHealthReporter_SerialReconnecting(t *testing.T) {
	client, serial, disp := healthyParts()
	serial.stats = serialport.Stats{Reconnecting: true}

	h := NewHealthReporter(HealthReporterConfig{Publisher: client, Serial: serial, Dispatcher: disp})
	require.NoError(t, h.PublishNow())

	hm := decodeHealth(t, client)
	assert.Equal(t, HealthDegraded, hm.Status)
	assert.Equal(t, "reconnecting", hm.Serial.Status)
	assert.Nil(t, hm.Serial.LastActivity)
	assert.Empty(t, hm.Coordinator)
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	client, serial, disp := healthyParts()
	h := NewHealthReporter(HealthReporterConfig{Publisher: client, Serial: serial, Dispatcher: disp})

	require.NoError(t, h.PublishStarting())
	assert.Equal(t, HealthStarting, decodeHealth(t, client).Status)
}

func TestHealthReporter_StartAndStop(t *testing.T) {
	client, serial, disp := healthyParts()
	metrics := &fakeMetrics{}
	h := NewHealthReporter(HealthReporterConfig{
		Interval:   time.Hour,
		Publisher:  client,
		Serial:     serial,
		Dispatcher: disp,
		Metrics:    metrics,
	})

	h.Start(context.Background())
	require.Eventually(t, func() bool {
		_, ok := client.Last("nodelink/health")
		return ok
	}, time.Second, 2*time.Millisecond, "first report is published immediately")
	assert.Equal(t, HealthHealthy, decodeHealth(t, client).Status)

	require.Eventually(t, func() bool { return len(metrics.snapshot().links) == 2 }, time.Second, 2*time.Millisecond)
	links := metrics.snapshot().links
	assert.Equal(t, uint64(120), links["serial"]["bytes_rx"])
	assert.Equal(t, uint64(1), links["dispatcher"]["timeouts"])

	h.Stop()
	h.Stop()

	assert.Equal(t, HealthStopping, decodeHealth(t, client).Status)

	stopping := 0
	for _, p := range client.GetPublished() {
		var hm HealthMessage
		require.NoError(t, json.Unmarshal(p.Payload, &hm))
		if hm.Status == HealthStopping {
			stopping++
		}
	}
	assert.Equal(t, 1, stopping)
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	_, serial, disp := healthyParts()
	h := NewHealthReporter(HealthReporterConfig{Serial: serial, Dispatcher: disp})
	assert.Equal(t, DefaultHealthInterval, h.cfg.Interval)
	assert.NoError(t, h.PublishNow())

	hm := h.Current()
	assert.Equal(t, HealthHealthy, hm.Status, "MQTT is optional")
	assert.Equal(t, "running", hm.Dispatcher.State)
}
