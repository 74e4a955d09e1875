package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/serialport"
)

// DefaultHealthInterval is how often health is published.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the coordinator.
type HealthStatus string

const (
	// HealthHealthy indicates everything is connected and running.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the coordinator runs with a link down.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the dispatcher is not running.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the coordinator is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the coordinator is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: nodelink/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Coordinator is the local radio's 64-bit address, when known.
	Coordinator string `json:"coordinator,omitempty"`

	Serial     *SerialHealth     `json:"serial,omitempty"`
	Dispatcher *DispatcherHealth `json:"dispatcher,omitempty"`

	Devices            int `json:"devices"`
	InvestigationQueue int `json:"investigation_queue"`

	// Reason explains a non-healthy status.
	Reason string `json:"reason,omitempty"`
}

// SerialHealth describes the serial link.
type SerialHealth struct {
	Status       string     `json:"status"`
	Device       string     `json:"device"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	BytesRx      uint64     `json:"bytes_rx"`
	BytesTx      uint64     `json:"bytes_tx"`
	FramesRx     uint64     `json:"frames_rx"`
	FrameErrors  uint64     `json:"frame_errors"`
	Reconnects   uint64     `json:"reconnects"`
}

// DispatcherHealth describes the dispatcher.
type DispatcherHealth struct {
	State            string `json:"state"`
	Received         uint64 `json:"received"`
	Sent             uint64 `json:"sent"`
	Matched          uint64 `json:"matched"`
	Timeouts         uint64 `json:"timeouts"`
	PendingExchanges int    `json:"pending_exchanges"`
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SerialLink reports serial port state. *serialport.Client satisfies it.
type SerialLink interface {
	IsConnected() bool
	Stats() serialport.Stats
}

// DispatcherMonitor reports dispatcher state. *dispatch.Dispatcher satisfies it.
type DispatcherMonitor interface {
	State() dispatch.State
	Stats() dispatch.Stats
}

// DeviceCounter reports registry size. *node.Registry satisfies it.
type DeviceCounter interface {
	Count() int
	QueueLength() int
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version  string
	Interval time.Duration

	// Device is the serial port name reported in health messages.
	Device string

	Publisher  HealthPublisher
	Serial     SerialLink
	Dispatcher DispatcherMonitor
	Devices    DeviceCounter

	// Metrics, when set, receives link counters on every report.
	Metrics Metrics
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	topic     string

	coordMu     sync.RWMutex
	coordinator uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		topic:     mqtt.Topics{}.Health(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// SetCoordinator records the local radio's address once it is known.
func (h *HealthReporter) SetCoordinator(addr uint64) {
	h.coordMu.Lock()
	h.coordinator = addr
	h.coordMu.Unlock()
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "coordinator starting")
}

// Current returns the message PublishNow would send.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthReporter) tick() {
	if err := h.PublishNow(); err != nil {
		h.getLogger().Warn("failed to publish health", "error", err)
	}
	h.writeLinkStats()
}

// determineStatus evaluates the current coordinator status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Dispatcher != nil && h.cfg.Dispatcher.State() != dispatch.StateRunning {
		return HealthUnhealthy, "dispatcher " + h.cfg.Dispatcher.State().String()
	}
	if h.cfg.Serial == nil || !h.cfg.Serial.IsConnected() {
		return HealthDegraded, "serial port disconnected"
	}
	if h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message from the monitored components.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	h.coordMu.RLock()
	if h.coordinator != 0 {
		msg.Coordinator = FormatDeviceID(h.coordinator)
	}
	h.coordMu.RUnlock()

	if h.cfg.Serial != nil {
		stats := h.cfg.Serial.Stats()
		msg.Serial = &SerialHealth{
			Status:      "disconnected",
			Device:      h.cfg.Device,
			BytesRx:     stats.BytesRx,
			BytesTx:     stats.BytesTx,
			FramesRx:    stats.FramesRx,
			FrameErrors: stats.FrameErrors,
			Reconnects:  stats.Reconnects,
		}
		switch {
		case stats.Connected:
			msg.Serial.Status = "connected"
		case stats.Reconnecting:
			msg.Serial.Status = "reconnecting"
		}
		if !stats.LastActivity.IsZero() && stats.LastActivity.Unix() > 0 {
			last := stats.LastActivity.UTC()
			msg.Serial.LastActivity = &last
		}
	}

	if h.cfg.Dispatcher != nil {
		stats := h.cfg.Dispatcher.Stats()
		msg.Dispatcher = &DispatcherHealth{
			State:            h.cfg.Dispatcher.State().String(),
			Received:         stats.Received,
			Sent:             stats.Sent,
			Matched:          stats.Matched,
			Timeouts:         stats.Timeouts,
			PendingExchanges: stats.PendingExchanges,
		}
	}

	if h.cfg.Devices != nil {
		msg.Devices = h.cfg.Devices.Count()
		msg.InvestigationQueue = h.cfg.Devices.QueueLength()
	}
	return msg
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.topic, payload, 1, true)
}

// writeLinkStats forwards serial and dispatcher counters to Metrics.
func (h *HealthReporter) writeLinkStats() {
	if h.cfg.Metrics == nil {
		return
	}
	if h.cfg.Serial != nil {
		s := h.cfg.Serial.Stats()
		h.cfg.Metrics.WriteLinkStats("serial", map[string]any{
			"bytes_rx":     s.BytesRx,
			"bytes_tx":     s.BytesTx,
			"frames_rx":    s.FramesRx,
			"frame_errors": s.FrameErrors,
			"write_errors": s.WriteErrors,
			"reconnects":   s.Reconnects,
		})
	}
	if h.cfg.Dispatcher != nil {
		s := h.cfg.Dispatcher.Stats()
		h.cfg.Metrics.WriteLinkStats("dispatcher", map[string]any{
			"received":     s.Received,
			"sent":         s.Sent,
			"written":      s.Written,
			"write_errors": s.WriteErrors,
			"matched":      s.Matched,
			"timeouts":     s.Timeouts,
		})
	}
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
