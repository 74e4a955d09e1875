package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/node"
)

// DefaultQueueSize is the number of events buffered before dropping.
const DefaultQueueSize = 256

// MQTTClient is the part of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Registry is the part of node.Registry the bridge uses.
type Registry interface {
	Get(id uint64) (node.Snapshot, error)
	List() []node.Snapshot
	Remove(id uint64) error
	Investigate(id uint64) error
	InvokeFunction(ctx context.Context, id uint64, functionID byte, args []any) (node.FunctionResult, error)
	Count() int
	QueueLength() int
}

// Metrics records time-series points. *influxdb.Client satisfies it.
// It is optional.
type Metrics interface {
	WriteLiveness(deviceID, liveness string, level int)
	WriteInvestigation(deviceID, outcome string, light bool, duration time.Duration)
	WriteFunctionCall(deviceID string, functionID, status uint8, value *float64)
	WriteLinkStats(link string, counters map[string]any)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the dependencies for a Bridge.
type Options struct {
	MQTT     MQTTClient
	Registry Registry

	// Metrics is optional.
	Metrics Metrics

	// Logger is optional.
	Logger Logger

	// QoS for every publish and the command subscription.
	QoS byte

	// QueueSize bounds the event queue. Default 256.
	QueueSize int
}

// Stats holds bridge counters.
type Stats struct {
	EventsQueued  uint64
	EventsDropped uint64
	Published     uint64
	PublishErrors uint64
	Commands      uint64
	CommandErrors uint64
}

// Bridge exposes the registry on MQTT. It publishes every registry event
// and a retained snapshot per device, and serves investigate/invoke/list
// commands.
//
// Thread Safety:
//   - OnEvent never blocks; events beyond the queue are dropped and counted.
//   - Events are published by a single worker in the order they arrived.
//   - Command handlers run on paho goroutines; invoke runs on its own
//     goroutine because it waits for the device.
type Bridge struct {
	mqtt     MQTTClient
	registry Registry
	metrics  Metrics
	logger   Logger
	qos      byte
	topics   mqtt.Topics

	events chan node.Event

	// started is only touched by the worker.
	started map[uint64]time.Time

	runMu   sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	queued        atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	commands      atomic.Uint64
	commandErrors atomic.Uint64
}

// New creates a bridge.
//
// Parameters:
//   - opts: MQTT and Registry are required
//
// Returns:
//   - *Bridge: Ready to Start
//   - error: ErrMissingMQTT or ErrMissingRegistry
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, ErrMissingMQTT
	}
	if opts.Registry == nil {
		return nil, ErrMissingRegistry
	}

	b := &Bridge{
		mqtt:     opts.MQTT,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		qos:      opts.QoS,
		started:  make(map[uint64]time.Time),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	b.events = make(chan node.Event, size)
	return b, nil
}

// Start subscribes to commands and starts the event worker.
func (b *Bridge) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		b.cancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.running = true

	b.wg.Add(1)
	go b.worker(b.ctx)

	b.logger.Info("bridge started", "commands", b.topics.AllCommands())
	return nil
}

// Stop cancels in-flight commands and stops the worker. Queued events are
// discarded.
func (b *Bridge) Stop() {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	b.runMu.Unlock()

	b.wg.Wait()
	b.logger.Info("bridge stopped", "pending_events", len(b.events))
}

// track registers one in-flight command goroutine. It returns the run
// context, or false once Stop has begun so Stop's Wait never races an Add.
func (b *Bridge) track() (context.Context, bool) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if !b.running {
		return nil, false
	}
	b.wg.Add(1)
	return b.ctx, true
}

// OnEvent implements node.Observer.
func (b *Bridge) OnEvent(e node.Event) {
	select {
	case b.events <- e:
		b.queued.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "type", string(e.Type), "device", FormatDeviceID(e.DeviceID))
	}
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		EventsQueued:  b.queued.Load(),
		EventsDropped: b.dropped.Load(),
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Commands:      b.commands.Load(),
		CommandErrors: b.commandErrors.Load(),
	}
}

func (b *Bridge) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			b.handleEvent(e)
		}
	}
}

// handleEvent publishes e, refreshes the affected retained state and
// records metrics.
func (b *Bridge) handleEvent(e node.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic recovered", "type", string(e.Type), "panic", r)
		}
	}()

	b.publishJSON(b.topics.Event(string(e.Type)), NewEventMessage(e), false)

	switch e.Type {
	case node.EventDeviceRemoved:
		b.clearState(e.DeviceID)

	case node.EventDeviceRekeyed:
		b.clearState(e.PreviousID)
		if t, ok := b.started[e.PreviousID]; ok {
			delete(b.started, e.PreviousID)
			b.started[e.DeviceID] = t
		}
		b.publishState(e.DeviceID)

	case node.EventDeviceDiscovered, node.EventCatalogUpdated:
		b.publishState(e.DeviceID)

	case node.EventLivenessChanged:
		b.publishState(e.DeviceID)
		if b.metrics != nil {
			b.metrics.WriteLiveness(FormatDeviceID(e.DeviceID), e.Liveness.String(), livenessLevel(e.Liveness))
		}

	case node.EventInvestigationStarted:
		b.started[e.DeviceID] = e.Time
		b.publishState(e.DeviceID)

	case node.EventInvestigationCompleted, node.EventInvestigationAborted:
		outcome := "completed"
		if e.Type == node.EventInvestigationAborted {
			outcome = "aborted"
		}
		var duration time.Duration
		if t, ok := b.started[e.DeviceID]; ok {
			duration = e.Time.Sub(t)
			delete(b.started, e.DeviceID)
		}
		b.publishState(e.DeviceID)
		if b.metrics != nil {
			b.metrics.WriteInvestigation(FormatDeviceID(e.DeviceID), outcome, e.Light, duration)
		}

	case node.EventFunctionResult:
		if b.metrics != nil && e.Result != nil {
			var value *float64
			if v, ok := numericValue(e.Result.Value); ok {
				value = &v
			}
			b.metrics.WriteFunctionCall(FormatDeviceID(e.DeviceID), e.Result.FunctionID, e.Result.Status, value)
		}
	}
}

// publishState publishes the retained snapshot for id. A device that
// vanished between the event and now is skipped.
func (b *Bridge) publishState(id uint64) {
	snap, err := b.registry.Get(id)
	if err != nil {
		b.logger.Debug("no snapshot for event", "device", FormatDeviceID(id), "error", err)
		return
	}
	b.publishJSON(b.topics.DeviceState(FormatDeviceID(id)), NewDeviceState(snap), true)
}

// clearState removes the retained snapshot for id.
func (b *Bridge) clearState(id uint64) {
	b.publish(b.topics.DeviceState(FormatDeviceID(id)), nil, true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.publishErrors.Add(1)
		b.logger.Error("encoding MQTT payload", "topic", topic, "error", err)
		return
	}
	b.publish(topic, payload, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
		return
	}
	b.published.Add(1)
}
