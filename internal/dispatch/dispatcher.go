package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Transport writes complete wire frames to the radio.
type Transport interface {
	Write(frame []byte) error
}

// Sink receives device-originated messages before exchange matching.
// The device registry implements it.
type Sink interface {
	Update(msg xbee.Message)
}

// Mirror copies every sent and received message to a remote log sink.
// Implementations must not block.
type Mirror interface {
	Mirror(msg xbee.Message)
}

// MessageObserver is notified of every message the dispatcher logs, in
// either direction. It is called synchronously and must not block.
type MessageObserver interface {
	OnMessage(msg xbee.Message)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the dispatcher lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Stats holds operational counters.
type Stats struct {
	Received         uint64
	Sent             uint64
	Written          uint64
	WriteErrors      uint64
	Matched          uint64
	Timeouts         uint64
	PendingExchanges int
	InboundDepth     int
	OutboundDepth    int
}

// Dispatcher queues inbound and outbound messages and correlates replies.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Sink, mirror and observer callbacks run on the caller of Receive/Send
//     or on the worker goroutine; panics in them are recovered and logged.
type Dispatcher struct {
	transport Transport
	logger    Logger

	// Queues and lifecycle, guarded by mu
	mu       sync.Mutex
	inbound  []xbee.Message
	outbound []xbee.Outgoing
	state    State
	signal   chan struct{}
	wg       sync.WaitGroup

	// Collaborators
	hookMu    sync.RWMutex
	sink      Sink
	mirror    Mirror
	observers []MessageObserver

	// Pending exchanges, scanned linearly per inbound message
	exMu      sync.Mutex
	exchanges []*pendingExchange

	frameID atomic.Uint32
	seq     atomic.Uint32

	// Statistics
	received    atomic.Uint64
	sent        atomic.Uint64
	written     atomic.Uint64
	writeErrors atomic.Uint64
	matched     atomic.Uint64
	timeouts    atomic.Uint64
}

// New creates a stopped Dispatcher writing to transport.
//
// Parameters:
//   - transport: Destination for outbound frames
//   - logger: Optional logger (nil disables logging)
//
// Returns:
//   - *Dispatcher: Call Start to run the worker
func New(transport Transport, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		transport: transport,
		logger:    logger,
		signal:    make(chan struct{}, 1),
	}
}

// SetSink sets the receiver of device-originated messages.
func (d *Dispatcher) SetSink(s Sink) {
	d.hookMu.Lock()
	d.sink = s
	d.hookMu.Unlock()
}

// SetMirror sets the remote log mirror.
func (d *Dispatcher) SetMirror(m Mirror) {
	d.hookMu.Lock()
	d.mirror = m
	d.hookMu.Unlock()
}

// AddObserver registers a message observer.
func (d *Dispatcher) AddObserver(o MessageObserver) {
	d.hookMu.Lock()
	d.observers = append(d.observers, o)
	d.hookMu.Unlock()
}

// Start launches the worker goroutine. It may be called again after Stop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStopped {
		return ErrAlreadyRunning
	}
	d.state = StateRunning

	d.wg.Add(1)
	go d.run()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop asks the worker to finish its current iteration and waits for it
// to exit. Safe to call when already stopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return
	}
	d.state = StateStopping
	d.mu.Unlock()

	d.wake()
	d.wg.Wait()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()

	d.logger.Info("dispatcher stopped")
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// NextFrameID returns the next frame ID in 1..255. Zero is never returned
// because the radio suppresses replies for frame ID 0.
func (d *Dispatcher) NextFrameID() byte {
	return byte(d.frameID.Add(1)%255) + 1 //nolint:gosec // modulo bounds the value
}

// NextSequence returns the next application sequence number in 1..255.
func (d *Dispatcher) NextSequence() byte {
	return byte(d.seq.Add(1)%255) + 1 //nolint:gosec // modulo bounds the value
}

// Receive accepts a message classified from the wire.
//
// It logs and mirrors the message, notifies observers and queues it for the
// worker. It never blocks on the mirror or the worker.
func (d *Dispatcher) Receive(msg xbee.Message) {
	d.received.Add(1)
	d.logger.Debug("message received", "message", xbee.Describe(msg), "direction", msg.Direction().String())
	d.publish(msg)

	d.mu.Lock()
	d.inbound = append(d.inbound, msg)
	d.mu.Unlock()
	d.wake()
}

// ReceiveFrame classifies a complete frame and passes it to Receive.
func (d *Dispatcher) ReceiveFrame(f xbee.Frame) {
	d.Receive(xbee.Classify(f))
}

// Send finalizes msg (assigning a frame ID if it has none) and queues it
// for writing. Finalizing an already finalized message is a no-op.
func (d *Dispatcher) Send(msg xbee.Outgoing) error {
	if !msg.Finalized() {
		if _, err := msg.Finalize(d.NextFrameID()); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	d.sent.Add(1)
	d.logger.Debug("message queued", "message", xbee.Describe(msg), "frame_id", msg.FrameID())
	d.publish(msg)

	d.mu.Lock()
	d.outbound = append(d.outbound, msg)
	d.mu.Unlock()
	d.wake()
	return nil
}

// SendAndWait sends msg and waits for the first inbound message matching f.
//
// The exchange is registered before msg is queued and unregistered on every
// return path.
//
// Parameters:
//   - ctx: Cancels the wait early (treated like a timeout)
//   - msg: Request to send
//   - timeout: Maximum wait for a match
//   - f: Filter the reply must satisfy
//
// Returns:
//   - bool: true if at least one message matched
//   - []xbee.Message: matches in arrival order
func (d *Dispatcher) SendAndWait(ctx context.Context, msg xbee.Outgoing, timeout time.Duration, f Filter) (bool, []xbee.Message) {
	ex := d.register(f)

	if err := d.Send(msg); err != nil {
		d.unregister(ex)
		d.logger.Warn("send failed", "message", xbee.Describe(msg), "error", err)
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ex.wake:
	case <-timer.C:
	case <-ctx.Done():
	}

	d.unregister(ex)

	matches := ex.collected()
	if len(matches) == 0 {
		d.timeouts.Add(1)
		return false, nil
	}
	return true, matches
}

// Stats returns current counters and queue depths.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	in, out := len(d.inbound), len(d.outbound)
	d.mu.Unlock()

	d.exMu.Lock()
	pending := len(d.exchanges)
	d.exMu.Unlock()

	return Stats{
		Received:         d.received.Load(),
		Sent:             d.sent.Load(),
		Written:          d.written.Load(),
		WriteErrors:      d.writeErrors.Load(),
		Matched:          d.matched.Load(),
		Timeouts:         d.timeouts.Load(),
		PendingExchanges: pending,
		InboundDepth:     in,
		OutboundDepth:    out,
	}
}

// =============================================================================
// Worker
// =============================================================================

func (d *Dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// run is the worker loop. It checks the stopping flag before every block.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		in, out, stopping := d.dequeue()
		if stopping {
			return
		}
		if in == nil && out == nil {
			<-d.signal
			continue
		}
		if in != nil {
			d.handleInbound(in)
		}
		if out != nil {
			d.handleOutbound(out)
		}
	}
}

// dequeue pops at most one message from each queue.
func (d *Dispatcher) dequeue() (xbee.Message, xbee.Outgoing, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopping {
		return nil, nil, true
	}

	var in xbee.Message
	var out xbee.Outgoing
	if len(d.inbound) > 0 {
		in = d.inbound[0]
		d.inbound[0] = nil
		d.inbound = d.inbound[1:]
	}
	if len(d.outbound) > 0 {
		out = d.outbound[0]
		d.outbound[0] = nil
		d.outbound = d.outbound[1:]
	}
	return in, out, false
}

func (d *Dispatcher) handleInbound(msg xbee.Message) {
	switch m := msg.(type) {
	case *xbee.TxStatus:
		if m.Delivery != xbee.DeliverySuccess {
			d.logger.Warn("transmit not delivered", "frame_id", m.FrameID, "delivery", fmt.Sprintf("0x%02X", byte(m.Delivery)), "retries", m.Retries)
		}
	case *xbee.ModemStatus:
		d.logger.Info("modem status", "status", fmt.Sprintf("0x%02X", byte(m.Status)))
	}

	if t := msg.Type(); t == xbee.FrameRxData || t == xbee.FrameNodeIdentification {
		d.hookMu.RLock()
		sink := d.sink
		d.hookMu.RUnlock()
		if sink != nil {
			d.safely("sink", func() { sink.Update(msg) })
		}
	}

	d.exMu.Lock()
	exchanges := make([]*pendingExchange, len(d.exchanges))
	copy(exchanges, d.exchanges)
	d.exMu.Unlock()

	for _, ex := range exchanges {
		if ex.offer(msg) {
			d.matched.Add(1)
		}
	}
}

func (d *Dispatcher) handleOutbound(msg xbee.Outgoing) {
	wire, err := msg.Finalize(msg.FrameID())
	if err == nil {
		err = d.transport.Write(wire)
	}
	if err != nil {
		d.writeErrors.Add(1)
		d.logger.Error("write failed", "message", xbee.Describe(msg), "error", err)
		return
	}
	d.written.Add(1)
}

func (d *Dispatcher) register(f Filter) *pendingExchange {
	ex := newPendingExchange(f)
	d.exMu.Lock()
	d.exchanges = append(d.exchanges, ex)
	d.exMu.Unlock()
	return ex
}

func (d *Dispatcher) unregister(ex *pendingExchange) {
	d.exMu.Lock()
	defer d.exMu.Unlock()
	for i, e := range d.exchanges {
		if e == ex {
			d.exchanges = append(d.exchanges[:i], d.exchanges[i+1:]...)
			return
		}
	}
}

// publish mirrors msg and notifies observers.
func (d *Dispatcher) publish(msg xbee.Message) {
	d.hookMu.RLock()
	mirror := d.mirror
	observers := d.observers
	d.hookMu.RUnlock()

	if mirror != nil {
		d.safely("mirror", func() { mirror.Mirror(msg) })
	}
	for _, o := range observers {
		d.safely("observer", func() { o.OnMessage(msg) })
	}
}

// safely runs fn, recovering and logging any panic.
func (d *Dispatcher) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panic recovered", "callback", what, "panic", r)
		}
	}()
	fn()
}
