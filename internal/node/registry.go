package node

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Default workflow timings.
const (
	DefaultRoundTimeout    = 2 * time.Second
	DefaultRoundAttempts   = 5
	DefaultRefreshInterval = 2 * time.Minute
	DefaultInvokeTimeout   = 5 * time.Second
)

// Sender is the part of the dispatcher the registry uses.
type Sender interface {
	Send(msg xbee.Outgoing) error
	SendAndWait(ctx context.Context, msg xbee.Outgoing, timeout time.Duration, f dispatch.Filter) (bool, []xbee.Message)
	NextSequence() byte
}

// Logger defines the logging interface used by the Registry.
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

// Config tunes the investigation workflow and liveness refresh.
// Zero fields take the package defaults.
type Config struct {
	RoundTimeout    time.Duration
	RoundAttempts   int
	RefreshInterval time.Duration
	InvokeTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = DefaultRoundTimeout
	}
	if c.RoundAttempts <= 0 {
		c.RoundAttempts = DefaultRoundAttempts
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = DefaultInvokeTimeout
	}
	return c
}

// Registry owns the device map, discovers new devices, keeps liveness
// current and runs investigations.
//
// Thread Safety:
//   - All public methods are thread-safe.
//   - The device map is guarded by one mutex around add/remove/lookup/re-key;
//     it is never held across a blocking wait.
//   - Observers are called synchronously on the detecting goroutine (the
//     dispatcher worker, the investigation worker or the refresh loop).
type Registry struct {
	sender Sender
	cfg    Config
	logger Logger
	now    func() time.Time

	mu              sync.Mutex
	devices         map[uint64]*Device
	nextPlaceholder uint64

	obsMu     sync.RWMutex
	observers []Observer

	// Investigation queue (FIFO, deduplicated)
	qMu    sync.Mutex
	queue  []uint64
	queued map[uint64]struct{}
	signal chan struct{}

	// Lifecycle
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates a registry that sends through sender.
func NewRegistry(sender Sender, cfg Config) *Registry {
	return &Registry{
		sender:  sender,
		cfg:     cfg.withDefaults(),
		logger:  noopLogger{},
		now:     time.Now,
		devices: make(map[uint64]*Device),
		queued:  make(map[uint64]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers an event observer.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Start launches the investigation worker and the liveness refresh loop.
func (r *Registry) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.investigationWorker(ctx)
	go r.refreshLoop(ctx)

	r.logger.Info("registry started",
		"round_timeout", r.cfg.RoundTimeout.String(),
		"round_attempts", r.cfg.RoundAttempts,
		"refresh_interval", r.cfg.RefreshInterval.String(),
	)
	return nil
}

// Stop cancels any in-flight investigation and joins both workers.
func (r *Registry) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.runMu.Unlock()

	r.wg.Wait()
	r.logger.Info("registry stopped")
}

// =============================================================================
// Inbound path
// =============================================================================

// Update applies a device-originated message. It is called by the
// dispatcher worker before exchange matching, so a waiter always observes
// the model already updated.
func (r *Registry) Update(msg xbee.Message) {
	nm, ok := msg.(xbee.NodeMessage)
	if !ok {
		return
	}
	now := r.now()

	dev, created, previous := r.resolve(nm.Address64(), nm.Address16())
	if previous != 0 {
		r.dequeue(previous)
		r.emit(Event{Type: EventDeviceRekeyed, DeviceID: dev.ID(), PreviousID: previous, Time: now})
	}

	before, after := dev.touch(now)
	if created {
		r.logger.Info("device discovered", "device", xbee.FormatAddress64(dev.ID()))
		r.emit(Event{Type: EventDeviceDiscovered, DeviceID: dev.ID(), Liveness: after, Time: now})
	} else if before != after {
		r.emit(Event{Type: EventLivenessChanged, DeviceID: dev.ID(), Liveness: after, Time: now})
	}

	outcome, err := dev.HandleMessage(msg)
	if err != nil {
		r.logger.Warn("ignoring message", "device", xbee.FormatAddress64(dev.ID()), "message", xbee.Describe(msg), "error", err)
	}

	if outcome.Serial != nil && *outcome.Serial != dev.ID() {
		if survivor, rerr := r.rekey(dev, *outcome.Serial); rerr != nil {
			r.logger.Warn("rekey failed", "device", xbee.FormatAddress64(dev.ID()), "error", rerr)
		} else {
			dev = survivor
		}
	}

	if outcome.NameChanged {
		r.emit(Event{Type: EventCatalogUpdated, DeviceID: dev.ID(), Name: dev.Name(), Liveness: after, Time: now})
	} else if outcome.CatalogChanged {
		r.emit(Event{Type: EventCatalogUpdated, DeviceID: dev.ID(), Liveness: after, Time: now})
	}
	if outcome.Result != nil {
		r.emit(Event{Type: EventFunctionResult, DeviceID: dev.ID(), Result: outcome.Result, Time: now})
	}
	if outcome.HardwareReset {
		r.logger.Info("device reported hardware reset", "device", xbee.FormatAddress64(dev.ID()))
	}

	if dev.needsInvestigation() {
		r.enqueue(dev.ID())
	}
}

// resolve finds or creates the device for a message's addresses.
//
// A known 64-bit address is looked up directly. If it is not registered but
// a placeholder device holds the same network address, that placeholder is
// re-keyed and its old identity returned as previous. An unknown 64-bit
// address is resolved by network address against every device, creating a
// placeholder device only if none matches.
func (r *Registry) resolve(addr64 uint64, addr16 uint16) (dev *Device, created bool, previous uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	known := addr64 != xbee.UnknownAddress64

	if known {
		if d, ok := r.devices[addr64]; ok {
			return d, false, 0
		}
	}

	if addr16 != xbee.UnknownAddress16 {
		if !known {
			if d := r.byAddress16Locked(addr16); d != nil {
				return d, false, 0
			}
		} else {
			for id, d := range r.devices {
				if !IsPlaceholder(id) || d.Address16() != addr16 {
					continue
				}
				delete(r.devices, id)
				d.setID(addr64)
				r.devices[addr64] = d
				return d, false, id
			}
		}
	}

	id := addr64
	if !known {
		id = r.allocPlaceholderLocked()
	}
	d := newDevice(id, addr16)
	r.devices[id] = d
	return d, true, 0
}

// byAddress16Locked returns the device using addr16, preferring one with a
// real serial over a placeholder.
func (r *Registry) byAddress16Locked(addr16 uint16) *Device {
	var placeholder *Device
	for id, d := range r.devices {
		if d.Address16() != addr16 {
			continue
		}
		if !IsPlaceholder(id) {
			return d
		}
		placeholder = d
	}
	return placeholder
}

func (r *Registry) allocPlaceholderLocked() uint64 {
	for {
		id := placeholderBase | r.nextPlaceholder
		r.nextPlaceholder = (r.nextPlaceholder + 1) & ^placeholderMask
		if _, taken := r.devices[id]; !taken {
			return id
		}
	}
}

// =============================================================================
// Map operations
// =============================================================================

// Add registers a device that has not been heard from yet. It fires
// EventDeviceDiscovered.
func (r *Registry) Add(id uint64, address16 uint16) error {
	r.mu.Lock()
	if _, ok := r.devices[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, xbee.FormatAddress64(id))
	}
	r.devices[id] = newDevice(id, address16)
	r.mu.Unlock()

	r.emit(Event{Type: EventDeviceDiscovered, DeviceID: id, Liveness: LivenessUnknown, Time: r.now()})
	return nil
}

// Remove deletes a device and fires EventDeviceRemoved. The node may
// reappear later under the same or a new identity.
func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(id))
	}

	r.dequeue(id)
	r.emit(Event{Type: EventDeviceRemoved, DeviceID: id, Name: dev.Name(), Time: r.now()})
	return nil
}

// Get returns a snapshot of one device.
func (r *Registry) Get(id uint64) (Snapshot, error) {
	dev := r.lookup(id)
	if dev == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(id))
	}
	return dev.Snapshot(r.now()), nil
}

// List returns snapshots of all devices ordered by identity.
func (r *Registry) List() []Snapshot {
	now := r.now()
	devs := r.all()
	out := make([]Snapshot, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Snapshot(now))
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Rekey moves a device to a new identity.
//
// If newID is already registered, the device at oldID is dropped and the
// existing entry kept. Fires EventDeviceRekeyed.
func (r *Registry) Rekey(oldID, newID uint64) error {
	dev := r.lookup(oldID)
	if dev == nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(oldID))
	}
	_, err := r.rekey(dev, newID)
	return err
}

func (r *Registry) rekey(dev *Device, newID uint64) (*Device, error) {
	r.mu.Lock()
	oldID := dev.ID()
	if r.devices[oldID] != dev {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(oldID))
	}
	if oldID == newID {
		r.mu.Unlock()
		return dev, nil
	}

	delete(r.devices, oldID)
	survivor, exists := r.devices[newID]
	if !exists {
		dev.setID(newID)
		r.devices[newID] = dev
		survivor = dev
	}
	r.mu.Unlock()

	r.dequeue(oldID)
	r.logger.Info("device rekeyed",
		"previous", xbee.FormatAddress64(oldID),
		"device", xbee.FormatAddress64(newID),
		"merged", exists,
	)
	r.emit(Event{Type: EventDeviceRekeyed, DeviceID: newID, PreviousID: oldID, Name: survivor.Name(), Time: r.now()})
	return survivor, nil
}

// Snapshot returns every device for persistence.
func (r *Registry) Snapshot() []Snapshot {
	return r.List()
}

// Load populates the registry from persisted snapshots. Entries with
// placeholder identities and identities already registered are skipped.
// Fires EventDeviceDiscovered for each loaded device.
func (r *Registry) Load(snaps []Snapshot) int {
	var loaded []*Device

	r.mu.Lock()
	for _, s := range snaps {
		if IsPlaceholder(s.ID) {
			continue
		}
		if _, ok := r.devices[s.ID]; ok {
			continue
		}
		d := deviceFromSnapshot(s)
		r.devices[s.ID] = d
		loaded = append(loaded, d)
	}
	r.mu.Unlock()

	now := r.now()
	for _, d := range loaded {
		r.emit(Event{Type: EventDeviceDiscovered, DeviceID: d.ID(), Name: d.Name(), Liveness: d.Liveness(now), Time: now})
		if d.needsInvestigation() {
			r.enqueue(d.ID())
		}
	}
	return len(loaded)
}

func (r *Registry) lookup(id uint64) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[id]
}

func (r *Registry) all() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// Events
// =============================================================================

func (r *Registry) emit(e Event) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()

	for _, o := range observers {
		r.notify(o, e)
	}
}

func (r *Registry) notify(o Observer, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observer panic recovered", "event", string(e.Type), "panic", rec)
		}
	}()
	o.OnEvent(e)
}

// =============================================================================
// Liveness refresh
// =============================================================================

// refreshLoop probes every device each interval without waiting for replies,
// then recomputes liveness.
func (r *Registry) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh()
		}
	}
}

// Refresh sends a liveness probe to every device and fires
// EventLivenessChanged for each transition. It never blocks on replies.
func (r *Registry) Refresh() {
	now := r.now()
	for _, dev := range r.all() {
		dest64, dest16 := dev.destination()
		if err := r.sender.Send(xbee.NewStatusRequest(dest64, dest16, r.sender.NextSequence())); err != nil {
			r.logger.Warn("liveness probe failed", "device", xbee.FormatAddress64(dev.ID()), "error", err)
		}
		if _, after, changed := dev.refreshLiveness(now); changed {
			r.emit(Event{Type: EventLivenessChanged, DeviceID: dev.ID(), Liveness: after, Time: now})
		}
	}
}
