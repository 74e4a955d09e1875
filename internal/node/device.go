package node

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Device is the in-memory model of one remote node and its catalog.
//
// Thread Safety:
//   - All methods are safe for concurrent use; fields are guarded by an
//     internal mutex independent of the registry's map lock.
type Device struct {
	mu sync.Mutex

	id        uint64
	address16 uint16
	name      string
	lastSeen  time.Time
	liveness  Liveness

	lowBattery        bool
	fullCatalog       bool
	fullParameters    bool
	investigating     bool
	needsLight        bool
	catalogCount      int // -1 until reported
	catalog           map[byte]*Function
	catalogByPosition map[byte]byte // catalog index → function ID
}

func newDevice(id uint64, address16 uint16) *Device {
	return &Device{
		id:                id,
		address16:         address16,
		catalogCount:      -1,
		catalog:           make(map[byte]*Function),
		catalogByPosition: make(map[byte]byte),
	}
}

// ID returns the device's 64-bit identity.
func (d *Device) ID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Address16 returns the last known 16-bit network address.
func (d *Device) Address16() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address16
}

// Name returns the reported node name.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// LastSeen returns the time of last contact (zero if never).
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// Liveness classifies the device at now.
func (d *Device) Liveness(now time.Time) Liveness {
	d.mu.Lock()
	defer d.mu.Unlock()
	return LivenessAt(d.lastSeen, now)
}

// BeingInvestigated reports whether an investigation is in progress.
func (d *Device) BeingInvestigated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.investigating
}

// HaveFullCatalog reports whether every catalog entry is known.
func (d *Device) HaveFullCatalog() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullCatalog
}

// HaveFullParameters reports whether every parameter of every function is known.
func (d *Device) HaveFullParameters() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullParameters
}

// NeedsLightInvestigation reports whether a hardware reset requested an
// info-only round.
func (d *Device) NeedsLightInvestigation() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.needsLight
}

// Snapshot returns an independent copy of the device state.
func (d *Device) Snapshot(now time.Time) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		ID:             d.id,
		Address16:      d.address16,
		Name:           d.name,
		LastSeen:       d.lastSeen,
		Liveness:       LivenessAt(d.lastSeen, now),
		LowBattery:     d.lowBattery,
		FullCatalog:    d.fullCatalog,
		FullParameters: d.fullParameters,
		Investigating:  d.investigating,
		NeedsLight:     d.needsLight,
		CatalogCount:   d.catalogCount,
		Functions:      make([]Function, 0, len(d.catalog)),
	}
	for _, id := range d.functionIDsLocked() {
		s.Functions = append(s.Functions, d.catalog[id].Clone())
	}
	return s
}

// deviceFromSnapshot rebuilds a device. Transient investigation state is
// not restored.
func deviceFromSnapshot(s Snapshot) *Device {
	d := newDevice(s.ID, s.Address16)
	d.name = s.Name
	d.lastSeen = s.LastSeen
	d.liveness = LivenessUnknown
	d.lowBattery = s.LowBattery
	d.catalogCount = s.CatalogCount
	for i := range s.Functions {
		f := s.Functions[i].Clone()
		d.catalog[f.ID] = &f
	}
	d.recomputeFlagsLocked()
	return d
}

// Function returns a copy of one catalog entry.
func (d *Device) Function(id byte) (Function, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.catalog[id]
	if !ok {
		return Function{}, false
	}
	return f.Clone(), true
}

func (d *Device) functionIDsLocked() []byte {
	ids := make([]byte, 0, len(d.catalog))
	for id := range d.catalog {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// =============================================================================
// Message handling
// =============================================================================

// Outcome summarises what HandleMessage changed, for the registry to act on.
type Outcome struct {
	// Serial is set when the node reported its real 64-bit identity.
	Serial *uint64

	HardwareReset  bool
	CatalogChanged bool
	NameChanged    bool
	Result         *FunctionResult
}

// HandleMessage applies a device-originated message to the model.
//
// A message that references an unknown function or parameter returns an
// error wrapping ErrUnknownFunction or ErrUnknownParameter; the model is left
// unchanged for that message.
func (d *Device) HandleMessage(msg xbee.Message) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out Outcome

	if nm, ok := msg.(xbee.NodeMessage); ok {
		if a := nm.Address16(); a != xbee.UnknownAddress16 {
			d.address16 = a
		}
	}

	switch m := msg.(type) {
	case *xbee.NodeIdentification:
		if m.Identifier != "" && m.Identifier != d.name {
			d.name = m.Identifier
			out.NameChanged = true
		}

	case *xbee.DeviceStatus:
		d.lowBattery = m.Status == xbee.StatusLowBattery
		if m.Status == xbee.StatusHardwareReset {
			d.fullCatalog = false
			d.fullParameters = false
			d.needsLight = true
			out.HardwareReset = true
		}

	case *xbee.InfoResponse:
		if m.Name != d.name {
			d.name = m.Name
			out.NameChanged = true
		}
		serial := m.Serial
		out.Serial = &serial

	case *xbee.CatalogResponse:
		out.CatalogChanged = d.applyCatalogLocked(m)

	case *xbee.ParameterResponse:
		changed, err := d.applyParameterLocked(m)
		if err != nil {
			return out, err
		}
		out.CatalogChanged = changed

	case *xbee.FunctionReceive:
		fn, ok := d.catalog[m.FunctionID]
		if !ok {
			return out, fmt.Errorf("%w: result for function %d", ErrUnknownFunction, m.FunctionID)
		}
		signed := fn.Return != nil && fn.Return.Signed
		value, err := xbee.DecodeValue(m.ReturnType, signed, m.Value)
		if err != nil {
			value = m.Value
		}
		out.Result = &FunctionResult{FunctionID: m.FunctionID, Status: m.Status, ReturnType: m.ReturnType, Value: value}
	}

	return out, nil
}

func (d *Device) applyCatalogLocked(m *xbee.CatalogResponse) bool {
	if m.Entry == nil {
		if d.catalogCount == int(m.Count) {
			return false
		}
		d.catalogCount = int(m.Count)
		d.recomputeFlagsLocked()
		return true
	}

	e := m.Entry
	d.catalogByPosition[m.Index] = e.FunctionID

	if existing, ok := d.catalog[e.FunctionID]; ok &&
		existing.Name == e.Name && existing.ReturnType == e.ReturnType && existing.ParamCount == e.ParamCount {
		return false
	}

	d.catalog[e.FunctionID] = &Function{
		ID:         e.FunctionID,
		Name:       e.Name,
		ReturnType: e.ReturnType,
		ParamCount: e.ParamCount,
		Params:     make(map[byte]Parameter),
	}
	d.recomputeFlagsLocked()
	return true
}

func (d *Device) applyParameterLocked(m *xbee.ParameterResponse) (bool, error) {
	fn, ok := d.catalog[m.FunctionID]
	if !ok {
		return false, fmt.Errorf("%w: parameter %d of function %d", ErrUnknownFunction, m.ParamID, m.FunctionID)
	}

	p := parameterFromDescriptor(m.ParamID, m.Descriptor)
	if m.ParamID == ReturnValueID {
		fn.Return = &p
	} else {
		if m.ParamID > fn.ParamCount {
			return false, fmt.Errorf("%w: %d of function %d declares %d", ErrUnknownParameter, m.ParamID, m.FunctionID, fn.ParamCount)
		}
		fn.Params[m.ParamID] = p
	}

	d.recomputeFlagsLocked()
	return true, nil
}

// recomputeFlagsLocked derives completeness from the retained catalog.
// After a hardware reset the flags stay cleared until the light round ends.
func (d *Device) recomputeFlagsLocked() {
	if d.needsLight {
		return
	}
	d.fullCatalog = d.catalogCount >= 0 && len(d.catalog) >= d.catalogCount
	d.fullParameters = d.fullCatalog
	if d.fullParameters {
		for _, fn := range d.catalog {
			if !fn.Complete() {
				d.fullParameters = false
				break
			}
		}
	}
}

// =============================================================================
// Registry-side state transitions
// =============================================================================

// touch records contact at now and returns the liveness before and after.
func (d *Device) touch(now time.Time) (before, after Liveness) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before = d.liveness
	d.lastSeen = now
	d.liveness = LivenessAt(now, now)
	return before, d.liveness
}

// refreshLiveness recomputes liveness and reports a transition.
func (d *Device) refreshLiveness(now time.Time) (before, after Liveness, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before = d.liveness
	d.liveness = LivenessAt(d.lastSeen, now)
	return before, d.liveness, before != d.liveness
}

// beginInvestigation sets the in-progress flag; false if already set.
func (d *Device) beginInvestigation() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.investigating {
		return false
	}
	d.investigating = true
	return true
}

func (d *Device) endInvestigation() {
	d.mu.Lock()
	d.investigating = false
	d.mu.Unlock()
}

// needsInvestigation reports whether the device should be queued.
func (d *Device) needsInvestigation() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.investigating && (d.needsLight || !d.fullCatalog || !d.fullParameters)
}

// finishLightRound clears the light request and trusts the retained catalog
// again if it is still complete.
func (d *Device) finishLightRound() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.needsLight = false
	d.recomputeFlagsLocked()
}

// destination returns the TX addressing for this device.
func (d *Device) destination() (uint64, uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if IsPlaceholder(d.id) {
		return xbee.UnknownAddress64, d.address16
	}
	return d.id, d.address16
}

// missingPositions returns catalog indexes 1..count not yet fetched.
func (d *Device) missingPositions() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []byte
	for i := 1; i <= d.catalogCount && i <= 0xFF; i++ {
		if _, ok := d.catalogByPosition[byte(i)]; !ok {
			out = append(out, byte(i))
		}
	}
	return out
}

// missingParameters returns, per function in ID order, the parameter IDs
// not yet known.
func (d *Device) missingParameters() []paramRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []paramRef
	for _, fid := range d.functionIDsLocked() {
		for _, pid := range d.catalog[fid].Missing() {
			out = append(out, paramRef{function: fid, param: pid})
		}
	}
	return out
}

type paramRef struct {
	function byte
	param    byte
}

func (d *Device) setID(id uint64) {
	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
}
