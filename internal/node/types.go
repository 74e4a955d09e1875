package node

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Liveness thresholds measured from a device's last contact.
const (
	ActiveWindow = 5 * time.Minute
	RecentWindow = time.Hour
)

// Liveness is the activity classification derived from last-seen time.
type Liveness int

const (
	LivenessUnknown Liveness = iota
	LivenessActive
	LivenessRecent
	LivenessDead
)

// String returns the liveness name.
func (l Liveness) String() string {
	switch l {
	case LivenessActive:
		return "active"
	case LivenessRecent:
		return "recent"
	case LivenessDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Liveness) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Liveness) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*l = LivenessActive
	case "recent":
		*l = LivenessRecent
	case "dead":
		*l = LivenessDead
	case "unknown":
		*l = LivenessUnknown
	default:
		return fmt.Errorf("node: unknown liveness %q", b)
	}
	return nil
}

// LivenessAt classifies lastSeen relative to now. A zero lastSeen means the
// device has never been heard from.
func LivenessAt(lastSeen, now time.Time) Liveness {
	if lastSeen.IsZero() {
		return LivenessUnknown
	}
	age := now.Sub(lastSeen)
	switch {
	case age < ActiveWindow:
		return LivenessActive
	case age < RecentWindow:
		return LivenessRecent
	default:
		return LivenessDead
	}
}

// ReturnValueID is the parameter ID reserved for a function's return value.
// It is never counted in Function.ParamCount.
const ReturnValueID byte = 0

// Parameter describes one function argument (or, with ID 0, the return value).
type Parameter struct {
	ID     byte           `json:"id"`
	Name   string         `json:"name"`
	Type   xbee.ValueType `json:"type"`
	Signed bool           `json:"signed"`

	// Min and Max bound numeric values. For strings, Max is the maximum length.
	Min int32 `json:"min"`
	Max int32 `json:"max"`

	Enum []xbee.EnumValue `json:"enum,omitempty"`
}

func parameterFromDescriptor(id byte, d xbee.ParameterDescriptor) Parameter {
	return Parameter{
		ID:     id,
		Name:   d.Name,
		Type:   d.Type,
		Signed: d.Signed,
		Min:    d.Min,
		Max:    d.Max,
		Enum:   slices.Clone(d.Enum),
	}
}

// EnumValue looks up an enum entry by name.
func (p Parameter) EnumValue(name string) (int32, bool) {
	for _, e := range p.Enum {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// Encode validates v against the parameter and returns the wire argument.
//
// Enum parameters accept either the numeric value or the entry name.
func (p Parameter) Encode(v any) (xbee.Argument, error) {
	if p.Type == xbee.TypeEnum {
		if name, ok := v.(string); ok {
			n, found := p.EnumValue(name)
			if !found {
				return xbee.Argument{}, fmt.Errorf("%w: %q is not a value of %s", ErrOutOfRange, name, p.Name)
			}
			v = n
		}
	}

	if p.Type.IsNumeric() {
		n, err := xbee.ToInt64(p.Type, v)
		if err != nil {
			return xbee.Argument{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if err := p.checkInt(n); err != nil {
			return xbee.Argument{}, err
		}
		v = n
	}

	b, err := xbee.EncodeValue(p.Type, v)
	if err != nil {
		return xbee.Argument{}, fmt.Errorf("parameter %s: %w", p.Name, err)
	}
	if p.Type == xbee.TypeString && p.Max > 0 && len(b) > int(p.Max) {
		return xbee.Argument{}, fmt.Errorf("%w: %s longer than %d", ErrOutOfRange, p.Name, p.Max)
	}
	return xbee.Argument{Type: p.Type, Value: b}, nil
}

// checkInt bounds n before it is narrowed to the wire width.
func (p Parameter) checkInt(n int64) error {
	if lo, hi, _ := xbee.IntRange(p.Type, p.Signed); n < lo || n > hi {
		return fmt.Errorf("%w: %s: %d does not fit %s", ErrOutOfRange, p.Name, n, p.Type)
	}

	if p.Type == xbee.TypeEnum && len(p.Enum) > 0 {
		for _, e := range p.Enum {
			if int64(e.Value) == n {
				return nil
			}
		}
		return fmt.Errorf("%w: %d is not a value of %s", ErrOutOfRange, n, p.Name)
	}

	if p.Min < p.Max && (n < int64(p.Min) || n > int64(p.Max)) {
		return fmt.Errorf("%w: %s must be in [%d, %d], got %d", ErrOutOfRange, p.Name, p.Min, p.Max, n)
	}
	return nil
}

// Function is one entry of a device's catalog.
type Function struct {
	ID         byte           `json:"id"`
	Name       string         `json:"name"`
	ReturnType xbee.ValueType `json:"return_type"`

	// ParamCount is the declared number of arguments, excluding the return value.
	ParamCount byte `json:"param_count"`

	Params map[byte]Parameter `json:"params,omitempty"`
	Return *Parameter         `json:"return,omitempty"`
}

// ParamIDs returns the known parameter IDs in ascending order.
func (f *Function) ParamIDs() []byte {
	ids := make([]byte, 0, len(f.Params))
	for id := range f.Params {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Missing returns the parameter IDs still to be learned: declared
// arguments not yet known, then ID 0 if the return value is not void and
// its descriptor is unknown.
func (f *Function) Missing() []byte {
	var ids []byte
	for id := byte(1); id <= f.ParamCount && id != 0; id++ {
		if _, ok := f.Params[id]; !ok {
			ids = append(ids, id)
		}
	}
	if f.ReturnType != xbee.TypeVoid && f.Return == nil {
		ids = append(ids, ReturnValueID)
	}
	return ids
}

// Complete reports whether every parameter descriptor is known.
func (f *Function) Complete() bool {
	return len(f.Missing()) == 0
}

// Clone returns an independent copy.
func (f *Function) Clone() Function {
	cpy := *f
	if f.Params != nil {
		cpy.Params = make(map[byte]Parameter, len(f.Params))
		for id, p := range f.Params {
			p.Enum = slices.Clone(p.Enum)
			cpy.Params[id] = p
		}
	}
	if f.Return != nil {
		r := *f.Return
		r.Enum = slices.Clone(r.Enum)
		cpy.Return = &r
	}
	return cpy
}

// Snapshot is an independent copy of a device's state, used for queries
// and persistence.
type Snapshot struct {
	ID             uint64     `json:"id"`
	Address16      uint16     `json:"address16"`
	Name           string     `json:"name"`
	LastSeen       time.Time  `json:"last_seen"`
	Liveness       Liveness   `json:"liveness"`
	LowBattery     bool       `json:"low_battery"`
	FullCatalog    bool       `json:"full_catalog"`
	FullParameters bool       `json:"full_parameters"`
	Investigating  bool       `json:"investigating"`
	NeedsLight     bool       `json:"needs_light_investigation"`
	CatalogCount   int        `json:"catalog_count"`
	Functions      []Function `json:"functions"`
}

// Function returns the catalog entry with the given ID.
func (s *Snapshot) Function(id byte) (Function, bool) {
	for _, f := range s.Functions {
		if f.ID == id {
			return f, true
		}
	}
	return Function{}, false
}

// FunctionResult is the decoded outcome of a function invocation.
type FunctionResult struct {
	FunctionID byte           `json:"function_id"`
	Status     byte           `json:"status"`
	ReturnType xbee.ValueType `json:"return_type"`
	Value      any            `json:"value,omitempty"`
}

// placeholderBase marks locally assigned identities for devices whose
// 64-bit serial number is not yet known.
const (
	placeholderBase uint64 = 0xFFFFFFFE00000000
	placeholderMask uint64 = 0xFFFFFFFF00000000
)

// IsPlaceholder reports whether id was assigned locally.
func IsPlaceholder(id uint64) bool {
	return id&placeholderMask == placeholderBase
}
