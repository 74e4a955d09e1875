package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/nodelink-core/internal/node"
	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// EventMessage is published for every registry event.
// Topic: nodelink/event/{type}
// QoS: configured, Retained: No
type EventMessage struct {
	Type       node.EventType       `json:"type"`
	DeviceID   string               `json:"device_id"`
	PreviousID string               `json:"previous_id,omitempty"`
	Liveness   node.Liveness        `json:"liveness"`
	Name       string               `json:"name,omitempty"`
	Light      bool                 `json:"light,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Result     *node.FunctionResult `json:"result,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// NewEventMessage converts a registry event.
func NewEventMessage(e node.Event) EventMessage {
	msg := EventMessage{
		Type:      e.Type,
		DeviceID:  FormatDeviceID(e.DeviceID),
		Liveness:  e.Liveness,
		Name:      e.Name,
		Light:     e.Light,
		Reason:    e.Reason,
		Result:    e.Result,
		Timestamp: e.Time.UTC(),
	}
	if e.PreviousID != 0 {
		msg.PreviousID = FormatDeviceID(e.PreviousID)
	}
	return msg
}

// DeviceState is the retained snapshot of one device.
// Topic: nodelink/device/{device_id}/state
// QoS: configured, Retained: Yes
type DeviceState struct {
	DeviceID       string          `json:"device_id"`
	Address16      string          `json:"address16"`
	Placeholder    bool            `json:"placeholder,omitempty"`
	Name           string          `json:"name,omitempty"`
	LastSeen       *time.Time      `json:"last_seen,omitempty"`
	Liveness       node.Liveness   `json:"liveness"`
	LowBattery     bool            `json:"low_battery"`
	FullCatalog    bool            `json:"full_catalog"`
	FullParameters bool            `json:"full_parameters"`
	Investigating  bool            `json:"investigating"`
	CatalogCount   int             `json:"catalog_count"`
	Functions      []node.Function `json:"functions"`
}

// NewDeviceState converts a registry snapshot.
func NewDeviceState(s node.Snapshot) DeviceState {
	st := DeviceState{
		DeviceID:       FormatDeviceID(s.ID),
		Address16:      fmt.Sprintf("%04X", s.Address16),
		Placeholder:    node.IsPlaceholder(s.ID),
		Name:           s.Name,
		Liveness:       s.Liveness,
		LowBattery:     s.LowBattery,
		FullCatalog:    s.FullCatalog,
		FullParameters: s.FullParameters,
		Investigating:  s.Investigating,
		CatalogCount:   s.CatalogCount,
		Functions:      s.Functions,
	}
	if !s.LastSeen.IsZero() {
		seen := s.LastSeen.UTC()
		st.LastSeen = &seen
	}
	if st.Functions == nil {
		st.Functions = []node.Function{}
	}
	return st
}

// Request is the payload of a command.
// Topic: nodelink/command/{action}
type Request struct {
	// RequestID correlates the response. A UUID is assigned when empty.
	RequestID string `json:"request_id,omitempty"`

	// DeviceID is the 16-digit hex identity of the target device.
	DeviceID string `json:"device_id,omitempty"`

	// FunctionID and Args are used by "invoke".
	FunctionID *int  `json:"function_id,omitempty"`
	Args       []any `json:"args,omitempty"`
}

// Response is published once per command.
// Topic: nodelink/response/{request_id}
// QoS: configured, Retained: No
type Response struct {
	RequestID string    `json:"request_id"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatDeviceID renders a device identity the way topics and payloads
// carry it.
func FormatDeviceID(id uint64) string {
	return xbee.FormatAddress64(id)
}

// ParseDeviceID parses a hex identity, with or without a 0x prefix.
func ParseDeviceID(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("%w: device_id is required", ErrInvalidRequest)
	}
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: device_id %q: %w", ErrInvalidRequest, s, err)
	}
	return id, nil
}

// livenessLevel maps liveness to a number that grows with freshness.
func livenessLevel(l node.Liveness) int {
	switch l {
	case node.LivenessActive:
		return 3
	case node.LivenessRecent:
		return 2
	case node.LivenessDead:
		return 1
	default:
		return 0
	}
}

// numericValue extracts a float from a decoded return value.
func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
