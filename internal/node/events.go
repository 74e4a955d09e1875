package node

import "time"

// EventType identifies a registry event.
type EventType string

// Registry events.
const (
	EventDeviceDiscovered       EventType = "device_discovered"
	EventDeviceRemoved          EventType = "device_removed"
	EventDeviceRekeyed          EventType = "device_rekeyed"
	EventLivenessChanged        EventType = "liveness_changed"
	EventCatalogUpdated         EventType = "catalog_updated"
	EventInvestigationStarted   EventType = "investigation_started"
	EventInvestigationCompleted EventType = "investigation_completed"
	EventInvestigationAborted   EventType = "investigation_aborted"
	EventFunctionResult         EventType = "function_result"
)

// Event is a structured notification about a device.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID uint64    `json:"device_id"`

	// PreviousID is the old identity for EventDeviceRekeyed.
	PreviousID uint64 `json:"previous_id,omitempty"`

	Liveness Liveness `json:"liveness"`
	Name     string   `json:"name,omitempty"`

	// Light is set on investigation events for an info-only round.
	Light bool `json:"light,omitempty"`

	// Reason explains an aborted investigation.
	Reason string `json:"reason,omitempty"`

	Result *FunctionResult `json:"result,omitempty"`
	Time   time.Time       `json:"time"`
}

// Observer receives registry events. OnEvent is called synchronously on the
// goroutine that detected the change and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
