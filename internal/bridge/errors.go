package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrMissingMQTT is returned by New without an MQTT client.
	ErrMissingMQTT = errors.New("bridge: MQTT client is required")

	// ErrMissingRegistry is returned by New without a registry.
	ErrMissingRegistry = errors.New("bridge: registry is required")

	// ErrAlreadyStarted is returned by Start when the bridge is running.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrNotRunning answers commands that arrive outside Start/Stop.
	ErrNotRunning = errors.New("bridge: not running")

	// ErrUnknownAction is returned for a command topic with no handler.
	ErrUnknownAction = errors.New("bridge: unknown action")

	// ErrInvalidRequest is returned for a malformed command payload.
	ErrInvalidRequest = errors.New("bridge: invalid request")
)
