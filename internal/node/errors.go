package node

import "errors"

// Domain errors for the node package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, node.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device identity is not registered.
	ErrDeviceNotFound = errors.New("node: device not found")

	// ErrDeviceExists is returned when adding a device whose identity is taken.
	ErrDeviceExists = errors.New("node: device already exists")

	// ErrUnknownFunction is returned when a message or call references a
	// function the device has not reported.
	ErrUnknownFunction = errors.New("node: unknown function")

	// ErrUnknownParameter is returned when a message or call references a
	// parameter the function does not declare.
	ErrUnknownParameter = errors.New("node: unknown parameter")

	// ErrArgumentCount is returned when an invocation has the wrong number of arguments.
	ErrArgumentCount = errors.New("node: wrong number of arguments")

	// ErrOutOfRange is returned when an argument violates a parameter's bounds.
	ErrOutOfRange = errors.New("node: argument out of range")

	// ErrRoundFailed is returned when an investigation round exhausts its attempts.
	ErrRoundFailed = errors.New("node: investigation round failed")

	// ErrNoReply is returned when a function invocation gets no result in time.
	ErrNoReply = errors.New("node: no reply")

	// ErrAlreadyRunning is returned by Start when the workers are running.
	ErrAlreadyRunning = errors.New("node: registry already running")
)
