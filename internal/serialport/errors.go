package serialport

import "errors"

// Domain errors for the serialport package.
var (
	// ErrNotConnected is returned when writing while the port is closed or
	// being reopened.
	ErrNotConnected = errors.New("serialport: not connected")

	// ErrOpenFailed is returned when the device cannot be opened.
	ErrOpenFailed = errors.New("serialport: open failed")

	// ErrWriteFailed is returned when a frame could not be written.
	ErrWriteFailed = errors.New("serialport: write failed")

	// ErrInvalidConfig is returned for an unusable configuration.
	ErrInvalidConfig = errors.New("serialport: invalid configuration")
)
