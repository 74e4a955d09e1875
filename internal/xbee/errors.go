package xbee

import "errors"

// Domain errors for the xbee package.
var (
	// ErrFrameLength is returned when a frame declares a zero or oversized length.
	ErrFrameLength = errors.New("xbee: invalid frame length")

	// ErrChecksum is returned when a frame's checksum does not match its data.
	ErrChecksum = errors.New("xbee: checksum mismatch")

	// ErrFrameTooLarge is returned when encoding frame data longer than MaxFrameDataLength.
	ErrFrameTooLarge = errors.New("xbee: frame data too large")

	// ErrShortPayload is returned when an application body is too short to decode.
	ErrShortPayload = errors.New("xbee: payload too short")

	// ErrInvalidValue is returned when a value cannot be encoded for a parameter type.
	ErrInvalidValue = errors.New("xbee: invalid value")
)
