package xbee

import (
	"encoding/binary"
	"fmt"
)

// Frame is one complete, checksum-verified API frame. It holds the frame data
// only (no delimiter, length or checksum) and is immutable once built.
type Frame struct {
	data []byte
}

// NewFrame builds a Frame from frame data. The data is copied.
func NewFrame(data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{data: buf}
}

// Data returns the frame data. Callers must not modify it.
func (f Frame) Data() []byte {
	return f.data
}

// Length returns the number of frame data bytes.
func (f Frame) Length() int {
	return len(f.data)
}

// Type returns the API frame type, or 0 for an empty frame.
func (f Frame) Type() FrameType {
	if len(f.data) == 0 {
		return 0
	}
	return FrameType(f.data[0])
}

// Checksum returns the checksum that accompanies this frame on the wire.
func (f Frame) Checksum() byte {
	return Checksum(f.data)
}

// Checksum computes 0xFF minus the low byte of the sum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// Encode wraps frame data into a wire frame.
//
// Returns:
//   - []byte: delimiter + length + data + checksum
//   - error: ErrFrameTooLarge if data exceeds MaxFrameDataLength, ErrFrameLength if empty
func Encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrFrameLength
	}
	if len(data) > MaxFrameDataLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(data), MaxFrameDataLength)
	}

	buf := make([]byte, len(data)+frameOverhead)
	buf[0] = StartDelimiter
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(data))) //nolint:gosec // bounded above
	copy(buf[3:], data)
	buf[len(buf)-1] = Checksum(data)
	return buf, nil
}

// Result is the outcome of feeding one byte to an Assembler.
type Result int

const (
	// Continue means more bytes are needed.
	Continue Result = iota
	// Complete means a frame has been assembled; fetch it with Frame().
	Complete
	// FrameError means the frame was corrupt and has been discarded.
	FrameError
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Complete:
		return "complete"
	case FrameError:
		return "frame_error"
	default:
		return "continue"
	}
}

type assemblerState int

const (
	stateHunt assemblerState = iota
	stateLengthHigh
	stateLengthLow
	stateData
	stateChecksum
)

// Assembler rebuilds frames from a byte stream one byte at a time.
//
// Bytes outside a frame are skipped until a start delimiter is seen. A frame
// with a bad length or checksum is discarded entirely and the assembler goes
// back to hunting for the next delimiter. State is kept between calls, so a
// frame split across several reads resumes correctly.
//
// Thread Safety: not safe for concurrent use.
type Assembler struct {
	state  assemblerState
	length int
	buf    []byte
	sum    byte

	frame Frame
	err   error
}

// NewAssembler returns an Assembler waiting for a start delimiter.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// AddByte feeds one byte.
//
// Returns:
//   - Continue: frame incomplete (or noise skipped)
//   - Complete: a frame is ready via Frame(); a new frame starts
//   - FrameError: corrupt frame discarded; the cause is available via Err()
func (a *Assembler) AddByte(b byte) Result {
	switch a.state {
	case stateHunt:
		if b == StartDelimiter {
			a.state = stateLengthHigh
		}
		return Continue

	case stateLengthHigh:
		a.length = int(b) << 8
		a.state = stateLengthLow
		return Continue

	case stateLengthLow:
		a.length |= int(b)
		if a.length == 0 || a.length > MaxFrameDataLength {
			return a.fail(fmt.Errorf("%w: %d", ErrFrameLength, a.length))
		}
		a.buf = make([]byte, 0, a.length)
		a.sum = 0
		a.state = stateData
		return Continue

	case stateData:
		a.buf = append(a.buf, b)
		a.sum += b
		if len(a.buf) == a.length {
			a.state = stateChecksum
		}
		return Continue

	case stateChecksum:
		if a.sum+b != 0xFF {
			return a.fail(fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, b, 0xFF-a.sum))
		}
		a.frame = Frame{data: a.buf}
		a.err = nil
		a.reset()
		return Complete
	}

	a.reset()
	return Continue
}

// Frame returns the most recently completed frame.
func (a *Assembler) Frame() Frame {
	return a.frame
}

// Err returns the cause of the most recent FrameError.
func (a *Assembler) Err() error {
	return a.err
}

// InProgress reports whether a partial frame is buffered.
func (a *Assembler) InProgress() bool {
	return a.state != stateHunt
}

// Reset discards any partial frame.
func (a *Assembler) Reset() {
	a.reset()
}

// Feed pushes a chunk of bytes through AddByte.
//
// onFrame is called for each completed frame. onError, if non-nil, is called
// for each frame error; the transport uses it to flush input it has queued
// but not yet delivered. Bytes remaining in chunk after an error are still
// scanned for the next delimiter.
func (a *Assembler) Feed(chunk []byte, onFrame func(Frame), onError func(error)) {
	for _, b := range chunk {
		switch a.AddByte(b) {
		case Complete:
			if onFrame != nil {
				onFrame(a.frame)
			}
		case FrameError:
			if onError != nil {
				onError(a.err)
			}
		}
	}
}

func (a *Assembler) fail(err error) Result {
	a.err = err
	a.reset()
	return FrameError
}

func (a *Assembler) reset() {
	a.state = stateHunt
	a.length = 0
	a.buf = nil
	a.sum = 0
}
