package xbee

import (
	"encoding/binary"
	"fmt"
)

const (
	// appHeaderLen is app code(1) + sequence(1).
	appHeaderLen = 2

	// txHeaderLen is type, frame ID, dest64, dest16, radius, options.
	txHeaderLen = 14

	// rxHeaderLen is type, src64, src16, options.
	rxHeaderLen = 12
)

// NewAppRequest builds a TX request carrying an application message.
func NewAppRequest(dest64 uint64, dest16 uint16, code AppCode, seq byte, body []byte) *TxRequest {
	rf := make([]byte, 0, appHeaderLen+len(body))
	rf = append(rf, byte(code), seq)
	rf = append(rf, body...)
	return NewTxRequest(dest64, dest16, rf)
}

// NewStatusRequest builds a liveness probe.
func NewStatusRequest(dest64 uint64, dest16 uint16, seq byte) *TxRequest {
	return NewAppRequest(dest64, dest16, AppStatusRequest, seq, nil)
}

// NewInfoRequest asks a node for its serial number and name.
func NewInfoRequest(dest64 uint64, dest16 uint16, seq byte) *TxRequest {
	return NewAppRequest(dest64, dest16, AppInfoRequest, seq, nil)
}

// NewCatalogRequest asks for the catalog count (index 0) or entry index.
func NewCatalogRequest(dest64 uint64, dest16 uint16, seq, index byte) *TxRequest {
	return NewAppRequest(dest64, dest16, AppCatalogRequest, seq, []byte{index})
}

// NewParameterRequest asks for the descriptor of one parameter.
func NewParameterRequest(dest64 uint64, dest16 uint16, seq, functionID, paramID byte) *TxRequest {
	return NewAppRequest(dest64, dest16, AppParameterRequest, seq, []byte{functionID, paramID})
}

// NewFunctionTransmit invokes a function with already-encoded arguments.
func NewFunctionTransmit(dest64 uint64, dest16 uint16, seq, functionID byte, args []Argument) (*TxRequest, error) {
	if len(args) > 0xFF {
		return nil, fmt.Errorf("%w: %d arguments", ErrInvalidValue, len(args))
	}
	body := []byte{functionID, byte(len(args))}
	for _, a := range args {
		if len(a.Value) > 0xFF {
			return nil, fmt.Errorf("%w: argument of %d bytes", ErrInvalidValue, len(a.Value))
		}
		body = append(body, byte(a.Type), byte(len(a.Value)))
		body = append(body, a.Value...)
	}
	return NewAppRequest(dest64, dest16, AppFunctionTransmit, seq, body), nil
}

// =============================================================================
// Node-side body builders
// =============================================================================

// BuildRxData returns the frame data of an RX frame carrying an application
// message, as a node would produce it.
func BuildRxData(src64 uint64, src16 uint16, code AppCode, seq byte, body []byte) []byte {
	buf := make([]byte, 0, rxHeaderLen+appHeaderLen+len(body))
	buf = append(buf, byte(FrameRxData))
	buf = appendUint64(buf, src64)
	buf = appendUint16(buf, src16)
	buf = append(buf, 0x01, byte(code), seq)
	return append(buf, body...)
}

// DeviceStatusBody encodes a device status body.
func DeviceStatusBody(status DeviceStatusCode) []byte {
	return []byte{byte(status)}
}

// InfoResponseBody encodes an info response body.
func InfoResponseBody(serial uint64, name string) []byte {
	buf := appendUint64(nil, serial)
	return appendString(buf, name)
}

// CatalogCountBody encodes the index-0 catalog response.
func CatalogCountBody(count byte) []byte {
	return []byte{0, count}
}

// CatalogEntryBody encodes a catalog response for one entry.
func CatalogEntryBody(index byte, e CatalogEntry) []byte {
	buf := []byte{index, e.FunctionID, byte(e.ReturnType), e.ParamCount}
	return appendString(buf, e.Name)
}

// ParameterResponseBody encodes a parameter response body.
func ParameterResponseBody(functionID, paramID byte, d ParameterDescriptor) []byte {
	var flags byte
	if d.Signed {
		flags |= 0x01
	}
	buf := []byte{functionID, paramID, byte(d.Type), flags}
	buf = appendUint32(buf, uint32(d.Min)) //nolint:gosec // two's complement on the wire
	buf = appendUint32(buf, uint32(d.Max)) //nolint:gosec // two's complement on the wire
	buf = appendString(buf, d.Name)
	buf = append(buf, byte(len(d.Enum)))
	for _, ev := range d.Enum {
		buf = appendUint32(buf, uint32(ev.Value)) //nolint:gosec // two's complement on the wire
		buf = appendString(buf, ev.Name)
	}
	return buf
}

// FunctionReceiveBody encodes a function result body.
func FunctionReceiveBody(functionID, status byte, returnType ValueType, value []byte) []byte {
	buf := []byte{functionID, status, byte(returnType), byte(len(value))}
	return append(buf, value...)
}

// =============================================================================
// Byte helpers
// =============================================================================

func appendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendString(buf []byte, s string) []byte {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

// reader consumes a byte slice front to back. The first short read sets err
// and every later read returns zero values.
type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: need %d bytes, have %d", ErrShortPayload, n, len(r.b))
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) str() string {
	n := int(r.u8())
	return string(r.take(n))
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	out := r.b
	r.b = nil
	return out
}
