package xbee

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType tags the wire representation of a parameter or return value.
type ValueType byte

// Value types reported in catalog and parameter responses.
const (
	TypeVoid   ValueType = 0x00
	TypeBool   ValueType = 0x01
	TypeInt8   ValueType = 0x02
	TypeInt16  ValueType = 0x03
	TypeInt32  ValueType = 0x04
	TypeFloat  ValueType = 0x05
	TypeString ValueType = 0x06
	TypeEnum   ValueType = 0x07
)

// String returns the value type name.
func (t ValueType) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeEnum:
		return "enum"
	default:
		return fmt.Sprintf("type_0x%02X", byte(t))
	}
}

// IsNumeric reports whether values of t are integers with min/max bounds.
func (t ValueType) IsNumeric() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeEnum:
		return true
	default:
		return false
	}
}

// IntRange returns the smallest and largest integer the wire width of t
// holds, two's-complement when signed. ok is false for non-integer types.
func IntRange(t ValueType, signed bool) (lo, hi int64, ok bool) {
	var bits uint
	switch t {
	case TypeInt8, TypeEnum:
		bits = 8
	case TypeInt16:
		bits = 16
	case TypeInt32:
		bits = 32
	default:
		return 0, 0, false
	}
	if signed {
		return -1 << (bits - 1), 1<<(bits-1) - 1, true
	}
	return 0, 1<<bits - 1, true
}

// EncodeValue converts v to the wire representation for t.
//
// Accepted Go types: bool for TypeBool; any integer (or integral float64, as
// produced by JSON decoding) for the integer and enum types; float32/float64
// for TypeFloat; string for TypeString.
func EncodeValue(t ValueType, v any) ([]byte, error) {
	switch t {
	case TypeVoid:
		return nil, nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects bool, got %T", ErrInvalidValue, t, v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeInt8, TypeEnum:
		n, err := ToInt64(t, v)
		if err != nil {
			return nil, err
		}
		return []byte{byte(n)}, nil //nolint:gosec // caller validates bounds

	case TypeInt16:
		n, err := ToInt64(t, v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(n)) //nolint:gosec // caller validates bounds
		return buf, nil

	case TypeInt32:
		n, err := ToInt64(t, v)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(n)) //nolint:gosec // caller validates bounds
		return buf, nil

	case TypeFloat:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		case int:
			f = float64(x)
		default:
			return nil, fmt.Errorf("%w: %s expects number, got %T", ErrInvalidValue, t, v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil

	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects string, got %T", ErrInvalidValue, t, v)
		}
		return []byte(s), nil
	}

	return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, t)
}

// DecodeValue converts wire bytes back to a Go value. Integers decode to
// int64 (sign-extended when signed is true), floats to float64.
func DecodeValue(t ValueType, signed bool, b []byte) (any, error) {
	need := map[ValueType]int{TypeBool: 1, TypeInt8: 1, TypeEnum: 1, TypeInt16: 2, TypeInt32: 4, TypeFloat: 4}
	if n, ok := need[t]; ok && len(b) < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, t, n, len(b))
	}

	switch t {
	case TypeVoid:
		return nil, nil
	case TypeBool:
		return b[0] != 0, nil
	case TypeInt8, TypeEnum:
		if signed {
			return int64(int8(b[0])), nil
		}
		return int64(b[0]), nil
	case TypeInt16:
		u := binary.BigEndian.Uint16(b)
		if signed {
			return int64(int16(u)), nil
		}
		return int64(u), nil
	case TypeInt32:
		u := binary.BigEndian.Uint32(b)
		if signed {
			return int64(int32(u)), nil
		}
		return int64(u), nil
	case TypeFloat:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case TypeString:
		return string(b), nil
	}

	return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, t)
}

// ToInt64 converts an integer argument (or an integral float64 from JSON)
// to int64 without narrowing it to the width of t.
func ToInt64(t ValueType, v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %s expects integer, got %v", ErrInvalidValue, t, x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("%w: %s expects integer, got %T", ErrInvalidValue, t, v)
}
