package normal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrTypeMismatch = errors.New("normalised value type mismatch")

func (v Value) payload(want ...Type) ([]byte, error) {
	t, p := splitMarker(v.data)
	for _, w := range want {
		if t == w {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: have %s", ErrTypeMismatch, t)
}

// Int64 decodes any signed integer type.
func (v Value) Int64() (int64, error) {
	p, err := v.payload(TypeInt8, TypeInt16, TypeInt32, TypeInt64)
	if err != nil {
		return 0, err
	}
	switch len(p) {
	case 1:
		return int64(int8(p[0] ^ 0x80)), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(p) ^ (1 << 15))), nil
	case 4:
		return int64(ReadInt32(p)), nil
	case 8:
		return ReadInt64(p), nil
	}
	return 0, fmt.Errorf("%w: bad integer width %d", ErrTypeMismatch, len(p))
}

// Uint64 decodes any unsigned integer type.
func (v Value) Uint64() (uint64, error) {
	p, err := v.payload(TypeUint8, TypeUint16, TypeUint32, TypeUint64)
	if err != nil {
		return 0, err
	}
	switch len(p) {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(p)), nil
	case 8:
		return binary.BigEndian.Uint64(p), nil
	}
	return 0, fmt.Errorf("%w: bad integer width %d", ErrTypeMismatch, len(p))
}

// Float64 decodes either float type.
func (v Value) Float64() (float64, error) {
	p, err := v.payload(TypeFloat32, TypeFloat64)
	if err != nil {
		return 0, err
	}
	switch len(p) {
	case 4:
		bits := binary.BigEndian.Uint32(p)
		if bits&(1<<31) != 0 {
			bits ^= 1 << 31
		} else {
			bits = ^bits
		}
		return float64(math.Float32frombits(bits)), nil
	case 8:
		bits := binary.BigEndian.Uint64(p)
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), nil
	}
	return 0, fmt.Errorf("%w: bad float width %d", ErrTypeMismatch, len(p))
}

func (v Value) Bool() (bool, error) {
	p, err := v.payload(TypeBool)
	if err != nil {
		return false, err
	}
	return len(p) == 1 && p[0] == 1, nil
}

// Time decodes a timestamp in UTC with 100ns precision.
func (v Value) Time() (time.Time, error) {
	p, err := v.payload(TypeTime)
	if err != nil {
		return time.Time{}, err
	}
	if len(p) != 8 {
		return time.Time{}, fmt.Errorf("%w: bad time width %d", ErrTypeMismatch, len(p))
	}
	return ticksToTime(ReadInt64(p)), nil
}

// Str decodes a string or bytes value as a string.
func (v Value) Str() (string, error) {
	p, err := v.payload(TypeString, TypeBytes)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// String formats v for debugging.
func (v Value) String() string {
	switch t := v.Type(); t {
	case TypeMin, TypeMax:
		return t.String()
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		n, _ := v.Int64()
		return fmt.Sprintf("%s(%d)", t, n)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		n, _ := v.Uint64()
		return fmt.Sprintf("%s(%d)", t, n)
	case TypeFloat32, TypeFloat64:
		f, _ := v.Float64()
		return fmt.Sprintf("%s(%g)", t, f)
	case TypeBool:
		b, _ := v.Bool()
		return fmt.Sprintf("bool(%t)", b)
	case TypeTime:
		tm, _ := v.Time()
		return "time(" + tm.Format(time.RFC3339Nano) + ")"
	case TypeString, TypeBytes:
		s, _ := v.Str()
		return fmt.Sprintf("%s(%q)", t, s)
	}
	return fmt.Sprintf("raw(%x)", v.data)
}
