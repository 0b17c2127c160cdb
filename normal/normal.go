// Package normal encodes typed scalars into normalised values: byte strings
// whose unsigned lexicographic order equals the natural order of the values
// they were created from.
//
// Every value starts with a one byte type marker. Markers are ordered
//
//	Min < Int8 < Int16 < Int32 < Int64 < Uint8 < ... < String < Bytes < Max
//
// so values of different types never interleave. The payload that follows the
// marker is big-endian and bias adjusted:
//
//	unsigned integers  copied big-endian
//	signed integers    big-endian with the sign bit flipped
//	floats             big-endian IEEE-754, sign bit flipped when non-negative,
//	                   every bit flipped when negative
//	bool               single byte, 0 or 1
//	time.Time          signed 64-bit count of 100ns ticks since the Unix epoch
//	string, []byte     raw bytes, no length prefix
//
// Values created with external=false are prefixed with MarkerInternal. They
// keep the same relative order among themselves but sort before every user
// (external) value, which lets the layer above reserve key space for
// synthesized records.
package normal

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const (
	// MarkerInternal prefixes values created with external=false.
	MarkerInternal byte = 0x03

	// MarkerMin is the first byte of the Min sentinel. Keys whose first byte is
	// below MarkerMin are internal keys.
	MarkerMin byte = 0x10

	// MarkerMax is the first byte of the Max sentinel.
	MarkerMax byte = 0xFF
)

// Type is the marker byte identifying the encoded scalar type.
type Type byte

const (
	TypeMin     Type = Type(MarkerMin)
	TypeInt8    Type = 0x11
	TypeInt16   Type = 0x12
	TypeInt32   Type = 0x13
	TypeInt64   Type = 0x14
	TypeUint8   Type = 0x15
	TypeUint16  Type = 0x16
	TypeUint32  Type = 0x17
	TypeUint64  Type = 0x18
	TypeFloat32 Type = 0x19
	TypeFloat64 Type = 0x1A
	TypeBool    Type = 0x1B
	TypeTime    Type = 0x1C
	TypeString  Type = 0x1D
	TypeBytes   Type = 0x1E
	TypeMax     Type = Type(MarkerMax)
)

var typeNames = map[Type]string{
	TypeMin:     "min",
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUint8:   "uint8",
	TypeUint16:  "uint16",
	TypeUint32:  "uint32",
	TypeUint64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeString:  "string",
	TypeBytes:   "bytes",
	TypeMax:     "max",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Scalar lists the Go types that can be normalised.
type Scalar interface {
	int8 | int16 | int32 | int64 | int |
		uint8 | uint16 | uint32 | uint64 | uint |
		float32 | float64 | bool | string | []byte | time.Time
}

// Value is an immutable normalised value.
type Value struct {
	data []byte
}

var (
	minValue = Value{data: []byte{MarkerMin}}
	maxValue = Value{data: []byte{MarkerMax}}
)

// Min returns the sentinel that sorts before every external value.
func Min() Value { return minValue }

// Max returns the sentinel that sorts after every value.
func Max() Value { return maxValue }

// Create normalises v. When external is false the value is placed in the
// internal key space.
func Create[T Scalar](v T, external bool) Value {
	var b []byte
	if !external {
		b = append(b, MarkerInternal)
	}

	switch x := any(v).(type) {
	case int8:
		b = append(b, byte(TypeInt8), uint8(x)^0x80)
	case int16:
		b = append(b, byte(TypeInt16))
		b = binary.BigEndian.AppendUint16(b, uint16(x)^(1<<15))
	case int32:
		b = append(b, byte(TypeInt32))
		b = AppendInt32(b, x)
	case int64:
		b = append(b, byte(TypeInt64))
		b = AppendInt64(b, x)
	case int:
		b = append(b, byte(TypeInt64))
		b = AppendInt64(b, int64(x))
	case uint8:
		b = append(b, byte(TypeUint8), x)
	case uint16:
		b = append(b, byte(TypeUint16))
		b = binary.BigEndian.AppendUint16(b, x)
	case uint32:
		b = append(b, byte(TypeUint32))
		b = binary.BigEndian.AppendUint32(b, x)
	case uint64:
		b = append(b, byte(TypeUint64))
		b = binary.BigEndian.AppendUint64(b, x)
	case uint:
		b = append(b, byte(TypeUint64))
		b = binary.BigEndian.AppendUint64(b, uint64(x))
	case float32:
		bits := math.Float32bits(x)
		if bits&(1<<31) == 0 {
			bits ^= 1 << 31
		} else {
			bits = ^bits
		}
		b = append(b, byte(TypeFloat32))
		b = binary.BigEndian.AppendUint32(b, bits)
	case float64:
		bits := math.Float64bits(x)
		if bits&(1<<63) == 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		b = append(b, byte(TypeFloat64))
		b = binary.BigEndian.AppendUint64(b, bits)
	case bool:
		b = append(b, byte(TypeBool))
		if x {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case time.Time:
		b = append(b, byte(TypeTime))
		b = AppendInt64(b, timeToTicks(x))
	case string:
		b = append(b, byte(TypeString))
		b = append(b, x...)
	case []byte:
		b = append(b, byte(TypeBytes))
		b = append(b, x...)
	}

	return Value{data: b}
}

// FromBytes wraps an already normalised byte string. The slice is copied.
func FromBytes(b []byte) Value {
	return Value{data: bytes.Clone(b)}
}

// Bytes returns the encoded form. Callers must not modify it.
func (v Value) Bytes() []byte { return v.data }

// Len returns the encoded length in bytes.
func (v Value) Len() int { return len(v.data) }

// IsZero reports whether v was never created.
func (v Value) IsZero() bool { return len(v.data) == 0 }

// IsMin reports whether v is the Min sentinel.
func (v Value) IsMin() bool { return IsMinBytes(v.data) }

// IsMax reports whether v is the Max sentinel.
func (v Value) IsMax() bool { return IsMaxBytes(v.data) }

// External reports whether v lives in the user key space.
func (v Value) External() bool {
	return len(v.data) > 0 && v.data[0] != MarkerInternal
}

// Type returns the scalar type marker of v.
func (v Value) Type() Type {
	t, _ := splitMarker(v.data)
	return t
}

// Compare orders two values by their encoded bytes. The result is only
// meaningful when SameType(x, y) holds.
func Compare(x, y Value) int {
	return bytes.Compare(x.data, y.data)
}

// SameType reports whether x and y belong to the same key space. The Min and
// Max sentinels are compatible with every value.
func SameType(x, y Value) bool {
	return SameTypeBytes(x.data, y.data)
}

// SameTypeBytes is SameType over raw encoded values.
func SameTypeBytes(x, y []byte) bool {
	if IsMinBytes(x) || IsMaxBytes(x) || IsMinBytes(y) || IsMaxBytes(y) {
		return true
	}
	if len(x) == 0 || len(y) == 0 {
		return false
	}
	xi, yi := x[0] == MarkerInternal, y[0] == MarkerInternal
	if xi != yi {
		return false
	}
	xt, _ := splitMarker(x)
	yt, _ := splitMarker(y)
	return xt == yt
}

// IsMinBytes reports whether b is the encoded Min sentinel.
func IsMinBytes(b []byte) bool { return len(b) == 1 && b[0] == MarkerMin }

// IsMaxBytes reports whether b is the encoded Max sentinel.
func IsMaxBytes(b []byte) bool { return len(b) == 1 && b[0] == MarkerMax }

// AppendInt64 appends v big-endian with the sign bit flipped.
func AppendInt64(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v)^(1<<63))
}

// AppendInt32 appends v big-endian with the sign bit flipped.
func AppendInt32(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v)^(1<<31))
}

// ReadInt64 decodes a value written by AppendInt64.
func ReadInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

// ReadInt32 decodes a value written by AppendInt32.
func ReadInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b) ^ (1 << 31))
}

func splitMarker(b []byte) (Type, []byte) {
	if len(b) == 0 {
		return 0, nil
	}
	if b[0] == MarkerInternal {
		if len(b) < 2 {
			return 0, nil
		}
		return Type(b[1]), b[2:]
	}
	return Type(b[0]), b[1:]
}

const ticksPerSecond = int64(time.Second / 100)

func timeToTicks(t time.Time) int64 {
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond()/100)
}

func ticksToTime(ticks int64) time.Time {
	sec := ticks / ticksPerSecond
	rem := ticks % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}
