// Package dtype maps the driver's engine element types onto the container's
// native datatype representation (spec component A).
package dtype

import (
	"fmt"

	"github.com/kestrelio/hdf5chunk/internal/message"
)

// Type identifies one of the element types the driver understands.
type Type uint8

const (
	Invalid Type = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var names = map[Type]string{
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

var byName = func() map[string]Type {
	m := make(map[string]Type, len(names))
	for t, n := range names {
		m[n] = t
	}
	return m
}()

// String returns the canonical dtype name used in JSON specs (spec §6).
func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "invalid"
}

// Parse resolves a canonical dtype name to a Type.
func Parse(name string) (Type, error) {
	if t, ok := byName[name]; ok {
		return t, nil
	}
	return Invalid, &UnsupportedTypeError{Detail: fmt.Sprintf("unknown dtype name %q", name)}
}

// Size returns the fixed byte size of an element of this type.
func (t Type) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is one of the ten supported element types.
func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

// UnsupportedTypeError is returned by ToContainer/FromContainer for any
// datatype outside the supported set (spec §4.A).
type UnsupportedTypeError struct {
	Detail string
}

func (e *UnsupportedTypeError) Error() string {
	return "unsupported type: " + e.Detail
}

// ToContainer converts an engine element type into the container's native
// datatype handle. The caller does not need to release the returned handle;
// unlike a real HDF5 property-list type ID, the pure-Go container represents
// datatypes as plain values, so "release" is a no-op kept only to mirror the
// spec's explicit-release contract.
func ToContainer(t Type) (*message.Datatype, error) {
	switch t {
	case Uint8:
		return message.NewFixedPointDatatype(1, false, message.OrderLE), nil
	case Uint16:
		return message.NewFixedPointDatatype(2, false, message.OrderLE), nil
	case Uint32:
		return message.NewFixedPointDatatype(4, false, message.OrderLE), nil
	case Uint64:
		return message.NewFixedPointDatatype(8, false, message.OrderLE), nil
	case Int8:
		return message.NewFixedPointDatatype(1, true, message.OrderLE), nil
	case Int16:
		return message.NewFixedPointDatatype(2, true, message.OrderLE), nil
	case Int32:
		return message.NewFixedPointDatatype(4, true, message.OrderLE), nil
	case Int64:
		return message.NewFixedPointDatatype(8, true, message.OrderLE), nil
	case Float32:
		return message.NewFloatDatatype(4, message.OrderLE), nil
	case Float64:
		return message.NewFloatDatatype(8, message.OrderLE), nil
	default:
		return nil, &UnsupportedTypeError{Detail: fmt.Sprintf("engine type %d", t)}
	}
}

// ReleaseContainer releases a native datatype handle. The pure-Go container
// has no reference-counted type IDs to free, so this exists to keep call
// sites symmetric with the spec's "must be explicitly released" contract.
func ReleaseContainer(*message.Datatype) {}

// FromContainer recognizes a container-native datatype and returns the
// corresponding engine element type. Only fixed-point (by size+sign) and
// floating-point (by size) classes are recognized; every other HDF5 class
// (compound, enum, variable-length, opaque, reference, array, time,
// bitfield) is unsupported per spec §4.A. An unsigned 8-bit fixed-point
// type also covers HDF5's boolean convention.
func FromContainer(dt *message.Datatype) (Type, error) {
	if dt == nil {
		return Invalid, &UnsupportedTypeError{Detail: "nil datatype"}
	}
	switch dt.Class {
	case message.ClassFixedPoint:
		switch {
		case dt.Size == 1 && !dt.Signed:
			return Uint8, nil
		case dt.Size == 1 && dt.Signed:
			return Int8, nil
		case dt.Size == 2 && !dt.Signed:
			return Uint16, nil
		case dt.Size == 2 && dt.Signed:
			return Int16, nil
		case dt.Size == 4 && !dt.Signed:
			return Uint32, nil
		case dt.Size == 4 && dt.Signed:
			return Int32, nil
		case dt.Size == 8 && !dt.Signed:
			return Uint64, nil
		case dt.Size == 8 && dt.Signed:
			return Int64, nil
		default:
			return Invalid, &UnsupportedTypeError{Detail: fmt.Sprintf("fixed-point size %d", dt.Size)}
		}
	case message.ClassFloatPoint:
		switch dt.Size {
		case 4:
			return Float32, nil
		case 8:
			return Float64, nil
		default:
			return Invalid, &UnsupportedTypeError{Detail: fmt.Sprintf("float size %d", dt.Size)}
		}
	default:
		return Invalid, &UnsupportedTypeError{Detail: fmt.Sprintf("datatype class %d", dt.Class)}
	}
}
