// Package codec turns keys and values into bytes and back. The fixed width
// integer codecs are order preserving: comparing encoded values bytewise
// gives the same order as comparing the numbers.
package codec

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"math"

	"go-recdb/pkg/customerrors"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

var bin = binary.BigEndian

type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(d []byte) (T, error)
}

// Comparator orders two values, returning a negative number, zero or a
// positive number.
type Comparator[T any] func(a, b T) int

// Natural compares ordered values with < and >.
func Natural[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareEncoded orders values by their encoding.
func CompareEncoded[T any](c Codec[T]) Comparator[T] {
	return func(a, b T) int {
		ea, err := c.Encode(a)
		if err != nil {
			panic(errors.Wrap(err, "failed to encode key for compare"))
		}
		eb, err := c.Encode(b)
		if err != nil {
			panic(errors.Wrap(err, "failed to encode key for compare"))
		}
		return bytes.Compare(ea, eb)
	}
}

type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Decode(d []byte) ([]byte, error) {
	v := make([]byte, len(d))
	copy(v, d)
	return v, nil
}

type String struct{}

func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (String) Decode(d []byte) (string, error) { return string(d), nil }

type Uint64 struct{}

func (Uint64) Encode(v uint64) ([]byte, error) {
	return bin.AppendUint64(nil, v), nil
}

func (Uint64) Decode(d []byte) (uint64, error) {
	if len(d) != 8 {
		return 0, errors.Wrapf(customerrors.ErrCorrupt, "uint64 needs 8 bytes, got %d", len(d))
	}
	return bin.Uint64(d), nil
}

// Int64 flips the sign bit so negative numbers sort before positive ones.
type Int64 struct{}

func (Int64) Encode(v int64) ([]byte, error) {
	return bin.AppendUint64(nil, uint64(v)^(1<<63)), nil
}

func (Int64) Decode(d []byte) (int64, error) {
	if len(d) != 8 {
		return 0, errors.Wrapf(customerrors.ErrCorrupt, "int64 needs 8 bytes, got %d", len(d))
	}
	return int64(bin.Uint64(d) ^ (1 << 63)), nil
}

// Float64 maps IEEE 754 values onto an order preserving bit pattern.
type Float64 struct{}

func (Float64) Encode(v float64) ([]byte, error) {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return bin.AppendUint64(nil, bits), nil
}

func (Float64) Decode(d []byte) (float64, error) {
	if len(d) != 8 {
		return 0, errors.Wrapf(customerrors.ErrCorrupt, "float64 needs 8 bytes, got %d", len(d))
	}
	bits := bin.Uint64(d)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

type binaryMarshalerUnmarshaler[T any] interface {
	*T
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Binary stores values through their MarshalBinary and UnmarshalBinary
// methods.
type Binary[T any, U binaryMarshalerUnmarshaler[T]] struct{}

func (Binary[T, U]) Encode(v U) ([]byte, error) {
	return v.MarshalBinary()
}

func (Binary[T, U]) Decode(d []byte) (U, error) {
	var t T
	v := U(&t)
	if err := v.UnmarshalBinary(d); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal value")
	}
	return v, nil
}
