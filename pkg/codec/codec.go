// Package codec implements the binary encoding shared by the Cachem wire
// protocol and its snapshot files.
//
// Every value has exactly one encoding and the encoding carries no schema:
// a reader must know the type it expects. The rules are:
//   - Fixed-width numbers: big-endian, 1/2/4/8/16 bytes
//   - Floats: IEEE-754 bits, big-endian
//   - Bool: one byte, 0 or 1
//   - String: raw UTF-8 bytes followed by a 0x00 terminator (not escaped)
//   - UUID: the 16 raw bytes
//   - Sequence: length prefix, then each element
//   - Optional: one presence byte (0 or 1), then the value if present
//   - Record: its fields in declaration order, nothing else
//
// The length prefix is a width tag (1, 2, 4 or 8) followed by the element
// count in that many bytes; the smallest sufficient width is mandatory.
//
// Application types join the encoding either by implementing Record by hand:
//
//	type Entry struct {
//		ID    uint32
//		Label string
//	}
//
//	func (e Entry) Encode(w *codec.Writer) {
//		w.WriteUint32(e.ID)
//		w.WriteString(e.Label)
//	}
//
//	func (e *Entry) Decode(r *codec.Reader) (err error) {
//		if e.ID, err = r.ReadUint32(); err != nil {
//			return err
//		}
//		e.Label, err = r.ReadString()
//		return err
//	}
//
//	entries := codec.RecordOf[Entry]()
//
// or by deriving a codec from the struct layout:
//
//	entries := codec.MustReflect[Entry]()
//
// Both produce identical bytes. Reordering fields changes the encoding and
// silently breaks compatibility with existing peers and snapshots.
package codec

import (
	"fmt"

	"github.com/google/uuid"
)

// Uint128 is an unsigned 128-bit integer.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Codec pairs the encode and decode functions of one type. Codecs compose:
// SliceOf, OptionOf and RecordOf build codecs for aggregates from the codecs
// of their parts.
type Codec[T any] struct {
	Encode func(w *Writer, v T)
	Decode func(r *Reader) (T, error)
}

// Codecs for the primitive types.
var (
	Uint8   = Codec[uint8]{Encode: (*Writer).WriteUint8, Decode: (*Reader).ReadUint8}
	Uint16  = Codec[uint16]{Encode: (*Writer).WriteUint16, Decode: (*Reader).ReadUint16}
	Uint32  = Codec[uint32]{Encode: (*Writer).WriteUint32, Decode: (*Reader).ReadUint32}
	Uint64  = Codec[uint64]{Encode: (*Writer).WriteUint64, Decode: (*Reader).ReadUint64}
	U128    = Codec[Uint128]{Encode: (*Writer).WriteUint128, Decode: (*Reader).ReadUint128}
	Int32   = Codec[int32]{Encode: (*Writer).WriteInt32, Decode: (*Reader).ReadInt32}
	Int64   = Codec[int64]{Encode: (*Writer).WriteInt64, Decode: (*Reader).ReadInt64}
	Float32 = Codec[float32]{Encode: (*Writer).WriteFloat32, Decode: (*Reader).ReadFloat32}
	Float64 = Codec[float64]{Encode: (*Writer).WriteFloat64, Decode: (*Reader).ReadFloat64}
	Bool    = Codec[bool]{Encode: (*Writer).WriteBool, Decode: (*Reader).ReadBool}
	String  = Codec[string]{Encode: (*Writer).WriteString, Decode: (*Reader).ReadString}
	UUID    = Codec[uuid.UUID]{Encode: (*Writer).WriteUUID, Decode: (*Reader).ReadUUID}
)

// Record is implemented by application types that encode themselves field
// by field. Decode must read the fields in the same order Encode writes them.
// Every record must encode to at least one byte: a sequence length prefix
// is rejected when it exceeds the bytes left to read.
type Record interface {
	Encode(w *Writer)
	Decode(r *Reader) error
}

// RecordOf returns the codec of a type whose pointer implements Record. It
// panics if the zero value of T encodes to no bytes.
func RecordOf[T any, PT interface {
	*T
	Record
}]() Codec[T] {
	var zero T
	w := NewWriter(8)
	PT(&zero).Encode(w)
	if w.Len() == 0 {
		panic(fmt.Errorf("%w: record %T encodes to zero bytes", ErrUnsupportedType, zero))
	}
	return Codec[T]{
		Encode: func(w *Writer, v T) { PT(&v).Encode(w) },
		Decode: func(r *Reader) (T, error) {
			var v T
			err := PT(&v).Decode(r)
			return v, err
		},
	}
}

// SliceOf returns the codec of a sequence of T. Decoding always yields a
// non-nil slice, so an empty sequence decodes to an empty slice.
func SliceOf[T any](elem Codec[T]) Codec[[]T] {
	return Codec[[]T]{
		Encode: func(w *Writer, vs []T) {
			w.WriteLen(len(vs))
			for _, v := range vs {
				elem.Encode(w, v)
			}
		},
		Decode: func(r *Reader) ([]T, error) {
			n, err := r.ReadLen()
			if err != nil {
				return nil, err
			}
			out := make([]T, 0, preallocCap(n))
			for i := 0; i < n; i++ {
				v, err := elem.Decode(r)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		},
	}
}

// OptionOf returns the codec of an optional T, represented as a pointer that
// is nil when the value is absent.
func OptionOf[T any](elem Codec[T]) Codec[*T] {
	return Codec[*T]{
		Encode: func(w *Writer, v *T) {
			w.WriteOptionTag(v != nil)
			if v != nil {
				elem.Encode(w, *v)
			}
		},
		Decode: func(r *Reader) (*T, error) {
			present, err := r.ReadOptionTag()
			if err != nil || !present {
				return nil, err
			}
			v, err := elem.Decode(r)
			if err != nil {
				return nil, err
			}
			return &v, nil
		},
	}
}

// MapOf returns the codec of a map, encoded as a length prefix followed by
// key/value pairs in map iteration order. A repeated key on decode keeps the
// last value.
func MapOf[K comparable, V any](key Codec[K], val Codec[V]) Codec[map[K]V] {
	return Codec[map[K]V]{
		Encode: func(w *Writer, m map[K]V) {
			w.WriteLen(len(m))
			for k, v := range m {
				key.Encode(w, k)
				val.Encode(w, v)
			}
		},
		Decode: func(r *Reader) (map[K]V, error) {
			n, err := r.ReadLen()
			if err != nil {
				return nil, err
			}
			out := make(map[K]V, preallocCap(n))
			for i := 0; i < n; i++ {
				k, err := key.Decode(r)
				if err != nil {
					return nil, err
				}
				v, err := val.Decode(r)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		},
	}
}

// Marshal encodes v into a new byte slice.
func Marshal[T any](c Codec[T], v T) []byte {
	w := NewWriter(64)
	c.Encode(w, v)
	return w.Bytes()
}

// Unmarshal decodes exactly one value from data. Bytes left over after the
// value are reported as ErrTrailingBytes.
func Unmarshal[T any](c Codec[T], data []byte) (T, error) {
	r := NewBytesReader(data)
	v, err := c.Decode(r)
	if err != nil {
		var zero T
		return zero, err
	}
	if r.Remaining() != 0 {
		var zero T
		return zero, ErrTrailingBytes
	}
	return v, nil
}
