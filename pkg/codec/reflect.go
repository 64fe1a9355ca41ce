package codec

import (
	"fmt"
	"reflect"
	"strings"
)

type encodeFunc func(w *Writer, v reflect.Value)
type decodeFunc func(r *Reader, v reflect.Value) error

var recordType = reflect.TypeOf((*Record)(nil)).Elem()

// Reflect derives a Codec for T from its structure. Struct fields are
// encoded in declaration order; unexported fields and fields tagged
// `cachem:"-"` are skipped. Nested structs, arrays, slices (as sequences) and
// pointers (as optional values) are supported, as are all primitive kinds
// with a fixed width. Types whose pointer implements Record use their own
// methods. int, uint and uintptr are rejected because their width depends on
// the platform.
//
// The derived codec produces exactly the bytes a hand-written Record
// implementation with the same field order would.
func Reflect[T any]() (Codec[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	enc, dec, err := compile(t, map[reflect.Type]bool{})
	if err != nil {
		return Codec[T]{}, err
	}
	return Codec[T]{
		Encode: func(w *Writer, v T) {
			enc(w, reflect.ValueOf(&v).Elem())
		},
		Decode: func(r *Reader) (T, error) {
			var v T
			err := dec(r, reflect.ValueOf(&v).Elem())
			return v, err
		},
	}, nil
}

// MustReflect is like Reflect but panics if T cannot be encoded. It is meant
// for package-level codec variables.
func MustReflect[T any]() Codec[T] {
	c, err := Reflect[T]()
	if err != nil {
		panic(err)
	}
	return c
}

func compile(t reflect.Type, visiting map[reflect.Type]bool) (encodeFunc, decodeFunc, error) {
	if reflect.PointerTo(t).Implements(recordType) && t.Kind() != reflect.Pointer {
		return func(w *Writer, v reflect.Value) {
				v.Addr().Interface().(Record).Encode(w)
			}, func(r *Reader, v reflect.Value) error {
				return v.Addr().Interface().(Record).Decode(r)
			}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return func(w *Writer, v reflect.Value) { w.WriteBool(v.Bool()) },
			func(r *Reader, v reflect.Value) error {
				b, err := r.ReadBool()
				v.SetBool(b)
				return err
			}, nil
	case reflect.Uint8:
		return func(w *Writer, v reflect.Value) { w.WriteUint8(uint8(v.Uint())) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadUint8()
				v.SetUint(uint64(n))
				return err
			}, nil
	case reflect.Uint16:
		return func(w *Writer, v reflect.Value) { w.WriteUint16(uint16(v.Uint())) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadUint16()
				v.SetUint(uint64(n))
				return err
			}, nil
	case reflect.Uint32:
		return func(w *Writer, v reflect.Value) { w.WriteUint32(uint32(v.Uint())) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadUint32()
				v.SetUint(uint64(n))
				return err
			}, nil
	case reflect.Uint64:
		return func(w *Writer, v reflect.Value) { w.WriteUint64(v.Uint()) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadUint64()
				v.SetUint(n)
				return err
			}, nil
	case reflect.Int32:
		return func(w *Writer, v reflect.Value) { w.WriteInt32(int32(v.Int())) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadInt32()
				v.SetInt(int64(n))
				return err
			}, nil
	case reflect.Int64:
		return func(w *Writer, v reflect.Value) { w.WriteInt64(v.Int()) },
			func(r *Reader, v reflect.Value) error {
				n, err := r.ReadInt64()
				v.SetInt(n)
				return err
			}, nil
	case reflect.Float32:
		return func(w *Writer, v reflect.Value) { w.WriteFloat32(float32(v.Float())) },
			func(r *Reader, v reflect.Value) error {
				f, err := r.ReadFloat32()
				v.SetFloat(float64(f))
				return err
			}, nil
	case reflect.Float64:
		return func(w *Writer, v reflect.Value) { w.WriteFloat64(v.Float()) },
			func(r *Reader, v reflect.Value) error {
				f, err := r.ReadFloat64()
				v.SetFloat(f)
				return err
			}, nil
	case reflect.String:
		return func(w *Writer, v reflect.Value) { w.WriteString(v.String()) },
			func(r *Reader, v reflect.Value) error {
				s, err := r.ReadString()
				v.SetString(s)
				return err
			}, nil
	case reflect.Array:
		return compileArray(t, visiting)
	case reflect.Slice:
		return compileSlice(t, visiting)
	case reflect.Pointer:
		return compilePointer(t, visiting)
	case reflect.Struct:
		return compileStruct(t, visiting)
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func compileArray(t reflect.Type, visiting map[reflect.Type]bool) (encodeFunc, decodeFunc, error) {
	if t.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: zero-length array %s", ErrUnsupportedType, t)
	}
	if t.Elem().Kind() == reflect.Uint8 {
		n := t.Len()
		return func(w *Writer, v reflect.Value) {
				for i := 0; i < n; i++ {
					w.WriteUint8(uint8(v.Index(i).Uint()))
				}
			}, func(r *Reader, v reflect.Value) error {
				b, err := r.ReadRaw(n)
				if err != nil {
					return err
				}
				reflect.Copy(v, reflect.ValueOf(b))
				return nil
			}, nil
	}
	enc, dec, err := compile(t.Elem(), visiting)
	if err != nil {
		return nil, nil, err
	}
	return func(w *Writer, v reflect.Value) {
			for i := 0; i < v.Len(); i++ {
				enc(w, v.Index(i))
			}
		}, func(r *Reader, v reflect.Value) error {
			for i := 0; i < v.Len(); i++ {
				if err := dec(r, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}, nil
}

func compileSlice(t reflect.Type, visiting map[reflect.Type]bool) (encodeFunc, decodeFunc, error) {
	enc, dec, err := compile(t.Elem(), visiting)
	if err != nil {
		return nil, nil, err
	}
	return func(w *Writer, v reflect.Value) {
			w.WriteLen(v.Len())
			for i := 0; i < v.Len(); i++ {
				enc(w, v.Index(i))
			}
		}, func(r *Reader, v reflect.Value) error {
			n, err := r.ReadLen()
			if err != nil {
				return err
			}
			out := reflect.MakeSlice(t, 0, preallocCap(n))
			elem := reflect.New(t.Elem()).Elem()
			for i := 0; i < n; i++ {
				elem.SetZero()
				if err := dec(r, elem); err != nil {
					return err
				}
				out = reflect.Append(out, elem)
			}
			v.Set(out)
			return nil
		}, nil
}

func compilePointer(t reflect.Type, visiting map[reflect.Type]bool) (encodeFunc, decodeFunc, error) {
	if visiting[t.Elem()] {
		return nil, nil, fmt.Errorf("%w: recursive type %s", ErrUnsupportedType, t.Elem())
	}
	enc, dec, err := compile(t.Elem(), visiting)
	if err != nil {
		return nil, nil, err
	}
	return func(w *Writer, v reflect.Value) {
			w.WriteOptionTag(!v.IsNil())
			if !v.IsNil() {
				enc(w, v.Elem())
			}
		}, func(r *Reader, v reflect.Value) error {
			present, err := r.ReadOptionTag()
			if err != nil {
				return err
			}
			if !present {
				v.SetZero()
				return nil
			}
			p := reflect.New(t.Elem())
			if err := dec(r, p.Elem()); err != nil {
				return err
			}
			v.Set(p)
			return nil
		}, nil
}

type fieldCodec struct {
	index int
	enc   encodeFunc
	dec   decodeFunc
}

func compileStruct(t reflect.Type, visiting map[reflect.Type]bool) (encodeFunc, decodeFunc, error) {
	if visiting[t] {
		return nil, nil, fmt.Errorf("%w: recursive type %s", ErrUnsupportedType, t)
	}
	visiting[t] = true
	defer delete(visiting, t)

	var fields []fieldCodec
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || strings.TrimSpace(f.Tag.Get("cachem")) == "-" {
			continue
		}
		enc, dec, err := compile(f.Type, visiting)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s.%s: %w", t.Name(), f.Name, err)
		}
		fields = append(fields, fieldCodec{index: i, enc: enc, dec: dec})
	}
	// An empty record would encode to zero bytes and defeat the length
	// prefix bound check.
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%w: struct %s has no encodable fields", ErrUnsupportedType, t)
	}

	return func(w *Writer, v reflect.Value) {
			for _, f := range fields {
				f.enc(w, v.Field(f.index))
			}
		}, func(r *Reader, v reflect.Value) error {
			for _, f := range fields {
				if err := f.dec(r, v.Field(f.index)); err != nil {
					return err
				}
			}
			return nil
		}, nil
}
