package codec

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"
)

// Length prefix width tags. The tag byte is followed by the element count in
// exactly that many big-endian bytes.
const (
	lenTag8  = 1
	lenTag16 = 2
	lenTag32 = 4
	lenTag64 = 8
)

// Writer is an append-only encode buffer. All Write methods are infallible;
// errors can only surface when the buffer is flushed with WriteTo.
//
// Example:
//
//	w := codec.NewWriter(64)
//	w.WriteUint32(7)
//	w.WriteString("hello")
//	if _, err := w.WriteTo(conn); err != nil {
//		return err
//	}
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The slice aliases the internal buffer and
// is only valid until the next Write or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reset empties the buffer while keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// WriteTo writes the encoded bytes to dst. The buffer is left untouched.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	n, err := dst.Write(w.buf)
	return int64(n), err
}

// WriteRaw appends b verbatim.
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteUint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteUint32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteUint64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

// WriteUint128 appends the high half followed by the low half.
func (w *Writer) WriteUint128(v Uint128) {
	w.WriteUint64(v.Hi)
	w.WriteUint64(v.Lo)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBool appends 1 for true and 0 for false.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteString appends the raw bytes of s followed by a single 0x00
// terminator. s must not contain 0x00 itself; it is not escaped.
func (w *Writer) WriteString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteUUID appends the 16 raw bytes of id.
func (w *Writer) WriteUUID(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }

// WriteLen appends a sequence length prefix using the smallest width that
// holds n.
func (w *Writer) WriteLen(n int) {
	u := uint64(n)
	switch {
	case u <= math.MaxUint8:
		w.buf = append(w.buf, lenTag8, byte(u))
	case u <= math.MaxUint16:
		w.buf = append(w.buf, lenTag16)
		w.WriteUint16(uint16(u))
	case u <= math.MaxUint32:
		w.buf = append(w.buf, lenTag32)
		w.WriteUint32(uint32(u))
	default:
		w.buf = append(w.buf, lenTag64)
		w.WriteUint64(u)
	}
}

// WriteOptionTag appends the presence byte that precedes an optional value.
func (w *Writer) WriteOptionTag(present bool) { w.WriteBool(present) }
