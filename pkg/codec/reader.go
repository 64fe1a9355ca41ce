package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxLen bounds sequence counts and string lengths accepted by a
// stream Reader unless overridden with WithMaxLen.
const DefaultMaxLen = 1 << 24

// maxPrealloc caps the capacity reserved from a decoded count before any
// element has actually been read.
const maxPrealloc = 1024

type byteSource interface {
	io.Reader
	io.ByteReader
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxLen sets the largest sequence count or string length the Reader
// accepts. Values below 1 are ignored.
func WithMaxLen(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// Reader decodes values from a byte stream. It keeps track of how many bytes
// it has consumed and, when created from a byte slice, how many remain.
//
// Every Read method either returns a complete value or an error; a Reader
// never panics on malformed input. Errors caused by the input itself satisfy
// IsDecodeError; errors from the underlying io.Reader are passed through
// wrapped.
//
// When the stream ends before the first byte of a value, the returned error
// matches both ErrUnexpectedEOF and io.EOF, which lets a caller tell a clean
// close between values from a truncated value.
type Reader struct {
	src      byteSource
	consumed int64
	limit    int64 // total input size for byte-slice readers, -1 for streams
	maxLen   int
	scratch  [16]byte
}

// NewReader creates a Reader over a stream. If src does not implement
// io.ByteReader it is wrapped in a bufio.Reader.
func NewReader(src io.Reader, opts ...ReaderOption) *Reader {
	bs, ok := src.(byteSource)
	if !ok {
		bs = bufio.NewReader(src)
	}
	r := &Reader{src: bs, limit: -1, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewBytesReader creates a Reader over a complete in-memory buffer. Length
// prefixes that claim more elements than there are bytes left are rejected
// up front.
func NewBytesReader(data []byte, opts ...ReaderOption) *Reader {
	r := &Reader{src: bytes.NewReader(data), limit: int64(len(data)), maxLen: math.MaxInt}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consumed returns the number of bytes read so far.
func (r *Reader) Consumed() int64 { return r.consumed }

// Remaining returns the number of unread bytes of a byte-slice Reader, or -1
// for a stream Reader.
func (r *Reader) Remaining() int64 {
	if r.limit < 0 {
		return -1
	}
	return r.limit - r.consumed
}

func (r *Reader) readErr(err error, n int) error {
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		return fmt.Errorf("%w: %w", ErrUnexpectedEOF, io.EOF)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrUnexpectedEOF
	default:
		return fmt.Errorf("codec: read: %w", err)
	}
}

func (r *Reader) fill(n int) ([]byte, error) {
	buf := r.scratch[:n]
	read, err := io.ReadFull(r.src, buf)
	r.consumed += int64(read)
	if err != nil {
		return nil, r.readErr(err, read)
	}
	return buf, nil
}

// ReadRaw reads exactly n bytes into a new slice.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if r.limit >= 0 && int64(n) > r.Remaining() {
		return nil, ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(r.src, buf)
	r.consumed += int64(read)
	if err != nil {
		return nil, r.readErr(err, read)
	}
	return buf, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.src.ReadByte()
	if err != nil {
		return 0, r.readErr(err, 0)
	}
	r.consumed++
	return b, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadUint128() (Uint128, error) {
	b, err := r.fill(16)
	if err != nil {
		return Uint128{}, err
	}
	return Uint128{Hi: binary.BigEndian.Uint64(b[:8]), Lo: binary.BigEndian.Uint64(b[8:])}, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBool reads one byte; only 0 and 1 are valid.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b)
	}
}

// ReadString reads bytes up to and including the next 0x00 terminator and
// returns them without the terminator. A stream that ends before the
// terminator yields ErrUnexpectedEOF.
func (r *Reader) ReadString() (string, error) {
	var buf []byte
	for {
		b, err := r.src.ReadByte()
		if err != nil {
			return "", r.readErr(err, len(buf))
		}
		r.consumed++
		if b == 0 {
			break
		}
		if len(buf) >= r.maxLen {
			return "", fmt.Errorf("%w: string longer than %d bytes", ErrLengthOverflow, r.maxLen)
		}
		buf = append(buf, b)
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidString
	}
	return string(buf), nil
}

func (r *Reader) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.fill(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ReadLen reads a sequence length prefix. Non-minimal widths, unknown tags,
// and counts larger than the remaining input (or the configured maximum) are
// rejected.
func (r *Reader) ReadLen() (int, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}

	var n uint64
	switch tag {
	case lenTag8:
		v, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		n = uint64(v)
	case lenTag16:
		v, err := r.ReadUint16()
		if err != nil {
			return 0, err
		}
		n = uint64(v)
		if n <= math.MaxUint8 {
			return 0, fmt.Errorf("%w: %d encoded in 2 bytes", ErrInvalidLength, n)
		}
	case lenTag32:
		v, err := r.ReadUint32()
		if err != nil {
			return 0, err
		}
		n = uint64(v)
		if n <= math.MaxUint16 {
			return 0, fmt.Errorf("%w: %d encoded in 4 bytes", ErrInvalidLength, n)
		}
	case lenTag64:
		n, err = r.ReadUint64()
		if err != nil {
			return 0, err
		}
		if n <= math.MaxUint32 {
			return 0, fmt.Errorf("%w: %d encoded in 8 bytes", ErrInvalidLength, n)
		}
	default:
		return 0, fmt.Errorf("%w: unknown width tag %d", ErrInvalidLength, tag)
	}

	if n > uint64(r.maxLen) {
		return 0, fmt.Errorf("%w: %d exceeds limit %d", ErrLengthOverflow, n, r.maxLen)
	}
	// Every element occupies at least one byte.
	if r.limit >= 0 && n > uint64(r.Remaining()) {
		return 0, fmt.Errorf("%w: %d elements, %d bytes left", ErrLengthOverflow, n, r.Remaining())
	}
	return int(n), nil
}

// ReadOptionTag reads the presence byte of an optional value.
func (r *Reader) ReadOptionTag() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidOption, b)
	}
}

func preallocCap(n int) int {
	if n > maxPrealloc {
		return maxPrealloc
	}
	return n
}
