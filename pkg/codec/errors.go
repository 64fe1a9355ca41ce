package codec

import "errors"

// Decode errors. Encoding never fails for in-memory values, so every error in
// this list is produced by a Reader.
var (
	ErrUnexpectedEOF   = errors.New("codec: unexpected end of stream")
	ErrLengthOverflow  = errors.New("codec: length exceeds remaining input")
	ErrInvalidLength   = errors.New("codec: invalid length prefix")
	ErrInvalidBool     = errors.New("codec: invalid bool byte")
	ErrInvalidString   = errors.New("codec: string is not valid UTF-8")
	ErrInvalidOption   = errors.New("codec: invalid option tag")
	ErrTrailingBytes   = errors.New("codec: trailing bytes after value")
	ErrUnsupportedType = errors.New("codec: unsupported type")
)

var decodeErrors = []error{
	ErrUnexpectedEOF,
	ErrLengthOverflow,
	ErrInvalidLength,
	ErrInvalidBool,
	ErrInvalidString,
	ErrInvalidOption,
	ErrTrailingBytes,
}

// IsDecodeError reports whether err was caused by malformed or truncated
// input, as opposed to a failure of the underlying transport.
func IsDecodeError(err error) bool {
	for _, target := range decodeErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
