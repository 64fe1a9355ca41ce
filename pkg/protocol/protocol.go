// Package protocol defines the Cachem wire format shared by the server and
// the client SDK.
//
// The protocol is designed for minimal per-request overhead: there is no
// message length frame and no schema. Each request is a 3-byte header
// followed by a body whose layout is fixed by the action and by the record
// types registered for the target cache:
//
//	+--------+-----------+------------------------+
//	| Action | CacheID   | Body (action specific) |
//	| 1 byte | 2 bytes   | variable               |
//	+--------+-----------+------------------------+
//
// Each response starts with a status byte. StatusOK is followed by the
// action's result payload; StatusError is followed by a NUL-terminated error
// message. All integers are big-endian and all values use the encoding of
// package codec.
//
// Request bodies and OK payloads per action:
//   - FETCH: key                       -> optional record
//   - FETCHALL: (none)                 -> sequence of records
//   - LOOKUP: sequence of keys         -> sequence of records (missing keys omitted)
//   - INSERT: sequence of records      -> (none)
//   - UPDATE: sequence of records      -> (none)
//   - DELETE: key                      -> (none)
//   - KEYS: (none)                     -> sequence of keys
//   - EXISTS: key                      -> bool
//   - COUNT: (none)                    -> uint64
//   - MEXISTS: sequence of keys        -> sequence of bools, one per key
//   - MDELETE: sequence of keys        -> (none)
//   - SAVE: (none, CacheID ignored)    -> (none), after every cache was snapshotted
//   - PING: (none, CacheID ignored)    -> (none)
//
// Example usage:
//
//	w := codec.NewWriter(16)
//	protocol.WriteHeader(w, protocol.Header{Action: protocol.ActionFetch, Cache: 0})
//	codec.Uint32.Encode(w, 7)
//	if _, err := w.WriteTo(conn); err != nil {
//		return err
//	}
//
//	r := codec.NewReader(conn)
//	if err := protocol.ReadStatus(r); err != nil {
//		return err
//	}
//	entry, err := codec.OptionOf(entries).Decode(r)
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cachem/cachem/pkg/codec"
)

// HeaderSize is the number of bytes in a request header.
const HeaderSize = 3

// Action selects the operation a request performs.
type Action uint8

// Action constants. The numeric values are part of the wire format.
const (
	ActionFetch    Action = 0   // FETCH key - point lookup
	ActionFetchAll Action = 1   // FETCHALL - every record of the cache
	ActionLookup   Action = 2   // LOOKUP keys... - bulk point lookup
	ActionInsert   Action = 3   // INSERT records... - add or overwrite
	ActionUpdate   Action = 4   // UPDATE records... - replace
	ActionDelete   Action = 5   // DELETE key - remove
	ActionKeys     Action = 6   // KEYS - every key of the cache
	ActionExists   Action = 7   // EXISTS key - presence check
	ActionCount    Action = 8   // COUNT - number of records
	ActionMExists  Action = 9   // MEXISTS keys... - bulk presence check
	ActionMDelete  Action = 10  // MDELETE keys... - bulk remove
	ActionSave     Action = 11  // SAVE - snapshot every cache now
	ActionPing     Action = 254 // PING - connectivity test
)

var actionNames = map[Action]string{
	ActionFetch:    "FETCH",
	ActionFetchAll: "FETCHALL",
	ActionLookup:   "LOOKUP",
	ActionInsert:   "INSERT",
	ActionUpdate:   "UPDATE",
	ActionDelete:   "DELETE",
	ActionKeys:     "KEYS",
	ActionExists:   "EXISTS",
	ActionCount:    "COUNT",
	ActionMExists:  "MEXISTS",
	ActionMDelete:  "MDELETE",
	ActionSave:     "SAVE",
	ActionPing:     "PING",
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// HasBody reports whether requests with this action carry a body after the
// header. A server that cannot route such a request cannot skip its body.
func (a Action) HasBody() bool {
	switch a {
	case ActionFetchAll, ActionKeys, ActionCount, ActionSave, ActionPing:
		return false
	default:
		return true
	}
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ACTION(%d)", uint8(a))
}

// ParseAction converts an action name such as "fetch" or "KEYS" into an
// Action. It is used by text front ends like the command-line client.
func ParseAction(name string) (Action, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == upper {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// CacheID selects the cache a request targets.
type CacheID uint16

// Status is the first byte of every response.
type Status uint8

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

// Header is the fixed part of a request.
type Header struct {
	Action Action
	Cache  CacheID
}

// Protocol errors.
var (
	// ErrUnknownAction is returned by ReadHeader for an action byte that is
	// not defined. The rest of the stream cannot be interpreted.
	ErrUnknownAction = errors.New("protocol: unknown action")
	// ErrInvalidStatus is returned by ReadStatus for an undefined status byte.
	ErrInvalidStatus = errors.New("protocol: invalid response status")
	// ErrServer wraps the message of a StatusError response.
	ErrServer = errors.New("protocol: server error")
)

// WriteHeader appends a request header to w.
func WriteHeader(w *codec.Writer, h Header) {
	w.WriteUint8(uint8(h.Action))
	w.WriteUint16(uint16(h.Cache))
}

// ReadHeader reads a request header. An io.EOF-matching error means the
// peer closed the stream cleanly before a new request started.
func ReadHeader(r *codec.Reader) (Header, error) {
	a, err := r.ReadUint8()
	if err != nil {
		return Header{}, err
	}
	action := Action(a)
	if !action.Valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownAction, a)
	}
	cache, err := r.ReadUint16()
	if err != nil {
		return Header{}, err
	}
	return Header{Action: action, Cache: CacheID(cache)}, nil
}

// WriteOK appends a success status; the action payload follows.
func WriteOK(w *codec.Writer) { w.WriteUint8(uint8(StatusOK)) }

// WriteError appends an error status and message. NUL bytes in msg are
// replaced so they cannot terminate the message early.
func WriteError(w *codec.Writer, msg string) {
	w.WriteUint8(uint8(StatusError))
	w.WriteString(strings.ReplaceAll(msg, "\x00", " "))
}

// ReadStatus reads a response status. It returns nil for StatusOK, an error
// wrapping ErrServer with the server's message for StatusError, and a read
// or ErrInvalidStatus error otherwise.
func ReadStatus(r *codec.Reader) error {
	s, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch Status(s) {
	case StatusOK:
		return nil
	case StatusError:
		msg, err := r.ReadString()
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrServer, msg)
	default:
		return fmt.Errorf("%w: %d", ErrInvalidStatus, s)
	}
}
