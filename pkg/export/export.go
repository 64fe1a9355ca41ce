// Package export converts decoded cache records into interchange formats for
// inspection outside of Cachem, such as dumping a snapshot file.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format encodes and decodes values in an interchange format.
type Format interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal deserializes data into v (must be a pointer).
	Unmarshal(data []byte, v any) error
	// Name returns the format identifier used on the command line.
	Name() string
}

// JSON writes indented JSON.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Name returns "json".
func (JSON) Name() string { return "json" }

// MsgPack writes MessagePack.
type MsgPack struct{}

func (MsgPack) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgPack) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Name returns "msgpack".
func (MsgPack) Name() string { return "msgpack" }

// Formats lists every available format.
var Formats = []Format{JSON{}, MsgPack{}}

// ByName returns the format called name.
func ByName(name string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(f.Name(), name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("export: unknown format %q", name)
}
