// Package sample defines the record types served by the bundled cachem-server
// binary and wires them into the router and the persistence manager.
//
// Cache 0 holds Entry records, encoded by hand. Cache 1 holds Profile
// records, whose codec is derived from the struct declaration.
package sample

import (
	"github.com/google/uuid"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/persist"
	"github.com/cachem/cachem/pkg/protocol"
	"github.com/cachem/cachem/pkg/router"
	"github.com/cachem/cachem/pkg/store"
)

// Cache ids.
const (
	EntryCache   protocol.CacheID = 0
	ProfileCache protocol.CacheID = 1
)

// Snapshot names.
const (
	EntryTarget   = "entries"
	ProfileTarget = "profiles"
)

// Entry is a fixed-size record keyed by ID.
type Entry struct {
	ID   uint32 `json:"id" msgpack:"id"`
	Val1 uint32 `json:"val_1" msgpack:"val_1"`
	Val2 bool   `json:"val_2" msgpack:"val_2"`
	Val3 uint64 `json:"val_3" msgpack:"val_3"`
}

// Encode writes the fields in declaration order.
func (e Entry) Encode(w *codec.Writer) {
	w.WriteUint32(e.ID)
	w.WriteUint32(e.Val1)
	w.WriteBool(e.Val2)
	w.WriteUint64(e.Val3)
}

// Decode reads the fields in declaration order.
func (e *Entry) Decode(r *codec.Reader) (err error) {
	if e.ID, err = r.ReadUint32(); err != nil {
		return err
	}
	if e.Val1, err = r.ReadUint32(); err != nil {
		return err
	}
	if e.Val2, err = r.ReadBool(); err != nil {
		return err
	}
	e.Val3, err = r.ReadUint64()
	return err
}

// EntryKey returns the key of e.
func EntryKey(e Entry) uint32 { return e.ID }

// Profile is a variable-size record keyed by a UUID.
type Profile struct {
	ID       uuid.UUID  `json:"id" msgpack:"id"`
	Name     string     `json:"name" msgpack:"name"`
	Email    string     `json:"email" msgpack:"email"`
	Tags     []string   `json:"tags" msgpack:"tags"`
	Score    float64    `json:"score" msgpack:"score"`
	Updated  int64      `json:"updated" msgpack:"updated"`
	Manager  *uuid.UUID `json:"manager,omitempty" msgpack:"manager,omitempty"`
	Sessions int        `json:"-" msgpack:"-" cachem:"-"`
}

// ProfileKey returns the key of p.
func ProfileKey(p Profile) uuid.UUID { return p.ID }

// Record codecs.
var (
	EntryCodec   = codec.RecordOf[Entry]()
	ProfileCodec = codec.MustReflect[Profile]()
)

// Caches holds the stores served by the sample server.
type Caches struct {
	Entries  *store.Store[uint32, Entry]
	Profiles *store.Store[uuid.UUID, Profile]
}

// NewCaches creates empty stores. opts apply to both.
func NewCaches(opts ...store.Option) *Caches {
	return &Caches{
		Entries:  store.New(EntryKey, opts...),
		Profiles: store.New(ProfileKey, opts...),
	}
}

// Register routes every action of both caches.
func (c *Caches) Register(b *router.Builder) {
	router.RegisterStore(b, EntryCache, c.Entries, codec.Uint32, EntryCodec)
	router.RegisterStore(b, ProfileCache, c.Profiles, codec.UUID, ProfileCodec)
}

// Targets returns the snapshot targets of both caches.
func (c *Caches) Targets() []persist.Target {
	return []persist.Target{
		persist.Bind(EntryTarget, c.Entries, EntryCodec),
		persist.Bind(ProfileTarget, c.Profiles, ProfileCodec),
	}
}
