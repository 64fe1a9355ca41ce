package client

import (
	"context"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/protocol"
)

// Cache is a typed handle on one server-side cache. The codecs must match
// the ones the server registered for the cache; the wire format carries no
// type information to detect a mismatch.
type Cache[K comparable, R any] struct {
	client *Client
	id     protocol.CacheID
	key    codec.Codec[K]
	rec    codec.Codec[R]
	keys   codec.Codec[[]K]
	recs   codec.Codec[[]R]
}

// NewCache returns a handle on cache id of c.
func NewCache[K comparable, R any](c *Client, id protocol.CacheID, key codec.Codec[K], rec codec.Codec[R]) *Cache[K, R] {
	return &Cache[K, R]{
		client: c,
		id:     id,
		key:    key,
		rec:    rec,
		keys:   codec.SliceOf(key),
		recs:   codec.SliceOf(rec),
	}
}

func (c *Cache[K, R]) header(a protocol.Action) protocol.Header {
	return protocol.Header{Action: a, Cache: c.id}
}

// Fetch returns the record stored under id. found is false when there is
// none.
func (c *Cache[K, R]) Fetch(ctx context.Context, id K) (rec R, found bool, err error) {
	opt := codec.OptionOf(c.rec)
	err = c.client.do(ctx, c.header(protocol.ActionFetch),
		func(w *codec.Writer) { c.key.Encode(w, id) },
		func(r *codec.Reader) error {
			v, err := opt.Decode(r)
			if err != nil {
				return err
			}
			if v != nil {
				rec, found = *v, true
			}
			return nil
		})
	return rec, found, err
}

// FetchAll returns every record of the cache.
func (c *Cache[K, R]) FetchAll(ctx context.Context) ([]R, error) {
	var out []R
	err := c.client.do(ctx, c.header(protocol.ActionFetchAll), nil, func(r *codec.Reader) (err error) {
		out, err = c.recs.Decode(r)
		return err
	})
	return out, err
}

// Lookup returns the records stored under ids. Ids without a record are
// left out, so the result may be shorter than ids.
func (c *Cache[K, R]) Lookup(ctx context.Context, ids ...K) ([]R, error) {
	var out []R
	err := c.client.do(ctx, c.header(protocol.ActionLookup),
		func(w *codec.Writer) { c.keys.Encode(w, ids) },
		func(r *codec.Reader) (err error) {
			out, err = c.recs.Decode(r)
			return err
		})
	return out, err
}

// Insert adds records, overwriting records with the same key.
func (c *Cache[K, R]) Insert(ctx context.Context, records ...R) error {
	return c.client.do(ctx, c.header(protocol.ActionInsert),
		func(w *codec.Writer) { c.recs.Encode(w, records) }, nil)
}

// Update replaces records. Whether missing keys are an error depends on the
// server's cache.
func (c *Cache[K, R]) Update(ctx context.Context, records ...R) error {
	return c.client.do(ctx, c.header(protocol.ActionUpdate),
		func(w *codec.Writer) { c.recs.Encode(w, records) }, nil)
}

// Delete removes the record stored under id.
func (c *Cache[K, R]) Delete(ctx context.Context, id K) error {
	return c.client.do(ctx, c.header(protocol.ActionDelete),
		func(w *codec.Writer) { c.key.Encode(w, id) }, nil)
}

// Keys returns every key of the cache.
func (c *Cache[K, R]) Keys(ctx context.Context) ([]K, error) {
	var out []K
	err := c.client.do(ctx, c.header(protocol.ActionKeys), nil, func(r *codec.Reader) (err error) {
		out, err = c.keys.Decode(r)
		return err
	})
	return out, err
}

// Exists reports whether a record is stored under id.
func (c *Cache[K, R]) Exists(ctx context.Context, id K) (bool, error) {
	var ok bool
	err := c.client.do(ctx, c.header(protocol.ActionExists),
		func(w *codec.Writer) { c.key.Encode(w, id) },
		func(r *codec.Reader) (err error) {
			ok, err = r.ReadBool()
			return err
		})
	return ok, err
}

// ExistsEach reports, for each of ids in order, whether a record is stored
// under it.
func (c *Cache[K, R]) ExistsEach(ctx context.Context, ids ...K) ([]bool, error) {
	var out []bool
	err := c.client.do(ctx, c.header(protocol.ActionMExists),
		func(w *codec.Writer) { c.keys.Encode(w, ids) },
		func(r *codec.Reader) (err error) {
			out, err = codec.SliceOf(codec.Bool).Decode(r)
			return err
		})
	return out, err
}

// DeleteEach removes the records stored under ids in one batch.
func (c *Cache[K, R]) DeleteEach(ctx context.Context, ids ...K) error {
	return c.client.do(ctx, c.header(protocol.ActionMDelete),
		func(w *codec.Writer) { c.keys.Encode(w, ids) }, nil)
}

// Count returns the number of records in the cache.
func (c *Cache[K, R]) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.client.do(ctx, c.header(protocol.ActionCount), nil, func(r *codec.Reader) (err error) {
		n, err = r.ReadUint64()
		return err
	})
	return n, err
}
