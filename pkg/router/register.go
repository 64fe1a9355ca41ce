package router

import (
	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/protocol"
	"github.com/cachem/cachem/pkg/store"
)

// RegisterFetch routes FETCH on cache to f. The body is one key; the
// response is an optional record.
func RegisterFetch[K comparable, R any](b *Builder, cache protocol.CacheID, f store.Fetcher[K, R], key codec.Codec[K], rec codec.Codec[R]) {
	opt := codec.OptionOf(rec)
	b.add(protocol.ActionFetch, cache, func(r *codec.Reader, w *codec.Writer) error {
		id, err := key.Decode(r)
		if err != nil {
			return err
		}
		protocol.WriteOK(w)
		if v, ok := f.Fetch(id); ok {
			opt.Encode(w, &v)
		} else {
			opt.Encode(w, nil)
		}
		return nil
	})
}

// RegisterFetchAll routes FETCHALL on cache to f.
func RegisterFetchAll[R any](b *Builder, cache protocol.CacheID, f store.AllFetcher[R], rec codec.Codec[R]) {
	seq := codec.SliceOf(rec)
	b.add(protocol.ActionFetchAll, cache, func(_ *codec.Reader, w *codec.Writer) error {
		protocol.WriteOK(w)
		seq.Encode(w, f.FetchAll())
		return nil
	})
}

// RegisterLookup routes LOOKUP on cache to f. Keys without a record are
// left out of the response sequence.
func RegisterLookup[K comparable, R any](b *Builder, cache protocol.CacheID, f store.Lookuper[K, R], key codec.Codec[K], rec codec.Codec[R]) {
	keys := codec.SliceOf(key)
	seq := codec.SliceOf(rec)
	b.add(protocol.ActionLookup, cache, func(r *codec.Reader, w *codec.Writer) error {
		ids, err := keys.Decode(r)
		if err != nil {
			return err
		}
		protocol.WriteOK(w)
		seq.Encode(w, f.Lookup(ids))
		return nil
	})
}

// RegisterInsert routes INSERT on cache to f.
func RegisterInsert[R any](b *Builder, cache protocol.CacheID, f store.Inserter[R], rec codec.Codec[R]) {
	seq := codec.SliceOf(rec)
	b.add(protocol.ActionInsert, cache, func(r *codec.Reader, w *codec.Writer) error {
		records, err := seq.Decode(r)
		if err != nil {
			return err
		}
		f.Insert(records...)
		protocol.WriteOK(w)
		return nil
	})
}

// RegisterUpdate routes UPDATE on cache to f. An error from f is sent back
// as an error response.
func RegisterUpdate[R any](b *Builder, cache protocol.CacheID, f store.Updater[R], rec codec.Codec[R]) {
	seq := codec.SliceOf(rec)
	b.add(protocol.ActionUpdate, cache, func(r *codec.Reader, w *codec.Writer) error {
		records, err := seq.Decode(r)
		if err != nil {
			return err
		}
		if err := f.Update(records...); err != nil {
			protocol.WriteError(w, err.Error())
			return nil
		}
		protocol.WriteOK(w)
		return nil
	})
}

// RegisterDelete routes DELETE on cache to f.
func RegisterDelete[K comparable](b *Builder, cache protocol.CacheID, f store.Deleter[K], key codec.Codec[K]) {
	b.add(protocol.ActionDelete, cache, func(r *codec.Reader, w *codec.Writer) error {
		id, err := key.Decode(r)
		if err != nil {
			return err
		}
		f.Delete(id)
		protocol.WriteOK(w)
		return nil
	})
}

// RegisterKeys routes KEYS on cache to f.
func RegisterKeys[K comparable](b *Builder, cache protocol.CacheID, f store.KeyLister[K], key codec.Codec[K]) {
	seq := codec.SliceOf(key)
	b.add(protocol.ActionKeys, cache, func(_ *codec.Reader, w *codec.Writer) error {
		protocol.WriteOK(w)
		seq.Encode(w, f.Keys())
		return nil
	})
}

// RegisterExists routes EXISTS on cache to f.
func RegisterExists[K comparable](b *Builder, cache protocol.CacheID, f store.ExistChecker[K], key codec.Codec[K]) {
	b.add(protocol.ActionExists, cache, func(r *codec.Reader, w *codec.Writer) error {
		id, err := key.Decode(r)
		if err != nil {
			return err
		}
		protocol.WriteOK(w)
		w.WriteBool(f.Exists(id))
		return nil
	})
}

// RegisterMExists routes MEXISTS on cache to f. The response holds one bool
// per requested key, in request order.
func RegisterMExists[K comparable](b *Builder, cache protocol.CacheID, f store.BatchExistChecker[K], key codec.Codec[K]) {
	keys := codec.SliceOf(key)
	flags := codec.SliceOf(codec.Bool)
	b.add(protocol.ActionMExists, cache, func(r *codec.Reader, w *codec.Writer) error {
		ids, err := keys.Decode(r)
		if err != nil {
			return err
		}
		protocol.WriteOK(w)
		flags.Encode(w, f.ExistsEach(ids))
		return nil
	})
}

// RegisterMDelete routes MDELETE on cache to f.
func RegisterMDelete[K comparable](b *Builder, cache protocol.CacheID, f store.BatchDeleter[K], key codec.Codec[K]) {
	keys := codec.SliceOf(key)
	b.add(protocol.ActionMDelete, cache, func(r *codec.Reader, w *codec.Writer) error {
		ids, err := keys.Decode(r)
		if err != nil {
			return err
		}
		f.DeleteEach(ids)
		protocol.WriteOK(w)
		return nil
	})
}

// RegisterCount routes COUNT on cache to f.
func RegisterCount(b *Builder, cache protocol.CacheID, f store.Counter) {
	b.add(protocol.ActionCount, cache, func(_ *codec.Reader, w *codec.Writer) error {
		protocol.WriteOK(w)
		w.WriteUint64(uint64(f.Count()))
		return nil
	})
}

// RegisterStore routes every per-cache action to s.
func RegisterStore[K comparable, R any](b *Builder, cache protocol.CacheID, s *store.Store[K, R], key codec.Codec[K], rec codec.Codec[R]) {
	RegisterFetch[K, R](b, cache, s, key, rec)
	RegisterFetchAll[R](b, cache, s, rec)
	RegisterLookup[K, R](b, cache, s, key, rec)
	RegisterInsert[R](b, cache, s, rec)
	RegisterUpdate[R](b, cache, s, rec)
	RegisterDelete[K](b, cache, s, key)
	RegisterKeys[K](b, cache, s, key)
	RegisterExists[K](b, cache, s, key)
	RegisterCount(b, cache, s)
	RegisterMExists[K](b, cache, s, key)
	RegisterMDelete[K](b, cache, s, key)
}
