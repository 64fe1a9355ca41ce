// Package store provides the in-memory collections ("caches") served by a
// Cachem server.
//
// A Store holds records of one application type keyed by an identifier the
// record carries itself. The operations a cache supports are split into one
// small interface per capability (Fetcher, Lookuper, Inserter, ...) so that a
// custom cache only has to implement what its routes need; Store implements
// all of them.
//
// Concurrency: reads share a sync.RWMutex read lock, writes take it
// exclusively. Batch operations acquire the lock once, so a batch is applied
// atomically with respect to every other operation on the same Store. The
// lock never covers network I/O.
//
// Example usage:
//
//	entries := store.New(func(e Entry) uint32 { return e.ID })
//	entries.Insert(Entry{ID: 1}, Entry{ID: 2})
//
//	if e, ok := entries.Fetch(1); ok {
//		fmt.Println(e)
//	}
//
//	found := entries.Lookup([]uint32{1, 99}) // only entry 1
//	entries.Delete(2)
//	entries.DeleteEach([]uint32{3, 4})
package store

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Update on a store created with
// WithStrictUpdate when a record's key is not present.
var ErrNotFound = errors.New("store: record not found")

// Fetcher returns the record stored under id. Absence is reported through
// the boolean, never as an error.
type Fetcher[K comparable, R any] interface {
	Fetch(id K) (R, bool)
}

// AllFetcher returns every record at call time, in no particular order.
type AllFetcher[R any] interface {
	FetchAll() []R
}

// Lookuper returns the records stored under ids. Ids that are not present
// are omitted from the result rather than reported, so the result may be
// shorter than ids; callers that need strict semantics compare lengths or
// use Fetch.
type Lookuper[K comparable, R any] interface {
	Lookup(ids []K) []R
}

// Inserter adds records, overwriting any record with the same key.
type Inserter[R any] interface {
	Insert(records ...R)
}

// Updater replaces the records stored under the keys of records.
type Updater[R any] interface {
	Update(records ...R) error
}

// Deleter removes the record stored under id. Removing an absent id is not
// an error.
type Deleter[K comparable] interface {
	Delete(id K)
}

// BatchDeleter removes the records stored under ids in one step.
type BatchDeleter[K comparable] interface {
	DeleteEach(ids []K)
}

// KeyLister returns every key at call time, in no particular order.
type KeyLister[K comparable] interface {
	Keys() []K
}

// ExistChecker reports whether a record is stored under id.
type ExistChecker[K comparable] interface {
	Exists(id K) bool
}

// BatchExistChecker reports, for each of ids in order, whether a record is
// stored under it.
type BatchExistChecker[K comparable] interface {
	ExistsEach(ids []K) []bool
}

// Counter reports the number of stored records.
type Counter interface {
	Count() int
}

// Replacer swaps the entire contents for records in one step.
type Replacer[R any] interface {
	Replace(records []R)
}

type options struct {
	strictUpdate bool
	capacity     int
}

// Option configures a Store.
type Option func(*options)

// WithStrictUpdate makes Update fail with ErrNotFound, applying nothing,
// when any record in the batch has a key that is not present. By default
// Update behaves like Insert.
func WithStrictUpdate() Option {
	return func(o *options) { o.strictUpdate = true }
}

// WithCapacity pre-sizes the underlying map.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// Store is a concurrency-safe map from key to record. The zero value is not
// usable; create one with New.
type Store[K comparable, R any] struct {
	mu     sync.RWMutex
	data   map[K]R
	key    func(R) K
	strict bool
}

// New creates an empty Store. key extracts the identifying field of a
// record.
func New[K comparable, R any](key func(R) K, opts ...Option) *Store[K, R] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[K, R]{
		data:   make(map[K]R, o.capacity),
		key:    key,
		strict: o.strictUpdate,
	}
}

// Key returns the identifying key of r.
func (s *Store[K, R]) Key(r R) K { return s.key(r) }

func (s *Store[K, R]) Fetch(id K) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	return r, ok
}

func (s *Store[K, R]) FetchAll() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]R, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	return out
}

// Lookup takes a single read lock for the whole batch, so the result is a
// consistent view of the store.
func (s *Store[K, R]) Lookup(ids []K) []R {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]R, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.data[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store[K, R]) Insert(records ...R) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.data[s.key(r)] = r
	}
}

func (s *Store[K, R]) Update(records ...R) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.strict {
		for _, r := range records {
			if _, ok := s.data[s.key(r)]; !ok {
				return fmt.Errorf("%w: %v", ErrNotFound, s.key(r))
			}
		}
	}
	for _, r := range records {
		s.data[s.key(r)] = r
	}
	return nil
}

func (s *Store[K, R]) Delete(id K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
}

// DeleteEach removes every id under one write lock.
func (s *Store[K, R]) DeleteEach(ids []K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.data, id)
	}
}

func (s *Store[K, R]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]K, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

func (s *Store[K, R]) Exists(id K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok
}

func (s *Store[K, R]) ExistsEach(ids []K) []bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bool, len(ids))
	for i, id := range ids {
		_, out[i] = s.data[id]
	}
	return out
}

func (s *Store[K, R]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Replace discards the current contents and stores records instead. It is
// used to load a snapshot.
func (s *Store[K, R]) Replace(records []R) {
	data := make(map[K]R, len(records))
	for _, r := range records {
		data[s.key(r)] = r
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}
