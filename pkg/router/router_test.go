package router

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/protocol"
	"github.com/cachem/cachem/pkg/store"
)

type entry struct {
	ID   uint32
	Val1 uint32
	Val2 bool
	Val3 uint64
}

var entryCodec = codec.MustReflect[entry]()

func entryKey(e entry) uint32 { return e.ID }

// session runs rt.Serve on one end of an in-memory pipe and returns the
// other end together with a channel carrying Serve's result.
func session(t *testing.T, rt *Router) (net.Conn, <-chan error) {
	t.Helper()
	client, srv := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- rt.Serve(context.Background(), srv)
		srv.Close()
	}()
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { client.Close() })
	return client, done
}

func request(action protocol.Action, cache protocol.CacheID, body func(w *codec.Writer)) []byte {
	w := codec.NewWriter(32)
	protocol.WriteHeader(w, protocol.Header{Action: action, Cache: cache})
	if body != nil {
		body(w)
	}
	return w.Bytes()
}

func send(t *testing.T, conn net.Conn, req []byte) {
	t.Helper()
	_, err := conn.Write(req)
	require.NoError(t, err)
}

func newEntryRouter(t *testing.T, opts ...store.Option) (*Router, *store.Store[uint32, entry]) {
	t.Helper()
	s := store.New(entryKey, opts...)
	b := NewBuilder()
	RegisterStore(b, 0, s, codec.Uint32, entryCodec)
	rt, err := b.Build()
	require.NoError(t, err)
	return rt, s
}

func TestInsertThenFetch(t *testing.T) {
	rt, s := newEntryRouter(t)
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	insert := []byte{
		3, 0, 0, // INSERT, cache 0
		1, 1, // one record
		0, 0, 0, 7, 0, 0, 0, 42, 1, 0, 0, 0, 0, 0, 0, 0, 100,
	}
	send(t, conn, insert)
	require.NoError(t, protocol.ReadStatus(r))

	got, ok := s.Fetch(7)
	require.True(t, ok)
	assert.Equal(t, entry{ID: 7, Val1: 42, Val2: true, Val3: 100}, got)

	send(t, conn, []byte{0, 0, 0, 0, 0, 0, 7})
	resp := make([]byte, 19)
	_, err := io.ReadFull(conn, resp)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0, 1}, insert[5:]...), resp)
}

func TestFetchMissing(t *testing.T) {
	rt, _ := newEntryRouter(t)
	conn, _ := session(t, rt)

	send(t, conn, request(protocol.ActionFetch, 0, func(w *codec.Writer) { w.WriteUint32(1) }))
	resp := make([]byte, 2)
	_, err := io.ReadFull(conn, resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, resp)
}

func TestReadOperations(t *testing.T) {
	rt, s := newEntryRouter(t)
	s.Insert(entry{ID: 1, Val1: 10}, entry{ID: 2, Val1: 20}, entry{ID: 3})
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionLookup, 0, func(w *codec.Writer) {
		codec.SliceOf(codec.Uint32).Encode(w, []uint32{2, 99, 1})
	}))
	require.NoError(t, protocol.ReadStatus(r))
	found, err := codec.SliceOf(entryCodec).Decode(r)
	require.NoError(t, err)
	assert.Equal(t, []entry{{ID: 2, Val1: 20}, {ID: 1, Val1: 10}}, found)

	send(t, conn, request(protocol.ActionFetchAll, 0, nil))
	require.NoError(t, protocol.ReadStatus(r))
	all, err := codec.SliceOf(entryCodec).Decode(r)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	send(t, conn, request(protocol.ActionKeys, 0, nil))
	require.NoError(t, protocol.ReadStatus(r))
	keys, err := codec.SliceOf(codec.Uint32).Decode(r)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, keys)

	send(t, conn, request(protocol.ActionExists, 0, func(w *codec.Writer) { w.WriteUint32(3) }))
	require.NoError(t, protocol.ReadStatus(r))
	exists, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, exists)

	send(t, conn, request(protocol.ActionDelete, 0, func(w *codec.Writer) { w.WriteUint32(3) }))
	require.NoError(t, protocol.ReadStatus(r))

	send(t, conn, request(protocol.ActionCount, 0, nil))
	require.NoError(t, protocol.ReadStatus(r))
	count, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestBatchExistsAndDelete(t *testing.T) {
	rt, s := newEntryRouter(t)
	s.Insert(entry{ID: 1}, entry{ID: 2}, entry{ID: 3})
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)
	ids := codec.SliceOf(codec.Uint32)

	send(t, conn, request(protocol.ActionMExists, 0, func(w *codec.Writer) { ids.Encode(w, []uint32{3, 7, 1}) }))
	require.NoError(t, protocol.ReadStatus(r))
	flags, err := codec.SliceOf(codec.Bool).Decode(r)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, flags)

	send(t, conn, request(protocol.ActionMDelete, 0, func(w *codec.Writer) { ids.Encode(w, []uint32{1, 3, 7}) }))
	require.NoError(t, protocol.ReadStatus(r))
	assert.Equal(t, []uint32{2}, s.Keys())
}

func TestSaveCallsSaveFunc(t *testing.T) {
	saves := 0
	fail := false
	s := store.New(entryKey)
	b := NewBuilder(WithSaveFunc(func(ctx context.Context) error {
		saves++
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	RegisterStore(b, 0, s, codec.Uint32, entryCodec)
	rt, err := b.Build()
	require.NoError(t, err)
	assert.True(t, rt.Handles(protocol.ActionSave, 42))

	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionSave, 42, nil))
	require.NoError(t, protocol.ReadStatus(r))
	assert.Equal(t, 1, saves)

	fail = true
	send(t, conn, request(protocol.ActionSave, 0, nil))
	err = protocol.ReadStatus(r)
	require.ErrorIs(t, err, protocol.ErrServer)
	assert.Contains(t, err.Error(), "disk full")

	send(t, conn, request(protocol.ActionPing, 0, nil))
	assert.NoError(t, protocol.ReadStatus(r))
	assert.Equal(t, 2, saves)
}

func TestSaveWithoutSaveFuncIsUnrouted(t *testing.T) {
	rt, _ := newEntryRouter(t)
	assert.False(t, rt.Handles(protocol.ActionSave, 0))
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionSave, 0, nil))
	err := protocol.ReadStatus(r)
	require.ErrorIs(t, err, protocol.ErrServer)
	assert.Contains(t, err.Error(), "no route for SAVE")

	send(t, conn, request(protocol.ActionPing, 0, nil))
	assert.NoError(t, protocol.ReadStatus(r))
}

func TestStrictUpdateFailureKeepsConnection(t *testing.T) {
	rt, s := newEntryRouter(t, store.WithStrictUpdate())
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionUpdate, 0, func(w *codec.Writer) {
		codec.SliceOf(entryCodec).Encode(w, []entry{{ID: 5}})
	}))
	err := protocol.ReadStatus(r)
	require.ErrorIs(t, err, protocol.ErrServer)
	assert.Contains(t, err.Error(), "not found")
	assert.Zero(t, s.Count())

	send(t, conn, request(protocol.ActionPing, 0, nil))
	assert.NoError(t, protocol.ReadStatus(r))
}

func TestUnknownActionClosesConnection(t *testing.T) {
	rt, _ := newEntryRouter(t)
	conn, done := session(t, rt)

	send(t, conn, []byte{99, 0, 0})
	assert.ErrorIs(t, <-done, protocol.ErrUnknownAction)

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnroutedBodylessActionKeepsConnection(t *testing.T) {
	rt, _ := newEntryRouter(t)
	conn, _ := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionCount, 9, nil))
	err := protocol.ReadStatus(r)
	require.ErrorIs(t, err, protocol.ErrServer)
	assert.Contains(t, err.Error(), "no route for COUNT on cache 9")

	send(t, conn, request(protocol.ActionPing, 9, nil))
	assert.NoError(t, protocol.ReadStatus(r))
}

func TestUnroutedBodyActionClosesAfterResponse(t *testing.T) {
	rt, _ := newEntryRouter(t)
	conn, done := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionFetch, 4, func(w *codec.Writer) { w.WriteUint32(1) }))
	assert.ErrorIs(t, protocol.ReadStatus(r), protocol.ErrServer)
	assert.ErrorIs(t, <-done, ErrRouteNotFound)

	_, err := r.ReadUint8()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMalformedBodyClosesWithoutResponse(t *testing.T) {
	rt, s := newEntryRouter(t)
	conn, done := session(t, rt)

	send(t, conn, []byte{
		3, 0, 0,
		1, 1,
		0, 0, 0, 7, 0, 0, 0, 42, 2, 0, 0, 0, 0, 0, 0, 0, 100, // bool byte 2
	})
	err := <-done
	assert.ErrorIs(t, err, codec.ErrInvalidBool)
	assert.Zero(t, s.Count())

	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestCleanCloseEndsServe(t *testing.T) {
	rt, _ := newEntryRouter(t)
	conn, done := session(t, rt)
	r := codec.NewReader(conn)

	send(t, conn, request(protocol.ActionPing, 0, nil))
	require.NoError(t, protocol.ReadStatus(r))
	require.NoError(t, conn.Close())
	assert.NoError(t, <-done)
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	s := store.New(entryKey)
	b := NewBuilder()
	RegisterFetch(b, 0, s, codec.Uint32, entryCodec)
	RegisterFetch(b, 0, s, codec.Uint32, entryCodec)
	RegisterCount(b, 1, s)
	b.add(protocol.ActionSave, 1, func(*codec.Reader, *codec.Writer) error { return nil })

	_, err := b.Build()
	assert.ErrorIs(t, err, ErrDuplicateRoute)
	assert.ErrorContains(t, err, "SAVE is handled internally")
}

func TestRouterHandles(t *testing.T) {
	s := store.New(entryKey)
	b := NewBuilder()
	RegisterCount(b, 2, s)
	RegisterInsert(b, 2, s, entryCodec)
	rt, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, 2, rt.Len())
	assert.True(t, rt.Handles(protocol.ActionCount, 2))
	assert.True(t, rt.Handles(protocol.ActionPing, 77))
	assert.False(t, rt.Handles(protocol.ActionFetch, 2))
}
