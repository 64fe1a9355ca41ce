package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/config"
	"github.com/cachem/cachem/pkg/protocol"
	"github.com/cachem/cachem/pkg/router"
	"github.com/cachem/cachem/pkg/store"
)

type entry struct {
	ID   uint32
	Val1 uint32
	Val2 bool
	Val3 uint64
}

var entryCodec = codec.MustReflect[entry]()

// testServer serves a router on a loopback listener and remembers its
// connections so a test can drop them.
type testServer struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func startServer(t *testing.T, rt *router.Router) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts := &testServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.conns = append(ts.conns, conn)
			ts.mu.Unlock()
			go func() {
				defer conn.Close()
				_ = rt.Serve(context.Background(), conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		ts.dropConnections()
	})
	return ts
}

func (ts *testServer) dropConnections() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func setup(t *testing.T, opts ...store.Option) (*Cache[uint32, entry], *store.Store[uint32, entry], *testServer, *Client) {
	t.Helper()
	s := store.New(func(e entry) uint32 { return e.ID }, opts...)
	b := router.NewBuilder()
	router.RegisterStore(b, 0, s, codec.Uint32, entryCodec)
	rt, err := b.Build()
	require.NoError(t, err)
	ts := startServer(t, rt)

	cfg := config.DefaultClientConfig()
	cfg.Address = ts.ln.Addr().String()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return NewCache(c, 0, codec.Uint32, entryCodec), s, ts, c
}

func TestCacheOperations(t *testing.T) {
	entries, s, _, c := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	e7 := entry{ID: 7, Val1: 42, Val2: true, Val3: 100}
	require.NoError(t, entries.Insert(ctx, e7, entry{ID: 8}))
	assert.Equal(t, 2, s.Count())

	got, found, err := entries.Fetch(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, e7, got)

	_, found, err = entries.Fetch(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)

	found2, err := entries.Lookup(ctx, 8, 99, 7)
	require.NoError(t, err)
	assert.Equal(t, []entry{{ID: 8}, e7}, found2)

	all, err := entries.FetchAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []entry{e7, {ID: 8}}, all)

	keys, err := entries.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{7, 8}, keys)

	require.NoError(t, entries.Update(ctx, entry{ID: 8, Val1: 1}))
	got, _, err = entries.Fetch(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.Val1)

	require.NoError(t, entries.Delete(ctx, 8))
	ok, err := entries.Exists(ctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := entries.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, entries.Insert(ctx, entry{ID: 20}, entry{ID: 21}))
	flags, err := entries.ExistsEach(ctx, 21, 8, 7)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, flags)

	require.NoError(t, entries.DeleteEach(ctx, 7, 20, 8))
	assert.Equal(t, []uint32{21}, s.Keys())
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	entries, _, _, c := setup(t)
	err := c.Save(ctx)
	require.ErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), "no route for SAVE")
	require.NoError(t, entries.Insert(ctx, entry{ID: 1}), "connection stays usable")

	saved := make(chan struct{}, 1)
	b := router.NewBuilder(router.WithSaveFunc(func(context.Context) error {
		saved <- struct{}{}
		return nil
	}))
	rt, err := b.Build()
	require.NoError(t, err)
	ts := startServer(t, rt)

	cfg := config.DefaultClientConfig()
	cfg.Address = ts.ln.Addr().String()
	saver, err := New(cfg)
	require.NoError(t, err)
	defer saver.Close()

	require.NoError(t, saver.Save(ctx))
	assert.Len(t, saved, 1)
}

func TestServerErrorsAreNotRetried(t *testing.T) {
	entries, _, _, c := setup(t, store.WithStrictUpdate())
	ctx := context.Background()

	err := entries.Update(ctx, entry{ID: 1})
	assert.ErrorIs(t, err, ErrServer)

	other := NewCache(c, 5, codec.Uint32, entryCodec)
	_, _, err = other.Fetch(ctx, 1)
	assert.ErrorIs(t, err, protocol.ErrServer)

	_, err = other.Count(ctx)
	assert.ErrorIs(t, err, protocol.ErrServer)

	require.NoError(t, entries.Insert(ctx, entry{ID: 1}))
	assert.NoError(t, entries.Update(ctx, entry{ID: 1, Val2: true}))
}

func TestRetryAfterDroppedConnection(t *testing.T) {
	entries, _, ts, c := setup(t)
	ctx := context.Background()

	require.NoError(t, entries.Insert(ctx, entry{ID: 1}))
	ts.dropConnections()

	_, found, err := entries.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, c.pool.Open())
}

func TestClosedClient(t *testing.T) {
	entries, _, _, c := setup(t)
	require.NoError(t, c.Close())

	_, err := entries.Count(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Address = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

// startIdleListener accepts connections and never answers on them.
func startIdleListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestPoolAcquireTimeout(t *testing.T) {
	ln := startIdleListener(t)

	pool := newConnectionPool(ln.Addr().String(), 1, time.Second, 50*time.Millisecond, nil)
	t.Cleanup(pool.Close)

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)

	_, err = pool.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolTimeout)

	pool.Put(pc)
	again, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, pc, again)
	assert.Equal(t, 1, pool.Open())
	pool.Put(again)
}

func TestPoolHealthCheckReplacesDeadConnection(t *testing.T) {
	ln := startIdleListener(t)

	pings := 0
	pool := newConnectionPool(ln.Addr().String(), 2, time.Second, time.Second, func(*pooledConn) error {
		pings++
		return net.ErrClosed
	})
	pool.idleCheck = 0
	t.Cleanup(pool.Close)

	first, err := pool.Get(context.Background())
	require.NoError(t, err)
	pool.Put(first)

	second, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, pings)
	assert.Equal(t, 1, pool.Open())
}

func TestConcurrentRequests(t *testing.T) {
	entries, s, _, _ := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := entries.Insert(ctx, entry{ID: uint32(i), Val3: uint64(i)}); err != nil {
				errs <- err
				return
			}
			if _, _, err := entries.Fetch(ctx, uint32(i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 20, s.Count())
}
