package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cachem/cachem/pkg/codec"
)

var (
	// ErrPoolClosed is returned once the client has been closed.
	ErrPoolClosed = errors.New("client: connection pool closed")
	// ErrPoolTimeout is returned when no connection became available within
	// the acquire timeout.
	ErrPoolTimeout = errors.New("client: connection pool timeout")
)

// defaultIdleCheck is how long a connection may sit in the pool before it is
// pinged on its next use.
const defaultIdleCheck = 30 * time.Second

// pooledConn is a server connection with its own buffered response reader.
// The reader must live as long as the connection so that no buffered bytes
// are lost between requests.
type pooledConn struct {
	net.Conn
	r        *codec.Reader
	lastUsed time.Time
}

// ConnectionPool manages a pool of connections to a single server.
// It creates connections on demand up to the configured maximum and reuses
// them afterwards. Connections that have been idle for a while are health
// checked before they are handed out again.
type ConnectionPool struct {
	connections    chan *pooledConn // Pool of available connections
	address        string           // Server address (host:port)
	connTimeout    time.Duration    // Timeout for creating new connections
	acquireTimeout time.Duration    // Timeout for waiting on a busy pool
	idleCheck      time.Duration    // Idle time after which a connection is pinged
	ping           func(*pooledConn) error
	mu             sync.Mutex // Protects created and closed
	maxConns       int        // Maximum number of connections
	created        int        // Number of open connections
	closed         bool
}

func newConnectionPool(address string, maxConns int, connTimeout, acquireTimeout time.Duration, ping func(*pooledConn) error) *ConnectionPool {
	return &ConnectionPool{
		connections:    make(chan *pooledConn, maxConns),
		address:        address,
		connTimeout:    connTimeout,
		acquireTimeout: acquireTimeout,
		idleCheck:      defaultIdleCheck,
		ping:           ping,
		maxConns:       maxConns,
	}
}

// Get obtains a connection from the pool, dialing a new one if the pool is
// below its limit. When the pool is exhausted it waits up to the acquire
// timeout for a connection to be returned.
func (cp *ConnectionPool) Get(ctx context.Context) (*pooledConn, error) {
	for {
		select {
		case pc, ok := <-cp.connections:
			if !ok {
				return nil, ErrPoolClosed
			}
			if cp.healthy(pc) {
				return pc, nil
			}
			cp.Discard(pc)
			continue
		default:
		}

		pc, dialed, err := cp.dial(ctx)
		if err != nil || dialed {
			return pc, err
		}

		timer := time.NewTimer(cp.acquireTimeout)
		select {
		case pc, ok := <-cp.connections:
			timer.Stop()
			if !ok {
				return nil, ErrPoolClosed
			}
			if cp.healthy(pc) {
				return pc, nil
			}
			cp.Discard(pc)
		case <-timer.C:
			return nil, ErrPoolTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// dial opens a new connection if the pool has room. dialed is false when the
// pool is at its limit.
func (cp *ConnectionPool) dial(ctx context.Context) (pc *pooledConn, dialed bool, err error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if cp.created >= cp.maxConns {
		cp.mu.Unlock()
		return nil, false, nil
	}
	cp.created++
	cp.mu.Unlock()

	dialer := &net.Dialer{Timeout: cp.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cp.address)
	if err != nil {
		cp.release()
		return nil, false, err
	}
	return &pooledConn{Conn: conn, r: codec.NewReader(conn), lastUsed: time.Now()}, true, nil
}

func (cp *ConnectionPool) healthy(pc *pooledConn) bool {
	if cp.ping == nil || time.Since(pc.lastUsed) < cp.idleCheck {
		return true
	}
	return cp.ping(pc) == nil
}

func (cp *ConnectionPool) release() {
	cp.mu.Lock()
	cp.created--
	cp.mu.Unlock()
}

// Put returns a healthy connection to the pool for reuse.
func (cp *ConnectionPool) Put(pc *pooledConn) {
	pc.lastUsed = time.Now()

	cp.mu.Lock()
	if !cp.closed {
		select {
		case cp.connections <- pc:
			cp.mu.Unlock()
			return
		default:
		}
	}
	cp.mu.Unlock()
	cp.Discard(pc)
}

// Discard closes a connection that must not be reused and frees its slot.
func (cp *ConnectionPool) Discard(pc *pooledConn) {
	_ = pc.Close()
	cp.release()
}

// Open returns the number of connections currently open, idle or in use.
func (cp *ConnectionPool) Open() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.created
}

// Close shuts down the pool by closing all idle connections. Connections
// in use are closed when they are returned.
func (cp *ConnectionPool) Close() {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return
	}
	cp.closed = true
	close(cp.connections)
	cp.mu.Unlock()

	for pc := range cp.connections {
		cp.Discard(pc)
	}
}
