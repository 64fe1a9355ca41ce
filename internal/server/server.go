// Package server implements the Cachem TCP server.
//
// The server accepts connections and hands each one to a router.Router in
// its own goroutine. Requests on one connection are served strictly in
// order; different connections run concurrently and only meet in the
// caches' locks.
//
// Architecture:
//   - TCP listener with a bounded number of concurrent connections
//   - Per-connection goroutine running the router's request loop
//   - Optional idle read and write deadlines
//   - Graceful shutdown that closes the listener and live connections
//
// Example usage:
//
//	srv := server.New(cfg, rt, logger)
//	if err := srv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cachem/cachem/pkg/config"
	"github.com/cachem/cachem/pkg/logging"
	"github.com/cachem/cachem/pkg/router"
)

// Server represents a Cachem server instance. It owns the listener and the
// set of live connections; the caches themselves belong to the router's
// handlers.
//
// Example:
//
//	srv := server.New(cfg, rt, logger)
//	go func() {
//		if err := srv.Start(ctx); err != nil {
//			logger.Error("server error", "error", err)
//		}
//	}()
//
//	// Later, to stop the server
//	srv.Stop()
type Server struct {
	config   *config.ServerConfig // Listener settings and timeouts
	router   *router.Router       // Request dispatch
	logger   *slog.Logger
	slots    chan struct{} // One token per allowed concurrent connection
	mu       sync.Mutex    // Protects listener, conns and stopped
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
	ready    chan struct{}
}

// New creates a Server for cfg that dispatches requests with rt. The server
// is not started until Start is called. A nil logger discards output.
func New(cfg *config.ServerConfig, rt *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		config: cfg,
		router: rt,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConns),
		conns:  make(map[net.Conn]struct{}),
		ready:  make(chan struct{}),
	}
}

// Start begins listening on the configured address and serves connections.
// It blocks until Stop is called, ctx is cancelled, or the listener fails.
// A stopped server returns nil.
//
// The server will:
//  1. Create a TCP listener on the configured address
//  2. Accept connections while fewer than MaxConns are open
//  3. Serve each connection in its own goroutine
//  4. Continue until Stop() is called or an error occurs
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Stop is called or ctx is cancelled.
// Serve takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("cachem server listening", "addr", ln.Addr().String(), "routes", s.router.Len())

	stop := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stop()

	for {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.slots
			if s.isStopped() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("failed to accept connection", "error", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			<-s.slots
			return nil
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// Addr returns the listener address once the server is listening.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Stop closes the listener and every live connection, then waits for the
// connection goroutines to finish. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.stopped = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConnection serves a single client connection until it ends.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)
	logger.Debug("connection accepted")

	defer func() {
		s.untrack(conn)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("error closing connection", "error", err)
		}
		<-s.slots
		s.wg.Done()
	}()

	rw := &deadlineConn{
		Conn:         conn,
		readTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		writeTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}
	err := s.router.Serve(ctx, rw)
	switch {
	case err == nil:
		logger.Debug("connection closed")
	case s.isStopped() && errors.Is(err, net.ErrClosed):
		logger.Debug("connection closed by shutdown")
	default:
		logger.Warn("connection dropped", "error", err)
	}
}

// deadlineConn refreshes the read deadline before every read and the write
// deadline before every write. A zero timeout leaves that deadline unset.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

var _ io.ReadWriter = (*deadlineConn)(nil)
