// Package client provides a high-level client SDK for connecting to a Cachem
// server.
//
// The client keeps a pool of connections to one server and retries requests
// that fail on the transport with a fresh connection. Typed access to a cache
// goes through a Cache handle, which carries the codecs of the cache's key
// and record types.
//
// Key Features:
//   - Connection pooling with an acquire timeout
//   - Health check of connections that were idle for a while
//   - Automatic retry logic with configurable attempts
//   - Typed, generic cache handles
//   - Thread-safe operations
//
// Basic Usage:
//
//	c, err := client.New(config.DefaultClientConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	entries := client.NewCache(c, 0, codec.Uint32, codec.RecordOf[sample.Entry]())
//	err = entries.Insert(ctx, sample.Entry{ID: 7, Val1: 42})
//	entry, found, err := entries.Fetch(ctx, 7)
//
// Server-side failures, such as an unknown cache or a strict update of a
// missing record, are returned as errors wrapping protocol.ErrServer and are
// never retried.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/config"
	"github.com/cachem/cachem/pkg/logging"
	"github.com/cachem/cachem/pkg/protocol"
)

// ErrServer is protocol.ErrServer, re-exported for callers that only import
// this package.
var ErrServer = protocol.ErrServer

// Client provides a high-level interface to a Cachem server.
//
// The client is thread-safe and can be used concurrently from multiple
// goroutines. Each request holds one pooled connection for its duration.
type Client struct {
	config *config.ClientConfig // Client configuration
	pool   *ConnectionPool      // Connections to the server
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used to report retried requests.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the server at cfg.Address. No connection is made
// until the first request.
//
// Example:
//
//	cfg := config.DefaultClientConfig()
//	cfg.Address = "cache1.example.com:9999"
//	cfg.RetryAttempts = 5
//	c, err := client.New(cfg)
//
// Returns:
//   - A new Client ready for use
//   - Error if cfg is invalid
func New(cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		config: cfg,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pool = newConnectionPool(
		cfg.Address,
		cfg.MaxConns,
		time.Duration(cfg.ConnTimeout)*time.Second,
		time.Duration(cfg.AcquireTimeout)*time.Second,
		c.pingConn,
	)
	return c, nil
}

// Ping verifies that the server is reachable and answering requests.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, protocol.Header{Action: protocol.ActionPing}, nil, nil)
}

// Save asks the server to snapshot every cache now. It returns once the
// snapshot is written, or with an error wrapping ErrServer if the server has
// no persistence configured or the write failed.
func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, protocol.Header{Action: protocol.ActionSave}, nil, nil)
}

// Close closes all pooled connections. After Close every request fails
// with ErrPoolClosed.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) deadline(ctx context.Context, secs int) time.Time {
	d := time.Now().Add(time.Duration(secs) * time.Second)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (c *Client) pingConn(pc *pooledConn) error {
	w := codec.NewWriter(protocol.HeaderSize)
	protocol.WriteHeader(w, protocol.Header{Action: protocol.ActionPing})
	return c.roundTrip(context.Background(), pc, w.Bytes(), nil)
}

// roundTrip sends one encoded request on pc and decodes its response.
func (c *Client) roundTrip(ctx context.Context, pc *pooledConn, req []byte, decode func(*codec.Reader) error) error {
	if err := pc.SetWriteDeadline(c.deadline(ctx, c.config.WriteTimeout)); err != nil {
		return err
	}
	if _, err := pc.Write(req); err != nil {
		return err
	}

	if err := pc.SetReadDeadline(c.deadline(ctx, c.config.ReadTimeout)); err != nil {
		return err
	}
	if err := protocol.ReadStatus(pc.r); err != nil {
		return err
	}
	if decode != nil {
		return decode(pc.r)
	}
	return nil
}

// do executes a request with retry logic.
//
// The method implements the following retry strategy:
//  1. Get a connection from the pool
//  2. Send the request and read the response
//  3. Return the connection to the pool on success
//  4. Close the connection and retry on transport failure
//  5. Return at once on a server error or a malformed response
//  6. Return an error after exhausting retry attempts
//
// Every Cachem action is idempotent, so resending a request whose response
// was lost is safe.
func (c *Client) do(ctx context.Context, h protocol.Header, body func(*codec.Writer), decode func(*codec.Reader) error) error {
	w := codec.NewWriter(64)
	protocol.WriteHeader(w, h)
	if body != nil {
		body(w)
	}
	req := w.Bytes()

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pc, err := c.pool.Get(ctx)
		if err != nil {
			if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
				return err
			}
			lastErr = err
			continue
		}

		err = c.roundTrip(ctx, pc, req, decode)
		switch {
		case err == nil:
			c.pool.Put(pc)
			return nil
		case errors.Is(err, protocol.ErrServer):
			// The server drops the connection after rejecting a request
			// whose body it could not read.
			if h.Action.HasBody() {
				c.pool.Discard(pc)
			} else {
				c.pool.Put(pc)
			}
			return err
		case errors.Is(err, io.EOF):
			c.pool.Discard(pc)
			lastErr = err
		case codec.IsDecodeError(err), errors.Is(err, protocol.ErrInvalidStatus):
			c.pool.Discard(pc)
			return fmt.Errorf("client: malformed %s response: %w", h.Action, err)
		default:
			c.pool.Discard(pc)
			lastErr = err
		}
		c.logger.Debug("request failed", "action", h.Action.String(), "cache", h.Cache, "attempt", attempt+1, "error", lastErr)
	}

	return fmt.Errorf("client: %s failed after %d attempts: %w", h.Action, c.config.RetryAttempts+1, lastErr)
}
