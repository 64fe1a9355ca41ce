// Package router maps (Action, CacheID) pairs to cache operations and runs the
// request loop of a single connection.
//
// A Router is assembled once at startup with a Builder. Each Register
// function binds one capability of a cache to one action, together with the
// codecs needed to decode request bodies and encode responses. Build freezes
// the table; a built Router is immutable and safe to share between
// connections.
//
// Example usage:
//
//	b := router.NewBuilder(router.WithLogger(logger))
//	router.RegisterStore(b, 0, entries, codec.Uint32, entryCodec)
//	router.RegisterFetch(b, 1, profiles, codec.UUID, profileCodec)
//
//	rt, err := b.Build()
//	if err != nil {
//		return err
//	}
//	go rt.Serve(ctx, conn)
//
// Error policy of Serve:
//   - unreadable header or unknown action: the connection is closed
//   - known action without a route: an error response is sent; the
//     connection stays open when the action has no request body and is
//     closed otherwise, because the unread body cannot be skipped
//   - undecodable body: the connection is closed without a response
//   - failing operation (for example a strict update of a missing key): an
//     error response is sent and the connection stays open
//
// PING and SAVE are not bound to a cache. PING is always answered; SAVE runs
// the function set with WithSaveFunc and is unrouted without one.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/logging"
	"github.com/cachem/cachem/pkg/protocol"
)

var (
	// ErrRouteNotFound is returned by Serve when a request with a body
	// targets an action that is not registered for its cache.
	ErrRouteNotFound = errors.New("router: route not found")
	// ErrDuplicateRoute is returned by Build when an (Action, CacheID)
	// pair was registered twice.
	ErrDuplicateRoute = errors.New("router: duplicate route")
)

// handlerFunc decodes a request body from r and appends the complete
// response to w. An error means the body could not be decoded and nothing
// was appended.
type handlerFunc func(r *codec.Reader, w *codec.Writer) error

type route struct {
	action protocol.Action
	cache  protocol.CacheID
}

// SaveFunc snapshots every cache. It backs the SAVE action.
type SaveFunc func(ctx context.Context) error

type options struct {
	logger *slog.Logger
	maxLen int
	save   SaveFunc
}

// Option configures a Builder and the Router it builds.
type Option func(*options)

// WithLogger sets the logger used for routing diagnostics. A nil logger
// discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxSequenceLen bounds the sequence counts and string lengths accepted
// in request bodies.
func WithMaxSequenceLen(n int) Option {
	return func(o *options) { o.maxLen = n }
}

// WithSaveFunc makes SAVE requests call fn. The request is answered after fn
// returns; its error, if any, is sent back as an error response.
func WithSaveFunc(fn SaveFunc) Option {
	return func(o *options) { o.save = fn }
}

// Builder collects routes. It is not safe for concurrent use.
type Builder struct {
	opts   options
	routes map[route]handlerFunc
	errs   []error
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	o := options{maxLen: codec.DefaultMaxLen}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return &Builder{opts: o, routes: make(map[route]handlerFunc)}
}

func (b *Builder) add(action protocol.Action, cache protocol.CacheID, h handlerFunc) {
	rt := route{action: action, cache: cache}
	if action == protocol.ActionPing || action == protocol.ActionSave {
		b.errs = append(b.errs, fmt.Errorf("router: %s is handled internally", action))
		return
	}
	if _, dup := b.routes[rt]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %s on cache %d", ErrDuplicateRoute, action, cache))
		return
	}
	b.routes[rt] = h
}

// Build validates the collected routes and returns the immutable Router.
// All registration problems are reported together.
func (b *Builder) Build() (*Router, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	routes := make(map[route]handlerFunc, len(b.routes))
	for k, v := range b.routes {
		routes[k] = v
	}
	return &Router{routes: routes, logger: b.opts.logger, maxLen: b.opts.maxLen, save: b.opts.save}, nil
}

// Router dispatches decoded requests to their handlers.
type Router struct {
	routes map[route]handlerFunc
	logger *slog.Logger
	maxLen int
	save   SaveFunc
}

// Len returns the number of registered routes.
func (rt *Router) Len() int { return len(rt.routes) }

// Handles reports whether a route exists for action on cache. Ping is
// handled for every cache, and so is Save when a SaveFunc was set.
func (rt *Router) Handles(action protocol.Action, cache protocol.CacheID) bool {
	switch action {
	case protocol.ActionPing:
		return true
	case protocol.ActionSave:
		return rt.save != nil
	}
	_, ok := rt.routes[route{action: action, cache: cache}]
	return ok
}

// Serve reads requests from rw and writes one response per request, in
// order, until the peer closes the stream or the connection has to be
// dropped. It returns nil when the peer closed cleanly between requests and
// an error describing why the connection ended otherwise.
//
// Serve does not interrupt a blocked read when ctx is cancelled; the caller
// closes the underlying connection for that. ctx is checked between
// requests.
func (rt *Router) Serve(ctx context.Context, rw io.ReadWriter) error {
	r := codec.NewReader(rw, codec.WithMaxLen(rt.maxLen))
	w := codec.NewWriter(256)

	for {
		if ctx.Err() != nil {
			return nil
		}

		h, err := protocol.ReadHeader(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("router: read header: %w", err)
		}

		w.Reset()
		err = rt.dispatch(ctx, h, r, w)
		if w.Len() > 0 {
			if _, werr := w.WriteTo(rw); werr != nil {
				return fmt.Errorf("router: write %s response: %w", h.Action, werr)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (rt *Router) dispatch(ctx context.Context, h protocol.Header, r *codec.Reader, w *codec.Writer) error {
	switch {
	case h.Action == protocol.ActionPing:
		protocol.WriteOK(w)
		return nil
	case h.Action == protocol.ActionSave && rt.save != nil:
		if err := rt.save(ctx); err != nil {
			rt.logger.Error("save failed", "error", err)
			protocol.WriteError(w, err.Error())
			return nil
		}
		protocol.WriteOK(w)
		return nil
	}

	handle, ok := rt.routes[route{action: h.Action, cache: h.Cache}]
	if !ok {
		rt.logger.Warn("no route for request", "action", h.Action.String(), "cache", h.Cache)
		protocol.WriteError(w, fmt.Sprintf("no route for %s on cache %d", h.Action, h.Cache))
		if h.Action.HasBody() {
			return fmt.Errorf("%w: %s on cache %d", ErrRouteNotFound, h.Action, h.Cache)
		}
		return nil
	}

	if err := handle(r, w); err != nil {
		return fmt.Errorf("router: decode %s body for cache %d: %w", h.Action, h.Cache, err)
	}
	return nil
}
