// Package cachem is an embeddable in-memory record store served over a
// small binary TCP protocol.
//
// A Cachem server holds any number of caches. Each cache is a map from a key
// to a fixed-schema record, addressed on the wire by a 16-bit cache id. The
// server answers a fixed set of actions per cache (fetch, fetch-all, lookup,
// insert, update, delete, keys, exists, count, and the bulk mexists and
// mdelete) plus ping and save. It saves every cache to a snapshot on
// shutdown or on a save request and loads it back on start.
//
// # Architecture Overview
//
// Cachem consists of several components:
//
//   - Codec: big-endian binary encoding of scalars, strings, sequences,
//     options and records, with a length prefix that only uses the width
//     it needs
//   - Store: a generic, lock-protected map with one capability interface
//     per action
//   - Router: maps (action, cache id) pairs to handlers and runs the
//     request loop of a connection
//   - Persist: snapshots caches to files or to Redis and restores them
//   - Server: TCP listener with bounded connections and graceful shutdown
//   - Client SDK: pooled connections, retries and typed cache handles
//   - Configuration: defaults, CACHEM_* environment variables and flags
//
// # Quick Start
//
// Server:
//
//	caches := sample.NewCaches()
//	b := router.NewBuilder(router.WithLogger(logger))
//	caches.Register(b)
//	rt, err := b.Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv := server.New(cfg, rt, logger)
//	log.Fatal(srv.Start(ctx))
//
// Client:
//
//	c, err := client.New(config.DefaultClientConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	entries := client.NewCache(c, sample.EntryCache, codec.Uint32, sample.EntryCodec)
//	err = entries.Insert(ctx, sample.Entry{ID: 7, Val1: 42, Val2: true, Val3: 100})
//	entry, found, err := entries.Fetch(ctx, 7)
//
// # Wire Protocol
//
// A request is a 3-byte header (action, cache id) followed by the action's
// body. A response is a status byte: 0 followed by the action's payload, or
// 1 followed by a NUL-terminated error message. See package protocol for the
// payload of each action.
//
// # Persistence
//
// Snapshots are the length-prefixed sequence of a cache's records in the
// same encoding the wire uses. The file backend writes one file per cache
// under the data directory, replacing it atomically; the Redis backend
// stores one key per cache.
//
// # Package Structure
//
//   - pkg/codec: Binary codec
//   - pkg/store: In-memory record store
//   - pkg/protocol: Header, actions and status framing
//   - pkg/router: Action routing and the per-connection request loop
//   - pkg/persist: Snapshot manager and sinks
//   - pkg/export: JSON and MessagePack output formats
//   - pkg/logging: slog setup
//   - pkg/config: Configuration management
//   - pkg/client: Client SDK
//   - internal/server: Server implementation
//   - internal/sample: The record types served by cachem-server
//   - cmd/cachem-server: Server executable
//   - cmd/cachem-cli: Command-line client and snapshot inspector
package cachem
