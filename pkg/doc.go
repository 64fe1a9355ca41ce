// Package pkg groups the public building blocks of Cachem.
//
// The packages below can be used on their own to embed a Cachem server in
// another program, or to talk to a running one.
//
// # Serving Records
//
// Define a record type and its codec, keep the records in a store, and
// register the store with a router:
//
//	type User struct {
//		ID    uint32
//		Name  string
//		Admin bool
//	}
//
//	users := store.New(func(u User) uint32 { return u.ID })
//	b := router.NewBuilder()
//	router.RegisterStore(b, 3, users, codec.Uint32, codec.MustReflect[User]())
//	rt, err := b.Build()
//
// Records with a hand-written encoding implement codec.Record and use
// codec.RecordOf instead of codec.MustReflect.
//
// # Persistence
//
// A persist.Manager saves and restores every bound store through a sink:
//
//	m := persist.NewManager(persist.NewFileSink(dir), logger)
//	err := m.Register(persist.Bind("users", users, codec.MustReflect[User]()))
//	err = m.RestoreAll(ctx)
//	...
//	err = m.SnapshotAll(ctx)
//
// # Thread Safety
//
// Stores, routers, managers and clients are safe for concurrent use. A
// router serves the requests of one connection in order; separate
// connections only contend on the stores' locks.
//
// # Error Handling
//
// Malformed input never panics. Codec failures match codec.ErrUnexpectedEOF,
// codec.ErrInvalidLength, codec.ErrInvalidString or another
// decode error; codec.IsDecodeError tells them apart from transport errors.
// Server-side failures seen by the client wrap protocol.ErrServer and are
// not retried; transport failures are retried on a fresh connection.
package pkg
