// Package rediskv implements kv.Store on top of go-redis so every proxy node
// shares one record store.
//
// Design Notes
//   - Get/Set/Delete/Exists map one-to-one onto Redis commands; absence is
//     redis.Nil, reported as a nil value.
//   - Scan walks SCAN cursors with MATCH so large keyspaces never block the
//     server the way KEYS would.
//   - Mutate is optimistic: WATCH the key, read, compute, MULTI/EXEC. A
//     concurrent write aborts EXEC and the mutation is retried a bounded
//     number of times.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, _ := rediskv.New(rediskv.Config{Client: client})
//	defer store.Close()
package rediskv
