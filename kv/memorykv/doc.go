// Package memorykv provides an in-memory kv.Store suitable for tests,
// development and single-process deployments. All state is discarded on
// process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Expiry            : lazy on read plus a periodic sweep
//	Mutate            : serialized under the store lock, never conflicts
//
// Example:
//
//	store := memorykv.New()
//	defer store.Close()
package memorykv
