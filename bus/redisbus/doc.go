// Package redisbus implements bus.Bus on Redis pub/sub.
//
// Design Notes
//   - Each Subscribe call opens one go-redis PubSub connection and waits for
//     the subscription confirmation before returning, so a Publish issued
//     after Subscribe returns is observed.
//   - The receive loop survives connection drops: go-redis reconnects and
//     resubscribes on the next receive, and the loop paces those attempts
//     with an exponential backoff (cenkalti/backoff) that resets on the first
//     successful message.
//   - Messages published while a node is reconnecting are lost. Redis
//     pub/sub is at-most-once and so is this bus.
//   - The Redis client is borrowed, not owned: Close stops subscriptions but
//     leaves the client open for the caller (usually the rediskv store).
//
// Characteristics
//
//	Delivery:   at-most-once, per-connection ordering
//	Fan-out:    every subscribed node receives every message on a channel
//	Isolation:  channel names are global to the Redis server (not per DB)
package redisbus
