// Package workflow implements the party commands players issue: invite,
// accept, deny, kick, leave, promote, list, chat and toggle, plus the
// login, logout and server-connect lifecycle hooks a proxy node calls.
//
// Design Notes
//   - Every command reads the authoritative presence and party records from
//     the shared store; the node-local session cache is only updated, never
//     trusted for another player's membership.
//   - Store writes for a change always complete before the bus events that
//     announce it are published.
//   - Guards that fail (not leader, no invitation, party full, ...) are not
//     errors. They produce a reply key in the Outcome. Only store and bus I/O
//     failures are returned as errors.
//   - Single-record changes are atomic (kv.Mutate). A command that touches
//     the party record, presence records and the invitation ledger does so in
//     independent writes; concurrent commands on the same party resolve
//     last-write-wins across those records.
//
// Characteristics
//
//	Blocking:      every command performs several store round trips
//	Notification:  at-most-once, via the event bus
//	Opt-out:       join/leave notices honor the Notifications setting
package workflow
