// Package party defines the shared data model for distributed party
// coordination: the Party record, the per-player presence Session, the key
// layout both live under in the shared store, and the error taxonomy every
// component reports through.
//
// Records are JSON encoded. Decoding failures are reported as ErrDecode so
// lookup boundaries can treat a corrupt record as absent without letting it
// break bulk scans.
//
// Key layout (before the optional deployment prefix):
//
//	party:<uuid>                    -> Party JSON
//	party_player:<uuid>             -> Session JSON
//	request:<source>:<target>       -> empty invitation marker with TTL
package party
