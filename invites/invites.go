// Package invites is the invitation ledger. An invitation from source to
// target is an empty marker key that expires on its own; there is no other
// record of it.
package invites

import (
	"context"
	"time"

	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/party"
)

// DefaultExpiry is how long an invitation stays acceptable.
const DefaultExpiry = 90 * time.Second

// Ledger stores pending invitations.
type Ledger struct {
	store kv.Store
	keys  party.Keys
}

// New creates a ledger using keys for the key layout.
func New(store kv.Store, keys party.Keys) *Ledger {
	return &Ledger{store: store, keys: keys}
}

// Create records an invitation that expires after expiresIn. A non-positive
// duration falls back to DefaultExpiry. Re-creating an invitation refreshes
// its expiry.
func (l *Ledger) Create(ctx context.Context, source, target string, expiresIn time.Duration) error {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiry
	}
	return party.WrapStore("create invitation", l.store.Set(ctx, l.keys.Request(source, target), []byte{}, expiresIn))
}

// Exists reports whether an unexpired invitation from source to target exists.
func (l *Ledger) Exists(ctx context.Context, source, target string) (bool, error) {
	ok, err := l.store.Exists(ctx, l.keys.Request(source, target))
	if err != nil {
		return false, party.WrapStore("check invitation", err)
	}
	return ok, nil
}

// Remove deletes the invitation from source to target, if any.
func (l *Ledger) Remove(ctx context.Context, source, target string) error {
	return party.WrapStore("remove invitation", l.store.Delete(ctx, l.keys.Request(source, target)))
}

// ClearAll deletes every invitation sent by source.
func (l *Ledger) ClearAll(ctx context.Context, source string) error {
	keys, err := l.store.Scan(ctx, l.keys.RequestPattern(source))
	if err != nil {
		return party.WrapStore("scan invitations", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return party.WrapStore("clear invitations", l.store.Delete(ctx, keys...))
}
