// Package presence is the cluster-wide registry of online players. Each
// online player has one record at party_player:<uuid> holding their name,
// current party reference and personal member limit.
package presence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/party"
	"github.com/google/uuid"
)

// Registry reads and writes presence records in the shared store.
type Registry struct {
	store kv.Store
	keys  party.Keys
	log   *slog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for malformed-record warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithKeys sets the key layout (and deployment prefix).
func WithKeys(k party.Keys) Option {
	return func(r *Registry) { r.keys = k }
}

// New creates a registry over store.
func New(store kv.Store, opts ...Option) *Registry {
	r := &Registry{store: store, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Login upserts the presence record of s.
func (r *Registry) Login(ctx context.Context, s *party.Session) error {
	b, err := party.EncodeSession(s)
	if err != nil {
		return err
	}
	return party.WrapStore("login", r.store.Set(ctx, r.keys.Player(s.ID), b, 0))
}

// Logout removes the presence record of id and returns what it held, or nil
// when the player was not registered. A malformed record is removed and
// reported as nil.
func (r *Registry) Logout(ctx context.Context, id uuid.UUID) (*party.Session, error) {
	var prior *party.Session
	err := r.store.Mutate(ctx, r.keys.Player(id), func(cur []byte) ([]byte, error) {
		prior = nil
		if cur == nil {
			return nil, kv.ErrSkip
		}
		s, err := party.DecodeSession(cur)
		if err != nil {
			r.log.WarnContext(ctx, "presence.logout.malformed",
				slog.String("player", id.String()),
				slog.String("err", err.Error()))
			return nil, nil
		}
		prior = s
		return nil, nil
	})
	if err != nil {
		return nil, party.WrapStore("logout", err)
	}
	return prior, nil
}

// Get returns the presence record of id, or nil if absent or malformed.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*party.Session, error) {
	b, err := r.store.Get(ctx, r.keys.Player(id))
	if err != nil {
		return nil, party.WrapStore("get player", err)
	}
	if b == nil {
		return nil, nil
	}
	return r.decode(ctx, id.String(), b), nil
}

// GetByName finds an online player by case-insensitive username. It scans
// every presence record.
func (r *Registry) GetByName(ctx context.Context, name string) (*party.Session, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if party.SameName(s.Name, name) {
			return s, nil
		}
	}
	return nil, nil
}

// GetMany resolves several players in one round trip. Missing and malformed
// records are left out of the result.
func (r *Registry) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*party.Session, error) {
	out := make(map[uuid.UUID]*party.Session, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keys.Player(id)
	}
	vals, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, party.WrapStore("get players", err)
	}
	for i, b := range vals {
		if b == nil {
			continue
		}
		if s := r.decode(ctx, keys[i], b); s != nil {
			out[ids[i]] = s
		}
	}
	return out, nil
}

// All returns every online player, skipping malformed records.
func (r *Registry) All(ctx context.Context) ([]*party.Session, error) {
	keys, err := r.store.Scan(ctx, r.keys.PlayerPattern())
	if err != nil {
		return nil, party.WrapStore("scan players", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, party.WrapStore("get players", err)
	}
	out := make([]*party.Session, 0, len(vals))
	for i, b := range vals {
		if b == nil {
			continue
		}
		if s := r.decode(ctx, keys[i], b); s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// UpdatePartyID points the player's record at partyID (nil clears it). It
// reports false when the player is not registered or already references
// partyID, so repeating a call is a no-op.
func (r *Registry) UpdatePartyID(ctx context.Context, id uuid.UUID, partyID *uuid.UUID) (bool, error) {
	var changed bool
	err := r.store.Mutate(ctx, r.keys.Player(id), func(cur []byte) ([]byte, error) {
		changed = false
		if cur == nil {
			return nil, kv.ErrSkip
		}
		s, err := party.DecodeSession(cur)
		if err != nil {
			return nil, err
		}
		if party.SamePartyID(s.PartyID, partyID) {
			return nil, kv.ErrSkip
		}
		if partyID != nil {
			v := *partyID
			s.PartyID = &v
		} else {
			s.PartyID = nil
		}
		next, err := party.EncodeSession(s)
		if err != nil {
			return nil, err
		}
		changed = true
		return next, nil
	})
	if errors.Is(err, party.ErrDecode) {
		r.log.WarnContext(ctx, "presence.update.malformed",
			slog.String("player", id.String()),
			slog.String("err", err.Error()))
		return false, nil
	}
	if err != nil {
		return false, party.WrapStore("update party ref", err)
	}
	return changed, nil
}

// ClearPartyID drops the player's party reference if it still points at
// expected. It reports whether the record was changed.
func (r *Registry) ClearPartyID(ctx context.Context, id, expected uuid.UUID) (bool, error) {
	var changed bool
	err := r.store.Mutate(ctx, r.keys.Player(id), func(cur []byte) ([]byte, error) {
		changed = false
		if cur == nil {
			return nil, kv.ErrSkip
		}
		s, err := party.DecodeSession(cur)
		if err != nil {
			return nil, err
		}
		if s.PartyID == nil || *s.PartyID != expected {
			return nil, kv.ErrSkip
		}
		s.PartyID = nil
		next, err := party.EncodeSession(s)
		if err != nil {
			return nil, err
		}
		changed = true
		return next, nil
	})
	if errors.Is(err, party.ErrDecode) {
		r.log.WarnContext(ctx, "presence.clear.malformed",
			slog.String("player", id.String()),
			slog.String("err", err.Error()))
		return false, nil
	}
	if err != nil {
		return false, party.WrapStore("clear party ref", err)
	}
	return changed, nil
}

func (r *Registry) decode(ctx context.Context, ref string, b []byte) *party.Session {
	s, err := party.DecodeSession(b)
	if err != nil {
		r.log.WarnContext(ctx, "presence.decode.fail",
			slog.String("key", ref),
			slog.String("err", err.Error()))
		return nil
	}
	return s
}
