// Package partystore owns the canonical party records. Every change to a
// record is a single-key optimistic read-modify-write; the presence and
// invitation side effects that accompany a change are separate writes and
// are not atomic with it.
package partystore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/partymesh/invites"
	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/presence"
	"github.com/google/uuid"
)

const maxCreateAttempts = 8

// Store reads and writes party records.
type Store struct {
	kv       kv.Store
	keys     party.Keys
	presence *presence.Registry
	invites  *invites.Ledger
	newID    func() uuid.UUID
	log      *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for decode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithKeys sets the key layout (and deployment prefix).
func WithKeys(k party.Keys) Option {
	return func(s *Store) { s.keys = k }
}

// WithIDGenerator overrides party id generation.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates a party store. reg and ledger receive the presence and
// invitation side effects of membership changes.
func New(store kv.Store, reg *presence.Registry, ledger *invites.Ledger, opts ...Option) *Store {
	s := &Store{
		kv:       store,
		presence: reg,
		invites:  ledger,
		newID:    uuid.New,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new party led by leader with no other members.
func (s *Store) Create(ctx context.Context, leader uuid.UUID, maxMembers int) (*party.Party, error) {
	if !party.ValidMemberLimit(maxMembers) {
		return nil, fmt.Errorf("%w: member limit %d", party.ErrInvalidArgument, maxMembers)
	}
	for range maxCreateAttempts {
		p := &party.Party{ID: s.newID(), Leader: leader, Members: []uuid.UUID{}, MaxMembers: maxMembers}
		b, err := party.EncodeParty(p)
		if err != nil {
			return nil, err
		}
		ok, err := s.kv.SetNX(ctx, s.keys.Party(p.ID), b, 0)
		if err != nil {
			return nil, party.WrapStore("create party", err)
		}
		if ok {
			s.log.DebugContext(ctx, "party.create.ok", slog.String("party", p.ID.String()))
			return p, nil
		}
		s.log.WarnContext(ctx, "party.create.collision", slog.String("party", p.ID.String()))
	}
	return nil, fmt.Errorf("%w: no unused party id after %d attempts", party.ErrStoreIO, maxCreateAttempts)
}

// Get returns the party, or nil when it does not exist or cannot be decoded.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*party.Party, error) {
	b, err := s.kv.Get(ctx, s.keys.Party(id))
	if err != nil {
		return nil, party.WrapStore("get party", err)
	}
	if b == nil {
		return nil, nil
	}
	p, err := party.DecodeParty(b)
	if err != nil {
		s.log.WarnContext(ctx, "party.decode.fail",
			slog.String("party", id.String()),
			slog.String("err", err.Error()))
		return nil, nil
	}
	return p, nil
}

// AddMember admits player to the party and points their presence record at
// it. It returns party.ErrPartyFull when the party is at capacity and
// party.ErrNotFound when the party no longer exists.
func (s *Store) AddMember(ctx context.Context, partyID, player uuid.UUID) error {
	exists, err := s.mutate(ctx, partyID, func(p *party.Party) error {
		if p.IsLeader(player) || p.HasMember(player) {
			return kv.ErrSkip
		}
		if p.IsFull() {
			return party.ErrPartyFull
		}
		p.AddMember(player)
		return nil
	})
	if err != nil {
		return party.WrapStore("add member", err)
	}
	if !exists {
		s.log.DebugContext(ctx, "party.add.vanished", slog.String("party", partyID.String()))
		return fmt.Errorf("add member: party %s: %w", partyID, party.ErrNotFound)
	}
	pid := partyID
	if _, err := s.presence.UpdatePartyID(ctx, player, &pid); err != nil {
		return err
	}
	return nil
}

// RemoveMember drops player from the party, clears every invitation sent by
// requesterName and clears the player's party reference.
func (s *Store) RemoveMember(ctx context.Context, partyID, player uuid.UUID, requesterName string) error {
	_, err := s.mutate(ctx, partyID, func(p *party.Party) error {
		if !p.RemoveMember(player) {
			return kv.ErrSkip
		}
		return nil
	})
	if err != nil {
		return party.WrapStore("remove member", err)
	}
	if err := s.invites.ClearAll(ctx, requesterName); err != nil {
		return err
	}
	if _, err := s.presence.UpdatePartyID(ctx, player, nil); err != nil {
		return err
	}
	return nil
}

// ChangeLeader hands the party from oldLeader to newLeader and sets its
// capacity. newMaxMembers may be party.Unlimited; any other negative value
// or a value above party.MaxMemberLimit is rejected. The change is refused
// with party.ErrNotLeader when oldLeader no longer leads the party and with
// party.ErrNotFound when newLeader is no longer a member. A party that no
// longer exists is left alone.
func (s *Store) ChangeLeader(ctx context.Context, partyID, oldLeader, newLeader uuid.UUID, newMaxMembers int) error {
	if !party.ValidMemberLimit(newMaxMembers) {
		return fmt.Errorf("%w: member limit %d", party.ErrInvalidArgument, newMaxMembers)
	}
	_, err := s.mutate(ctx, partyID, func(p *party.Party) error {
		if !p.IsLeader(oldLeader) {
			return party.ErrNotLeader
		}
		if newLeader != oldLeader && !p.HasMember(newLeader) {
			return party.ErrNotFound
		}
		p.Leader = newLeader
		p.RemoveMember(newLeader)
		if oldLeader != newLeader {
			p.AddMember(oldLeader)
		}
		p.MaxMembers = newMaxMembers
		return nil
	})
	return party.WrapStore("change leader", err)
}

// Delete removes the party record.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return party.WrapStore("delete party", s.kv.Delete(ctx, s.keys.Party(id)))
}

// mutate applies fn to the decoded party under kv.Mutate and reports
// whether the record was present. A missing or undecodable record is not
// written.
func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(*party.Party) error) (bool, error) {
	var exists bool
	err := s.kv.Mutate(ctx, s.keys.Party(id), func(cur []byte) ([]byte, error) {
		exists = false
		if cur == nil {
			return nil, kv.ErrSkip
		}
		p, err := party.DecodeParty(cur)
		if err != nil {
			s.log.WarnContext(ctx, "party.decode.fail",
				slog.String("party", id.String()),
				slog.String("err", err.Error()))
			return nil, kv.ErrSkip
		}
		exists = true
		if err := fn(p); err != nil {
			return nil, err
		}
		return party.EncodeParty(p)
	})
	return exists, err
}
