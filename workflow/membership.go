package workflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/sessioncache"
	"github.com/google/uuid"
)

// Kick removes the player named target from the actor's party.
func (s *Service) Kick(ctx context.Context, actor Actor, target string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "kick", actor)
	defer func() { end(span, &out, err) }()

	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if p == nil {
		out.reply("command.not_in_party")
		return out, nil
	}
	ctx = logctx.WithPartyData(ctx, &logctx.PartyData{PartyID: p.ID.String()})
	if !p.IsLeader(actor.ID) {
		out.reply("command.kick.not_leader")
		return out, nil
	}
	if party.SameName(actor.Name, target) {
		out.reply("command.kick.self")
		return out, nil
	}
	kicked, err := s.deps.Presence.GetByName(ctx, target)
	if err != nil {
		return out, err
	}
	if kicked == nil || !p.HasMember(kicked.ID) {
		out.reply("command.not_in_your_party", target)
		return out, nil
	}

	if err := s.deps.Parties.RemoveMember(ctx, p.ID, kicked.ID, kicked.Name); err != nil {
		return out, err
	}
	p.RemoveMember(kicked.ID)

	s.notify(ctx, p.AllMembers(), "party.kick", kicked.Name)
	s.publishPartyRef(ctx, kicked.ID, nil)
	s.notify(ctx, []uuid.UUID{kicked.ID}, "command.kick.kicked")
	s.log.InfoContext(ctx, "workflow.kick.ok", slog.String("target", kicked.ID.String()))
	out.reply("command.kick.leader", kicked.Name)
	return out, nil
}

// Leave removes the actor from their party. A leader hands the party to the
// first remaining member; a party left empty is deleted.
func (s *Service) Leave(ctx context.Context, actor Actor) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "leave", actor)
	defer func() { end(span, &out, err) }()

	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if p == nil {
		out.reply("command.not_in_party")
		return out, nil
	}
	ctx = logctx.WithPartyData(ctx, &logctx.PartyData{PartyID: p.ID.String()})
	if err := s.depart(ctx, p, actor); err != nil {
		return out, err
	}
	s.cacheParty(actor.ID, nil)
	out.reply("command.leave")
	return out, nil
}

// maxDepartAttempts bounds how often depart re-reads a party whose
// leadership or membership changed underneath it.
const maxDepartAttempts = 3

// depart takes player out of p and notifies whoever remains. When the
// handoff is refused because p is out of date, the party is read again and
// the departure retried against the fresh record.
func (s *Service) depart(ctx context.Context, p *party.Party, player Actor) error {
	id := p.ID
	for attempt := 1; ; attempt++ {
		err := s.departFrom(ctx, p, player)
		if attempt >= maxDepartAttempts || !(errors.Is(err, party.ErrNotLeader) || errors.Is(err, party.ErrNotFound)) {
			return err
		}
		s.log.DebugContext(ctx, "workflow.depart.retry", slog.String("err", err.Error()))
		if p, err = s.deps.Parties.Get(ctx, id); err != nil {
			return err
		}
		if p == nil || !(p.IsLeader(player.ID) || p.HasMember(player.ID)) {
			_, err := s.deps.Presence.ClearPartyID(ctx, player.ID, id)
			return err
		}
	}
}

func (s *Service) departFrom(ctx context.Context, p *party.Party, player Actor) error {
	if len(p.AllMembers()) <= 1 {
		return s.disband(ctx, p, player)
	}

	if p.IsLeader(player.ID) {
		next := p.Members[0]
		// The party keeps its capacity so the new leader never inherits a
		// party that is already over its limit.
		if err := s.deps.Parties.ChangeLeader(ctx, p.ID, player.ID, next, p.MaxMembers); err != nil {
			return err
		}
		if err := s.deps.Parties.RemoveMember(ctx, p.ID, player.ID, player.Name); err != nil {
			return err
		}
		remaining := p.Members
		s.notifyOptIn(ctx, remaining, "party.left", player.Name)

		leader, err := s.deps.Presence.Get(ctx, next)
		if err != nil {
			return err
		}
		if leader != nil {
			s.notify(ctx, remaining, "party.new_leader", leader.Name)
		}
		s.log.InfoContext(ctx, "workflow.leader.handoff", slog.String("leader", next.String()))
		return nil
	}

	if err := s.deps.Parties.RemoveMember(ctx, p.ID, player.ID, player.Name); err != nil {
		return err
	}
	p.RemoveMember(player.ID)
	s.notifyOptIn(ctx, p.AllMembers(), "party.left", player.Name)
	return nil
}

// disband deletes a party whose last member is leaving.
func (s *Service) disband(ctx context.Context, p *party.Party, player Actor) error {
	if err := s.deps.Parties.Delete(ctx, p.ID); err != nil {
		return err
	}
	if err := s.deps.Invites.ClearAll(ctx, player.Name); err != nil {
		return err
	}
	if _, err := s.deps.Presence.UpdatePartyID(ctx, player.ID, nil); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "workflow.party.disband")
	return nil
}

// Promote hands leadership of the actor's party to the player named target.
// limit, when set, becomes the party's new capacity.
func (s *Service) Promote(ctx context.Context, actor Actor, target string, limit *int) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "promote", actor)
	defer func() { end(span, &out, err) }()

	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if p == nil {
		out.reply("command.not_in_party")
		return out, nil
	}
	ctx = logctx.WithPartyData(ctx, &logctx.PartyData{PartyID: p.ID.String()})
	if !p.IsLeader(actor.ID) {
		out.reply("command.promote.not_leader")
		return out, nil
	}
	if party.SameName(actor.Name, target) {
		out.reply("command.promote.self")
		return out, nil
	}
	promoted, err := s.deps.Presence.GetByName(ctx, target)
	if err != nil {
		return out, err
	}
	if promoted == nil || !p.HasMember(promoted.ID) {
		out.reply("command.not_in_your_party", target)
		return out, nil
	}

	maxMembers := p.MaxMembers
	if limit != nil {
		if !party.ValidMemberLimit(*limit) || (*limit != party.Unlimited && *limit < p.Size()) {
			out.reply("command.promote.invalid_limit", *limit)
			return out, nil
		}
		maxMembers = *limit
	}
	if err := s.deps.Parties.ChangeLeader(ctx, p.ID, actor.ID, promoted.ID, maxMembers); err != nil {
		switch {
		case errors.Is(err, party.ErrInvalidArgument):
			out.reply("command.promote.invalid_limit", maxMembers)
			return out, nil
		case errors.Is(err, party.ErrNotLeader):
			out.reply("command.promote.not_leader")
			return out, nil
		case errors.Is(err, party.ErrNotFound):
			out.reply("command.not_in_your_party", target)
			return out, nil
		}
		return out, err
	}

	s.notify(ctx, p.AllMembers(), "party.new_leader", promoted.Name)
	out.reply("command.promote.promoted", promoted.Name)
	return out, nil
}

// LoginInfo describes a player who connected to this node.
type LoginInfo struct {
	ID          uuid.UUID
	Name        string
	MemberLimit int
	Server      string
}

// Login publishes the player's presence and caches them locally.
func (s *Service) Login(ctx context.Context, in LoginInfo) (err error) {
	actor := Actor{ID: in.ID, Name: in.Name}
	ctx, span := s.begin(ctx, "login", actor)
	defer func() { end(span, nil, err) }()

	sess := &party.Session{ID: in.ID, Name: in.Name, MemberLimit: in.MemberLimit}
	if err := s.deps.Presence.Login(ctx, sess); err != nil {
		return err
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Put(sessioncache.Entry{
			ID:          in.ID,
			Name:        in.Name,
			MemberLimit: in.MemberLimit,
			Server:      in.Server,
		})
	}
	s.log.DebugContext(ctx, "workflow.login.ok")
	return nil
}

// Logout removes the player's presence, takes them out of their party and
// clears their outgoing invitations.
func (s *Service) Logout(ctx context.Context, id uuid.UUID) (err error) {
	if s.deps.Cache != nil {
		s.deps.Cache.Remove(id)
	}
	prior, err := s.deps.Presence.Logout(ctx, id)
	if err != nil || prior == nil {
		return err
	}
	actor := Actor{ID: prior.ID, Name: prior.Name}
	ctx, span := s.begin(ctx, "logout", actor)
	defer func() { end(span, nil, err) }()

	if prior.PartyID != nil {
		p, err := s.deps.Parties.Get(ctx, *prior.PartyID)
		if err != nil {
			return err
		}
		if p != nil && (p.IsLeader(id) || p.HasMember(id)) {
			ctx = logctx.WithPartyData(ctx, &logctx.PartyData{PartyID: p.ID.String()})
			if err := s.depart(ctx, p, actor); err != nil {
				return err
			}
		}
	}
	if err := s.deps.Invites.ClearAll(ctx, prior.Name); err != nil {
		return err
	}
	s.log.DebugContext(ctx, "workflow.logout.ok")
	return nil
}
