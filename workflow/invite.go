package workflow

import (
	"context"
	"errors"

	"github.com/ggoodman/partymesh/party"
	"github.com/google/uuid"
)

// Invite sends an invitation from actor to the player named target. An
// unpartied actor becomes the leader of a new party first.
func (s *Service) Invite(ctx context.Context, actor Actor, target string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "invite", actor)
	defer func() { end(span, &out, err) }()

	if party.SameName(actor.Name, target) {
		out.reply("command.invite.self")
		return out, nil
	}
	invitee, err := s.deps.Presence.GetByName(ctx, target)
	if err != nil {
		return out, err
	}
	if invitee == nil {
		out.reply("general.player_not_online", target)
		return out, nil
	}
	if invitee.InParty() {
		out.reply("command.invite.already_in_party")
		return out, nil
	}
	target = invitee.Name

	pending, err := s.deps.Invites.Exists(ctx, actor.Name, target)
	if err != nil {
		return out, err
	}
	if pending {
		out.reply("command.invite.already_invited")
		return out, nil
	}

	sess, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	switch {
	case p == nil:
		created, err := s.deps.Parties.Create(ctx, actor.ID, s.limitFor(sess))
		if err != nil {
			return out, err
		}
		changed, err := s.deps.Presence.UpdatePartyID(ctx, actor.ID, &created.ID)
		if err != nil || !changed {
			// The actor's presence could not reference the party; do not
			// leave an orphan behind.
			if delErr := s.deps.Parties.Delete(ctx, created.ID); delErr != nil {
				err = errors.Join(err, delErr)
			}
			if err != nil {
				return out, err
			}
			out.reply("general.error")
			return out, nil
		}
		s.cacheParty(actor.ID, &created.ID)
		out.reply("command.invite.created_party")
	case !p.IsLeader(actor.ID):
		out.reply("command.invite.not_leader")
		return out, nil
	}

	if err := s.deps.Invites.Create(ctx, actor.Name, target, s.cfg.RequestExpiry); err != nil {
		return out, err
	}
	out.reply("command.invite.sent", target)
	s.notify(ctx, []uuid.UUID{invitee.ID}, "command.invite.received", actor.Name)
	return out, nil
}

// Accept joins the party of the player named source, consuming their
// invitation. A full party rejects the join and keeps the invitation.
func (s *Service) Accept(ctx context.Context, actor Actor, source string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "accept", actor)
	defer func() { end(span, &out, err) }()

	_, current, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if current != nil {
		out.reply("command.accept.already")
		return out, nil
	}

	pending, err := s.deps.Invites.Exists(ctx, source, actor.Name)
	if err != nil {
		return out, err
	}
	if !pending {
		out.reply("command.accept.no_request")
		return out, nil
	}

	inviter, err := s.deps.Presence.GetByName(ctx, source)
	if err != nil {
		return out, err
	}
	var p *party.Party
	if inviter != nil && inviter.PartyID != nil {
		if p, err = s.deps.Parties.Get(ctx, *inviter.PartyID); err != nil {
			return out, err
		}
	}
	if p == nil {
		// The invitation can never be honored; drop it.
		if err := s.deps.Invites.Remove(ctx, source, actor.Name); err != nil {
			return out, err
		}
		out.reply("command.accept.no_request")
		return out, nil
	}

	if s.cfg.UseMemberLimit && p.IsFull() {
		out.reply("command.accept.limit")
		return out, nil
	}
	if err := s.deps.Parties.AddMember(ctx, p.ID, actor.ID); err != nil {
		switch {
		case errors.Is(err, party.ErrPartyFull):
			out.reply("command.accept.limit")
			return out, nil
		case errors.Is(err, party.ErrNotFound):
			// Disbanded since it was read.
			if err := s.deps.Invites.Remove(ctx, source, actor.Name); err != nil {
				return out, err
			}
			out.reply("command.accept.no_request")
			return out, nil
		}
		return out, err
	}
	if err := s.deps.Invites.Remove(ctx, source, actor.Name); err != nil {
		return out, err
	}

	s.notifyOptIn(ctx, p.AllMembers(), "party.join", actor.Name)
	s.cacheParty(actor.ID, &p.ID)
	out.reply("command.accept.joined")
	return out, nil
}

// Deny declines the invitation from the player named source.
func (s *Service) Deny(ctx context.Context, actor Actor, source string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "deny", actor)
	defer func() { end(span, &out, err) }()

	pending, err := s.deps.Invites.Exists(ctx, source, actor.Name)
	if err != nil {
		return out, err
	}
	if !pending {
		out.reply("command.deny.no_request", source)
		return out, nil
	}
	if err := s.deps.Invites.Remove(ctx, source, actor.Name); err != nil {
		return out, err
	}
	out.reply("command.deny.declined", source)

	inviter, err := s.deps.Presence.GetByName(ctx, source)
	if err != nil {
		return out, err
	}
	if inviter != nil {
		s.notify(ctx, []uuid.UUID{inviter.ID}, "command.deny.other", actor.Name)
	}
	return out, nil
}
