package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/google/uuid"
)

// DefaultFollowBlacklist keeps parties from following their leader into
// lobby servers.
var DefaultFollowBlacklist = []string{"^Lobby.*"}

// FollowPolicy decides whether a party follows its leader to a server.
// Patterns must match the whole server name. A blacklisted server is
// followed only when the whitelist is enabled and also matches it; any
// other server is followed.
type FollowPolicy struct {
	Blacklist []*regexp.Regexp
	Whitelist []*regexp.Regexp
}

// NewFollowPolicy compiles blacklist and whitelist patterns. An empty list
// disables that list.
func NewFollowPolicy(blacklist, whitelist []string) (FollowPolicy, error) {
	black, err := compileAll(blacklist)
	if err != nil {
		return FollowPolicy{}, fmt.Errorf("follow blacklist: %w", err)
	}
	white, err := compileAll(whitelist)
	if err != nil {
		return FollowPolicy{}, fmt.Errorf("follow whitelist: %w", err)
	}
	return FollowPolicy{Blacklist: black, Whitelist: white}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Allows reports whether a party follows its leader to server.
func (f FollowPolicy) Allows(server string) bool {
	if matchAny(f.Blacklist, server) {
		return matchAny(f.Whitelist, server)
	}
	return true
}

func matchAny(res []*regexp.Regexp, s string) bool {
	return slices.ContainsFunc(res, func(re *regexp.Regexp) bool { return re.MatchString(s) })
}

// ServerConnected records that the actor reached server. When the actor
// leads a party and the follow policy allows server, every member is sent
// there and told so.
func (s *Service) ServerConnected(ctx context.Context, actor Actor, server string) (err error) {
	if s.deps.Cache != nil {
		s.deps.Cache.SetServer(actor.ID, server)
	}
	ctx, span := s.begin(ctx, "server_connected", actor)
	defer func() { end(span, nil, err) }()

	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil || p == nil || !p.IsLeader(actor.ID) {
		return err
	}
	if !s.cfg.Follow.Allows(server) {
		return nil
	}
	ctx = logctx.WithPartyData(ctx, &logctx.PartyData{PartyID: p.ID.String()})

	text := s.deps.Messages.Render("party.connect_to_server", server)
	for _, id := range p.AllMembers() {
		if err := s.deps.Publisher.ConnectToServer(ctx, id, server); err != nil {
			s.log.WarnContext(ctx, "workflow.follow.fail",
				slog.String("target", id.String()),
				slog.String("err", err.Error()))
			continue
		}
		if err := s.deps.Publisher.SendMessage(ctx, []uuid.UUID{id}, text); err != nil {
			s.log.WarnContext(ctx, "workflow.notify.fail",
				slog.String("key", "party.connect_to_server"),
				slog.String("err", err.Error()))
		}
	}
	s.log.InfoContext(ctx, "workflow.follow.ok", slog.String("server", server))
	return nil
}
