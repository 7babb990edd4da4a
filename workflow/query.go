package workflow

import (
	"context"
	"strings"

	"github.com/ggoodman/partymesh/settings"
)

const memberSeparator = "<dark_gray>, </dark_gray>"

// List replies with the leader and member names of the actor's party.
// Offline players are left out; a missing leader or an empty member list
// renders as "-".
func (s *Service) List(ctx context.Context, actor Actor) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "list", actor)
	defer func() { end(span, &out, err) }()

	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if p == nil {
		out.reply("command.not_in_party")
		return out, nil
	}
	names, err := s.names(ctx, p.AllMembers())
	if err != nil {
		return out, err
	}

	leader := "-"
	if n, ok := names[p.Leader]; ok {
		leader = n
	}
	members := make([]string, 0, len(p.Members))
	for _, id := range p.Members {
		if n, ok := names[id]; ok {
			members = append(members, n)
		}
	}
	memberList := "-"
	if len(members) > 0 {
		memberList = strings.Join(members, memberSeparator)
	}
	out.reply("command.list", leader, memberList)
	return out, nil
}

// Chat sends text to every member of the actor's party.
func (s *Service) Chat(ctx context.Context, actor Actor, text string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "chat", actor)
	defer func() { end(span, &out, err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		out.reply("command.usage.chat")
		return out, nil
	}
	_, p, err := s.actorParty(ctx, actor.ID)
	if err != nil {
		return out, err
	}
	if p == nil {
		out.reply("command.not_in_party")
		return out, nil
	}
	s.notify(ctx, p.AllMembers(), "party.chat", actor.Name, text)
	return out, nil
}

// Toggle flips one of the actor's preferences.
func (s *Service) Toggle(ctx context.Context, actor Actor, name string) (out Outcome, err error) {
	ctx, span := s.begin(ctx, "toggle", actor)
	defer func() { end(span, &out, err) }()

	if s.deps.Settings == nil {
		out.reply("command.toggle.unavailable")
		return out, nil
	}
	kind, ok := settings.ParseKind(name)
	if !ok {
		out.reply("command.usage.toggle")
		return out, nil
	}
	enabled, err := s.deps.Settings.SettingValue(ctx, actor.ID, kind)
	if err != nil {
		return out, err
	}
	if err := s.deps.Settings.ToggleSetting(ctx, actor.ID, kind, !enabled); err != nil {
		return out, err
	}
	state := "enabled"
	if enabled {
		state = "disabled"
	}
	out.reply("command.toggle." + string(kind) + "." + state)
	return out, nil
}
