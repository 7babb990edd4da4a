package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the player, party, command and bus event
// attached to the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if pd, ok := ctx.Value(playerDataKey{}).(*PlayerData); ok {
		r.AddAttrs(slog.Group("player",
			slog.String("id", pd.PlayerID),
			slog.String("name", pd.Name),
		))
	}

	if pd, ok := ctx.Value(partyDataKey{}).(*PartyData); ok {
		r.AddAttrs(slog.Group("party",
			slog.String("id", pd.PartyID),
		))
	}

	if cd, ok := ctx.Value(commandDataKey{}).(*CommandData); ok {
		r.AddAttrs(slog.Group("cmd",
			slog.String("name", cd.Name),
			slog.Int("args", cd.Args),
		))
	}

	if ed, ok := ctx.Value(eventDataKey{}).(*EventData); ok {
		r.AddAttrs(slog.Group("event",
			slog.String("channel", ed.Channel),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type playerDataKey struct{}

type PlayerData struct {
	PlayerID string
	Name     string
}

func WithPlayerData(ctx context.Context, data *PlayerData) context.Context {
	return context.WithValue(ctx, playerDataKey{}, data)
}

type partyDataKey struct{}

type PartyData struct {
	PartyID string
}

func WithPartyData(ctx context.Context, data *PartyData) context.Context {
	return context.WithValue(ctx, partyDataKey{}, data)
}

type commandDataKey struct{}

type CommandData struct {
	Name string
	Args int
}

func WithCommandData(ctx context.Context, data *CommandData) context.Context {
	return context.WithValue(ctx, commandDataKey{}, data)
}

type eventDataKey struct{}

type EventData struct {
	Channel string
}

func WithEventData(ctx context.Context, data *EventData) context.Context {
	return context.WithValue(ctx, eventDataKey{}, data)
}
