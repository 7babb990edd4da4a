// Package relay connects a node to the event bus. Inbound, it routes the
// three party channels to players connected to this node. Outbound, it
// publishes the events the workflows emit.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/partymesh/bus"
	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/sessioncache"
	"github.com/google/uuid"
)

// Delivery performs player-facing side effects on this node.
type Delivery interface {
	SendLocalMessage(ctx context.Context, player uuid.UUID, text string) error
	ConnectLocalPlayerToServer(ctx context.Context, player uuid.UUID, server string) error
}

// Relay is the per-node bus endpoint.
type Relay struct {
	bus      bus.Bus
	cache    *sessioncache.Cache
	delivery Delivery
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a relay. delivery may be nil for nodes that only publish.
func New(b bus.Bus, cache *sessioncache.Cache, delivery Delivery, opts ...Option) *Relay {
	r := &Relay{bus: b, cache: cache, delivery: delivery, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to every party channel. Dispatch runs until ctx ends or
// Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("relay already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := r.bus.Subscribe(ctx, bus.Channels, r.dispatch); err != nil {
		cancel()
		return fmt.Errorf("failed to start relay: %w", err)
	}
	r.cancel = cancel
	r.log.InfoContext(ctx, "relay.start")
	return nil
}

// Stop ends inbound dispatch.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Relay) dispatch(ctx context.Context, msg bus.Message) {
	ctx = logctx.WithEventData(ctx, &logctx.EventData{Channel: msg.Channel})
	switch msg.Channel {
	case bus.ChannelMessage:
		ev, err := bus.DecodeMessage(msg.Payload)
		if err != nil {
			r.drop(ctx, err)
			return
		}
		if r.delivery == nil || !r.cache.Has(ev.PlayerID) {
			return
		}
		if err := r.delivery.SendLocalMessage(ctx, ev.PlayerID, ev.Message); err != nil {
			r.log.WarnContext(ctx, "relay.deliver.fail",
				slog.String("player", ev.PlayerID.String()),
				slog.String("err", err.Error()))
		}
	case bus.ChannelServer:
		ev, err := bus.DecodeServerTransfer(msg.Payload)
		if err != nil {
			r.drop(ctx, err)
			return
		}
		e, ok := r.cache.Get(ev.PlayerID)
		if r.delivery == nil || !ok || e.Server == ev.Server {
			return
		}
		if err := r.delivery.ConnectLocalPlayerToServer(ctx, ev.PlayerID, ev.Server); err != nil {
			r.log.WarnContext(ctx, "relay.transfer.fail",
				slog.String("player", ev.PlayerID.String()),
				slog.String("server", ev.Server),
				slog.String("err", err.Error()))
		}
	case bus.ChannelPartyRef:
		ev, err := bus.DecodePartyRef(msg.Payload)
		if err != nil {
			r.drop(ctx, err)
			return
		}
		r.cache.SetPartyID(ev.PlayerID, ev.PartyID)
	default:
		r.log.DebugContext(ctx, "relay.dispatch.unknown")
	}
}

func (r *Relay) drop(ctx context.Context, err error) {
	r.log.DebugContext(ctx, "relay.dispatch.drop", slog.String("err", err.Error()))
}

// SendMessage publishes text to each player, wherever they are connected.
// Every player is attempted; failures are joined.
func (r *Relay) SendMessage(ctx context.Context, players []uuid.UUID, text string) error {
	var errs []error
	for _, id := range players {
		if err := r.publish(ctx, bus.ChannelMessage, bus.MessageEvent{PlayerID: id, Message: text}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectToServer asks the node owning player to move them to server.
func (r *Relay) ConnectToServer(ctx context.Context, player uuid.UUID, server string) error {
	return r.publish(ctx, bus.ChannelServer, bus.ServerTransferEvent{PlayerID: player, Server: server})
}

// UpdatePartyRef tells the node owning player that their party changed.
func (r *Relay) UpdatePartyRef(ctx context.Context, player uuid.UUID, partyID *uuid.UUID) error {
	return r.publish(ctx, bus.ChannelPartyRef, bus.PartyRefEvent{PlayerID: player, PartyID: partyID})
}

func (r *Relay) publish(ctx context.Context, channel string, ev any) error {
	b, err := bus.Encode(ev)
	if err != nil {
		return party.WrapStore("publish "+channel, err)
	}
	return party.WrapStore("publish "+channel, r.bus.Publish(ctx, channel, b))
}
