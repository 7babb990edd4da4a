package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/partymesh/internal/logctx"
	"github.com/ggoodman/partymesh/invites"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/partystore"
	"github.com/ggoodman/partymesh/presence"
	"github.com/ggoodman/partymesh/sessioncache"
	"github.com/ggoodman/partymesh/settings"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ggoodman/partymesh/workflow"

// Publisher sends cross-node events. relay.Relay implements it.
type Publisher interface {
	SendMessage(ctx context.Context, players []uuid.UUID, text string) error
	ConnectToServer(ctx context.Context, player uuid.UUID, server string) error
	UpdatePartyRef(ctx context.Context, player uuid.UUID, partyID *uuid.UUID) error
}

// Renderer turns a message key into text. messages.Catalog implements it.
type Renderer interface {
	Render(key string, args ...any) string
}

// Deps are the collaborators a Service drives. Settings and Cache are
// optional.
type Deps struct {
	Parties   *partystore.Store
	Presence  *presence.Registry
	Invites   *invites.Ledger
	Publisher Publisher
	Messages  Renderer
	Settings  settings.Store
	Cache     *sessioncache.Cache
}

// Config tunes command behavior.
type Config struct {
	// RequestExpiry bounds how long an invitation can be accepted.
	RequestExpiry time.Duration
	// UseMemberLimit enables capacity enforcement. When false new parties
	// are created with party.Unlimited.
	UseMemberLimit bool
	// DefaultMemberLimit applies to players without a personal limit.
	DefaultMemberLimit int
	// Follow decides which servers a party follows its leader to.
	Follow FollowPolicy
}

// Actor identifies the player issuing a command.
type Actor struct {
	ID   uuid.UUID
	Name string
}

// Reply is one message for the invoking player.
type Reply struct {
	Key  string
	Args []any
}

// Outcome collects the replies of one command, in order.
type Outcome struct {
	Replies []Reply
}

func (o *Outcome) reply(key string, args ...any) {
	o.Replies = append(o.Replies, Reply{Key: key, Args: args})
}

// Keys returns the reply keys in order.
func (o Outcome) Keys() []string {
	keys := make([]string, len(o.Replies))
	for i, r := range o.Replies {
		keys[i] = r.Key
	}
	return keys
}

// Service runs party commands.
type Service struct {
	deps   Deps
	cfg    Config
	log    *slog.Logger
	tracer trace.Tracer
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracerProvider sets where command spans are recorded. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Service.
func New(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	if deps.Parties == nil || deps.Presence == nil || deps.Invites == nil {
		return nil, errors.New("workflow: party store, presence registry and invitation ledger are required")
	}
	if deps.Publisher == nil || deps.Messages == nil {
		return nil, errors.New("workflow: publisher and renderer are required")
	}
	if cfg.RequestExpiry <= 0 {
		cfg.RequestExpiry = invites.DefaultExpiry
	}
	if cfg.DefaultMemberLimit == 0 {
		cfg.DefaultMemberLimit = party.DefaultMemberLimit
	}
	s := &Service{
		deps:   deps,
		cfg:    cfg,
		log:    slog.New(slog.DiscardHandler),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// begin opens a span for a command and decorates ctx for logging.
func (s *Service) begin(ctx context.Context, name string, actor Actor) (context.Context, trace.Span) {
	ctx = logctx.WithPlayerData(ctx, &logctx.PlayerData{PlayerID: actor.ID.String(), Name: actor.Name})
	return s.tracer.Start(ctx, "party."+name, trace.WithAttributes(
		attribute.String("player.id", actor.ID.String()),
		attribute.String("player.name", actor.Name),
	))
}

// end closes span, recording err and the reply keys.
func end(span trace.Span, out *Outcome, err error) {
	if out != nil {
		span.SetAttributes(attribute.StringSlice("party.replies", out.Keys()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// actorParty loads the actor's presence record and the party it references.
// Either may be nil. A locally cached entry without a party answers without
// a store read. A reference to a party that is gone, or that no longer lists
// the actor, is cleared and reported as no party.
func (s *Service) actorParty(ctx context.Context, id uuid.UUID) (*party.Session, *party.Party, error) {
	if s.deps.Cache != nil {
		if e, ok := s.deps.Cache.Get(id); ok && e.PartyID == nil {
			return &party.Session{ID: e.ID, Name: e.Name, MemberLimit: e.MemberLimit}, nil, nil
		}
	}
	sess, err := s.deps.Presence.Get(ctx, id)
	if err != nil || sess == nil || sess.PartyID == nil {
		return sess, nil, err
	}
	p, err := s.deps.Parties.Get(ctx, *sess.PartyID)
	if err != nil {
		return sess, nil, err
	}
	if p != nil && (p.IsLeader(id) || p.HasMember(id)) {
		return sess, p, nil
	}

	stale := *sess.PartyID
	if _, err := s.deps.Presence.ClearPartyID(ctx, id, stale); err != nil {
		return sess, nil, err
	}
	s.log.InfoContext(ctx, "workflow.partyref.stale", slog.String("party", stale.String()))
	s.cacheParty(id, nil)
	sess.PartyID = nil
	return sess, nil, nil
}

// limitFor picks the capacity of a party led by sess.
func (s *Service) limitFor(sess *party.Session) int {
	if !s.cfg.UseMemberLimit {
		return party.Unlimited
	}
	if sess != nil && sess.MemberLimit > 0 && party.ValidMemberLimit(sess.MemberLimit) {
		return sess.MemberLimit
	}
	return s.cfg.DefaultMemberLimit
}

// notify renders key and sends it to players. Delivery is at-most-once, so
// a publish failure is logged rather than failing the command.
func (s *Service) notify(ctx context.Context, players []uuid.UUID, key string, args ...any) {
	if len(players) == 0 {
		return
	}
	text := s.deps.Messages.Render(key, args...)
	if err := s.deps.Publisher.SendMessage(ctx, players, text); err != nil {
		s.log.WarnContext(ctx, "workflow.notify.fail",
			slog.String("key", key),
			slog.String("err", err.Error()))
	}
}

// notifyOptIn is notify restricted to players with notifications enabled.
// Without a settings store everyone is notified.
func (s *Service) notifyOptIn(ctx context.Context, players []uuid.UUID, key string, args ...any) {
	if s.deps.Settings != nil && len(players) > 0 {
		enabled, err := s.deps.Settings.PlayersWithEnabledSetting(ctx, players, settings.Notifications)
		if err != nil {
			s.log.WarnContext(ctx, "workflow.settings.fail", slog.String("err", err.Error()))
		} else {
			players = enabled
		}
	}
	s.notify(ctx, players, key, args...)
}

// publishPartyRef announces a membership change to the player's node.
func (s *Service) publishPartyRef(ctx context.Context, player uuid.UUID, partyID *uuid.UUID) {
	if err := s.deps.Publisher.UpdatePartyRef(ctx, player, partyID); err != nil {
		s.log.WarnContext(ctx, "workflow.partyref.fail",
			slog.String("target", player.String()),
			slog.String("err", err.Error()))
	}
}

// cacheParty updates the local cache entry of a player on this node.
func (s *Service) cacheParty(id uuid.UUID, partyID *uuid.UUID) {
	if s.deps.Cache != nil {
		s.deps.Cache.SetPartyID(id, partyID)
	}
}

// names resolves display names for ids, skipping players that are offline.
func (s *Service) names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	sessions, err := s.deps.Presence.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(sessions))
	for id, sess := range sessions {
		out[id] = sess.Name
	}
	return out, nil
}
