// Package node assembles a proxy node: the shared store and bus, the party
// services built on them, and the local relay and command executor.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/partymesh/bus"
	"github.com/ggoodman/partymesh/bus/redisbus"
	"github.com/ggoodman/partymesh/commands"
	"github.com/ggoodman/partymesh/config"
	"github.com/ggoodman/partymesh/invites"
	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/kv/rediskv"
	"github.com/ggoodman/partymesh/messages"
	"github.com/ggoodman/partymesh/partystore"
	"github.com/ggoodman/partymesh/presence"
	"github.com/ggoodman/partymesh/relay"
	"github.com/ggoodman/partymesh/sessioncache"
	"github.com/ggoodman/partymesh/settings"
	"github.com/ggoodman/partymesh/settings/kvsettings"
	"github.com/ggoodman/partymesh/settings/sqlitesettings"
	"github.com/ggoodman/partymesh/workflow"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by operations on a closed Node.
var ErrClosed = errors.New("node: closed")

// ReplyFunc receives each rendered reply line of a command.
type ReplyFunc func(text string)

// Node is one proxy's view of the party system.
type Node struct {
	cfg      config.Config
	log      *slog.Logger
	tracer   trace.TracerProvider
	store    kv.Store
	bus      bus.Bus
	settings settings.Store
	catalog  *messages.Catalog
	cache    *sessioncache.Cache
	relay    *relay.Relay
	presence *presence.Registry
	parties  *partystore.Store
	service  *workflow.Service
	router   *commands.Router
	executor *commands.Executor

	stopWatch context.CancelFunc
	watchDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// Option customizes a Node.
type Option func(*Node)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.log = l
		}
	}
}

// WithTracerProvider sets where workflow spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(n *Node) { n.tracer = tp }
}

// Open connects to Redis as described by cfg and starts a node. delivery
// performs side effects for players connected to this process.
func Open(ctx context.Context, cfg config.Config, delivery relay.Delivery, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(cfg.Redis.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	store, err := rediskv.New(rediskv.Config{Client: client})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	b, err := redisbus.New(redisbus.Config{Client: client, Logger: loggerFrom(opts)})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	st, err := openSettings(cfg, store)
	if err != nil {
		_ = b.Close()
		_ = store.Close()
		return nil, err
	}
	return New(ctx, cfg, store, b, st, delivery, opts...)
}

// openSettings keeps preferences next to presence in the shared store
// unless a sqlite DSN is configured. A sqlite file is only consistent across
// the mesh when every node opens the same one.
func openSettings(cfg config.Config, store kv.Store) (settings.Store, error) {
	if cfg.SettingsDSN == "" {
		return kvsettings.New(store, cfg.Keys()), nil
	}
	st, err := sqlitesettings.Open(cfg.SettingsDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	return st, nil
}

func loggerFrom(opts []Option) *slog.Logger {
	var n Node
	for _, opt := range opts {
		opt(&n)
	}
	return n.log
}

// New starts a node on existing backends. The node owns store, b and st
// and closes them in Close. st may be nil to disable player settings.
func New(ctx context.Context, cfg config.Config, store kv.Store, b bus.Bus, st settings.Store, delivery relay.Delivery, opts ...Option) (*Node, error) {
	n := &Node{
		cfg:      cfg,
		log:      slog.New(slog.DiscardHandler),
		store:    store,
		bus:      b,
		settings: st,
		cache:    sessioncache.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	fail := func(err error) (*Node, error) {
		n.closeBackends()
		return nil, err
	}

	catalog, err := n.openCatalog(ctx)
	if err != nil {
		return fail(err)
	}
	n.catalog = catalog

	follow, err := workflow.NewFollowPolicy(cfg.FollowBlacklist, cfg.FollowWhitelist)
	if err != nil {
		return fail(err)
	}

	keys := cfg.Keys()
	n.presence = presence.New(store, presence.WithKeys(keys), presence.WithLogger(n.log))
	ledger := invites.New(store, keys)
	n.parties = partystore.New(store, n.presence, ledger, partystore.WithKeys(keys), partystore.WithLogger(n.log))
	n.relay = relay.New(b, n.cache, delivery, relay.WithLogger(n.log))

	svcOpts := []workflow.Option{workflow.WithLogger(n.log)}
	if n.tracer != nil {
		svcOpts = append(svcOpts, workflow.WithTracerProvider(n.tracer))
	}
	deps := workflow.Deps{
		Parties:   n.parties,
		Presence:  n.presence,
		Invites:   ledger,
		Publisher: n.relay,
		Messages:  catalog,
		Settings:  st,
		Cache:     n.cache,
	}
	n.service, err = workflow.New(deps, workflow.Config{
		RequestExpiry:      cfg.RequestExpires,
		UseMemberLimit:     cfg.UseMemberLimit,
		DefaultMemberLimit: cfg.DefaultMemberLimit,
		Follow:             follow,
	}, svcOpts...)
	if err != nil {
		return fail(err)
	}
	n.router = commands.NewRouter(n.service, commands.WithRouterLogger(n.log))

	if err := n.relay.Start(context.WithoutCancel(ctx)); err != nil {
		return fail(err)
	}
	n.executor = commands.NewExecutor(cfg.Workers, cfg.QueueSize, commands.WithExecutorLogger(n.log))
	n.log.InfoContext(ctx, "node.start", slog.String("redis", cfg.Redis.Addr))
	return n, nil
}

// openCatalog loads the message catalog and, when a file is configured,
// keeps it in sync with that file.
func (n *Node) openCatalog(ctx context.Context) (*messages.Catalog, error) {
	if n.cfg.MessagesFile == "" {
		return messages.Default(), nil
	}
	catalog, err := messages.LoadFile(n.cfg.MessagesFile)
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.stopWatch = cancel
	n.watchDone = make(chan struct{})
	go func() {
		defer close(n.watchDone)
		if err := catalog.Watch(watchCtx, n.cfg.MessagesFile, n.log); err != nil {
			n.log.WarnContext(watchCtx, "messages.watch.fail", slog.String("err", err.Error()))
		}
	}()
	return catalog, nil
}

// Catalog returns the node's message catalog.
func (n *Node) Catalog() *messages.Catalog { return n.catalog }

// Presence returns the shared presence registry.
func (n *Node) Presence() *presence.Registry { return n.presence }

// Parties returns the shared party store.
func (n *Node) Parties() *partystore.Store { return n.parties }

// Connect registers a player who joined this proxy.
func (n *Node) Connect(ctx context.Context, in workflow.LoginInfo) error {
	if n.isClosed() {
		return ErrClosed
	}
	return n.service.Login(ctx, in)
}

// Disconnect removes a player who left this proxy.
func (n *Node) Disconnect(ctx context.Context, id uuid.UUID) error {
	return n.service.Logout(ctx, id)
}

// Execute queues a party subcommand for actor. reply is called on a worker
// goroutine once per rendered reply line. Execute does not block; it
// fails with commands.ErrQueueFull when the node is saturated.
func (n *Node) Execute(actor workflow.Actor, name string, args []string, reply ReplyFunc) error {
	if n.isClosed() {
		return ErrClosed
	}
	return n.executor.Submit(func(ctx context.Context) {
		out := n.router.Dispatch(ctx, actor, name, args)
		if reply == nil {
			return
		}
		for _, r := range out.Replies {
			reply(n.catalog.Render(r.Key, r.Args...))
		}
	})
}

// ServerConnected queues the follow check for a player who reached server.
func (n *Node) ServerConnected(actor workflow.Actor, server string) error {
	if n.isClosed() {
		return ErrClosed
	}
	return n.executor.Submit(func(ctx context.Context) {
		if err := n.service.ServerConnected(ctx, actor, server); err != nil {
			n.log.ErrorContext(ctx, "node.follow.fail",
				slog.String("player", actor.ID.String()),
				slog.String("err", err.Error()))
		}
	})
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close stops accepting commands, drains queued ones, logs out every player
// connected to this node and releases the backends.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	var errs []error
	if err := n.executor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain commands: %w", err))
	}
	for _, e := range n.cache.All() {
		if err := n.service.Logout(ctx, e.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to log out %s: %w", e.ID, err))
		}
	}
	n.relay.Stop()
	if err := n.closeBackends(); err != nil {
		errs = append(errs, err)
	}
	n.log.InfoContext(ctx, "node.stop")
	return errors.Join(errs...)
}

func (n *Node) closeBackends() error {
	var errs []error
	if n.stopWatch != nil {
		n.stopWatch()
		<-n.watchDone
	}
	if err := n.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bus: %w", err))
	}
	if err := n.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if n.settings != nil {
		if err := n.settings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close settings: %w", err))
		}
	}
	return errors.Join(errs...)
}
