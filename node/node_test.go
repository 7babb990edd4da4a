package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/partymesh/bus"
	"github.com/ggoodman/partymesh/bus/memorybus"
	"github.com/ggoodman/partymesh/config"
	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/kv/memorykv"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/settings"
	"github.com/ggoodman/partymesh/workflow"
	"github.com/google/uuid"
)

// shared keeps backends alive when one of several nodes closes.
type sharedStore struct{ kv.Store }

func (sharedStore) Close() error { return nil }

type sharedBus struct{ bus.Bus }

func (sharedBus) Close() error { return nil }

type delivery struct {
	mu        sync.Mutex
	messages  map[uuid.UUID][]string
	transfers map[uuid.UUID][]string
}

func newDelivery() *delivery {
	return &delivery{messages: map[uuid.UUID][]string{}, transfers: map[uuid.UUID][]string{}}
}

func (d *delivery) SendLocalMessage(_ context.Context, player uuid.UUID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[player] = append(d.messages[player], text)
	return nil
}

func (d *delivery) ConnectLocalPlayerToServer(_ context.Context, player uuid.UUID, server string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers[player] = append(d.transfers[player], server)
	return nil
}

func (d *delivery) hasMessage(player uuid.UUID, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.messages[player], text)
}

func (d *delivery) hasTransfer(player uuid.UUID, server string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.transfers[player], server)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() config.Config {
	return config.Config{
		Redis:              config.Redis{Addr: "unused:6379"},
		RequestExpires:     time.Minute,
		UseMemberLimit:     true,
		DefaultMemberLimit: 5,
		Workers:            2,
		QueueSize:          16,
		FollowBlacklist:    []string{"^Lobby.*"},
	}
}

type cluster struct {
	store kv.Store
	bus   bus.Bus
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	c := &cluster{store: memorykv.New(), bus: memorybus.New()}
	t.Cleanup(func() {
		_ = c.bus.Close()
		_ = c.store.Close()
	})
	return c
}

func (c *cluster) node(t *testing.T, d *delivery) *Node {
	t.Helper()
	st, err := openSettings(testConfig(), c.store)
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	n, err := New(context.Background(), testConfig(), sharedStore{c.store}, sharedBus{c.bus}, st, d)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	return n
}

// run executes a command and waits for its replies.
func run(t *testing.T, n *Node, actor workflow.Actor, name string, args ...string) []string {
	t.Helper()
	var (
		mu      sync.Mutex
		replies []string
	)
	done := make(chan struct{})
	err := n.executor.Submit(func(ctx context.Context) {
		defer close(done)
		out := n.router.Dispatch(ctx, actor, name, args)
		for _, r := range out.Replies {
			mu.Lock()
			replies = append(replies, n.catalog.Render(r.Key, r.Args...))
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not finish", name)
	}
	mu.Lock()
	defer mu.Unlock()
	return replies
}

func connect(t *testing.T, n *Node, name string) workflow.Actor {
	t.Helper()
	a := workflow.Actor{ID: uuid.New(), Name: name}
	if err := n.Connect(context.Background(), workflow.LoginInfo{ID: a.ID, Name: a.Name, Server: "Lobby1"}); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	return a
}

func TestPartyAcrossNodes(t *testing.T) {
	c := newCluster(t)
	da, db := newDelivery(), newDelivery()
	na, nb := c.node(t, da), c.node(t, db)
	cat := na.Catalog()

	alice := connect(t, na, "Alice")
	bob := connect(t, nb, "Bob")

	replies := run(t, na, alice, "invite", "bob")
	want := []string{cat.Render("command.invite.created_party"), cat.Render("command.invite.sent", "Bob")}
	if !slices.Equal(replies, want) {
		t.Fatalf("invite replies %q, want %q", replies, want)
	}
	eventually(t, "invitation on node B", func() bool {
		return db.hasMessage(bob.ID, cat.Render("command.invite.received", "Alice"))
	})

	replies = run(t, nb, bob, "accept", "Alice")
	if !slices.Equal(replies, []string{cat.Render("command.accept.joined")}) {
		t.Fatalf("accept replies %q", replies)
	}
	eventually(t, "join notice on node A", func() bool {
		return da.hasMessage(alice.ID, cat.Render("party.join", "Bob"))
	})
	eventually(t, "node B cache sees the party", func() bool {
		e, ok := nb.cache.Get(bob.ID)
		return ok && e.PartyID != nil
	})

	if err := na.ServerConnected(alice, "Survival"); err != nil {
		t.Fatalf("server connected: %v", err)
	}
	eventually(t, "bob follows alice", func() bool { return db.hasTransfer(bob.ID, "Survival") })

	if err := na.Close(context.Background()); err != nil {
		t.Fatalf("close node A: %v", err)
	}
	if err := na.Execute(alice, "list", nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	eventually(t, "bob learns alice left", func() bool {
		return db.hasMessage(bob.ID, cat.Render("party.left", "Alice"))
	})
	p, err := nb.Parties().Get(context.Background(), *mustSession(t, nb, bob.ID).PartyID)
	if err != nil || p == nil || p.Leader != bob.ID || len(p.Members) != 0 {
		t.Fatalf("bob should lead the remaining party, got %+v (%v)", p, err)
	}
	if s, _ := nb.Presence().Get(context.Background(), alice.ID); s != nil {
		t.Fatal("alice should be logged out by node shutdown")
	}
}

func TestOptOutHoldsAcrossNodes(t *testing.T) {
	c := newCluster(t)
	da, db := newDelivery(), newDelivery()
	na, nb := c.node(t, da), c.node(t, db)
	cat := na.Catalog()

	alice := connect(t, na, "Alice")
	bob := connect(t, nb, "Bob")
	carol := connect(t, na, "Carol")

	replies := run(t, nb, bob, "toggle", "notifications")
	if !slices.Equal(replies, []string{cat.Render("command.toggle.notifications.disabled")}) {
		t.Fatalf("toggle replies %q", replies)
	}
	enabled, err := na.settings.PlayersWithEnabledSetting(context.Background(), []uuid.UUID{alice.ID, bob.ID}, settings.Notifications)
	if err != nil || !slices.Equal(enabled, []uuid.UUID{alice.ID}) {
		t.Fatalf("node A should see bob's opt-out, got %v (%v)", enabled, err)
	}

	run(t, na, alice, "invite", "bob")
	run(t, nb, bob, "accept", "Alice")
	run(t, na, alice, "invite", "carol")
	if replies := run(t, na, carol, "accept", "Alice"); !slices.Equal(replies, []string{cat.Render("command.accept.joined")}) {
		t.Fatalf("accept replies %q", replies)
	}
	run(t, na, alice, "chat", "ping")

	// Chat is not filtered and is published after the join, so once it
	// lands any join notice for bob would have landed too.
	eventually(t, "chat on node B", func() bool {
		return db.hasMessage(bob.ID, cat.Render("party.chat", "Alice", "ping"))
	})
	if db.hasMessage(bob.ID, cat.Render("party.join", "Carol")) {
		t.Fatal("bob opted out on node B but was notified by node A")
	}
	if !da.hasMessage(alice.ID, cat.Render("party.join", "Carol")) {
		t.Fatal("alice should be told about the join")
	}
}

func mustSession(t *testing.T, n *Node, id uuid.UUID) *party.Session {
	t.Helper()
	s, err := n.Presence().Get(context.Background(), id)
	if err != nil || s == nil || s.PartyID == nil {
		t.Fatalf("expected partied session, got %+v (%v)", s, err)
	}
	return s
}

func TestExecuteRendersReplies(t *testing.T) {
	c := newCluster(t)
	n := c.node(t, newDelivery())
	alice := connect(t, n, "Alice")

	got := make(chan string, 4)
	if err := n.Execute(alice, "bogus", nil, func(text string) { got <- text }); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case text := <-got:
		if text != n.Catalog().Render("command.help") {
			t.Fatalf("reply %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestMessagesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yaml")
	if err := os.WriteFile(path, []byte("command:\n  help: \"custom help\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.MessagesFile = path
	n, err := New(context.Background(), cfg, memorykv.New(), memorybus.New(), nil, newDelivery())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer func() { _ = n.Close(context.Background()) }()
	if got := n.Catalog().Render("command.help"); got != "custom help" {
		t.Fatalf("override not applied: %q", got)
	}
}

func TestNewRejectsBadFollowPattern(t *testing.T) {
	cfg := testConfig()
	cfg.FollowBlacklist = []string{"("}
	if _, err := New(context.Background(), cfg, memorykv.New(), memorybus.New(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
