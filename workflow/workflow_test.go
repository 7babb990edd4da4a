package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/partymesh/invites"
	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/kv/memorykv"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/partystore"
	"github.com/ggoodman/partymesh/presence"
	"github.com/ggoodman/partymesh/sessioncache"
	"github.com/ggoodman/partymesh/settings"
	"github.com/ggoodman/partymesh/settings/memorysettings"
	"github.com/google/uuid"
)

// keyRenderer renders "key|arg0|arg1" so tests can assert on keys.
type keyRenderer struct{}

func (keyRenderer) Render(key string, args ...any) string {
	parts := []string{key}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, "|")
}

type partyRef struct {
	player  uuid.UUID
	partyID *uuid.UUID
}

type recorder struct {
	mu        sync.Mutex
	messages  map[uuid.UUID][]string
	transfers map[uuid.UUID][]string
	refs      []partyRef
}

func newRecorder() *recorder {
	return &recorder{messages: map[uuid.UUID][]string{}, transfers: map[uuid.UUID][]string{}}
}

func (r *recorder) SendMessage(_ context.Context, players []uuid.UUID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range players {
		r.messages[id] = append(r.messages[id], text)
	}
	return nil
}

func (r *recorder) ConnectToServer(_ context.Context, player uuid.UUID, server string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[player] = append(r.transfers[player], server)
	return nil
}

func (r *recorder) UpdatePartyRef(_ context.Context, player uuid.UUID, partyID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, partyRef{player: player, partyID: partyID})
	return nil
}

func (r *recorder) received(id uuid.UUID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[id] {
		if strings.SplitN(m, "|", 2)[0] == key {
			return true
		}
	}
	return false
}

type fixture struct {
	t        *testing.T
	kv       kv.Store
	presence *presence.Registry
	invites  *invites.Ledger
	parties  *partystore.Store
	cache    *sessioncache.Cache
	pub      *recorder
	svc      *Service
}

func newFixture(t *testing.T, cfg Config, mutate ...func(*Deps)) *fixture {
	t.Helper()
	kvs := memorykv.New()
	t.Cleanup(func() { _ = kvs.Close() })
	return newFixtureOn(t, kvs, cfg, mutate...)
}

// newFixtureOn builds a fixture whose collaborators all share kvs.
func newFixtureOn(t *testing.T, kvs kv.Store, cfg Config, mutate ...func(*Deps)) *fixture {
	t.Helper()
	reg := presence.New(kvs)
	ledger := invites.New(kvs, party.Keys{})
	f := &fixture{
		t:        t,
		kv:       kvs,
		presence: reg,
		invites:  ledger,
		parties:  partystore.New(kvs, reg, ledger),
		cache:    sessioncache.New(),
		pub:      newRecorder(),
	}
	deps := Deps{
		Parties:   f.parties,
		Presence:  f.presence,
		Invites:   f.invites,
		Publisher: f.pub,
		Messages:  keyRenderer{},
		Cache:     f.cache,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func defaultConfig() Config {
	return Config{RequestExpiry: time.Minute, UseMemberLimit: true, DefaultMemberLimit: 5}
}

func (f *fixture) login(name string) Actor {
	f.t.Helper()
	a := Actor{ID: uuid.New(), Name: name}
	if err := f.svc.Login(context.Background(), LoginInfo{ID: a.ID, Name: a.Name}); err != nil {
		f.t.Fatalf("login %s: %v", name, err)
	}
	return a
}

func (f *fixture) expect(out Outcome, err error, keys ...string) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(out.Keys(), keys) {
		f.t.Fatalf("replies %v, want %v", out.Keys(), keys)
	}
}

// form builds a party led by leader through invite and accept.
func (f *fixture) form(leader Actor, members ...Actor) *party.Party {
	f.t.Helper()
	ctx := context.Background()
	for _, m := range members {
		if _, err := f.svc.Invite(ctx, leader, m.Name); err != nil {
			f.t.Fatalf("invite %s: %v", m.Name, err)
		}
		out, err := f.svc.Accept(ctx, m, leader.Name)
		f.expect(out, err, "command.accept.joined")
	}
	return f.partyOf(leader.ID)
}

func (f *fixture) session(id uuid.UUID) *party.Session {
	f.t.Helper()
	s, err := f.presence.Get(context.Background(), id)
	if err != nil {
		f.t.Fatalf("get session: %v", err)
	}
	return s
}

func (f *fixture) partyOf(id uuid.UUID) *party.Party {
	f.t.Helper()
	s := f.session(id)
	if s == nil || s.PartyID == nil {
		return nil
	}
	p, err := f.parties.Get(context.Background(), *s.PartyID)
	if err != nil {
		f.t.Fatalf("get party: %v", err)
	}
	return p
}

// checkInvariants asserts the structural party invariants.
func (f *fixture) checkInvariants(p *party.Party) {
	f.t.Helper()
	if p == nil {
		return
	}
	if p.HasMember(p.Leader) {
		f.t.Fatalf("leader listed as member: %+v", p)
	}
	if p.MaxMembers != party.Unlimited && len(p.AllMembers()) > p.MaxMembers {
		f.t.Fatalf("party over capacity: %+v", p)
	}
}

func TestInviteAcceptHappyPath(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a, b := f.login("Alice"), f.login("Bob")

	out, err := f.svc.Invite(ctx, a, "bob")
	f.expect(out, err, "command.invite.created_party", "command.invite.sent")
	if out.Replies[1].Args[0] != "Bob" {
		t.Fatalf("reply should carry the canonical name, got %v", out.Replies[1].Args)
	}
	p := f.partyOf(a.ID)
	if p == nil || p.Leader != a.ID {
		t.Fatalf("expected party led by alice, got %+v", p)
	}
	if ok, _ := f.invites.Exists(ctx, "Alice", "Bob"); !ok {
		t.Fatal("expected pending invitation")
	}
	if !f.pub.received(b.ID, "command.invite.received") {
		t.Fatal("invitee should be notified")
	}
	if e, _ := f.cache.Get(a.ID); e.PartyID == nil || *e.PartyID != p.ID {
		t.Fatal("local cache should track the new party")
	}

	out, err = f.svc.Accept(ctx, b, "Alice")
	f.expect(out, err, "command.accept.joined")
	if ok, _ := f.invites.Exists(ctx, "Alice", "Bob"); ok {
		t.Fatal("invitation should be consumed")
	}
	p = f.partyOf(a.ID)
	if !slices.Equal(p.Members, []uuid.UUID{b.ID}) {
		t.Fatalf("expected bob as member, got %v", p.Members)
	}
	if s := f.session(b.ID); s.PartyID == nil || *s.PartyID != p.ID {
		t.Fatalf("bob's presence should reference the party: %+v", s)
	}
	if !f.pub.received(a.ID, "party.join") {
		t.Fatal("party should be told about the join")
	}
	f.checkInvariants(p)
}

func TestInviteGuards(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a, b, c, d := f.login("Alice"), f.login("Bob"), f.login("Carol"), f.login("Dave")

	out, err := f.svc.Invite(ctx, a, "ALICE")
	f.expect(out, err, "command.invite.self")

	out, err = f.svc.Invite(ctx, a, "Nobody")
	f.expect(out, err, "general.player_not_online")

	f.form(a, b)
	out, err = f.svc.Invite(ctx, c, "Bob")
	f.expect(out, err, "command.invite.already_in_party")

	out, err = f.svc.Invite(ctx, a, "Carol")
	f.expect(out, err, "command.invite.sent")
	out, err = f.svc.Invite(ctx, a, "carol")
	f.expect(out, err, "command.invite.already_invited")

	out, err = f.svc.Invite(ctx, b, "Dave")
	f.expect(out, err, "command.invite.not_leader")
	if ok, _ := f.invites.Exists(ctx, "Bob", "Dave"); ok {
		t.Fatal("rejected invite must not create an invitation")
	}
	_ = d
}

func TestAcceptGuards(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a, b, c := f.login("Alice"), f.login("Bob"), f.login("Carol")

	out, err := f.svc.Accept(ctx, b, "Alice")
	f.expect(out, err, "command.accept.no_request")

	f.form(a, b)
	out, err = f.svc.Accept(ctx, b, "Alice")
	f.expect(out, err, "command.accept.already")

	// Inviter went offline: the invitation is dropped.
	_, _ = f.svc.Invite(ctx, a, "Carol")
	if err := f.svc.Logout(ctx, a.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_ = f.invites.Create(ctx, "Alice", "Carol", time.Minute)
	out, err = f.svc.Accept(ctx, c, "Alice")
	f.expect(out, err, "command.accept.no_request")
	if ok, _ := f.invites.Exists(ctx, "Alice", "Carol"); ok {
		t.Fatal("unusable invitation should be removed")
	}
}

func TestAcceptRejectsFullParty(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultMemberLimit = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	a, b, c := f.login("Alice"), f.login("Bob"), f.login("Carol")
	f.form(a, b)

	_, _ = f.svc.Invite(ctx, a, "Carol")
	before := f.partyOf(a.ID)

	out, err := f.svc.Accept(ctx, c, "Alice")
	f.expect(out, err, "command.accept.limit")

	after := f.partyOf(a.ID)
	if !slices.Equal(before.Members, after.Members) || after.MaxMembers != 2 {
		t.Fatalf("party changed on rejected accept: %+v -> %+v", before, after)
	}
	if s := f.session(c.ID); s.InParty() {
		t.Fatal("rejected player must stay unpartied")
	}
	if ok, _ := f.invites.Exists(ctx, "Alice", "Carol"); !ok {
		t.Fatal("rejected accept must leave the invitation in place")
	}
	f.checkInvariants(after)
}

func TestUnlimitedPartiesWhenLimitDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.UseMemberLimit = false
	f := newFixture(t, cfg)
	a := f.login("Alice")
	members := make([]Actor, 0, 6)
	for i := range 6 {
		members = append(members, f.login(fmt.Sprintf("Member%d", i)))
	}
	p := f.form(a, members...)
	if p.MaxMembers != party.Unlimited || len(p.Members) != 6 {
		t.Fatalf("unexpected party %+v", p)
	}
}

func TestDeny(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	a, b := f.login("Alice"), f.login("Bob")

	out, err := f.svc.Deny(ctx, b, "Alice")
	f.expect(out, err, "command.deny.no_request")

	_, _ = f.svc.Invite(ctx, a, "Bob")
	out, err = f.svc.Deny(ctx, b, "alice")
	f.expect(out, err, "command.deny.declined")
	if ok, _ := f.invites.Exists(ctx, "Alice", "Bob"); ok {
		t.Fatal("invitation should be removed")
	}
	if !f.pub.received(a.ID, "command.deny.other") {
		t.Fatal("inviter should be told")
	}
}

func TestKick(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m1, m2, x := f.login("Leader"), f.login("M1"), f.login("M2"), f.login("X")
	p := f.form(l, m1, m2)

	out, err := f.svc.Kick(ctx, m1, "M2")
	f.expect(out, err, "command.kick.not_leader")
	out, err = f.svc.Kick(ctx, l, "leader")
	f.expect(out, err, "command.kick.self")
	out, err = f.svc.Kick(ctx, l, "X")
	f.expect(out, err, "command.not_in_your_party")
	out, err = f.svc.Kick(ctx, x, "M1")
	f.expect(out, err, "command.not_in_party")

	out, err = f.svc.Kick(ctx, l, "m1")
	f.expect(out, err, "command.kick.leader")

	after := f.partyOf(l.ID)
	if after.ID != p.ID || !slices.Equal(after.Members, []uuid.UUID{m2.ID}) {
		t.Fatalf("expected only M2 left, got %+v", after)
	}
	if s := f.session(m1.ID); s.InParty() {
		t.Fatal("kicked player's presence should be cleared")
	}
	found := false
	for _, r := range f.pub.refs {
		if r.player == m1.ID && r.partyID == nil {
			found = true
		}
	}
	if !found {
		t.Fatal("expected party-ref update with null for the kicked player")
	}
	if !f.pub.received(m1.ID, "command.kick.kicked") || !f.pub.received(m2.ID, "party.kick") {
		t.Fatal("kick notifications missing")
	}
	f.checkInvariants(after)
}

func TestLeaveAsSoleMember(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l := f.login("Leader")
	_, _ = f.svc.Invite(ctx, l, "nobody-online")
	f.login("Bob")
	_, _ = f.svc.Invite(ctx, l, "Bob")
	p := f.partyOf(l.ID)
	if p == nil {
		t.Fatal("expected party")
	}

	out, err := f.svc.Leave(ctx, l)
	f.expect(out, err, "command.leave")
	if got, _ := f.parties.Get(ctx, p.ID); got != nil {
		t.Fatal("party should be deleted")
	}
	if s := f.session(l.ID); s.InParty() {
		t.Fatal("presence should be cleared")
	}
	if ok, _ := f.invites.Exists(ctx, "Leader", "Bob"); ok {
		t.Fatal("leaver's invitations should be cleared")
	}

	out, err = f.svc.Leave(ctx, l)
	f.expect(out, err, "command.not_in_party")
}

func TestLeaveAsLeaderWithOneMember(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m := f.login("Leader"), f.login("Member")
	p := f.form(l, m)

	out, err := f.svc.Leave(ctx, l)
	f.expect(out, err, "command.leave")

	after, _ := f.parties.Get(ctx, p.ID)
	if after == nil || after.Leader != m.ID || len(after.Members) != 0 {
		t.Fatalf("expected member promoted to sole leader, got %+v", after)
	}
	if !f.pub.received(m.ID, "party.left") || !f.pub.received(m.ID, "party.new_leader") {
		t.Fatal("remaining member should be notified")
	}
	if s := f.session(l.ID); s.InParty() {
		t.Fatal("former leader should be unpartied")
	}
	f.checkInvariants(after)
}

func TestLeaveAsMember(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m1, m2 := f.login("Leader"), f.login("M1"), f.login("M2")
	p := f.form(l, m1, m2)

	out, err := f.svc.Leave(ctx, m1)
	f.expect(out, err, "command.leave")
	after, _ := f.parties.Get(ctx, p.ID)
	if after.Leader != l.ID || !slices.Equal(after.Members, []uuid.UUID{m2.ID}) {
		t.Fatalf("unexpected party %+v", after)
	}
	if !f.pub.received(l.ID, "party.left") {
		t.Fatal("leader should be told")
	}
}

func TestPromote(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m1, m2 := f.login("Leader"), f.login("M1"), f.login("M2")
	p := f.form(l, m1, m2)

	out, err := f.svc.Promote(ctx, m1, "M2", nil)
	f.expect(out, err, "command.promote.not_leader")
	out, err = f.svc.Promote(ctx, l, "Leader", nil)
	f.expect(out, err, "command.promote.self")

	tooSmall := 2
	out, err = f.svc.Promote(ctx, l, "M1", &tooSmall)
	f.expect(out, err, "command.promote.invalid_limit")
	over := party.MaxMemberLimit + 1
	out, err = f.svc.Promote(ctx, l, "M1", &over)
	f.expect(out, err, "command.promote.invalid_limit")

	limit := 8
	out, err = f.svc.Promote(ctx, l, "m1", &limit)
	f.expect(out, err, "command.promote.promoted")
	after, _ := f.parties.Get(ctx, p.ID)
	if after.Leader != m1.ID || after.MaxMembers != 8 || !after.HasMember(l.ID) || after.HasMember(m1.ID) {
		t.Fatalf("unexpected party %+v", after)
	}
	if !f.pub.received(m2.ID, "party.new_leader") {
		t.Fatal("members should be told about the new leader")
	}
	f.checkInvariants(after)
}

func TestList(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m1, m2 := f.login("Leader"), f.login("M1"), f.login("M2")

	out, err := f.svc.List(ctx, l)
	f.expect(out, err, "command.not_in_party")

	f.form(l, m1, m2)
	out, err = f.svc.List(ctx, m2)
	f.expect(out, err, "command.list")
	args := out.Replies[0].Args
	if args[0] != "Leader" || args[1] != "M1"+memberSeparator+"M2" {
		t.Fatalf("unexpected list args %v", args)
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m := f.login("Leader"), f.login("Member")

	out, err := f.svc.Chat(ctx, l, "   ")
	f.expect(out, err, "command.usage.chat")
	out, err = f.svc.Chat(ctx, l, "hi")
	f.expect(out, err, "command.not_in_party")

	f.form(l, m)
	out, err = f.svc.Chat(ctx, m, "hello team")
	f.expect(out, err)
	if !f.pub.received(l.ID, "party.chat") || !f.pub.received(m.ID, "party.chat") {
		t.Fatal("every member should get the chat line")
	}
}

func TestToggleAndOptOut(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, defaultConfig())
	out, err := f.svc.Toggle(ctx, f.login("Alice"), "notifications")
	f.expect(out, err, "command.toggle.unavailable")

	store := memorysettings.New()
	f = newFixture(t, defaultConfig(), func(d *Deps) { d.Settings = store })
	a, b, c := f.login("Alice"), f.login("Bob"), f.login("Carol")

	out, err = f.svc.Toggle(ctx, a, "volume")
	f.expect(out, err, "command.usage.toggle")
	out, err = f.svc.Toggle(ctx, a, "Notifications")
	f.expect(out, err, "command.toggle.notifications.disabled")
	if v, _ := store.SettingValue(ctx, a.ID, settings.Notifications); v {
		t.Fatal("setting should be disabled")
	}

	f.form(a, b)
	_, _ = f.svc.Invite(ctx, a, "Carol")
	_, _ = f.svc.Accept(ctx, c, "Alice")
	if f.pub.received(a.ID, "party.join") {
		t.Fatal("opted-out player should not get join notices")
	}
	if !f.pub.received(b.ID, "party.join") {
		t.Fatal("opted-in player should get join notices")
	}

	out, err = f.svc.Toggle(ctx, a, "notifications")
	f.expect(out, err, "command.toggle.notifications.enabled")
}

func TestLogoutHandsOffLeadership(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m1, m2, x := f.login("Leader"), f.login("M1"), f.login("M2"), f.login("X")
	p := f.form(l, m1, m2)
	_, _ = f.svc.Invite(ctx, l, "X")

	if err := f.svc.Logout(ctx, l.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if s := f.session(l.ID); s != nil {
		t.Fatal("presence should be removed")
	}
	if f.cache.Has(l.ID) {
		t.Fatal("local cache entry should be removed")
	}
	after, _ := f.parties.Get(ctx, p.ID)
	if after == nil || after.Leader != m1.ID || !slices.Equal(after.Members, []uuid.UUID{m2.ID}) {
		t.Fatalf("expected M1 to lead with M2, got %+v", after)
	}
	if ok, _ := f.invites.Exists(ctx, "Leader", "X"); ok {
		t.Fatal("outgoing invitations should be cleared on logout")
	}
	if !f.pub.received(m2.ID, "party.new_leader") {
		t.Fatal("members should learn the new leader")
	}
	f.checkInvariants(after)
	_ = x

	// Unknown players log out cleanly.
	if err := f.svc.Logout(ctx, uuid.New()); err != nil {
		t.Fatalf("logout unknown: %v", err)
	}
}

func TestLogoutSoleLeaderDeletesParty(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	l, m := f.login("Leader"), f.login("Member")
	p := f.form(l, m)

	_ = f.svc.Logout(ctx, m.ID)
	_ = f.svc.Logout(ctx, l.ID)
	if got, _ := f.parties.Get(ctx, p.ID); got != nil {
		t.Fatalf("party should be gone, got %+v", got)
	}
}
