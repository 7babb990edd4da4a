package presence

import (
	"context"
	"testing"

	"github.com/ggoodman/partymesh/kv/memorykv"
	"github.com/ggoodman/partymesh/party"
	"github.com/google/uuid"
)

func newRegistry(t *testing.T) (*Registry, *memorykv.Store) {
	t.Helper()
	store := memorykv.New()
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func TestLoginGetLogout(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	s := &party.Session{ID: uuid.New(), Name: "Alice", MemberLimit: 5}

	if err := r.Login(ctx, s); err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := r.Get(ctx, s.ID)
	if err != nil || got == nil || got.Name != "Alice" {
		t.Fatalf("get: %+v %v", got, err)
	}

	prior, err := r.Logout(ctx, s.ID)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if prior == nil || prior.ID != s.ID {
		t.Fatalf("expected prior record, got %+v", prior)
	}
	if got, _ := r.Get(ctx, s.ID); got != nil {
		t.Fatalf("expected record gone, got %+v", got)
	}
	prior, err = r.Logout(ctx, s.ID)
	if err != nil || prior != nil {
		t.Fatalf("second logout should be a no-op, got %+v %v", prior, err)
	}
}

func TestGetByNameIsCaseInsensitive(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	alice := &party.Session{ID: uuid.New(), Name: "Alice"}
	bob := &party.Session{ID: uuid.New(), Name: "Bob"}
	_ = r.Login(ctx, alice)
	_ = r.Login(ctx, bob)

	got, err := r.GetByName(ctx, "aLiCe")
	if err != nil || got == nil || got.ID != alice.ID {
		t.Fatalf("expected alice, got %+v %v", got, err)
	}
	got, err = r.GetByName(ctx, "carol")
	if err != nil || got != nil {
		t.Fatalf("expected nil for unknown name, got %+v %v", got, err)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	r, store := newRegistry(t)
	ctx := context.Background()
	good := &party.Session{ID: uuid.New(), Name: "Good"}
	_ = r.Login(ctx, good)
	badID := uuid.New()
	_ = store.Set(ctx, party.Keys{}.Player(badID), []byte("{not json"), 0)

	if got, err := r.Get(ctx, badID); err != nil || got != nil {
		t.Fatalf("malformed record should read as absent, got %+v %v", got, err)
	}
	all, err := r.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].ID != good.ID {
		t.Fatalf("expected only the good record, got %+v", all)
	}
	many, err := r.GetMany(ctx, []uuid.UUID{good.ID, badID, uuid.New()})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(many) != 1 || many[good.ID] == nil {
		t.Fatalf("expected only the good record, got %+v", many)
	}
	prior, err := r.Logout(ctx, badID)
	if err != nil || prior != nil {
		t.Fatalf("logout of malformed record: %+v %v", prior, err)
	}
	if ok, _ := store.Exists(ctx, party.Keys{}.Player(badID)); ok {
		t.Fatal("malformed record should be removed on logout")
	}
}

func TestUpdatePartyIDIsIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	s := &party.Session{ID: uuid.New(), Name: "Alice"}
	_ = r.Login(ctx, s)
	pid := uuid.New()

	changed, err := r.UpdatePartyID(ctx, s.ID, &pid)
	if err != nil || !changed {
		t.Fatalf("first update: %v %v", changed, err)
	}
	changed, err = r.UpdatePartyID(ctx, s.ID, &pid)
	if err != nil || changed {
		t.Fatalf("second identical update must report false: %v %v", changed, err)
	}
	got, _ := r.Get(ctx, s.ID)
	if got.PartyID == nil || *got.PartyID != pid {
		t.Fatalf("party id not stored: %+v", got)
	}

	changed, err = r.UpdatePartyID(ctx, s.ID, nil)
	if err != nil || !changed {
		t.Fatalf("clear: %v %v", changed, err)
	}
	got, _ = r.Get(ctx, s.ID)
	if got.PartyID != nil {
		t.Fatalf("party id should be cleared: %+v", got)
	}
}

func TestClearPartyIDOnlyClearsExpected(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	s := &party.Session{ID: uuid.New(), Name: "Alice"}
	_ = r.Login(ctx, s)
	stale, current := uuid.New(), uuid.New()
	_, _ = r.UpdatePartyID(ctx, s.ID, &current)

	changed, err := r.ClearPartyID(ctx, s.ID, stale)
	if err != nil || changed {
		t.Fatalf("clearing a different party must be a no-op: %v %v", changed, err)
	}
	got, _ := r.Get(ctx, s.ID)
	if got.PartyID == nil || *got.PartyID != current {
		t.Fatalf("party id should be untouched: %+v", got)
	}

	changed, err = r.ClearPartyID(ctx, s.ID, current)
	if err != nil || !changed {
		t.Fatalf("clear: %v %v", changed, err)
	}
	got, _ = r.Get(ctx, s.ID)
	if got.PartyID != nil {
		t.Fatalf("party id should be cleared: %+v", got)
	}

	changed, err = r.ClearPartyID(ctx, uuid.New(), current)
	if err != nil || changed {
		t.Fatalf("unregistered player: %v %v", changed, err)
	}
}

func TestUpdatePartyIDUnregistered(t *testing.T) {
	r, _ := newRegistry(t)
	pid := uuid.New()
	changed, err := r.UpdatePartyID(context.Background(), uuid.New(), &pid)
	if err != nil || changed {
		t.Fatalf("unregistered player must report false: %v %v", changed, err)
	}
}

func TestKeyPrefix(t *testing.T) {
	store := memorykv.New()
	defer store.Close()
	r := New(store, WithKeys(party.Keys{Prefix: "eu:"}))
	ctx := context.Background()
	s := &party.Session{ID: uuid.New(), Name: "Alice"}
	_ = r.Login(ctx, s)
	if ok, _ := store.Exists(ctx, "eu:party_player:"+s.ID.String()); !ok {
		t.Fatal("expected prefixed presence key")
	}
}
