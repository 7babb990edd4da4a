// Package sessioncache holds the sessions connected to this node. It is a
// non-authoritative view: the presence registry is the source of truth and
// the cache is kept coherent by logout and by inbound party-reference events.
//
// A cached nil PartyID is trusted: a player only gains a party through their
// own invite or accept, and those run on the node the player is connected
// to. A cached non-nil PartyID is a hint that callers re-validate against
// the party record.
package sessioncache

import (
	"sort"
	"sync"

	"github.com/ggoodman/partymesh/party"
	"github.com/google/uuid"
)

// Entry is the locally known state of one connected player.
type Entry struct {
	ID          uuid.UUID
	Name        string
	PartyID     *uuid.UUID
	MemberLimit int
	// Server is the backend server the player is currently on, if known.
	Server string
}

func (e Entry) clone() Entry {
	if e.PartyID != nil {
		v := *e.PartyID
		e.PartyID = &v
	}
	return e
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[uuid.UUID]Entry)}
}

// Put inserts or replaces the entry for e.ID.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	c.entries[e.ID] = e.clone()
	c.mu.Unlock()
}

// Remove drops the entry for id and returns it.
func (c *Cache) Remove(id uuid.UUID) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	delete(c.entries, id)
	return e, ok
}

// Get returns a copy of the entry for id.
func (c *Cache) Get(id uuid.UUID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Has reports whether id is connected to this node.
func (c *Cache) Has(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// SetPartyID replaces the cached party reference. It reports false when id
// is not cached or the reference is unchanged.
func (c *Cache) SetPartyID(id uuid.UUID, partyID *uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || party.SamePartyID(e.PartyID, partyID) {
		return false
	}
	if partyID != nil {
		v := *partyID
		e.PartyID = &v
	} else {
		e.PartyID = nil
	}
	c.entries[id] = e
	return true
}

// SetServer records the backend server a cached player is on.
func (c *Cache) SetServer(id uuid.UUID, server string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.Server = server
	c.entries[id] = e
	return true
}

// All returns a snapshot of every entry ordered by name.
func (c *Cache) All() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
