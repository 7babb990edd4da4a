package party

import (
	"slices"

	"github.com/google/uuid"
)

const (
	// Unlimited disables capacity enforcement for a party.
	Unlimited = -1
	// MaxMemberLimit is the hard ceiling any party capacity may be set to.
	MaxMemberLimit = 100
	// DefaultMemberLimit is used when a player carries no explicit limit.
	DefaultMemberLimit = 5
)

// Party is the canonical party record. Members never contains Leader.
type Party struct {
	ID         uuid.UUID   `json:"id"`
	Leader     uuid.UUID   `json:"leader"`
	Members    []uuid.UUID `json:"members"`
	MaxMembers int         `json:"max_members"`
}

// AllMembers returns the members followed by the leader.
func (p *Party) AllMembers() []uuid.UUID {
	all := make([]uuid.UUID, 0, len(p.Members)+1)
	all = append(all, p.Members...)
	return append(all, p.Leader)
}

// IsLeader reports whether id leads the party.
func (p *Party) IsLeader(id uuid.UUID) bool { return p.Leader == id }

// HasMember reports whether id is a non-leader member.
func (p *Party) HasMember(id uuid.UUID) bool { return slices.Contains(p.Members, id) }

// Size counts the leader and every member.
func (p *Party) Size() int { return len(p.Members) + 1 }

// IsFull reports whether admitting one more member would exceed MaxMembers.
func (p *Party) IsFull() bool {
	if p.MaxMembers == Unlimited {
		return false
	}
	return p.Size() >= p.MaxMembers
}

// AddMember appends id unless it is already present or leads the party.
// It reports whether the member set changed.
func (p *Party) AddMember(id uuid.UUID) bool {
	if p.IsLeader(id) || p.HasMember(id) {
		return false
	}
	p.Members = append(p.Members, id)
	return true
}

// RemoveMember drops id from the member set and reports whether it was there.
func (p *Party) RemoveMember(id uuid.UUID) bool {
	i := slices.Index(p.Members, id)
	if i < 0 {
		return false
	}
	p.Members = slices.Delete(p.Members, i, i+1)
	return true
}

// Clone returns a deep copy.
func (p *Party) Clone() *Party {
	c := *p
	c.Members = slices.Clone(p.Members)
	return &c
}

// Session is the presence record of an online player.
type Session struct {
	ID          uuid.UUID  `json:"uuid"`
	Name        string     `json:"name"`
	PartyID     *uuid.UUID `json:"party_id"`
	MemberLimit int        `json:"member_limit"`
}

// InParty reports whether the session references a party.
func (s *Session) InParty() bool { return s.PartyID != nil }

// SamePartyID compares two optional party references.
func SamePartyID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidMemberLimit reports whether n is an acceptable party capacity.
func ValidMemberLimit(n int) bool {
	return n == Unlimited || (n >= 0 && n <= MaxMemberLimit)
}
