package party

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EncodeParty serializes a party record.
func EncodeParty(p *Party) ([]byte, error) {
	out := *p
	if out.Members == nil {
		out.Members = []uuid.UUID{}
	}
	b, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode party %s: %w", ErrStoreIO, p.ID, err)
	}
	return b, nil
}

// DecodeParty parses a party record.
func DecodeParty(data []byte) (*Party, error) {
	var p Party
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: party: %w", ErrDecode, err)
	}
	if p.ID == uuid.Nil || p.Leader == uuid.Nil {
		return nil, fmt.Errorf("%w: party: missing id or leader", ErrDecode)
	}
	if p.Members == nil {
		p.Members = []uuid.UUID{}
	}
	return &p, nil
}

// EncodeSession serializes a presence record.
func EncodeSession(s *Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encode session %s: %w", ErrStoreIO, s.ID, err)
	}
	return b, nil
}

// DecodeSession parses a presence record.
func DecodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: session: %w", ErrDecode, err)
	}
	if s.ID == uuid.Nil || s.Name == "" {
		return nil, fmt.Errorf("%w: session: missing uuid or name", ErrDecode)
	}
	return &s, nil
}
