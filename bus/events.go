package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageEvent delivers rendered text to one player.
type MessageEvent struct {
	PlayerID uuid.UUID `json:"unique_id"`
	Message  string    `json:"message"`
}

// ServerTransferEvent moves one player to a named backend server.
type ServerTransferEvent struct {
	PlayerID uuid.UUID `json:"unique_id"`
	Server   string    `json:"server"`
}

// PartyRefEvent invalidates the cached party reference of one player. A nil
// PartyID means the player is no longer in a party.
type PartyRefEvent struct {
	PlayerID uuid.UUID  `json:"unique_id"`
	PartyID  *uuid.UUID `json:"party_id"`
}

// Encode marshals an event payload.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a party:message payload.
func DecodeMessage(b []byte) (MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode message event: %w", err)
	}
	if ev.PlayerID == uuid.Nil {
		return ev, fmt.Errorf("message event missing unique_id")
	}
	return ev, nil
}

// DecodeServerTransfer parses a party:server payload.
func DecodeServerTransfer(b []byte) (ServerTransferEvent, error) {
	var ev ServerTransferEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode server event: %w", err)
	}
	if ev.PlayerID == uuid.Nil || ev.Server == "" {
		return ev, fmt.Errorf("server event missing unique_id or server")
	}
	return ev, nil
}

// DecodePartyRef parses a party:update_user_party payload.
func DecodePartyRef(b []byte) (PartyRefEvent, error) {
	var ev PartyRefEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode party ref event: %w", err)
	}
	if ev.PlayerID == uuid.Nil {
		return ev, fmt.Errorf("party ref event missing unique_id")
	}
	return ev, nil
}
