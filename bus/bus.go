// Package bus defines the cross-process event transport proxy nodes use to
// reach players connected to other nodes. Delivery is at-most-once: a
// message published while a node is disconnected is lost for that node.
package bus

import (
	"context"
	"errors"
)

// Channel names shared by every node.
const (
	// ChannelMessage carries text for a single player (MessageEvent).
	ChannelMessage = "party:message"
	// ChannelServer asks the node owning a player to move them (ServerTransferEvent).
	ChannelServer = "party:server"
	// ChannelPartyRef tells the owning node a player's party changed (PartyRefEvent).
	ChannelPartyRef = "party:update_user_party"
)

// Channels lists every channel a node subscribes to at startup.
var Channels = []string{ChannelMessage, ChannelServer, ChannelPartyRef}

// ErrClosed is returned by operations on a closed Bus.
var ErrClosed = errors.New("bus closed")

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// HandlerFunc processes a received message. Handlers run on the
// subscription's dispatch goroutine and must not block for long.
type HandlerFunc func(ctx context.Context, msg Message)

// Bus is the publish/subscribe transport.
type Bus interface {
	// Publish sends payload to every current subscriber of channel, on any
	// node. Publishing with no subscribers is not an error.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for the given channels. It returns once the
	// subscription is active; messages are then dispatched on a background
	// goroutine until ctx is done or the bus is closed.
	Subscribe(ctx context.Context, channels []string, handler HandlerFunc) error

	// Close stops every subscription. Subsequent Publish and Subscribe calls
	// return ErrClosed.
	Close() error
}
