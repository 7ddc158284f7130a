// Package bot is the nexbot core. It keeps one session per customer,
// drives the menu, order, promotion, AI chat and vacation workflows, runs
// the admin console and the scheduled jobs, and talks to customers through
// a chat Gateway.
package bot

import (
	"context"
	"strings"
	"time"
)

// GroupSuffix marks identities that belong to group chats.
const GroupSuffix = "@g.us"

// Gateway is the interface that platform-specific chat transports must satisfy.
type Gateway interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages. The channel is closed
	// when the context is cancelled, the gateway is closed, or the
	// connection drops. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers a direct message to an identity.
	Send(ctx context.Context, msg OutboundMessage) error

	// DisplayName returns the contact name of an identity.
	DisplayName(ctx context.Context, identity string) (string, error)

	// Close gracefully shuts down the connection.
	Close() error
}

// Replier is an optional Gateway extension that answers in the context of
// the original message (quoted reply, same channel).
type Replier interface {
	Reply(ctx context.Context, to InboundMessage, text string) error
}

// InboundMessage is a message received from a customer or the admin.
type InboundMessage struct {
	Platform   string    // e.g. "discord", "slack", "console"
	SenderID   string    // stable identity of the sender
	SenderName string    // display name, if the platform supplied one
	ChannelID  string    // platform channel the message arrived on
	MessageID  string    // platform message id, used for replies
	Body       string    // raw text
	HasMedia   bool      // an attachment (image, file) came with the message
	Group      bool      // sent in a group or public channel
	Timestamp  time.Time // when the message was sent
}

// IsGroup reports whether the message came from a group chat, either
// flagged by the gateway or by the group identity suffix.
func (m InboundMessage) IsGroup() bool {
	return m.Group || strings.HasSuffix(m.SenderID, GroupSuffix) || strings.HasSuffix(m.ChannelID, GroupSuffix)
}

// OutboundMessage is a direct message to one identity.
type OutboundMessage struct {
	To   string
	Text string
}
