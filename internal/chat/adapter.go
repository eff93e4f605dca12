// Package chat bridges Switchboard workflows to chat platforms (Slack, Discord).
package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a message reference no longer resolves to a
// message on the platform (deleted, stale, or wrong channel).
var ErrNotFound = errors.New("chat: message not found")

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, message posting/updating, and
// delivery of inbound events for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundEvent, error)

	// Post delivers a new top-level message to a channel and returns a
	// reference to it.
	Post(ctx context.Context, channelID string, msg OutboundMessage) (MessageRef, error)

	// Update replaces the content of a previously posted message.
	Update(ctx context.Context, ref MessageRef, msg OutboundMessage) error

	// Reply posts a message as a thread reply under the given parent.
	Reply(ctx context.Context, parent MessageRef, msg OutboundMessage) (MessageRef, error)

	// Permalink resolves a shareable URL for a message.
	Permalink(ctx context.Context, ref MessageRef) (string, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// MessageRef identifies a single posted message on the platform.
type MessageRef struct {
	ChannelID string // platform-specific channel identifier
	MessageID string // platform-specific message identifier (Slack ts, Discord snowflake)
}

// IsZero reports whether the reference is empty.
func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == ""
}

// EventKind classifies an inbound event.
type EventKind string

const (
	// EventMessage is a plain chat message or mention.
	EventMessage EventKind = "message"
	// EventAction is an interactive control click (button press).
	EventAction EventKind = "action"
)

// InboundEvent represents a message or interaction received from the platform.
type InboundEvent struct {
	Kind      EventKind
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // channel the event originated in
	ThreadID  string    // thread identifier (empty if top-level)
	UserID    string    // platform-specific actor identifier
	UserName  string    // human-readable actor name
	Text      string    // message text (EventMessage only)
	ActionID  string    // control identifier (EventAction only)
	Value     string    // opaque control value (EventAction only)
	Message   MessageRef // the received message, or the one carrying the clicked control
	Timestamp time.Time
}

// OutboundMessage represents a message to be posted to the chat platform.
type OutboundMessage struct {
	Text     string    // message text (platform-native formatting)
	Controls []Control // interactive buttons attached to the message
}

// ControlStyle hints at how a button should be rendered.
type ControlStyle string

const (
	StylePrimary ControlStyle = "primary"
	StyleDanger  ControlStyle = "danger"
)

// Control is an interactive button attached to an outbound message. Value is
// an opaque payload echoed back in the resulting EventAction.
type Control struct {
	ActionID string
	Label    string
	Style    ControlStyle
	Value    string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
