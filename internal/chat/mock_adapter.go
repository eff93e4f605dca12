package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records posted messages and
// allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundEvent
	posted    []PostedMessage
	updates   map[MessageRef]OutboundMessage
	permalink map[MessageRef]string
	botUserID string
	counter   int // incremented for each Post/Reply to mint message IDs
}

// PostedMessage records a single Post or Reply call.
type PostedMessage struct {
	Ref     MessageRef
	Parent  MessageRef // zero for top-level posts
	Message OutboundMessage
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:   make(chan InboundEvent, 100),
		updates:   make(map[MessageRef]OutboundMessage),
		permalink: make(map[MessageRef]string),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Post records the message and returns a minted reference.
func (m *MockAdapter) Post(ctx context.Context, channelID string, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock adapter: not connected")
	}
	m.counter++
	ref := MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", m.counter)}
	m.posted = append(m.posted, PostedMessage{Ref: ref, Message: msg})
	return ref, nil
}

// Update records the replacement content for a message.
func (m *MockAdapter) Update(ctx context.Context, ref MessageRef, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.updates[ref] = msg
	return nil
}

// Reply records a thread reply and returns a minted reference.
func (m *MockAdapter) Reply(ctx context.Context, parent MessageRef, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock adapter: not connected")
	}
	m.counter++
	ref := MessageRef{ChannelID: parent.ChannelID, MessageID: fmt.Sprintf("msg-%d", m.counter)}
	m.posted = append(m.posted, PostedMessage{Ref: ref, Parent: parent, Message: msg})
	return ref, nil
}

// Permalink returns a pre-configured permalink, or a synthetic one.
func (m *MockAdapter) Permalink(ctx context.Context, ref MessageRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if url, ok := m.permalink[ref]; ok {
		return url, nil
	}
	return fmt.Sprintf("https://chat.example/%s/%s", ref.ChannelID, ref.MessageID), nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(ev InboundEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.inbound <- ev
}

// SetPermalink pre-configures the permalink returned for a reference.
func (m *MockAdapter) SetPermalink(ref MessageRef, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permalink[ref] = url
}

// AllPosted returns a copy of all recorded Post/Reply calls.
func (m *MockAdapter) AllPosted() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedMessage, len(m.posted))
	copy(out, m.posted)
	return out
}

// LastPosted returns the most recently posted message.
// Returns zero value and false if nothing has been posted.
func (m *MockAdapter) LastPosted() (PostedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posted) == 0 {
		return PostedMessage{}, false
	}
	return m.posted[len(m.posted)-1], true
}

// PostedCount returns the number of Post/Reply calls recorded.
func (m *MockAdapter) PostedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// UpdateFor returns the recorded Update content for a reference.
func (m *MockAdapter) UpdateFor(ref MessageRef) (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.updates[ref]
	return msg, ok
}

// PostedTo returns all messages posted (top-level) to a channel.
func (m *MockAdapter) PostedTo(channelID string) []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PostedMessage
	for _, p := range m.posted {
		if p.Ref.ChannelID == channelID && p.Parent.IsZero() {
			out = append(out, p)
		}
	}
	return out
}
