// Package discord implements the chat Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/chat"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for rate-limit retries.
	maxBackoff = 2 * time.Minute
	// customIDSeparator joins action ID and value inside a button CustomID.
	// Discord buttons carry a single CustomID, unlike Slack's id+value pair.
	customIDSeparator = "|"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements chat.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess           session
	botToken       string
	botUserID      string
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan chat.InboundEvent
	cancelFunc     context.CancelFunc
	removeHandlers []func()
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		inbound:     make(chan chat.InboundEvent, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Register Ready handler to capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo handles reconnection automatically; log it for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from Discord. Registers message
// and interaction handlers on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundEvent, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	_, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	removeMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeInteraction := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})

	a.mu.Lock()
	a.removeHandlers = append(a.removeHandlers, removeMsg, removeInteraction)
	a.mu.Unlock()

	return a.inbound, nil
}

// Post delivers a new top-level message. If channelID is not a known channel
// it is treated as a user ID and a DM channel is created, so workflows can
// notify users directly the same way they post to channels.
func (a *Adapter) Post(ctx context.Context, channelID string, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return chat.MessageRef{}, err
	}
	if channelID == "" {
		return chat.MessageRef{}, fmt.Errorf("discord: no channel specified")
	}

	target := channelID
	if _, err := a.sess.Channel(channelID); err != nil {
		dm, dmErr := a.sess.UserChannelCreate(channelID)
		if dmErr == nil {
			target = dm.ID
		}
	}

	data := buildMessageSend(msg)

	var posted *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		posted, sendErr = a.sess.ChannelMessageSendComplex(target, data)
		return sendErr
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return chat.MessageRef{ChannelID: target, MessageID: posted.ID}, nil
}

// Update replaces the content (and controls) of a previously posted message.
func (a *Adapter) Update(ctx context.Context, ref chat.MessageRef, msg chat.OutboundMessage) error {
	if err := a.requireConnected(); err != nil {
		return err
	}

	content := msg.Text
	components := buildComponents(msg.Controls)
	edit := &discordgo.MessageEdit{
		Channel:    ref.ChannelID,
		ID:         ref.MessageID,
		Content:    &content,
		Components: &components,
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		if isUnknownMessage(err) {
			return fmt.Errorf("discord: edit %s/%s: %w", ref.ChannelID, ref.MessageID, chat.ErrNotFound)
		}
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// Reply posts a native Discord reply referencing the parent message.
func (a *Adapter) Reply(ctx context.Context, parent chat.MessageRef, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return chat.MessageRef{}, err
	}

	data := buildMessageSend(msg)
	data.Reference = &discordgo.MessageReference{
		MessageID: parent.MessageID,
		ChannelID: parent.ChannelID,
	}

	var posted *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		posted, sendErr = a.sess.ChannelMessageSendComplex(parent.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("discord: send reply: %w", err)
	}
	return chat.MessageRef{ChannelID: parent.ChannelID, MessageID: posted.ID}, nil
}

// Permalink builds a jump link for a message. Discord jump links embed the
// guild ID, which is resolved from the channel ("@me" for DM channels).
func (a *Adapter) Permalink(ctx context.Context, ref chat.MessageRef) (string, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}

	guildID := "@me"
	if ch, err := a.sess.Channel(ref.ChannelID); err == nil && ch.GuildID != "" {
		guildID = ch.GuildID
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, ref.ChannelID, ref.MessageID), nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	for _, remove := range a.removeHandlers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// handleMessage converts a Discord message event to an InboundEvent.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	// Filter bot self-messages.
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()

	if m.Author.ID == botID {
		return
	}
	if m.Author.Bot {
		return
	}

	// Determine thread context. In Discord, threads are channels: a message's
	// ChannelID is the thread ID if it was sent inside a thread. We look up the
	// channel from the state cache to detect this and resolve the parent channel.
	channelID := m.ChannelID
	threadID := ""

	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		channelID = ch.ParentID
		threadID = m.ChannelID
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	a.inbound <- chat.InboundEvent{
		Kind:      chat.EventMessage,
		Platform:  "discord",
		ChannelID: channelID,
		ThreadID:  threadID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Message:   chat.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		Timestamp: ts,
	}
}

// handleInteraction converts a component interaction to an InboundEvent.
// The interaction is acknowledged with a deferred update so Discord does
// not show a failure spinner while the workflow processes the click.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: interaction ack: %v", err)
	}

	actionID, value := splitCustomID(i.MessageComponentData().CustomID)

	var userID, userName string
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
		userName = i.Member.User.Username
	} else if i.User != nil {
		userID = i.User.ID
		userName = i.User.Username
	}

	var ref chat.MessageRef
	if i.Message != nil {
		ref = chat.MessageRef{ChannelID: i.ChannelID, MessageID: i.Message.ID}
	}

	a.inbound <- chat.InboundEvent{
		Kind:      chat.EventAction,
		Platform:  "discord",
		ChannelID: i.ChannelID,
		UserID:    userID,
		UserName:  userName,
		ActionID:  actionID,
		Value:     value,
		Message:   ref,
		Timestamp: time.Now(),
	}
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg chat.OutboundMessage) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    msg.Text,
		Components: buildComponents(msg.Controls),
	}
}

// buildComponents converts controls into a single action row of buttons.
// Returns an empty (non-nil) slice when there are no controls so edits
// strip previous buttons.
func buildComponents(controls []chat.Control) []discordgo.MessageComponent {
	if len(controls) == 0 {
		return []discordgo.MessageComponent{}
	}

	var buttons []discordgo.MessageComponent
	for _, c := range controls {
		style := discordgo.SecondaryButton
		switch c.Style {
		case chat.StylePrimary:
			style = discordgo.SuccessButton
		case chat.StyleDanger:
			style = discordgo.DangerButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    c.Label,
			Style:    style,
			CustomID: joinCustomID(c.ActionID, c.Value),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// joinCustomID packs an action ID and value into a button CustomID.
func joinCustomID(actionID, value string) string {
	if value == "" {
		return actionID
	}
	return actionID + customIDSeparator + value
}

// splitCustomID unpacks a button CustomID into action ID and value.
func splitCustomID(customID string) (actionID, value string) {
	parts := strings.SplitN(customID, customIDSeparator, 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return customID, ""
}

// isUnknownMessage reports whether a Discord REST error indicates a stale
// or deleted message reference (code 10008: Unknown Message).
func isUnknownMessage(err error) bool {
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownMessage
	}
	return false
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		// Check if it's a rate limit error.
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
