// Package escalation runs the help-answer workflow: search the knowledge
// base on a help mention, collect feedback, and on negative feedback drive
// the escalation state machine (posted, accepted, resolved).
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/kb"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Mention triggers recognized in plain messages.
const (
	HelpMention  = "@help"
	LeadsMention = "@customersupportleads"
)

// Action IDs carried by the workflow's buttons.
const (
	ActionFeedbackYes = "feedback_yes"
	ActionFeedbackNo  = "feedback_no"
	ActionAccept      = "accept_request"
	ActionResolve     = "resolve_request"
)

var (
	// ErrNotFound is returned when a click references no known record.
	ErrNotFound = errors.New("escalation: record not found")
	// ErrDuplicateAction is returned when a click arrives for a record
	// that already moved past the expected state.
	ErrDuplicateAction = errors.New("escalation: action already recorded")
)

// Interaction is one answered help request awaiting feedback.
type Interaction struct {
	ID        string
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
	Question  string
	Answer    string
	Feedback  string          // models.FeedbackNone until a click arrives
	Thread    chat.MessageRef // anchor of the originating thread
	Prompt    chat.MessageRef // the feedback prompt message
	CreatedAt time.Time
}

// Escalation is one negative-feedback escalation.
type Escalation struct {
	ID             string
	InteractionID  string
	RequesterID    string
	RequesterName  string
	Question       string
	ThreadLink     string
	Thread         chat.MessageRef
	Message        chat.MessageRef // the post in the leads channel
	State          string          // models.EscalationPosted/Accepted/Resolved
	AcceptedBy     string
	AcceptedByName string
	AcceptedAt     time.Time
	ResolvedAt     time.Time
	CreatedAt      time.Time
}

// Searcher abstracts the knowledge base client for testability.
type Searcher interface {
	Search(ctx context.Context, query string) ([]kb.Card, error)
}

// Engine owns interaction and escalation records. All state transitions
// are compare-and-set under the engine lock, so duplicate clicks are
// honored exactly once.
type Engine struct {
	adapter chat.Adapter
	search  Searcher
	db      *gorm.DB // optional audit ledger
	leads   string   // escalation channel
	clock   func() time.Time

	mu           sync.Mutex
	interactions map[string]*Interaction
	escalations  map[string]*Escalation
	byPrompt     map[chat.MessageRef]string // feedback prompt -> interaction ID
	byPost       map[chat.MessageRef]string // escalation post -> escalation ID
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	Adapter      chat.Adapter
	Search       Searcher
	DB           *gorm.DB // nil disables ledger writes
	LeadsChannel string
	Clock        func() time.Time
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("escalation: adapter is required")
	}
	if opts.Search == nil {
		return nil, fmt.Errorf("escalation: searcher is required")
	}
	if opts.LeadsChannel == "" {
		return nil, fmt.Errorf("escalation: leads channel is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		adapter:      opts.Adapter,
		search:       opts.Search,
		db:           opts.DB,
		leads:        opts.LeadsChannel,
		clock:        clock,
		interactions: make(map[string]*Interaction),
		escalations:  make(map[string]*Escalation),
		byPrompt:     make(map[chat.MessageRef]string),
		byPost:       make(map[chat.MessageRef]string),
	}, nil
}

// Interactions returns a copy of all interaction records, for the dashboard.
func (e *Engine) Interactions() []Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Interaction, 0, len(e.interactions))
	for _, in := range e.interactions {
		out = append(out, *in)
	}
	return out
}

// Escalations returns a copy of all escalation records, for the dashboard.
func (e *Engine) Escalations() []Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Escalation, 0, len(e.escalations))
	for _, esc := range e.escalations {
		out = append(out, *esc)
	}
	return out
}

// interactionForEvent resolves the interaction targeted by a feedback
// click, preferring the embedded record ID over the message reference.
// Must be called with e.mu held.
func (e *Engine) interactionForEvent(ev chat.InboundEvent) (*Interaction, error) {
	if in, ok := e.interactions[ev.Value]; ok {
		return in, nil
	}
	if id, ok := e.byPrompt[ev.Message]; ok {
		return e.interactions[id], nil
	}
	return nil, ErrNotFound
}

// escalationForEvent resolves the escalation targeted by an accept or
// resolve click. Must be called with e.mu held.
func (e *Engine) escalationForEvent(ev chat.InboundEvent) (*Escalation, error) {
	if esc, ok := e.escalations[ev.Value]; ok {
		return esc, nil
	}
	if id, ok := e.byPost[ev.Message]; ok {
		return e.escalations[id], nil
	}
	return nil, ErrNotFound
}

// threadAnchor resolves the reference a reply should thread under: the
// enclosing thread when the event already lives in one, otherwise the
// event's own message.
func threadAnchor(ev chat.InboundEvent) chat.MessageRef {
	if ev.ThreadID != "" {
		return chat.MessageRef{ChannelID: ev.ChannelID, MessageID: ev.ThreadID}
	}
	return ev.Message
}

// displayName prefers the resolved user name, falling back to the ID.
func displayName(ev chat.InboundEvent) string {
	if ev.UserName != "" {
		return ev.UserName
	}
	return ev.UserID
}

// feedbackValue maps an action ID onto the stored feedback value.
func feedbackValue(actionID string) (string, bool) {
	switch actionID {
	case ActionFeedbackYes:
		return models.FeedbackPositive, true
	case ActionFeedbackNo:
		return models.FeedbackNegative, true
	}
	return "", false
}
