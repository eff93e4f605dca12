package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/chat"
)

var (
	// ErrNotFound is returned when a click references no pending alert
	// (stale message, or already acknowledged).
	ErrNotFound = errors.New("monitor: no matching pending alert")
	// ErrDuplicateAction is returned when opening an alert for an agent
	// that already has one pending.
	ErrDuplicateAction = errors.New("monitor: alert already pending for agent")
)

// AlertState is the lifecycle state of an Alert.
type AlertState string

const (
	AlertPending      AlertState = "pending"
	AlertAcknowledged AlertState = "acknowledged"
)

// Alert is one raised duration alert.
type Alert struct {
	ID        string
	AgentID   int64
	AgentName string
	Duration  time.Duration
	RaisedAt  time.Time
	Text      string
	Message   chat.MessageRef
	State     AlertState
	AckedBy   string
	AckedAt   time.Time
}

// AlertBook holds alert records and enforces the uniqueness invariant:
// at most one pending alert per agent. Acknowledgment uses compare-and-set
// so concurrent or repeated clicks are honored exactly once.
type AlertBook struct {
	mu      sync.Mutex
	pending map[int64]*Alert          // agent ID -> pending alert
	byRef   map[chat.MessageRef]*Alert // posted message -> alert
	history []*Alert
}

// NewAlertBook creates an empty AlertBook.
func NewAlertBook() *AlertBook {
	return &AlertBook{
		pending: make(map[int64]*Alert),
		byRef:   make(map[chat.MessageRef]*Alert),
	}
}

// Open creates a pending alert for the agent. Returns ErrDuplicateAction
// if one is already pending; the caller treats that as "threshold already
// handled" and does not post.
func (b *AlertBook) Open(agentID int64, agentName, text string, duration time.Duration, now time.Time) (Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[agentID]; ok {
		return Alert{}, ErrDuplicateAction
	}
	a := &Alert{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		AgentName: agentName,
		Duration:  duration,
		RaisedAt:  now,
		Text:      text,
		State:     AlertPending,
	}
	b.pending[agentID] = a
	b.history = append(b.history, a)
	return *a, nil
}

// Attach indexes the posted message reference on the alert so later
// acknowledgment clicks can be correlated.
func (b *AlertBook) Attach(alertID string, ref chat.MessageRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.history {
		if a.ID == alertID {
			a.Message = ref
			b.byRef[ref] = a
			return
		}
	}
}

// Discard removes an alert that was never delivered, so the agent is
// alert-eligible again on the next cycle.
func (b *AlertBook) Discard(alertID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.history {
		if a.ID == alertID {
			delete(b.pending, a.AgentID)
			b.history = append(b.history[:i], b.history[i+1:]...)
			return
		}
	}
}

// Acknowledge transitions the alert carrying ref from pending to
// acknowledged, recording the actor and time. Returns ErrNotFound when
// no alert matches the reference, and ErrDuplicateAction when the alert
// was already acknowledged.
func (b *AlertBook) Acknowledge(ref chat.MessageRef, actor string, now time.Time) (Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.byRef[ref]
	if !ok {
		return Alert{}, ErrNotFound
	}
	if a.State != AlertPending {
		return Alert{}, ErrDuplicateAction
	}
	a.State = AlertAcknowledged
	a.AckedBy = actor
	a.AckedAt = now
	delete(b.pending, a.AgentID)
	return *a, nil
}

// PendingFor reports whether the agent has a pending alert.
func (b *AlertBook) PendingFor(agentID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[agentID]
	return ok
}

// Snapshot returns a copy of all alerts, oldest first.
func (b *AlertBook) Snapshot() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, len(b.history))
	for i, a := range b.history {
		out[i] = *a
	}
	return out
}
