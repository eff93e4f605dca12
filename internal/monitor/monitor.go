package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/directory"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// StatusSource abstracts the directory client for testability.
type StatusSource interface {
	ListAgents(ctx context.Context) ([]directory.Agent, error)
	Availability(ctx context.Context, agentID int64) (directory.AgentState, error)
}

// Monitor runs the polling cycle: fetch the roster, classify each agent,
// advance duration tracking, and raise alerts when the threshold is
// crossed. Acknowledgment clicks are handled via HandleAcknowledge.
type Monitor struct {
	adapter chat.Adapter
	source  StatusSource
	cfg     config.MonitorConfig
	channel string // alert notification channel
	tracker *Tracker
	book    *AlertBook
	db      *gorm.DB         // optional audit ledger
	clock   func() time.Time // injectable for tests
}

// Opts holds parameters for creating a Monitor.
type Opts struct {
	Adapter      chat.Adapter
	Source       StatusSource
	Config       config.MonitorConfig
	AlertChannel string
	DB           *gorm.DB // nil disables ledger writes
	Clock        func() time.Time
}

// New creates a Monitor.
func New(opts Opts) (*Monitor, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("monitor: adapter is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("monitor: status source is required")
	}
	if opts.AlertChannel == "" {
		return nil, fmt.Errorf("monitor: alert channel is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		adapter: opts.Adapter,
		source:  opts.Source,
		cfg:     opts.Config,
		channel: opts.AlertChannel,
		tracker: NewTracker(),
		book:    NewAlertBook(),
		db:      opts.DB,
		clock:   clock,
	}, nil
}

// Run executes poll cycles on the configured interval until the context
// is cancelled. The first cycle runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("monitor: starting, poll=%v threshold=%v", m.cfg.PollInterval, m.cfg.AlertThreshold)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle runs one poll cycle. A roster failure skips the whole cycle; a
// single agent's status failure skips that agent only, so a transient
// fetch error is never mistaken for a status transition.
func (m *Monitor) Cycle(ctx context.Context) {
	now := m.clock()

	agents, err := m.source.ListAgents(ctx)
	if err != nil {
		log.Printf("monitor: roster fetch failed, skipping cycle: %v", err)
		return
	}

	seen := make(map[int64]bool, len(agents))
	for _, agent := range agents {
		seen[agent.ID] = true
		if m.excluded(agent) {
			m.tracker.Clear(agent.ID)
			continue
		}

		state, err := m.source.Availability(ctx, agent.ID)
		if err != nil {
			log.Printf("monitor: status fetch for %s failed, skipping agent: %v", agent.Name, err)
			continue
		}

		if state != directory.StateTransfersOnly {
			if m.tracker.Clear(agent.ID) {
				log.Printf("monitor: %s no longer in transfers only", agent.Name)
			}
			continue
		}

		elapsed, started := m.tracker.Touch(agent.ID, agent.Name, now)
		if started {
			log.Printf("monitor: started tracking %s in transfers only", agent.Name)
			continue
		}
		if elapsed >= m.cfg.AlertThreshold && !m.book.PendingFor(agent.ID) {
			m.raise(ctx, agent, elapsed, now)
		}
	}

	m.tracker.Prune(seen)
	m.logSummary(now)
}

// raise opens a pending alert and posts it with an acknowledgment button.
// A posting failure discards the record so the next cycle retries the
// alert; an undelivered alert must not suppress future ones.
func (m *Monitor) raise(ctx context.Context, agent directory.Agent, elapsed time.Duration, now time.Time) {
	text := fmt.Sprintf("⚠️ Alert: Agent %s has been in Transfers Only status for %s.",
		agent.Name, FormatDuration(elapsed))

	alert, err := m.book.Open(agent.ID, agent.Name, text, elapsed, now)
	if err != nil {
		log.Printf("monitor: open alert for %s: %v", agent.Name, err)
		return
	}

	ref, err := m.adapter.Post(ctx, m.channel, chat.OutboundMessage{
		Text: text,
		Controls: []chat.Control{
			{ActionID: "acknowledge_alert", Label: "✅", Style: chat.StylePrimary, Value: alert.ID},
		},
	})
	if err != nil {
		log.Printf("monitor: post alert for %s: %v", agent.Name, err)
		m.book.Discard(alert.ID)
		return
	}
	m.book.Attach(alert.ID, ref)
	log.Printf("monitor: alert raised for %s after %s", agent.Name, FormatDuration(elapsed))

	if m.db != nil {
		ev := &models.AlertEvent{
			ID:           alert.ID,
			AgentID:      fmt.Sprintf("%d", agent.ID),
			AgentName:    agent.Name,
			Status:       string(directory.StateTransfersOnly),
			DurationSecs: int64(elapsed.Seconds()),
			ChannelID:    ref.ChannelID,
			MessageID:    ref.MessageID,
			CreatedAt:    now,
		}
		if err := ledger.RecordAlert(m.db, ev); err != nil {
			log.Printf("monitor: %v", err)
		}
	}
}

// HandleAcknowledge processes an acknowledgment click. Late or duplicate
// clicks are logged no-ops: the alert state is unchanged and no second
// confirmation is posted.
func (m *Monitor) HandleAcknowledge(ctx context.Context, ev chat.InboundEvent) {
	now := m.clock()
	alert, err := m.book.Acknowledge(ev.Message, ev.UserID, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateAction) {
			log.Printf("monitor: acknowledge ignored: %v", err)
			return
		}
		log.Printf("monitor: acknowledge: %v", err)
		return
	}

	if _, err := m.adapter.Reply(ctx, alert.Message, chat.OutboundMessage{
		Text: fmt.Sprintf("✅ Alert acknowledged by <@%s>", ev.UserID),
	}); err != nil {
		log.Printf("monitor: post ack confirmation: %v", err)
	}

	// Re-post the alert text without the button.
	if err := m.adapter.Update(ctx, alert.Message, chat.OutboundMessage{Text: alert.Text}); err != nil {
		log.Printf("monitor: strip ack button: %v", err)
	}

	if m.db != nil {
		if err := ledger.AcknowledgeAlert(m.db, alert.ID, ev.UserID, now); err != nil {
			log.Printf("monitor: %v", err)
		}
	}
	log.Printf("monitor: alert for %s acknowledged by %s", alert.AgentName, ev.UserID)
}

// Alerts returns a copy of all alert records, for the dashboard.
func (m *Monitor) Alerts() []Alert {
	return m.book.Snapshot()
}

// Watching returns current monitored episodes, for the dashboard.
func (m *Monitor) Watching() []Episode {
	return m.tracker.Active(m.clock())
}

// excluded reports whether the agent is on the exclusion list, matched by
// name or by numeric ID.
func (m *Monitor) excluded(agent directory.Agent) bool {
	return m.cfg.IsExcluded(agent.Name) || m.cfg.IsExcluded(fmt.Sprintf("%d", agent.ID))
}

func (m *Monitor) logSummary(now time.Time) {
	active := m.tracker.Active(now)
	if len(active) == 0 {
		log.Printf("monitor: cycle complete, no agents in transfers only")
		return
	}
	log.Printf("monitor: cycle complete, %d agents in transfers only", len(active))
	for _, ep := range active {
		log.Printf("monitor:   %s: %s", ep.AgentName, FormatDuration(ep.Elapsed))
	}
}
