package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/directory"
)

// --- Fake status source ---

type fakeSource struct {
	mu       sync.Mutex
	agents   []directory.Agent
	states   map[int64]directory.AgentState
	listErr  error
	stateErr map[int64]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		states:   make(map[int64]directory.AgentState),
		stateErr: make(map[int64]error),
	}
}

func (f *fakeSource) ListAgents(ctx context.Context) ([]directory.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]directory.Agent(nil), f.agents...), nil
}

func (f *fakeSource) Availability(ctx context.Context, agentID int64) (directory.AgentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stateErr[agentID]; err != nil {
		return "", err
	}
	if st, ok := f.states[agentID]; ok {
		return st, nil
	}
	return directory.StateAvailable, nil
}

func (f *fakeSource) setState(id int64, st directory.AgentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = st
}

// --- Fake clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Helpers ---

func newTestMonitor(t *testing.T) (*Monitor, *fakeSource, *chat.MockAdapter, *fakeClock) {
	t.Helper()
	source := newFakeSource()
	adapter := chat.NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}

	m, err := New(Opts{
		Adapter: adapter,
		Source:  source,
		Config: config.MonitorConfig{
			PollInterval:   time.Minute,
			AlertThreshold: 10 * time.Minute,
		},
		AlertChannel: "C_ALERTS",
		Clock:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m, source, adapter, clock
}

// cycles advances the clock by the poll interval and runs a cycle, n times.
func cycles(m *Monitor, clock *fakeClock, n int) {
	for i := 0; i < n; i++ {
		clock.Advance(time.Minute)
		m.Cycle(context.Background())
	}
}

// --- Tests ---

func TestCycle_AlertFiresOnceAtThreshold(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)

	// First cycle starts the episode. Nine more reach t+9m: below threshold.
	m.Cycle(context.Background())
	cycles(m, clock, 9)
	if adapter.PostedCount() != 0 {
		t.Fatalf("posted %d alerts before threshold, want 0", adapter.PostedCount())
	}

	// t+10m crosses the threshold.
	cycles(m, clock, 1)
	if adapter.PostedCount() != 1 {
		t.Fatalf("posted %d alerts at threshold, want 1", adapter.PostedCount())
	}

	// Further cycles do not re-alert while the alert is pending.
	cycles(m, clock, 5)
	if adapter.PostedCount() != 1 {
		t.Errorf("posted %d alerts after threshold, want 1", adapter.PostedCount())
	}

	posted, _ := adapter.LastPosted()
	if !strings.Contains(posted.Message.Text, "John Agent") ||
		!strings.Contains(posted.Message.Text, "Transfers Only") {
		t.Errorf("unexpected alert text: %q", posted.Message.Text)
	}
	if len(posted.Message.Controls) != 1 || posted.Message.Controls[0].ActionID != "acknowledge_alert" {
		t.Errorf("unexpected alert controls: %+v", posted.Message.Controls)
	}
}

func TestCycle_LeavingBeforeThresholdNeverAlerts(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)

	m.Cycle(context.Background())
	cycles(m, clock, 8)

	// Leaves at t+8m, comes back at t+10m: duration restarts from zero.
	source.setState(1, directory.StateAvailable)
	cycles(m, clock, 2)
	source.setState(1, directory.StateTransfersOnly)
	cycles(m, clock, 10)

	if adapter.PostedCount() != 0 {
		t.Errorf("posted %d alerts, want 0 (episode restarted)", adapter.PostedCount())
	}

	// Full threshold in the second episode does alert.
	cycles(m, clock, 1)
	if adapter.PostedCount() != 1 {
		t.Errorf("posted %d alerts, want 1", adapter.PostedCount())
	}
}

func TestCycle_PendingAlertSurvivesLeavingStatus(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)

	m.Cycle(context.Background())
	cycles(m, clock, 10)
	if adapter.PostedCount() != 1 {
		t.Fatalf("posted %d alerts, want 1", adapter.PostedCount())
	}

	// Agent leaves at t+12m. The alert stays pending until acknowledged.
	source.setState(1, directory.StateAvailable)
	cycles(m, clock, 2)

	alerts := m.Alerts()
	if len(alerts) != 1 || alerts[0].State != AlertPending {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	// Acknowledgment at t=15m transitions to acknowledged.
	cycles(m, clock, 1)
	posted, _ := adapter.LastPosted()
	m.HandleAcknowledge(context.Background(), chat.InboundEvent{
		Kind:     chat.EventAction,
		ActionID: "acknowledge_alert",
		UserID:   "U_LEAD",
		Message:  posted.Ref,
	})

	alerts = m.Alerts()
	if alerts[0].State != AlertAcknowledged || alerts[0].AckedBy != "U_LEAD" {
		t.Errorf("unexpected final alert: %+v", alerts[0])
	}
	if alerts[0].AckedAt.IsZero() {
		t.Error("expected acknowledgment timestamp")
	}
}

func TestHandleAcknowledge_PostsThreadConfirmationAndStripsButton(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)
	m.Cycle(context.Background())
	cycles(m, clock, 10)

	posted, _ := adapter.LastPosted()
	m.HandleAcknowledge(context.Background(), chat.InboundEvent{
		Kind: chat.EventAction, ActionID: "acknowledge_alert",
		UserID: "U_LEAD", Message: posted.Ref,
	})

	// Confirmation goes into the thread under the alert.
	last, _ := adapter.LastPosted()
	if last.Parent != posted.Ref {
		t.Errorf("confirmation parent = %+v, want %+v", last.Parent, posted.Ref)
	}
	if !strings.Contains(last.Message.Text, "acknowledged by <@U_LEAD>") {
		t.Errorf("unexpected confirmation text: %q", last.Message.Text)
	}

	// The original message is re-posted without controls.
	update, ok := adapter.UpdateFor(posted.Ref)
	if !ok {
		t.Fatal("expected alert message to be updated")
	}
	if len(update.Controls) != 0 {
		t.Errorf("expected controls stripped, got %+v", update.Controls)
	}
	if update.Text != posted.Message.Text {
		t.Errorf("alert text changed on update: %q vs %q", update.Text, posted.Message.Text)
	}
}

func TestHandleAcknowledge_DuplicateAndStaleClicksAreNoOps(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)
	m.Cycle(context.Background())
	cycles(m, clock, 10)

	posted, _ := adapter.LastPosted()
	ack := chat.InboundEvent{
		Kind: chat.EventAction, ActionID: "acknowledge_alert",
		UserID: "U_LEAD", Message: posted.Ref,
	}
	m.HandleAcknowledge(context.Background(), ack)
	countAfterFirst := adapter.PostedCount()

	// Double click: no second confirmation, actor unchanged.
	ack.UserID = "U_OTHER"
	m.HandleAcknowledge(context.Background(), ack)
	if adapter.PostedCount() != countAfterFirst {
		t.Error("duplicate acknowledge posted a second confirmation")
	}
	if got := m.Alerts()[0].AckedBy; got != "U_LEAD" {
		t.Errorf("acked by = %q, want U_LEAD", got)
	}

	// Stale reference: no-op.
	m.HandleAcknowledge(context.Background(), chat.InboundEvent{
		Kind: chat.EventAction, ActionID: "acknowledge_alert",
		UserID: "U_X", Message: chat.MessageRef{ChannelID: "C_ALERTS", MessageID: "gone"},
	})
	if adapter.PostedCount() != countAfterFirst {
		t.Error("stale acknowledge posted a confirmation")
	}
}

func TestCycle_RosterFailureSkipsCycle(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)
	m.Cycle(context.Background())
	cycles(m, clock, 5)

	// Roster down for a while. The episode must not be disturbed.
	source.mu.Lock()
	source.listErr = fmt.Errorf("boom")
	source.mu.Unlock()
	cycles(m, clock, 3)

	source.mu.Lock()
	source.listErr = nil
	source.mu.Unlock()
	cycles(m, clock, 2)

	// t+10m total in status: alert fires with the full duration counted.
	if adapter.PostedCount() != 1 {
		t.Errorf("posted %d alerts, want 1", adapter.PostedCount())
	}
}

func TestCycle_AgentStatusFailureIsNotATransition(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}, {ID: 2, Name: "Jane Agent"}}
	source.setState(1, directory.StateTransfersOnly)
	source.setState(2, directory.StateTransfersOnly)
	m.Cycle(context.Background())

	// Agent 1's status fetch fails mid-episode; agent 2 keeps going.
	source.mu.Lock()
	source.stateErr[1] = fmt.Errorf("%w: status 503", directory.ErrTransient)
	source.mu.Unlock()
	cycles(m, clock, 4)

	source.mu.Lock()
	delete(source.stateErr, 1)
	source.mu.Unlock()
	cycles(m, clock, 6)

	// Both agents have been in status for 10m and both alert exactly once.
	if adapter.PostedCount() != 2 {
		t.Errorf("posted %d alerts, want 2", adapter.PostedCount())
	}
}

func TestCycle_ExcludedAgentsNeverAlert(t *testing.T) {
	m, source, adapter, clock := newTestMonitor(t)
	m.cfg.ExcludedAgents = []string{"Jane Admin"}
	source.agents = []directory.Agent{{ID: 1, Name: "Jane Admin"}}
	source.setState(1, directory.StateTransfersOnly)

	m.Cycle(context.Background())
	cycles(m, clock, 15)

	if adapter.PostedCount() != 0 {
		t.Errorf("posted %d alerts for excluded agent, want 0", adapter.PostedCount())
	}
	if len(m.Watching()) != 0 {
		t.Errorf("excluded agent is being tracked: %+v", m.Watching())
	}
}

func TestCycle_RosterDropClearsEpisode(t *testing.T) {
	m, source, _, clock := newTestMonitor(t)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)
	m.Cycle(context.Background())
	cycles(m, clock, 5)

	source.mu.Lock()
	source.agents = nil
	source.mu.Unlock()
	cycles(m, clock, 1)

	if len(m.Watching()) != 0 {
		t.Errorf("dropped agent still tracked: %+v", m.Watching())
	}
}

// flakyAdapter fails the first failNext Post calls, then delegates to the
// mock.
type flakyAdapter struct {
	*chat.MockAdapter
	mu       sync.Mutex
	failNext int
}

func (f *flakyAdapter) Post(ctx context.Context, channelID string, msg chat.OutboundMessage) (chat.MessageRef, error) {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return chat.MessageRef{}, fmt.Errorf("chat unavailable")
	}
	f.mu.Unlock()
	return f.MockAdapter.Post(ctx, channelID, msg)
}

func newFlakyMonitor(t *testing.T, failPosts int) (*Monitor, *fakeSource, *flakyAdapter, *fakeClock) {
	t.Helper()
	source := newFakeSource()
	mock := chat.NewMockAdapter()
	if err := mock.Connect(context.Background()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}
	adapter := &flakyAdapter{MockAdapter: mock, failNext: failPosts}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}

	m, err := New(Opts{
		Adapter: adapter,
		Source:  source,
		Config: config.MonitorConfig{
			PollInterval:   time.Minute,
			AlertThreshold: 10 * time.Minute,
		},
		AlertChannel: "C_ALERTS",
		Clock:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m, source, adapter, clock
}

func TestCycle_PostFailureRetriesNextCycle(t *testing.T) {
	m, source, adapter, clock := newFlakyMonitor(t, 1)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)

	// The alert attempt at t+10m fails to post. The record must be
	// discarded, not left pending without a message.
	m.Cycle(context.Background())
	cycles(m, clock, 10)
	if adapter.PostedCount() != 0 {
		t.Fatalf("posted %d alerts, want 0 after failed post", adapter.PostedCount())
	}
	if got := len(m.Alerts()); got != 0 {
		t.Fatalf("alert records = %d after failed post, want 0", got)
	}

	// Next cycle retries and succeeds.
	cycles(m, clock, 1)
	if adapter.PostedCount() != 1 {
		t.Fatalf("posted %d alerts after retry cycle, want 1", adapter.PostedCount())
	}
	alerts := m.Alerts()
	if len(alerts) != 1 || alerts[0].State != AlertPending {
		t.Fatalf("unexpected alerts after retry: %+v", alerts)
	}

	// The retried alert is acknowledgeable.
	posted, _ := adapter.LastPosted()
	m.HandleAcknowledge(context.Background(), chat.InboundEvent{
		Kind: chat.EventAction, ActionID: "acknowledge_alert",
		UserID: "U_LEAD", Message: posted.Ref,
	})
	if got := m.Alerts()[0].State; got != AlertAcknowledged {
		t.Errorf("alert state = %q after acknowledge, want acknowledged", got)
	}
}

func TestCycle_PostFailureDoesNotSuppressLaterEpisodes(t *testing.T) {
	m, source, adapter, clock := newFlakyMonitor(t, 1)
	source.agents = []directory.Agent{{ID: 1, Name: "John Agent"}}
	source.setState(1, directory.StateTransfersOnly)

	// First episode crosses the threshold but the post fails, and the
	// agent leaves before any retry.
	m.Cycle(context.Background())
	cycles(m, clock, 10)
	source.setState(1, directory.StateAvailable)
	cycles(m, clock, 2)
	if adapter.PostedCount() != 0 {
		t.Fatalf("posted %d alerts in first episode, want 0", adapter.PostedCount())
	}

	// A fresh episode must still be alert-eligible.
	source.setState(1, directory.StateTransfersOnly)
	cycles(m, clock, 11)
	if adapter.PostedCount() != 1 {
		t.Fatalf("posted %d alerts in second episode, want 1", adapter.PostedCount())
	}
	posted, _ := adapter.LastPosted()
	if !strings.Contains(posted.Message.Text, "John Agent") {
		t.Errorf("unexpected alert text: %q", posted.Message.Text)
	}
}
