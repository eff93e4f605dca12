// Package monitor polls agent availability and drives the duration alert
// lifecycle: track time in Transfers Only, raise an alert when the
// threshold is crossed, and record acknowledgments.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Episode is one agent's current stretch of monitored status.
type Episode struct {
	AgentID   int64
	AgentName string
	Since     time.Time
	Elapsed   time.Duration
}

// Tracker maintains the start time of each agent's monitored-status
// episode. Leaving the monitored status clears the episode; re-entering
// starts duration from zero.
type Tracker struct {
	mu      sync.Mutex
	started map[int64]episodeStart
}

type episodeStart struct {
	name  string
	since time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{started: make(map[int64]episodeStart)}
}

// Touch records that the agent is in the monitored status at time now.
// It returns the elapsed episode duration and whether this observation
// started a new episode.
func (t *Tracker) Touch(agentID int64, name string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.started[agentID]
	if !ok {
		t.started[agentID] = episodeStart{name: name, since: now}
		return 0, true
	}
	return now.Sub(ep.since), false
}

// Clear ends the agent's episode, if any. Returns whether one was active.
func (t *Tracker) Clear(agentID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.started[agentID]
	delete(t.started, agentID)
	return ok
}

// Prune drops episodes for agents no longer present in the roster.
func (t *Tracker) Prune(seen map[int64]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.started {
		if !seen[id] {
			delete(t.started, id)
		}
	}
}

// Active returns current episodes sorted by elapsed duration, longest first.
func (t *Tracker) Active(now time.Time) []Episode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Episode, 0, len(t.started))
	for id, ep := range t.started {
		out = append(out, Episode{
			AgentID:   id,
			AgentName: ep.name,
			Since:     ep.since,
			Elapsed:   now.Sub(ep.since),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Elapsed > out[j].Elapsed })
	return out
}
