package session

import (
	"sort"
	"sync"
	"time"

	v1 "tether/shared/contracts/relay/v1"

	"tether/cmd/internal/fault"
)

// Status is the latest known view of one session.
type Status struct {
	SessionID  string    `json:"session_id"`
	Endpoint   string    `json:"endpoint"`
	Proxy      string    `json:"proxy"`
	State      string    `json:"state"`
	Since      time.Time `json:"since"`
	StartedAt  time.Time `json:"started_at"`
	Heartbeats int64     `json:"heartbeats"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`

	state State
}

// Tracker keeps an in-memory snapshot of every session of the run.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Status
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Status)}
}

func (t *Tracker) SessionStarted(i Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[i.SessionID] = &Status{
		SessionID: i.SessionID,
		Endpoint:  i.Target.Endpoint.String(),
		Proxy:     i.Target.Proxy.String(),
		State:     StateStart.String(),
		Since:     i.At,
		StartedAt: i.At,
		state:     StateStart,
	}
}

func (t *Tracker) StateChanged(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sessions[tr.SessionID]
	if st == nil {
		return
	}
	st.state = tr.To
	st.State = tr.To.String()
	st.Since = tr.At
	if tr.To == StateFailed && tr.Err != nil {
		st.ErrorKind = fault.Kind(tr.Err)
		st.Error = tr.Err.Error()
	}
}

func (t *Tracker) MessageObserved(e MessageEvent) {
	if e.Direction != Outbound || e.Kind != v1.KindPong {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if st := t.sessions[e.SessionID]; st != nil {
		st.Heartbeats++
	}
}

// Snapshot returns every session ordered by start time.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	out := make([]Status, 0, len(t.sessions))
	for _, st := range t.sessions {
		out = append(out, *st)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Counts returns the number of sessions per state name.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int, len(States))
	for _, st := range t.sessions {
		out[st.State]++
	}
	return out
}

// Ready reports whether at least one session is heartbeating.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, st := range t.sessions {
		if st.state.Heartbeating() {
			return true
		}
	}
	return false
}
