package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tether/cmd/internal/fault"
)

// Event is one persisted lifecycle step of a session.
//
// The trail is append-only; nothing reads it back to resume sessions.
type Event struct {
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Endpoint  string    `json:"endpoint"`
	Proxy     string    `json:"proxy"`
	From      string    `json:"from,omitempty"` // empty for the start event
	To        string    `json:"to"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventStore persists session events.
type EventStore interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000

	defaultRecordTimeout = 2 * time.Second
	defaultRecordBuffer  = 1024
)

func clampRecentLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

// Recorder is an Observer that appends state changes to an EventStore.
//
// Writes happen on one background worker behind a bounded queue, so a slow
// store never delays the session that produced the event. When the queue is
// full the event is dropped and counted. Store failures are logged and
// dropped as well.
type Recorder struct {
	log     *slog.Logger
	store   EventStore
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped atomic.Int64
}

// NewRecorder constructs a Recorder and starts its writer. timeout <= 0 uses
// 2s per write. Close stops the writer after draining queued events.
func NewRecorder(log *slog.Logger, store EventStore, timeout time.Duration) *Recorder {
	return newRecorder(log, store, timeout, defaultRecordBuffer)
}

func newRecorder(log *slog.Logger, store EventStore, timeout time.Duration, buffer int) *Recorder {
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	if buffer <= 0 {
		buffer = defaultRecordBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		log:     log,
		store:   store,
		timeout: timeout,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) SessionStarted(i Info) {
	r.enqueue(Event{
		SessionID: i.SessionID,
		Endpoint:  i.Target.Endpoint.String(),
		Proxy:     i.Target.Proxy.String(),
		To:        StateStart.String(),
		At:        i.At,
	})
}

func (r *Recorder) StateChanged(t Transition) {
	e := Event{
		SessionID: t.SessionID,
		Endpoint:  t.Target.Endpoint.String(),
		Proxy:     t.Target.Proxy.String(),
		From:      t.From.String(),
		To:        t.To.String(),
		At:        t.At,
	}
	if t.Err != nil {
		e.ErrorKind = fault.Kind(t.Err)
		e.Error = t.Err.Error()
	}
	r.enqueue(e)
}

// MessageObserved is a no-op: only state changes are recorded.
func (r *Recorder) MessageObserved(MessageEvent) {}

// Dropped reports how many events were discarded because the queue was full
// or the Recorder was closed.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events and waits for queued ones to be written.
// It is safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
	if n := r.dropped.Load(); n > 0 {
		r.log.Warn("session.record.dropped", "events", n)
	}
}

func (r *Recorder) enqueue(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("session.record.queue_full", "session_id", e.SessionID, "to", e.To)
		}
	}
}

func (r *Recorder) drain() {
	defer close(r.done)

	for e := range r.queue {
		r.append(e)
	}
}

func (r *Recorder) append(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Append(ctx, e); err != nil {
		r.log.Warn("session.record.fail", "session_id", e.SessionID, "to", e.To, "err", err)
	}
}
