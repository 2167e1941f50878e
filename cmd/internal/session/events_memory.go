package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultMemoryEvents = 10_000

// MemoryEventStore keeps the most recent events in a bounded ring.
// It is the default when no database is configured.
type MemoryEventStore struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
	seq  int64
}

// NewMemoryEventStore constructs a ring holding up to capacity events
// (10 000 when capacity <= 0).
func NewMemoryEventStore(capacity int) *MemoryEventStore {
	if capacity <= 0 {
		capacity = defaultMemoryEvents
	}
	return &MemoryEventStore{buf: make([]Event, capacity)}
}

// Close closes the store (noop for in-memory).
func (s *MemoryEventStore) Close() error { return nil }

// Append stores e, evicting the oldest event when full.
func (s *MemoryEventStore) Append(ctx context.Context, e Event) error {
	if e.SessionID == "" || e.To == "" {
		return errors.New("session: invalid event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	s.buf[s.next] = e
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to limit events, oldest first.
func (s *MemoryEventStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecentLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.buf)
	}
	if limit > n {
		limit = n
	}

	out := make([]Event, 0, limit)
	start := (s.next - limit + len(s.buf)) % len(s.buf)
	for i := 0; i < limit; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out, nil
}
