package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewULID(t0)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(t0.Add(time.Second))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("len=%d,%d want 26", len(a), len(b))
	}
	if strings.Compare(a, b) >= 0 {
		t.Fatalf("expected %s < %s", a, b)
	}
	id, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("ulid.Parse: %v", err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(t0) {
		t.Fatalf("ulid time=%v want=%v", got, t0)
	}
}

func TestNewUUID_Version4AndUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		s := NewUUID()
		id, err := uuid.Parse(s)
		if err != nil {
			t.Fatalf("uuid.Parse(%q): %v", s, err)
		}
		if id.Version() != 4 {
			t.Fatalf("version=%d want 4", id.Version())
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate uuid %s", s)
		}
		seen[s] = struct{}{}
	}
}
