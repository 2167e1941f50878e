package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when TETHER_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresEventStore_AppendRecent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := "tether_it_" + randomHex(t, 8)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresEventStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Idempotent.
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema again: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	for i := range 5 {
		e := Event{
			SessionID: "s1",
			Endpoint:  "wss://relay.example:4650/",
			Proxy:     "direct",
			From:      "start",
			To:        fmt.Sprintf("step%d", i),
			At:        at.Add(time.Duration(i) * time.Second),
		}
		if i == 4 {
			e.To = "failed"
			e.ErrorKind = "transport"
			e.Error = "transport.read: transport: connection closed: EOF"
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent len=%d want 3", len(got))
	}
	if got[0].To != "step2" || got[1].To != "step3" || got[2].To != "failed" {
		t.Fatalf("Recent order=%q %q %q want step2 step3 failed", got[0].To, got[1].To, got[2].To)
	}
	if got[0].Seq >= got[1].Seq || got[1].Seq >= got[2].Seq {
		t.Fatalf("Recent seqs not ascending: %d %d %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}
	last := got[2]
	if last.ErrorKind != "transport" || !strings.Contains(last.Error, "EOF") || !last.At.Equal(at.Add(4*time.Second)) {
		t.Fatalf("last=%+v", last)
	}
}

func TestPostgresEventStore_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresEventStore(nil); err == nil {
		t.Fatalf("nil pool accepted")
	}

	cases := []string{"", "  ", "1abc", "a-b", `x"; DROP`}
	for _, schema := range cases {
		opt := WithSchema(schema)
		if err := opt(&PostgresEventStore{}); err == nil {
			t.Fatalf("WithSchema(%q) accepted", schema)
		}
	}
	if err := WithSchema("tether_ok")(&PostgresEventStore{}); err != nil {
		t.Fatalf("WithSchema(tether_ok): %v", err)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("TETHER_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: TETHER_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse TETHER_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func randomHex(t *testing.T, n int) string {
	t.Helper()

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b)
}
