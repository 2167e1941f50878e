package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEventStore is an EventStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresEventStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresEventStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresEventStore behavior.
type PostgresOption func(*PostgresEventStore) error

// WithSchema sets the DB schema used by this store (default: "tether").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresEventStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresEventStore constructs a Postgres-backed EventStore.
func NewPostgresEventStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresEventStore, error) {
	st := &PostgresEventStore{
		pool:   pool,
		schema: "tether",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresEventStore) Close() error { return nil }

// EnsureSchema creates the schema and events table when missing.
func (s *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	events := pgIdent(s.schema, "session_events")
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + events + ` (
		    seq        BIGSERIAL PRIMARY KEY,
		    session_id TEXT NOT NULL,
		    endpoint   TEXT NOT NULL,
		    proxy      TEXT NOT NULL,
		    from_state TEXT NOT NULL DEFAULT '',
		    to_state   TEXT NOT NULL,
		    error_kind TEXT NOT NULL DEFAULT '',
		    error      TEXT NOT NULL DEFAULT '',
		    at         TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE INDEX IF NOT EXISTS session_events_session_idx ON ` + events + ` (session_id, seq)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts e.
func (s *PostgresEventStore) Append(ctx context.Context, e Event) error {
	if s == nil || s.pool == nil {
		return errors.New("session: nil store")
	}
	if e.SessionID == "" || e.To == "" {
		return errors.New("session: invalid event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "session_events")+` (
		     session_id, endpoint, proxy, from_state, to_state, error_kind, error, at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.SessionID, e.Endpoint, e.Proxy, e.From, e.To, e.ErrorKind, e.Error, at,
	)
	return err
}

// Recent returns up to limit events, oldest first.
func (s *PostgresEventStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("session: nil store")
	}
	limit = clampRecentLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT seq, session_id, endpoint, proxy, from_state, to_state, error_kind, error, at
		   FROM (
		         SELECT * FROM `+pgIdent(s.schema, "session_events")+`
		          ORDER BY seq DESC
		          LIMIT $1
		        ) recent
		  ORDER BY seq ASC`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.Seq,
			&e.SessionID,
			&e.Endpoint,
			&e.Proxy,
			&e.From,
			&e.To,
			&e.ErrorKind,
			&e.Error,
			&e.At,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
