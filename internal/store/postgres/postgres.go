// Package postgres provides a PostgreSQL-backed [session.Store].
//
// All operations share a single [pgxpool.Pool]. [Migrate] is idempotent and
// runs automatically on [NewStore], so the store is safe to construct on every
// application start.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mandivoice/mandivoice/internal/session"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

var _ session.Store = (*Store)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    owner_id      TEXT         NOT NULL,
    participants  TEXT[]       NOT NULL,
    commodity     TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_owner
    ON sessions (owner_id);

CREATE INDEX IF NOT EXISTS idx_sessions_owner_status
    ON sessions (owner_id, status);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS session_messages (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    sender_id    TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    language     TEXT         NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_messages_session
    ON session_messages (session_id, received_at);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlMessages} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL-backed session store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveSession implements [session.Store]. Saving an existing id refreshes the
// stored row, keeping the store idempotent against manager retries.
func (s *Store) SaveSession(ctx context.Context, sess session.Session) error {
	const q = `
		INSERT INTO sessions (id, owner_id, participants, commodity, status, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, q,
		sess.ID,
		sess.Owner,
		sess.Participants,
		sess.Commodity,
		sess.Status.String(),
		sess.CreatedAt,
		nullableTime(sess.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// SaveMessage implements [session.Store].
func (s *Store) SaveMessage(ctx context.Context, m session.Message) error {
	const q = `
		INSERT INTO session_messages (id, session_id, sender_id, text, language, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		m.ID,
		m.SessionID,
		m.SenderID,
		m.Text,
		string(m.Language),
		m.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save message: %w", err)
	}
	return nil
}

// UpdateSessionStatus implements [session.Store].
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status session.Status, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, sessionID, status.String(), nullableTime(endedAt))
	if err != nil {
		return fmt.Errorf("postgres store: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: session %s not found", sessionID)
	}
	return nil
}

// Messages returns the stored messages for sessionID in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]session.Message, error) {
	const q = `
		SELECT id, session_id, sender_id, text, language, received_at
		FROM   session_messages
		WHERE  session_id = $1
		ORDER  BY received_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Message, error) {
		var (
			m    session.Message
			lang string
		)
		if err := row.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Text, &lang, &m.ReceivedAt); err != nil {
			return session.Message{}, err
		}
		m.Language = voice.LanguageTag(lang)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	return msgs, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
