// Package history keeps a local log of finished calls in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrNotTerminal = errors.New("session is not terminal")

// Record is one finished call.
type Record struct {
	ID          domain.CallID
	Role        domain.Role
	PeerID      domain.UserID
	Kind        domain.MediaKind
	State       domain.State
	Reason      domain.EndReason
	ErrorKind   string
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

// FromSession snapshots a terminal session.
func FromSession(s domain.CallSession) Record {
	r := Record{
		ID:          s.ID,
		Role:        s.Role,
		PeerID:      s.PeerID,
		Kind:        s.Kind,
		State:       s.State,
		Reason:      s.Reason,
		StartedAt:   s.StartedAt,
		ConnectedAt: s.ConnectedAt,
		EndedAt:     s.EndedAt,
		Duration:    s.Duration(),
	}
	if s.Err != nil {
		r.ErrorKind = s.Err.Kind.String()
	}
	return r
}

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the history database at path. ":memory:" works
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One writer; sqlite serializes anyway and :memory: is per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS calls (
			id           TEXT PRIMARY KEY,
			role         TEXT NOT NULL,
			peer_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			state        TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			error_kind   TEXT NOT NULL DEFAULT '',
			started_at   INTEGER NOT NULL DEFAULT 0,
			connected_at INTEGER NOT NULL DEFAULT 0,
			ended_at     INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0
		)`,
		"CREATE INDEX IF NOT EXISTS calls_ended_at ON calls (ended_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init history: %w", err)
		}
	}
	return &Store{db: db, log: log.With().Str("module", "history").Logger()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes a terminal session. Saving the same call twice keeps the last write.
func (s *Store) Save(ctx context.Context, sess domain.CallSession) error {
	if !sess.State.IsTerminal() {
		return ErrNotTerminal
	}
	r := FromSession(sess)
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls
		(id, role, peer_id, kind, state, reason, error_kind, started_at, connected_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state,
			reason=excluded.reason,
			error_kind=excluded.error_kind,
			connected_at=excluded.connected_at,
			ended_at=excluded.ended_at,
			duration_ms=excluded.duration_ms`,
		string(r.ID), r.Role.String(), string(r.PeerID), string(r.Kind), r.State.String(),
		string(r.Reason), r.ErrorKind, millis(r.StartedAt), millis(r.ConnectedAt), millis(r.EndedAt),
		r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save call %s: %w", r.ID, err)
	}
	return nil
}

// Observe is a session sink for terminal events; failures are logged.
func (s *Store) Observe(sess domain.CallSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Save(ctx, sess); err != nil {
		s.log.Warn().Err(err).Str("call", string(sess.ID)).Msg("history not saved")
	}
}

// List returns up to limit records, newest first. limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, peer_id, kind, state, reason, error_kind,
		started_at, connected_at, ended_at, duration_ms
		FROM calls ORDER BY ended_at DESC, started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                               Record
			id, role, peer, kind, state     string
			reason                          string
			started, connected, ended, durn int64
		)
		if err := rows.Scan(&id, &role, &peer, &kind, &state, &reason, &r.ErrorKind,
			&started, &connected, &ended, &durn); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.ID = domain.CallID(id)
		r.Role = parseRole(role)
		r.PeerID = domain.UserID(peer)
		r.Kind = domain.MediaKind(kind)
		r.State = parseState(state)
		r.Reason = domain.EndReason(reason)
		r.StartedAt = fromMillis(started)
		r.ConnectedAt = fromMillis(connected)
		r.EndedAt = fromMillis(ended)
		r.Duration = time.Duration(durn) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseRole(s string) domain.Role {
	if s == domain.RoleCallee.String() {
		return domain.RoleCallee
	}
	return domain.RoleCaller
}

func parseState(s string) domain.State {
	if s == domain.StateFailed.String() {
		return domain.StateFailed
	}
	return domain.StateEnded
}
