// Package history persists flash session outcomes and their event logs
// to SQLite for the /api/history endpoints.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema is the DDL for the history tables, applied at service startup.
const Schema = `
CREATE TABLE IF NOT EXISTS flash_sessions (
    id               TEXT PRIMARY KEY,
    port             TEXT NOT NULL,
    platform         TEXT NOT NULL DEFAULT '',
    device_id        TEXT NOT NULL DEFAULT '',
    chip_id          TEXT NOT NULL DEFAULT '',
    firmware_version TEXT NOT NULL DEFAULT '',
    attempts         INTEGER NOT NULL DEFAULT 0,
    baud             INTEGER NOT NULL DEFAULT 0,
    fallback_used    INTEGER NOT NULL DEFAULT 0,
    outcome          TEXT NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    started_at       TEXT NOT NULL,
    finished_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_events (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES flash_sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    timestamp  TEXT NOT NULL,
    severity   TEXT NOT NULL,
    message    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flash_sessions_started ON flash_sessions(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, seq);
`

// ErrNotFound is returned when a session ID has no row.
var ErrNotFound = errors.New("history: session not found")

// Session is one persisted flash or monitor session.
type Session struct {
	ID              string    `json:"id"`
	Port            string    `json:"port"`
	Platform        string    `json:"platform,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	ChipID          string    `json:"chip_id,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Attempts        int       `json:"attempts"`
	Baud            int       `json:"baud,omitempty"`
	FallbackUsed    bool      `json:"fallback_used"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Event is one log entry within a session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

// Filter controls which sessions to return.
type Filter struct {
	Outcome string // optional: completed or failed
	Port    string // optional: filter by port path
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated session results.
type ListResult struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Repository reads and writes flash session history in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a session history repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts a finished session and its ordered event log in one
// transaction.
func (r *Repository) Save(ctx context.Context, s *Session, events []Event) error {
	if s.ID == "" {
		s.ID = "ses-" + uuid.NewString()[:8]
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx,
		`INSERT INTO flash_sessions
		 (id, port, platform, device_id, chip_id, firmware_version, attempts, baud, fallback_used, outcome, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Port, s.Platform, s.DeviceID, s.ChipID, s.FirmwareVersion,
		s.Attempts, s.Baud, boolToInt(s.FallbackUsed), s.Outcome, s.Error,
		s.StartedAt.UTC().Format(time.RFC3339Nano),
		s.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", s.ID, err)
	}

	for i, e := range events {
		id := e.ID
		if id == "" {
			id = "evt-" + uuid.NewString()[:8]
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_events (id, session_id, seq, timestamp, severity, message)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, s.ID, i, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Severity, e.Message,
		)
		if err != nil {
			return fmt.Errorf("inserting session event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session %s: %w", s.ID, err)
	}
	return nil
}

// List returns sessions matching the filter, most recent first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for history queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Port != "" {
		conditions = append(conditions, "port = ?")
		args = append(args, filter.Port)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flash_sessions"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	query := `SELECT id, port, platform, device_id, chip_id, firmware_version, attempts, baud, fallback_used, outcome, error, started_at, finished_at
	          FROM flash_sessions` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return &ListResult{Sessions: sessions, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Get returns one session and its ordered event log.
func (r *Repository) Get(ctx context.Context, id string) (*Session, []Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, port, platform, device_id, chip_id, firmware_version, attempts, baud, fallback_used, outcome, error, started_at, finished_at
		 FROM flash_sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, timestamp, severity, message
		 FROM session_events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("listing session events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &e.SessionID, &ts, &e.Severity, &e.Message); err != nil {
			return nil, nil, fmt.Errorf("scanning session event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating session events: %w", err)
	}

	return &s, events, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var s Session
	var fallback int
	var started, finished string
	err := sc.Scan(&s.ID, &s.Port, &s.Platform, &s.DeviceID, &s.ChipID, &s.FirmwareVersion,
		&s.Attempts, &s.Baud, &fallback, &s.Outcome, &s.Error, &started, &finished)
	if err != nil {
		return Session{}, err
	}
	s.FallbackUsed = fallback != 0
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	s.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return s, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
