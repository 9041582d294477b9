package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"modelpanel/internal/common/config"
	"modelpanel/internal/discussion"
)

// Archive is the durable Postgres store for session snapshots. The
// full snapshot is kept as a JSON document next to a few queryable
// columns.
type Archive struct {
	db *sql.DB
}

// NewArchive opens a connection pool per the storage configuration.
func NewArchive(cfg config.PostgresConfig) (*Archive, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Archive{db: db}, nil
}

// newArchiveWithDB is the test seam for sqlmock.
func newArchiveWithDB(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// Ping tests the database connection.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the connection pool.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Migrate creates the snapshot table when missing.
func (a *Archive) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS session_snapshots (
			session_id  TEXT PRIMARY KEY,
			question    TEXT NOT NULL,
			total_turns INT NOT NULL,
			snapshot    JSONB NOT NULL,
			exported_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate session_snapshots: %w", err)
	}
	return nil
}

// Save upserts a snapshot keyed by session ID.
func (a *Archive) Save(ctx context.Context, snap *discussion.Snapshot) error {
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("store: snapshot must have a session id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot %s: %w", snap.SessionID, err)
	}

	const query = `
		INSERT INTO session_snapshots (session_id, question, total_turns, snapshot, exported_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			question = EXCLUDED.question,
			total_turns = EXCLUDED.total_turns,
			snapshot = EXCLUDED.snapshot,
			exported_at = EXCLUDED.exported_at`
	_, err = a.db.ExecContext(ctx, query,
		snap.SessionID, snap.Question, snap.Statistics.TotalTurns, raw, snap.ExportedAt)
	if err != nil {
		return fmt.Errorf("store: archive snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load retrieves an archived snapshot by session ID.
func (a *Archive) Load(ctx context.Context, sessionID string) (*discussion.Snapshot, error) {
	const query = `SELECT snapshot FROM session_snapshots WHERE session_id = $1`

	var raw []byte
	err := a.db.QueryRowContext(ctx, query, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot %s: %w", sessionID, err)
	}

	var snap discussion.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// List returns recent snapshot summaries, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]SnapshotSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT session_id, question, total_turns, exported_at
		FROM session_snapshots
		ORDER BY exported_at DESC
		LIMIT $1`

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		if err := rows.Scan(&s.SessionID, &s.Question, &s.TotalTurns, &s.ExportedAt); err != nil {
			return nil, fmt.Errorf("store: scan snapshot row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate snapshot rows: %w", err)
	}
	return out, nil
}

// SnapshotSummary is the list view of an archived snapshot.
type SnapshotSummary struct {
	SessionID  string    `json:"sessionId"`
	Question   string    `json:"question"`
	TotalTurns int       `json:"totalTurns"`
	ExportedAt time.Time `json:"exportedAt"`
}
