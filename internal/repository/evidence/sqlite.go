package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// Repository records captured evidence.
type Repository interface {
	Append(ctx context.Context, artifact sos.EvidenceArtifact) error
	ListBySession(ctx context.Context, sessionID string) ([]sos.EvidenceArtifact, error)
	Sessions(ctx context.Context) ([]SessionSummary, error)
	AppendRecording(ctx context.Context, rec sos.Recording) error
	Recordings(ctx context.Context) ([]sos.Recording, error)
}

// SessionSummary aggregates the photos of one alarm session.
type SessionSummary struct {
	SessionID  string
	Photos     int
	FirstPhoto time.Time
	LastPhoto  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS evidence (
	session_id  TEXT    NOT NULL,
	sequence    INTEGER NOT NULL,
	path        TEXT    NOT NULL,
	captured_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_evidence_captured_at ON evidence (captured_at);
CREATE TABLE IF NOT EXISTS recordings (
	path       TEXT    PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	bytes      INTEGER NOT NULL
);
`

// SQLiteRepository is the evidence ledger stored in a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// Open opens or creates the ledger at path. Use ":memory:" in tests.
func Open(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evidence db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create evidence schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Append stores one artifact. Re-appending the same sequence replaces it.
func (r *SQLiteRepository) Append(ctx context.Context, artifact sos.EvidenceArtifact) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO evidence (session_id, sequence, path, captured_at) VALUES (?, ?, ?, ?)`,
		artifact.SessionID, artifact.Sequence, artifact.Path, artifact.CapturedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}

	return nil
}

// ListBySession returns the artifacts of a session in capture order.
func (r *SQLiteRepository) ListBySession(ctx context.Context, sessionID string) ([]sos.EvidenceArtifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, sequence, path, captured_at FROM evidence WHERE session_id = ? ORDER BY sequence`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var out []sos.EvidenceArtifact

	for rows.Next() {
		var (
			a  sos.EvidenceArtifact
			ns int64
		)

		if err = rows.Scan(&a.SessionID, &a.Sequence, &a.Path, &ns); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}

		a.CapturedAt = time.Unix(0, ns).UTC()
		out = append(out, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}

	return out, nil
}

// Sessions summarises every session with evidence, newest first.
func (r *SQLiteRepository) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(captured_at), MAX(captured_at)
		FROM evidence
		GROUP BY session_id
		ORDER BY MAX(captured_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary

	for rows.Next() {
		var (
			s           SessionSummary
			first, last int64
		)

		if err = rows.Scan(&s.SessionID, &s.Photos, &first, &last); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		s.FirstPhoto = time.Unix(0, first).UTC()
		s.LastPhoto = time.Unix(0, last).UTC()
		out = append(out, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return out, nil
}

// AppendRecording stores a finished manual recording.
func (r *SQLiteRepository) AppendRecording(ctx context.Context, rec sos.Recording) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO recordings (path, started_at, ended_at, bytes) VALUES (?, ?, ?, ?)`,
		rec.Path, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(), rec.Bytes)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}

	return nil
}

// Recordings lists the manual recordings, newest first.
func (r *SQLiteRepository) Recordings(ctx context.Context) ([]sos.Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, started_at, ended_at, bytes FROM recordings ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []sos.Recording

	for rows.Next() {
		var (
			rec          sos.Recording
			started, end int64
		)

		if err = rows.Scan(&rec.Path, &started, &end, &rec.Bytes); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}

		rec.StartedAt = time.Unix(0, started).UTC()
		rec.EndedAt = time.Unix(0, end).UTC()
		out = append(out, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}

	return out, nil
}
