package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// Storage is the session ledger. It keeps every session and the outcome
// of each URL so later runs can resume.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Outcomes arrive from every worker; one connection serializes the writes
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		page_url TEXT NOT NULL,
		dest_dir TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		total_links INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		cancelled INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		duplicates INTEGER DEFAULT 0,
		resumed INTEGER DEFAULT 0,
		total_bytes INTEGER DEFAULT 0,
		termination_reason TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		outcome_id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		bytes INTEGER DEFAULT 0,
		error_kind TEXT DEFAULT '',
		error TEXT DEFAULT '',
		path TEXT DEFAULT '',
		elapsed_ms INTEGER DEFAULT 0,
		attempts INTEGER DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id),
		UNIQUE(session_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_dest ON sessions(dest_dir);
	CREATE INDEX IF NOT EXISTS idx_outcomes_url ON outcomes(url);
	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// BeginSession registers a new session
func (s *Storage) BeginSession(sessionID, pageURL, destDir string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, page_url, dest_dir, started_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, pageURL, destDir, startedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}
	return nil
}

// RecordOutcome inserts an outcome or replaces the one already stored for the same URL
func (s *Storage) RecordOutcome(sessionID string, outcome model.DownloadOutcome) error {
	_, err := s.db.Exec(`
		INSERT INTO outcomes (session_id, url, status, bytes, error_kind, error, path, elapsed_ms, attempts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, url) DO UPDATE SET
			status = EXCLUDED.status,
			bytes = EXCLUDED.bytes,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error,
			path = EXCLUDED.path,
			elapsed_ms = EXCLUDED.elapsed_ms,
			attempts = EXCLUDED.attempts,
			recorded_at = EXCLUDED.recorded_at
	`, sessionID, outcome.URL, string(outcome.Status), outcome.BytesWritten, string(outcome.ErrorKind),
		outcome.ErrorMessage(), outcome.Path, outcome.ElapsedMillis, outcome.Attempts, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// FinishSession stores the final counters of a session
func (s *Storage) FinishSession(sessionID string, summary model.SessionSummary, reason string) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET
			finished_at = ?,
			total_links = ?,
			succeeded = ?,
			failed = ?,
			cancelled = ?,
			skipped = ?,
			duplicates = ?,
			resumed = ?,
			total_bytes = ?,
			termination_reason = ?
		WHERE session_id = ?
	`, summary.EndTime.UTC(), summary.TotalLinks, summary.Succeeded, summary.Failed, summary.Cancelled,
		summary.Skipped, summary.Duplicates, summary.Resumed, summary.TotalBytes, reason, sessionID)

	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to finish session: unknown session %s", sessionID)
	}
	return nil
}

// GetSession retrieves a session by ID, returns nil if not found
func (s *Storage) GetSession(sessionID string) (*Session, error) {
	var (
		session  Session
		finished sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT session_id, page_url, dest_dir, started_at, finished_at,
			total_links, succeeded, failed, cancelled, skipped, duplicates, resumed,
			total_bytes, termination_reason
		FROM sessions
		WHERE session_id = ?
	`, sessionID).Scan(&session.SessionID, &session.PageURL, &session.DestDir, &session.StartedAt, &finished,
		&session.TotalLinks, &session.Succeeded, &session.Failed, &session.Cancelled, &session.Skipped,
		&session.Duplicates, &session.Resumed, &session.TotalBytes, &session.TerminationReason)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if finished.Valid {
		session.FinishedAt = &finished.Time
	}
	return &session, nil
}

// SessionOutcomes returns every outcome of a session in recording order
func (s *Storage) SessionOutcomes(sessionID string) ([]*OutcomeRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, url, status, bytes, error_kind, error, path, elapsed_ms, attempts, recorded_at
		FROM outcomes
		WHERE session_id = ?
		ORDER BY outcome_id ASC
	`, sessionID)

	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		var r OutcomeRecord
		if err := rows.Scan(&r.SessionID, &r.URL, &r.Status, &r.BytesWritten, &r.ErrorKind, &r.Error,
			&r.Path, &r.ElapsedMillis, &r.Attempts, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return records, nil
}

// CompletedDownloads maps each URL successfully downloaded into destDir to
// the path of its most recent download
func (s *Storage) CompletedDownloads(destDir string) (map[string]string, error) {
	rows, err := s.db.Query(`
		SELECT o.url, o.path
		FROM outcomes o
		JOIN sessions s ON s.session_id = o.session_id
		WHERE s.dest_dir = ? AND o.status = ? AND o.path != ''
		ORDER BY s.started_at ASC, o.outcome_id ASC
	`, destDir, string(model.StatusSuccess))

	if err != nil {
		return nil, fmt.Errorf("failed to load completed downloads: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]string)
	for rows.Next() {
		var url, path string
		if err := rows.Scan(&url, &path); err != nil {
			return nil, fmt.Errorf("failed to scan completed download: %w", err)
		}
		completed[url] = path
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completed downloads: %w", err)
	}

	return completed, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
