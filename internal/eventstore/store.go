// Package eventstore keeps a SQLite timeline of synthesis requests.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	_ "modernc.org/sqlite"
)

// Timeline event types.
const (
	EventRequested = "tts.requested"
	EventCompleted = "tts.completed"
	EventFailed    = "tts.failed"
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event represents a recorded timeline entry.
type Event struct {
	ID        int64
	RequestID string
	Source    string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Request is the summary row kept per synthesis or conversion request.
type Request struct {
	ID        string
	Operation string // synthesize or convert
	Source    string // http, bus or cli
	Speaker   string
	Language  string
	Status    string
	CreatedAt time.Time
}

// Completion describes a finished request.
type Completion struct {
	Samples        int     `json:"samples"`
	SampleRate     int     `json:"sample_rate"`
	Segments       int     `json:"segments"`
	ProcessingMS   int64   `json:"processing_ms"`
	RealTimeFactor float64 `json:"real_time_factor"`
}

// Failure describes a request that returned an error.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Store wraps a SQLite-backed request timeline.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    request_id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    source TEXT,
    speaker TEXT,
    language TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    source TEXT,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(request_id) REFERENCES requests(request_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_request_created ON events(request_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// BeginRequest records a new pending request and its tts.requested event.
func (s *Store) BeginRequest(ctx context.Context, req Request, payload any) error {
	if s.disabled() {
		return nil
	}
	if req.ID == "" {
		return errors.New("request id is required")
	}
	now := s.clock().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, operation, source, speaker, language, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET status=excluded.status`,
		req.ID, req.Operation, req.Source, req.Speaker, req.Language, StatusPending, now); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return s.appendEvent(ctx, req.ID, req.Source, EventRequested, payload, now)
}

// CompleteRequest marks a request completed.
func (s *Store) CompleteRequest(ctx context.Context, requestID, source string, c Completion) error {
	return s.finish(ctx, requestID, source, StatusCompleted, EventCompleted, c)
}

// FailRequest marks a request failed.
func (s *Store) FailRequest(ctx context.Context, requestID, source string, f Failure) error {
	return s.finish(ctx, requestID, source, StatusFailed, EventFailed, f)
}

func (s *Store) finish(ctx context.Context, requestID, source, status, eventType string, payload any) error {
	if s.disabled() {
		return nil
	}
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE requests SET status = ? WHERE request_id = ?`, status, requestID)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("request %q not found", requestID)
	}
	return s.appendEvent(ctx, requestID, source, eventType, payload, now)
}

func (s *Store) appendEvent(ctx context.Context, requestID, source, eventType string, payload any, at time.Time) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", eventType, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(request_id, source, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		requestID, source, eventType, data, at)
	return err
}

// GetRequest returns the summary row of a request.
func (s *Store) GetRequest(ctx context.Context, requestID string) (Request, error) {
	if s.disabled() {
		return Request{}, sql.ErrNoRows
	}
	var r Request
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, operation, source, speaker, language, status, created_at
		 FROM requests WHERE request_id = ?`, requestID).
		Scan(&r.ID, &r.Operation, &r.Source, &r.Speaker, &r.Language, &r.Status, &created)
	if err != nil {
		return Request{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// ListRequestEvents retrieves up to limit events for a request ordered by time.
func (s *Store) ListRequestEvents(ctx context.Context, requestID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, source, event_type, payload, created_at
		 FROM events WHERE request_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Source, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return tx.Commit()
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE request_id IN (
			SELECT request_id FROM requests ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
