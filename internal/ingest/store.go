package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// ErrUnknownSession is returned when a session id has no stored record.
var ErrUnknownSession = errors.New("unknown session")

// Store persists everything the collector receives.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway store.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  id          INTEGER PRIMARY KEY,
	  ts_ms       INTEGER NOT NULL,
	  ts_iso      TEXT    NOT NULL,
	  kind        TEXT    NOT NULL CHECK (kind IN ('slide_viewed','interaction_with_content','knowledge_check_completed','pacing_behavior','confusion_detected','context_switch')),
	  user_id     TEXT    NOT NULL,
	  session_id  TEXT    NOT NULL,
	  properties  TEXT    NOT NULL CHECK (json_valid(properties))
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_events_kind    ON events(kind);

	CREATE TABLE IF NOT EXISTS sessions(
	  session_id  TEXT PRIMARY KEY,
	  user_id     TEXT    NOT NULL,
	  started_ms  INTEGER NOT NULL,
	  ended_ms    INTEGER
	);

	CREATE TABLE IF NOT EXISTS focus_samples(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  user_id     TEXT    NOT NULL,
	  ts_ms       INTEGER NOT NULL,
	  is_focused  INTEGER NOT NULL,
	  focus_score REAL    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_focus_session ON focus_samples(session_id, ts_ms);

	CREATE TABLE IF NOT EXISTS slide_changes(
	  id                INTEGER PRIMARY KEY,
	  session_id        TEXT    NOT NULL,
	  user_id           TEXT    NOT NULL,
	  ts_ms             INTEGER NOT NULL,
	  new_slide_id      TEXT    NOT NULL,
	  previous_slide_id TEXT    NOT NULL,
	  time_on_previous  REAL    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_slide_changes_session ON slide_changes(session_id, ts_ms);

	CREATE TABLE IF NOT EXISTS quiz_results(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL,
	  user_id     TEXT    NOT NULL,
	  ts_ms       INTEGER NOT NULL,
	  slide_id    TEXT    NOT NULL,
	  quiz_id     TEXT    NOT NULL,
	  score       REAL    NOT NULL,
	  passed      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_session ON quiz_results(session_id, ts_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertEvents stores a batch in one transaction; either all events are
// stored or none are.
func (s *Store) InsertEvents(ctx context.Context, events []event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(ts_ms, ts_iso, kind, user_id, session_id, properties) VALUES(?,?,?,?,?,json(?))`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		props, err := json.Marshal(e.Properties())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal %s properties: %w", e.Kind(), err)
		}
		ts := e.Timestamp()
		if _, err := stmt.ExecContext(ctx, ts.UnixMilli(), ts.Format(event.TimeLayout), string(e.Kind()), e.UserID(), e.SessionID(), string(props)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StartSession records a session start. Restarting a known session keeps its
// original start time.
func (s *Store) StartSession(ctx context.Context, req transport.SessionStart, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, user_id, started_ms) VALUES(?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET user_id = excluded.user_id`,
		req.SessionID, req.UserID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession marks a session ended. An unknown session is created on the fly
// so that an end without a recorded start is not lost.
func (s *Store) EndSession(ctx context.Context, req transport.SessionEnd, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, user_id, started_ms, ended_ms) VALUES(?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET ended_ms = excluded.ended_ms`,
		req.SessionID, req.UserID, at.UnixMilli(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *Store) InsertFocus(ctx context.Context, f transport.FocusSample, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO focus_samples(session_id, user_id, ts_ms, is_focused, focus_score) VALUES(?,?,?,?,?)`,
		f.SessionID, f.UserID, at.UnixMilli(), f.IsFocused, f.FocusScore)
	if err != nil {
		return fmt.Errorf("failed to store focus sample: %w", err)
	}
	return nil
}

func (s *Store) InsertSlideChange(ctx context.Context, sessionID string, sc transport.SlideChange, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slide_changes(session_id, user_id, ts_ms, new_slide_id, previous_slide_id, time_on_previous) VALUES(?,?,?,?,?,?)`,
		sessionID, sc.UserID, at.UnixMilli(), sc.NewSlideID, sc.PreviousSlideID, sc.TimeOnPrevious)
	if err != nil {
		return fmt.Errorf("failed to store slide change: %w", err)
	}
	return nil
}

func (s *Store) InsertQuizResult(ctx context.Context, sessionID string, qr transport.QuizResult, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_results(session_id, user_id, ts_ms, slide_id, quiz_id, score, passed) VALUES(?,?,?,?,?,?,?)`,
		sessionID, qr.UserID, at.UnixMilli(), qr.SlideID, qr.QuizID, qr.Score, qr.Passed)
	if err != nil {
		return fmt.Errorf("failed to store quiz result: %w", err)
	}
	return nil
}
