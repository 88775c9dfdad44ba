package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fakeyudi/learntrace/internal/event"
)

// SessionRecord is a stored session.
type SessionRecord struct {
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type FocusRecord struct {
	At         time.Time `json:"at"`
	IsFocused  bool      `json:"is_focused"`
	FocusScore float64   `json:"focus_score"`
}

type SlideChangeRecord struct {
	At              time.Time `json:"at"`
	NewSlideID      string    `json:"new_slide_id"`
	PreviousSlideID string    `json:"previous_slide_id,omitempty"`
	TimeOnPrevious  float64   `json:"time_on_previous"`
}

type QuizRecord struct {
	At      time.Time `json:"at"`
	SlideID string    `json:"slide_id"`
	QuizID  string    `json:"quiz_id"`
	Score   float64   `json:"score"`
	Passed  bool      `json:"passed"`
}

// Totals summarizes the whole store.
type Totals struct {
	Sessions  int                `json:"sessions"`
	Events    int                `json:"events"`
	ByKind    map[event.Kind]int `json:"by_kind"`
	LastEvent *time.Time         `json:"last_event,omitempty"`
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Session returns the stored session, or ErrUnknownSession.
func (s *Store) Session(ctx context.Context, sessionID string) (SessionRecord, error) {
	var (
		rec     SessionRecord
		started int64
		ended   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, started_ms, ended_ms FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&rec.SessionID, &rec.UserID, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	rec.StartedAt = fromMillis(started)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		rec.EndedAt = &t
	}
	return rec, nil
}

// Sessions lists sessions, most recent first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, started_ms, ended_ms FROM sessions ORDER BY started_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec     SessionRecord
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.StartedAt = fromMillis(started)
		if ended.Valid {
			t := fromMillis(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns a session's events in capture order, decoded and validated.
func (s *Store) Events(ctx context.Context, sessionID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, ts_iso, user_id, session_id, properties FROM events WHERE session_id = ? ORDER BY ts_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var kind, ts, user, sess, props string
		if err := rows.Scan(&kind, &ts, &user, &sess, &props); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		raw, err := json.Marshal(map[string]any{
			"event":      kind,
			"timestamp":  ts,
			"user_id":    user,
			"session_id": sess,
			"properties": json.RawMessage(props),
		})
		if err != nil {
			return nil, err
		}
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("stored event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) FocusSamples(ctx context.Context, sessionID string) ([]FocusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, is_focused, focus_score FROM focus_samples WHERE session_id = ? ORDER BY ts_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query focus samples: %w", err)
	}
	defer rows.Close()

	var out []FocusRecord
	for rows.Next() {
		var (
			r  FocusRecord
			ms int64
		)
		if err := rows.Scan(&ms, &r.IsFocused, &r.FocusScore); err != nil {
			return nil, fmt.Errorf("failed to scan focus sample: %w", err)
		}
		r.At = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SlideChanges(ctx context.Context, sessionID string) ([]SlideChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, new_slide_id, previous_slide_id, time_on_previous FROM slide_changes WHERE session_id = ? ORDER BY ts_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slide changes: %w", err)
	}
	defer rows.Close()

	var out []SlideChangeRecord
	for rows.Next() {
		var (
			r  SlideChangeRecord
			ms int64
		)
		if err := rows.Scan(&ms, &r.NewSlideID, &r.PreviousSlideID, &r.TimeOnPrevious); err != nil {
			return nil, fmt.Errorf("failed to scan slide change: %w", err)
		}
		r.At = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QuizResults(ctx context.Context, sessionID string) ([]QuizRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, slide_id, quiz_id, score, passed FROM quiz_results WHERE session_id = ? ORDER BY ts_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz results: %w", err)
	}
	defer rows.Close()

	var out []QuizRecord
	for rows.Next() {
		var (
			r  QuizRecord
			ms int64
		)
		if err := rows.Scan(&ms, &r.SlideID, &r.QuizID, &r.Score, &r.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan quiz result: %w", err)
		}
		r.At = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals counts sessions and events across the store.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	t := Totals{ByKind: map[event.Kind]int{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&t.Sessions); err != nil {
		return Totals{}, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return Totals{}, fmt.Errorf("failed to scan count: %w", err)
		}
		t.ByKind[event.Kind(kind)] = n
		t.Events += n
	}
	if err := rows.Err(); err != nil {
		return Totals{}, err
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ts_ms) FROM events`).Scan(&last); err != nil {
		return Totals{}, fmt.Errorf("failed to read last event: %w", err)
	}
	if last.Valid {
		lt := fromMillis(last.Int64)
		t.LastEvent = &lt
	}
	return t, nil
}
