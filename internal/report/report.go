// Package report assembles a per-session learning report from the collector
// database and renders it for humans (Markdown) or tools (JSON).
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/ingest"
)

// Report is the complete, renderable record of one learning session.
type Report struct {
	Session      SessionMeta                `json:"session"`
	Counts       map[event.Kind]int         `json:"counts"`
	Events       []event.Event              `json:"events"`
	SlideChanges []ingest.SlideChangeRecord `json:"slide_changes"`
	Quizzes      []ingest.QuizRecord        `json:"quiz_results"`
	Focus        FocusSummary               `json:"focus"`
	Samples      []ingest.FocusRecord       `json:"focus_samples"`
}

// SessionMeta holds summary metadata about the session.
type SessionMeta struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Author    string     `json:"author,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  string     `json:"duration"` // e.g. "12m30s", "in progress"
}

// FocusSummary condenses the heartbeat samples.
type FocusSummary struct {
	Samples      int     `json:"samples"`
	FocusedRatio float64 `json:"focused_ratio"`
	MeanScore    float64 `json:"mean_score"`
}

// Source is the read side of the collector store.
type Source interface {
	Session(ctx context.Context, sessionID string) (ingest.SessionRecord, error)
	Events(ctx context.Context, sessionID string) ([]event.Event, error)
	FocusSamples(ctx context.Context, sessionID string) ([]ingest.FocusRecord, error)
	SlideChanges(ctx context.Context, sessionID string) ([]ingest.SlideChangeRecord, error)
	QuizResults(ctx context.Context, sessionID string) ([]ingest.QuizRecord, error)
}

// Build collects everything stored for sessionID into a Report.
func Build(ctx context.Context, src Source, sessionID string) (*Report, error) {
	sess, err := src.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	events, err := src.Events(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	samples, err := src.FocusSamples(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	changes, err := src.SlideChanges(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	quizzes, err := src.QuizResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Session: SessionMeta{
			ID:        sess.SessionID,
			UserID:    sess.UserID,
			StartTime: sess.StartedAt,
			EndTime:   sess.EndedAt,
			Duration:  "in progress",
		},
		Counts:       CountKinds(events),
		Events:       events,
		SlideChanges: changes,
		Quizzes:      quizzes,
		Focus:        SummarizeFocus(samples),
		Samples:      samples,
	}
	if sess.EndedAt != nil {
		r.Session.Duration = sess.EndedAt.Sub(sess.StartedAt).Round(time.Second).String()
	}
	return r, nil
}

// CountKinds tallies events per kind. Every known kind is present, zero or not.
func CountKinds(events []event.Event) map[event.Kind]int {
	counts := make(map[event.Kind]int, len(event.Kinds))
	for _, k := range event.Kinds {
		counts[k] = 0
	}
	for _, e := range events {
		counts[e.Kind()]++
	}
	return counts
}

func SummarizeFocus(samples []ingest.FocusRecord) FocusSummary {
	fs := FocusSummary{Samples: len(samples)}
	if len(samples) == 0 {
		return fs
	}
	var focused int
	var total float64
	for _, s := range samples {
		if s.IsFocused {
			focused++
		}
		total += s.FocusScore
	}
	fs.FocusedRatio = float64(focused) / float64(len(samples))
	fs.MeanScore = total / float64(len(samples))
	return fs
}

// OfKind returns the report's events of the given kinds, in capture order.
func (r *Report) OfKind(kinds ...event.Kind) []event.Event {
	var out []event.Event
	for _, e := range r.Events {
		for _, k := range kinds {
			if e.Kind() == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// SlideDwell is the total time spent per slide across all visits.
type SlideDwell struct {
	SlideID string
	Visits  int
	Seconds float64
}

// Dwell aggregates slide_viewed events per slide, longest first.
func (r *Report) Dwell() []SlideDwell {
	idx := map[string]int{}
	var out []SlideDwell
	for _, e := range r.OfKind(event.KindSlideViewed) {
		sv := e.Properties().(event.SlideViewed)
		i, ok := idx[sv.SlideID]
		if !ok {
			i = len(out)
			idx[sv.SlideID] = i
			out = append(out, SlideDwell{SlideID: sv.SlideID})
		}
		out[i].Visits++
		out[i].Seconds += sv.TimeSpentSeconds
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seconds > out[j].Seconds })
	return out
}
