package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fakeyudi/learntrace/internal/event"
)

const (
	versionSentinel = "<!-- learntrace-report-version: 1 -->"
	dataPrefix      = "<!-- learntrace-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// RendererFor returns the renderer for a format name ("markdown" or "json")
// and the file extension it produces.
func RendererFor(format string) (Renderer, string, error) {
	switch format {
	case "markdown", "md", "":
		return &MarkdownRenderer{}, ".md", nil
	case "json":
		return &JSONRenderer{}, ".json", nil
	}
	return nil, "", fmt.Errorf("unknown report format %q (want markdown or json)", format)
}

// JSONRenderer renders a Report as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) Render(r *Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// MarkdownRenderer renders a Report as Markdown with an embedded base64 JSON
// payload so the file parses back without loss.
type MarkdownRenderer struct{}

func (MarkdownRenderer) Render(r *Report) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(raw), dataSuffix)
	writeBody(&sb, r)
	return []byte(sb.String()), nil
}

// Text renders the human-readable part of the Markdown form, without the
// embedded payload.
func Text(r *Report) string {
	var sb strings.Builder
	writeBody(&sb, r)
	return sb.String()
}

func writeBody(sb *strings.Builder, r *Report) {
	s := r.Session
	fmt.Fprintf(sb, "# Learning session %s\n\n", s.ID)

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(sb, "- Learner: %s\n", s.UserID)
	if s.Author != "" {
		fmt.Fprintf(sb, "- Author: %s\n", s.Author)
	}
	fmt.Fprintf(sb, "- Started: %s\n", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	if s.EndTime != nil {
		fmt.Fprintf(sb, "- Ended: %s\n", s.EndTime.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(sb, "- Duration: %s\n", s.Duration)
	fmt.Fprintf(sb, "- Events: %d\n\n", len(r.Events))

	sb.WriteString("| Event | Count |\n|-------|-------|\n")
	for _, k := range event.Kinds {
		fmt.Fprintf(sb, "| %s | %d |\n", k, r.Counts[k])
	}
	sb.WriteString("\n")

	sb.WriteString("## Slides\n\n")
	if dwell := r.Dwell(); len(dwell) == 0 {
		sb.WriteString("_No slides viewed._\n")
	} else {
		sb.WriteString("| Slide | Visits | Seconds |\n|-------|--------|---------|\n")
		for _, d := range dwell {
			fmt.Fprintf(sb, "| %s | %d | %.1f |\n", d.SlideID, d.Visits, d.Seconds)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Quizzes\n\n")
	checks := r.OfKind(event.KindKnowledgeCheck)
	if len(checks) == 0 && len(r.Quizzes) == 0 {
		sb.WriteString("_No knowledge checks._\n")
	}
	for _, e := range checks {
		fmt.Fprintf(sb, "- [%s] %s\n", e.Timestamp().Format("15:04:05"), Describe(e))
	}
	for _, q := range r.Quizzes {
		fmt.Fprintf(sb, "- [%s] result %s on %s: score %.0f, passed %t\n",
			q.At.Format("15:04:05"), q.QuizID, q.SlideID, q.Score, q.Passed)
	}
	sb.WriteString("\n")

	sb.WriteString("## Signals\n\n")
	writeEvents(sb, r.OfKind(event.KindConfusion, event.KindContextSwitch, event.KindPacing), "_No confusion, context switch or pacing signals._")
	sb.WriteString("\n")

	sb.WriteString("## Focus\n\n")
	if r.Focus.Samples == 0 {
		sb.WriteString("_No focus samples._\n")
	} else {
		fmt.Fprintf(sb, "- Samples: %d\n", r.Focus.Samples)
		fmt.Fprintf(sb, "- Focused: %.0f%%\n", r.Focus.FocusedRatio*100)
		fmt.Fprintf(sb, "- Mean score: %.2f\n", r.Focus.MeanScore)
	}
	sb.WriteString("\n")

	sb.WriteString("## Timeline\n\n")
	writeEvents(sb, r.Events, "_No events recorded._")
	sb.WriteString("\n")
}

func writeEvents(sb *strings.Builder, events []event.Event, empty string) {
	if len(events) == 0 {
		sb.WriteString(empty + "\n")
		return
	}
	for _, e := range events {
		fmt.Fprintf(sb, "- [%s] %s: %s\n", e.Timestamp().Format("15:04:05"), e.Kind(), Describe(e))
	}
}
