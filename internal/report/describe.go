package report

import (
	"fmt"
	"strings"

	"github.com/fakeyudi/learntrace/internal/event"
)

// Describe renders one event as a short line of text.
func Describe(e event.Event) string {
	switch p := e.Properties().(type) {
	case event.SlideViewed:
		s := fmt.Sprintf("%s (%s) %.1fs", p.SlideID, p.ContentType, p.TimeSpentSeconds)
		return s + flags(
			"scrolled back", p.ScrolledBack,
			"skipped forward", p.SkippedForward,
			"paused video", p.PausedVideo,
			"replayed animation", p.ReplayedAnimation,
			"zoomed", p.ZoomedIntoDiagram,
		)
	case event.Interaction:
		s := fmt.Sprintf("%s %s", p.InteractionType, p.ContentElement)
		if p.InteractionDuration != nil {
			s += fmt.Sprintf(" %.1fs", *p.InteractionDuration)
		}
		return s + flags("successful", p.SuccessfulInteraction, "repeated", p.RepeatedInteraction)
	case event.KnowledgeCheck:
		verdict := "wrong"
		if p.Correct {
			verdict = "correct"
		}
		s := fmt.Sprintf("%s %s in %.1fs", p.QuestionID, verdict, p.TimeToAnswerSeconds)
		if p.AttemptsBeforeCorrect != nil {
			s += fmt.Sprintf(", %d earlier attempt(s)", *p.AttemptsBeforeCorrect)
		}
		if p.ConfidenceLevel != nil {
			s += ", " + string(*p.ConfidenceLevel)
		}
		return s + flags("consulted notes", p.ConsultedNotes, "went back", p.WentBackToPreviousSlide)
	case event.Pacing:
		s := fmt.Sprintf("%.2f slides/min", p.SlidesPerMinute)
		if p.PausesTaken != nil {
			s += fmt.Sprintf(", %d pause(s)", *p.PausesTaken)
		}
		if len(p.SkippedSlides) > 0 {
			s += ", skipped " + strings.Join(p.SkippedSlides, " ")
		}
		return s + flags("asked to slow down", p.RequestedSlowDown, "asked to skip ahead", p.RequestedSkipAhead)
	case event.Confusion:
		s := fmt.Sprintf("%s on %s", p.ConfusionIndicator, p.SlideWhenConfused)
		if p.TimeSpentConfused != nil {
			s += fmt.Sprintf(" after %.0fs", *p.TimeSpentConfused)
		}
		return s + flags("self reported", p.SelfReportedConfusion)
	case event.ContextSwitch:
		s := fmt.Sprintf("away %.2f min", p.TimeAway)
		if p.SwitchTrigger != nil {
			s += ", " + string(*p.SwitchTrigger)
		}
		if !p.Returned {
			s += ", not returned"
		}
		return s + flags("brought back information", p.BroughtBackInformation)
	}
	return string(e.Kind())
}

// flags takes label, *bool pairs and lists the labels that are set.
func flags(pairs ...any) string {
	var set []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if b, ok := pairs[i+1].(*bool); ok && b != nil && *b {
			set = append(set, pairs[i].(string))
		}
	}
	if len(set) == 0 {
		return ""
	}
	return " [" + strings.Join(set, ", ") + "]"
}
