package detector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
)

// SkipThreshold is the dwell time below which a slide counts as skipped.
const SkipThreshold = 5 * time.Second

// Direction of a navigation within a slide.
type Direction string

const (
	Back    Direction = "back"
	Forward Direction = "forward"
)

// SlideTracker measures dwell time and engagement flags on one slide and
// emits a single slide_viewed when the slide is left.
type SlideTracker struct {
	emitter
	slideID     string
	contentType event.ContentType

	mu    sync.Mutex
	life  lifecycle
	start time.Time
	flags slideFlags
}

type slideFlags struct {
	scrolledBack      bool
	pausedVideo       bool
	replayedAnimation bool
	zoomedIntoDiagram bool
}

// NewSlideTracker returns a tracker for slideID. Call Attach when the slide
// comes into view.
func NewSlideTracker(id Identity, rec Recorder, slideID string, ct event.ContentType, opts ...Option) *SlideTracker {
	o := buildOptions("slide", opts)
	return &SlideTracker{
		emitter:     emitter{identity: id, recorder: rec, options: o},
		slideID:     slideID,
		contentType: ct,
		start:       o.clock.Now(),
	}
}

// Attach starts the dwell clock, clears the flags and reports the unit
// transition to the session.
func (s *SlideTracker) Attach(ctx context.Context) {
	s.mu.Lock()
	if s.life.phase == PhaseDetached {
		s.mu.Unlock()
		return
	}
	s.start = s.clock.Now()
	s.flags = slideFlags{}
	s.life.phase = PhaseAttached
	s.mu.Unlock()

	s.identity.EnterContentUnit(ctx, s.slideID)
	s.logger.Debug("slide attached", zap.String("slide_id", s.slideID))
}

func (s *SlideTracker) LogVideoPause() {
	s.set(func(f *slideFlags) { f.pausedVideo = true })
}

func (s *SlideTracker) LogAnimationReplay() {
	s.set(func(f *slideFlags) { f.replayedAnimation = true })
}

func (s *SlideTracker) LogDiagramZoom() {
	s.set(func(f *slideFlags) { f.zoomedIntoDiagram = true })
}

// LogNavigation records a navigation. Only Back sets a flag; forward skips are
// derived from dwell time.
func (s *SlideTracker) LogNavigation(dir Direction) {
	s.set(func(f *slideFlags) {
		if dir == Back {
			f.scrolledBack = true
		}
	})
}

func (s *SlideTracker) set(fn func(*slideFlags)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life.observe() {
		fn(&s.flags)
	}
}

// Detach emits slide_viewed and returns the time spent on the slide. Only
// the first call emits and reports true.
func (s *SlideTracker) Detach() (time.Duration, bool) {
	s.mu.Lock()
	if !s.life.detach() {
		s.mu.Unlock()
		return 0, false
	}
	spent := s.clock.Since(s.start)
	f := s.flags
	s.mu.Unlock()

	s.emit(event.SlideViewed{
		SlideID:           s.slideID,
		ContentType:       s.contentType,
		TimeSpentSeconds:  spent.Seconds(),
		ScrolledBack:      event.Bool(f.scrolledBack),
		SkippedForward:    event.Bool(spent < SkipThreshold),
		PausedVideo:       event.Bool(f.pausedVideo),
		ReplayedAnimation: event.Bool(f.replayedAnimation),
		ZoomedIntoDiagram: event.Bool(f.zoomedIntoDiagram),
	})
	return spent, true
}

func (s *SlideTracker) SlideID() string { return s.slideID }

func (s *SlideTracker) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.phase
}
