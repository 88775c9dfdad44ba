package detector

import (
	"sync"
	"time"

	"github.com/fakeyudi/learntrace/internal/event"
)

// PacingSummaryEvery is how many slide views pass between pacing summaries.
const PacingSummaryEvery = 5

// PaceRequest is an explicit request to change speed.
type PaceRequest string

const (
	SlowDown  PaceRequest = "slow_down"
	SkipAhead PaceRequest = "skip_ahead"
)

// PacingTracker summarizes the learner's speed through the course.
type PacingTracker struct {
	emitter

	mu      sync.Mutex
	life    lifecycle
	start   time.Time
	viewed  int
	skipped []string
	pauses  []time.Duration
}

func NewPacingTracker(id Identity, rec Recorder, opts ...Option) *PacingTracker {
	o := buildOptions("pacing", opts)
	return &PacingTracker{
		emitter: emitter{identity: id, recorder: rec, options: o},
		start:   o.clock.Now(),
	}
}

// LogSlideView counts a finished slide. Every PacingSummaryEvery views a
// pacing_behavior summary is emitted.
func (p *PacingTracker) LogSlideView(slideID string, spent time.Duration) {
	p.mu.Lock()
	if !p.life.observe() {
		p.mu.Unlock()
		return
	}
	p.viewed++
	if spent < SkipThreshold {
		p.skipped = append(p.skipped, slideID)
	}
	if p.viewed%PacingSummaryEvery != 0 {
		p.mu.Unlock()
		return
	}
	props := event.Pacing{
		SlidesPerMinute:  p.rateLocked(),
		PausesTaken:      event.Int(len(p.pauses)),
		PauseDurationAvg: event.Float(p.avgPauseLocked()),
		SkippedSlides:    append([]string(nil), p.skipped...),
	}
	p.mu.Unlock()

	p.emit(props)
}

// LogPause records a pause of length d.
func (p *PacingTracker) LogPause(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.life.observe() {
		p.pauses = append(p.pauses, d)
	}
}

// RequestPace emits a pacing_behavior carrying the request immediately.
func (p *PacingTracker) RequestPace(r PaceRequest) {
	p.mu.Lock()
	if !p.life.observe() {
		p.mu.Unlock()
		return
	}
	rate := p.rateLocked()
	p.mu.Unlock()

	p.emit(event.Pacing{
		SlidesPerMinute:    rate,
		RequestedSlowDown:  event.Bool(r == SlowDown),
		RequestedSkipAhead: event.Bool(r == SkipAhead),
	})
}

func (p *PacingTracker) rateLocked() float64 {
	minutes := p.clock.Since(p.start).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(p.viewed) / minutes
}

func (p *PacingTracker) avgPauseLocked() float64 {
	if len(p.pauses) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range p.pauses {
		total += d
	}
	return (total / time.Duration(len(p.pauses))).Seconds()
}

func (p *PacingTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.life.detach()
}
