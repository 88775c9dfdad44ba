package detector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
)

const (
	ConfusionWindow   = 30 * time.Second
	ConfusionCooldown = 60 * time.Second
	// RapidNavigations is the count a window must exceed to signal confusion.
	RapidNavigations = 5
)

// ConfusionDetector watches navigation rate and relays explicit confusion
// signals.
type ConfusionDetector struct {
	emitter

	mu              sync.Mutex
	life            lifecycle
	navigations     []time.Time
	suppressedUntil time.Time
}

func NewConfusionDetector(id Identity, rec Recorder, opts ...Option) *ConfusionDetector {
	return &ConfusionDetector{
		emitter: emitter{identity: id, recorder: rec, options: buildOptions("confusion", opts)},
	}
}

// LogNavigation records a move to unitID. More than RapidNavigations moves
// inside ConfusionWindow emit rapid_slide_switching, after which detection is
// suppressed for ConfusionCooldown.
func (c *ConfusionDetector) LogNavigation(unitID string) {
	now := c.clock.Now()

	c.mu.Lock()
	if !c.life.observe() {
		c.mu.Unlock()
		return
	}
	c.navigations = append(c.navigations, now)
	recent := c.navigations[:0]
	for _, at := range c.navigations {
		if now.Sub(at) < ConfusionWindow {
			recent = append(recent, at)
		}
	}
	c.navigations = recent
	fire := len(recent) > RapidNavigations && !now.Before(c.suppressedUntil)
	if fire {
		c.suppressedUntil = now.Add(ConfusionCooldown)
	}
	c.mu.Unlock()

	if !fire {
		return
	}
	c.logger.Info("rapid slide switching", zap.String("slide_id", unitID), zap.Int("navigations", len(recent)))
	c.emit(event.Confusion{
		ConfusionIndicator:    event.IndicatorRapidSwitching,
		SlideWhenConfused:     unitID,
		TimeSpentConfused:     event.Float(0),
		SelfReportedConfusion: event.Bool(false),
	})
}

// LogSignal relays an observed confusion indicator. Rapid switching is
// derived from navigation only and is ignored here.
func (c *ConfusionDetector) LogSignal(indicator event.ConfusionIndicator, unitID string) {
	if indicator == event.IndicatorRapidSwitching {
		c.logger.Debug("ignoring rapid switching signal", zap.String("slide_id", unitID))
		return
	}
	if !c.accepting() {
		return
	}
	c.emit(event.Confusion{
		ConfusionIndicator:    indicator,
		SlideWhenConfused:     unitID,
		SelfReportedConfusion: event.Bool(false),
	})
}

// ReportConfusion records a learner saying they are confused. It is never
// rate limited.
func (c *ConfusionDetector) ReportConfusion(unitID string) {
	if !c.accepting() {
		return
	}
	c.emit(event.Confusion{
		ConfusionIndicator:    event.IndicatorAskedQuestion,
		SlideWhenConfused:     unitID,
		SelfReportedConfusion: event.Bool(true),
	})
}

func (c *ConfusionDetector) accepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.life.observe()
}

func (c *ConfusionDetector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.life.detach()
	c.navigations = nil
}
