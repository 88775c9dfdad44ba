package detector

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
)

// SettleDelay is how long after returning a paste still counts as bringing
// information back.
const SettleDelay = 2 * time.Second

// ContextSwitchDetector follows visibility changes of the course view.
type ContextSwitchDetector struct {
	emitter
	trigger event.SwitchTrigger

	mu       sync.Mutex
	life     lifecycle
	hiddenAt time.Time
	pasted   bool
	settle   clockwork.Timer
	gen      int
	away     time.Duration
}

func NewContextSwitchDetector(id Identity, rec Recorder, opts ...Option) *ContextSwitchDetector {
	return &ContextSwitchDetector{
		emitter: emitter{identity: id, recorder: rec, options: buildOptions("contextswitch", opts)},
		trigger: event.TriggerRandom,
	}
}

// Hidden records the learner leaving. A return still settling is completed
// first.
func (c *ContextSwitchDetector) Hidden() {
	c.mu.Lock()
	if !c.life.observe() {
		c.mu.Unlock()
		return
	}
	pending, ok := c.takeSettleLocked()
	c.hiddenAt = c.clock.Now()
	c.pasted = false
	c.mu.Unlock()

	if ok {
		c.emitSwitch(pending)
	}
}

// Visible records the learner returning. The event is emitted once the
// settle delay has passed so that a paste right after returning is counted.
func (c *ContextSwitchDetector) Visible() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.life.observe() || c.hiddenAt.IsZero() {
		return
	}
	c.away = c.clock.Since(c.hiddenAt)
	c.hiddenAt = time.Time{}
	c.gen++
	gen := c.gen
	c.settle = c.clock.AfterFunc(SettleDelay, func() { c.fire(gen) })
}

// Paste marks that content was pasted into the course.
func (c *ContextSwitchDetector) Paste() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.life.observe() {
		c.pasted = true
	}
}

type pendingSwitch struct {
	away   time.Duration
	pasted bool
}

// takeSettleLocked stops a pending settle and returns what it would have
// emitted. The paste flag is consumed.
func (c *ContextSwitchDetector) takeSettleLocked() (pendingSwitch, bool) {
	if c.settle == nil {
		return pendingSwitch{}, false
	}
	c.settle.Stop()
	c.settle = nil
	p := pendingSwitch{away: c.away, pasted: c.pasted}
	c.pasted = false
	return p, true
}

func (c *ContextSwitchDetector) fire(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	pending, ok := c.takeSettleLocked()
	c.mu.Unlock()
	if ok {
		c.emitSwitch(pending)
	}
}

func (c *ContextSwitchDetector) emitSwitch(p pendingSwitch) {
	trigger := c.trigger
	c.logger.Debug("context switch", zap.Duration("away", p.away), zap.Bool("pasted", p.pasted))
	c.emit(event.ContextSwitch{
		SwitchedFrom:           event.SwitchedFromCourseSlides,
		SwitchTrigger:          &trigger,
		TimeAway:               p.away.Minutes(),
		Returned:               true,
		BroughtBackInformation: event.Bool(p.pasted),
	})
}

// Close stops the settle timer, emitting a return that was still settling.
func (c *ContextSwitchDetector) Close() {
	c.mu.Lock()
	if !c.life.detach() {
		c.mu.Unlock()
		return
	}
	pending, ok := c.takeSettleLocked()
	c.mu.Unlock()
	if ok {
		c.emitSwitch(pending)
	}
}
