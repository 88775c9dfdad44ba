package detector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
)

// DefaultAbandonAfter bounds how long an interaction may stay open. An End
// arriving later is treated as a new interaction that was never started.
const DefaultAbandonAfter = 2 * time.Minute

// InteractionTimer times interactions with one content element.
type InteractionTimer struct {
	emitter
	interactionType event.InteractionType
	element         event.ContentElement
	abandonAfter    time.Duration

	mu      sync.Mutex
	life    lifecycle
	started time.Time
	open    bool
	count   int
}

// NewInteractionTimer returns a timer for one kind of interaction on element.
func NewInteractionTimer(id Identity, rec Recorder, it event.InteractionType, element event.ContentElement, opts ...Option) *InteractionTimer {
	return &InteractionTimer{
		emitter:         emitter{identity: id, recorder: rec, options: buildOptions("interaction", opts)},
		interactionType: it,
		element:         element,
		abandonAfter:    DefaultAbandonAfter,
	}
}

// SetAbandonAfter changes the abandon timeout. Zero disables it.
func (t *InteractionTimer) SetAbandonAfter(d time.Duration) {
	t.mu.Lock()
	t.abandonAfter = d
	t.mu.Unlock()
}

// Start opens an interaction. A second Start restarts the clock.
func (t *InteractionTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.life.observe() {
		return
	}
	t.started = t.clock.Now()
	t.open = true
}

// End closes the open interaction and emits interaction_with_content. Without
// a matching Start, or after the abandon timeout, nothing is emitted.
func (t *InteractionTimer) End(successful bool) {
	t.mu.Lock()
	if !t.open || t.life.phase == PhaseDetached {
		t.mu.Unlock()
		return
	}
	t.open = false
	d := t.clock.Since(t.started)
	if t.abandonAfter > 0 && d > t.abandonAfter {
		t.mu.Unlock()
		t.logger.Debug("interaction abandoned", zap.Duration("open_for", d))
		return
	}
	t.count++
	repeated := t.count > 1
	t.mu.Unlock()

	t.emit(event.Interaction{
		InteractionType:       t.interactionType,
		ContentElement:        t.element,
		InteractionDuration:   event.Float(d.Seconds()),
		RepeatedInteraction:   event.Bool(repeated),
		SuccessfulInteraction: event.Bool(successful),
	})
}

func (t *InteractionTimer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.life.phase
}

// Close detaches the timer. An open interaction is discarded.
func (t *InteractionTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.life.detach()
	t.open = false
}
