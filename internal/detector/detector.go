// Package detector turns raw learner activity into behavioral events.
//
// Every detector is built from an Identity, which stamps events with the
// current user and session, and a Recorder, which queues them. Detectors keep
// their counters private and move through Attached, Observing and Detached
// exactly once; activity reported after Detached is ignored.
package detector

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/session"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// Identity is the view of session.Identity detectors need.
type Identity interface {
	Stamp() event.Stamp
	Snapshot() session.Snapshot
	EnterContentUnit(ctx context.Context, unitID string)
}

// Recorder accepts finished events. *dispatch.Dispatcher satisfies it.
type Recorder interface {
	Enqueue(e event.Event)
}

// QuizReporter posts graded answers out of band. *transport.Client satisfies it.
type QuizReporter interface {
	SubmitQuizResult(ctx context.Context, sessionID string, qr transport.QuizResult) error
}

// Phase is a detector's lifecycle position.
type Phase int

const (
	PhaseAttached Phase = iota
	PhaseObserving
	PhaseDetached
)

func (p Phase) String() string {
	switch p {
	case PhaseAttached:
		return "attached"
	case PhaseObserving:
		return "observing"
	case PhaseDetached:
		return "detached"
	}
	return "unknown"
}

// lifecycle tracks a Phase. Callers guard it with their own mutex.
type lifecycle struct {
	phase Phase
}

// observe moves to Observing and reports whether observations are accepted.
func (l *lifecycle) observe() bool {
	if l.phase == PhaseDetached {
		return false
	}
	l.phase = PhaseObserving
	return true
}

// detach moves to Detached and reports whether this call did so.
func (l *lifecycle) detach() bool {
	if l.phase == PhaseDetached {
		return false
	}
	l.phase = PhaseDetached
	return true
}

type options struct {
	clock  clockwork.Clock
	logger *zap.Logger
}

// Option configures a detector.
type Option func(*options)

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(name string, opts []Option) options {
	o := options{clock: clockwork.NewRealClock(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.Named("detector." + name)
	return o
}

// emitter stamps and queues events for one detector.
type emitter struct {
	identity Identity
	recorder Recorder
	options
}

func (e emitter) emit(props event.Properties) bool {
	ev, err := event.New(props, e.identity.Stamp(), e.clock.Now())
	if err != nil {
		e.logger.Warn("dropping invalid event", zap.Error(err))
		return false
	}
	e.recorder.Enqueue(ev)
	return true
}
