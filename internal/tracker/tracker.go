// Package tracker wires the event pipeline for one mounted learning view:
// session identity, dispatcher, focus heartbeat and the detectors.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/detector"
	"github.com/fakeyudi/learntrace/internal/dispatch"
	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/heartbeat"
	"github.com/fakeyudi/learntrace/internal/session"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// Config assembles a Tracker. Zero values select the defaults.
type Config struct {
	APIURL            string
	BatchSize         int
	FlushInterval     time.Duration
	HeartbeatInterval time.Duration
	Timeouts          transport.Timeouts
	// DynamicContent is passed through to the host; the pipeline only reports it.
	DynamicContent bool

	Source     session.Source
	Scorer     heartbeat.Scorer
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

type closer interface{ Close() }

// phased detectors can be released once they report PhaseDetached.
type phased interface{ Phase() detector.Phase }

// Tracker is the root scope of the pipeline.
type Tracker struct {
	cfg        Config
	client     *transport.Client
	identity   *session.Identity
	dispatcher *dispatch.Dispatcher
	heartbeat  *heartbeat.Reporter
	confusion  *detector.ConfusionDetector
	switches   *detector.ContextSwitchDetector
	pacing     *detector.PacingTracker
	clock      clockwork.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	mounted bool
	slide   *detector.SlideTracker
	closers []closer

	bg sync.WaitGroup
}

// New builds a Tracker talking to cfg.APIURL. Nothing runs until Mount.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := transport.New(cfg.APIURL,
		transport.WithTimeouts(cfg.Timeouts),
		transport.WithLogger(cfg.Logger),
		transport.WithRegisterer(cfg.Registerer),
	)
	return NewWithClient(client, cfg)
}

// NewWithClient builds a Tracker on an existing client.
func NewWithClient(client *transport.Client, cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	identity := session.New(client,
		session.WithSource(cfg.Source),
		session.WithClock(cfg.Clock),
		session.WithLogger(cfg.Logger),
		session.WithLookupTimeout(client.Timeouts().Lookup),
	)
	t := &Tracker{
		cfg:      cfg,
		client:   client,
		identity: identity,
		dispatcher: dispatch.New(client, dispatch.Options{
			Threshold:  cfg.BatchSize,
			Interval:   cfg.FlushInterval,
			Clock:      cfg.Clock,
			Logger:     cfg.Logger,
			Registerer: cfg.Registerer,
		}),
		heartbeat: heartbeat.New(identity, client, heartbeat.Options{
			Interval:   cfg.HeartbeatInterval,
			Scorer:     cfg.Scorer,
			Clock:      cfg.Clock,
			Logger:     cfg.Logger,
			Registerer: cfg.Registerer,
		}),
		clock:  cfg.Clock,
		logger: cfg.Logger.Named("tracker"),
	}
	opts := t.detectorOptions()
	t.confusion = detector.NewConfusionDetector(identity, t.dispatcher, opts...)
	t.switches = detector.NewContextSwitchDetector(identity, t.dispatcher, opts...)
	t.pacing = detector.NewPacingTracker(identity, t.dispatcher, opts...)
	t.closers = []closer{t.confusion, t.switches, t.pacing}
	return t
}

func (t *Tracker) detectorOptions() []detector.Option {
	return []detector.Option{detector.WithClock(t.clock), detector.WithLogger(t.cfg.Logger)}
}

// Mount starts the session, the scheduled flush and the heartbeat. User
// resolution runs in the background; events recorded before it finishes
// carry the placeholder user.
func (t *Tracker) Mount(ctx context.Context) {
	t.mu.Lock()
	if t.mounted {
		t.mu.Unlock()
		return
	}
	t.mounted = true
	t.mu.Unlock()

	t.dispatcher.Open(ctx)
	t.bg.Add(1)
	go func() {
		defer t.bg.Done()
		t.identity.ResolveUser(ctx)
	}()
	t.identity.Start(ctx)
	t.heartbeat.Start(ctx)
	t.logger.Info("tracker mounted",
		zap.String("api_url", t.client.BaseURL()),
		zap.Bool("dynamic_content", t.cfg.DynamicContent))
}

// ShowSlide leaves the current slide, if any, and attaches a tracker to the
// new one. The move also counts as a navigation for confusion detection.
func (t *Tracker) ShowSlide(ctx context.Context, slideID string, ct event.ContentType) *detector.SlideTracker {
	next := detector.NewSlideTracker(t.identity, t.dispatcher, slideID, ct, t.detectorOptions()...)

	t.mu.Lock()
	prev := t.slide
	t.slide = next
	t.mu.Unlock()

	t.leave(prev)
	next.Attach(ctx)
	t.confusion.LogNavigation(slideID)
	return next
}

// CurrentSlide returns the attached slide tracker, or nil.
func (t *Tracker) CurrentSlide() *detector.SlideTracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slide
}

func (t *Tracker) leave(s *detector.SlideTracker) {
	if s == nil {
		return
	}
	if spent, ok := s.Detach(); ok {
		t.pacing.LogSlideView(s.SlideID(), spent)
	}
}

// Interaction returns a timer for it on element, closed on Unmount. Closing
// it earlier releases it.
func (t *Tracker) Interaction(it event.InteractionType, element event.ContentElement) *detector.InteractionTimer {
	timer := detector.NewInteractionTimer(t.identity, t.dispatcher, it, element, t.detectorOptions()...)
	t.track(timer)
	return timer
}

// Quiz returns a tracker for questionID, closed on Unmount. Closing it
// earlier releases it.
func (t *Tracker) Quiz(questionID, previousFormat string) *detector.QuizTracker {
	q := detector.NewQuizTracker(t.identity, t.dispatcher, t.client, questionID, previousFormat, t.detectorOptions()...)
	t.track(q)
	return q
}

func (t *Tracker) track(c closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.closers[:0]
	for _, held := range t.closers {
		if p, ok := held.(phased); ok && p.Phase() == detector.PhaseDetached {
			continue
		}
		live = append(live, held)
	}
	clear(t.closers[len(live):])
	t.closers = append(live, c)
}

// Tracked reports how many detectors the tracker still holds for Unmount.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.closers)
}

func (t *Tracker) Confusion() *detector.ConfusionDetector { return t.confusion }
func (t *Tracker) ContextSwitch() *detector.ContextSwitchDetector { return t.switches }
func (t *Tracker) Pacing() *detector.PacingTracker { return t.pacing }
func (t *Tracker) Identity() *session.Identity { return t.identity }

// Flush delivers queued events now.
func (t *Tracker) Flush(ctx context.Context) { t.dispatcher.Flush(ctx) }

// Pending reports the number of queued events.
func (t *Tracker) Pending() int { return t.dispatcher.Len() }

// PageHide handles the page going away: the queue goes out on the beacon
// path and the session is ended. Both survive cancellation of ctx.
func (t *Tracker) PageHide(ctx context.Context) {
	t.dispatcher.Unload(ctx)
	t.identity.End(ctx)
}

// Unmount tears the scope down: the current slide is left, detectors close,
// the queue is flushed and the session ends. It waits for background work.
func (t *Tracker) Unmount(ctx context.Context) {
	t.mu.Lock()
	if !t.mounted {
		t.mu.Unlock()
		return
	}
	t.mounted = false
	slide := t.slide
	t.slide = nil
	closers := t.closers
	t.mu.Unlock()

	t.heartbeat.Stop()
	t.leave(slide)
	for _, c := range closers {
		c.Close()
	}
	t.bg.Wait()
	t.dispatcher.Close(ctx)
	t.identity.End(ctx)
	t.identity.SetLastContentUnit(nil)
	t.identity.Wait()
	t.client.WaitBeacons()
	t.logger.Info("tracker unmounted")
}
