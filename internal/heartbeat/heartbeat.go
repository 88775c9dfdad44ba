// Package heartbeat periodically reports the learner's focus score for the
// active session.
package heartbeat

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/session"
	"github.com/fakeyudi/learntrace/internal/transport"
)

const DefaultInterval = 10 * time.Second

// Sink receives focus samples. *transport.Client satisfies it.
type Sink interface {
	TrackFocus(ctx context.Context, s transport.FocusSample) error
}

// Identity reports whether a session is open and under which ids.
type Identity interface {
	Snapshot() session.Snapshot
}

// Scorer produces the current focus reading.
type Scorer interface {
	Score() (focused bool, score float64)
}

// Options configures a Reporter. Zero values select defaults.
type Options struct {
	Interval   time.Duration
	Scorer     Scorer
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Reporter posts a focus sample every interval while the session is active.
// Failed posts are not retried and never surface to the caller.
type Reporter struct {
	identity Identity
	sink     Sink
	interval time.Duration
	scorer   Scorer
	clock    clockwork.Clock
	logger   *zap.Logger
	beats    *prometheus.CounterVec

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func New(id Identity, sink Sink, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Scorer == nil {
		opts.Scorer = NewSimulatedScorer(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reporter{
		identity: id,
		sink:     sink,
		interval: opts.Interval,
		scorer:   opts.Scorer,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("heartbeat"),
		beats: promauto.With(opts.Registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "heartbeat",
			Name:      "beats_total",
			Help:      "Focus samples posted by result.",
		}, []string{"result"}),
	}
}

// Start begins reporting. It returns at once; a running reporter ignores
// further calls until it has stopped.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running() {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stop, r.done)
}

// running reports whether the loop goroutine is alive. Caller holds r.mu.
func (r *Reporter) running() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Stop ends reporting and waits for the loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	if stop != nil && r.running() {
		close(stop)
	}
	r.stop = nil
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Reporter) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !r.beat(ctx) {
				r.logger.Debug("session inactive, heartbeat stopped")
				return
			}
		}
	}
}

// beat posts one sample and reports whether the session is still active.
func (r *Reporter) beat(ctx context.Context) bool {
	snap := r.identity.Snapshot()
	if !snap.Active || snap.SessionID == "" {
		return false
	}
	focused, score := r.scorer.Score()
	err := r.sink.TrackFocus(ctx, transport.FocusSample{
		UserID:     snap.UserID,
		SessionID:  snap.SessionID,
		IsFocused:  focused,
		FocusScore: score,
	})
	if err != nil {
		r.beats.WithLabelValues("failed").Inc()
		r.logger.Debug("focus sample dropped", zap.Error(err))
		return true
	}
	r.beats.WithLabelValues("sent").Inc()
	return true
}

// SimulatedScorer produces a bounded random walk of focus scores in [0, 1].
// It stands in for a camera-based focus model.
type SimulatedScorer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	score float64
}

// FocusedAbove is the score at which a learner counts as focused.
const FocusedAbove = 0.5

// NewSimulatedScorer returns a scorer starting at 0.8. A nil rng uses a
// randomly seeded source.
func NewSimulatedScorer(rng *rand.Rand) *SimulatedScorer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimulatedScorer{rng: rng, score: 0.8}
}

func (s *SimulatedScorer) Score() (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score += (s.rng.Float64() - 0.5) * 0.2
	s.score = min(max(s.score, 0), 1)
	return s.score >= FocusedAbove, s.score
}
