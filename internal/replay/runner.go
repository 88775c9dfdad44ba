package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/detector"
	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/tracker"
)

// tick is the largest single advance of the fake clock, so periodic work
// sees every period of a long wait.
const tick = time.Second

// Result summarizes a finished run.
type Result struct {
	Script    string
	SessionID string
	UserID    string
	Steps     int
	Elapsed   time.Duration
	Enqueued  int
	Delivered int // batches acknowledged by the collector
	Failed    int // batches that failed or were dropped
	Dropped   int // events lost with failed batches
	Beacons   int
}

// Runner plays scripts against a collector.
type Runner struct {
	cfg      tracker.Config
	realtime bool
	logger   *zap.Logger
}

// NewRunner returns a runner that builds a fresh tracker from cfg for every
// script. Unless realtime is set, the tracker runs on a fake clock that
// only moves on wait and pause steps.
func NewRunner(cfg tracker.Config, realtime bool) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, realtime: realtime, logger: logger.Named("replay")}
}

type staticUser string

func (u staticUser) CurrentUser(context.Context) (string, error) { return string(u), nil }

// Run plays s from mount to unmount.
func (r *Runner) Run(ctx context.Context, s *Script) (Result, error) {
	cfg := r.cfg
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg
	var fake *clockwork.FakeClock
	if r.realtime {
		cfg.Clock = clockwork.NewRealClock()
	} else {
		fake = clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Millisecond))
		cfg.Clock = fake
	}
	if s.User != "" {
		cfg.Source = staticUser(s.User)
	}

	t := tracker.New(cfg)
	p := &player{t: t, clock: cfg.Clock, fake: fake, logger: r.logger}
	start := cfg.Clock.Now()

	t.Mount(ctx)
	snap := t.Identity().Snapshot()
	res := Result{Script: s.Name, SessionID: snap.SessionID}

	var runErr error
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.logger.Debug("step", zap.Int("n", i+1), zap.String("do", string(st.Do)))
		done, err := p.play(ctx, st)
		if err != nil {
			runErr = fmt.Errorf("step %d (%s): %w", i+1, st.Do, err)
			break
		}
		res.Steps++
		if done {
			break
		}
	}

	res.UserID = t.Identity().Snapshot().UserID
	t.Unmount(context.WithoutCancel(ctx))
	res.Elapsed = cfg.Clock.Since(start)

	if err := collect(reg, &res); err != nil {
		r.logger.Warn("failed to read pipeline metrics", zap.Error(err))
	}
	return res, runErr
}

var errNoSlide = errors.New("no slide is showing")

type player struct {
	t      *tracker.Tracker
	clock  clockwork.Clock
	fake   *clockwork.FakeClock
	logger *zap.Logger

	// format of the last content slide, reported with knowledge checks
	seen event.ContentType
	quiz *detector.QuizTracker
}

// play applies one step and reports whether the script should stop.
func (p *player) play(ctx context.Context, st Step) (bool, error) {
	switch st.Do {
	case ActSlide:
		p.t.ShowSlide(ctx, st.Slide, st.Content)
		if st.Content != event.ContentQuiz {
			p.seen = st.Content
		}
	case ActVideoPause, ActZoom, ActReplayAnimation, ActNavigate:
		slide := p.t.CurrentSlide()
		if slide == nil {
			return false, errNoSlide
		}
		switch st.Do {
		case ActVideoPause:
			slide.LogVideoPause()
		case ActZoom:
			slide.LogDiagramZoom()
		case ActReplayAnimation:
			slide.LogAnimationReplay()
		default:
			slide.LogNavigation(detector.Direction(st.Direction))
			if p.quiz != nil && detector.Direction(st.Direction) == detector.Back {
				p.quiz.LogBackNavigation()
			}
		}
	case ActInteraction:
		timer := p.t.Interaction(st.Interaction, st.Element)
		timer.Start()
		if err := p.wait(ctx, st.For); err != nil {
			return false, err
		}
		successful := true
		if st.Successful != nil {
			successful = *st.Successful
		}
		timer.End(successful)
		timer.Close()
	case ActQuiz:
		if st.Question != "" {
			if p.quiz == nil {
				p.quiz = p.t.Quiz(st.Question, string(p.seen))
			} else {
				p.quiz.SetQuestion(st.Question, string(p.seen))
			}
		}
		if st.Answer != "" {
			if p.quiz == nil {
				return false, errors.New("answer given before any question")
			}
			p.quiz.Submit(ctx, st.Answer, st.Correct, st.Confidence)
		}
	case ActAttempt, ActNotes:
		if p.quiz == nil {
			return false, errors.New("no question is open")
		}
		if st.Do == ActAttempt {
			p.quiz.LogAttempt()
		} else {
			p.quiz.LogNotesOpen()
		}
	case ActConfused:
		slideID := ""
		if slide := p.t.CurrentSlide(); slide != nil {
			slideID = slide.SlideID()
		}
		if slideID == "" {
			return false, errNoSlide
		}
		if st.Indicator == "" {
			p.t.Confusion().ReportConfusion(slideID)
		} else {
			p.t.Confusion().LogSignal(st.Indicator, slideID)
		}
	case ActHide:
		p.t.ContextSwitch().Hidden()
	case ActShow:
		p.t.ContextSwitch().Visible()
	case ActPaste:
		p.t.ContextSwitch().Paste()
	case ActPause:
		if err := p.wait(ctx, st.For); err != nil {
			return false, err
		}
		p.t.Pacing().LogPause(st.For)
	case ActPace:
		p.t.Pacing().RequestPace(detector.PaceRequest(st.Pace))
	case ActWait:
		return false, p.wait(ctx, st.For)
	case ActFlush:
		p.t.Flush(ctx)
	case ActUnload:
		p.t.PageHide(ctx)
		return true, nil
	default:
		return false, fmt.Errorf("unknown action %q", st.Do)
	}
	return false, nil
}

func (p *player) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.fake == nil {
		select {
		case <-p.clock.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for d > 0 {
		step := min(d, tick)
		p.fake.Advance(step)
		d -= step
		// let tickers and timers woken by the advance run before the next one
		time.Sleep(time.Millisecond)
	}
	return ctx.Err()
}

// collect copies the dispatcher counters out of reg.
func collect(reg prometheus.Gatherer, res *Result) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "learntrace_dispatch_events_enqueued_total":
			res.Enqueued = sum(mf, "", "")
		case "learntrace_dispatch_events_dropped_total":
			res.Dropped = sum(mf, "", "")
		case "learntrace_dispatch_batches_total":
			res.Delivered = sum(mf, "result", "sent")
			res.Failed = sum(mf, "result", "failed")
			res.Beacons = sum(mf, "result", "beacon")
		}
	}
	return nil
}

// sum adds the counters in mf, keeping only samples whose label matches
// value when label is set.
func sum(mf *dto.MetricFamily, label, value string) int {
	var total float64
	for _, m := range mf.GetMetric() {
		if label != "" && !hasLabel(m, label, value) {
			continue
		}
		total += m.GetCounter().GetValue()
	}
	return int(total)
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
