package detector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/fakeyudi/learntrace/internal/detector"
	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/session"
	"github.com/fakeyudi/learntrace/internal/transport"
)

type fakeIdentity struct {
	mu      sync.Mutex
	snap    session.Snapshot
	entered []string
}

func newIdentity() *fakeIdentity {
	return &fakeIdentity{snap: session.Snapshot{UserID: "u1", SessionID: "s1", Active: true}}
}

func (f *fakeIdentity) Stamp() event.Stamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return event.Stamp{UserID: f.snap.UserID, SessionID: f.snap.SessionID}
}

func (f *fakeIdentity) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeIdentity) EnterContentUnit(_ context.Context, unitID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = append(f.entered, unitID)
	f.snap.Last = &session.ContentUnit{ID: unitID}
}

type memRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *memRecorder) Enqueue(e event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memRecorder) all() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Event(nil), m.events...)
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type quizPosts struct {
	mu      sync.Mutex
	results []transport.QuizResult
}

func (q *quizPosts) SubmitQuizResult(_ context.Context, _ string, qr transport.QuizResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, qr)
	return nil
}

func TestSlideSkipHeuristic(t *testing.T) {
	tests := []struct {
		dwell   time.Duration
		skipped bool
	}{
		{4900 * time.Millisecond, true},
		{5100 * time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.dwell.String(), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			rec := &memRecorder{}
			s := detector.NewSlideTracker(newIdentity(), rec, "s1", event.ContentVideo, detector.WithClock(clock))
			s.Attach(context.Background())
			clock.Advance(tt.dwell)
			s.Detach()

			got := rec.all()
			require.Len(t, got, 1)
			props := got[0].Properties().(event.SlideViewed)
			assert.Equal(t, tt.skipped, *props.SkippedForward)
			assert.InDelta(t, tt.dwell.Seconds(), props.TimeSpentSeconds, 1e-9)
		})
	}
}

func TestSlideSkipMatchesThreshold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dwell := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(rt, "dwell"))
		clock := clockwork.NewFakeClock()
		rec := &memRecorder{}
		s := detector.NewSlideTracker(newIdentity(), rec, "s1", event.ContentTextHeavy, detector.WithClock(clock))
		s.Attach(context.Background())
		clock.Advance(dwell)
		s.Detach()

		props := rec.all()[0].Properties().(event.SlideViewed)
		if *props.SkippedForward != (dwell < detector.SkipThreshold) {
			rt.Fatalf("dwell %v: skipped_forward=%v", dwell, *props.SkippedForward)
		}
	})
}

func TestSlideFlagsAndSingleEmit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	id := newIdentity()
	s := detector.NewSlideTracker(id, rec, "s7", event.ContentDiagramHeavy, detector.WithClock(clock))
	s.Attach(context.Background())
	assert.Equal(t, detector.PhaseAttached, s.Phase())

	s.LogVideoPause()
	s.LogDiagramZoom()
	s.LogNavigation(detector.Forward)
	assert.Equal(t, detector.PhaseObserving, s.Phase())
	s.LogNavigation(detector.Back)
	clock.Advance(30 * time.Second)

	spent, ok := s.Detach()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, spent)
	_, ok = s.Detach()
	assert.False(t, ok)
	s.LogAnimationReplay()

	got := rec.all()
	require.Len(t, got, 1)
	props := got[0].Properties().(event.SlideViewed)
	assert.True(t, *props.PausedVideo)
	assert.True(t, *props.ZoomedIntoDiagram)
	assert.True(t, *props.ScrolledBack)
	assert.False(t, *props.ReplayedAnimation)
	assert.False(t, *props.SkippedForward)
	assert.Equal(t, []string{"s7"}, id.entered)
	assert.Equal(t, "s1", got[0].SessionID())
}

func TestInteractionTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	it := detector.NewInteractionTimer(newIdentity(), rec, event.InteractionPlayedSimulation, event.ElementInteractiveGraph, detector.WithClock(clock))

	it.End(true)
	assert.Zero(t, rec.count(), "end without start")

	it.Start()
	clock.Advance(1500 * time.Millisecond)
	it.End(true)

	it.Start()
	clock.Advance(time.Second)
	it.End(false)

	got := rec.all()
	require.Len(t, got, 2)
	first := got[0].Properties().(event.Interaction)
	assert.InDelta(t, 1.5, *first.InteractionDuration, 1e-9)
	assert.False(t, *first.RepeatedInteraction)
	assert.True(t, *first.SuccessfulInteraction)
	second := got[1].Properties().(event.Interaction)
	assert.True(t, *second.RepeatedInteraction)
	assert.False(t, *second.SuccessfulInteraction)
}

func TestInteractionAbandoned(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	it := detector.NewInteractionTimer(newIdentity(), rec, event.InteractionHoveredDefinition, event.ElementFormula, detector.WithClock(clock))

	it.Start()
	clock.Advance(detector.DefaultAbandonAfter + time.Second)
	it.End(true)
	assert.Zero(t, rec.count())

	it.SetAbandonAfter(0)
	it.Start()
	clock.Advance(time.Hour)
	it.End(true)
	assert.Equal(t, 1, rec.count())

	it.Close()
	it.Start()
	it.End(true)
	assert.Equal(t, 1, rec.count())
}

func TestInteractionAbandonedIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	clock := clockwork.NewFakeClock()
	it := detector.NewInteractionTimer(newIdentity(), &memRecorder{}, event.InteractionClickedExample, event.ElementCodeSnippet,
		detector.WithClock(clock), detector.WithLogger(zap.New(core)))

	it.Start()
	clock.Advance(3 * time.Minute)
	it.End(false)

	entries := logs.FilterMessage("interaction abandoned").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "detector.interaction", entries[0].LoggerName)
	assert.Equal(t, 3*time.Minute, entries[0].ContextMap()["open_for"])
}

func TestQuizTracker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	posts := &quizPosts{}
	id := newIdentity()
	id.EnterContentUnit(context.Background(), "slide-quiz")

	q := detector.NewQuizTracker(id, rec, posts, "q-1", "text-heavy", detector.WithClock(clock))
	q.LogAttempt()
	q.LogAttempt()
	q.LogNotesOpen()

	// Same id keeps counters; a new id resets them.
	q.SetQuestion("q-1", "text-heavy")
	q.SetQuestion("q-2", "video")
	q.LogAttempt()
	q.LogBackNavigation()
	clock.Advance(12 * time.Second)
	q.Submit(context.Background(), "Answer A", true, "")
	q.Close()

	got := rec.all()
	require.Len(t, got, 1)
	kc := got[0].Properties().(event.KnowledgeCheck)
	assert.Equal(t, "q-2", kc.QuestionID)
	assert.Equal(t, "video", kc.SlideFormatJustSeen)
	assert.Equal(t, 1, *kc.AttemptsBeforeCorrect)
	assert.False(t, *kc.ConsultedNotes)
	assert.True(t, *kc.WentBackToPreviousSlide)
	assert.Equal(t, event.ConfidenceSomewhatSure, *kc.ConfidenceLevel)
	assert.InDelta(t, 12.0, kc.TimeToAnswerSeconds, 1e-9)

	require.Len(t, posts.results, 1)
	assert.Equal(t, transport.QuizResult{UserID: "u1", SlideID: "slide-quiz", QuizID: "q-2", Score: 1, Passed: true}, posts.results[0])
}

func TestQuizResultSkippedWithoutSession(t *testing.T) {
	rec := &memRecorder{}
	posts := &quizPosts{}
	id := newIdentity()
	id.snap.Active = false

	q := detector.NewQuizTracker(id, rec, posts, "q-1", "video")
	q.Submit(context.Background(), "B", false, event.ConfidenceGuessed)
	q.Close()

	assert.Equal(t, 1, rec.count())
	assert.Empty(t, posts.results)
}

func TestConfusionRateLimited(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	c := detector.NewConfusionDetector(newIdentity(), rec, detector.WithClock(clock))

	for range detector.RapidNavigations {
		c.LogNavigation("s3")
		clock.Advance(time.Second)
	}
	assert.Zero(t, rec.count(), "five moves are not confusion")

	c.LogNavigation("s3")
	require.Equal(t, 1, rec.count())
	props := rec.all()[0].Properties().(event.Confusion)
	assert.Equal(t, event.IndicatorRapidSwitching, props.ConfusionIndicator)
	assert.False(t, *props.SelfReportedConfusion)

	clock.Advance(time.Second)
	c.LogNavigation("s4")
	assert.Equal(t, 1, rec.count(), "suppressed during cooldown")

	c.ReportConfusion("s4")
	assert.Equal(t, 2, rec.count(), "self report bypasses cooldown")

	// After the cooldown a fresh burst fires again.
	clock.Advance(detector.ConfusionCooldown)
	for range detector.RapidNavigations + 1 {
		c.LogNavigation("s5")
	}
	assert.Equal(t, 3, rec.count())
}

func TestConfusionWindowSlides(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gap := time.Duration(rapid.Int64Range(int64(6*time.Second), int64(time.Minute)).Draw(rt, "gap"))
		clock := clockwork.NewFakeClock()
		rec := &memRecorder{}
		c := detector.NewConfusionDetector(newIdentity(), rec, detector.WithClock(clock))

		// Moves spaced at least 6s apart never put six inside 30s.
		for range 12 {
			c.LogNavigation("s")
			clock.Advance(gap)
		}
		if rec.count() != 0 {
			rt.Fatalf("gap %v produced %d events", gap, rec.count())
		}
	})
}

func TestConfusionSignals(t *testing.T) {
	rec := &memRecorder{}
	c := detector.NewConfusionDetector(newIdentity(), rec)

	c.LogSignal(event.IndicatorAbandonedQuiz, "s1")
	c.LogSignal(event.IndicatorRapidSwitching, "s1")
	c.LogSignal(event.IndicatorExternalHelp, "s1")
	c.Close()
	c.ReportConfusion("s1")

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, event.IndicatorAbandonedQuiz, got[0].Properties().(event.Confusion).ConfusionIndicator)
	assert.Equal(t, event.IndicatorExternalHelp, got[1].Properties().(event.Confusion).ConfusionIndicator)
}

func TestContextSwitchSettles(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	c := detector.NewContextSwitchDetector(newIdentity(), rec, detector.WithClock(clock))

	c.Visible()
	assert.Zero(t, rec.count(), "visible without hidden")

	c.Paste() // before leaving; not brought back
	c.Hidden()
	clock.Advance(3 * time.Minute)
	c.Visible()
	c.Paste()
	assert.Zero(t, rec.count(), "waits for the settle delay")

	clock.Advance(detector.SettleDelay)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	props := rec.all()[0].Properties().(event.ContextSwitch)
	assert.Equal(t, "course_slides", props.SwitchedFrom)
	assert.InDelta(t, 3.0, props.TimeAway, 1e-9)
	assert.True(t, props.Returned)
	assert.True(t, *props.BroughtBackInformation)
	assert.Equal(t, event.TriggerRandom, *props.SwitchTrigger)
}

func TestContextSwitchHiddenDuringSettle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	c := detector.NewContextSwitchDetector(newIdentity(), rec, detector.WithClock(clock))

	c.Hidden()
	clock.Advance(time.Minute)
	c.Visible()
	clock.Advance(time.Second)
	c.Hidden()
	require.Equal(t, 1, rec.count(), "pending return completes on the next hide")
	assert.False(t, *rec.all()[0].Properties().(event.ContextSwitch).BroughtBackInformation)

	clock.Advance(30 * time.Second)
	c.Visible()
	c.Paste()
	c.Close()
	require.Equal(t, 2, rec.count(), "close completes the pending return")
	last := rec.all()[1].Properties().(event.ContextSwitch)
	assert.InDelta(t, 0.5, last.TimeAway, 1e-9)
	assert.True(t, *last.BroughtBackInformation)

	clock.Advance(time.Minute)
	assert.Equal(t, 2, rec.count())
}

func TestPacingTracker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	p := detector.NewPacingTracker(newIdentity(), rec, detector.WithClock(clock))

	p.LogPause(10 * time.Second)
	p.LogPause(20 * time.Second)
	spent := []time.Duration{2 * time.Second, 30 * time.Second, 3 * time.Second, time.Minute, 40 * time.Second}
	for i, d := range spent {
		clock.Advance(30 * time.Second)
		p.LogSlideView([]string{"a", "b", "c", "d", "e"}[i], d)
	}

	got := rec.all()
	require.Len(t, got, 1)
	props := got[0].Properties().(event.Pacing)
	assert.InDelta(t, 2.0, props.SlidesPerMinute, 1e-9)
	assert.Equal(t, 2, *props.PausesTaken)
	assert.InDelta(t, 15.0, *props.PauseDurationAvg, 1e-9)
	assert.Equal(t, []string{"a", "c"}, props.SkippedSlides)

	p.RequestPace(detector.SlowDown)
	got = rec.all()
	require.Len(t, got, 2)
	req := got[1].Properties().(event.Pacing)
	assert.True(t, *req.RequestedSlowDown)
	assert.False(t, *req.RequestedSkipAhead)
}
