package detector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// QuizTracker observes attempts on one question at a time.
type QuizTracker struct {
	emitter
	reporter QuizReporter

	mu          sync.Mutex
	life        lifecycle
	questionID  string
	format      string
	start       time.Time
	attempts    int
	notesOpened bool
	wentBack    bool

	posts sync.WaitGroup
}

// NewQuizTracker returns a tracker for questionID. previousFormat is the
// content type of the slide seen just before the question.
func NewQuizTracker(id Identity, rec Recorder, reporter QuizReporter, questionID, previousFormat string, opts ...Option) *QuizTracker {
	o := buildOptions("quiz", opts)
	return &QuizTracker{
		emitter:    emitter{identity: id, recorder: rec, options: o},
		reporter:   reporter,
		questionID: questionID,
		format:     previousFormat,
		start:      o.clock.Now(),
	}
}

// SetQuestion switches to another question. Counters reset only when the id
// actually changes.
func (q *QuizTracker) SetQuestion(questionID, previousFormat string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.life.phase == PhaseDetached || questionID == q.questionID {
		return
	}
	q.questionID = questionID
	q.format = previousFormat
	q.start = q.clock.Now()
	q.attempts = 0
	q.notesOpened = false
	q.wentBack = false
	q.life.phase = PhaseAttached
}

func (q *QuizTracker) LogAttempt() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.life.observe() {
		q.attempts++
	}
}

func (q *QuizTracker) LogNotesOpen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.life.observe() {
		q.notesOpened = true
	}
}

func (q *QuizTracker) LogBackNavigation() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.life.observe() {
		q.wentBack = true
	}
}

// Submit emits knowledge_check_completed and reports the graded result to the
// session in the background. An empty confidence means somewhat_sure.
func (q *QuizTracker) Submit(ctx context.Context, answer string, correct bool, confidence event.Confidence) {
	if confidence == "" {
		confidence = event.ConfidenceSomewhatSure
	}

	q.mu.Lock()
	if !q.life.observe() {
		q.mu.Unlock()
		return
	}
	props := event.KnowledgeCheck{
		QuestionID:              q.questionID,
		SlideFormatJustSeen:     q.format,
		Correct:                 correct,
		UserAnswer:              answer,
		TimeToAnswerSeconds:     q.clock.Since(q.start).Seconds(),
		ConfidenceLevel:         &confidence,
		AttemptsBeforeCorrect:   event.Int(q.attempts),
		ConsultedNotes:          event.Bool(q.notesOpened),
		WentBackToPreviousSlide: event.Bool(q.wentBack),
	}
	q.mu.Unlock()

	q.emit(props)

	snap := q.identity.Snapshot()
	if q.reporter == nil || !snap.Active {
		return
	}
	result := transport.QuizResult{
		UserID: snap.UserID,
		QuizID: props.QuestionID,
		Passed: correct,
	}
	if correct {
		result.Score = 1
	}
	if snap.Last != nil {
		result.SlideID = snap.Last.ID
	}

	q.posts.Add(1)
	go func() {
		defer q.posts.Done()
		if err := q.reporter.SubmitQuizResult(ctx, snap.SessionID, result); err != nil {
			q.logger.Warn("failed to submit quiz result", zap.String("quiz_id", result.QuizID), zap.Error(err))
		}
	}()
}

// Close detaches the tracker and waits for pending result posts.
func (q *QuizTracker) Phase() Phase {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.life.phase
}

func (q *QuizTracker) Close() {
	q.mu.Lock()
	q.life.detach()
	q.mu.Unlock()
	q.posts.Wait()
}
