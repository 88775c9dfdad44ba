package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/ingest"
	"github.com/fakeyudi/learntrace/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupServer returns a server over an in-memory store.
func setupServer(t *testing.T) (*ingest.Server, *ingest.Store, *clockwork.FakeClock) {
	t.Helper()
	store, err := ingest.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	return ingest.NewServer(store, ingest.ServerOptions{Clock: clock, Registry: prometheus.NewRegistry()}), store, clock
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mustEvent(t *testing.T, props event.Properties, at time.Time) event.Event {
	t.Helper()
	e, err := event.New(props, event.Stamp{UserID: "u1", SessionID: "s1"}, at)
	require.NoError(t, err)
	return e
}

func TestEventsAcknowledgedWithCount(t *testing.T) {
	srv, store, _ := setupServer(t)
	at := time.Date(2025, 6, 1, 9, 0, 1, 0, time.UTC)
	batch := []event.Event{
		mustEvent(t, event.SlideViewed{SlideID: "a", ContentType: event.ContentVideo, TimeSpentSeconds: 12}, at),
		mustEvent(t, event.Confusion{ConfusionIndicator: event.IndicatorAskedQuestion, SlideWhenConfused: "a"}, at.Add(time.Second)),
	}
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	w := post(t, srv.Handler(), "/api/events", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","count":2}`, w.Body.String())

	stored, err := store.Events(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, event.KindSlideViewed, stored[0].Kind())
	assert.True(t, stored[0].Timestamp().Equal(at))
	assert.Equal(t, batch[1].Properties(), stored[1].Properties())
}

func TestEventsRejectsInvalidPayload(t *testing.T) {
	srv, store, _ := setupServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"broken`},
		{"not an array", `{"event":"slide_viewed"}`},
		{"unknown kind", `[{"event":"mouse_moved","timestamp":"2025-06-01T09:00:00.000Z","user_id":"u","session_id":"s","properties":{}}]`},
		{"bad properties", `[{"event":"slide_viewed","timestamp":"2025-06-01T09:00:00.000Z","user_id":"u","session_id":"s","properties":{"slide_id":"a","content_type":"hologram","time_spent_seconds":1}}]`},
		{"missing properties", `[{"event":"knowledge_check_completed","timestamp":"2025-06-01T09:00:00.000Z","user_id":"u","session_id":"s","properties":{"question_id":"q1"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, srv.Handler(), "/api/events", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			var ack transport.Ack
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
			assert.Equal(t, "error", ack.Status)
			assert.NotEmpty(t, ack.Message)
		})
	}

	totals, err := store.Totals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, totals.Events)
}

func TestSessionEndpointsStored(t *testing.T) {
	srv, store, clock := setupServer(t)
	h := srv.Handler()
	ctx := context.Background()

	w := post(t, h, "/api/session/start", `{"user_id":"u1","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var started transport.SessionStarted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "s1", started.SessionID)

	clock.Advance(10 * time.Second)
	require.Equal(t, http.StatusNoContent, post(t, h, "/api/session/s1/focus", `{"user_id":"u1","session_id":"s1","is_focused":true,"focus_score":0.9}`).Code)
	require.Equal(t, http.StatusNoContent, post(t, h, "/api/session/s1/slide-change", `{"user_id":"u1","new_slide_id":"b","previous_slide_id":"a","time_on_previous":4.5}`).Code)
	require.Equal(t, http.StatusNoContent, post(t, h, "/api/session/s1/quiz-result", `{"user_id":"u1","slide_id":"b","quiz_id":"q1","score":1,"passed":true}`).Code)
	clock.Advance(time.Minute)
	require.Equal(t, http.StatusOK, post(t, h, "/api/session/s1/end", `{"user_id":"u1","session_id":"s1"}`).Code)

	sess, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, 70*time.Second, sess.EndedAt.Sub(sess.StartedAt))

	focus, err := store.FocusSamples(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []ingest.FocusRecord{{At: clock.Now().Add(-time.Minute).UTC(), IsFocused: true, FocusScore: 0.9}}, focus)

	changes, err := store.SlideChanges(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "a", changes[0].PreviousSlideID)

	quizzes, err := store.QuizResults(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.True(t, quizzes[0].Passed)
}

func TestSessionStartRequiresIDs(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := post(t, srv.Handler(), "/api/session/start", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFocusScoreBounded(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := post(t, srv.Handler(), "/api/session/s1/focus", `{"user_id":"u1","session_id":"s1","is_focused":true,"focus_score":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _, _ := setupServer(t)
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"connected"}`, w.Body.String())

	body, _ := json.Marshal([]event.Event{mustEvent(t, event.Pacing{SlidesPerMinute: 1}, time.Now())})
	require.Equal(t, http.StatusOK, post(t, h, "/api/events", string(body)).Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `learntrace_ingest_events_total{kind="pacing_behavior"} 1`)
}

func TestTransportClientAgainstCollector(t *testing.T) {
	srv, store, _ := setupServer(t)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	c := transport.New(hs.URL)
	ack, err := c.SendEvents(context.Background(), []event.Event{
		mustEvent(t, event.ContextSwitch{SwitchedFrom: event.SwitchedFromCourseSlides, TimeAway: 1.5, Returned: true}, time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Count)

	totals, err := store.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.ByKind[event.KindContextSwitch])
	require.NotNil(t, totals.LastEvent)

	ack, err = c.SendEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, ack.Count)
}
