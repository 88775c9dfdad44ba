package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

type recorded struct {
	path string
	body []byte
}

// recordingServer captures every request and replies with status.
func recordingServer(t *testing.T, status int, reply string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{path: r.URL.Path, body: body})
		mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func sampleBatch(t *testing.T, n int) []event.Event {
	t.Helper()
	batch := make([]event.Event, n)
	for i := range batch {
		e, err := event.New(event.Pacing{SlidesPerMinute: float64(i)}, event.Stamp{UserID: "u", SessionID: "s"}, time.Now())
		require.NoError(t, err)
		batch[i] = e
	}
	return batch
}

func TestSendEventsPostsArray(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{"status":"success","count":3}`)
	c := transport.New(srv.URL + "/")

	ack, err := c.SendEvents(context.Background(), sampleBatch(t, 3))
	require.NoError(t, err)
	assert.Equal(t, transport.Ack{Status: "success", Count: 3}, ack)

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/events", got[0].path)
	var arr []map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &arr))
	assert.Len(t, arr, 3)
	assert.Equal(t, "pacing_behavior", arr[0]["event"])
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusBadRequest, `{"status":"error","message":"Invalid payload"}`)
	c := transport.New(srv.URL)

	_, err := c.SendEvents(context.Background(), sampleBatch(t, 1))
	var se *transport.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Contains(t, se.Error(), "API error: 400 Bad Request")
	assert.Contains(t, se.Body, "Invalid payload")
}

func TestFocusUsesShortTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := transport.New(srv.URL, transport.WithTimeouts(transport.Timeouts{Focus: 50 * time.Millisecond}))

	start := time.Now()
	err := c.TrackFocus(context.Background(), transport.FocusSample{SessionID: "s1", UserID: "u"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 10*time.Second, c.Timeouts().Default)
}

func TestSessionEndpoints(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{}`)
	c := transport.New(srv.URL)
	ctx := context.Background()

	_, err := c.StartSession(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NoError(t, c.TrackFocus(ctx, transport.FocusSample{UserID: "u1", SessionID: "s1", IsFocused: true, FocusScore: 0.8}))
	require.NoError(t, c.TrackSlideChange(ctx, "s1", transport.SlideChange{UserID: "u1", NewSlideID: "b", PreviousSlideID: "a", TimeOnPrevious: 12.5}))
	require.NoError(t, c.SubmitQuizResult(ctx, "s1", transport.QuizResult{UserID: "u1", SlideID: "b", QuizID: "q1", Score: 1, Passed: true}))
	require.NoError(t, c.EndSession(ctx, "s1", "u1"))

	got := reqs()
	require.Len(t, got, 5)
	paths := []string{got[0].path, got[1].path, got[2].path, got[3].path, got[4].path}
	assert.Equal(t, []string{
		"/api/session/start",
		"/api/session/s1/focus",
		"/api/session/s1/slide-change",
		"/api/session/s1/quiz-result",
		"/api/session/s1/end",
	}, paths)
	assert.JSONEq(t, `{"user_id":"u1","new_slide_id":"b","previous_slide_id":"a","time_on_previous":12.5}`, string(got[2].body))
	assert.JSONEq(t, `{"user_id":"u1","session_id":"s1"}`, string(got[4].body))
}

func TestEndSessionSurvivesCancelledCaller(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{}`)
	c := transport.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.EndSession(ctx, "s1", "u1"))
	assert.Len(t, reqs(), 1)
}

func TestBeaconDetachedFromCaller(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, `{"status":"success","count":2}`)
	c := transport.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	c.BeaconEvents(ctx, sampleBatch(t, 2))
	cancel()
	c.WaitBeacons()

	require.Len(t, reqs(), 1)
}

func TestRequestDurationRecorded(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, `{"status":"success","count":1}`)
	reg := prometheus.NewRegistry()
	c := transport.New(srv.URL, transport.WithRegisterer(reg))

	_, err := c.SendEvents(context.Background(), sampleBatch(t, 1))
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "learntrace_transport_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
