// Package transport is the HTTP client for the collection API: event
// batches, unload beacons and the session-scoped endpoints.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
)

// Timeouts bounds every outbound call.
type Timeouts struct {
	Default time.Duration // batches, session start/end, slide changes, quiz results
	Focus   time.Duration // focus heartbeat
	Lookup  time.Duration // best-effort lookups such as user resolution
}

// DefaultTimeouts returns the stock request timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default: 10 * time.Second,
		Focus:   3 * time.Second,
		Lookup:  5 * time.Second,
	}
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d %s - %s", e.Status, e.StatusText, e.Body)
}

// Client talks to the collection API. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	logger   *zap.Logger
	duration *prometheus.HistogramVec

	beacons sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeouts overrides the request timeouts. Zero fields keep their default.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		if t.Default > 0 {
			c.timeouts.Default = t.Default
		}
		if t.Focus > 0 {
			c.timeouts.Focus = t.Focus
		}
		if t.Lookup > 0 {
			c.timeouts.Lookup = t.Lookup
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("transport") }
}

// WithRegisterer records request latencies on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.duration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "learntrace",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Latency of collection API requests by endpoint and result.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 5, 10},
		}, []string{"endpoint", "result"})
	}
}

// New returns a Client rooted at baseURL (for example http://localhost:8000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeouts returns the effective request timeouts.
func (c *Client) Timeouts() Timeouts { return c.timeouts }

// SendEvents posts a batch to /api/events and returns the acknowledgement.
func (c *Client) SendEvents(ctx context.Context, batch []event.Event) (Ack, error) {
	var ack Ack
	err := c.post(ctx, "events", PathEvents, c.timeouts.Default, batch, &ack)
	return ack, err
}

// BeaconEvents delivers batch without tying the request to the caller.
// The call returns immediately; the request runs on a context detached from
// ctx and bounded only by the default timeout. The outcome is logged.
func (c *Client) BeaconEvents(ctx context.Context, batch []event.Event) {
	detached := context.WithoutCancel(ctx)
	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		if _, err := c.SendEvents(detached, batch); err != nil {
			c.logger.Warn("beacon delivery failed", zap.Int("events", len(batch)), zap.Error(err))
		}
	}()
}

// WaitBeacons blocks until every in-flight beacon has finished.
func (c *Client) WaitBeacons() { c.beacons.Wait() }

// StartSession announces a new session.
func (c *Client) StartSession(ctx context.Context, userID, sessionID string) (SessionStarted, error) {
	var out SessionStarted
	err := c.post(ctx, "session_start", PathSessionStart, c.timeouts.Default,
		SessionStart{UserID: userID, SessionID: sessionID}, &out)
	return out, err
}

// EndSession closes a session. The request survives cancellation of ctx so
// that it can complete while the caller is tearing down.
func (c *Client) EndSession(ctx context.Context, sessionID, userID string) error {
	return c.post(context.WithoutCancel(ctx), "session_end", sessionPath(sessionID, "end"), c.timeouts.Default,
		SessionEnd{UserID: userID, SessionID: sessionID}, nil)
}

// TrackFocus posts one focus sample under the short focus timeout.
func (c *Client) TrackFocus(ctx context.Context, s FocusSample) error {
	return c.post(ctx, "focus", sessionPath(s.SessionID, "focus"), c.timeouts.Focus, s, nil)
}

// TrackSlideChange reports a content unit transition.
func (c *Client) TrackSlideChange(ctx context.Context, sessionID string, sc SlideChange) error {
	return c.post(ctx, "slide_change", sessionPath(sessionID, "slide-change"), c.timeouts.Default, sc, nil)
}

// SubmitQuizResult records a graded answer.
func (c *Client) SubmitQuizResult(ctx context.Context, sessionID string, qr QuizResult) error {
	return c.post(ctx, "quiz_result", sessionPath(sessionID, "quiz-result"), c.timeouts.Default, qr, nil)
}

func (c *Client) post(ctx context.Context, endpoint, path string, timeout time.Duration, body, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.duration == nil {
			return
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.duration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build %s url: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(text)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
