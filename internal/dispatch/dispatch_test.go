package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/learntrace/internal/dispatch"
	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// recordingSender keeps every batch it is handed. Sends fail while failing
// is set.
type recordingSender struct {
	mu      sync.Mutex
	batches [][]event.Event
	beacons [][]event.Event
	failing bool
}

func (r *recordingSender) SendEvents(_ context.Context, batch []event.Event) (transport.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	if r.failing {
		return transport.Ack{}, errors.New("network unreachable")
	}
	return transport.Ack{Status: "success", Count: len(batch)}, nil
}

func (r *recordingSender) BeaconEvents(_ context.Context, batch []event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beacons = append(r.beacons, batch)
}

func (r *recordingSender) sent() [][]event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]event.Event(nil), r.batches...)
}

func (r *recordingSender) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func mkEvent(t testing.TB, seq int) event.Event {
	t.Helper()
	e, err := event.New(event.Confusion{
		ConfusionIndicator: event.IndicatorAskedQuestion,
		SlideWhenConfused:  "slide",
		TimeSpentConfused:  event.Float(float64(seq)),
	}, event.Stamp{UserID: "u", SessionID: "s"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return e
}

func seqOf(e event.Event) int {
	return int(*e.Properties().(event.Confusion).TimeSpentConfused)
}

func TestFlushSwapsQueueAtomically(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, dispatch.DefaultThreshold-1).Draw(rt, "n")
		s := &recordingSender{}
		d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock()})

		for i := range n {
			d.Enqueue(mkEvent(t, i))
		}
		d.Flush(context.Background())
		d.Flush(context.Background())

		sent := s.sent()
		if len(sent) != 1 {
			rt.Fatalf("expected 1 send, got %d", len(sent))
		}
		if len(sent[0]) != n {
			rt.Fatalf("expected %d events, got %d", n, len(sent[0]))
		}
		for i, e := range sent[0] {
			if seqOf(e) != i {
				rt.Fatalf("order broken at %d: got %d", i, seqOf(e))
			}
		}
		if d.Len() != 0 {
			rt.Fatalf("queue not empty: %d", d.Len())
		}
	})
}

func TestThresholdTriggersFlush(t *testing.T) {
	s := &recordingSender{}
	d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock()})

	for i := range dispatch.DefaultThreshold - 1 {
		d.Enqueue(mkEvent(t, i))
	}
	d.Wait()
	assert.Empty(t, s.sent(), "19 events must not flush")
	assert.Equal(t, dispatch.DefaultThreshold-1, d.Len())

	d.Enqueue(mkEvent(t, dispatch.DefaultThreshold-1))
	d.Wait()
	sent := s.sent()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0], dispatch.DefaultThreshold)
	assert.Zero(t, d.Len())
}

func TestFailedBatchIsDropped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		first := rapid.IntRange(1, 10).Draw(rt, "first")
		second := rapid.IntRange(1, 10).Draw(rt, "second")
		s := &recordingSender{failing: true}
		d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock()})

		for i := range first {
			d.Enqueue(mkEvent(t, i))
		}
		d.Flush(context.Background())
		if d.Len() != 0 {
			rt.Fatalf("failed batch left %d events queued", d.Len())
		}

		s.setFailing(false)
		for i := range second {
			d.Enqueue(mkEvent(t, 100+i))
		}
		d.Flush(context.Background())

		sent := s.sent()
		if len(sent) != 2 || len(sent[1]) != second {
			rt.Fatalf("second batch: got %d batches, last size %d", len(sent), len(sent[len(sent)-1]))
		}
		for _, e := range sent[1] {
			if seqOf(e) < 100 {
				rt.Fatalf("dropped event %d re-sent", seqOf(e))
			}
		}
	})
}

func TestIntervalFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := &recordingSender{}
	d := dispatch.New(s, dispatch.Options{Clock: clock})
	ctx := context.Background()
	d.Open(ctx)
	t.Cleanup(func() { d.Close(ctx) })

	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	d.Enqueue(mkEvent(t, 0))
	d.Enqueue(mkEvent(t, 1))
	clock.Advance(dispatch.DefaultInterval)

	assert.Eventually(t, func() bool {
		sent := s.sent()
		return len(sent) == 1 && len(sent[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestUnloadUsesBeacon(t *testing.T) {
	s := &recordingSender{}
	d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock()})

	d.Unload(context.Background())
	assert.Empty(t, s.beacons)

	d.Enqueue(mkEvent(t, 0))
	d.Unload(context.Background())
	require.Len(t, s.beacons, 1)
	assert.Len(t, s.beacons[0], 1)
	assert.Empty(t, s.sent())
	assert.Zero(t, d.Len())
}

func TestCloseFlushesRemainder(t *testing.T) {
	s := &recordingSender{}
	d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock()})
	ctx := context.Background()
	d.Open(ctx)

	d.Enqueue(mkEvent(t, 0))
	d.Close(ctx)
	d.Close(ctx)

	require.Len(t, s.sent(), 1)
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &recordingSender{}
	clock := clockwork.NewFakeClock()
	d := dispatch.New(s, dispatch.Options{Clock: clock, Registerer: reg})
	ctx := context.Background()
	d.Open(ctx)
	d.Close(ctx)

	d.Enqueue(mkEvent(t, 0))
	clock.Advance(time.Minute)
	d.Flush(ctx)

	assert.Zero(t, d.Len())
	assert.Empty(t, s.sent())
	expected := `
# HELP learntrace_dispatch_events_dropped_total Events lost to failed deliveries or enqueued after close.
# TYPE learntrace_dispatch_events_dropped_total counter
learntrace_dispatch_events_dropped_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "learntrace_dispatch_events_dropped_total"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &recordingSender{failing: true}
	d := dispatch.New(s, dispatch.Options{Clock: clockwork.NewFakeClock(), Registerer: reg})

	d.Enqueue(mkEvent(t, 0))
	d.Enqueue(mkEvent(t, 1))
	d.Flush(context.Background())

	expected := `
# HELP learntrace_dispatch_events_dropped_total Events lost to failed deliveries or enqueued after close.
# TYPE learntrace_dispatch_events_dropped_total counter
learntrace_dispatch_events_dropped_total 2
# HELP learntrace_dispatch_events_enqueued_total Events accepted into the queue.
# TYPE learntrace_dispatch_events_enqueued_total counter
learntrace_dispatch_events_enqueued_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"learntrace_dispatch_events_dropped_total", "learntrace_dispatch_events_enqueued_total"))
}
