// Package dispatch buffers behavioral events in memory and delivers them to
// the collection API in batches.
//
// A batch leaves the queue before its delivery starts, so each event is sent
// at most once: a failed batch is logged and dropped, never retried or
// re-queued.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

const (
	DefaultThreshold = 20
	DefaultInterval  = 10 * time.Second
)

// Sender delivers batches. *transport.Client satisfies it.
type Sender interface {
	SendEvents(ctx context.Context, batch []event.Event) (transport.Ack, error)
	BeaconEvents(ctx context.Context, batch []event.Event)
}

// Options configures a Dispatcher. Zero values select the defaults.
type Options struct {
	Threshold  int
	Interval   time.Duration
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Flush triggers, used as the metrics label.
const (
	triggerThreshold = "threshold"
	triggerInterval  = "interval"
	triggerManual    = "manual"
	triggerUnload    = "unload"
	triggerClose     = "close"
)

// Dispatcher owns the event queue. It is safe for concurrent use.
type Dispatcher struct {
	sender    Sender
	threshold int
	interval  time.Duration
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics

	mu     sync.Mutex
	queue  []event.Event
	ctx    context.Context
	stop   chan struct{}
	done   chan struct{}
	closed bool

	inflight sync.WaitGroup
}

// New returns a Dispatcher that delivers through s. Call Open to start the
// scheduled flush.
func New(s Sender, opts Options) *Dispatcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:    s,
		threshold: opts.Threshold,
		interval:  opts.Interval,
		clock:     opts.Clock,
		logger:    opts.Logger.Named("dispatch"),
		metrics:   newMetrics(opts.Registerer),
		ctx:       context.Background(),
	}
}

// Open starts the scheduled flush. Deliveries started by the dispatcher use
// ctx. Calling Open twice has no effect.
func (d *Dispatcher) Open(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil || d.closed {
		return
	}
	d.ctx = ctx
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
}

func (d *Dispatcher) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			d.flush(d.context(), triggerInterval)
		case <-stop:
			return
		}
	}
}

func (d *Dispatcher) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// Enqueue appends e to the queue. It never blocks on I/O. When the queue
// reaches the threshold it is swapped out and delivered in the background.
// After Close the event is dropped.
func (d *Dispatcher) Enqueue(e event.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.dropped.Inc()
		d.logger.Debug("dropped after close", zap.String("event", string(e.Kind())))
		return
	}
	d.queue = append(d.queue, e)
	n := len(d.queue)
	var batch []event.Event
	if n >= d.threshold {
		batch = d.swapLocked()
	}
	ctx := d.ctx
	d.mu.Unlock()

	d.metrics.enqueued.Inc()
	d.logger.Debug("queued", zap.String("event", string(e.Kind())), zap.Int("queued", n))

	if batch != nil {
		d.metrics.flushes.WithLabelValues(triggerThreshold).Inc()
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.send(ctx, batch, triggerThreshold)
		}()
	}
}

// Flush delivers everything queued so far and waits for the delivery to
// finish. An empty queue makes no request.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.flush(ctx, triggerManual)
}

func (d *Dispatcher) flush(ctx context.Context, trigger string) {
	d.mu.Lock()
	batch := d.swapLocked()
	d.mu.Unlock()
	if batch == nil {
		return
	}
	d.metrics.flushes.WithLabelValues(trigger).Inc()
	d.send(ctx, batch, trigger)
}

// Unload hands the queue to the sender's beacon path and returns at once.
// The delivery is not bound to ctx's cancellation.
func (d *Dispatcher) Unload(ctx context.Context) {
	d.mu.Lock()
	batch := d.swapLocked()
	d.mu.Unlock()
	if batch == nil {
		return
	}
	d.metrics.flushes.WithLabelValues(triggerUnload).Inc()
	d.metrics.batches.WithLabelValues("beacon").Inc()
	d.logger.Info("beacon flush", zap.Int("events", len(batch)))
	d.sender.BeaconEvents(ctx, batch)
}

// Close stops the scheduled flush, delivers whatever is still queued and
// waits for in-flight deliveries. Close is idempotent.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	stop, done := d.stop, d.done
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	d.flush(ctx, triggerClose)
	d.inflight.Wait()
}

// Wait blocks until background deliveries started by Enqueue have finished.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

// Len reports the number of queued events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// swapLocked detaches the queue. The caller must hold d.mu.
func (d *Dispatcher) swapLocked() []event.Event {
	if len(d.queue) == 0 {
		return nil
	}
	batch := d.queue
	d.queue = nil
	return batch
}

func (d *Dispatcher) send(ctx context.Context, batch []event.Event, trigger string) {
	ack, err := d.sender.SendEvents(ctx, batch)
	if err != nil {
		d.metrics.batches.WithLabelValues("failed").Inc()
		d.metrics.dropped.Add(float64(len(batch)))
		d.logger.Warn("failed to flush events",
			zap.String("trigger", trigger),
			zap.Int("events", len(batch)),
			zap.Error(err))
		return
	}
	d.metrics.batches.WithLabelValues("sent").Inc()
	d.logger.Info("flushed events",
		zap.String("trigger", trigger),
		zap.Int("events", len(batch)),
		zap.Int("acknowledged", ack.Count))
}
