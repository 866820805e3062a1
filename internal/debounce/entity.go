// Package debounce coalesces high-frequency entity state-change events
// into a last-write-wins pending map, flushed on a fixed interval. It is
// shaped differently from a per-key-timer debouncer: a single bounded
// FIFO queue absorbs bursts and a periodic flush loop drains it, so one
// slow persistence call can never spawn unbounded timers.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultCapacity is the bounded queue size; once full, the oldest
	// queued event is dropped to admit the newest.
	DefaultCapacity = 1000
	// DefaultFlushInterval is how often the pending map is drained and
	// persisted.
	DefaultFlushInterval = 1500 * time.Millisecond
)

// Update is one entity state change.
type Update struct {
	EntityID string
	State    any
	At       time.Time
}

// Persister writes a batch of coalesced updates. Persist may be called
// concurrently with Enqueue but never concurrently with itself.
type Persister interface {
	Persist(ctx context.Context, updates map[string]Update) error
}

// PersisterFunc adapts a function to a Persister.
type PersisterFunc func(ctx context.Context, updates map[string]Update) error

func (f PersisterFunc) Persist(ctx context.Context, updates map[string]Update) error {
	return f(ctx, updates)
}

// Metrics are the counters/gauges the debouncer exposes, wired to
// Prometheus. NewMetrics registers them against reg; pass nil to skip
// registration (tests).
type Metrics struct {
	received prometheus.Counter
	flushed  prometheus.Counter
	dropped  prometheus.Counter
	pending  prometheus.Gauge
	queued   prometheus.Gauge
}

// NewMetrics builds and, if reg is non-nil, registers the debouncer's
// Prometheus instrumentation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entity_debounce_events_received_total",
			Help: "Entity state-change events received by the debouncer.",
		}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entity_debounce_events_flushed_total",
			Help: "Entity state-change events persisted by the debouncer.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entity_debounce_events_dropped_total",
			Help: "Entity state-change events dropped because the queue was full.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entity_debounce_pending_size",
			Help: "Distinct entities currently awaiting the next flush.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entity_debounce_queue_size",
			Help: "Events currently sitting in the inbound FIFO queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.flushed, m.dropped, m.pending, m.queued)
	}
	return m
}

// EntityDebouncer coalesces a burst of per-entity updates into one write
// per flush interval, keeping only the most recent update per entity.
type EntityDebouncer struct {
	capacity      int
	flushInterval time.Duration
	persist       Persister
	metrics       *Metrics

	mu      sync.Mutex
	queue   []Update
	pending map[string]Update

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures an EntityDebouncer.
type Option func(*EntityDebouncer)

func WithCapacity(n int) Option {
	return func(d *EntityDebouncer) {
		if n > 0 {
			d.capacity = n
		}
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(d *EntityDebouncer) {
		if interval > 0 {
			d.flushInterval = interval
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *EntityDebouncer) {
		d.metrics = m
	}
}

// New creates an EntityDebouncer that persists coalesced updates via p.
func New(p Persister, opts ...Option) *EntityDebouncer {
	d := &EntityDebouncer{
		capacity:      DefaultCapacity,
		flushInterval: DefaultFlushInterval,
		persist:       p,
		pending:       make(map[string]Update),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends an update to the inbound queue. If the queue is at
// capacity, the oldest queued update is dropped to admit this one.
func (d *EntityDebouncer) Enqueue(u Update) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.received.Inc()
	}

	if len(d.queue) >= d.capacity {
		d.queue = d.queue[1:]
		if d.metrics != nil {
			d.metrics.dropped.Inc()
		}
	}
	d.queue = append(d.queue, u)
	if d.metrics != nil {
		d.metrics.queued.Set(float64(len(d.queue)))
	}
}

// Start launches the periodic flush loop, returning immediately. Stop
// must be called to release the goroutine.
func (d *EntityDebouncer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.flush(context.Background())
				return
			case <-d.stopCh:
				d.flush(context.Background())
				return
			case <-ticker.C:
				d.flush(ctx)
			}
		}
	}()
}

// Stop drains the queue into pending and performs one final flush before
// returning.
func (d *EntityDebouncer) Stop() {
	d.mu.Lock()
	stopCh := d.stopCh
	d.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-d.doneCh
}

// flush drains the queue into pending (last write per entity wins), then
// copies and clears pending and persists the copy in one transaction. On
// persistence failure the copy is re-merged back into pending so any
// updates that arrived after the failed attempt still take precedence.
func (d *EntityDebouncer) flush(ctx context.Context) {
	d.mu.Lock()
	for _, u := range d.queue {
		d.pending[u.EntityID] = u
	}
	d.queue = nil
	if d.metrics != nil {
		d.metrics.queued.Set(0)
	}

	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}

	batch := make(map[string]Update, len(d.pending))
	for k, v := range d.pending {
		batch[k] = v
	}
	d.pending = make(map[string]Update)
	if d.metrics != nil {
		d.metrics.pending.Set(0)
	}
	d.mu.Unlock()

	if err := d.persist.Persist(ctx, batch); err != nil {
		d.mu.Lock()
		for k, v := range batch {
			// Never overwrite a newer update that arrived while the
			// failed persist call was in flight.
			if existing, ok := d.pending[k]; !ok || v.At.After(existing.At) {
				d.pending[k] = v
			}
		}
		if d.metrics != nil {
			d.metrics.pending.Set(float64(len(d.pending)))
		}
		d.mu.Unlock()
		return
	}

	if d.metrics != nil {
		d.metrics.flushed.Add(float64(len(batch)))
	}
}

// PendingSize returns the number of distinct entities currently awaiting
// the next flush.
func (d *EntityDebouncer) PendingSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// QueueSize returns the number of events currently sitting in the
// inbound FIFO queue, not yet merged into pending.
func (d *EntityDebouncer) QueueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
