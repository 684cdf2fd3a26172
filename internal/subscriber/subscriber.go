// Package subscriber implements the decoupling boundary between the
// trading core and storage (spec §4.7, C7): producers push events onto a
// fixed-capacity, priority-partitioned buffer with a non-blocking send,
// and a batching loop groups them by instrument before handing them to
// hybrid storage. Under back-pressure the buffer evicts its lowest
// buffered priority rather than rejecting a higher-priority arrival (spec
// §4.7, "Back-pressure": "drop ... in inverse priority order"). The
// batch-or-timeout select loop is grounded on the teacher's
// exchange.WSFeed read loop (time.After-driven retry/backoff shape),
// generalized from a reconnect timer to a batch-flush timer.
package subscriber

import (
	"log/slog"
	"sync"
	"time"

	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// Event is one item flowing from the trading core into storage.
type Event struct {
	Instrument  string
	TimestampNs int64
	Kind        model.RecordKind
	Payload     []byte
	Priority    model.Priority
}

// Sink is the hybrid storage write entry point a batch is submitted to.
// internal/storage.Instance.Write satisfies this via a small adapter in
// the engine's wiring code.
type Sink interface {
	Write(timestampNs int64, kind model.RecordKind, payload []byte) (int64, error)
}

// Options configures batch thresholds (spec §4.7, defaults B=100, T=10ms).
type Options struct {
	BatchSize    int
	BatchTimeout time.Duration
	QueueHint    int // total capacity of the inbound priority buffer, across all tiers
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 10 * time.Millisecond
	}
	if o.QueueHint <= 0 {
		o.QueueHint = 4096
	}
}

// priorityBuffer is a fixed-capacity buffer partitioned by priority tier.
// Once full, push evicts the oldest event from the lowest non-empty tier
// below the incoming priority to admit it, instead of rejecting the
// arrival (spec §4.7, "drop ... in inverse priority order"); pop always
// drains the highest-priority tier first.
type priorityBuffer struct {
	mu       sync.Mutex
	capacity int
	size     int
	tiers    [4][]Event // tiers[p] holds events at model.Priority(p), FIFO
}

func newPriorityBuffer(capacity int) *priorityBuffer {
	return &priorityBuffer{capacity: capacity}
}

// push admits e if there's room, or by evicting the oldest buffered event
// from a strictly lower priority tier. It reports whether e was admitted
// and, when an eviction happened, which priority was evicted.
func (b *priorityBuffer) push(e Event) (admitted bool, evictedFrom model.Priority, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.capacity {
		b.tiers[e.Priority] = append(b.tiers[e.Priority], e)
		b.size++
		return true, 0, false
	}

	for p := model.PriorityP3; p > e.Priority; p-- {
		if len(b.tiers[p]) > 0 {
			b.tiers[p] = b.tiers[p][1:]
			b.tiers[e.Priority] = append(b.tiers[e.Priority], e)
			return true, p, true
		}
	}
	return false, 0, false
}

// pop removes and returns the oldest event from the highest-priority
// non-empty tier.
func (b *priorityBuffer) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := model.PriorityP0; p <= model.PriorityP3; p++ {
		if len(b.tiers[p]) > 0 {
			e := b.tiers[p][0]
			b.tiers[p] = b.tiers[p][1:]
			b.size--
			return e, true
		}
	}
	return Event{}, false
}

func (b *priorityBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Subscriber batches trading-core events and submits them to storage per
// instrument, in parallel, in producer-emission order within an
// instrument (spec §4.7, "Ordering guarantee").
type Subscriber struct {
	opts   Options
	buf    *priorityBuffer
	signal chan struct{}
	sinks  map[string]Sink

	metrics *metrics.Registry
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a Subscriber wired to one Sink per instrument (a
// storage.Instance each). The inbound buffer holds at most QueueHint
// events total across its four priority tiers; back-pressure handling
// (spec §4.7) evicts the lowest-priority buffered event rather than ever
// blocking Submit.
func New(opts Options, sinks map[string]Sink, reg *metrics.Registry, logger *slog.Logger) *Subscriber {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		opts:    opts,
		buf:     newPriorityBuffer(opts.QueueHint),
		signal:  make(chan struct{}, 1),
		sinks:   sinks,
		metrics: reg,
		logger:  logger.With("component", "subscriber"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Submit is the producer-side non-blocking send (spec §4.7, "the send
// itself must not fail except on shutdown"). Under back-pressure it
// evicts a buffered event from a lower priority tier to admit e; if none
// exists (e is itself the lowest priority present, or lower), e is
// dropped instead.
func (s *Subscriber) Submit(e Event) {
	if !e.Priority.Valid() {
		e.Priority = model.PriorityP3
	}

	admitted, evictedFrom, evicted := s.buf.push(e)
	if s.metrics != nil {
		s.metrics.SubscriberLag.Set(float64(s.buf.len()))
	}
	if evicted {
		if s.metrics != nil {
			s.metrics.SubscriberDroppedTotal.WithLabelValues(priorityLabel(evictedFrom)).Inc()
		}
		s.logger.Warn("inbound buffer full, evicted lower-priority event",
			"instrument", e.Instrument, "incoming_priority", e.Priority, "evicted_priority", evictedFrom)
	}
	if !admitted {
		if s.metrics != nil {
			s.metrics.SubscriberDroppedTotal.WithLabelValues(priorityLabel(e.Priority)).Inc()
		}
		s.logger.Warn("inbound buffer full, dropping event", "instrument", e.Instrument, "priority", e.Priority)
		return
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityP0:
		return "P0"
	case model.PriorityP1:
		return "P1"
	case model.PriorityP2:
		return "P2"
	default:
		return "P3"
	}
}

// Run drains the inbound priority buffer, accumulating a batch up to
// BatchSize events or BatchTimeout, whichever comes first, then submits
// grouped per-instrument batches in parallel (spec §4.7). It blocks until
// Stop is called.
func (s *Subscriber) Run() {
	defer close(s.done)
	batch := make([]Event, 0, s.opts.BatchSize)
	timer := time.NewTimer(s.opts.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.submitBatch(batch)
		batch = batch[:0]
	}

	drain := func() {
		for {
			e, ok := s.buf.pop()
			if !ok {
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.opts.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.opts.BatchTimeout)
			}
		}
	}

	for {
		select {
		case <-s.stop:
			drain()
			flush()
			return
		case <-s.signal:
			drain()
		case <-timer.C:
			flush()
			timer.Reset(s.opts.BatchTimeout)
		}
		if s.metrics != nil {
			s.metrics.SubscriberLag.Set(float64(s.buf.len()))
		}
	}
}

// submitBatch groups by instrument and submits each group's events to
// storage in parallel, preserving producer-emission order within each
// instrument (spec §4.7).
func (s *Subscriber) submitBatch(batch []Event) {
	grouped := make(map[string][]Event)
	for _, e := range batch {
		grouped[e.Instrument] = append(grouped[e.Instrument], e)
	}

	done := make(chan struct{}, len(grouped))
	for instrument, events := range grouped {
		instrument, events := instrument, events
		go func() {
			defer func() { done <- struct{}{} }()
			sink, ok := s.sinks[instrument]
			if !ok {
				s.logger.Warn("no storage sink for instrument, dropping batch", "instrument", instrument, "count", len(events))
				return
			}
			for _, e := range events {
				if _, err := sink.Write(e.TimestampNs, e.Kind, e.Payload); err != nil {
					s.logger.Error("storage write failed", "instrument", instrument, "error", err)
				}
			}
			if s.metrics != nil {
				s.metrics.SubscriberBatchesTotal.WithLabelValues(instrument).Inc()
			}
		}()
	}
	for range grouped {
		<-done
	}
}

// Stop signals Run to flush and exit, and waits for it to finish.
func (s *Subscriber) Stop() {
	close(s.stop)
	<-s.done
}
