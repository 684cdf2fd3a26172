// Package broker implements the notification broker (spec §4.8, C8):
// fixed-capacity priority queues, message-id dedup, and a fixed-tick
// scheduler that drains queues by strict priority. The scheduler's
// ticker+select shape is grounded on the teacher's Hub.Run broadcast
// loop (internal/api/stream.go), generalized from a single broadcast
// channel to four priority queues drained in one pass per tick.
package broker

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// Queue capacities per priority (spec §4.8, "Four fixed-capacity queues").
const (
	capP0 = 10_000
	capP1 = 50_000
	capP2 = 100_000
	capP3 = 50_000
)

const dedupCacheSize = 10_000

// Sender is a non-blocking delivery channel the broker routes
// notifications onto: one per gateway, or one per global subscriber
// (spec §4.8, "gateway_senders" / "global_subscribers").
type Sender chan model.Notification

// Options configures queue capacities and dispatch cadence (spec §6.4).
type Options struct {
	QueueCapacity    int // overrides all four priority caps when > 0, for tests
	DedupCacheSize   int
	DispatchInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.DedupCacheSize <= 0 {
		o.DedupCacheSize = dedupCacheSize
	}
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = 100 * time.Microsecond
	}
}

// Broker routes notifications from the trading core to subscribed
// gateways and global subscribers (spec §4.8).
type Broker struct {
	opts Options

	mu               sync.RWMutex
	gatewaySenders   map[string]Sender
	userToGateways   map[string][]string
	globalSubscribers map[string]Sender

	queues [4]chan model.Notification
	dedup  *lru.Cache[string, struct{}]

	metrics *metrics.Registry
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func New(opts Options, reg *metrics.Registry, logger *slog.Logger) *Broker {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	caps := [4]int{capP0, capP1, capP2, capP3}
	if opts.QueueCapacity > 0 {
		caps = [4]int{opts.QueueCapacity, opts.QueueCapacity, opts.QueueCapacity, opts.QueueCapacity}
	}

	dedup, _ := lru.New[string, struct{}](opts.DedupCacheSize)

	b := &Broker{
		opts:              opts,
		gatewaySenders:    make(map[string]Sender),
		userToGateways:    make(map[string][]string),
		globalSubscribers: make(map[string]Sender),
		dedup:             dedup,
		metrics:           reg,
		logger:            logger.With("component", "broker"),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	for i, c := range caps {
		b.queues[i] = make(chan model.Notification, c)
	}
	return b
}

func (b *Broker) RegisterGateway(id string, sender Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gatewaySenders[id] = sender
}

func (b *Broker) UnregisterGateway(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.gatewaySenders, id)
	for user, gws := range b.userToGateways {
		b.userToGateways[user] = removeString(gws, id)
	}
}

func (b *Broker) Subscribe(userID, gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.userToGateways[userID] {
		if g == gatewayID {
			return
		}
	}
	b.userToGateways[userID] = append(b.userToGateways[userID], gatewayID)
}

func (b *Broker) Unsubscribe(userID, gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userToGateways[userID] = removeString(b.userToGateways[userID], gatewayID)
}

func (b *Broker) SubscribeGlobal(id string, sender Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubscribers[id] = sender
}

func (b *Broker) UnsubscribeGlobal(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.globalSubscribers, id)
}

// Publish enqueues a notification per spec §4.8, "publish(notification)":
// dedup by message_id, then enqueue on its priority queue, dropping (with
// a counter) if that queue is full.
func (b *Broker) Publish(n model.Notification) {
	if !n.Priority.Valid() {
		n.Priority = model.PriorityP3
	}
	if _, seen := b.dedup.Get(n.MessageID); seen {
		if b.metrics != nil {
			b.metrics.BrokerDedupHitsTotal.Inc()
		}
		return
	}
	b.dedup.Add(n.MessageID, struct{}{})

	select {
	case b.queues[n.Priority] <- n:
		if b.metrics != nil {
			b.metrics.BrokerQueueDepth.WithLabelValues(priorityLabel(n.Priority)).Set(float64(len(b.queues[n.Priority])))
		}
	default:
		if b.metrics != nil {
			b.metrics.BrokerDroppedTotal.WithLabelValues(priorityLabel(n.Priority)).Inc()
		}
		b.logger.Warn("priority queue full, dropping notification", "priority", n.Priority, "message_id", n.MessageID)
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

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Run starts the dispatch scheduler: every DispatchInterval, drain P0 and
// P1 fully, then up to 100 from P2 and up to 50 from P3 (spec §4.8,
// "Dispatch loop"). Blocks until Stop is called.
func (b *Broker) Run() {
	defer close(b.done)
	ticker := time.NewTicker(b.opts.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.dispatchOnce()
		}
	}
}

func (b *Broker) dispatchOnce() {
	drainAll(b.queues[model.PriorityP0], b.route)
	drainAll(b.queues[model.PriorityP1], b.route)
	drainUpTo(b.queues[model.PriorityP2], 100, b.route)
	drainUpTo(b.queues[model.PriorityP3], 50, b.route)
}

func drainAll(q chan model.Notification, route func(model.Notification)) {
	for {
		select {
		case n := <-q:
			route(n)
		default:
			return
		}
	}
}

func drainUpTo(q chan model.Notification, max int, route func(model.Notification)) {
	for i := 0; i < max; i++ {
		select {
		case n := <-q:
			route(n)
		default:
			return
		}
	}
}

// route sends n to every gateway subscribed to n.UserID and to every
// global subscriber, via non-blocking send (spec §4.8, "Route a message").
func (b *Broker) route(n model.Notification) {
	b.mu.RLock()
	gatewayIDs := append([]string(nil), b.userToGateways[n.UserID]...)
	senders := make([]Sender, 0, len(gatewayIDs))
	for _, id := range gatewayIDs {
		if s, ok := b.gatewaySenders[id]; ok {
			senders = append(senders, s)
		}
	}
	for _, s := range b.globalSubscribers {
		senders = append(senders, s)
	}
	b.mu.RUnlock()

	for _, s := range senders {
		select {
		case s <- n:
		default:
			if b.metrics != nil {
				b.metrics.BrokerRouteFailedTotal.Inc()
			}
		}
	}
}

func (b *Broker) Stop() {
	close(b.stop)
	<-b.done
}
