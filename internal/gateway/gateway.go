// Package gateway implements the notification gateway (spec §4.9, C9):
// per-session subscription filtering and priority-aware push, sitting
// between the broker and the WebSocket transport. The session registry
// and push loop are grounded on the teacher's api.Hub register/unregister/
// broadcast channel shape (internal/api/stream.go), generalized from a
// single undifferentiated broadcast to per-session subscription filtering
// and batching.
package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"

	"exchanged/pkg/metrics"
	"exchanged/pkg/model"
)

// SessionInfo mirrors spec §4.9's state shape: user_id, output_channel,
// subscriptions, last_active.
type SessionInfo struct {
	SessionID string
	UserID    string
	Output    chan []byte

	mu            sync.Mutex
	subscriptions map[string]struct{}
	batch         []model.Notification
	lastActiveNs  int64 // unix nanoseconds, atomic
}

func newSession(id, userID string, output chan []byte) *SessionInfo {
	return &SessionInfo{
		SessionID:     id,
		UserID:        userID,
		Output:        output,
		subscriptions: make(map[string]struct{}),
		lastActiveNs:  nowNs(),
	}
}

func nowNs() int64 { return time.Now().UnixNano() }

func (s *SessionInfo) touch() { atomic.StoreInt64(&s.lastActiveNs, nowNs()) }

func (s *SessionInfo) idleSince(ref time.Time) time.Duration {
	last := atomic.LoadInt64(&s.lastActiveNs)
	return ref.Sub(time.Unix(0, last))
}

// accepts reports whether this session wants messages on the given
// channel. An empty subscription set means "receive all" (spec §4.9,
// "Empty subscription set = receive all — the default").
func (s *SessionInfo) accepts(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscriptions) == 0 {
		return true
	}
	_, ok := s.subscriptions[channel]
	return ok
}

// Options configures push batching and idle reaping (spec §6.4).
type Options struct {
	BatchWindow  time.Duration
	ReapInterval time.Duration
	IdleTimeout  time.Duration
}

func (o *Options) setDefaults() {
	if o.BatchWindow <= 0 {
		o.BatchWindow = 100 * time.Millisecond
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 300 * time.Second
	}
}

const batchFlushSize = 100

// actionRtnData names the one server -> client content frame (spec §6.1,
// "rtn_data is the only content frame"). Gateway pushes must arrive inside
// this envelope, the same as every other server -> client payload, rather
// than as a bare notification array with no aid discriminator.
const actionRtnData = "rtn_data"

// rtnDataFrame mirrors internal/api's wire shape for rtn_data; it is
// redefined locally rather than imported to avoid a cycle (internal/api
// already imports this package for session registration).
type rtnDataFrame struct {
	AID  string           `json:"aid"`
	Data []map[string]any `json:"data"`
}

func notifyLevel(t model.MessageType) string {
	switch t {
	case model.MessageRiskAlert, model.MessageMarginCall:
		return "WARNING"
	default:
		return "INFO"
	}
}

// notifyPatches converts a batch of broker notifications into merge
// patches against the business snapshot's notify.<message_id> entries
// (spec §3, "Notification record"), so a gateway push surfaces through
// the same rtn_data path as every other snapshot update.
func notifyPatches(notifications []model.Notification) []map[string]any {
	patches := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		patches = append(patches, map[string]any{
			"notify": map[string]any{
				n.MessageID: map[string]any{
					"type":         string(n.MessageType),
					"level":        notifyLevel(n.MessageType),
					"payload":      n.Payload,
					"timestamp_ns": n.TimestampNs,
					"source":       n.Source,
				},
			},
		})
	}
	return patches
}

// Gateway owns one process's set of client sessions and pushes broker
// notifications to the ones subscribed to receive them (spec §4.9).
type Gateway struct {
	id string

	mu           sync.RWMutex
	sessions     map[string]*SessionInfo
	userSessions map[string][]string

	inbound chan model.Notification

	opts    Options
	metrics *metrics.Registry
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a Gateway with its own inbound channel; callers register it
// with the broker via broker.RegisterGateway(id, Inbound()).
func New(id string, opts Options, reg *metrics.Registry, logger *slog.Logger) *Gateway {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		id:           id,
		sessions:     make(map[string]*SessionInfo),
		userSessions: make(map[string][]string),
		inbound:      make(chan model.Notification, 4096),
		opts:         opts,
		metrics:      reg,
		logger:       logger.With("component", "gateway", "gateway_id", id),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Inbound is the channel the broker sends routed notifications to; pass
// this to broker.RegisterGateway as the Sender.
func (g *Gateway) Inbound() chan model.Notification { return g.inbound }

// RegisterSession adds a session (spec §4.9, "register_session").
func (g *Gateway) RegisterSession(sessionID, userID string, output chan []byte) *SessionInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := newSession(sessionID, userID, output)
	g.sessions[sessionID] = s
	g.userSessions[userID] = append(g.userSessions[userID], sessionID)
	if g.metrics != nil {
		g.metrics.GatewaySessionsActive.Set(float64(len(g.sessions)))
	}
	return s
}

// UnregisterSession removes a session from both maps (spec §4.9,
// "unregister_session").
func (g *Gateway) UnregisterSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return
	}
	delete(g.sessions, sessionID)
	g.userSessions[s.UserID] = removeString(g.userSessions[s.UserID], sessionID)
	if g.metrics != nil {
		g.metrics.GatewaySessionsActive.Set(float64(len(g.sessions)))
	}
}

// SubscribeChannels adds channel names to a session's subscription set
// (spec §4.9, "subscribe_channels").
func (g *Gateway) SubscribeChannels(sessionID string, channels []string) {
	g.mu.RLock()
	s, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		s.subscriptions[c] = struct{}{}
	}
}

func (g *Gateway) UnsubscribeChannel(sessionID, channel string) {
	g.mu.RLock()
	s, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, channel)
}

func (g *Gateway) UnsubscribeAll(sessionID string) {
	g.mu.RLock()
	s, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]struct{})
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

// Run processes the inbound queue (push loop, spec §4.9) and the idle
// reaper on their own tickers. Blocks until Stop is called.
func (g *Gateway) Run() {
	defer close(g.done)
	reapTicker := time.NewTicker(g.opts.ReapInterval)
	defer reapTicker.Stop()
	batchTicker := time.NewTicker(g.opts.BatchWindow)
	defer batchTicker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case n := <-g.inbound:
			g.dispatch(n)
		case <-batchTicker.C:
			g.flushAllBatches()
		case <-reapTicker.C:
			g.reapIdle()
		}
	}
}

// dispatch implements spec §4.9's push loop body for one notification:
// look up the user's sessions, filter by subscription, send P0
// immediately, batch the rest.
func (g *Gateway) dispatch(n model.Notification) {
	g.mu.RLock()
	sessionIDs := append([]string(nil), g.userSessions[n.UserID]...)
	sessions := make([]*SessionInfo, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if s, ok := g.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	g.mu.RUnlock()

	channel := n.Channel()
	for _, s := range sessions {
		if !s.accepts(channel) {
			continue
		}
		if n.Priority == model.PriorityP0 {
			g.sendImmediate(s, []model.Notification{n})
			continue
		}
		s.mu.Lock()
		s.batch = append(s.batch, n)
		shouldFlush := len(s.batch) >= batchFlushSize
		var toFlush []model.Notification
		if shouldFlush {
			toFlush = s.batch
			s.batch = nil
		}
		s.mu.Unlock()
		if shouldFlush {
			g.sendImmediate(s, toFlush)
		}
	}
}

func (g *Gateway) flushAllBatches() {
	g.mu.RLock()
	sessions := make([]*SessionInfo, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		if len(s.batch) == 0 {
			s.mu.Unlock()
			continue
		}
		toFlush := s.batch
		s.batch = nil
		s.mu.Unlock()
		g.sendImmediate(s, toFlush)
	}
}

// sendImmediate marshals and non-blocking-sends to the session's output
// channel, updating last_active on success (spec §4.9, "Each successful
// send updates last_active"). The wire payload is an rtn_data frame
// carrying one merge patch per notification (spec §6.1, "rtn_data is the
// only content frame"), not a bare notification array.
func (g *Gateway) sendImmediate(s *SessionInfo, notifications []model.Notification) {
	data, err := json.Marshal(rtnDataFrame{AID: actionRtnData, Data: notifyPatches(notifications)})
	if err != nil {
		g.logger.Error("failed to marshal notification batch", "error", err)
		return
	}
	select {
	case s.Output <- data:
		s.touch()
		if g.metrics != nil {
			for _, n := range notifications {
				g.metrics.GatewayPushedTotal.WithLabelValues(n.Channel()).Inc()
			}
		}
	default:
		g.logger.Warn("session output channel full, dropping push", "session_id", s.SessionID)
	}
}

// reapIdle removes sessions idle longer than IdleTimeout (spec §4.9,
// "Idle reaper").
func (g *Gateway) reapIdle() {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.sessions {
		if s.idleSince(now) > g.opts.IdleTimeout {
			delete(g.sessions, id)
			g.userSessions[s.UserID] = removeString(g.userSessions[s.UserID], id)
			g.logger.Info("reaped idle session", "session_id", id, "user_id", s.UserID)
		}
	}
	if g.metrics != nil {
		g.metrics.GatewaySessionsActive.Set(float64(len(g.sessions)))
	}
}

func (g *Gateway) Stop() {
	close(g.stop)
	<-g.done
}
