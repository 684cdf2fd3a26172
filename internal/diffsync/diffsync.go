// Package diffsync implements the differential-sync snapshot manager
// (spec §4.10, C10): a per-user business snapshot maintained by applying
// JSON Merge Patches, with a long-poll peek/drain loop feeding the
// "rtn_data" frame. The signal-channel-based wait-with-timeout is
// grounded on the teacher's non-blocking channel-send idiom used
// throughout internal/exchange and internal/api, substituted for a
// condvar (spec's "condvar" state is realized here as a buffered
// notify channel plus a drain loop, since sync.Cond has no timeout).
package diffsync

import (
	"strings"
	"sync"
	"time"

	"exchanged/pkg/model"
)

const defaultPeekTimeout = 30 * time.Second

// userState holds one user's snapshot and outbound patch queue (spec
// §4.10, "State").
type userState struct {
	mu       sync.Mutex
	snapshot map[string]any
	pending  []map[string]any
	notify   chan struct{}
}

func newUserState() *userState {
	return &userState{
		snapshot: make(map[string]any),
		notify:   make(chan struct{}, 1),
	}
}

func (u *userState) pushLocked(patch map[string]any) {
	u.snapshot = applyMergePatch(u.snapshot, patch).(map[string]any)
	u.pending = append(u.pending, patch)
}

func (u *userState) signal() {
	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// peek implements spec §4.10's peek(user_id, timeout): drains
// pending immediately if non-empty, else blocks up to timeout.
func (u *userState) peek(timeout time.Duration) []map[string]any {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		u.mu.Lock()
		if len(u.pending) > 0 {
			drained := u.pending
			u.pending = nil
			u.snapshot = pruneEmpty(u.snapshot).(map[string]any)
			u.mu.Unlock()
			return drained
		}
		u.mu.Unlock()

		select {
		case <-u.notify:
			continue
		case <-deadline.C:
			return nil
		}
	}
}

// Manager owns every connected user's business snapshot (spec §4.10).
type Manager struct {
	mu           sync.RWMutex
	users        map[string]*userState
	peekTimeout  time.Duration
}

// Options configures the default peek timeout (spec §4.10, "default
// 30 s").
type Options struct {
	PeekTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.PeekTimeout <= 0 {
		o.PeekTimeout = defaultPeekTimeout
	}
}

func New(opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		users:       make(map[string]*userState),
		peekTimeout: opts.PeekTimeout,
	}
}

func (m *Manager) stateFor(userID string) *userState {
	m.mu.RLock()
	u, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return u
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok = m.users[userID]; ok {
		return u
	}
	u = newUserState()
	m.users[userID] = u
	return u
}

// PushPatch applies patch to the user's snapshot and queues it for the
// next peek drain (spec §4.10, "push_patch").
func (m *Manager) PushPatch(userID string, patch map[string]any) {
	u := m.stateFor(userID)
	u.mu.Lock()
	u.pushLocked(patch)
	u.mu.Unlock()
	u.signal()
}

// Peek drains pending patches for userID, blocking up to timeout (0
// uses the manager default) if none are pending yet (spec §4.10,
// "peek").
func (m *Manager) Peek(userID string, timeout time.Duration) []map[string]any {
	if timeout <= 0 {
		timeout = m.peekTimeout
	}
	return m.stateFor(userID).peek(timeout)
}

// GetSnapshot returns a deep copy of the user's full snapshot (spec
// §4.10, "get_snapshot"), used on session bootstrap.
func (m *Manager) GetSnapshot(userID string) map[string]any {
	u := m.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return deepCopyJSON(u.snapshot).(map[string]any)
}

// SubscribeQuote replaces userID's quote instrument list wholesale
// (spec §4.10, "Quote subscription": "whole-string replacement"; spec
// §3's snapshot schema has ins_list as a top-level sibling of trade/
// quotes/klines/notify, not nested under a "quote" key).
func (m *Manager) SubscribeQuote(userID, insList string) {
	m.PushPatch(userID, map[string]any{"ins_list": insList})
}

// quoteFields projects a model.Quote onto the plain map shape the
// snapshot's quotes.<instrument> entry carries on the wire.
func quoteFields(q model.Quote) map[string]any {
	return map[string]any{
		"last_price":    q.LastPrice,
		"bid_price1":    q.BidPrice,
		"ask_price1":    q.AskPrice,
		"bid_volume1":   q.BidVolume,
		"ask_volume1":   q.AskVolume,
		"updated_at_ns": q.UpdatedAtNs,
	}
}

func subscribesTo(insList, instrument string) bool {
	for _, id := range strings.Split(insList, ",") {
		if strings.TrimSpace(id) == instrument {
			return true
		}
	}
	return false
}

// BroadcastQuote patches quote into quotes.<instrument> for every user
// currently subscribed to that instrument via SubscribeQuote (spec §3's
// snapshot schema, "quotes" sibling of ins_list).
func (m *Manager) BroadcastQuote(quote model.Quote) {
	m.mu.RLock()
	users := make([]string, 0, len(m.users))
	for userID := range m.users {
		users = append(users, userID)
	}
	m.mu.RUnlock()

	fields := quoteFields(quote)
	for _, userID := range users {
		u := m.stateFor(userID)
		u.mu.Lock()
		insList, _ := u.snapshot["ins_list"].(string)
		u.mu.Unlock()
		if !subscribesTo(insList, quote.Instrument) {
			continue
		}
		m.PushPatch(userID, map[string]any{
			"quotes": map[string]any{quote.Instrument: fields},
		})
	}
}

// ChartRequest is the recorded state of a set_chart frame (spec §4.10,
// "Chart subscription"); ongoing bar delivery is out of scope here.
type ChartRequest struct {
	ChartID    string `json:"chart_id"`
	InsList    string `json:"ins_list"`
	DurationNs int64  `json:"duration_ns"`
	ViewWidth  int    `json:"view_width"`
}

// SetChart records a chart subscription in the snapshot without
// driving any bar delivery (spec §4.10, "recorded but ongoing delivery
// ... is out of scope of this spec").
func (m *Manager) SetChart(userID string, req ChartRequest) {
	m.PushPatch(userID, map[string]any{
		"chart": map[string]any{
			req.ChartID: map[string]any{
				"ins_list":    req.InsList,
				"duration_ns": req.DurationNs,
				"view_width":  req.ViewWidth,
			},
		},
	})
}

// ApplyOrderUpdate merges the order-router collaborator's result for
// orderID into trade.<userID>.orders and appends a notify entry (spec §4.10,
// "Order/cancel frames": "results come back as merge patches into
// trade.<user>.orders and as a notify entry"). The external
// order-router collaborator itself is out of scope; callers own
// producing fields and notifyID/entry from its response.
func (m *Manager) ApplyOrderUpdate(userID, orderID string, fields map[string]any, notifyID string, entry model.NotifyEntry) {
	patch := map[string]any{
		"trade": map[string]any{
			userID: map[string]any{
				"orders": map[string]any{
					orderID: fields,
				},
			},
		},
	}
	if notifyID != "" {
		patch["notify"] = map[string]any{
			notifyID: map[string]any{
				"type":    entry.Type,
				"level":   entry.Level,
				"code":    entry.Code,
				"content": entry.Content,
			},
		}
	}
	m.PushPatch(userID, patch)
}

// RemoveUser drops all state for a disconnected user.
func (m *Manager) RemoveUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}
