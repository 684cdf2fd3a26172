// Package api implements the client WebSocket protocol (spec §6.1):
// framed JSON carrying an "aid" action id, dispatched against the
// gateway/diffsync/order-router core. The Hub/Client lifecycle is
// adapted from the teacher's internal/api/stream.go dashboard
// broadcaster, generalized from a single fan-out broadcast to
// per-session subscription-filtered push plus a request/response frame
// dispatch loop.
package api

import "exchanged/pkg/model"

// Action ids recognized on client -> server frames (spec §6.1).
const (
	ActionLogin          = "req_login"
	ActionPeekMessage     = "peek_message"
	ActionSubscribeQuote = "subscribe_quote"
	ActionInsertOrder    = "insert_order"
	ActionCancelOrder    = "cancel_order"
	ActionSetChart       = "set_chart"
)

// ActionRtnData is the only server -> client content frame (spec §6.1).
const ActionRtnData = "rtn_data"

// Frame is the generic envelope every WebSocket message carries; aid
// selects how the remaining fields are interpreted.
type Frame struct {
	AID string `json:"aid"`
}

// LoginFrame is req_login's payload (spec §6.1).
type LoginFrame struct {
	AID      string `json:"aid"`
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

// SubscribeQuoteFrame is subscribe_quote's payload (spec §6.1, §4.10).
type SubscribeQuoteFrame struct {
	AID     string `json:"aid"`
	InsList string `json:"ins_list"`
}

// InsertOrderFrame is insert_order's payload (spec §6.1).
type InsertOrderFrame struct {
	AID             string  `json:"aid"`
	UserID          string  `json:"user_id"`
	OrderID         string  `json:"order_id"`
	InstrumentID    string  `json:"instrument_id"`
	Direction       string  `json:"direction"` // BUY|SELL
	Offset          string  `json:"offset"`    // OPEN|CLOSE|CLOSE_TODAY
	Volume          int64   `json:"volume"`
	PriceType       string  `json:"price_type"` // LIMIT|MARKET|ANY
	LimitPrice      float64 `json:"limit_price,omitempty"`
	TimeCondition   string  `json:"time_condition,omitempty"`
	VolumeCondition string  `json:"volume_condition,omitempty"`
}

// CancelOrderFrame is cancel_order's payload (spec §6.1).
type CancelOrderFrame struct {
	AID     string `json:"aid"`
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

// SetChartFrame is set_chart's payload (spec §6.1, §4.10).
type SetChartFrame struct {
	AID        string `json:"aid"`
	ChartID    string `json:"chart_id"`
	InsList    string `json:"ins_list"`
	DurationNs int64  `json:"duration_ns"`
	ViewWidth  int    `json:"view_width"`
}

// RtnDataFrame is the server's only content frame (spec §6.1,
// "rtn_data { data: [ merge-patch, ... ] }").
type RtnDataFrame struct {
	AID  string           `json:"aid"`
	Data []map[string]any `json:"data"`
}

// Reserved notify code groups (spec §6.1).
const (
	CodeSuccess      = 0
	CodeLoginBase    = 1000
	CodeOrderBase    = 2000
	CodeCancelBase   = 3000
)

func notifyPatch(notifyID string, entry model.NotifyEntry) map[string]any {
	return map[string]any{
		"notify": map[string]any{
			notifyID: map[string]any{
				"type":    entry.Type,
				"level":   entry.Level,
				"code":    entry.Code,
				"content": entry.Content,
			},
		},
	}
}
