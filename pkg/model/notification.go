package model

// Priority is the broker's four fixed levels; 0 is highest (spec §3, §4.8).
type Priority int

const (
	PriorityP0 Priority = 0
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
	PriorityP3 Priority = 3
)

func (p Priority) Valid() bool { return p >= PriorityP0 && p <= PriorityP3 }

// MessageType is the closed set of notification kinds (spec §3).
type MessageType string

const (
	MessageOrderAccepted MessageType = "OrderAccepted"
	MessageOrderFilled   MessageType = "OrderFilled"
	MessageTradeExecuted MessageType = "TradeExecuted"
	MessageAccountUpdate MessageType = "AccountUpdate"
	MessagePositionUpdate MessageType = "PositionUpdate"
	MessageRiskAlert     MessageType = "RiskAlert"
	MessageMarginCall    MessageType = "MarginCall"
	MessageSystemNotice  MessageType = "SystemNotice"
)

// Channel returns the static channel name for a message type (spec §3,
// "Channel for each message type is a static function of the type").
func (t MessageType) Channel() string {
	switch t {
	case MessageOrderAccepted, MessageOrderFilled:
		return "trade"
	case MessageTradeExecuted:
		return "trade"
	case MessageAccountUpdate:
		return "account"
	case MessagePositionUpdate:
		return "position"
	case MessageRiskAlert, MessageMarginCall:
		return "risk"
	case MessageSystemNotice:
		return "system"
	default:
		return "system"
	}
}

// TradeExecutedPayload is the trade-executed notification payload. Per
// spec §9's Open Question, FrozenMargin and Offset are informational and
// may be zero/empty until a producer computes them.
type TradeExecutedPayload struct {
	TradeID      string `json:"trade_id"`
	OrderID      string `json:"order_id"`
	Instrument   string `json:"instrument_id"`
	Price        Dec    `json:"price"`
	Volume       Dec    `json:"volume"`
	FrozenMargin Dec    `json:"frozen_margin,omitempty"`
	Offset       string `json:"offset,omitempty"`
}

// Notification is one broker/gateway message (spec §3).
type Notification struct {
	MessageID   string      `json:"message_id"`
	MessageType MessageType `json:"message_type"`
	UserID      string      `json:"user_id"`
	Priority    Priority    `json:"priority"`
	Payload     any         `json:"payload"`
	TimestampNs int64       `json:"timestamp_ns"`
	Source      string      `json:"source"`
}

// Channel is a convenience accessor over MessageType.Channel().
func (n Notification) Channel() string { return n.MessageType.Channel() }
