package model

import "time"

// Account mirrors the external interoperability protocol's account fields
// (spec §3, "Business snapshot"). Fields are exact decimals, never
// canonicalized.
type Account struct {
	Currency    string `json:"-"`
	Balance     Dec    `json:"balance"`
	Available   Dec    `json:"available"`
	Margin      Dec    `json:"margin"`
	FloatProfit Dec    `json:"float_profit"`
	RiskRatio   Dec    `json:"risk_ratio"`
}

// Position mirrors long/short volumes, open prices, and float profit.
type Position struct {
	Instrument     string `json:"-"`
	VolumeLongToday Dec   `json:"volume_long_today"`
	VolumeShortToday Dec  `json:"volume_short_today"`
	OpenPriceLong  Dec    `json:"open_price_long"`
	OpenPriceShort Dec    `json:"open_price_short"`
	FloatProfit    Dec    `json:"float_profit"`
}

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	OrderStatusAlive    OrderStatus = "ALIVE"
	OrderStatusFinished OrderStatus = "FINISHED"
	OrderStatusCanceled OrderStatus = "CANCELLED"
)

// Order mirrors status, volume_left, limit_price and identifying fields.
type Order struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"-"`
	Instrument  string      `json:"instrument_id"`
	Direction   string      `json:"direction"` // BUY|SELL
	Offset      string      `json:"offset"`    // OPEN|CLOSE|CLOSE_TODAY
	VolumeOrign Dec         `json:"volume_orign"`
	VolumeLeft  Dec         `json:"volume_left"`
	LimitPrice  Dec         `json:"limit_price"`
	PriceType   string      `json:"price_type"`
	Status      OrderStatus `json:"status"`
	InsertTime  int64       `json:"insert_date_time"`
}

// Trade mirrors price, volume and identifying fields.
type Trade struct {
	TradeID    string `json:"trade_id"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"-"`
	Instrument string `json:"instrument_id"`
	Direction  string `json:"direction"`
	Offset     string `json:"offset"`
	Price      Dec    `json:"price"`
	Volume     Dec    `json:"volume"`
	TradeTime  int64  `json:"trade_date_time"`
}

// Quote mirrors instrument top-of-book/last-tick state.
type Quote struct {
	Instrument   string    `json:"instrument_id"`
	LastPrice    Dec       `json:"last_price"`
	BidPrice     Dec       `json:"bid_price1"`
	AskPrice     Dec       `json:"ask_price1"`
	BidVolume    Dec       `json:"bid_volume1"`
	AskVolume    Dec       `json:"ask_volume1"`
	UpdatedAtNs  int64     `json:"updated_at_ns"`
	ReceivedTime time.Time `json:"-"`
}

// Bar is one K-line/candle entry for an instrument+period.
type Bar struct {
	ID        int64 `json:"id"`
	Open      Dec   `json:"open"`
	High      Dec   `json:"high"`
	Low       Dec   `json:"low"`
	Close     Dec   `json:"close"`
	Volume    Dec   `json:"volume"`
	OpenOI    Dec   `json:"open_oi"`
	CloseOI   Dec   `json:"close_oi"`
	StartNs   int64 `json:"datetime"`
}

// NotifyEntry mirrors the notify.<id> shape embedded in the business
// snapshot (spec §3, "Notification record" and §6.1 error codes).
type NotifyEntry struct {
	Type    string `json:"type"`
	Level   string `json:"level"` // MESSAGE|INFO|WARNING|ERROR
	Code    int    `json:"code"`
	Content string `json:"content"`
}

// UserTrade is the per-user slice of the business snapshot
// ("trade.<user_id>" in spec §3).
type UserTrade struct {
	Accounts  map[string]*Account  `json:"accounts"`
	Positions map[string]*Position `json:"positions"`
	Orders    map[string]*Order    `json:"orders"`
	Trades    map[string]*Trade    `json:"trades"`
}

// NewUserTrade returns an empty, ready-to-patch UserTrade.
func NewUserTrade() *UserTrade {
	return &UserTrade{
		Accounts:  map[string]*Account{},
		Positions: map[string]*Position{},
		Orders:    map[string]*Order{},
		Trades:    map[string]*Trade{},
	}
}
