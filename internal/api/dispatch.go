package api

import (
	"log/slog"

	"github.com/segmentio/encoding/json"
	"github.com/valyala/fastjson"

	"exchanged/internal/broker"
	"exchanged/internal/diffsync"
	"exchanged/internal/gateway"
	"exchanged/pkg/model"
)

// Dispatcher routes decoded client frames into the gateway/diffsync
// core (spec §6.1). Frame bodies are peeked with fastjson to read aid
// cheaply before the full decode, avoiding an allocation-heavy decode
// into a fat union struct for every frame.
type Dispatcher struct {
	gateway   *gateway.Gateway
	diffsync  *diffsync.Manager
	auth      Authenticator
	router    OrderRouter
	logger    *slog.Logger

	broker    *broker.Broker
	gatewayID string

	parserPool fastjson.ParserPool
}

// SetBroker wires the notification broker so logged-in users get
// subscribed to this dispatcher's gateway for push delivery (spec
// §4.8's userToGateways, populated on req_login and removed on
// connection close).
// Left unset, push delivery is simply inert and peek_message still works.
func (d *Dispatcher) SetBroker(br *broker.Broker, gatewayID string) {
	d.broker = br
	d.gatewayID = gatewayID
}

func NewDispatcher(gw *gateway.Gateway, diffsyncMgr *diffsync.Manager, auth Authenticator, router OrderRouter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if router == nil {
		router = NoopOrderRouter{}
	}
	return &Dispatcher{
		gateway:  gw,
		diffsync: diffsyncMgr,
		auth:     auth,
		router:   router,
		logger:   logger.With("component", "api-dispatch"),
	}
}

// Dispatch decodes one client frame and routes it to its handler (spec
// §6.1's client->server action set).
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	p := d.parserPool.Get()
	defer d.parserPool.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed frame: "+err.Error()))
		return
	}
	aid := string(v.GetStringBytes("aid"))

	switch aid {
	case ActionLogin:
		d.handleLogin(c, raw)
	case ActionPeekMessage:
		d.handlePeek(c)
	case ActionSubscribeQuote:
		d.handleSubscribeQuote(c, raw)
	case ActionInsertOrder:
		d.handleInsertOrder(c, raw)
	case ActionCancelOrder:
		d.handleCancelOrder(c, raw)
	case ActionSetChart:
		d.handleSetChart(c, raw)
	default:
		d.sendDirect(c, protocolErrorFrame("unknown aid: "+aid))
	}
}

func (d *Dispatcher) handleLogin(c *Client, raw []byte) {
	var f LoginFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed req_login"))
		return
	}
	userID, ok := d.auth.Authenticate(f.UserName, f.Password)
	if !ok {
		d.sendDirect(c, RtnDataFrame{AID: ActionRtnData, Data: []map[string]any{
			notifyPatch("login", model.NotifyEntry{Type: "MESSAGE", Level: "ERROR", Code: CodeLoginBase + 1, Content: "invalid credentials"}),
		}})
		return
	}

	c.setUserID(userID)
	d.gateway.RegisterSession(c.sessionID, userID, c.send)
	if d.broker != nil {
		d.broker.Subscribe(userID, d.gatewayID)
	}

	snapshot := d.diffsync.GetSnapshot(userID)
	d.diffsync.PushPatch(userID, notifyPatch("login", model.NotifyEntry{Type: "MESSAGE", Level: "INFO", Code: CodeSuccess, Content: "login ok"}))
	d.sendDirect(c, RtnDataFrame{AID: ActionRtnData, Data: []map[string]any{snapshot}})
}

func (d *Dispatcher) handlePeek(c *Client) {
	userID := c.getUserID()
	if userID == "" {
		d.sendDirect(c, protocolErrorFrame("peek_message before req_login"))
		return
	}
	patches := d.diffsync.Peek(userID, 0)
	d.sendDirect(c, RtnDataFrame{AID: ActionRtnData, Data: patches})
}

func (d *Dispatcher) handleSubscribeQuote(c *Client, raw []byte) {
	userID := c.getUserID()
	if userID == "" {
		d.sendDirect(c, protocolErrorFrame("subscribe_quote before req_login"))
		return
	}
	var f SubscribeQuoteFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed subscribe_quote"))
		return
	}
	d.diffsync.SubscribeQuote(userID, f.InsList)
}

func (d *Dispatcher) handleSetChart(c *Client, raw []byte) {
	userID := c.getUserID()
	if userID == "" {
		d.sendDirect(c, protocolErrorFrame("set_chart before req_login"))
		return
	}
	var f SetChartFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed set_chart"))
		return
	}
	d.diffsync.SetChart(userID, diffsync.ChartRequest{
		ChartID: f.ChartID, InsList: f.InsList, DurationNs: f.DurationNs, ViewWidth: f.ViewWidth,
	})
}

func (d *Dispatcher) handleInsertOrder(c *Client, raw []byte) {
	userID := c.getUserID()
	if userID == "" {
		d.sendDirect(c, protocolErrorFrame("insert_order before req_login"))
		return
	}
	var f InsertOrderFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed insert_order"))
		return
	}
	fields, notifyID, notify := d.router.InsertOrder(f)
	d.diffsync.ApplyOrderUpdate(userID, f.OrderID, fields, notifyID, notify)
}

func (d *Dispatcher) handleCancelOrder(c *Client, raw []byte) {
	userID := c.getUserID()
	if userID == "" {
		d.sendDirect(c, protocolErrorFrame("cancel_order before req_login"))
		return
	}
	var f CancelOrderFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.sendDirect(c, protocolErrorFrame("malformed cancel_order"))
		return
	}
	fields, notifyID, notify := d.router.CancelOrder(f)
	d.diffsync.ApplyOrderUpdate(userID, f.OrderID, fields, notifyID, notify)
}

// HandleDisconnect unwinds a client's gateway session and broker
// subscription on socket close (spec §4.9's unregister_session, §4.8's
// Unsubscribe).
func (d *Dispatcher) HandleDisconnect(c *Client) {
	userID := c.getUserID()
	if userID == "" {
		return
	}
	d.gateway.UnregisterSession(c.sessionID)
	if d.broker != nil {
		d.broker.Unsubscribe(userID, d.gatewayID)
	}
}

// sendDirect marshals and non-blocking-sends a frame straight to the
// client's socket, bypassing the broker/gateway (used for pre-login
// responses and protocol errors, spec §7 "ProtocolError ... surfaced to
// client as a notify ... connection kept").
func (d *Dispatcher) sendDirect(c *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		d.logger.Error("failed to marshal direct frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		d.logger.Warn("client send buffer full, dropping direct frame", "session_id", c.sessionID)
	}
}

func protocolErrorFrame(content string) RtnDataFrame {
	return RtnDataFrame{
		AID: ActionRtnData,
		Data: []map[string]any{
			notifyPatch("protocol", model.NotifyEntry{Type: "MESSAGE", Level: "ERROR", Code: 9000, Content: content}),
		},
	}
}
