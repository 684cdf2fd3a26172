package api

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"

	"exchanged/internal/diffsync"
	"exchanged/internal/gateway"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *InMemoryAuthenticator) {
	t.Helper()
	gw := gateway.New("gw-test", gateway.Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go gw.Run()
	t.Cleanup(gw.Stop)

	diffsyncMgr := diffsync.New(diffsync.Options{})

	auth := NewInMemoryAuthenticator()
	auth.AddUser("alice", "secret", "user1")

	return NewDispatcher(gw, diffsyncMgr, auth, NoopOrderRouter{}, nil), auth
}

func newTestClient(d *Dispatcher) *Client {
	return &Client{dispatcher: d, send: make(chan []byte, 16), sessionID: "sess1"}
}

func TestDispatchLoginSuccessReturnsSnapshot(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)

	frame, _ := json.Marshal(LoginFrame{AID: ActionLogin, UserName: "alice", Password: "secret"})
	d.Dispatch(c, frame)

	if c.getUserID() != "user1" {
		t.Fatalf("got user id %q, want user1", c.getUserID())
	}

	select {
	case <-c.send:
	default:
		t.Fatal("expected a snapshot rtn_data frame after successful login")
	}
}

func TestDispatchLoginFailureSendsNotify(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)

	frame, _ := json.Marshal(LoginFrame{AID: ActionLogin, UserName: "alice", Password: "wrong"})
	d.Dispatch(c, frame)

	if c.getUserID() != "" {
		t.Fatal("expected user id to remain unset on failed login")
	}

	select {
	case raw := <-c.send:
		var got RtnDataFrame
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if len(got.Data) != 1 {
			t.Fatalf("expected one notify patch, got %d", len(got.Data))
		}
	default:
		t.Fatal("expected a notify frame on failed login")
	}
}

func TestDispatchPeekBeforeLoginIsProtocolError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)

	frame, _ := json.Marshal(Frame{AID: ActionPeekMessage})
	d.Dispatch(c, frame)

	select {
	case raw := <-c.send:
		var got RtnDataFrame
		json.Unmarshal(raw, &got)
		notify := got.Data[0]["notify"].(map[string]any)
		proto := notify["protocol"].(map[string]any)
		if proto["level"] != "ERROR" {
			t.Fatalf("expected ERROR level, got %v", proto["level"])
		}
	default:
		t.Fatal("expected a protocol error frame")
	}
}

func TestDispatchSubscribeQuoteUpdatesSnapshot(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)
	c.setUserID("user1")

	frame, _ := json.Marshal(SubscribeQuoteFrame{AID: ActionSubscribeQuote, InsList: "BTC-USD,ETH-USD"})
	d.Dispatch(c, frame)

	snap := d.diffsync.GetSnapshot("user1")
	if snap["ins_list"] != "BTC-USD,ETH-USD" {
		t.Fatalf("got %v, want BTC-USD,ETH-USD", snap["ins_list"])
	}
}

func TestDispatchInsertOrderRoutesThroughOrderRouterAndPatchesSnapshot(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)
	c.setUserID("user1")

	frame, _ := json.Marshal(InsertOrderFrame{AID: ActionInsertOrder, UserID: "user1", OrderID: "ord1", InstrumentID: "BTC-USD", Direction: "BUY", Volume: 10})
	d.Dispatch(c, frame)

	snap := d.diffsync.GetSnapshot("user1")
	trade := snap["trade"].(map[string]any)
	userTrade := trade["user1"].(map[string]any)
	orders := userTrade["orders"].(map[string]any)
	if _, ok := orders["ord1"]; !ok {
		t.Fatal("expected order ord1 to be merged into snapshot by NoopOrderRouter result")
	}
}

func TestDispatchUnknownAIDIsProtocolError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	c := newTestClient(d)

	d.Dispatch(c, []byte(`{"aid":"bogus_action"}`))

	select {
	case raw := <-c.send:
		var got RtnDataFrame
		json.Unmarshal(raw, &got)
		if got.AID != ActionRtnData {
			t.Fatalf("got aid %q, want %q", got.AID, ActionRtnData)
		}
	default:
		t.Fatal("expected a protocol error frame for unknown aid")
	}
}
