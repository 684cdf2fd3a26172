package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"exchanged/pkg/model"
)

func TestRegisterAndDispatchP0Immediate(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP0, MessageType: model.MessageRiskAlert}

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected P0 notification to be pushed immediately")
	}
}

func TestPushIsWrappedInRtnDataFrame(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP0, MessageType: model.MessageRiskAlert}

	var raw []byte
	select {
	case raw = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected P0 notification to be pushed immediately")
	}

	var frame struct {
		AID  string           `json:"aid"`
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("push did not decode as a frame: %v", err)
	}
	if frame.AID != "rtn_data" {
		t.Fatalf("aid = %q, want rtn_data", frame.AID)
	}
	if len(frame.Data) != 1 {
		t.Fatalf("data length = %d, want 1", len(frame.Data))
	}
	notify, ok := frame.Data[0]["notify"].(map[string]any)
	if !ok {
		t.Fatalf("expected data[0].notify to be a merge patch, got %#v", frame.Data[0])
	}
	if _, ok := notify["m1"]; !ok {
		t.Fatalf("expected notify.m1 entry, got %#v", notify)
	}
}

func TestDispatchFiltersBySubscription(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)
	g.SubscribeChannels("sess1", []string{"account"})

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP0, MessageType: model.MessageRiskAlert}

	select {
	case <-out:
		t.Fatal("did not expect a risk notification when only subscribed to account")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchEmptySubscriptionReceivesAll(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP0, MessageType: model.MessageRiskAlert}

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected session with no subscriptions to receive all channels")
	}
}

func TestNonP0BatchesUntilFlushSize(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	for i := 0; i < batchFlushSize-1; i++ {
		g.inbound <- model.Notification{MessageID: string(rune('a' + i%26)), UserID: "user1", Priority: model.PriorityP2, MessageType: model.MessageAccountUpdate}
	}

	select {
	case <-out:
		t.Fatal("did not expect a push before batch size reached")
	case <-time.After(50 * time.Millisecond):
	}

	g.inbound <- model.Notification{MessageID: "last", UserID: "user1", Priority: model.PriorityP2, MessageType: model.MessageAccountUpdate}

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected batch to flush once it reached batchFlushSize")
	}
}

func TestBatchFlushesOnTimer(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow:20 * time.Millisecond, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP3, MessageType: model.MessageSystemNotice}

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected batch timer to flush the pending notification")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval: time.Hour, IdleTimeout: time.Hour}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)
	g.UnregisterSession("sess1")

	g.inbound <- model.Notification{MessageID: "m1", UserID: "user1", Priority: model.PriorityP0, MessageType: model.MessageRiskAlert}

	select {
	case <-out:
		t.Fatal("did not expect delivery after unregister")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReapIdleRemovesStaleSessions(t *testing.T) {
	t.Parallel()
	g := New("gw-test", Options{BatchWindow: time.Hour, ReapInterval:10 * time.Millisecond, IdleTimeout: 20 * time.Millisecond}, nil, nil)
	go g.Run()
	defer g.Stop()

	out := make(chan []byte, 4)
	g.RegisterSession("sess1", "user1", out)

	deadline := time.After(time.Second)
	for {
		g.mu.RLock()
		_, ok := g.sessions["sess1"]
		g.mu.RUnlock()
		if !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected idle session to be reaped")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
