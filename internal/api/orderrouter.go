package api

import "exchanged/pkg/model"

// OrderRouter is the external order-router collaborator insert_order
// and cancel_order frames are routed to (spec §4.10, "Order/cancel
// frames"). It is explicitly out of scope of this spec; this interface
// is the seam the engine wires a real matching/risk pipeline behind.
// Results come back as fields merged into trade.<user_id>.orders.<order_id>
// and an optional notify entry.
type OrderRouter interface {
	InsertOrder(req InsertOrderFrame) (fields map[string]any, notifyID string, notify model.NotifyEntry)
	CancelOrder(req CancelOrderFrame) (fields map[string]any, notifyID string, notify model.NotifyEntry)
}

// NoopOrderRouter rejects every order and cancel with an ERROR notify
// entry carrying an order or cancel error code; it
// lets the WebSocket layer run end to end before a real order-router is
// wired in.
type NoopOrderRouter struct{}

func (NoopOrderRouter) InsertOrder(req InsertOrderFrame) (map[string]any, string, model.NotifyEntry) {
	return map[string]any{"order_id": req.OrderID, "status": "REJECTED"},
		"order-" + req.OrderID,
		model.NotifyEntry{Type: "MESSAGE", Level: "ERROR", Code: CodeOrderBase + 1, Content: "order routing not configured"}
}

func (NoopOrderRouter) CancelOrder(req CancelOrderFrame) (map[string]any, string, model.NotifyEntry) {
	return map[string]any{"order_id": req.OrderID, "status": "CANCEL_REJECTED"},
		"cancel-" + req.OrderID,
		model.NotifyEntry{Type: "MESSAGE", Level: "ERROR", Code: CodeCancelBase + 1, Content: "order routing not configured"}
}
