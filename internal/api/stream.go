package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// Hub tracks live WebSocket connections for lifecycle/shutdown
// purposes. Per-session push now flows through gateway.Gateway
// directly via Client.send, so unlike the teacher's dashboard Hub, Hub
// no longer broadcasts; it only register/unregisters on the same
// channel shape.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "api-hub"),
	}
}

// Run starts the hub's main loop (should be called in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", "session_id", c.sessionID, "count", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "session_id", c.sessionID, "count", len(h.clients))
		}
	}
}

// Client is one WebSocket connection: a gateway session's push target
// plus a frame dispatch loop. writePump/readPump and the ping/pong
// timers are adapted directly from the teacher's dashboard Client.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	dispatcher *Dispatcher

	sessionID string

	mu     sync.RWMutex
	userID string
}

// NewClient creates a new WebSocket client and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, dispatcher *Dispatcher, sessionID string) *Client {
	c := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		dispatcher: dispatcher,
		sessionID:  sessionID,
	}

	c.hub.register <- c

	go c.writePump()
	go c.readPump()

	return c
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) getUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// writePump forwards gateway pushes and direct login/error frames to
// the socket, pinging on pingPeriod (teacher's shape, unchanged).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames and hands each to the dispatcher,
// unregistering the session from both Hub and gateway on close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.dispatcher.HandleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "session_id", c.sessionID, "error", err)
			}
			return
		}
		c.dispatcher.Dispatch(c, raw)
	}
}
