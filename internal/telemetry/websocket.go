package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams snapshots to browsers as JSON text frames.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler serves snapshots from hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		opsf("failed to upgrade websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	id, snapshots := h.hub.Subscribe(sendBufferSize)
	diagf("websocket %s connected from %s", id, r.RemoteAddr)
	c := &wsClient{id: id, conn: conn, hub: h.hub, snapshots: snapshots, done: make(chan struct{})}
	if s, ok := h.hub.Latest(); ok {
		c.first = &s
	}
	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	hub       *Hub
	snapshots <-chan Snapshot
	first     *Snapshot
	done      chan struct{}
}

// readPump discards inbound frames and keeps the read deadline alive on
// pongs. It unsubscribes when the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.hub.Unsubscribe(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				diagf("websocket %s read error: %v", c.id, err)
			}
			return
		}
	}
}

func (c *wsClient) write(s Snapshot) error {
	msg, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if c.first != nil {
		if err := c.write(*c.first); err != nil {
			return
		}
	}
	for {
		select {
		case <-c.done:
			return
		case s, ok := <-c.snapshots:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(s); err != nil {
				tracef("websocket %s write failed: %v", c.id, err)
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
