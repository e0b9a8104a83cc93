package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
	// maxSubscriptions caps the topics one client may follow.
	maxSubscriptions = 64
)

// controlMessage is the JSON envelope sent by the frontend to subscribe or
// unsubscribe from a topic, e.g. {"action":"subscribe","topic":"documents:F1"}.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Topic  string `json:"topic"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID            string
	RemoteAddr    string
	conn          *websocket.Conn
	subscriptions map[string]bool
	subMu         sync.RWMutex
	send          chan []byte
	hub           *Hub
}

// NewClient creates a Client bound to hub. Register it to receive messages.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		ID:            uuid.New().String(),
		RemoteAddr:    remoteAddr,
		conn:          conn,
		subscriptions: make(map[string]bool),
		send:          make(chan []byte, 256),
		hub:           hub,
	}
}

// IsSubscribed reports whether this client follows topic.
func (c *Client) IsSubscribed(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[topic]
}

// handleControl applies one control message and reports whether it was
// understood.
func (c *Client) handleControl(msg []byte) bool {
	var cm controlMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		c.hub.logger.Debug("ws: invalid control message", "client", c.ID, "error", err)
		return false
	}
	topic := normalizeTopic(cm.Topic)
	if topic == "" {
		return false
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	switch cm.Action {
	case "subscribe":
		if len(c.subscriptions) >= maxSubscriptions && !c.subscriptions[topic] {
			return false
		}
		c.subscriptions[topic] = true
	case "unsubscribe":
		delete(c.subscriptions, topic)
	default:
		c.hub.logger.Debug("ws: unknown action", "client", c.ID, "action", cm.Action)
		return false
	}
	return true
}

// ReadPump pumps control messages from the WebSocket connection. It runs in
// its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ws: client read error", "client", c.ID, "error", err)
			}
			break
		}
		c.handleControl(msg)
	}
}

// WritePump pumps messages from the hub's send channel to the WebSocket
// connection. It runs in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
