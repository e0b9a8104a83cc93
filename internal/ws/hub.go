package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/darkden-lab/lineside/internal/events"
)

// Message is what subscribers receive for every event on a topic they
// follow.
type Message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// Topics clients can subscribe to.
const (
	TopicPlugins         = "plugins"
	documentsTopicPrefix = "documents:"
)

// DocumentsTopic is the topic carrying upload notifications for a line.
func DocumentsTopic(line string) string {
	return documentsTopicPrefix + strings.ToUpper(strings.TrimSpace(line))
}

// normalizeTopic canonicalizes a topic sent by a client.
func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if line, ok := strings.CutPrefix(strings.ToLower(topic), documentsTopicPrefix); ok {
		return DocumentsTopic(line)
	}
	return strings.ToLower(topic)
}

// Hub manages the lifecycle of WebSocket clients and broadcasts messages to
// topic subscribers. It is safe for concurrent use.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	mu         sync.RWMutex
	logger     *slog.Logger
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// NewHub allocates a Hub. Call Run in a goroutine to start the event loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastMsg, 256),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Debug("ws: client registered", "client", client.ID, "remote", client.RemoteAddr)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("ws: client unregistered", "client", client.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if client.IsSubscribed(msg.topic) {
					select {
					case client.send <- msg.data:
					default:
						// Slow consumer: drop the message to avoid blocking.
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues msg for every client subscribed to msg.Topic.
func (h *Hub) Broadcast(msg Message) {
	msg.Topic = normalizeTopic(msg.Topic)
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws: failed to marshal message", "topic", msg.Topic, "error", err)
		return
	}
	h.broadcast <- broadcastMsg{topic: msg.Topic, data: data}
}

// Forward subscribes the hub to broker events and relays them to websocket
// topics: uploads go to the line's documents topic, plugin lifecycle events
// to the plugins topic.
func (h *Hub) Forward(broker events.MessageBroker) error {
	relays := map[string]func(events.Event) string{
		events.TopicDocumentUploaded: func(e events.Event) string { return DocumentsTopic(e.Subject) },
		events.TopicPluginsReloaded:  func(events.Event) string { return TopicPlugins },
		events.TopicPluginError:      func(events.Event) string { return TopicPlugins },
	}
	for topic, target := range relays {
		target := target
		if _, err := broker.Subscribe(topic, func(e events.Event) {
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("ws: failed to marshal event", "topic", e.Topic, "error", err)
				return
			}
			h.Broadcast(Message{Topic: target(e), Type: e.Topic, Data: data})
		}); err != nil {
			return err
		}
	}
	return nil
}

// Register enqueues a new client for addition to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister enqueues a client for removal from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}
