package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics published by the host.
const (
	TopicPluginsReloaded  = "plugins.reloaded"
	TopicPluginError      = "plugins.error"
	TopicDocumentUploaded = "documents.uploaded"
)

// Event is a message published through a MessageBroker.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Subject   string          `json:"subject"`
	Title     string          `json:"title"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an Event with a generated id and the current timestamp.
// metadata is marshalled to JSON; a value that cannot be marshalled is
// dropped.
func NewEvent(topic, subject, title string, metadata any) Event {
	var raw json.RawMessage
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			raw = b
		}
	}
	return Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Subject:   subject,
		Title:     title,
		Metadata:  raw,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler is a callback invoked when a subscribed event is received.
type EventHandler func(event Event)
