package events

// Publisher is the write side of a MessageBroker.
type Publisher interface {
	Publish(topic string, event Event) error
}

// MessageBroker publishes events and fans them out to subscribers.
// Implementations are InMemoryBroker for single-node deployments and
// KafkaBroker when several hosts share one event stream.
type MessageBroker interface {
	Publisher

	// Subscribe registers a handler for every event published to topic and
	// returns a subscription id.
	Subscribe(topic string, handler EventHandler) (string, error)

	// Close releases connections and goroutines. Publish and Subscribe must
	// not be called afterwards.
	Close() error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, Event) error { return nil }
