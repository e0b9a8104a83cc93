package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	id      string
	handler EventHandler
}

type topicEvent struct {
	topic string
	event Event
}

// InMemoryBroker is a single-process MessageBroker. Events are delivered
// asynchronously, in publish order, by one dispatch goroutine.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	closed  bool
	eventCh chan topicEvent
	done    chan struct{}
	logger  *slog.Logger
}

// NewInMemoryBroker creates and starts an InMemoryBroker. Call Close to stop
// its dispatch goroutine.
func NewInMemoryBroker() *InMemoryBroker {
	b := &InMemoryBroker{
		subs:    make(map[string][]subscription),
		eventCh: make(chan topicEvent, 1024),
		done:    make(chan struct{}),
		logger:  slog.Default(),
	}
	go b.dispatch()
	return b
}

func (b *InMemoryBroker) Publish(topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	b.eventCh <- topicEvent{topic: topic, event: event}
	return nil
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}
	id := uuid.New().String()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *InMemoryBroker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for te := range b.eventCh {
		b.mu.RLock()
		handlers := make([]EventHandler, 0, len(b.subs[te.topic]))
		for _, s := range b.subs[te.topic] {
			handlers = append(handlers, s.handler)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			b.deliver(h, te.event)
		}
	}
}

func (b *InMemoryBroker) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", event.Topic, "panic", r)
		}
	}()
	h(event)
}
