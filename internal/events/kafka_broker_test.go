package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// Integration tests against a real Kafka cluster are not part of the unit
// suite; the broker runs here against in-process readers and writers.

type captureWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// chanReader hands out queued messages until its context ends.
type chanReader struct {
	msgs chan kafka.Message
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *chanReader) Close() error { return nil }

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKafkaBroker(t *testing.T) (*KafkaBroker, *captureWriter, map[string]*chanReader) {
	t.Helper()
	w := &captureWriter{}
	b := newKafkaBroker(KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: defaultConsumerGroup,
		InstanceID:    "node-a",
		TopicPrefix:   defaultTopicPrefix,
	}, w, slogDiscard())
	readers := make(map[string]*chanReader)
	b.newReader = func(kafkaTopic string) messageReader {
		r := &chanReader{msgs: make(chan kafka.Message, 8)}
		readers[kafkaTopic] = r
		return r
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, w, readers
}

func TestKafkaBroker_ImplementsInterface(t *testing.T) {
	var _ MessageBroker = (*KafkaBroker)(nil)
	var _ messageWriter = (*kafka.Writer)(nil)
	var _ messageReader = (*kafka.Reader)(nil)
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaBroker(KafkaConfig{}); err == nil {
		t.Error("expected error for empty brokers list")
	}
}

func TestNewKafkaBroker_Defaults(t *testing.T) {
	broker, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}, InstanceID: "line-pc-7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer broker.Close()

	if got := broker.groupID(); got != "lineside-events.line-pc-7" {
		t.Errorf("group id = %q", got)
	}
	if got := broker.kafkaTopic(TopicDocumentUploaded); got != "lineside.documents.uploaded" {
		t.Errorf("kafka topic = %q", got)
	}
}

func TestKafkaBroker_PublishKeysByLine(t *testing.T) {
	b, w, _ := newTestKafkaBroker(t)

	first := NewEvent(TopicDocumentUploaded, "F1", "Drawing_Division01.pdf uploaded", map[string]any{"division": 1})
	second := NewEvent(TopicDocumentUploaded, "F1", "Drawing_Division02.pdf uploaded", map[string]any{"division": 2})
	other := NewEvent(TopicDocumentUploaded, "F2", "Layout_Division01.pdf uploaded", nil)
	for _, e := range []Event{first, second, other} {
		if err := b.Publish(TopicDocumentUploaded, e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	msgs := w.written()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"F1", "F1", "F2"} {
		if string(msgs[i].Key) != want {
			t.Errorf("message %d key = %q, want %q", i, msgs[i].Key, want)
		}
		if msgs[i].Topic != "lineside.documents.uploaded" {
			t.Errorf("message %d topic = %q", i, msgs[i].Topic)
		}
	}

	var hashed kafka.Hash
	partitions := []int{0, 1, 2, 3, 4, 5}
	if hashed.Balance(msgs[0], partitions...) != hashed.Balance(msgs[1], partitions...) {
		t.Error("events of one line should land on the same partition")
	}
}

func TestKafkaBroker_PublishWithoutSubjectKeysByID(t *testing.T) {
	b, w, _ := newTestKafkaBroker(t)

	e := NewEvent(TopicPluginsReloaded, "", "Plugins reloaded", nil)
	if err := b.Publish(TopicPluginsReloaded, e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(w.written()[0].Key); got != e.ID {
		t.Errorf("key = %q, want event id %q", got, e.ID)
	}
}

func TestKafkaBroker_PublishWriteError(t *testing.T) {
	b, w, _ := newTestKafkaBroker(t)
	w.err = errors.New("leader not available")

	err := b.Publish(TopicDocumentUploaded, NewEvent(TopicDocumentUploaded, "F1", "x", nil))
	if err == nil || !errors.Is(err, w.err) {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}

func TestKafkaBroker_RoundTrip(t *testing.T) {
	cases := []struct {
		topic string
		event Event
	}{
		{TopicDocumentUploaded, NewEvent(TopicDocumentUploaded, "F3", "Drawing_Division04.pdf uploaded",
			map[string]any{"storedFileName": "Drawing_Division04.pdf", "division": 4, "comment": "torque values changed"})},
		{TopicPluginsReloaded, NewEvent(TopicPluginsReloaded, "plugins", "Plugins reloaded",
			map[string]any{"loaded": []string{"workorderpanel"}})},
	}

	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			b, w, readers := newTestKafkaBroker(t)

			received := make(chan Event, 1)
			if _, err := b.Subscribe(tc.topic, func(e Event) { received <- e }); err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			if err := b.Publish(tc.topic, tc.event); err != nil {
				t.Fatalf("publish: %v", err)
			}

			reader := readers[b.kafkaTopic(tc.topic)]
			if reader == nil {
				t.Fatalf("no reader for %s", b.kafkaTopic(tc.topic))
			}
			reader.msgs <- w.written()[0]

			select {
			case got := <-received:
				if got.ID != tc.event.ID || got.Topic != tc.topic || got.Subject != tc.event.Subject || got.Title != tc.event.Title {
					t.Errorf("got %+v, want %+v", got, tc.event)
				}
				if !got.Timestamp.Equal(tc.event.Timestamp) {
					t.Errorf("timestamp %v, want %v", got.Timestamp, tc.event.Timestamp)
				}
				var gotMeta, wantMeta map[string]any
				_ = json.Unmarshal(got.Metadata, &gotMeta)
				_ = json.Unmarshal(tc.event.Metadata, &wantMeta)
				if len(gotMeta) != len(wantMeta) {
					t.Errorf("metadata %s, want %s", got.Metadata, tc.event.Metadata)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("event was not delivered")
			}
		})
	}
}

func TestDecodeMessage_FillsFromHeadersAndKey(t *testing.T) {
	e, err := decodeMessage(kafka.Message{
		Key:   []byte("F2"),
		Value: []byte(`{"title":"legacy"}`),
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte("evt-1")},
			{Key: headerEventTopic, Value: []byte(TopicDocumentUploaded)},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.ID != "evt-1" || e.Topic != TopicDocumentUploaded || e.Subject != "F2" || e.Title != "legacy" {
		t.Errorf("unexpected event %+v", e)
	}

	if _, err := decodeMessage(kafka.Message{Value: []byte("not json")}); err == nil {
		t.Error("expected error for undecodable payload")
	}
}

func TestKafkaBroker_SkipsUndecodableAndForeignEvents(t *testing.T) {
	b, _, readers := newTestKafkaBroker(t)

	received := make(chan Event, 4)
	if _, err := b.Subscribe(TopicDocumentUploaded, func(e Event) { received <- e }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	reader := readers[b.kafkaTopic(TopicDocumentUploaded)]

	foreign, _ := json.Marshal(NewEvent(TopicPluginError, "alpha", "boom", nil))
	wanted, _ := json.Marshal(NewEvent(TopicDocumentUploaded, "F1", "ok", nil))
	reader.msgs <- kafka.Message{Value: []byte("{broken")}
	reader.msgs <- kafka.Message{Value: foreign}
	reader.msgs <- kafka.Message{Value: wanted}

	select {
	case got := <-received:
		if got.Title != "ok" {
			t.Errorf("expected only the document event, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
	select {
	case extra := <-received:
		t.Errorf("unexpected extra event %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKafkaBroker_HandlerPanicKeepsConsuming(t *testing.T) {
	b, _, readers := newTestKafkaBroker(t)

	var calls int
	done := make(chan struct{})
	if _, err := b.Subscribe(TopicDocumentUploaded, func(e Event) {
		calls++
		if calls == 1 {
			panic("handler exploded")
		}
		close(done)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	reader := readers[b.kafkaTopic(TopicDocumentUploaded)]
	for i := 0; i < 2; i++ {
		v, _ := json.Marshal(NewEvent(TopicDocumentUploaded, "F1", "x", nil))
		reader.msgs <- kafka.Message{Value: v}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer stopped after a handler panic")
	}
}

func TestKafkaBroker_ClosePreventsFurtherUse(t *testing.T) {
	b, w, _ := newTestKafkaBroker(t)
	if _, err := b.Subscribe(TopicDocumentUploaded, func(Event) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !w.closed {
		t.Error("writer was not closed")
	}

	if err := b.Publish(TopicDocumentUploaded, Event{}); err == nil {
		t.Error("expected error publishing after close")
	}
	if _, err := b.Subscribe(TopicDocumentUploaded, func(e Event) {}); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestNewBroker_FallsBackToInMemory(t *testing.T) {
	b, err := NewBroker("", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*InMemoryBroker); !ok {
		t.Errorf("expected *InMemoryBroker, got %T", b)
	}
}

func TestNewBroker_Kafka(t *testing.T) {
	b, err := NewBroker("localhost:9092, localhost:9093", "g", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	kb, ok := b.(*KafkaBroker)
	if !ok {
		t.Fatalf("expected *KafkaBroker, got %T", b)
	}
	if len(kb.config.Brokers) != 2 || kb.config.Brokers[1] != "localhost:9093" {
		t.Errorf("unexpected brokers %v", kb.config.Brokers)
	}
}
