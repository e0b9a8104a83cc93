package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	defaultConsumerGroup = "lineside-events"
	defaultTopicPrefix   = "lineside."

	headerEventID    = "lineside-event-id"
	headerEventTopic = "lineside-event-topic"
)

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers []string

	// ConsumerGroup is the group prefix. Every host instance reads in its
	// own group (ConsumerGroup.InstanceID) so each websocket hub sees the
	// full stream for the lines it serves.
	ConsumerGroup string
	InstanceID    string

	// TopicPrefix is prepended to event topics ("documents.uploaded" ->
	// "lineside.documents.uploaded").
	TopicPrefix string

	Logger *slog.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaBroker implements MessageBroker on top of segmentio/kafka-go.
// Messages are keyed by the event subject (the production line for
// document events), and the writer hashes keys to partitions, so events of
// one line stay in order.
type KafkaBroker struct {
	config    KafkaConfig
	writer    messageWriter
	newReader func(kafkaTopic string) messageReader
	logger    *slog.Logger

	mu      sync.Mutex
	readers map[string]*kafkaSubscription
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type kafkaSubscription struct {
	id      string
	topic   string
	reader  messageReader
	handler EventHandler
	cancel  context.CancelFunc
}

// NewKafkaBroker creates a broker with a shared producer. Consumers are
// created per subscription.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaultConsumerGroup
	}
	if config.InstanceID == "" {
		config.InstanceID = defaultInstanceID()
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaultTopicPrefix
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	b := newKafkaBroker(config, writer, logger)
	b.newReader = func(kafkaTopic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       kafkaTopic,
			GroupID:     b.groupID(),
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
		})
	}
	return b, nil
}

func newKafkaBroker(config KafkaConfig, writer messageWriter, logger *slog.Logger) *KafkaBroker {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBroker{
		config:  config,
		writer:  writer,
		logger:  logger,
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func (b *KafkaBroker) groupID() string {
	return b.config.ConsumerGroup + "." + b.config.InstanceID
}

func (b *KafkaBroker) kafkaTopic(topic string) string {
	return b.config.TopicPrefix + topic
}

// encodeMessage turns an event into a Kafka record. The key is the event
// subject so a line's uploads land on one partition; events without a
// subject fall back to their id.
func (b *KafkaBroker) encodeMessage(topic string, event Event) (kafka.Message, error) {
	if event.Topic == "" {
		event.Topic = topic
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}

	key := event.Subject
	if key == "" {
		key = event.ID
	}
	return kafka.Message{
		Topic: b.kafkaTopic(topic),
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(event.ID)},
			{Key: headerEventTopic, Value: []byte(event.Topic)},
		},
		Time: event.Timestamp,
	}, nil
}

// decodeMessage is the inverse of encodeMessage. The topic header wins over
// a missing topic in the payload, which older producers did not set.
func decodeMessage(msg kafka.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerEventTopic:
			if event.Topic == "" {
				event.Topic = string(h.Value)
			}
		case headerEventID:
			if event.ID == "" {
				event.ID = string(h.Value)
			}
		}
	}
	if event.Subject == "" && len(msg.Key) > 0 {
		event.Subject = string(msg.Key)
	}
	return event, nil
}

// Publish writes the event to the prefixed topic.
func (b *KafkaBroker) Publish(topic string, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("broker is closed")
	}

	msg, err := b.encodeMessage(topic, event)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(b.ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe starts a consumer for topic that runs until Close.
func (b *KafkaBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", errors.New("broker is closed")
	}

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		reader:  b.newReader(b.kafkaTopic(topic)),
		handler: handler,
		cancel:  subCancel,
	}
	b.readers[sub.id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(subCtx, sub)
	}()
	return sub.id, nil
}

// Close shuts down all consumers and the producer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	subs := make([]*kafkaSubscription, 0, len(b.readers))
	for _, sub := range b.readers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		sub.cancel()
		if err := sub.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader for %s: %w", sub.topic, err))
		}
	}
	b.wg.Wait()
	if err := b.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	logger := b.logger.With("subscription", sub.id, "topic", sub.topic)
	for {
		msg, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("kafka consumer error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := decodeMessage(msg)
		if err != nil {
			logger.Warn("dropping undecodable kafka message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		if event.Topic != sub.topic {
			continue
		}
		b.deliver(logger, sub.handler, event)
	}
}

func (b *KafkaBroker) deliver(logger *slog.Logger, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "event", event.ID, "panic", r)
		}
	}()
	h(event)
}
