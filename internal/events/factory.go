package events

import (
	"log/slog"
	"strings"
)

// NewBroker returns a KafkaBroker when brokers is non-empty and an
// InMemoryBroker otherwise.
func NewBroker(brokers, consumerGroup string, logger *slog.Logger) (MessageBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if brokers != "" {
		addrs := strings.Split(brokers, ",")
		for i := range addrs {
			addrs[i] = strings.TrimSpace(addrs[i])
		}
		logger.Info("events: using kafka broker", "brokers", addrs, "group", consumerGroup)
		kb, err := NewKafkaBroker(KafkaConfig{
			Brokers:       addrs,
			ConsumerGroup: consumerGroup,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return kb, nil
	}

	logger.Info("events: using in-memory broker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(), nil
}
