package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects brokers and topic.
type KafkaConfig struct {
	Brokers string
	Topic   string

	// OnDeliveryFailure is called once per failed batch. Writes are async,
	// so Publish never sees broker errors.
	OnDeliveryFailure func(err error)
}

// BrokerList splits the comma separated broker string.
func (c KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by reference id, so every
// change of one entity lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher returns a Kafka publisher, or a NopPublisher when no broker is configured.
func NewPublisher(cfg KafkaConfig, logger *slog.Logger) Publisher {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   deliveryReport(logger, cfg.OnDeliveryFailure),
	}
	logger.Info("ledger events enabled", slog.String("topic", cfg.Topic), slog.Any("brokers", brokers))
	return &KafkaPublisher{writer: writer, logger: logger}
}

func deliveryReport(logger *slog.Logger, onFailure func(error)) func([]kafka.Message, error) {
	return func(messages []kafka.Message, err error) {
		if err == nil {
			return
		}
		logger.Warn("ledger event delivery failed", slog.Int("messages", len(messages)), slog.Any("error", err))
		if onFailure != nil {
			onFailure(err)
		}
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := messageFor(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func messageFor(evt Event) (kafka.Message, error) {
	value, err := evt.Encode()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	return kafka.Message{
		Key:   []byte(evt.ReferenceID),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}, nil
}
