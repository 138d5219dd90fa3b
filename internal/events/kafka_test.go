package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByReference(t *testing.T) {
	writer := &recordingWriter{}
	pub := &KafkaPublisher{writer: writer}

	evt := New(ServiceExecuted, "svc-1", "user-1", map[string]any{"price": 50.0})
	require.NoError(t, pub.Publish(context.Background(), evt))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "svc-1", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, ServiceExecuted, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ServiceExecuted, decoded.Type)
	assert.Equal(t, "user-1", decoded.ActorID)

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker gone")
	pub := &KafkaPublisher{writer: &recordingWriter{err: boom}}
	err := pub.Publish(context.Background(), New(StockEntryRecorded, "e-1", "", nil))
	require.ErrorIs(t, err, boom)
}

func TestNewPublisherWithoutBrokersIsNop(t *testing.T) {
	pub := NewPublisher(KafkaConfig{Brokers: " , "}, nil)
	_, ok := pub.(NopPublisher)
	require.True(t, ok)
	require.NoError(t, pub.Publish(context.Background(), Event{}))
	require.NoError(t, pub.Close())
}

func TestBrokerList(t *testing.T) {
	cfg := KafkaConfig{Brokers: "kafka-1:9092, kafka-2:9092,"}
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.BrokerList())
}

func TestDeliveryReportCountsFailedBatches(t *testing.T) {
	var failures []error
	report := deliveryReport(slog.New(slog.NewTextHandler(io.Discard, nil)), func(err error) {
		failures = append(failures, err)
	})

	report([]kafka.Message{{Key: []byte("a")}}, nil)
	assert.Empty(t, failures)

	boom := errors.New("leader not available")
	report([]kafka.Message{{Key: []byte("a")}, {Key: []byte("b")}}, boom)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], boom)

	assert.NotPanics(t, func() {
		deliveryReport(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)(nil, boom)
	})
}
