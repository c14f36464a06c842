package events

import (
	"context"
	"testing"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKafkaMessage(t *testing.T) {
	msg := toKafkaMessage(ports.Message{
		Topic: "sync.events.dlq",
		Key:   "acc-1",
		Value: []byte(`{"event_type":"subject.synced"}`),
		Headers: map[string]string{
			HeaderEventType:        "subject.synced",
			HeaderEventID:          "3f0c",
			HeaderDeadLetterReason: "broker unavailable",
		},
	})

	assert.Equal(t, "sync.events.dlq", msg.Topic)
	assert.Equal(t, []byte("acc-1"), msg.Key)
	assert.JSONEq(t, `{"event_type":"subject.synced"}`, string(msg.Value))
	assert.Equal(t, []kafka.Header{
		{Key: HeaderDeadLetterReason, Value: []byte("broker unavailable")},
		{Key: HeaderEventID, Value: []byte("3f0c")},
		{Key: HeaderEventType, Value: []byte("subject.synced")},
	}, msg.Headers)
}

func TestNewWriter_WritesEachMessageImmediately(t *testing.T) {
	w := newWriter(config.BrokerConfig{
		Brokers:      []string{"kafka-1:9092", "kafka-2:9092"},
		WriteTimeout: 5 * time.Second,
	})
	defer w.Close()

	assert.Equal(t, 1, w.BatchSize)
	assert.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, 1, w.MaxAttempts)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestKafkaBroker_PublishWrapsWriteError(t *testing.T) {
	broker := NewKafkaBroker(config.BrokerConfig{
		Brokers:      []string{"127.0.0.1:1"},
		WriteTimeout: time.Second,
	})
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := broker.Publish(ctx, ports.Message{Topic: "sync.events", Key: "acc-1", Value: []byte("{}")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka write to sync.events")
}
