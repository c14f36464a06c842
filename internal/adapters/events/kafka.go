package events

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/segmentio/kafka-go"
)

// KafkaBroker acknowledges a message once every in-sync replica has it.
// Each Publish is one synchronous write, so the writer never waits to fill a
// batch.
type KafkaBroker struct {
	writer *kafka.Writer
}

func NewKafkaBroker(cfg config.BrokerConfig) *KafkaBroker {
	return &KafkaBroker{writer: newWriter(cfg)}
}

func newWriter(cfg config.BrokerConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
		AllowAutoTopicCreation: false,
	}
}

func (b *KafkaBroker) Publish(ctx context.Context, msg ports.Message) error {
	if err := b.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("kafka write to %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}

// toKafkaMessage keeps the key so every event of a subject lands on the same
// partition. Headers are ordered by key.
func toKafkaMessage(msg ports.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	slices.SortFunc(headers, func(a, b kafka.Header) int {
		return strings.Compare(a.Key, b.Key)
	})

	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}
}
