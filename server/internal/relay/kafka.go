// Package relay forwards lead events to Kafka for downstream consumers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
)

// writeTimeout bounds a single relay so a slow broker cannot stall a claim.
const writeTimeout = 3 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay publishes events to a Kafka topic, keyed by lead ID so events
// for one lead stay ordered within a partition.
type KafkaRelay struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

// NewKafkaRelay creates a relay writing to topic on the given brokers.
func NewKafkaRelay(brokers []string, topic string, log *zap.Logger) *KafkaRelay {
	return newKafkaRelay(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}, topic, log)
}

func newKafkaRelay(w messageWriter, topic string, log *zap.Logger) *KafkaRelay {
	return &KafkaRelay{
		writer: w,
		topic:  topic,
		log:    log.With(zap.String("component", "kafka_relay"), zap.String("topic", topic)),
	}
}

// Relay implements events.Relay.
func (r *KafkaRelay) Relay(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.LeadID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}

	r.log.Debug("relayed event", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
	return nil
}

// Close flushes and closes the underlying writer.
func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}
