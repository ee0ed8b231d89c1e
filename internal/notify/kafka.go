// Package notify exports committed place changes to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/i474232898/weather-places/internal/repository"
)

const maxBatch = 100

// messageWriter is the subset of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes change events to a Kafka topic. Messages are keyed by
// place id so the Hash balancer keeps each place's events on one partition.
type KafkaSink struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaSink creates a producer for topic.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, logger)
}

func newKafkaSink(w messageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: w, logger: logger}
}

// Run publishes events until the channel is closed or ctx is cancelled.
// Events already queued on the channel are sent together in one batch. A
// failed write is logged and its batch dropped.
func (s *KafkaSink) Run(ctx context.Context, events <-chan repository.ChangeEvent) error {
	for {
		var ev repository.ChangeEvent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-events:
			if !ok {
				return nil
			}
		}

		batch := []repository.ChangeEvent{ev}
		open := true
	fill:
		for len(batch) < maxBatch {
			select {
			case next, more := <-events:
				if !more {
					open = false
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		if err := s.publish(ctx, batch); err != nil {
			s.logger.Error("kafka: publish failed", "events", len(batch), "error", err)
		}
		if !open {
			return nil
		}
	}
}

func (s *KafkaSink) publish(ctx context.Context, events []repository.ChangeEvent) error {
	msgs := make([]kafkago.Message, 0, len(events))
	for _, ev := range events {
		msg, err := serializeToMessage(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// serializeToMessage marshals a ChangeEvent into a Kafka message.
func serializeToMessage(ev repository.ChangeEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(ev.PlaceID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(ev.Kind)},
			{Key: "emitted_at", Value: []byte(ev.At.UTC().Format(time.RFC3339Nano))},
		},
	}, nil
}
