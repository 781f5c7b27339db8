package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes settlement events to a Kafka topic keyed by order id.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishOrderSettled(ctx context.Context, ev OrderSettled) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(TypeOrderSettled)},
			{Key: "correlation-id", Value: []byte(ev.CorrelationID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write order event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer feeds settlement events from a consumer group to a Handler.
// Offsets are committed only after the handler succeeds or the retry budget is spent.
type KafkaConsumer struct {
	reader     messageReader
	maxRetries int
	backoff    time.Duration
}

func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &KafkaConsumer{reader: reader, maxRetries: 3, backoff: time.Second}
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context, h Handler) error {
	log := slog.With("component", "kafka-consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			log.Error("dropping undecodable message", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		} else if err := c.handle(ctx, h, ev); err != nil {
			log.Error("giving up on event", "order_id", ev.OrderID, "offset", msg.Offset, "error", err)
		}
		if ctx.Err() != nil {
			// leave the offset uncommitted so the event is redelivered
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, h Handler, ev OrderSettled) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = h.HandleOrderSettled(ctx, ev); err == nil {
			return nil
		}
		slog.Warn("event handler failed", "order_id", ev.OrderID, "attempt", attempt, "error", err)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
