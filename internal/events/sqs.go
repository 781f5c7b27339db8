package events

import (
	"context"
	"fmt"
	"log/slog"
)

// QueueSender is satisfied by *aws.Publisher.
type QueueSender interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// SQSPublisher puts settlement events on an SQS queue.
type SQSPublisher struct {
	sender QueueSender
}

func NewSQSPublisher(sender QueueSender) *SQSPublisher {
	return &SQSPublisher{sender: sender}
}

func (p *SQSPublisher) PublishOrderSettled(ctx context.Context, ev OrderSettled) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	id, err := p.sender.Send(ctx, string(body), map[string]string{
		"event_type":     TypeOrderSettled,
		"order_id":       ev.OrderID,
		"correlation_id": ev.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", TypeOrderSettled, err)
	}
	slog.Debug("event published", "bus", "sqs", "order_id", ev.OrderID, "message_id", id)
	return nil
}

func (p *SQSPublisher) Close() error { return nil }
