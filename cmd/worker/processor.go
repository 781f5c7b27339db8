package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lambdaevents "github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/metrics"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
)

const defaultMaxAttempts = 5

// Processor sends the post-checkout emails for settled orders. The order's
// notification_status makes redelivered events harmless:
// PENDING -> PROCESSING -> COMPLETED, or back to PENDING for a retry, or FAILED.
type Processor struct {
	orders      *orders.Store
	notifier    *notify.OrderNotifier
	metrics     *metrics.Recorder
	maxAttempts int
}

func NewProcessor(orderStore *orders.Store, notifier *notify.OrderNotifier, rec *metrics.Recorder) *Processor {
	return &Processor{
		orders:      orderStore,
		notifier:    notifier,
		metrics:     rec,
		maxAttempts: defaultMaxAttempts,
	}
}

// HandleSQS receives an SQS batch event and processes each message.
func (p *Processor) HandleSQS(ctx context.Context, ev lambdaevents.SQSEvent) error {
	for _, rec := range ev.Records {
		msg, err := events.Decode([]byte(rec.Body))
		if err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			slog.Error("invalid message", "message_id", rec.MessageId, "error", err)
			return err
		}
		if err := p.HandleOrderSettled(ctx, msg); err != nil {
			slog.Error("worker error", "message_id", rec.MessageId, "order_id", msg.OrderID, "error", err)
			return err
		}
	}
	return nil
}

// HandleOrderSettled implements events.Handler for the Kafka consumer.
func (p *Processor) HandleOrderSettled(ctx context.Context, ev events.OrderSettled) error {
	log := slog.With("component", "worker", "order_id", ev.OrderID, "correlation_id", ev.CorrelationID)
	log.Info("received order event", "order_number", ev.OrderNumber)

	// Step 1: Read the current order
	order, err := p.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}

	// Step 2: Move PENDING -> PROCESSING (idempotent)
	err = p.orders.UpdateStatus(ctx, ev.OrderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		o2, gerr := p.orders.Get(ctx, ev.OrderID)
		if gerr != nil {
			return fmt.Errorf("failed to re-read order: %w", gerr)
		}
		switch o2.NotificationStatus {
		case orders.StatusCompleted:
			log.Info("already notified")
			return nil
		case orders.StatusFailed:
			log.Warn("notifications already given up")
			return nil
		case orders.StatusProcessing:
			log.Info("duplicate event while processing")
			return nil
		default:
			return fmt.Errorf("unexpected notification status %q", o2.NotificationStatus)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update status to PROCESSING: %w", err)
	}

	// Step 3: Send the emails
	rep, notifyErr := p.notifier.NotifyOrder(ctx, *order)
	p.metrics.Count(ctx, metrics.NotificationsSent, float64(rep.Sent), nil)
	p.metrics.Count(ctx, metrics.NotificationsFailed, float64(rep.Failed), nil)
	if notifyErr != nil {
		return p.retryOrGiveUp(ctx, log, ev.OrderID, notifyErr)
	}

	// Step 4: PROCESSING -> COMPLETED
	if err := p.orders.UpdateStatus(ctx, ev.OrderID, orders.StatusProcessing, orders.StatusCompleted); err != nil {
		return fmt.Errorf("failed to update status to COMPLETED: %w", err)
	}
	log.Info("order notifications completed", "sent", rep.Sent, "failed", rep.Failed)
	return nil
}

// retryOrGiveUp releases the order for another delivery, or parks it as FAILED
// once the attempt budget is spent.
func (p *Processor) retryOrGiveUp(ctx context.Context, log *slog.Logger, orderID string, cause error) error {
	attempts, err := p.orders.IncrementAttempts(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts >= p.maxAttempts {
		if err := p.orders.UpdateStatus(ctx, orderID, orders.StatusProcessing, orders.StatusFailed); err != nil {
			return fmt.Errorf("failed to update status to FAILED: %w", err)
		}
		log.Error("giving up on order notifications", "attempts", attempts, "error", cause)
		return nil
	}
	if err := p.orders.UpdateStatus(ctx, orderID, orders.StatusProcessing, orders.StatusPending); err != nil {
		return fmt.Errorf("failed to release order for retry: %w", err)
	}
	log.Warn("order notifications failed, will retry", "attempts", attempts, "error", cause)
	return cause
}
