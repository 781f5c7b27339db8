package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TypeOrderSettled is emitted once per committed checkout.
const TypeOrderSettled = "order.settled"

// OrderSettled is the message sent from the API to the notification worker.
type OrderSettled struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	OrderNumber   int64     `json:"order_number"`
	BuyerID       string    `json:"buyer_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher sends settlement events to the bus.
type Publisher interface {
	PublishOrderSettled(ctx context.Context, ev OrderSettled) error
	Close() error
}

// Handler consumes settlement events.
type Handler interface {
	HandleOrderSettled(ctx context.Context, ev OrderSettled) error
}

// Decode parses and checks a message body.
func Decode(body []byte) (OrderSettled, error) {
	var ev OrderSettled
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("invalid message body: %w", err)
	}
	if ev.Type == "" {
		ev.Type = TypeOrderSettled
	}
	if ev.Type != TypeOrderSettled {
		return ev, fmt.Errorf("unsupported event type %q", ev.Type)
	}
	if ev.OrderID == "" {
		return ev, fmt.Errorf("event without order_id")
	}
	return ev, nil
}

func encode(ev OrderSettled) ([]byte, error) {
	if ev.Type == "" {
		ev.Type = TypeOrderSettled
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return b, nil
}
