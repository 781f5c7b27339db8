package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

var ErrNoRecipient = errors.New("message has no recipient")

// Message is a single email. When both bodies are set HTML is sent as the alternative part.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a Message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogSender writes messages to the log instead of delivering them.
// Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	id := "<" + uuid.NewString() + "@local>"
	slog.Info("email (log only)",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", id,
		"html", msg.HTML != "",
	)
	return id, nil
}
