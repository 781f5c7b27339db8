package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

// ErrNothingDelivered is returned when every email for an order failed.
var ErrNothingDelivered = errors.New("no order notification delivered")

// UserLookup resolves a user id to a profile carrying the email address.
type UserLookup interface {
	Get(ctx context.Context, userID string) (*users.User, error)
}

// Report counts the outcome of one order's notifications.
type Report struct {
	Sent   int
	Failed int
}

// OrderNotifier emails every seller of an order their lines, then the buyer a confirmation.
type OrderNotifier struct {
	sender Sender
	users  UserLookup
}

func NewOrderNotifier(sender Sender, users UserLookup) *OrderNotifier {
	return &OrderNotifier{sender: sender, users: users}
}

// NotifyOrder never stops at the first failure. It returns ErrNothingDelivered only
// when not a single message went out, so a retry cannot duplicate delivered mail.
func (n *OrderNotifier) NotifyOrder(ctx context.Context, o orders.Order) (Report, error) {
	var rep Report
	log := slog.With("order_id", o.OrderID, "order_number", o.OrderNumber)

	buyerMail := ""
	if buyer, err := n.users.Get(ctx, o.UserID); err != nil {
		log.Warn("buyer lookup failed", "buyer_id", o.UserID, "error", err)
	} else {
		buyerMail = buyer.Usermail
	}

	lines := o.BySeller()
	for _, sellerID := range o.Sellers() {
		seller, err := n.users.Get(ctx, sellerID)
		if err != nil {
			log.Warn("seller lookup failed", "seller_id", sellerID, "error", err)
			rep.Failed++
			continue
		}
		n.send(ctx, log, &rep, Message{
			To:      seller.Usermail,
			Subject: fmt.Sprintf("Order #%d: your items were bought", o.OrderNumber),
			Text:    sellerBody(o, lines[sellerID], buyerMail),
		})
	}

	if buyerMail == "" {
		rep.Failed++
	} else {
		n.send(ctx, log, &rep, Message{
			To:      buyerMail,
			Subject: fmt.Sprintf("Order #%d confirmed", o.OrderNumber),
			Text:    buyerBody(o),
		})
	}

	log.Info("order notifications sent", "sent", rep.Sent, "failed", rep.Failed)
	if rep.Sent == 0 {
		return rep, ErrNothingDelivered
	}
	return rep, nil
}

func (n *OrderNotifier) send(ctx context.Context, log *slog.Logger, rep *Report, msg Message) {
	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		log.Error("email failed", "to", msg.To, "error", err)
		rep.Failed++
		return
	}
	log.Debug("email sent", "to", msg.To, "message_id", id)
	rep.Sent++
}

func sellerBody(o orders.Order, lines []orders.Line, buyerMail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d includes the following items of yours:\n\n", o.OrderNumber)
	var subtotal int64
	for _, l := range lines {
		writeLine(&b, l)
		subtotal += l.Total()
	}
	fmt.Fprintf(&b, "\nCredited to your balance: %d\n", subtotal)
	if buyerMail != "" {
		fmt.Fprintf(&b, "Buyer email: %s\n", buyerMail)
	}
	fmt.Fprintf(&b, "Delivery address: %s\n", o.DeliveryAddress)
	return b.String()
}

func buyerBody(o orders.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your purchase. Order #%d:\n\n", o.OrderNumber)
	for _, l := range o.Items {
		writeLine(&b, l)
	}
	fmt.Fprintf(&b, "\nTotal charged: %d\n", o.TotalPrice)
	fmt.Fprintf(&b, "Delivery address: %s\n", o.DeliveryAddress)
	return b.String()
}

func writeLine(b *strings.Builder, l orders.Line) {
	fmt.Fprintf(b, "- %s x%d @ %d = %d\n", l.Name, l.Quantity, l.Price, l.Total())
}
