package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-student-marketplace/internal/dynamotest"
	"github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

type mockSender struct {
	sent []notify.Message
	err  error
}

func (m *mockSender) Send(ctx context.Context, msg notify.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "id", nil
}

type setup struct {
	p      *Processor
	orders *orders.Store
	sender *mockSender
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id")
	fake.CreateTable("users", "user_id")
	fake.CreateTable("usernames", "username")

	userStore := users.NewStore(fake, "users", "usernames")
	ctx := context.Background()
	buyer, err := userStore.Create(ctx, "buyer", "buyer@uni.edu", "h")
	require.NoError(t, err)
	seller, err := userStore.Create(ctx, "seller", "seller@uni.edu", "h")
	require.NoError(t, err)

	orderStore := orders.NewStore(fake, "orders")
	put, err := orderStore.PutTx(orders.Order{
		OrderID:     "o1",
		OrderNumber: 7,
		UserID:      buyer.UserID,
		Items:       []orders.Line{{ItemID: "i1", Name: "Calc Book", Price: 40, Quantity: 1, SellerID: seller.UserID}},
		TotalPrice:  40,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	fake.Seed("orders", put.Put.Item)

	sender := &mockSender{}
	p := NewProcessor(orderStore, notify.NewOrderNotifier(sender, userStore), nil)
	return &setup{p: p, orders: orderStore, sender: sender}
}

func (s *setup) status(t *testing.T) string {
	t.Helper()
	o, err := s.orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	return o.NotificationStatus
}

func sqsEvent(t *testing.T, ev events.OrderSettled) lambdaevents.SQSEvent {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{MessageId: "m1", Body: string(body)}}}
}

func TestWorkerProcess_Success(t *testing.T) {
	s := newSetup(t)

	err := s.p.HandleSQS(context.Background(), sqsEvent(t, events.OrderSettled{OrderID: "o1", OrderNumber: 7}))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCompleted, s.status(t))
	require.Len(t, s.sender.sent, 2)
	assert.Equal(t, "seller@uni.edu", s.sender.sent[0].To)
	assert.Equal(t, "buyer@uni.edu", s.sender.sent[1].To)
}

func TestWorkerProcess_DuplicateDeliveryIsIgnored(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	ev := events.OrderSettled{OrderID: "o1"}

	require.NoError(t, s.p.HandleOrderSettled(ctx, ev))
	require.NoError(t, s.p.HandleOrderSettled(ctx, ev))
	assert.Len(t, s.sender.sent, 2, "emails are sent once")

	require.NoError(t, s.orders.UpdateStatus(ctx, "o1", orders.StatusCompleted, orders.StatusProcessing))
	assert.NoError(t, s.p.HandleOrderSettled(ctx, ev), "in-flight elsewhere")
	assert.Len(t, s.sender.sent, 2)
}

func TestWorkerProcess_RetryThenGiveUp(t *testing.T) {
	s := newSetup(t)
	s.p.maxAttempts = 2
	s.sender.err = errors.New("smtp down")
	ctx := context.Background()
	ev := events.OrderSettled{OrderID: "o1"}

	err := s.p.HandleOrderSettled(ctx, ev)
	assert.Error(t, err, "first failure asks for redelivery")
	assert.Equal(t, orders.StatusPending, s.status(t))

	err = s.p.HandleOrderSettled(ctx, ev)
	assert.NoError(t, err, "budget spent, message is dropped")
	assert.Equal(t, orders.StatusFailed, s.status(t))

	s.sender.err = nil
	require.NoError(t, s.p.HandleOrderSettled(ctx, ev))
	assert.Empty(t, s.sender.sent)
	assert.Equal(t, orders.StatusFailed, s.status(t))
}

func TestWorkerProcess_BadMessages(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	err := s.p.HandleSQS(ctx, lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{Body: "not json"}}})
	assert.Error(t, err)

	err = s.p.HandleSQS(ctx, sqsEvent(t, events.OrderSettled{OrderID: "missing"}))
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
