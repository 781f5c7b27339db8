package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-student-marketplace/internal/dynamotest"
	"github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/idempotency"
	"github.com/imrishuroy/go-student-marketplace/internal/items"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/requests"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderSettled
	err    error
}

func (p *recordingPublisher) PublishOrderSettled(ctx context.Context, ev events.OrderSettled) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	svc    *Service
	fake   *dynamotest.Fake
	users  *users.Store
	items  *items.Store
	reqs   *requests.Store
	orders *orders.Store
	idem   *idempotency.Store
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureTTL(t, time.Hour)
}

// newFixtureTTL sets how long idempotency keys are remembered.
func newFixtureTTL(t *testing.T, keyTTL time.Duration) *fixture {
	t.Helper()
	fake := dynamotest.New()
	for name, key := range map[string]string{
		"users":             "user_id",
		"usernames":         "username",
		"items":             "item_id",
		"purchase_requests": "request_id",
		"orders":            "order_id",
		"counters":          "counter_name",
		"idempotency":       "idempotency_key",
	} {
		fake.CreateTable(name, key)
	}
	f := &fixture{
		fake:   fake,
		users:  users.NewStore(fake, "users", "usernames"),
		items:  items.NewStore(fake, "items"),
		reqs:   requests.NewStore(fake, "purchase_requests"),
		orders: orders.NewStore(fake, "orders"),
		idem:   idempotency.NewStore(fake, "idempotency", keyTTL),
		pub:    &recordingPublisher{},
	}
	f.svc = NewService(Deps{
		DynamoDB:    fake,
		Users:       f.users,
		Items:       f.items,
		Requests:    f.reqs,
		Orders:      f.orders,
		Counter:     orders.NewCounter(fake, "counters"),
		Idempotency: f.idem,
		Publisher:   f.pub,
	})
	return f
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	u, err := f.users.Create(context.Background(), name, name+"@uni.edu", "hash")
	require.NoError(t, err)
	return u.UserID
}

func (f *fixture) item(t *testing.T, owner string, price int64) string {
	t.Helper()
	it, err := f.items.Create(context.Background(), items.Item{Name: fmt.Sprintf("item-%d", price), Price: price, OwnerID: owner, Available: true})
	require.NoError(t, err)
	return it.ItemID
}

// accepted creates a purchase request that the seller accepted and the buyer put in the cart.
func (f *fixture) accepted(t *testing.T, buyer, seller, itemID string) Line {
	t.Helper()
	ctx := context.Background()
	r, err := f.reqs.Create(ctx, requests.PurchaseRequest{ItemID: itemID, BuyerID: buyer, SellerID: seller, Quantity: 1})
	require.NoError(t, err)
	_, err = f.reqs.SetStatus(ctx, r.RequestID, seller, requests.StatusAccepted)
	require.NoError(t, err)
	_, err = f.reqs.SetOrdered(ctx, r.RequestID, buyer, true)
	require.NoError(t, err)
	return Line{ItemID: itemID, PurchaseRequestID: r.RequestID, Quantity: 1}
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.users.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestCheckout_SettlesAcrossSellers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, s1, s2 := f.user(t, "buyer"), f.user(t, "seller1"), f.user(t, "seller2")
	i1, i2 := f.item(t, s1, 40), f.item(t, s2, 20)
	l1, l2 := f.accepted(t, buyer, s1, i1), f.accepted(t, buyer, s2, i2)

	res, err := f.svc.Checkout(ctx, Request{
		BuyerID:         buyer,
		IdempotencyKey:  "k1",
		CorrelationID:   "corr",
		DeliveryAddress: "Hostel 4",
		Lines:           []Line{l1, l2},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.False(t, res.Replayed)

	assert.Equal(t, int64(40), f.balance(t, buyer))
	assert.Equal(t, int64(140), f.balance(t, s1))
	assert.Equal(t, int64(120), f.balance(t, s2))

	for _, id := range []string{i1, i2} {
		it, err := f.items.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, it.Available)
	}
	for _, l := range []Line{l1, l2} {
		r, err := f.reqs.Get(ctx, l.PurchaseRequestID)
		require.NoError(t, err)
		assert.Equal(t, res.OrderID, r.OrderID)
	}

	o, err := f.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.OrderNumber)
	assert.Equal(t, int64(60), o.TotalPrice)
	assert.Equal(t, buyer, o.UserID)
	assert.Equal(t, orders.StatusPending, o.NotificationStatus)
	assert.ElementsMatch(t, []string{s1, s2}, o.SellerIDs)

	var body orders.Order
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, res.OrderID, body.OrderID)
	assert.Len(t, body.Items, 2)
	assert.ElementsMatch(t, []string{s1, s2}, body.SellerIDs, "response matches the stored order")

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, res.OrderID, f.pub.events[0].OrderID)
	assert.Equal(t, "corr", f.pub.events[0].CorrelationID)

	rec, err := f.idem.Get(ctx, idempotency.Key(scope+":"+buyer, "k1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, res.OrderID, rec.ResourceID)
}

func TestCheckout_ReplaysSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")
	line := f.accepted(t, buyer, seller, f.item(t, seller, 30))
	req := Request{BuyerID: buyer, IdempotencyKey: "k1", DeliveryAddress: "x", Lines: []Line{line}}
	before := f.fake.Calls("TransactWriteItems")

	first, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, http.StatusCreated, second.Status)
	assert.Equal(t, before+1, f.fake.Calls("TransactWriteItems"))
	assert.Equal(t, int64(70), f.balance(t, buyer))
	assert.Len(t, f.pub.events, 1)
}

func TestCheckout_ExpiredKeyIsANewAttempt(t *testing.T) {
	// keys shorter than a second expire as soon as they are written
	f := newFixtureTTL(t, 0)
	ctx := context.Background()
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")
	line := f.accepted(t, buyer, seller, f.item(t, seller, 30))
	req := Request{BuyerID: buyer, IdempotencyKey: "k1", DeliveryAddress: "x", Lines: []Line{line}}

	_, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)

	// the forgotten key is not replayed; the settled cart is rejected instead
	_, err = f.svc.Checkout(ctx, req)
	assert.ErrorIs(t, err, ErrRequestConflict)
	assert.Equal(t, int64(70), f.balance(t, buyer))
	assert.Equal(t, 1, f.fake.Len("orders"))
	assert.Len(t, f.pub.events, 1)
}

func TestCheckout_InsufficientBalanceMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")
	l1 := f.accepted(t, buyer, seller, f.item(t, seller, 80))
	l2 := f.accepted(t, buyer, seller, f.item(t, seller, 40))
	before := f.fake.Calls("TransactWriteItems")

	_, err := f.svc.Checkout(ctx, Request{BuyerID: buyer, IdempotencyKey: "k", DeliveryAddress: "x", Lines: []Line{l1, l2}})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, before, f.fake.Calls("TransactWriteItems"))
	assert.Equal(t, int64(100), f.balance(t, buyer))
	assert.Equal(t, int64(100), f.balance(t, seller))
	it, err := f.items.Get(ctx, l1.ItemID)
	require.NoError(t, err)
	assert.True(t, it.Available)
	assert.Equal(t, 0, f.fake.Len("orders"))
	assert.Empty(t, f.pub.events)
}

func TestCheckout_RejectsBadLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, other, seller := f.user(t, "buyer"), f.user(t, "other"), f.user(t, "seller")
	itemID := f.item(t, seller, 10)
	line := f.accepted(t, buyer, seller, itemID)
	othersLine := f.accepted(t, other, seller, f.item(t, seller, 15))

	pending, err := f.reqs.Create(ctx, requests.PurchaseRequest{ItemID: itemID, BuyerID: buyer, SellerID: seller, Quantity: 1})
	require.NoError(t, err)

	ownItem := f.item(t, buyer, 5)
	ownReq, err := f.reqs.Create(ctx, requests.PurchaseRequest{ItemID: ownItem, BuyerID: buyer, SellerID: buyer, Quantity: 1})
	require.NoError(t, err)
	_, err = f.reqs.SetStatus(ctx, ownReq.RequestID, buyer, requests.StatusAccepted)
	require.NoError(t, err)
	before := f.fake.Calls("TransactWriteItems")

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "missing key",
			req:     Request{BuyerID: buyer, Lines: []Line{line}},
			wantErr: ErrMissingIdempotencyKey,
		},
		{
			name:    "empty cart",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k"},
			wantErr: ErrInvalidCart,
		},
		{
			name:    "duplicate item",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{line, {ItemID: itemID, PurchaseRequestID: "other"}}},
			wantErr: ErrInvalidCart,
		},
		{
			name:    "quantity differs from request",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{{ItemID: itemID, PurchaseRequestID: line.PurchaseRequestID, Quantity: 3}}},
			wantErr: ErrInvalidCart,
		},
		{
			name:    "unknown request",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{{ItemID: itemID, PurchaseRequestID: "nope"}}},
			wantErr: ErrNotFound,
		},
		{
			name:    "someone else's request",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{othersLine}},
			wantErr: ErrForbidden,
		},
		{
			name:    "request still pending",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{{ItemID: itemID, PurchaseRequestID: pending.RequestID}}},
			wantErr: ErrRequestConflict,
		},
		{
			name:    "own item",
			req:     Request{BuyerID: buyer, IdempotencyKey: "k", Lines: []Line{{ItemID: ownItem, PurchaseRequestID: ownReq.RequestID}}},
			wantErr: ErrOwnItem,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, before, f.fake.Calls("TransactWriteItems"))
}

func TestCheckout_ItemSoldBetweenCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1, b2, seller := f.user(t, "b1"), f.user(t, "b2"), f.user(t, "seller")
	itemID := f.item(t, seller, 50)
	l1 := f.accepted(t, b1, seller, itemID)
	l2 := f.accepted(t, b2, seller, itemID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []struct {
		buyer string
		line  Line
	}{{b1, l1}, {b2, l2}} {
		wg.Add(1)
		go func(i int, buyer string, line Line) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, Request{BuyerID: buyer, IdempotencyKey: "k", DeliveryAddress: "x", Lines: []Line{line}})
		}(i, c.buyer, c.line)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrItemUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, unavailable)
	assert.Equal(t, int64(150), f.balance(t, seller), "seller credited exactly once")
	assert.Equal(t, int64(150), f.balance(t, b1)+f.balance(t, b2))
}

func TestCheckout_OrderNumbersIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")

	var numbers []int64
	for i := 0; i < 3; i++ {
		line := f.accepted(t, buyer, seller, f.item(t, seller, 10))
		res, err := f.svc.Checkout(ctx, Request{BuyerID: buyer, IdempotencyKey: fmt.Sprint(i), DeliveryAddress: "x", Lines: []Line{line}})
		require.NoError(t, err)
		o, err := f.orders.Get(ctx, res.OrderID)
		require.NoError(t, err)
		numbers = append(numbers, o.OrderNumber)
	}
	assert.Equal(t, []int64{1, 2, 3}, numbers)
}

func TestCheckout_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("queue down")
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")
	line := f.accepted(t, buyer, seller, f.item(t, seller, 10))

	res, err := f.svc.Checkout(context.Background(), Request{BuyerID: buyer, IdempotencyKey: "k", DeliveryAddress: "x", Lines: []Line{line}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, int64(90), f.balance(t, buyer))
}

func TestCheckout_StoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	buyer, seller := f.user(t, "buyer"), f.user(t, "seller")
	line := f.accepted(t, buyer, seller, f.item(t, seller, 10))
	f.fake.FailOn("TransactWriteItems", errors.New("InternalServerError"))

	_, err := f.svc.Checkout(context.Background(), Request{BuyerID: buyer, IdempotencyKey: "k", DeliveryAddress: "x", Lines: []Line{line}})
	require.Error(t, err)
	assert.Equal(t, "internal", reason(err))
}

func TestCancelled_MapsReasons(t *testing.T) {
	f := newFixture(t)
	kinds := []actionKind{actIdempotency, actOrder, actDebit, actCredit, actItem, actRequest}
	cancel := func(failed int, code string) error {
		reasons := make([]types.CancellationReason, len(kinds))
		for i := range reasons {
			c := "None"
			if i == failed {
				c = code
			}
			reasons[i] = types.CancellationReason{Code: &c}
		}
		return &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "balance", err: cancel(2, "ConditionalCheckFailed"), wantErr: ErrInsufficientBalance},
		{name: "item", err: cancel(4, "ConditionalCheckFailed"), wantErr: ErrItemUnavailable},
		{name: "request", err: cancel(5, "ConditionalCheckFailed"), wantErr: ErrRequestConflict},
		{name: "same key in flight", err: cancel(0, "TransactionConflict"), wantErr: ErrInProgress},
		{name: "record contention", err: cancel(4, "TransactionConflict"), wantErr: ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.cancelled(context.Background(), "missing", kinds, tt.err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := f.svc.cancelled(context.Background(), "missing", kinds, errors.New("boom"))
	assert.Error(t, err)
}

func TestCancelled_ReplaysWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	put, err := f.idem.DonePut("b#k", scope, "order-1", `{"order_id":"order-1"}`, http.StatusCreated)
	require.NoError(t, err)
	f.fake.Seed("idempotency", put.Put.Item)

	c := "ConditionalCheckFailed"
	none := "None"
	txErr := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{{Code: &c}, {Code: &none}, {Code: &c}}}

	res, err := f.svc.cancelled(ctx, "b#k", []actionKind{actIdempotency, actOrder, actItem}, txErr)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "order-1", res.OrderID)
}
