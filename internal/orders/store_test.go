package orders

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-student-marketplace/internal/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id")
	fake.CreateTable("counters", "counter_name")
	return NewStore(fake, "orders"), fake
}

func sampleOrder(id string, number int64, buyer string) Order {
	return Order{
		OrderID:     id,
		OrderNumber: number,
		UserID:      buyer,
		Items: []Line{
			{ItemID: "i1", Name: "Calc Book", Price: 40, Quantity: 1, SellerID: "S1", PurchaseRequestID: "r1"},
			{ItemID: "i2", Name: "Lab Coat", Price: 20, Quantity: 1, SellerID: "S2", PurchaseRequestID: "r2"},
			{ItemID: "i3", Name: "Pipette", Price: 5, Quantity: 2, SellerID: "S1", PurchaseRequestID: "r3"},
		},
		TotalPrice:      70,
		DeliveryAddress: "Hall 4",
	}
}

func put(t *testing.T, s *Store, fake *dynamotest.Fake, o Order) error {
	t.Helper()
	tx, err := s.PutTx(o)
	require.NoError(t, err)
	_, err = fake.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{tx},
	})
	return err
}

func TestOrderGrouping(t *testing.T) {
	o := sampleOrder("o1", 1, "B")

	assert.Equal(t, map[string]int64{"S1": 50, "S2": 20}, o.Subtotals())
	assert.Equal(t, []string{"S1", "S2"}, o.Sellers())
	assert.Len(t, o.BySeller()["S1"], 2)

	var sum int64
	for _, v := range o.Subtotals() {
		sum += v
	}
	assert.Equal(t, o.TotalPrice, sum)
}

func TestPutTx_WritesOnce(t *testing.T) {
	s, fake := newTestStore(t)

	require.NoError(t, put(t, s, fake, sampleOrder("o1", 1, "B")))

	err := put(t, s, fake, sampleOrder("o1", 2, "B"))
	var tce *types.TransactionCanceledException
	assert.ErrorAs(t, err, &tce)

	got, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OrderNumber)
	assert.Equal(t, StatusPending, got.NotificationStatus)
	assert.Equal(t, []string{"S1", "S2"}, got.SellerIDs)
	assert.Len(t, got.Items, 3)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByUserAndSeller(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, put(t, s, fake, sampleOrder("o1", 1, "B")))
	require.NoError(t, put(t, s, fake, sampleOrder("o2", 2, "B")))
	other := sampleOrder("o3", 3, "C")
	other.Items = other.Items[1:2]
	require.NoError(t, put(t, s, fake, other))

	mine, err := s.ListByUser(ctx, "B")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "o2", mine[0].OrderID, "newest first")

	views, err := s.ListBySeller(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Len(t, v.Items, 2)
		for _, l := range v.Items {
			assert.Equal(t, "S1", l.SellerID)
		}
	}

	views, err = s.ListBySeller(ctx, "S2")
	require.NoError(t, err)
	assert.Len(t, views, 3)

	views, err = s.ListBySeller(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, put(t, s, fake, sampleOrder("o10", 10, "B")))

	// success: PENDING -> PROCESSING
	require.NoError(t, s.UpdateStatus(ctx, "o10", StatusPending, StatusProcessing))

	// failure: PENDING -> COMPLETED (but current is PROCESSING)
	err := s.UpdateStatus(ctx, "o10", StatusPending, StatusCompleted)
	assert.True(t, errors.Is(err, ErrStatusMismatch))

	got, err := s.Get(ctx, "o10")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.NotificationStatus)
}

func TestIncrementAttempts(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, put(t, s, fake, sampleOrder("o1", 1, "B")))

	n, err := s.IncrementAttempts(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementAttempts(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.IncrementAttempts(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCounter_Next(t *testing.T) {
	_, fake := newTestStore(t)
	c := NewCounter(fake, "counters")
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Next(ctx, OrderNumberCounter)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	fake.FailOn("UpdateItem", errors.New("throttled"))
	_, err := c.Next(ctx, OrderNumberCounter)
	assert.Error(t, err)
}
