package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
	"github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/idempotency"
	"github.com/imrishuroy/go-student-marketplace/internal/items"
	"github.com/imrishuroy/go-student-marketplace/internal/metrics"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/requests"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

// MaxActions is the DynamoDB limit on actions per TransactWriteItems call.
const MaxActions = 100

const scope = "checkout"

// Line is one cart entry. Price and seller are never taken from the client.
type Line struct {
	ItemID            string
	PurchaseRequestID string
	Quantity          int
}

type Request struct {
	BuyerID         string
	IdempotencyKey  string
	CorrelationID   string
	DeliveryAddress string
	Lines           []Line
}

// Result is what the caller should answer. Body is the exact response that was
// committed with the idempotency record, so a replay is byte-identical.
type Result struct {
	OrderID  string
	Status   int
	Body     []byte
	Replayed bool
}

type Deps struct {
	DynamoDB    aws.DynamoDBAPI
	Users       *users.Store
	Items       *items.Store
	Requests    *requests.Store
	Orders      *orders.Store
	Counter     *orders.Counter
	Idempotency *idempotency.Store
	Publisher   events.Publisher
	Metrics     *metrics.Recorder
}

// Service settles a cart into an order in a single DynamoDB transaction:
// the buyer is debited, every seller credited, items withdrawn and requests stamped.
type Service struct {
	client    aws.DynamoDBAPI
	users     *users.Store
	items     *items.Store
	requests  *requests.Store
	orders    *orders.Store
	counter   *orders.Counter
	idem      *idempotency.Store
	publisher events.Publisher
	metrics   *metrics.Recorder
	nowFunc   func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		client:    d.DynamoDB,
		users:     d.Users,
		items:     d.Items,
		requests:  d.Requests,
		orders:    d.Orders,
		counter:   d.Counter,
		idem:      d.Idempotency,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		nowFunc:   time.Now,
	}
}

// action kinds, parallel to the transaction items so cancellation reasons can be read back.
type actionKind int

const (
	actIdempotency actionKind = iota
	actOrder
	actDebit
	actCredit
	actItem
	actRequest
)

func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	start := s.nowFunc()
	res, err := s.checkout(ctx, req)
	switch {
	case err != nil:
		s.metrics.Count(ctx, metrics.CheckoutRejected, 1, map[string]string{"reason": reason(err)})
	case res.Replayed:
		s.metrics.Count(ctx, metrics.CheckoutReplayed, 1, nil)
	default:
		s.metrics.Count(ctx, metrics.CheckoutCompleted, 1, nil)
		s.metrics.Duration(ctx, metrics.CheckoutLatency, s.nowFunc().Sub(start), nil)
	}
	return res, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if err := checkLines(req.Lines); err != nil {
		return nil, err
	}
	idemKey := idempotency.Key(scope+":"+req.BuyerID, req.IdempotencyKey)
	log := slog.With("buyer_id", req.BuyerID, "idempotency_key", req.IdempotencyKey, "correlation_id", req.CorrelationID)

	if res, err := s.replay(ctx, idemKey); res != nil || err != nil {
		if res != nil {
			log.Info("checkout replayed", "order_id", res.OrderID)
		}
		return res, err
	}

	now := s.nowFunc().UTC()
	order := orders.Order{
		OrderID:         uuid.NewString(),
		UserID:          req.BuyerID,
		DeliveryAddress: req.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var sold []items.Item
	var settled []requests.PurchaseRequest
	for _, l := range req.Lines {
		pr, it, err := s.resolve(ctx, req.BuyerID, l)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, orders.Line{
			ItemID:            it.ItemID,
			Name:              it.Name,
			Price:             it.Price,
			Quantity:          pr.Quantity,
			SellerID:          it.OwnerID,
			PurchaseRequestID: pr.RequestID,
		})
		order.TotalPrice += it.Price * int64(pr.Quantity)
		sold = append(sold, *it)
		settled = append(settled, *pr)
	}
	subtotals := order.Subtotals()
	sellers := order.Sellers()
	order.SellerIDs = sellers
	if 3+len(sellers)+len(sold)+len(settled) > MaxActions {
		return nil, ErrCartTooLarge
	}

	balance, err := s.users.Balance(ctx, req.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("load buyer balance: %w", err)
	}
	if balance < order.TotalPrice {
		return nil, ErrInsufficientBalance
	}

	number, err := s.counter.Next(ctx, orders.OrderNumberCounter)
	if err != nil {
		return nil, fmt.Errorf("allocate order number: %w", err)
	}
	order.OrderNumber = number

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order response: %w", err)
	}

	var tx []types.TransactWriteItem
	var kinds []actionKind
	add := func(k actionKind, item types.TransactWriteItem) {
		tx = append(tx, item)
		kinds = append(kinds, k)
	}

	donePut, err := s.idem.DonePut(idemKey, scope, order.OrderID, string(body), http.StatusCreated)
	if err != nil {
		return nil, err
	}
	add(actIdempotency, donePut)
	orderPut, err := s.orders.PutTx(order)
	if err != nil {
		return nil, err
	}
	add(actOrder, orderPut)
	add(actDebit, s.users.DebitUpdate(req.BuyerID, order.TotalPrice))
	for _, sellerID := range sellers {
		add(actCredit, s.users.CreditUpdate(sellerID, subtotals[sellerID]))
	}
	for _, it := range sold {
		add(actItem, s.items.SoldUpdate(it, now))
	}
	for _, pr := range settled {
		add(actRequest, s.requests.SettleUpdate(pr, order.OrderID, now))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		return s.cancelled(ctx, idemKey, kinds, err)
	}

	log.Info("order settled",
		"order_id", order.OrderID,
		"order_number", order.OrderNumber,
		"total", order.TotalPrice,
		"sellers", len(sellers),
	)
	s.metrics.Count(ctx, metrics.CheckoutAmount, float64(order.TotalPrice), nil)
	s.publish(ctx, log, order, req.CorrelationID)

	return &Result{OrderID: order.OrderID, Status: http.StatusCreated, Body: body}, nil
}

// resolve loads a cart line's request and item and checks they can be settled together.
func (s *Service) resolve(ctx context.Context, buyerID string, l Line) (*requests.PurchaseRequest, *items.Item, error) {
	pr, err := s.requests.Get(ctx, l.PurchaseRequestID)
	if errors.Is(err, requests.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: request %s", ErrNotFound, l.PurchaseRequestID)
	}
	if err != nil {
		return nil, nil, err
	}
	if pr.BuyerID != buyerID {
		return nil, nil, ErrForbidden
	}
	if pr.ItemID != l.ItemID {
		return nil, nil, fmt.Errorf("%w: request %s is for another item", ErrInvalidCart, pr.RequestID)
	}
	if pr.Status != requests.StatusAccepted || pr.OrderID != "" {
		return nil, nil, fmt.Errorf("%w: request %s is %s", ErrRequestConflict, pr.RequestID, pr.Status)
	}
	if l.Quantity != 0 && l.Quantity != pr.Quantity {
		return nil, nil, fmt.Errorf("%w: quantity differs from request %s", ErrInvalidCart, pr.RequestID)
	}

	it, err := s.items.Get(ctx, l.ItemID)
	if errors.Is(err, items.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: item %s", ErrNotFound, l.ItemID)
	}
	if err != nil {
		return nil, nil, err
	}
	if it.OwnerID == buyerID {
		return nil, nil, ErrOwnItem
	}
	if !it.Available || it.OwnerID != pr.SellerID {
		return nil, nil, fmt.Errorf("%w: %s", ErrItemUnavailable, it.ItemID)
	}
	return pr, it, nil
}

// replay returns the stored response for a key that already settled.
func (s *Service) replay(ctx context.Context, idemKey string) (*Result, error) {
	rec, err := s.idem.Get(ctx, idemKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Status != idempotency.StatusDone {
		return nil, ErrInProgress
	}
	return &Result{
		OrderID:  rec.ResourceID,
		Status:   rec.ResponseStatus,
		Body:     []byte(rec.ResponseBody),
		Replayed: true,
	}, nil
}

// cancelled maps a failed transaction back to the condition that failed.
func (s *Service) cancelled(ctx context.Context, idemKey string, kinds []actionKind, txErr error) (*Result, error) {
	var tce *types.TransactionCanceledException
	if !errors.As(txErr, &tce) {
		return nil, fmt.Errorf("settlement transaction: %w", txErr)
	}

	firstFailed := -1
	for i, r := range tce.CancellationReasons {
		if r.Code == nil {
			continue
		}
		switch *r.Code {
		case "ConditionalCheckFailed":
			if i < len(kinds) && kinds[i] == actIdempotency {
				// a concurrent attempt with the same key won
				if res, err := s.replay(ctx, idemKey); res != nil || err != nil {
					return res, err
				}
			}
			if firstFailed < 0 {
				firstFailed = i
			}
		case "TransactionConflict":
			if i < len(kinds) && kinds[i] == actIdempotency {
				return nil, ErrInProgress
			}
			return nil, ErrConflict
		}
	}
	if firstFailed < 0 || firstFailed >= len(kinds) {
		return nil, fmt.Errorf("settlement transaction: %w", txErr)
	}
	switch kinds[firstFailed] {
	case actDebit:
		return nil, ErrInsufficientBalance
	case actItem:
		return nil, ErrItemUnavailable
	case actRequest:
		return nil, ErrRequestConflict
	default:
		return nil, fmt.Errorf("settlement transaction (action %d): %w", firstFailed, txErr)
	}
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, o orders.Order, correlationID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishOrderSettled(ctx, events.OrderSettled{
		Type:          events.TypeOrderSettled,
		OrderID:       o.OrderID,
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.UserID,
		CorrelationID: correlationID,
		OccurredAt:    o.CreatedAt,
	})
	if err != nil {
		log.Error("failed to publish order event", "order_id", o.OrderID, "error", err)
		s.metrics.Count(ctx, metrics.EventPublishFailed, 1, nil)
	}
}

func checkLines(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: empty cart", ErrInvalidCart)
	}
	seenItem := make(map[string]bool, len(lines))
	seenReq := make(map[string]bool, len(lines))
	for i, l := range lines {
		if l.ItemID == "" || l.PurchaseRequestID == "" {
			return fmt.Errorf("%w: line %d is incomplete", ErrInvalidCart, i)
		}
		if seenItem[l.ItemID] || seenReq[l.PurchaseRequestID] {
			return fmt.Errorf("%w: line %d is a duplicate", ErrInvalidCart, i)
		}
		seenItem[l.ItemID] = true
		seenReq[l.PurchaseRequestID] = true
	}
	return nil
}

var reasons = []struct {
	err  error
	code string
}{
	{ErrMissingIdempotencyKey, "missing_idempotency_key"},
	{ErrInvalidCart, "invalid_cart"},
	{ErrCartTooLarge, "cart_too_large"},
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrOwnItem, "own_item"},
	{ErrRequestConflict, "request_conflict"},
	{ErrItemUnavailable, "item_unavailable"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInProgress, "checkout_in_progress"},
	{ErrConflict, "transaction_conflict"},
}

// reason is the metric dimension for a rejected checkout.
func reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}
