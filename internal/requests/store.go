package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
)

// Secondary indexes.
const (
	BuyerIndex  = "buyer-index"
	SellerIndex = "seller-index"
)

var (
	ErrNotFound = errors.New("purchase request not found")
	// ErrForbidden means the caller is not the party allowed to make the change.
	ErrForbidden = errors.New("purchase request belongs to another user")
	// ErrStatusMismatch means the request is not in the state the change requires.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	ErrInvalidStatus  = errors.New("status must be accepted or rejected")
)

// Store encapsulates operations on the purchase requests table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new purchase requests Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create stores a new request as pending and not ordered. RequestID is generated when empty.
func (s *Store) Create(ctx context.Context, r PurchaseRequest) (*PurchaseRequest, error) {
	now := s.nowFunc().UTC()
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	r.Status = StatusPending
	r.Ordered = false
	r.OrderID = ""
	r.CreatedAt = now
	r.UpdatedAt = now

	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, fmt.Errorf("marshal purchase request: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(request_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &r, nil
}

// Get fetches a request by id.
func (s *Store) Get(ctx context.Context, requestID string) (*PurchaseRequest, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(requestID),
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var r PurchaseRequest
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal purchase request: %w", err)
	}
	return &r, nil
}

// ListByBuyer returns the requests a user has made.
func (s *Store) ListByBuyer(ctx context.Context, buyerID string) ([]PurchaseRequest, error) {
	return s.query(ctx, BuyerIndex, "buyer_id", buyerID)
}

// ListBySeller returns the requests made for a user's items.
func (s *Store) ListBySeller(ctx context.Context, sellerID string) ([]PurchaseRequest, error) {
	return s.query(ctx, SellerIndex, "seller_id", sellerID)
}

func (s *Store) query(ctx context.Context, index, attr, value string) ([]PurchaseRequest, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(index),
		KeyConditionExpression: awsString(attr + " = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	}
	var out []PurchaseRequest
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var batch []PurchaseRequest
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal purchase requests: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// SetStatus conditionally moves a request from pending to accepted or rejected.
// Only the seller may decide. Returns ErrStatusMismatch if the request was already decided.
func (s *Store) SetStatus(ctx context.Context, requestID, sellerID, status string) (*PurchaseRequest, error) {
	if status != StatusAccepted && status != StatusRejected {
		return nil, ErrInvalidStatus
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      key(requestID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :expected AND seller_id = :seller"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: status},
			":expected": &types.AttributeValueMemberS{Value: StatusPending},
			":seller":   &types.AttributeValueMemberS{Value: sellerID},
			":ua":       &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, s.classify(ctx, requestID, func(r *PurchaseRequest) bool { return r.SellerID == sellerID })
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return decode(out.Attributes)
}

// SetOrdered toggles the buyer's cart flag. Setting it requires an accepted request;
// a request already settled into an order cannot change.
func (s *Store) SetOrdered(ctx context.Context, requestID, buyerID string, ordered bool) (*PurchaseRequest, error) {
	cond := "buyer_id = :buyer AND attribute_not_exists(order_id)"
	values := map[string]types.AttributeValue{
		":ordered": &types.AttributeValueMemberBOOL{Value: ordered},
		":buyer":   &types.AttributeValueMemberS{Value: buyerID},
		":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	var names map[string]string
	if ordered {
		cond += " AND #s = :accepted"
		names = map[string]string{"#s": "status"}
		values[":accepted"] = &types.AttributeValueMemberS{Value: StatusAccepted}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(requestID),
		UpdateExpression:          awsString("SET ordered = :ordered, updated_at = :ua"),
		ConditionExpression:       awsString(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, s.classify(ctx, requestID, func(r *PurchaseRequest) bool { return r.BuyerID == buyerID })
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return decode(out.Attributes)
}

// SettleUpdate builds the transactional step that binds an accepted request to its order.
func (s *Store) SettleUpdate(r PurchaseRequest, orderID string, at time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      key(r.RequestID),
			UpdateExpression:         awsString("SET order_id = :oid, ordered = :t, updated_at = :ua"),
			ConditionExpression:      awsString("#s = :accepted AND buyer_id = :buyer AND attribute_not_exists(order_id)"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":oid":      &types.AttributeValueMemberS{Value: orderID},
				":t":        &types.AttributeValueMemberBOOL{Value: true},
				":accepted": &types.AttributeValueMemberS{Value: StatusAccepted},
				":buyer":    &types.AttributeValueMemberS{Value: r.BuyerID},
				":ua":       &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

// classify explains a failed condition: missing, wrong party, or wrong state.
func (s *Store) classify(ctx context.Context, requestID string, isParty func(*PurchaseRequest) bool) error {
	r, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if !isParty(r) {
		return ErrForbidden
	}
	return ErrStatusMismatch
}

func decode(item map[string]types.AttributeValue) (*PurchaseRequest, error) {
	var r PurchaseRequest
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal purchase request: %w", err)
	}
	return &r, nil
}

func key(requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"request_id": &types.AttributeValueMemberS{Value: requestID},
	}
}

func isConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return errors.As(err, &cf)
}

func awsString(s string) *string { return &s }

func sdkBool(b bool) *bool { return &b }
