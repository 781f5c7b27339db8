package items

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
)

// OwnerIndex is the GSI on owner_id.
const OwnerIndex = "owner-index"

var (
	ErrNotFound  = errors.New("item not found")
	ErrForbidden = errors.New("item belongs to another user")
	ErrConflict  = errors.New("item changed concurrently")
	ErrNoChanges = errors.New("no fields to update")
)

// Store encapsulates operations on the items table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new items Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create lists a new item owned by it.OwnerID. The id and timestamps are assigned here.
func (s *Store) Create(ctx context.Context, it Item) (*Item, error) {
	now := s.nowFunc().UTC()
	it.ItemID = uuid.NewString()
	it.CreatedAt = now
	it.UpdatedAt = now

	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(item_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &it, nil
}

// Get fetches an item by id.
func (s *Store) Get(ctx context.Context, itemID string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(itemID),
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &it, nil
}

// List returns every listing, or only available ones when availableOnly is set.
func (s *Store) List(ctx context.Context, availableOnly bool) ([]Item, error) {
	input := &dyn.ScanInput{TableName: &s.tableName}
	if availableOnly {
		input.FilterExpression = awsString("#av = :t")
		input.ExpressionAttributeNames = map[string]string{"#av": "available"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		}
	}

	var out []Item
	p := dyn.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan items: %w", err)
		}
		var batch []Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ListByOwner returns the listings of one user.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Item, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(OwnerIndex),
		KeyConditionExpression: awsString("owner_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	var out []Item
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query items by owner: %w", err)
		}
		var batch []Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Update applies an owner's partial edit and re-lists the item as available.
func (s *Store) Update(ctx context.Context, itemID, ownerID string, p Patch) (*Item, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":owner": &types.AttributeValueMemberS{Value: ownerID},
		":ua":    &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	var sets []string
	setString := func(attr string, v *string) {
		if v == nil {
			return
		}
		ph := "#" + attr
		names[ph] = attr
		values[":"+attr] = &types.AttributeValueMemberS{Value: *v}
		sets = append(sets, ph+" = :"+attr)
	}
	setString("name", p.Name)
	setString("category", p.Category)
	setString("condition", p.Condition)
	setString("grade", p.Grade)
	setString("subject", p.Subject)
	if p.Price != nil {
		values[":price"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*p.Price, 10)}
		sets = append(sets, "price = :price")
	}
	if p.Images != nil {
		imgs, err := attributevalue.Marshal(p.Images)
		if err != nil {
			return nil, fmt.Errorf("marshal images: %w", err)
		}
		values[":images"] = imgs
		sets = append(sets, "images = :images")
	}
	if len(sets) == 0 {
		return nil, ErrNoChanges
	}
	// availability is left alone: a sold item must not come back on sale
	sets = append(sets, "updated_at = :ua")

	if len(names) == 0 {
		names = nil
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(itemID),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       awsString("attribute_exists(item_id) AND owner_id = :owner"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, s.classify(ctx, itemID, ownerID)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &it, nil
}

// AddComments appends each comment to its item's reviews. Entries are independent:
// one missing item does not stop the rest.
func (s *Store) AddComments(ctx context.Context, comments []Comment) ([]CommentResult, error) {
	results := make([]CommentResult, 0, len(comments))
	for _, c := range comments {
		_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:           &s.tableName,
			Key:                 key(c.ItemID),
			UpdateExpression:    awsString("SET reviews = list_append(if_not_exists(reviews, :empty), :r), updated_at = :ua"),
			ConditionExpression: awsString("attribute_exists(item_id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
				":r": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: c.Text},
				}},
				":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
			},
		})
		switch {
		case err == nil:
			results = append(results, CommentResult{ItemID: c.ItemID, Message: "comment_added"})
		case isConditionFailed(err):
			results = append(results, CommentResult{ItemID: c.ItemID, Error: "item_not_found"})
		default:
			return results, fmt.Errorf("add comment to %s: %w", c.ItemID, err)
		}
	}
	return results, nil
}

// MakeUnavailable retires the given items in one transaction. Every item must
// exist and belong to ownerID, otherwise nothing changes.
func (s *Store) MakeUnavailable(ctx context.Context, ownerID string, itemIDs []string) error {
	// a transaction may touch each item only once
	itemIDs = dedupe(itemIDs)
	ua := s.nowFunc().UTC().Format(time.RFC3339Nano)
	tx := make([]types.TransactWriteItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		tx = append(tx, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                &s.tableName,
				Key:                      key(id),
				UpdateExpression:         awsString("SET #av = :f, updated_at = :ua"),
				ConditionExpression:      awsString("attribute_exists(item_id) AND owner_id = :owner"),
				ExpressionAttributeNames: map[string]string{"#av": "available"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":f":     &types.AttributeValueMemberBOOL{Value: false},
					":owner": &types.AttributeValueMemberS{Value: ownerID},
					":ua":    &types.AttributeValueMemberS{Value: ua},
				},
			},
		})
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: tx})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, r := range tce.CancellationReasons {
				if r.Code != nil && *r.Code == "ConditionalCheckFailed" && i < len(itemIDs) {
					return fmt.Errorf("%w: %s", s.classify(ctx, itemIDs[i], ownerID), itemIDs[i])
				}
			}
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// SoldUpdate builds the transactional step that retires a sold item. It only applies
// while the item is still available at the price and owner the buyer was charged.
func (s *Store) SoldUpdate(it Item, soldAt time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      key(it.ItemID),
			UpdateExpression:         awsString("SET #av = :f, updated_at = :ua"),
			ConditionExpression:      awsString("#av = :t AND owner_id = :owner AND price = :price"),
			ExpressionAttributeNames: map[string]string{"#av": "available"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f":     &types.AttributeValueMemberBOOL{Value: false},
				":t":     &types.AttributeValueMemberBOOL{Value: true},
				":owner": &types.AttributeValueMemberS{Value: it.OwnerID},
				":price": &types.AttributeValueMemberN{Value: strconv.FormatInt(it.Price, 10)},
				":ua":    &types.AttributeValueMemberS{Value: soldAt.UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

// classify explains a failed owner condition.
func (s *Store) classify(ctx context.Context, itemID, ownerID string) error {
	it, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if it.OwnerID != ownerID {
		return ErrForbidden
	}
	return ErrConflict
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func key(itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"item_id": &types.AttributeValueMemberS{Value: itemID},
	}
}

func isConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return errors.As(err, &cf)
}

func awsString(s string) *string { return &s }

func sdkBool(b bool) *bool { return &b }
