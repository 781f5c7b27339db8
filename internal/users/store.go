package users

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

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
	ErrNoChanges     = errors.New("no fields to update")
)

// Store encapsulates operations on the users and usernames tables.
type Store struct {
	client         aws.DynamoDBAPI
	tableName      string
	usernamesTable string
	nowFunc        func() time.Time
}

// NewStore creates a new users Store.
func NewStore(client aws.DynamoDBAPI, tableName, usernamesTable string) *Store {
	return &Store{
		client:         client,
		tableName:      tableName,
		usernamesTable: usernamesTable,
		nowFunc:        time.Now,
	}
}

// Table returns the users table name.
func (s *Store) Table() string { return s.tableName }

// Create writes a new user and claims its username in one transaction.
func (s *Store) Create(ctx context.Context, username, usermail, passwordHash string) (*User, error) {
	now := s.nowFunc().UTC()
	u := User{
		UserID:       uuid.NewString(),
		Username:     username,
		Usermail:     usermail,
		PasswordHash: passwordHash,
		Balance:      InitialBalance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	userMap, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	claimMap, err := attributevalue.MarshalMap(usernameClaim{Username: normalize(username), UserID: u.UserID})
	if err != nil {
		return nil, fmt.Errorf("marshal username claim: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.usernamesTable,
					Item:                claimMap,
					ConditionExpression: awsString("attribute_not_exists(username)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                userMap,
					ConditionExpression: awsString("attribute_not_exists(user_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 && reasonFailed(tce.CancellationReasons[0]) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("transact write: %w", err)
	}
	return &u, nil
}

// Get fetches a user by id.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(userID),
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// GetByUsername resolves the username claim and loads the user.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.usernamesTable,
		Key: map[string]types.AttributeValue{
			"username": &types.AttributeValueMemberS{Value: normalize(username)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get username: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var claim usernameClaim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("unmarshal username claim: %w", err)
	}
	return s.Get(ctx, claim.UserID)
}

// Update overwrites the non-empty fields in ch and returns the updated user.
func (s *Store) Update(ctx context.Context, userID string, ch Changes) (*User, error) {
	sets := []string{"updated_at = :ua"}
	values := map[string]types.AttributeValue{
		":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	if ch.Usermail != "" {
		sets = append(sets, "usermail = :m")
		values[":m"] = &types.AttributeValueMemberS{Value: ch.Usermail}
	}
	if ch.PasswordHash != "" {
		sets = append(sets, "password_hash = :p")
		values[":p"] = &types.AttributeValueMemberS{Value: ch.PasswordHash}
	}
	if ch.About != "" {
		sets = append(sets, "about = :a")
		values[":a"] = &types.AttributeValueMemberS{Value: ch.About}
	}
	if len(sets) == 1 {
		return nil, ErrNoChanges
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(userID),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       awsString("attribute_exists(user_id)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Attributes, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// AddBalance atomically adds amount to the user's balance and returns the new balance.
func (s *Store) AddBalance(ctx context.Context, userID string, amount int64) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(userID),
		UpdateExpression:    awsString("ADD balance :amt SET updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amt": number(amount),
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("add balance: %w", err)
	}
	var res struct {
		Balance int64 `dynamodbav:"balance"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &res); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return res.Balance, nil
}

// Balance returns the current balance of a user.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// SetDonor flags the user as a donor.
func (s *Store) SetDonor(ctx context.Context, userID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(userID),
		UpdateExpression:    awsString("SET donor = :t, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":  &types.AttributeValueMemberBOOL{Value: true},
			":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("set donor: %w", err)
	}
	return nil
}

// DebitUpdate builds a transactional debit that only applies while balance >= amount.
func (s *Store) DebitUpdate(userID string, amount int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 key(userID),
			UpdateExpression:    awsString("ADD balance :neg"),
			ConditionExpression: awsString("balance >= :amt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":neg": number(-amount),
				":amt": number(amount),
			},
		},
	}
}

// CreditUpdate builds a transactional credit for an existing user.
func (s *Store) CreditUpdate(userID string, amount int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 key(userID),
			UpdateExpression:    awsString("ADD balance :amt"),
			ConditionExpression: awsString("attribute_exists(user_id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt": number(amount),
			},
		},
	}
}

func key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func reasonFailed(r types.CancellationReason) bool {
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

func isConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return errors.As(err, &cf)
}

func awsString(s string) *string { return &s }

func sdkBool(b bool) *bool { return &b }
