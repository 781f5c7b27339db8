package ratings

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

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
)

// ErrAlreadyRated is returned when the rater already rated this seller for this order.
var ErrAlreadyRated = errors.New("seller already rated for this order")

// Rating is the running aggregate kept per seller.
type Rating struct {
	SellerID string `dynamodbav:"seller_id" json:"seller_id"` // PK
	Points   int64  `dynamodbav:"points" json:"points"`
	Reviews  int64  `dynamodbav:"reviews" json:"reviews"`
}

// Average is points/reviews, 0 when there are no reviews.
func (r Rating) Average() float64 {
	if r.Reviews == 0 {
		return 0
	}
	return float64(r.Points) / float64(r.Reviews)
}

type vote struct {
	VoteKey   string    `dynamodbav:"vote_key"` // PK rater#seller#order
	RaterID   string    `dynamodbav:"rater_id"`
	SellerID  string    `dynamodbav:"seller_id"`
	OrderID   string    `dynamodbav:"order_id"`
	Points    int       `dynamodbav:"points"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// Store keeps seller aggregates and the votes that fed them.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	votesTable string
	nowFunc    func() time.Time
}

// NewStore creates a ratings Store.
func NewStore(client aws.DynamoDBAPI, tableName, votesTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		votesTable: votesTable,
		nowFunc:    time.Now,
	}
}

// Add records one vote and folds it into the seller's aggregate in a single transaction.
// The aggregate is created on first use; ADD keeps concurrent votes lossless.
func (s *Store) Add(ctx context.Context, raterID, sellerID, orderID string, points int) error {
	v := vote{
		VoteKey:   voteKey(raterID, sellerID, orderID),
		RaterID:   raterID,
		SellerID:  sellerID,
		OrderID:   orderID,
		Points:    points,
		CreatedAt: s.nowFunc().UTC(),
	}
	voteMap, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal vote: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.votesTable,
					Item:                voteMap,
					ConditionExpression: awsString("attribute_not_exists(vote_key)"),
				},
			},
			{
				Update: &types.Update{
					TableName: &s.tableName,
					Key: map[string]types.AttributeValue{
						"seller_id": &types.AttributeValueMemberS{Value: sellerID},
					},
					UpdateExpression: awsString("ADD points :p, reviews :one"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":p":   &types.AttributeValueMemberN{Value: strconv.Itoa(points)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			tce.CancellationReasons[0].Code != nil && *tce.CancellationReasons[0].Code == "ConditionalCheckFailed" {
			return ErrAlreadyRated
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get returns the seller's aggregate; a seller never rated yields a zero Rating.
func (s *Store) Get(ctx context.Context, sellerID string) (Rating, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"seller_id": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return Rating{}, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return Rating{SellerID: sellerID}, nil
	}
	var r Rating
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return Rating{}, fmt.Errorf("unmarshal rating: %w", err)
	}
	return r, nil
}

func voteKey(raterID, sellerID, orderID string) string {
	return strings.Join([]string{raterID, sellerID, orderID}, "#")
}

func awsString(s string) *string { return &s }
