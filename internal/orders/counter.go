package orders

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
)

// OrderNumberCounter is the counter row that issues human-facing order numbers.
const OrderNumberCounter = "order_number"

// Counter issues monotonically increasing numbers from a counters table.
// A number taken by a checkout that later fails is not reused, so gaps are expected.
type Counter struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewCounter returns a Counter backed by tableName (hash key counter_name).
func NewCounter(client aws.DynamoDBAPI, tableName string) *Counter {
	return &Counter{client: client, tableName: tableName}
}

// Next atomically increments the named counter and returns the new value, starting at 1.
func (c *Counter) Next(ctx context.Context, name string) (int64, error) {
	out, err := c.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"counter_name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:         awsString("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{"#v": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	var res struct {
		Value int64 `dynamodbav:"value"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &res); err != nil {
		return 0, fmt.Errorf("unmarshal counter: %w", err)
	}
	return res.Value, nil
}
