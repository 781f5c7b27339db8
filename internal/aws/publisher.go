package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// GroupAttribute names the message attribute used as the FIFO message group
// and deduplication id.
const GroupAttribute = "order_id"

// Publisher sends order events to one SQS queue. Queues whose URL ends in
// ".fifo" get a message group and deduplication id per order, so a retried
// publish for the same order is dropped by SQS.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send puts a JSON body on the queue and returns the SQS message id.
// Empty attribute values are skipped.
func (p *Publisher) Send(ctx context.Context, body string, attributes map[string]string) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:          &p.QueueURL,
		MessageBody:       &body,
		MessageAttributes: messageAttributes(attributes),
	}
	if p.fifo {
		group := attributes[GroupAttribute]
		if group == "" {
			return "", fmt.Errorf("fifo queue needs a %s attribute", GroupAttribute)
		}
		input.MessageGroupId = awsString(group)
		input.MessageDeduplicationId = awsString(group)
	}

	out, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", p.QueueURL, err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

func messageAttributes(in map[string]string) map[string]sqstypes.MessageAttributeValue {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(in))
	for k, v := range in {
		if v == "" {
			continue
		}
		out[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	return out
}

func awsString(s string) *string { return &s }
