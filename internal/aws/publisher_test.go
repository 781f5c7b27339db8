package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSQS struct {
	in  *sqs.SendMessageInput
	err error
}

func (c *captureSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.in = params
	if c.err != nil {
		return nil, c.err
	}
	return &sqs.SendMessageOutput{MessageId: awsString("msg-1")}, nil
}

func TestPublisherSend_SkipsEmptyAttributes(t *testing.T) {
	client := &captureSQS{}
	p := NewPublisher(client, "https://sqs.local/queue")

	id, err := p.Send(context.Background(), `{"order_id":"o1"}`, map[string]string{
		"order_id":       "o1",
		"correlation_id": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "https://sqs.local/queue", *client.in.QueueUrl)
	assert.Contains(t, client.in.MessageAttributes, "order_id")
	assert.NotContains(t, client.in.MessageAttributes, "correlation_id")
}

func TestPublisherSend_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&captureSQS{err: boom}, "q")

	_, err := p.Send(context.Background(), "{}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPublisherSend_FIFOQueue(t *testing.T) {
	client := &captureSQS{}
	p := NewPublisher(client, "https://sqs.local/order-events.fifo")

	_, err := p.Send(context.Background(), "{}", map[string]string{"order_id": "o7"})
	require.NoError(t, err)
	require.NotNil(t, client.in.MessageGroupId)
	assert.Equal(t, "o7", *client.in.MessageGroupId)
	assert.Equal(t, "o7", *client.in.MessageDeduplicationId)

	_, err = p.Send(context.Background(), "{}", nil)
	assert.Error(t, err)
}

func TestPublisherSend_StandardQueueHasNoGroup(t *testing.T) {
	client := &captureSQS{}
	p := NewPublisher(client, "https://sqs.local/order-events")

	_, err := p.Send(context.Background(), "{}", map[string]string{"order_id": "o7"})
	require.NoError(t, err)
	assert.Nil(t, client.in.MessageGroupId)
	assert.Nil(t, client.in.MessageDeduplicationId)
}
