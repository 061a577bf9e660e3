package sqs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/internal/adapter/sqs"
	"docvec/apps/backend/internal/worker"
)

type MockSQS struct{ mock.Mock }

func (m *MockSQS) ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockSQS) DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	return &awssqs.DeleteMessageOutput{}, args.Error(0)
}

func (m *MockSQS) SendMessage(ctx context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	return &awssqs.SendMessageOutput{MessageId: aws.String("sent-1")}, args.Error(0)
}

const queueURL = "http://localhost:4566/000000000000/ingest"

func TestQueue_Receive(t *testing.T) {
	client := new(MockSQS)
	q := sqs.NewQueue(client, sqs.Config{QueueURL: queueURL, MaxMessages: 5, WaitSeconds: 20, VisibilityTimeoutSeconds: 300})

	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == queueURL && in.MaxNumberOfMessages == 5 &&
			in.WaitTimeSeconds == 20 && in.VisibilityTimeout == 300 &&
			assert.Contains(t, in.MessageSystemAttributeNames, types.MessageSystemAttributeNameApproximateReceiveCount)
	})).Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{
		{
			MessageId:     aws.String("m-1"),
			ReceiptHandle: aws.String("rh-1"),
			Body:          aws.String(`{"Records":[]}`),
			Attributes:    map[string]string{"ApproximateReceiveCount": "2", "MessageGroupId": "a.pdf"},
		},
		{MessageId: aws.String("m-2"), ReceiptHandle: aws.String("rh-2"), Body: aws.String("x")},
	}}, nil)

	msgs, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, worker.Message{ID: "m-1", ReceiptHandle: "rh-1", Body: `{"Records":[]}`, ReceiveCount: 2, GroupID: "a.pdf"}, msgs[0])
	assert.Zero(t, msgs[1].ReceiveCount)
}

func TestQueue_ReceiveError(t *testing.T) {
	client := new(MockSQS)
	q := sqs.NewQueue(client, sqs.Config{QueueURL: queueURL})
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := q.Receive(context.Background())
	assert.ErrorContains(t, err, "throttled")
}

func TestQueue_Delete(t *testing.T) {
	client := new(MockSQS)
	q := sqs.NewQueue(client, sqs.Config{QueueURL: queueURL})
	client.On("DeleteMessage", mock.Anything, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String("rh-1"),
	}).Return(nil)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	client.AssertExpectations(t)
}

func TestQueue_PublishDeadLetter(t *testing.T) {
	client := new(MockSQS)
	q := sqs.NewQueue(client, sqs.Config{QueueURL: queueURL + "-dlq"})

	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.SendMessageInput) bool {
		attr, ok := in.MessageAttributes[sqs.FailureReasonAttribute]
		return ok && aws.ToString(attr.StringValue) == "Exceeded max retry attempts" &&
			aws.ToString(attr.DataType) == "String" &&
			aws.ToString(in.MessageBody) == "body" && in.MessageGroupId == nil
	})).Return(nil)

	err := q.PublishDeadLetter(context.Background(), worker.Message{Body: "body"}, "Exceeded max retry attempts")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestQueue_PublishFIFOGroup(t *testing.T) {
	client := new(MockSQS)
	q := sqs.NewQueue(client, sqs.Config{QueueURL: queueURL + ".fifo"})

	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.SendMessageInput) bool {
		return aws.ToString(in.MessageGroupId) == "report.pdf" && in.MessageAttributes == nil
	})).Return(nil).Once()
	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.SendMessageInput) bool {
		return aws.ToString(in.MessageGroupId) == "docvec"
	})).Return(nil).Once()

	require.NoError(t, q.Publish(context.Background(), "b1", "report.pdf"))
	require.NoError(t, q.Publish(context.Background(), "b2", ""))
	client.AssertExpectations(t)
}
