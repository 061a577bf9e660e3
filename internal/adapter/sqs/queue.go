package sqs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docvec/apps/backend/internal/worker"
)

const (
	FailureReasonAttribute = "FailureReason"
	defaultGroupID         = "docvec"
)

type API interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

type Config struct {
	QueueURL string
	// FIFO queues need content-based deduplication enabled; only the group
	// id is set on send.
	FIFO                     bool
	MaxMessages              int32
	WaitSeconds              int32
	VisibilityTimeoutSeconds int32
}

// Queue is one SQS queue. The same type serves the primary queue and the
// dead-letter queue.
type Queue struct {
	client API
	cfg    Config
}

func NewQueue(client API, cfg Config) *Queue {
	if strings.HasSuffix(cfg.QueueURL, ".fifo") {
		cfg.FIFO = true
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 1
	}
	return &Queue{client: client, cfg: cfg}
}

func (q *Queue) URL() string { return q.cfg.QueueURL }

func (q *Queue) Receive(ctx context.Context) ([]worker.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.cfg.QueueURL),
		MaxNumberOfMessages: q.cfg.MaxMessages,
		WaitTimeSeconds:     q.cfg.WaitSeconds,
		VisibilityTimeout:   q.cfg.VisibilityTimeoutSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameMessageGroupId,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.cfg.QueueURL, err)
	}

	msgs := make([]worker.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := worker.Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			GroupID:       m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
		}
		if rc, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			msg.ReceiveCount = rc
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.cfg.QueueURL, err)
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, body, groupID string) error {
	return q.send(ctx, body, groupID, nil)
}

// PublishDeadLetter sends the original body with the failure reason as a
// message attribute.
func (q *Queue) PublishDeadLetter(ctx context.Context, msg worker.Message, reason string) error {
	return q.send(ctx, msg.Body, msg.GroupID, map[string]types.MessageAttributeValue{
		FailureReasonAttribute: {
			DataType:    aws.String("String"),
			StringValue: aws.String(reason),
		},
	})
}

func (q *Queue) send(ctx context.Context, body, groupID string, attrs map[string]types.MessageAttributeValue) error {
	in := &awssqs.SendMessageInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: attrs,
	}
	if q.cfg.FIFO {
		if groupID == "" {
			groupID = defaultGroupID
		}
		in.MessageGroupId = aws.String(groupID)
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("send to %s: %w", q.cfg.QueueURL, err)
	}
	return nil
}
