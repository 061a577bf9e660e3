package nsq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"docvec/apps/backend/internal/worker"
)

// Producer is satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
}

type Envelope struct {
	Body          string `json:"body"`
	FailureReason string `json:"failure_reason"`
	MessageID     string `json:"message_id"`
	ReceiveCount  int    `json:"receive_count"`
}

// DeadLetterSink publishes dead letters to an NSQ topic instead of an SQS queue.
type DeadLetterSink struct {
	producer Producer
	topic    string
}

func NewDeadLetterSink(producer Producer, topic string) *DeadLetterSink {
	return &DeadLetterSink{producer: producer, topic: topic}
}

// NewProducer connects to nsqd and checks the connection.
func NewProducer(addr string) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("ping nsqd %s: %w", addr, err)
	}
	return p, nil
}

func (s *DeadLetterSink) PublishDeadLetter(ctx context.Context, msg worker.Message, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{
		Body:          msg.Body,
		FailureReason: reason,
		MessageID:     msg.ID,
		ReceiveCount:  msg.ReceiveCount,
	})
	if err != nil {
		return err
	}
	if err := s.producer.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}
