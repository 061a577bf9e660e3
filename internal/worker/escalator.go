package worker

import (
	"context"
	"fmt"
	"log/slog"

	"docvec/apps/backend/features/job"
	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/metrics"
	"docvec/apps/backend/internal/middleware"
)

const (
	ReasonMaxRetries    = "Exceeded max retry attempts"
	ReasonUnprocessable = "Unprocessable document"
)

type State int

const (
	StatePending State = iota
	StateRetrying
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	OutcomePassiveRetry Outcome = iota
	OutcomeDeadLettered
)

// Escalator decides what happens to a message whose processing failed.
// Retries are passive: the message is left alone and the queue redelivers it
// once the visibility timeout expires.
type Escalator struct {
	queue      Queue
	deadLetter DeadLetterPublisher
	ledger     FailureLedger
	maxRetries int
}

// NewEscalator wires the escalator. ledger may be nil.
func NewEscalator(queue Queue, deadLetter DeadLetterPublisher, ledger FailureLedger, maxRetries int) *Escalator {
	return &Escalator{queue: queue, deadLetter: deadLetter, ledger: ledger, maxRetries: maxRetries}
}

func (e *Escalator) State(receiveCount int) State {
	switch {
	case receiveCount <= 0:
		return StatePending
	case receiveCount < e.maxRetries:
		return StateRetrying
	default:
		return StateExhausted
	}
}

func (e *Escalator) Escalate(ctx context.Context, msg Message, cause error) (Outcome, error) {
	state := e.State(msg.ReceiveCount)
	if state != StateExhausted {
		slog.WarnContext(ctx, "message will be redelivered",
			"receive_count", msg.ReceiveCount, "max_retries", e.maxRetries, "state", state.String(), "error", cause)
		return OutcomePassiveRetry, nil
	}

	if err := e.DeadLetter(ctx, msg, ReasonMaxRetries, cause); err != nil {
		return OutcomePassiveRetry, err
	}
	return OutcomeDeadLettered, nil
}

// DeadLetter moves msg to the dead-letter channel and then deletes it from
// the primary queue. Nothing is deleted when the publish fails.
func (e *Escalator) DeadLetter(ctx context.Context, msg Message, reason string, cause error) error {
	if err := e.deadLetter.PublishDeadLetter(ctx, msg, reason); err != nil {
		slog.ErrorContext(ctx, "dead-letter publish failed", "error", err, "reason", reason, "receive_count", msg.ReceiveCount)
		return ingesterr.New(ingesterr.Transient, "worker.DeadLetter", fmt.Errorf("publish: %w", err))
	}
	metrics.DeadLettersTotal.WithLabelValues(reason).Inc()

	if err := e.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		slog.ErrorContext(ctx, "delete after dead-letter failed", "error", err, "receive_count", msg.ReceiveCount)
		return ingesterr.New(ingesterr.Transient, "worker.DeadLetter", fmt.Errorf("delete: %w", err))
	}
	slog.WarnContext(ctx, "message dead-lettered", "reason", reason, "receive_count", msg.ReceiveCount, "error", cause)

	e.record(ctx, msg, reason, cause)
	return nil
}

func (e *Escalator) record(ctx context.Context, msg Message, reason string, cause error) {
	if e.ledger == nil {
		return
	}
	j := &job.Job{
		MessageID:    msg.ID,
		ObjectKey:    middleware.GetObjectKey(ctx),
		Payload:      msg.Body,
		Reason:       reason,
		ReceiveCount: msg.ReceiveCount,
	}
	if cause != nil {
		j.Error = cause.Error()
	}
	if err := e.ledger.Record(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to record dead-lettered message", "error", err)
	}
}
