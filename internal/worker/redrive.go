package worker

import (
	"context"
	"log/slog"
	"time"

	"docvec/apps/backend/internal/middleware"
)

// Redriver moves messages from the dead-letter queue back to the primary queue.
type Redriver struct {
	deadLetters Queue
	primary     Publisher
	backoff     time.Duration
}

func NewRedriver(deadLetters Queue, primary Publisher, backoff time.Duration) *Redriver {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Redriver{deadLetters: deadLetters, primary: primary, backoff: backoff}
}

// Run republishes dead letters until ctx is cancelled. With drain set it
// returns after the first empty receive. It reports how many messages moved.
func (r *Redriver) Run(ctx context.Context, drain bool) (int, error) {
	moved := 0
	for {
		if ctx.Err() != nil {
			return moved, nil
		}

		msgs, err := r.deadLetters.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return moved, nil
			}
			if drain {
				return moved, err
			}
			slog.ErrorContext(ctx, "dead-letter receive failed", "error", err)
			r.wait(ctx)
			continue
		}

		if len(msgs) == 0 {
			if drain {
				slog.InfoContext(ctx, "dead-letter queue drained", "moved", moved)
				return moved, nil
			}
			r.wait(ctx)
			continue
		}

		for _, msg := range msgs {
			if err := r.move(ctx, msg); err != nil {
				slog.ErrorContext(middleware.WithCorrelationID(ctx, msg.ID), "redrive failed", "error", err)
				continue
			}
			moved++
		}
	}
}

func (r *Redriver) move(ctx context.Context, msg Message) error {
	if err := r.primary.Publish(ctx, msg.Body, msg.GroupID); err != nil {
		return err
	}
	if err := r.deadLetters.Delete(ctx, msg.ReceiptHandle); err != nil {
		return err
	}
	slog.InfoContext(middleware.WithCorrelationID(ctx, msg.ID), "message redriven")
	return nil
}

func (r *Redriver) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.backoff):
	}
}
