package job

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"
)

// Publisher sends a body back onto the primary ingestion queue.
type Publisher interface {
	Publish(ctx context.Context, body, groupID string) error
}

const defaultPublishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for queue publish")

type Service struct {
	repo           Repository
	pub            Publisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: defaultPublishTimeout}
}

func (s *Service) Record(ctx context.Context, j *Job) error {
	return s.repo.Save(ctx, j)
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Retry republishes the stored body to the primary queue and removes the
// ledger row. The row stays when the publish fails or times out.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(pubCtx, job.Payload, groupID(job.ObjectKey))
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && pubCtx.Err() != nil {
			return ErrPublishTimeout
		}
		if err != nil {
			return err
		}
	case <-pubCtx.Done():
		s.logger.ErrorContext(ctx, "queue publish timed out", "job_id", id)
		return ErrPublishTimeout
	}

	s.logger.InfoContext(ctx, "job republished", "job_id", id, "object_key", job.ObjectKey)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// groupID keeps FIFO ordering per document, matching the uploader.
func groupID(objectKey string) string {
	if objectKey == "" {
		return ""
	}
	return path.Base(objectKey)
}
