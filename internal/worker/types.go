package worker

import (
	"context"

	"docvec/apps/backend/features/job"
	"docvec/apps/backend/internal/adapter/s3"
	"docvec/apps/backend/internal/pdftext"
	"docvec/apps/backend/internal/vector"
)

type Queue interface {
	Receive(ctx context.Context) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Publisher sends a body to a queue. groupID is ignored by standard queues.
type Publisher interface {
	Publish(ctx context.Context, body, groupID string) error
}

type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg Message, reason string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (*s3.StagedFile, error)
}

type Extractor interface {
	Extract(ctx context.Context, path string) ([]pdftext.Page, error)
}

type Splitter interface {
	Split(text string) []string
}

type VectorStore interface {
	UpsertBatch(ctx context.Context, records []vector.Record) error
}

type FailureLedger interface {
	Record(ctx context.Context, j *job.Job) error
}
