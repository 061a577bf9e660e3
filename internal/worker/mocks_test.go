package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docvec/apps/backend/features/job"
	"docvec/apps/backend/internal/adapter/s3"
	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/pdftext"
	"docvec/apps/backend/internal/vector"
	"docvec/apps/backend/internal/worker"
)

// Mocks

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Receive(ctx context.Context) ([]worker.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]worker.Message), args.Error(1)
}

func (m *MockQueue) Delete(ctx context.Context, receiptHandle string) error {
	args := m.Called(ctx, receiptHandle)
	return args.Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, body, groupID string) error {
	args := m.Called(ctx, body, groupID)
	return args.Error(0)
}

type MockDeadLetter struct{ mock.Mock }

func (m *MockDeadLetter) PublishDeadLetter(ctx context.Context, msg worker.Message, reason string) error {
	args := m.Called(ctx, msg, reason)
	return args.Error(0)
}

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, bucket, key string) (*s3.StagedFile, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.StagedFile), args.Error(1)
}

type MockExtractor struct{ mock.Mock }

func (m *MockExtractor) Extract(ctx context.Context, path string) ([]pdftext.Page, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pdftext.Page), args.Error(1)
}

type MockProvider struct{ mock.Mock }

func (m *MockProvider) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embedding.Result), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) UpsertBatch(ctx context.Context, records []vector.Record) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) Record(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
