package upload_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/features/upload"
)

type MockUploader struct{ mock.Mock }

func (m *MockUploader) Upload(ctx context.Context, key, localPath string) (string, error) {
	args := m.Called(ctx, key, localPath)
	return args.String(0), args.Error(1)
}

func (m *MockUploader) Bucket() string { return "docs" }

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, body, groupID string) error {
	args := m.Called(ctx, body, groupID)
	return args.Error(0)
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 "+n), 0o644))
	}
}

func TestService_UploadDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.pdf", "nested/B.PDF", "notes.txt")

	up := new(MockUploader)
	pub := new(MockPublisher)
	up.On("Upload", mock.Anything, "a.pdf", filepath.Join(dir, "a.pdf")).Return("hash-a", nil)
	up.On("Upload", mock.Anything, "nested/B.PDF", filepath.Join(dir, "nested", "B.PDF")).Return("hash-b", nil)
	pub.On("Publish", mock.Anything,
		`{"Records":[{"s3":{"bucket":{"name":"docs"},"object":{"key":"a.pdf"}}}]}`, "a.pdf").Return(nil)
	pub.On("Publish", mock.Anything,
		`{"Records":[{"s3":{"bucket":{"name":"docs"},"object":{"key":"nested/B.PDF"}}}]}`, "B.PDF").Return(nil)

	results, err := upload.NewService(up, pub, 2).UploadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	keys := []string{results[0].Key, results[1].Key}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.pdf", "nested/B.PDF"}, keys)
	up.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_UploadDirPartialFailure(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ok.pdf", "bad.pdf")

	up := new(MockUploader)
	pub := new(MockPublisher)
	up.On("Upload", mock.Anything, "ok.pdf", mock.Anything).Return("h", nil)
	up.On("Upload", mock.Anything, "bad.pdf", mock.Anything).Return("", errors.New("access denied"))
	pub.On("Publish", mock.Anything, mock.Anything, "ok.pdf").Return(nil)

	results, err := upload.NewService(up, pub, 1).UploadDir(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "access denied")
	assert.Len(t, results, 2)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestService_UploadDirEmpty(t *testing.T) {
	results, err := upload.NewService(new(MockUploader), new(MockPublisher), 4).UploadDir(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_UploadDirMissing(t *testing.T) {
	_, err := upload.NewService(new(MockUploader), new(MockPublisher), 4).UploadDir(context.Background(), "/nonexistent/docvec")
	assert.Error(t, err)
}
