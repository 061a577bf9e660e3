package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/features/job"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, body, groupID string) error {
	args := m.Called(ctx, body, groupID)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return([]job.Job{{ID: "a", Reason: "Exceeded max retry attempts"}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp struct {
		Data []job.Job     `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Meta["count"])
	assert.Equal(t, "Exceeded max retry attempts", resp.Data[0].Reason)
}

func TestHandler_List_EmptyList(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return(nil, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("database error"))

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	mockRepo.AssertExpectations(t)
}

func TestHandler_Get_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("Get", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/jobs/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	handler.Get(w, req)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestHandler_Retry_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	svc := job.NewService(mockRepo, mockPub, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("Get", mock.Anything, "99").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest("POST", "/jobs/99/retry", nil)
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()

	handler.Retry(w, req)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Retry(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	svc := job.NewService(mockRepo, mockPub, slog.Default())
	handler := job.NewHandler(svc)

	jobID := "job-123"
	body := `{"Records":[{"s3":{"bucket":{"name":"docs"},"object":{"key":"reports/q1.pdf"}}}]}`
	j := &job.Job{ID: jobID, ObjectKey: "reports/q1.pdf", Payload: body}

	mockRepo.On("Get", mock.Anything, jobID).Return(j, nil)
	mockPub.On("Publish", mock.Anything, body, "q1.pdf").Return(nil)
	mockRepo.On("Delete", mock.Anything, jobID).Return(nil)

	req := httptest.NewRequest("POST", "/jobs/"+jobID+"/retry", nil)
	req.SetPathValue("id", jobID)
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestHandler_Retry_PublishError(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	handler := job.NewHandler(job.NewService(mockRepo, mockPub, slog.Default()))

	mockRepo.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", Payload: "{}"}, nil)
	mockPub.On("Publish", mock.Anything, "{}", "").Return(errors.New("queue unavailable"))

	req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	mockRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
