package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/middleware"
	"docvec/apps/backend/internal/retrieval"
	"docvec/apps/backend/internal/vector"
)

type MockProvider struct{ mock.Mock }

func (m *MockProvider) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embedding.Result), args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) QueryNearest(ctx context.Context, v []float32, limit int) ([]vector.Match, error) {
	args := m.Called(ctx, v, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

func TestService_Search(t *testing.T) {
	vec := []float32{1, 0, 0}
	result := &embedding.Result{Vector: vec, Model: "text-embedding-3-large"}

	tests := []struct {
		name    string
		query   string
		opts    *retrieval.SearchOptions
		setup   func(*MockProvider, *MockStore)
		wantLen int
		wantErr bool
	}{
		{
			name:  "Default limit",
			query: "quarterly revenue",
			setup: func(p *MockProvider, s *MockStore) {
				p.On("Embed", mock.Anything, "quarterly revenue").Return(result, nil)
				s.On("QueryNearest", mock.Anything, vec, retrieval.DefaultLimit).
					Return([]vector.Match{{FileName: "q1.pdf", Text: "Revenue grew", Distance: -0.9}}, nil)
			},
			wantLen: 1,
		},
		{
			name:  "Explicit limit",
			query: "x",
			opts:  &retrieval.SearchOptions{Limit: &[]int{2}[0]},
			setup: func(p *MockProvider, s *MockStore) {
				p.On("Embed", mock.Anything, "x").Return(result, nil)
				s.On("QueryNearest", mock.Anything, vec, 2).Return([]vector.Match{{}, {}}, nil)
			},
			wantLen: 2,
		},
		{
			name:    "Empty query",
			query:   "   ",
			setup:   func(p *MockProvider, s *MockStore) {},
			wantErr: true,
		},
		{
			name:  "Provider error",
			query: "x",
			setup: func(p *MockProvider, s *MockStore) {
				p.On("Embed", mock.Anything, "x").Return(nil, errors.New("rate limited"))
			},
			wantErr: true,
		},
		{
			name:  "Wrong dimension",
			query: "x",
			setup: func(p *MockProvider, s *MockStore) {
				p.On("Embed", mock.Anything, "x").Return(&embedding.Result{Vector: []float32{1}}, nil)
			},
			wantErr: true,
		},
		{
			name:  "Store error",
			query: "x",
			setup: func(p *MockProvider, s *MockStore) {
				p.On("Embed", mock.Anything, "x").Return(result, nil)
				s.On("QueryNearest", mock.Anything, vec, retrieval.DefaultLimit).Return(nil, errors.New("store error"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProvider)
			s := new(MockStore)
			tt.setup(p, s)

			svc := retrieval.NewService(p, s, nil, 3)
			res, err := svc.Search(context.Background(), tt.query, tt.opts)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, res, tt.wantLen)
			p.AssertExpectations(t)
			s.AssertExpectations(t)
		})
	}
}

func TestService_SearchWrongDimensionIsValidation(t *testing.T) {
	p := new(MockProvider)
	p.On("Embed", mock.Anything, "x").Return(&embedding.Result{Vector: []float32{1}}, nil)

	_, err := retrieval.NewService(p, new(MockStore), nil, 3).Search(context.Background(), "x", nil)
	assert.True(t, ingesterr.Is(err, ingesterr.Validation))
}

func TestService_SearchWritesQueryLog(t *testing.T) {
	var buf bytes.Buffer
	p := new(MockProvider)
	s := new(MockStore)
	p.On("Embed", mock.Anything, "revenue").Return(&embedding.Result{Vector: []float32{1, 0, 0}, Model: "m"}, nil)
	s.On("QueryNearest", mock.Anything, mock.Anything, retrieval.DefaultLimit).
		Return([]vector.Match{{FileName: "q1.pdf", Distance: -0.75}}, nil)

	svc := retrieval.NewService(p, s, retrieval.NewQueryLogger(&buf), 3)
	ctx := middleware.WithCorrelationID(context.Background(), "search-1")
	_, err := svc.Search(ctx, "revenue", nil)
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "revenue", entry.Query)
	assert.Equal(t, "m", entry.Model)
	assert.Equal(t, 1, entry.NumResults)
	assert.Equal(t, "q1.pdf", entry.TopFile)
	assert.Equal(t, -0.75, entry.TopDistance)
	assert.Equal(t, "search-1", entry.CorrelationID)
}
