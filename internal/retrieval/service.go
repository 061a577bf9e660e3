package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/middleware"
	"docvec/apps/backend/internal/vector"
)

const DefaultLimit = 5

var ErrEmptyQuery = errors.New("query must not be empty")

type SearchOptions struct {
	Limit *int
}

type VectorStore interface {
	QueryNearest(ctx context.Context, v []float32, limit int) ([]vector.Match, error)
}

// Service embeds a query with the ingestion provider and returns the nearest
// stored chunks.
type Service struct {
	provider embedding.Provider
	store    VectorStore
	logger   *QueryLogger
	dims     int
}

func NewService(p embedding.Provider, s VectorStore, l *QueryLogger, dims int) *Service {
	return &Service{provider: p, store: s, logger: l, dims: dims}
}

func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]vector.Match, error) {
	start := time.Now()
	var matches []vector.Match
	var model string
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			entry := QueryLogEntry{
				Query:         query,
				Model:         model,
				NumResults:    len(matches),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			}
			if len(matches) > 0 {
				entry.TopFile = matches[0].FileName
				entry.TopDistance = matches[0].Distance
			}
			s.logger.Log(entry)
		}
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		err = ErrEmptyQuery
		return nil, err
	}

	limit := DefaultLimit
	if opts != nil && opts.Limit != nil && *opts.Limit > 0 {
		limit = *opts.Limit
	}

	res, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err = embedding.Check(res, s.dims); err != nil {
		return nil, err
	}
	model = res.Model

	matches, err = s.store.QueryNearest(ctx, res.Vector, limit)
	if err != nil {
		return nil, err
	}
	return matches, nil
}
