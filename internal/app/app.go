package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"docvec/apps/backend/features/job"
	"docvec/apps/backend/features/stats"
	"docvec/apps/backend/internal/config"
	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/middleware"
	"docvec/apps/backend/internal/pdftext"
	"docvec/apps/backend/internal/text"
	"docvec/apps/backend/internal/vector"
	"docvec/apps/backend/internal/worker"
)

// VectorStore covers ingestion writes and the counts behind /stats.
type VectorStore interface {
	worker.VectorStore
	stats.VectorStore
}

// PrimaryQueue is the ingestion queue: consumed by the worker and
// republished to by ledger retries.
type PrimaryQueue interface {
	worker.Queue
	worker.Publisher
}

type App struct {
	Handler    http.Handler
	Consumer   *worker.Consumer
	JobService *job.Service

	port      int
	enableAPI bool
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	queue PrimaryQueue,
	deadLetter worker.DeadLetterPublisher,
	fetcher worker.Fetcher,
	provider embedding.Provider,
	logger *slog.Logger,
) (*App, error) {
	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Separator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, queue, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, vecStore)

	// Worker
	escalator := worker.NewEscalator(queue, deadLetter, jobService, cfg.MaxRetries)
	consumer := worker.NewConsumer(queue, fetcher, pdftext.NewExtractor(), splitter, provider, vecStore, escalator, worker.Options{
		DefaultBucket: cfg.S3Bucket,
		Dimensions:    cfg.VectorDimensions,
		EmbedTimeout:  time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		FailFast:      cfg.EmbedFailFast,
		Backoff:       time.Duration(cfg.BackoffSeconds) * time.Second,
		Metric:        vector.Metric(cfg.DistanceMetric),
	})

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.List)))
	mux.Handle("GET /jobs/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Get)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(http.HandlerFunc(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Consumer:   consumer,
		JobService: jobService,
		port:       cfg.ServerPort,
		enableAPI:  cfg.EnableAPI,
	}, nil
}

// Run consumes the queue and, when the API is enabled, serves the operator
// endpoints. Both stop when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Consumer.Run(ctx)
	})

	if a.enableAPI {
		g.Go(func() error {
			return a.serve(ctx)
		})
	}

	return g.Wait()
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
