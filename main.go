package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	nsqsink "docvec/apps/backend/internal/adapter/nsq"
	s3adapter "docvec/apps/backend/internal/adapter/s3"
	sqsadapter "docvec/apps/backend/internal/adapter/sqs"
	"docvec/apps/backend/internal/app"
	"docvec/apps/backend/internal/config"
	"docvec/apps/backend/internal/logger"
	"docvec/apps/backend/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "docvec",
	Short: "PDF to pgvector ingestion worker",
	Long: `Consumes object-created events from SQS, extracts PDF text page by page,
embeds the chunks and stores them in a pgvector table.

Running without a subcommand is the same as "docvec consume".`,
	SilenceUsage: true,
	RunE:         runConsume,
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume the ingestion queue until interrupted",
	RunE:  runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
	addCommands(rootCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)
	return cfg, log, nil
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	return run(cmd.Context(), cfg, log)
}

// run wires the consumer and the operator API and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := cfg.ValidateQueue(); err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		return err
	}
	defer deps.Close()

	provider, closeProvider, err := app.NewProvider(ctx, cfg)
	if err != nil {
		log.Error("embedding provider setup failed", "error", err)
		return err
	}
	defer closeProvider()

	sqsClient := app.NewSQSClient(deps.AWS, cfg)
	primary := newQueue(sqsClient, cfg, cfg.SQSQueueURL)

	var deadLetter worker.DeadLetterPublisher
	switch cfg.DeadLetterBackend {
	case config.DeadLetterNSQ:
		deadLetter = nsqsink.NewDeadLetterSink(deps.NSQProducer, cfg.NSQDeadLetterTopic)
	default:
		deadLetter = newQueue(sqsClient, cfg, cfg.SQSDLQURL)
	}

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	fetcher := s3adapter.NewFetcher(app.NewS3Client(deps.AWS, cfg), cfg.StagingDir)

	application, err := app.New(cfg, deps.DB, deps.VectorStore, primary, deadLetter, fetcher, provider, log)
	if err != nil {
		return err
	}

	log.Info("consumer starting",
		"queue", cfg.SQSQueueURL,
		"dead_letter_backend", cfg.DeadLetterBackend,
		"provider", cfg.EmbeddingProvider,
		"table", cfg.VectorTable,
		"index", cfg.IndexType,
		"max_retries", cfg.MaxRetries)
	return application.Run(ctx)
}

func newQueue(client *awssqs.Client, cfg *config.Config, url string) *sqsadapter.Queue {
	return sqsadapter.NewQueue(client, sqsadapter.Config{
		QueueURL:                 url,
		FIFO:                     cfg.SQSFIFO,
		MaxMessages:              int32(cfg.QueueMaxMessages),
		WaitSeconds:              int32(cfg.QueueWaitSeconds),
		VisibilityTimeoutSeconds: int32(cfg.VisibilityTimeoutSeconds),
	})
}
