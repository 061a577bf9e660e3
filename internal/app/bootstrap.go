package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"docvec/apps/backend/internal/adapter/azure"
	"docvec/apps/backend/internal/adapter/gemini"
	nsqsink "docvec/apps/backend/internal/adapter/nsq"
	"docvec/apps/backend/internal/adapter/openai"
	"docvec/apps/backend/internal/adapter/pgvector"
	"docvec/apps/backend/internal/config"
	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/vector"
)

// SchemaEnsurer is the part of the vector store bootstrap needs.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	DB          *sql.DB
	VectorStore *pgvector.Store
	AWS         aws.Config
	NSQProducer *nsq.Producer
}

// Close releases the database handle and the NSQ producer.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// Bootstrap connects everything the consume command needs: the database
// with migrations applied, the vector table, AWS configuration and, when
// dead letters go to NSQ, a producer.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	store := pgvector.NewStore(db, VectorSchema(cfg), pgvector.Options{
		BatchSize:        cfg.BatchSize,
		DedupeOnReingest: cfg.DedupeOnReingest,
	})
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		db.Close()
		return nil, fmt.Errorf("vector schema error: %w", err)
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{DB: db, VectorStore: store, AWS: awsCfg}

	if cfg.DeadLetterBackend == config.DeadLetterNSQ {
		producer, err := nsqsink.NewProducer(cfg.NSQDHost)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
	}

	return deps, nil
}

// DSN renders the lib/pq connection string.
func DSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, sslMode)
}

// URL renders the same connection as a postgres:// URL for pgx.
func URL(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, sslMode)
}

// OpenDatabase opens Postgres and pings it until it answers or the
// configured attempts run out.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	attempt := 0
	ping := func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to ping db, retrying...", "attempt", attempt, "error", err)
		}
		return err
	}
	if err := backoff.Retry(ping, retryPolicy(ctx, cfg.BootstrapRetryAttempts, retryDelay)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// Migrate applies pending migrations. An up-to-date database is not an error.
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// VectorSchema maps the store settings onto the table definition.
func VectorSchema(cfg *config.Config) vector.Schema {
	return vector.Schema{
		Table: cfg.VectorTable,
		Index: vector.IndexConfig{
			Type:           vector.IndexType(cfg.IndexType),
			Dimensions:     cfg.VectorDimensions,
			M:              cfg.HNSWM,
			EfConstruction: cfg.HNSWEfConstruction,
			EfSearch:       cfg.HNSWEfSearch,
			Lists:          cfg.IVFFlatLists,
			Probes:         cfg.IVFFlatProbes,
			Metric:         vector.Metric(cfg.DistanceMetric),
		},
	}
}

// EnsureSchemaWithRetry retries the schema check with a constant delay.
// Attempts below one are treated as one. A Fatal error, such as a dimension
// mismatch with an existing table, is returned at once.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	return backoff.Retry(func() error {
		err := store.EnsureSchema(ctx)
		if ingesterr.Is(err, ingesterr.Fatal) {
			return backoff.Permanent(err)
		}
		return err
	}, retryPolicy(ctx, attempts, delay))
}

func retryPolicy(ctx context.Context, attempts int, delay time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
}

// LoadAWSConfig builds the shared AWS configuration. Static credentials are
// used when both keys are set, otherwise the default chain applies.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client honours S3_ENDPOINT for MinIO and LocalStack, which need
// path-style addressing.
func NewS3Client(awsCfg aws.Config, cfg *config.Config) *awss3.Client {
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
}

func NewSQSClient(awsCfg aws.Config, cfg *config.Config) *awssqs.Client {
	return awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.SQSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SQSEndpoint)
		}
	})
}

// NewProvider builds the configured embedding provider. The returned close
// function is never nil.
func NewProvider(ctx context.Context, cfg *config.Config) (embedding.Provider, func() error, error) {
	noop := func() error { return nil }
	if err := cfg.ValidateEmbedding(); err != nil {
		return nil, noop, err
	}

	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.NewEmbedder(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.VectorDimensions,
		}), noop, nil
	case config.ProviderAzure:
		return azure.NewEmbedder(azure.Config{
			Endpoint:   cfg.AzureEndpoint,
			APIKey:     cfg.AzureAPIKey,
			Deployment: cfg.AzureDeployment,
			APIVersion: cfg.AzureAPIVersion,
			Dimensions: cfg.VectorDimensions,
		}), noop, nil
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
		if err != nil {
			return nil, noop, fmt.Errorf("gemini client error: %w", err)
		}
		return e, e.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: EMBEDDING_PROVIDER %q", config.ErrInvalid, cfg.EmbeddingProvider)
	}
}
