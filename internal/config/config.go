package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	IndexNone    = "none"
	IndexHNSW    = "hnsw"
	IndexIVFFlat = "ivfflat"

	MetricInnerProduct = "inner_product"
	MetricCosine       = "cosine"

	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"

	DeadLetterSQS = "sqs"
	DeadLetterNSQ = "nsq"
)

type Config struct {
	DBHost    string `envconfig:"DB_HOST" default:"postgres"`
	DBPort    int    `envconfig:"DB_PORT" default:"5432"`
	DBUser    string `envconfig:"DB_USER" default:"docvec"`
	DBPass    string `envconfig:"DB_PASS" default:"password"`
	DBName    string `envconfig:"DB_NAME" default:"docvec"`
	DBSSLMode string `envconfig:"DB_SSLMODE" default:"disable"`

	// AWS
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	S3Endpoint         string `envconfig:"S3_ENDPOINT"`
	SQSEndpoint        string `envconfig:"SQS_ENDPOINT"`
	S3Bucket           string `envconfig:"S3_BUCKET"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	SQSDLQURL          string `envconfig:"SQS_DLQ_URL"`
	SQSFIFO            bool   `envconfig:"SQS_FIFO" default:"false"`

	// Queue
	QueueWaitSeconds         int `envconfig:"QUEUE_WAIT_SECONDS" default:"20"`
	VisibilityTimeoutSeconds int `envconfig:"VISIBILITY_TIMEOUT_SECONDS" default:"300"`
	QueueMaxMessages         int `envconfig:"QUEUE_MAX_MESSAGES" default:"1"`
	MaxRetries               int `envconfig:"MAX_RETRIES" default:"3"`
	BackoffSeconds           int `envconfig:"BACKOFF_SECONDS" default:"5"`

	DeadLetterBackend  string `envconfig:"DEAD_LETTER_BACKEND" default:"sqs"`
	NSQDHost           string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDeadLetterTopic string `envconfig:"NSQ_DEAD_LETTER_TOPIC" default:"ingest.deadletter"`

	// Files
	StagingDir        string `envconfig:"STAGING_DIR" default:"./data/staging"`
	UploadDir         string `envconfig:"UPLOAD_DIR" default:"./data/upload"`
	UploadConcurrency int    `envconfig:"UPLOAD_CONCURRENCY" default:"4"`

	// Chunking
	ChunkSize    int    `envconfig:"CHUNK_SIZE" default:"10"`
	ChunkOverlap int    `envconfig:"CHUNK_OVERLAP" default:"0"`
	Separator    string `envconfig:"SEPARATOR" default:"\n\n"`

	// Embedding
	EmbeddingProvider    string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel       string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	AzureEndpoint        string `envconfig:"AZURE_OPENAI_ENDPOINT"`
	AzureAPIKey          string `envconfig:"AZURE_OPENAI_API_KEY"`
	AzureDeployment      string `envconfig:"AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT"`
	AzureAPIVersion      string `envconfig:"AZURE_OPENAI_API_VERSION" default:"2024-02-01"`
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbedTimeoutSeconds  int    `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	EmbedFailFast        bool   `envconfig:"EMBED_FAIL_FAST" default:"false"`

	// Vector store
	VectorTable        string `envconfig:"VECTOR_TABLE" default:"document_vectors"`
	VectorDimensions   int    `envconfig:"VECTOR_DIMENSIONS" default:"3072"`
	IndexType          string `envconfig:"INDEX_TYPE" default:"hnsw"`
	HNSWM              int    `envconfig:"HNSW_M" default:"16"`
	HNSWEfConstruction int    `envconfig:"HNSW_EF_CONSTRUCTION" default:"256"`
	HNSWEfSearch       int    `envconfig:"HNSW_EF_SEARCH" default:"200"`
	IVFFlatLists       int    `envconfig:"IVFFLAT_LISTS" default:"20"`
	IVFFlatProbes      int    `envconfig:"IVFFLAT_PROBES" default:"5"`
	DistanceMetric     string `envconfig:"DISTANCE_METRIC" default:"inner_product"`
	BatchSize          int    `envconfig:"BATCH_SIZE" default:"1000"`
	DedupeOnReingest   bool   `envconfig:"DEDUPE_ON_REINGEST" default:"false"`

	// Server
	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; missing .env files are fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.VectorTable == "" {
		return fmt.Errorf("%w: VECTOR_TABLE", ErrMissingRequired)
	}

	switch c.IndexType {
	case IndexNone, IndexHNSW, IndexIVFFlat:
	default:
		return fmt.Errorf("%w: INDEX_TYPE %q", ErrInvalid, c.IndexType)
	}
	switch c.DistanceMetric {
	case MetricInnerProduct, MetricCosine:
	default:
		return fmt.Errorf("%w: DISTANCE_METRIC %q", ErrInvalid, c.DistanceMetric)
	}
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderAzure, ProviderGemini:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	switch c.DeadLetterBackend {
	case DeadLetterSQS, DeadLetterNSQ:
	default:
		return fmt.Errorf("%w: DEAD_LETTER_BACKEND %q", ErrInvalid, c.DeadLetterBackend)
	}

	if c.VectorDimensions <= 0 {
		return fmt.Errorf("%w: VECTOR_DIMENSIONS must be positive", ErrInvalid)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap > c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", ErrInvalid, c.ChunkSize, c.ChunkOverlap)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: MAX_RETRIES must be at least 1", ErrInvalid)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: BATCH_SIZE must be at least 1", ErrInvalid)
	}
	if c.QueueWaitSeconds < 0 || c.QueueWaitSeconds > 20 {
		return fmt.Errorf("%w: QUEUE_WAIT_SECONDS must be within 0..20", ErrInvalid)
	}
	if c.QueueMaxMessages < 1 || c.QueueMaxMessages > 10 {
		return fmt.Errorf("%w: QUEUE_MAX_MESSAGES must be within 1..10", ErrInvalid)
	}
	return nil
}

// ValidateQueue checks the settings needed by commands that talk to the queues.
func (c *Config) ValidateQueue() error {
	if c.SQSQueueURL == "" {
		return fmt.Errorf("%w: SQS_QUEUE_URL", ErrMissingRequired)
	}
	if c.DeadLetterBackend == DeadLetterSQS && c.SQSDLQURL == "" {
		return fmt.Errorf("%w: SQS_DLQ_URL", ErrMissingRequired)
	}
	return nil
}

// ValidateEmbedding checks credentials for the selected provider.
func (c *Config) ValidateEmbedding() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	case ProviderAzure:
		if c.AzureEndpoint == "" || c.AzureAPIKey == "" || c.AzureDeployment == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	}
	return nil
}
