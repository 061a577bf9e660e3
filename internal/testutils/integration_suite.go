package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"docvec/apps/backend/internal/config"
)

// IntegrationSuite runs a pgvector-enabled Postgres with migrations applied.
type IntegrationSuite struct {
	T   *testing.T
	DB  *sql.DB
	DSN string

	pgContainer *postgres.PostgresContainer
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("docvec_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.DSN, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)

	// Run Migrations
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	m, err := migrate.New(fmt.Sprintf("file://%s/../../migrations", basepath), s.DSN)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

// GetAppConfig returns a configuration pointing at the suite's database.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)

	return &config.Config{
		DBHost:                     host,
		DBPort:                     port.Int(),
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "docvec_test",
		DBSSLMode:                  "disable",
		MigrationPath:              fmt.Sprintf("file://%s/../../migrations", basepath),
		VectorTable:                "document_vectors",
		VectorDimensions:           3,
		IndexType:                  config.IndexHNSW,
		HNSWM:                      16,
		HNSWEfConstruction:         64,
		HNSWEfSearch:               40,
		IVFFlatLists:               1,
		IVFFlatProbes:              1,
		DistanceMetric:             config.MetricInnerProduct,
		BatchSize:                  100,
		ChunkSize:                  1000,
		Separator:                  "\n\n",
		EmbeddingProvider:          config.ProviderOpenAI,
		DeadLetterBackend:          config.DeadLetterSQS,
		MaxRetries:                 3,
		QueueWaitSeconds:           1,
		QueueMaxMessages:           1,
		BackoffSeconds:             1,
		EmbedTimeoutSeconds:        5,
		ServerPort:                 8081,
		EnableAPI:                  true,
		LogLevel:                   "info",
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
}
