package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docvec/apps/backend/internal/testutils"
)

func TestSmoke_Startup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	// 1. Start Infrastructure
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	// 2. Configure App to use Infrastructure. Nothing listens on the queue
	// endpoint; the consumer keeps backing off while the API serves.
	cfg := suite.GetAppConfig()
	cfg.EnableAPI = true
	cfg.AWSRegion = "us-east-1"
	cfg.AWSAccessKeyID = "test"
	cfg.AWSSecretAccessKey = "test"
	cfg.SQSEndpoint = "http://localhost:54324"
	cfg.SQSQueueURL = "http://localhost:54324/000000000000/docvec"
	cfg.SQSDLQURL = "http://localhost:54324/000000000000/docvec-dlq"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.StagingDir = t.TempDir()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 3. Run App in Background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, logger)
	}()

	// 4. Wait for Health Check
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:8081/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 500*time.Millisecond)

	// 5. Shutdown is clean
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
