package job_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/features/job"
	"docvec/apps/backend/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	j1 := &job.Job{MessageID: "m1", ObjectKey: "a.pdf", Payload: `{"n":1}`, Reason: "Exceeded max retry attempts", ReceiveCount: 3}
	require.NoError(t, repo.Save(ctx, j1))

	// Sleep to ensure time difference for ordering test
	time.Sleep(100 * time.Millisecond)

	j2 := &job.Job{MessageID: "m2", ObjectKey: "b.pdf", Payload: `{"n":2}`, Reason: "Unprocessable document", ReceiveCount: 1}
	require.NoError(t, repo.Save(ctx, j2))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, j2.ID, jobs[0].ID, "Newest job should be first")
	assert.Equal(t, j1.ID, jobs[1].ID, "Oldest job should be last")

	got, err := repo.Get(ctx, j1.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, got.Payload)

	require.NoError(t, repo.Delete(ctx, j1.ID))
	_, err = repo.Get(ctx, j1.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
