package runs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.PipelineRun{}, &models.PipelineLog{})
	require.NoError(t, err)

	return db
}

func TestService_StartAndComplete(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))
	ctx := context.Background()

	tracker, err := svc.Start(ctx, "transcribe", "cli")
	require.NoError(t, err)
	assert.NotEmpty(t, tracker.RunID())

	tracker.Logf(ctx, "info", "claimed %d episodes", 3)
	tracker.Complete(ctx, PhaseResult{Claimed: 3, Succeeded: 2, Failed: 1}, nil)

	run, err := svc.Get(ctx, tracker.RunID())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, models.RunConclusionSuccess, run.Conclusion)
	assert.Equal(t, 3, run.Claimed)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Logs, 1)
	assert.Equal(t, "claimed 3 episodes", run.Logs[0].Message)
	assert.Equal(t, "transcribe", run.Logs[0].Phase)
}

func TestService_CompleteWithError(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))
	ctx := context.Background()

	tracker, err := svc.Start(ctx, "score", "http")
	require.NoError(t, err)

	tracker.Complete(ctx, PhaseResult{}, assert.AnError)

	run, err := svc.Get(ctx, tracker.RunID())
	require.NoError(t, err)
	assert.Equal(t, models.RunConclusionFailure, run.Conclusion)
	require.NotEmpty(t, run.Logs)
	assert.Equal(t, "error", run.Logs[len(run.Logs)-1].Level)
}

func TestService_Recent(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))
	ctx := context.Background()

	for _, phase := range []string{"discover", "fetch", "transcribe"} {
		_, err := svc.Start(ctx, phase, "cli")
		require.NoError(t, err)
	}

	recent, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestPhaseResult_Add(t *testing.T) {
	total := PhaseResult{}
	total.Add(PhaseResult{Claimed: 2, Succeeded: 1, Failed: 1})
	total.Add(PhaseResult{Claimed: 3, Succeeded: 3})

	assert.Equal(t, PhaseResult{Claimed: 5, Succeeded: 4, Failed: 1}, total)
}
