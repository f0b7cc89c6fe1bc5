package episodes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Episode{}, &models.Feed{})
	require.NoError(t, err)

	return db
}

func newTestEpisode(guid string, status models.EpisodeStatus) *models.Episode {
	return &models.Episode{
		FeedID:      1,
		EpisodeGUID: guid,
		Title:       "Episode " + guid,
		AudioURL:    "https://example.com/" + guid + ".mp3",
		PublishedAt: time.Now().UTC(),
		Status:      status,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	episode := newTestEpisode("guid-1", models.StatusPending)
	require.NoError(t, repo.CreateEpisode(ctx, episode))
	assert.NotZero(t, episode.ID)

	retrieved, err := repo.GetEpisodeByGUID(ctx, "guid-1")
	require.NoError(t, err)
	assert.Equal(t, episode.ID, retrieved.ID)
	assert.Equal(t, models.StatusPending, retrieved.Status)

	exists, err := repo.ExistsByGUID(ctx, "guid-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByGUID(ctx, "guid-unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepository_Claim(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	episode := newTestEpisode("guid-1", models.StatusPending)
	require.NoError(t, repo.CreateEpisode(ctx, episode))

	claimed, err := repo.Claim(ctx, episode.ID, models.StatusPending, models.StatusDownloading)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second concurrent invocation scanning the same precondition loses
	claimed, err = repo.Claim(ctx, episode.ID, models.StatusPending, models.StatusDownloading)
	require.NoError(t, err)
	assert.False(t, claimed)

	retrieved, err := repo.GetEpisodeByID(ctx, episode.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, retrieved.Status)
}

func TestRepository_ClaimRejectsIllegalTransition(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	episode := newTestEpisode("guid-1", models.StatusPending)
	require.NoError(t, repo.CreateEpisode(ctx, episode))

	_, err := repo.Claim(ctx, episode.ID, models.StatusPending, models.StatusScored)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRepository_AdvanceWithFields(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	episode := newTestEpisode("guid-1", models.StatusDownloading)
	require.NoError(t, repo.CreateEpisode(ctx, episode))

	advanced, err := repo.Advance(ctx, episode.ID, models.StatusDownloading, models.StatusChunking, map[string]any{
		"audio_path":       "/data/audio/guid-1.wav",
		"duration_seconds": 1500.0,
	})
	require.NoError(t, err)
	assert.True(t, advanced)

	retrieved, err := repo.GetEpisodeByID(ctx, episode.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusChunking, retrieved.Status)
	assert.Equal(t, "/data/audio/guid-1.wav", retrieved.AudioPath)
	assert.Equal(t, 1500.0, retrieved.DurationSeconds)
}

func TestRepository_MarkFailed(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	episode := newTestEpisode("guid-1", models.StatusDownloading)
	require.NoError(t, repo.CreateEpisode(ctx, episode))

	require.NoError(t, repo.MarkFailed(ctx, episode.ID, models.StatusDownloading, "timeout: download stalled"))

	retrieved, err := repo.GetEpisodeByID(ctx, episode.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, retrieved.Status)
	assert.Equal(t, 1, retrieved.FailureCount)
	assert.Equal(t, "timeout: download stalled", retrieved.FailureReason)
	assert.NotNil(t, retrieved.LastFailureAt)

	// Failing again from a stale precondition is rejected
	err = repo.MarkFailed(ctx, episode.ID, models.StatusDownloading, "again")
	assert.Error(t, err)
}

func TestRepository_ListAwaitingTranscription(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	ready := newTestEpisode("guid-ready", models.StatusChunking)
	ready.ChunkCount = 3
	require.NoError(t, repo.CreateEpisode(ctx, ready))

	incomplete := newTestEpisode("guid-incomplete", models.StatusChunking)
	require.NoError(t, repo.CreateEpisode(ctx, incomplete))

	pending := newTestEpisode("guid-pending", models.StatusPending)
	require.NoError(t, repo.CreateEpisode(ctx, pending))

	awaiting, err := repo.ListAwaitingTranscription(ctx, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, "guid-ready", awaiting[0].EpisodeGUID)

	stuck, err := repo.ListChunkingIncomplete(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "guid-incomplete", stuck[0].EpisodeGUID)
}

func TestRepository_ListFailedRetryable(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	for i, failures := range []int{1, 7} {
		episode := newTestEpisode(fmt.Sprintf("guid-%d", i), models.StatusFailed)
		episode.FailureCount = failures
		require.NoError(t, repo.CreateEpisode(ctx, episode))
	}

	retryable, err := repo.ListFailedRetryable(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "guid-0", retryable[0].EpisodeGUID)
}

func TestRepository_CountByStatus(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateEpisode(ctx, newTestEpisode("a", models.StatusPending)))
	require.NoError(t, repo.CreateEpisode(ctx, newTestEpisode("b", models.StatusPending)))
	require.NoError(t, repo.CreateEpisode(ctx, newTestEpisode("c", models.StatusScored)))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.StatusPending])
	assert.Equal(t, int64(1), counts[models.StatusScored])
}
