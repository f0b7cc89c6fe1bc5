package digests

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
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Episode{}, &models.Digest{}, &models.DigestEpisodeLink{},
		&models.Topic{}, &models.TopicInstructionVersion{},
		&models.PipelineRun{}, &models.PipelineLog{})
	require.NoError(t, err)

	return db
}

func seedScoredEpisode(t *testing.T, db *gorm.DB, guid string, publishedAt time.Time, scores models.TopicScores) *models.Episode {
	episode := &models.Episode{
		FeedID:         1,
		EpisodeGUID:    guid,
		Title:          "Episode " + guid,
		PublishedAt:    publishedAt,
		AudioURL:       "https://cdn.example.com/" + guid + ".mp3",
		Status:         models.StatusScored,
		TranscriptPath: "/tmp/" + guid + ".txt",
		Scores:         scores,
	}
	require.NoError(t, db.Create(episode).Error)
	return episode
}

func TestRepository_CreateDigestWithLinks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	digest := &models.Digest{
		TopicSlug:    "ai",
		DigestDate:   "2026-08-31",
		Version:      1,
		EpisodeCount: 2,
		AverageScore: 0.8,
	}
	links := []models.DigestEpisodeLink{
		{EpisodeID: 10, Score: 0.9, Position: 0},
		{EpisodeID: 11, Score: 0.7, Position: 1},
	}
	require.NoError(t, repo.CreateDigestWithLinks(ctx, digest, links))

	loaded, err := repo.GetDigest(ctx, "ai", "2026-08-31")
	require.NoError(t, err)
	require.Len(t, loaded.Links, 2)
	assert.Equal(t, uint(10), loaded.Links[0].EpisodeID)

	// Same topic and date is rejected by the unique index
	err = repo.CreateDigestWithLinks(ctx, &models.Digest{
		TopicSlug: "ai", DigestDate: "2026-08-31", Version: 1,
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDate)

	// Same date for a different topic is fine
	require.NoError(t, repo.CreateDigestWithLinks(ctx, &models.Digest{
		TopicSlug: "climate", DigestDate: "2026-08-31", Version: 1,
	}, nil))
}

func TestRepository_ListCandidateEpisodes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	day := func(offset int) time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}

	best := seedScoredEpisode(t, db, "best", day(-1), models.TopicScores{"ai": 0.95})
	older := seedScoredEpisode(t, db, "older", day(-2), models.TopicScores{"ai": 0.8})
	newer := seedScoredEpisode(t, db, "newer", day(0), models.TopicScores{"ai": 0.8})
	seedScoredEpisode(t, db, "below", day(0), models.TopicScores{"ai": 0.5})
	seedScoredEpisode(t, db, "stale", day(-10), models.TopicScores{"ai": 0.9})
	seedScoredEpisode(t, db, "other-topic", day(0), models.TopicScores{"climate": 0.9})

	// An episode already linked to this topic is excluded
	used := seedScoredEpisode(t, db, "used", day(0), models.TopicScores{"ai": 0.99})
	require.NoError(t, repo.CreateDigestWithLinks(ctx, &models.Digest{
		TopicSlug: "ai", DigestDate: "2026-08-30", Version: 1,
	}, []models.DigestEpisodeLink{{EpisodeID: used.ID, Score: 0.99, Position: 0}}))

	since := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	candidates, err := repo.ListCandidateEpisodes(ctx, "ai", since, until, 0.65, 10)
	require.NoError(t, err)

	require.Len(t, candidates, 3)
	// Highest score first, then oldest publication first on ties
	assert.Equal(t, best.ID, candidates[0].ID)
	assert.Equal(t, older.ID, candidates[1].ID)
	assert.Equal(t, newer.ID, candidates[2].ID)

	// The limit keeps only the strongest candidates
	limited, err := repo.ListCandidateEpisodes(ctx, "ai", since, until, 0.65, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, best.ID, limited[0].ID)
}

func TestRepository_UnlinkEpisodeRecomputesAggregates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	digest := &models.Digest{
		TopicSlug: "ai", DigestDate: "2026-08-31", Version: 1,
		EpisodeCount: 2, AverageScore: 0.8,
	}
	require.NoError(t, repo.CreateDigestWithLinks(ctx, digest, []models.DigestEpisodeLink{
		{EpisodeID: 1, Score: 0.9, Position: 0},
		{EpisodeID: 2, Score: 0.7, Position: 1},
	}))

	affected, err := repo.UnlinkEpisode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{digest.ID}, affected)

	updated, err := repo.GetDigestByID(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EpisodeCount)
	assert.InDelta(t, 0.7, updated.AverageScore, 1e-9)
	require.Len(t, updated.Links, 1)
	assert.Equal(t, uint(2), updated.Links[0].EpisodeID)

	// Unlinking an episode with no links is a no-op
	affected, err = repo.UnlinkEpisode(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, affected)
}

func TestRepository_ListPublished(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, published := range []*time.Time{nil, &now, &now} {
		require.NoError(t, repo.CreateDigestWithLinks(ctx, &models.Digest{
			TopicSlug:   "ai",
			DigestDate:  fmt.Sprintf("2026-08-%02d", 28+i),
			Version:     1,
			PublishedAt: published,
		}, nil))
	}

	published, err := repo.ListPublished(ctx, "ai", 0)
	require.NoError(t, err)
	assert.Len(t, published, 2)

	all, err := repo.ListDigests(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "2026-08-30", all[0].DigestDate, "newest first")
}
