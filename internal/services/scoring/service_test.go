package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/topics"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
	"github.com/podwave/digest-api/pkg/generation"
)

type stubCompleter struct {
	content string
	err     error
	prompts []string
}

func (c *stubCompleter) Complete(ctx context.Context, req generation.Request) (string, error) {
	c.prompts = append(c.prompts, req.User)
	if c.err != nil {
		return "", c.err
	}
	return c.content, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Episode{}, &models.Topic{}, &models.TopicInstructionVersion{},
		&models.PipelineRun{}, &models.PipelineLog{})
	require.NoError(t, err)

	return db
}

func newTestTracker(t *testing.T, db *gorm.DB) *runs.Tracker {
	tracker, err := runs.NewService(runs.NewRepository(db)).Start(context.Background(), "score", "test")
	require.NoError(t, err)
	return tracker
}

func newTestService(db *gorm.DB, completer generation.Completer) *Service {
	return NewService(episodes.NewRepository(db), topics.NewRepository(db), completer, Config{
		ScoreThreshold: 0.65,
		ExcerptChars:   8000,
		BatchSize:      10,
		MaxFailures:    5,
	})
}

func seedTopics(t *testing.T, db *gorm.DB) {
	repo := topics.NewRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.CreateTopic(ctx, &models.Topic{
		Slug: "ai", Name: "AI", Instructions: "Model releases and research.", Active: true,
	}, ""))
	require.NoError(t, repo.CreateTopic(ctx, &models.Topic{
		Slug: "climate", Name: "Climate", Instructions: "Energy and climate policy.", Active: true,
	}, ""))
}

func seedTranscribedEpisode(t *testing.T, db *gorm.DB, guid string) *models.Episode {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	require.NoError(t, os.WriteFile(path, []byte("[00:00:00] a conversation about neural networks\n"), 0644))

	episode := &models.Episode{
		FeedID:         1,
		EpisodeGUID:    guid,
		Title:          "Test Episode",
		AudioURL:       "https://cdn.example.com/audio.mp3",
		Status:         models.StatusTranscribed,
		TranscriptPath: path,
		WordCount:      6,
	}
	require.NoError(t, db.Create(episode).Error)
	return episode
}

func TestService_RunScoresRelevantEpisode(t *testing.T) {
	db := setupTestDB(t)
	completer := &stubCompleter{content: `{"ai": 0.9, "climate": 0.1}`}
	svc := newTestService(db, completer)
	ctx := context.Background()

	seedTopics(t, db)
	episode := seedTranscribedEpisode(t, db, "guid-1")

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusScored, updated.Status)
	assert.Equal(t, models.TopicScores{"ai": 0.9, "climate": 0.1}, updated.Scores)
	assert.NotNil(t, updated.ScoredAt)

	// The prompt carries both topic instructions and the transcript
	require.Len(t, completer.prompts, 1)
	assert.Contains(t, completer.prompts[0], "Model releases and research.")
	assert.Contains(t, completer.prompts[0], "neural networks")
}

func TestService_RunMarksLowScoresNotRelevant(t *testing.T) {
	db := setupTestDB(t)
	completer := &stubCompleter{content: `{"ai": 0.3, "climate": 0.2}`}
	svc := newTestService(db, completer)
	ctx := context.Background()

	seedTopics(t, db)
	episode := seedTranscribedEpisode(t, db, "guid-1")

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusNotRelevant, updated.Status)
	// Scores are preserved even when nothing met the threshold
	assert.Equal(t, models.TopicScores{"ai": 0.3, "climate": 0.2}, updated.Scores)
}

func TestService_RunParksEpisodeOnBackendFailure(t *testing.T) {
	db := setupTestDB(t)
	completer := &stubCompleter{err: pipeerrors.Transient(pipeerrors.CodeHTTPStatus, "backend returned status 503", nil)}
	svc := newTestService(db, completer)
	ctx := context.Background()

	seedTopics(t, db)
	episode := seedTranscribedEpisode(t, db, "guid-1")

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Failed: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusFailed, updated.Status)
	assert.Contains(t, updated.FailureReason, "http_status")
}

func TestService_RunRetriesParkedEpisode(t *testing.T) {
	db := setupTestDB(t)
	completer := &stubCompleter{content: `{"ai": 0.8, "climate": 0.0}`}
	svc := newTestService(db, completer)
	ctx := context.Background()

	seedTopics(t, db)
	episode := seedTranscribedEpisode(t, db, "guid-1")
	require.NoError(t, db.Model(episode).Updates(map[string]any{
		"status":        models.StatusFailed,
		"failure_count": 2,
	}).Error)

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusScored, updated.Status)
}

func TestService_RunAbortsWithoutActiveTopics(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, &stubCompleter{content: "{}"})

	_, err := svc.Run(context.Background(), newTestTracker(t, db))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsConfig(err))
}

func TestParseScores(t *testing.T) {
	active := []models.Topic{{Slug: "ai"}, {Slug: "climate"}}

	t.Run("clamps and fills missing topics", func(t *testing.T) {
		scores, err := parseScores(`{"ai": 1.7, "other": 0.5}`, active)
		require.NoError(t, err)
		assert.Equal(t, models.TopicScores{"ai": 1, "climate": 0}, scores)
	})

	t.Run("tolerates prose around the object", func(t *testing.T) {
		scores, err := parseScores("Here you go:\n{\"ai\": 0.4, \"climate\": 0.6}\nDone.", active)
		require.NoError(t, err)
		assert.Equal(t, models.TopicScores{"ai": 0.4, "climate": 0.6}, scores)
	})

	t.Run("rejects non-JSON output", func(t *testing.T) {
		_, err := parseScores("I cannot score this.", active)
		require.Error(t, err)
		assert.Equal(t, pipeerrors.ClassData, pipeerrors.ClassOf(err))
	})
}

// flakyAdvanceRepo fails any advance into the given target status
type flakyAdvanceRepo struct {
	episodes.EpisodeRepository
	failTarget models.EpisodeStatus
}

func (r *flakyAdvanceRepo) Advance(ctx context.Context, id uint, from, to models.EpisodeStatus, fields map[string]any) (bool, error) {
	if to == r.failTarget {
		return false, fmt.Errorf("database is locked")
	}
	return r.EpisodeRepository.Advance(ctx, id, from, to, fields)
}

func TestService_RunToleratesRoutingFailureAfterScored(t *testing.T) {
	db := setupTestDB(t)
	completer := &stubCompleter{content: `{"ai": 0.1, "climate": 0.2}`}
	repo := &flakyAdvanceRepo{
		EpisodeRepository: episodes.NewRepository(db),
		failTarget:        models.StatusNotRelevant,
	}
	svc := NewService(repo, topics.NewRepository(db), completer, Config{
		ScoreThreshold: 0.65,
		ExcerptChars:   8000,
		BatchSize:      10,
		MaxFailures:    5,
	})
	ctx := context.Background()

	seedTopics(t, db)
	episode := seedTranscribedEpisode(t, db, "guid-1")

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err, "a routing failure after scoring must not abort the run")
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	// The scores survived and the episode was not parked as failed
	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusScored, updated.Status)
	assert.Equal(t, models.TopicScores{"ai": 0.1, "climate": 0.2}, updated.Scores)
	assert.Zero(t, updated.FailureCount)
	assert.Empty(t, updated.FailureReason)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	clipped := truncate("naïveté", 4)
	assert.True(t, utf8.ValidString(clipped))
	assert.Equal(t, "naï", clipped)

	assert.Equal(t, "short", truncate("short", 10))
}
