package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

type stubRecognizer struct {
	mu      sync.Mutex
	results map[string]*Result
	errs    map[string]error
	calls   []string
}

func (r *stubRecognizer) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, audioPath)
	r.mu.Unlock()

	name := filepath.Base(audioPath)
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	if result, ok := r.results[name]; ok {
		return result, nil
	}
	return &Result{}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Episode{}, &models.PipelineRun{}, &models.PipelineLog{})
	require.NoError(t, err)

	return db
}

func newTestTracker(t *testing.T, db *gorm.DB) *runs.Tracker {
	tracker, err := runs.NewService(runs.NewRepository(db)).Start(context.Background(), "transcribe", "test")
	require.NoError(t, err)
	return tracker
}

func newTestService(t *testing.T, db *gorm.DB, recognizer Recognizer) (*Service, string) {
	base := t.TempDir()
	svc := NewService(episodes.NewRepository(db), recognizer, Config{
		TranscriptDir: filepath.Join(base, "transcripts"),
		ChunkDir:      filepath.Join(base, "chunks"),
		ChunkSeconds:  600,
		Concurrency:   4,
		BatchSize:     10,
		MaxFailures:   5,
	})
	return svc, base
}

// seedChunkedEpisode creates a chunked episode with chunk files on disk
func seedChunkedEpisode(t *testing.T, db *gorm.DB, base string, chunkCount int) *models.Episode {
	episode := &models.Episode{
		FeedID:      1,
		EpisodeGUID: "guid-chunked",
		Title:       "Test Episode",
		AudioURL:    "https://cdn.example.com/audio.mp3",
		Status:      models.StatusChunking,
		ChunkCount:  chunkCount,
	}
	require.NoError(t, db.Create(episode).Error)

	chunkDir := filepath.Join(base, "chunks", fmt.Sprintf("episode_%d", episode.ID))
	require.NoError(t, os.MkdirAll(chunkDir, 0755))
	for i := 0; i < chunkCount; i++ {
		path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%03d.wav", i))
		require.NoError(t, os.WriteFile(path, []byte("wav"), 0644))
	}
	return episode
}

func TestService_RunTranscribesChunkedEpisode(t *testing.T) {
	db := setupTestDB(t)
	recognizer := &stubRecognizer{
		results: map[string]*Result{
			"chunk_000.wav": {Segments: []Segment{
				{Start: 0, End: 10, Text: "hello from chunk zero"},
				{Start: 590, End: 600, Text: "end of chunk zero"},
			}},
			"chunk_001.wav": {Segments: []Segment{
				{Start: 5, End: 15, Text: "hello from chunk one"},
			}},
		},
	}
	svc, base := newTestService(t, db, recognizer)
	ctx := context.Background()

	episode := seedChunkedEpisode(t, db, base, 2)

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusTranscribed, updated.Status)
	assert.Equal(t, 12, updated.WordCount)
	assert.NotNil(t, updated.TranscribedAt)

	content, err := os.ReadFile(updated.TranscriptPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)

	// Chunk order is preserved and second-chunk timestamps are shifted by
	// the chunk duration: 600s + 5s = 00:10:05.
	assert.Equal(t, "[00:00:00] hello from chunk zero", lines[0])
	assert.Equal(t, "[00:09:50] end of chunk zero", lines[1])
	assert.Equal(t, "[00:10:05] hello from chunk one", lines[2])

	// Chunk directory is cleaned up after success
	_, err = os.Stat(filepath.Join(base, "chunks", fmt.Sprintf("episode_%d", episode.ID)))
	assert.True(t, os.IsNotExist(err))
}

func TestService_RunParksEpisodeOnChunkFailure(t *testing.T) {
	db := setupTestDB(t)
	recognizer := &stubRecognizer{
		results: map[string]*Result{
			"chunk_000.wav": {Text: "fine"},
			"chunk_002.wav": {Text: "also fine"},
		},
		errs: map[string]error{
			"chunk_001.wav": pipeerrors.Transient(pipeerrors.CodeHTTPStatus, "backend returned status 503", nil),
		},
	}
	svc, base := newTestService(t, db, recognizer)
	ctx := context.Background()

	episode := seedChunkedEpisode(t, db, base, 3)

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Failed: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusFailed, updated.Status)
	assert.Contains(t, updated.FailureReason, "chunk 1 of 3")

	// Chunks survive the failure so the retry can resume
	_, err = os.Stat(filepath.Join(base, "chunks", fmt.Sprintf("episode_%d", episode.ID)))
	assert.NoError(t, err)
}

func TestService_RunRetriesParkedEpisode(t *testing.T) {
	db := setupTestDB(t)
	recognizer := &stubRecognizer{
		results: map[string]*Result{
			"chunk_000.wav": {Text: "recovered words here"},
		},
	}
	svc, base := newTestService(t, db, recognizer)
	ctx := context.Background()

	episode := seedChunkedEpisode(t, db, base, 1)
	require.NoError(t, db.Model(episode).Updates(map[string]any{
		"status":         models.StatusFailed,
		"failure_count":  1,
		"failure_reason": "chunk_failed: chunk 0 of 1",
	}).Error)

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Succeeded: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusTranscribed, updated.Status)
	assert.Equal(t, 3, updated.WordCount)
}

func TestService_RunRejectsEmptyTranscript(t *testing.T) {
	db := setupTestDB(t)
	recognizer := &stubRecognizer{
		results: map[string]*Result{
			"chunk_000.wav": {Text: "   "},
		},
	}
	svc, base := newTestService(t, db, recognizer)
	ctx := context.Background()

	episode := seedChunkedEpisode(t, db, base, 1)

	result, err := svc.Run(ctx, newTestTracker(t, db))
	require.NoError(t, err)
	assert.Equal(t, runs.PhaseResult{Claimed: 1, Failed: 1}, result)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusFailed, updated.Status)
	assert.Contains(t, updated.FailureReason, "empty_transcript")
}

func TestService_RunAbortsOnConfigError(t *testing.T) {
	db := setupTestDB(t)
	recognizer := &stubRecognizer{
		errs: map[string]error{
			"chunk_000.wav": pipeerrors.Config(pipeerrors.CodeMissingConfig, "backend returned status 401", nil),
		},
	}
	svc, base := newTestService(t, db, recognizer)
	ctx := context.Background()

	seedChunkedEpisode(t, db, base, 1)

	_, err := svc.Run(ctx, newTestTracker(t, db))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsConfig(err))
}

func TestAssembleOrderIsDeterministic(t *testing.T) {
	svc := &Service{config: Config{ChunkSeconds: 600}}

	results := []*Result{
		{Text: "first"},
		{Text: "second"},
		{Text: "third"},
	}
	transcript, words := svc.assemble(results)
	assert.Equal(t, 3, words)
	assert.Equal(t, "[00:00:00] first\n[00:10:00] second\n[00:20:00] third\n", transcript)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00", formatTimestamp(0))
	assert.Equal(t, "00:10:05", formatTimestamp(605))
	assert.Equal(t, "02:46:40", formatTimestamp(10000))
}
