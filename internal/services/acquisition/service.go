package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
	"github.com/podwave/digest-api/pkg/ffmpeg"
)

// Config holds acquisition settings
type Config struct {
	AudioDir     string
	ChunkDir     string
	ChunkSeconds int
	SampleRate   int
	KeepAudio    bool // retain the raw download next to the normalized WAV
	BatchSize    int
	MaxFailures  int
}

// Service downloads episode audio, normalizes it to the canonical format and
// splits it into fixed-duration chunks for transcription.
type Service struct {
	episodes  episodes.EpisodeRepository
	fetcher   AudioFetcher
	processor AudioProcessor
	config    Config
}

// NewService creates a new audio acquisition service
func NewService(episodeRepo episodes.EpisodeRepository, fetcher AudioFetcher, processor AudioProcessor, config Config) *Service {
	return &Service{
		episodes:  episodeRepo,
		fetcher:   fetcher,
		processor: processor,
		config:    config,
	}
}

// Run executes one acquisition pass: finish interrupted chunking, retry
// parked episodes whose artifacts point back into this phase, then claim
// fresh pending episodes.
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	// Episodes a crashed pass left with audio but no chunks. Segmenting
	// writes the same files again, so redoing this is safe.
	incomplete, err := s.episodes.ListChunkingIncomplete(ctx, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range incomplete {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Claimed++
		ok, err := s.runFrom(ctx, tracker, &incomplete[i], models.StatusChunking)
		if err != nil {
			return result, err
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	retryable, err := s.episodes.ListFailedRetryable(ctx, s.config.MaxFailures, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range retryable {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		episode := &retryable[i]
		target := models.RetryStatus(episode)
		if target != models.StatusDownloading && target != models.StatusChunking {
			continue // parked by a later phase
		}
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusFailed, target)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		tracker.Logf(ctx, "info", "episode %d: retrying from %s (attempt %d)", episode.ID, target, episode.FailureCount+1)
		ok, err := s.runFrom(ctx, tracker, episode, target)
		if err != nil {
			return result, err
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	pending, err := s.episodes.ListByStatus(ctx, models.StatusPending, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		episode := &pending[i]
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusPending, models.StatusDownloading)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue // another invocation got there first
		}
		result.Claimed++
		ok, err := s.runFrom(ctx, tracker, episode, models.StatusDownloading)
		if err != nil {
			return result, err
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

// runFrom processes one episode starting at the given status. Returns whether
// the episode succeeded; a non-nil error means the whole run must abort.
func (s *Service) runFrom(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, from models.EpisodeStatus) (bool, error) {
	status := from
	if status == models.StatusDownloading {
		if err := s.download(ctx, tracker, episode); err != nil {
			return false, s.park(ctx, tracker, episode, status, err)
		}
		status = models.StatusChunking
	}

	if err := s.chunk(ctx, tracker, episode); err != nil {
		return false, s.park(ctx, tracker, episode, status, err)
	}
	return true, nil
}

// park records a failed episode, or propagates the error when it invalidates
// the whole run.
func (s *Service) park(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, from models.EpisodeStatus, err error) error {
	if pipeerrors.IsConfig(err) {
		return err
	}
	reason := pipeerrors.ReasonOf(err)
	tracker.Logf(ctx, "warn", "episode %d: %s failed: %v", episode.ID, from, err)
	if markErr := s.episodes.MarkFailed(ctx, episode.ID, from, reason); markErr != nil {
		return markErr
	}
	return nil
}

// download fetches the episode audio and normalizes it to mono WAV, then
// advances the row to chunking with the audio artifacts recorded.
func (s *Service) download(ctx context.Context, tracker *runs.Tracker, episode *models.Episode) error {
	baseName := fmt.Sprintf("episode_%d", episode.ID)

	raw, err := s.fetcher.Fetch(ctx, episode.AudioURL, s.config.AudioDir, baseName+"_raw")
	if err != nil {
		return err
	}

	wavPath := filepath.Join(s.config.AudioDir, baseName+".wav")
	if err := s.processor.Normalize(ctx, raw.FilePath, wavPath, s.config.SampleRate); err != nil {
		return classifyAudioError(err)
	}

	metadata, err := s.processor.Probe(ctx, wavPath)
	if err != nil {
		return classifyAudioError(err)
	}

	if !s.config.KeepAudio {
		if err := os.Remove(raw.FilePath); err != nil && !os.IsNotExist(err) {
			tracker.Logf(ctx, "warn", "episode %d: removing raw download: %v", episode.ID, err)
		}
	}

	now := time.Now().UTC()
	advanced, err := s.episodes.Advance(ctx, episode.ID, models.StatusDownloading, models.StatusChunking, map[string]any{
		"audio_path":       wavPath,
		"duration_seconds": metadata.Duration,
		"downloaded_at":    &now,
	})
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("episode %d: lost downloading claim", episode.ID)
	}

	episode.AudioPath = wavPath
	episode.DurationSeconds = metadata.Duration
	tracker.Logf(ctx, "info", "episode %d: downloaded %.0fs of audio", episode.ID, metadata.Duration)
	return nil
}

// chunk splits the normalized audio into fixed-duration segments and records
// the chunk count, the transcriber's claim precondition.
func (s *Service) chunk(ctx context.Context, tracker *runs.Tracker, episode *models.Episode) error {
	if episode.AudioPath == "" {
		return pipeerrors.Data(pipeerrors.CodeEmptyAudio,
			fmt.Sprintf("episode %d has no audio artifact to chunk", episode.ID), nil)
	}
	if _, err := os.Stat(episode.AudioPath); err != nil {
		return pipeerrors.Data(pipeerrors.CodeEmptyAudio,
			fmt.Sprintf("audio artifact missing: %s", episode.AudioPath), err)
	}

	chunkDir := filepath.Join(s.config.ChunkDir, fmt.Sprintf("episode_%d", episode.ID))
	chunks, err := s.processor.Segment(ctx, episode.AudioPath, chunkDir, "chunk", s.config.ChunkSeconds)
	if err != nil {
		return classifyAudioError(err)
	}

	if err := s.episodes.UpdateFields(ctx, episode.ID, map[string]any{
		"chunk_count": len(chunks),
	}); err != nil {
		return err
	}

	episode.ChunkCount = len(chunks)
	tracker.Logf(ctx, "info", "episode %d: split into %d chunks", episode.ID, len(chunks))
	return nil
}

// ChunkPaths returns the chunk file paths for an episode in index order
func ChunkPaths(chunkDir string, episodeID uint, count int) []string {
	dir := filepath.Join(chunkDir, fmt.Sprintf("episode_%d", episodeID))
	paths := make([]string, count)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("chunk_%03d.wav", i))
	}
	return paths
}

// classifyAudioError maps ffmpeg failures onto the pipeline taxonomy:
// process timeouts are transient, missing binaries invalidate the run,
// everything else means the audio itself is bad.
func classifyAudioError(err error) error {
	switch {
	case errors.Is(err, ffmpeg.ErrProcessTimeout):
		return pipeerrors.Transient(pipeerrors.CodeTimeout, "audio processing timed out", err)
	case errors.Is(err, ffmpeg.ErrFFmpegNotFound), errors.Is(err, ffmpeg.ErrFFprobeNotFound):
		return pipeerrors.Config(pipeerrors.CodeMissingBinary, "ffmpeg unavailable", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return pipeerrors.Transient(pipeerrors.CodeTimeout, "audio processing interrupted", err)
	default:
		return pipeerrors.Data(pipeerrors.CodeUnsupportedAudio, "audio processing failed", err)
	}
}
