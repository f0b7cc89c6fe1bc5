package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/acquisition"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// Config holds transcription phase settings
type Config struct {
	TranscriptDir string
	ChunkDir      string
	ChunkSeconds  int
	Concurrency   int
	RateLimit     int // backend requests per second, 0 = unlimited
	BatchSize     int
	MaxFailures   int
	KeepAudio     bool
}

// Service transcribes chunked episode audio and assembles the full
// timestamped transcript.
type Service struct {
	episodes   episodes.EpisodeRepository
	recognizer Recognizer
	limiter    *rate.Limiter
	config     Config
}

// NewService creates a new transcription service
func NewService(episodeRepo episodes.EpisodeRepository, recognizer Recognizer, config Config) *Service {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}
	return &Service{
		episodes:   episodeRepo,
		recognizer: recognizer,
		limiter:    limiter,
		config:     config,
	}
}

// Run executes one transcription pass: retry parked episodes whose chunks
// survived, then claim chunked episodes awaiting recognition.
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	retryable, err := s.episodes.ListFailedRetryable(ctx, s.config.MaxFailures, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range retryable {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		episode := &retryable[i]
		if models.RetryStatus(episode) != models.StatusTranscribing {
			continue
		}
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusFailed, models.StatusTranscribing)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		tracker.Logf(ctx, "info", "episode %d: retrying transcription (attempt %d)", episode.ID, episode.FailureCount+1)
		if err := s.process(ctx, tracker, episode, &result); err != nil {
			return result, err
		}
	}

	ready, err := s.episodes.ListAwaitingTranscription(ctx, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range ready {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		episode := &ready[i]
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusChunking, models.StatusTranscribing)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		if err := s.process(ctx, tracker, episode, &result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// process transcribes one claimed episode, parking it on failure. A non-nil
// error aborts the whole run.
func (s *Service) process(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, result *runs.PhaseResult) error {
	if err := s.transcribe(ctx, tracker, episode); err != nil {
		if pipeerrors.IsConfig(err) {
			return err
		}
		result.Failed++
		tracker.Logf(ctx, "warn", "episode %d: transcription failed: %v", episode.ID, err)
		return s.episodes.MarkFailed(ctx, episode.ID, models.StatusTranscribing, pipeerrors.ReasonOf(err))
	}
	result.Succeeded++
	return nil
}

// transcribe recognizes every chunk concurrently, assembles the transcript
// in chunk order with timestamps shifted to episode time, and advances the
// row to transcribed.
func (s *Service) transcribe(ctx context.Context, tracker *runs.Tracker, episode *models.Episode) error {
	paths := acquisition.ChunkPaths(s.config.ChunkDir, episode.ID, episode.ChunkCount)
	results := make([]*Result, len(paths))
	errs := make([]error, len(paths))

	concurrency := s.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(index int, chunkPath string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					errs[index] = err
					return
				}
			}
			results[index], errs[index] = s.recognizer.Transcribe(ctx, chunkPath)
		}(i, path)
	}
	wg.Wait()

	// Report the lowest failed chunk index so a retry is reproducible
	for i, err := range errs {
		if err == nil {
			continue
		}
		if pipeerrors.IsConfig(err) {
			return err
		}
		return &pipeerrors.PipelineError{
			Class:   pipeerrors.ClassOf(err),
			Code:    pipeerrors.CodeChunkFailed,
			Message: fmt.Sprintf("chunk %d of %d", i, len(paths)),
			Cause:   err,
		}
	}

	transcript, wordCount := s.assemble(results)
	if wordCount == 0 {
		return pipeerrors.Data(pipeerrors.CodeEmptyTranscript,
			fmt.Sprintf("no speech recognized in %d chunks", len(paths)), nil)
	}

	if err := os.MkdirAll(s.config.TranscriptDir, 0755); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}
	transcriptPath := filepath.Join(s.config.TranscriptDir, fmt.Sprintf("episode_%d.txt", episode.ID))
	if err := os.WriteFile(transcriptPath, []byte(transcript), 0644); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	now := time.Now().UTC()
	advanced, err := s.episodes.Advance(ctx, episode.ID, models.StatusTranscribing, models.StatusTranscribed, map[string]any{
		"transcript_path": transcriptPath,
		"word_count":      wordCount,
		"transcribed_at":  &now,
	})
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("episode %d: lost transcribing claim", episode.ID)
	}

	episode.TranscriptPath = transcriptPath
	episode.WordCount = wordCount
	tracker.Logf(ctx, "info", "episode %d: transcribed %d words from %d chunks", episode.ID, wordCount, len(paths))

	s.cleanup(ctx, tracker, episode, paths)
	return nil
}

// assemble joins per-chunk results in index order, shifting each segment's
// timestamps by the chunk's offset into the episode.
func (s *Service) assemble(results []*Result) (string, int) {
	var builder strings.Builder
	wordCount := 0

	for i, result := range results {
		if result == nil {
			continue
		}
		offset := float64(i * s.config.ChunkSeconds)

		if len(result.Segments) == 0 {
			if text := strings.TrimSpace(result.Text); text != "" {
				fmt.Fprintf(&builder, "[%s] %s\n", formatTimestamp(offset), text)
				wordCount += len(strings.Fields(text))
			}
			continue
		}

		for _, segment := range result.Segments {
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				continue
			}
			fmt.Fprintf(&builder, "[%s] %s\n", formatTimestamp(offset+segment.Start), text)
			wordCount += len(strings.Fields(text))
		}
	}

	return builder.String(), wordCount
}

// cleanup removes intermediate audio artifacts once the transcript is safely
// recorded. Failures here never fail the episode.
func (s *Service) cleanup(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, chunkPaths []string) {
	if len(chunkPaths) > 0 {
		if err := os.RemoveAll(filepath.Dir(chunkPaths[0])); err != nil {
			tracker.Logf(ctx, "warn", "episode %d: removing chunk directory: %v", episode.ID, err)
		}
	}
	if !s.config.KeepAudio && episode.AudioPath != "" {
		if err := os.Remove(episode.AudioPath); err != nil && !os.IsNotExist(err) {
			tracker.Logf(ctx, "warn", "episode %d: removing normalized audio: %v", episode.ID, err)
		}
	}
}

// formatTimestamp renders seconds as HH:MM:SS
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
