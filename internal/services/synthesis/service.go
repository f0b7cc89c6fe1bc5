package synthesis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/digests"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/topics"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
	"github.com/podwave/digest-api/pkg/ffmpeg"
)

// AudioAssembler joins chunk audio files and verifies the result
type AudioAssembler interface {
	Concat(ctx context.Context, inputPaths []string, outputPath string) error
	Probe(ctx context.Context, inputPath string) (*ffmpeg.Metadata, error)
}

// Config holds synthesis phase settings
type Config struct {
	ChunkChars      int
	ContinuityChars int // tail of the previous chunk passed for voice continuity
	DigestDir       string
	TempDir         string
	BatchSize       int
}

// Service renders digest scripts to audio, chunk by chunk, and assembles the
// final episode file.
type Service struct {
	digests   digests.DigestRepository
	topics    topics.TopicRepository
	speaker   Speaker
	assembler AudioAssembler
	config    Config
}

// NewService creates a new audio synthesis service
func NewService(digestRepo digests.DigestRepository, topicRepo topics.TopicRepository, speaker Speaker, assembler AudioAssembler, config Config) *Service {
	if config.ContinuityChars <= 0 {
		config.ContinuityChars = 300
	}
	return &Service{
		digests:   digestRepo,
		topics:    topicRepo,
		speaker:   speaker,
		assembler: assembler,
		config:    config,
	}
}

// Run synthesizes audio for every digest that has a script but no audio yet
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	waiting, err := s.digests.ListAwaitingAudio(ctx, s.config.BatchSize)
	if err != nil {
		return result, err
	}

	for i := range waiting {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		digest := &waiting[i]
		result.Claimed++

		if err := s.synthesize(ctx, tracker, digest); err != nil {
			if pipeerrors.IsConfig(err) {
				return result, err
			}
			result.Failed++
			tracker.Logf(ctx, "warn", "digest %s/%s: synthesis failed: %v",
				digest.TopicSlug, digest.DigestDate, err)
			continue
		}
		result.Succeeded++
	}

	return result, nil
}

// synthesize renders one digest's script. Chunks are voiced sequentially so
// each request can carry the previous chunk's tail; any chunk failure aborts
// the digest with nothing recorded.
func (s *Service) synthesize(ctx context.Context, tracker *runs.Tracker, digest *models.Digest) error {
	topic, err := s.topics.GetTopicBySlug(ctx, digest.TopicSlug)
	if err != nil {
		return err
	}

	script, err := os.ReadFile(digest.ScriptPath)
	if err != nil {
		return pipeerrors.Data(pipeerrors.CodeMalformedEntry,
			fmt.Sprintf("script artifact missing: %s", digest.ScriptPath), err)
	}

	chunks := SplitScript(string(script), topic.ScriptMode, s.config.ChunkChars)
	if len(chunks) == 0 {
		return pipeerrors.Data(pipeerrors.CodeMalformedEntry, "script is empty", nil)
	}

	workDir := filepath.Join(s.config.TempDir, fmt.Sprintf("digest_%d", digest.ID))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("creating synthesis work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	partPaths := make([]string, len(chunks))
	partsDuration := 0.0
	previous := ""
	for i, chunk := range chunks {
		audio, err := s.speaker.Synthesize(ctx, s.speechRequest(topic, chunk, previous))
		if err != nil {
			if pipeerrors.IsConfig(err) {
				return err
			}
			return &pipeerrors.PipelineError{
				Class:   pipeerrors.ClassOf(err),
				Code:    pipeerrors.CodeChunkFailed,
				Message: fmt.Sprintf("chunk %d of %d", i, len(chunks)),
				Cause:   err,
			}
		}

		partPaths[i] = filepath.Join(workDir, fmt.Sprintf("part_%03d.mp3", i))
		if err := os.WriteFile(partPaths[i], audio, 0644); err != nil {
			return fmt.Errorf("writing chunk audio: %w", err)
		}

		partMeta, err := s.assembler.Probe(ctx, partPaths[i])
		if err != nil {
			return pipeerrors.Data(pipeerrors.CodeEmptyAudio,
				fmt.Sprintf("chunk %d audio failed verification", i), err)
		}
		partsDuration += partMeta.Duration
		previous = tail(chunk, s.config.ContinuityChars)
	}

	if err := os.MkdirAll(s.config.DigestDir, 0755); err != nil {
		return fmt.Errorf("creating digest audio directory: %w", err)
	}
	audioPath := filepath.Join(s.config.DigestDir,
		fmt.Sprintf("%s_%s_v%d.mp3", digest.TopicSlug, digest.DigestDate, digest.Version))

	if err := s.assembler.Concat(ctx, partPaths, audioPath); err != nil {
		return pipeerrors.Classify(err, pipeerrors.ClassData)
	}

	metadata, err := s.assembler.Probe(ctx, audioPath)
	if err != nil {
		os.Remove(audioPath)
		return pipeerrors.Data(pipeerrors.CodeEmptyAudio, "assembled audio failed verification", err)
	}

	// A concat that stopped early still yields a playable file; catching the
	// truncation needs the parts total.
	if !durationsMatch(metadata.Duration, partsDuration) {
		os.Remove(audioPath)
		return pipeerrors.Data(pipeerrors.CodeTruncatedAudio,
			fmt.Sprintf("assembled %.1fs but parts total %.1fs", metadata.Duration, partsDuration), nil)
	}

	if err := s.digests.UpdateFields(ctx, digest.ID, map[string]any{
		"audio_path":       audioPath,
		"duration_seconds": metadata.Duration,
	}); err != nil {
		return err
	}

	digest.AudioPath = audioPath
	digest.DurationSeconds = metadata.Duration
	tracker.Logf(ctx, "info", "digest %s/%s: synthesized %.0fs from %d chunks",
		digest.TopicSlug, digest.DigestDate, metadata.Duration, len(chunks))
	return nil
}

// speechRequest maps the topic's voice configuration onto one chunk
func (s *Service) speechRequest(topic *models.Topic, chunk, previous string) SpeechRequest {
	req := SpeechRequest{
		Text:         chunk,
		Voice:        topic.PrimaryVoice,
		PreviousText: previous,
	}
	if topic.ScriptMode == models.ScriptModeDialogue {
		req.Model = topic.DialogueModel
		req.SecondaryVoice = topic.SecondaryVoice
	}
	return req
}

// durationsMatch tolerates container overhead and per-part timestamp
// rounding when comparing the assembled file against its parts.
func durationsMatch(assembled, parts float64) bool {
	diff := assembled - parts
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1.0+0.02*parts
}

// tail returns the last n bytes of text, trimmed forward to a rune boundary
// so the backend never receives a half rune.
func tail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := len(text) - n
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return text[cut:]
}
