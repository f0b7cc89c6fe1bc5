package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/topics"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
	"github.com/podwave/digest-api/pkg/generation"
)

// Config holds scoring phase settings
type Config struct {
	ScoreThreshold float64
	ExcerptChars   int // transcript chars included in the prompt
	Temperature    float64
	BatchSize      int
	MaxFailures    int
}

// Service rates transcribed episodes against every active topic. Scores for
// all topics are written in one update so an episode is never half-scored.
type Service struct {
	episodes  episodes.EpisodeRepository
	topics    topics.TopicRepository
	completer generation.Completer
	config    Config
}

// NewService creates a new scoring service
func NewService(episodeRepo episodes.EpisodeRepository, topicRepo topics.TopicRepository, completer generation.Completer, config Config) *Service {
	return &Service{
		episodes:  episodeRepo,
		topics:    topicRepo,
		completer: completer,
		config:    config,
	}
}

// Run executes one scoring pass over transcribed episodes
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	active, err := s.topics.ListActiveTopics(ctx)
	if err != nil {
		return result, err
	}
	if len(active) == 0 {
		return result, pipeerrors.Config(pipeerrors.CodeMissingConfig, "no active topics to score against", nil)
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
		if models.RetryStatus(episode) != models.StatusScoring {
			continue
		}
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusFailed, models.StatusScoring)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		tracker.Logf(ctx, "info", "episode %d: retrying scoring (attempt %d)", episode.ID, episode.FailureCount+1)
		if err := s.process(ctx, tracker, episode, active, &result); err != nil {
			return result, err
		}
	}

	ready, err := s.episodes.ListByStatus(ctx, models.StatusTranscribed, s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range ready {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		episode := &ready[i]
		claimed, err := s.episodes.Claim(ctx, episode.ID, models.StatusTranscribed, models.StatusScoring)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		if err := s.process(ctx, tracker, episode, active, &result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// errAfterScored marks failures that happen once the episode has already
// reached scored; parking it as failed would discard a completed score.
var errAfterScored = errors.New("episode already scored")

// process scores one claimed episode, parking it on failure. A non-nil error
// aborts the whole run.
func (s *Service) process(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, active []models.Topic, result *runs.PhaseResult) error {
	if err := s.score(ctx, tracker, episode, active); err != nil {
		if pipeerrors.IsConfig(err) {
			return err
		}
		if errors.Is(err, errAfterScored) {
			// The scores landed; only the follow-up routing failed. The
			// episode rests in scored, which the composer handles.
			result.Succeeded++
			tracker.Logf(ctx, "warn", "episode %d: %v", episode.ID, err)
			return nil
		}
		result.Failed++
		tracker.Logf(ctx, "warn", "episode %d: scoring failed: %v", episode.ID, err)
		return s.episodes.MarkFailed(ctx, episode.ID, models.StatusScoring, pipeerrors.ReasonOf(err))
	}
	result.Succeeded++
	return nil
}

// score rates the episode against every active topic in one backend call and
// advances it to scored, then to not_relevant when no topic clears the
// inclusion threshold.
func (s *Service) score(ctx context.Context, tracker *runs.Tracker, episode *models.Episode, active []models.Topic) error {
	transcript, err := os.ReadFile(episode.TranscriptPath)
	if err != nil {
		return pipeerrors.Data(pipeerrors.CodeEmptyTranscript,
			fmt.Sprintf("transcript artifact missing: %s", episode.TranscriptPath), err)
	}

	content, err := s.completer.Complete(ctx, generation.Request{
		System:      scoringSystemPrompt,
		User:        s.buildPrompt(episode, string(transcript), active),
		Temperature: s.config.Temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return err
	}

	scores, err := parseScores(content, active)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	advanced, err := s.episodes.Advance(ctx, episode.ID, models.StatusScoring, models.StatusScored, map[string]any{
		"scores":    scores,
		"scored_at": &now,
	})
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("episode %d: lost scoring claim", episode.ID)
	}
	episode.Scores = scores

	slug, best, _ := scores.Best()
	tracker.Logf(ctx, "info", "episode %d: scored, best topic %s at %.2f", episode.ID, slug, best)

	if best < s.config.ScoreThreshold {
		advanced, err := s.episodes.Advance(ctx, episode.ID, models.StatusScored, models.StatusNotRelevant, nil)
		if err != nil {
			return fmt.Errorf("%w: routing below threshold: %v", errAfterScored, err)
		}
		if advanced {
			tracker.Logf(ctx, "info", "episode %d: below threshold %.2f, marked not relevant", episode.ID, s.config.ScoreThreshold)
		}
	}
	return nil
}

const scoringSystemPrompt = `You rate podcast episode transcripts for topical relevance. ` +
	`For each listed topic, return a score between 0.0 (unrelated) and 1.0 (centrally about the topic). ` +
	`Respond with a single JSON object mapping topic slug to score and nothing else.`

// buildPrompt renders the topic list and a transcript excerpt
func (s *Service) buildPrompt(episode *models.Episode, transcript string, active []models.Topic) string {
	var builder strings.Builder

	builder.WriteString("Topics:\n")
	for _, topic := range active {
		fmt.Fprintf(&builder, "- %s (%s): %s\n", topic.Slug, topic.Name, topic.Instructions)
	}

	excerpt := transcript
	if s.config.ExcerptChars > 0 {
		excerpt = truncate(excerpt, s.config.ExcerptChars)
	}
	fmt.Fprintf(&builder, "\nEpisode title: %s\n\nTranscript:\n%s\n", episode.Title, excerpt)
	return builder.String()
}

// truncate clips s to at most max bytes, backing up to a rune boundary so
// the prompt stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// parseScores decodes the backend's JSON object, keeping only active topic
// slugs and clamping scores into [0,1]. Topics the backend omitted score 0.
func parseScores(content string, active []models.Topic) (models.TopicScores, error) {
	// Tolerate prose around the JSON object
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, pipeerrors.Data(pipeerrors.CodeBackendResponse,
			"scoring response contains no JSON object", nil)
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, pipeerrors.Data(pipeerrors.CodeBackendResponse, "decoding scoring response", err)
	}

	scores := make(models.TopicScores, len(active))
	for _, topic := range active {
		score := raw[topic.Slug]
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[topic.Slug] = score
	}
	return scores, nil
}
