package publishing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/digests"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/topics"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// Config holds publishing settings
type Config struct {
	BatchSize int
}

// Service publishes synthesized digests: the audio moves to the public
// directory, the digest gets its external URL, and the source episodes are
// finally consumed.
type Service struct {
	digests   digests.DigestRepository
	episodes  episodes.EpisodeRepository
	topics    topics.TopicRepository
	store     *Store
	generator *Generator
	config    Config
}

// NewService creates a new publishing service
func NewService(digestRepo digests.DigestRepository, episodeRepo episodes.EpisodeRepository, topicRepo topics.TopicRepository, store *Store, generator *Generator, config Config) *Service {
	return &Service{
		digests:   digestRepo,
		episodes:  episodeRepo,
		topics:    topicRepo,
		store:     store,
		generator: generator,
		config:    config,
	}
}

// Run publishes every digest with synthesized but unpublished audio
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	waiting, err := s.digests.ListAwaitingPublish(ctx, s.config.BatchSize)
	if err != nil {
		return result, err
	}

	for i := range waiting {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		digest := &waiting[i]
		result.Claimed++

		if err := s.publish(ctx, tracker, digest); err != nil {
			if pipeerrors.IsConfig(err) {
				return result, err
			}
			result.Failed++
			tracker.Logf(ctx, "warn", "digest %s/%s: publishing failed: %v",
				digest.TopicSlug, digest.DigestDate, err)
			continue
		}
		result.Succeeded++
	}

	return result, nil
}

// publish moves one digest's audio to the public directory and consumes its
// source episodes. Episodes only reach digested here, once the audio really
// is available to listeners.
func (s *Service) publish(ctx context.Context, tracker *runs.Tracker, digest *models.Digest) error {
	externalURL, size, err := s.store.Publish(digest.AudioPath)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.digests.UpdateFields(ctx, digest.ID, map[string]any{
		"external_url": externalURL,
		"audio_size":   size,
		"published_at": &now,
	}); err != nil {
		return err
	}
	digest.ExternalURL = externalURL
	digest.AudioSize = size
	digest.PublishedAt = &now

	consumed := 0
	for _, link := range digest.Links {
		advanced, err := s.episodes.Advance(ctx, link.EpisodeID, models.StatusScored, models.StatusDigested, map[string]any{
			"digested_at": &now,
		})
		if err != nil {
			if errors.Is(err, episodes.ErrIllegalTransition) {
				return err
			}
			return fmt.Errorf("consuming episode %d: %w", link.EpisodeID, err)
		}
		if !advanced {
			// Already consumed by an earlier digest or moved by an operator
			tracker.Logf(ctx, "warn", "episode %d: not in scored status, left as is", link.EpisodeID)
			continue
		}
		consumed++
	}

	tracker.Logf(ctx, "info", "digest %s/%s: published at %s, %d episodes consumed",
		digest.TopicSlug, digest.DigestDate, externalURL, consumed)
	return nil
}

// FeedXML renders the published RSS feed. An empty topicSlug returns the
// combined feed across all topics.
func (s *Service) FeedXML(ctx context.Context, topicSlug string) (string, error) {
	var topic *models.Topic
	if topicSlug != "" {
		found, err := s.topics.GetTopicBySlug(ctx, topicSlug)
		if err != nil {
			return "", err
		}
		topic = found
	}

	published, err := s.digests.ListPublished(ctx, topicSlug, 0)
	if err != nil {
		return "", err
	}
	return s.generator.Run(topic, published), nil
}
