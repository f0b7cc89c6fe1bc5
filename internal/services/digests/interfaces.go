package digests

import (
	"context"
	"time"

	"github.com/podwave/digest-api/internal/models"
)

// DigestRepository defines the interface for digest persistence. A digest and
// its episode links are written in one transaction; the (topic, date) unique
// index is the cross-process guard against duplicate composition.
type DigestRepository interface {
	CreateDigestWithLinks(ctx context.Context, digest *models.Digest, links []models.DigestEpisodeLink) error
	GetDigest(ctx context.Context, topicSlug, digestDate string) (*models.Digest, error)
	GetDigestByID(ctx context.Context, id uint) (*models.Digest, error)
	ListDigests(ctx context.Context, topicSlug string, limit int) ([]models.Digest, error)
	ListPublished(ctx context.Context, topicSlug string, limit int) ([]models.Digest, error)

	// ListAwaitingAudio returns digests with a script but no synthesized
	// audio yet, oldest date first.
	ListAwaitingAudio(ctx context.Context, limit int) ([]models.Digest, error)

	// ListAwaitingPublish returns digests with synthesized audio that have
	// not been published yet, oldest date first.
	ListAwaitingPublish(ctx context.Context, limit int) ([]models.Digest, error)

	// UpdateFields writes artifact fields on one digest
	UpdateFields(ctx context.Context, id uint, fields map[string]any) error

	// ListCandidateEpisodes returns scored episodes eligible for a topic's
	// digest: above threshold, inside the lookback window, never previously
	// linked to this topic. Ordered by score descending, then oldest first.
	ListCandidateEpisodes(ctx context.Context, topicSlug string, since, until time.Time, threshold float64, limit int) ([]models.Episode, error)

	// UnlinkEpisode removes an episode from every digest it contributed to
	// and recomputes those digests' episode counts and average scores.
	// Returns the affected digest IDs.
	UnlinkEpisode(ctx context.Context, episodeID uint) ([]uint, error)
}
