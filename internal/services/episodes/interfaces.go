package episodes

import (
	"context"

	"github.com/podwave/digest-api/internal/models"
)

// EpisodeRepository defines the interface for episode data persistence.
// All status mutations go through the guarded claim/advance methods, which
// consult the state machine transition table and use conditional updates so
// overlapping phase invocations cannot double-process a row.
type EpisodeRepository interface {
	// Create operations
	CreateEpisode(ctx context.Context, episode *models.Episode) error

	// Read operations
	GetEpisodeByID(ctx context.Context, id uint) (*models.Episode, error)
	GetEpisodeByGUID(ctx context.Context, guid string) (*models.Episode, error)
	ExistsByGUID(ctx context.Context, guid string) (bool, error)
	ListByStatus(ctx context.Context, status models.EpisodeStatus, limit int) ([]models.Episode, error)
	ListAwaitingTranscription(ctx context.Context, limit int) ([]models.Episode, error)
	ListChunkingIncomplete(ctx context.Context, limit int) ([]models.Episode, error)
	ListFailedRetryable(ctx context.Context, maxFailures, limit int) ([]models.Episode, error)
	CountByStatus(ctx context.Context) (map[models.EpisodeStatus]int64, error)

	// Guarded status mutations
	Claim(ctx context.Context, id uint, from, to models.EpisodeStatus) (bool, error)
	Advance(ctx context.Context, id uint, from, to models.EpisodeStatus, fields map[string]any) (bool, error)
	MarkFailed(ctx context.Context, id uint, from models.EpisodeStatus, reason string) error

	// UpdateFields writes artifact fields without a status change
	UpdateFields(ctx context.Context, id uint, fields map[string]any) error
}
