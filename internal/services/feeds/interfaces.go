package feeds

import (
	"context"
	"time"

	"github.com/podwave/digest-api/internal/models"
)

// FeedRepository defines the interface for feed persistence
type FeedRepository interface {
	CreateFeed(ctx context.Context, feed *models.Feed) error
	GetFeedByID(ctx context.Context, id uint) (*models.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*models.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]models.Feed, error)

	// RecordSuccess resets the consecutive failure counter and stamps the
	// discovery timestamps.
	RecordSuccess(ctx context.Context, id uint, newEpisodes int, lastEpisodeAt *time.Time) error

	// RecordFailure increments the consecutive failure counter and returns
	// the new value.
	RecordFailure(ctx context.Context, id uint) (int, error)

	Deactivate(ctx context.Context, id uint) error
}
