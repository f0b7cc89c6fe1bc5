package feeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

// ErrFeedNotFound indicates no feed matches the given identifier
var ErrFeedNotFound = errors.New("feed not found")

type Repository struct {
	db *gorm.DB
}

// Ensure Repository implements FeedRepository interface
var _ FeedRepository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateFeed(ctx context.Context, feed *models.Feed) error {
	if err := r.db.WithContext(ctx).Create(feed).Error; err != nil {
		return fmt.Errorf("creating feed: %w", err)
	}
	return nil
}

func (r *Repository) GetFeedByID(ctx context.Context, id uint) (*models.Feed, error) {
	var feed models.Feed
	if err := r.db.WithContext(ctx).First(&feed, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrFeedNotFound, id)
		}
		return nil, fmt.Errorf("getting feed: %w", err)
	}
	return &feed, nil
}

func (r *Repository) GetFeedByURL(ctx context.Context, url string) (*models.Feed, error) {
	var feed models.Feed
	if err := r.db.WithContext(ctx).
		Where("feed_url = ?", url).
		First(&feed).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, url)
		}
		return nil, fmt.Errorf("getting feed by url: %w", err)
	}
	return &feed, nil
}

func (r *Repository) ListActiveFeeds(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&feeds).Error; err != nil {
		return nil, fmt.Errorf("listing active feeds: %w", err)
	}
	return feeds, nil
}

func (r *Repository) RecordSuccess(ctx context.Context, id uint, newEpisodes int, lastEpisodeAt *time.Time) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"consecutive_failures": 0,
		"last_checked_at":      &now,
	}
	if newEpisodes > 0 {
		updates["episodes_processed"] = gorm.Expr("episodes_processed + ?", newEpisodes)
	}
	if lastEpisodeAt != nil {
		updates["last_episode_at"] = lastEpisodeAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.Feed{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("recording feed success: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrFeedNotFound, id)
	}
	return nil
}

func (r *Repository) RecordFailure(ctx context.Context, id uint) (int, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Feed{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"episodes_failed":      gorm.Expr("episodes_failed + 1"),
			"last_checked_at":      &now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recording feed failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: id %d", ErrFeedNotFound, id)
	}

	var feed models.Feed
	if err := r.db.WithContext(ctx).First(&feed, id).Error; err != nil {
		return 0, fmt.Errorf("reading feed failure count: %w", err)
	}
	return feed.ConsecutiveFailures, nil
}

func (r *Repository) Deactivate(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Feed{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivating feed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrFeedNotFound, id)
	}
	return nil
}
