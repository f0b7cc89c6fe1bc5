package episodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

// Repository errors
var (
	ErrEpisodeNotFound   = errors.New("episode not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrDuplicateGUID     = errors.New("episode GUID already exists")
)

type Repository struct {
	db *gorm.DB
}

// Ensure Repository implements EpisodeRepository interface
var _ EpisodeRepository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateEpisode(ctx context.Context, episode *models.Episode) error {
	if err := r.db.WithContext(ctx).Create(episode).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateGUID, episode.EpisodeGUID)
		}
		return fmt.Errorf("creating episode: %w", err)
	}
	return nil
}

func (r *Repository) GetEpisodeByID(ctx context.Context, id uint) (*models.Episode, error) {
	var episode models.Episode
	if err := r.db.WithContext(ctx).First(&episode, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrEpisodeNotFound, id)
		}
		return nil, fmt.Errorf("getting episode: %w", err)
	}
	return &episode, nil
}

func (r *Repository) GetEpisodeByGUID(ctx context.Context, guid string) (*models.Episode, error) {
	var episode models.Episode
	if err := r.db.WithContext(ctx).
		Where("episode_guid = ?", guid).
		First(&episode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: guid %s", ErrEpisodeNotFound, guid)
		}
		return nil, fmt.Errorf("getting episode by guid: %w", err)
	}
	return &episode, nil
}

func (r *Repository) ExistsByGUID(ctx context.Context, guid string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("episode_guid = ?", guid).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking episode guid: %w", err)
	}
	return count > 0, nil
}

func (r *Repository) ListByStatus(ctx context.Context, status models.EpisodeStatus, limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("published_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing episodes by status: %w", err)
	}
	return episodes, nil
}

// ListAwaitingTranscription returns chunked episodes ready for ASR
func (r *Repository) ListAwaitingTranscription(ctx context.Context, limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	query := r.db.WithContext(ctx).
		Where("status = ? AND chunk_count > 0", models.StatusChunking).
		Order("published_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing episodes awaiting transcription: %w", err)
	}
	return episodes, nil
}

// ListChunkingIncomplete returns episodes a crashed acquirer pass left with
// downloaded audio but no chunks. Re-chunking them is idempotent.
func (r *Repository) ListChunkingIncomplete(ctx context.Context, limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	query := r.db.WithContext(ctx).
		Where("status = ? AND chunk_count = 0", models.StatusChunking).
		Order("published_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete chunking episodes: %w", err)
	}
	return episodes, nil
}

// ListFailedRetryable returns parked episodes under the failure cap, oldest
// failures first so retries rotate fairly.
func (r *Repository) ListFailedRetryable(ctx context.Context, maxFailures, limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	query := r.db.WithContext(ctx).
		Where("status = ? AND failure_count < ?", models.StatusFailed, maxFailures).
		Order("last_failure_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing retryable episodes: %w", err)
	}
	return episodes, nil
}

func (r *Repository) CountByStatus(ctx context.Context) (map[models.EpisodeStatus]int64, error) {
	type row struct {
		Status models.EpisodeStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting episodes by status: %w", err)
	}

	counts := make(map[models.EpisodeStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Claim atomically moves an episode from one status to another. Returns
// false when another invocation advanced the row first — the single
// conditional UPDATE is the cross-process mutual exclusion.
func (r *Repository) Claim(ctx context.Context, id uint, from, to models.EpisodeStatus) (bool, error) {
	return r.Advance(ctx, id, from, to, nil)
}

// Advance performs a guarded status transition, optionally setting artifact
// fields in the same update.
func (r *Repository) Advance(ctx context.Context, id uint, from, to models.EpisodeStatus, fields map[string]any) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("advancing episode %d to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkFailed parks an episode with its reason. The episode is not lost; a
// later phase pass may retry it.
func (r *Repository) MarkFailed(ctx context.Context, id uint, from models.EpisodeStatus, reason string) error {
	if !models.CanTransition(from, models.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, models.StatusFailed)
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":          models.StatusFailed,
			"failure_count":   gorm.Expr("failure_count + 1"),
			"failure_reason":  reason,
			"last_failure_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("marking episode %d failed: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d no longer in status %s", ErrEpisodeNotFound, id, from)
	}
	return nil
}

func (r *Repository) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating episode %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrEpisodeNotFound, id)
	}
	return nil
}
