package digests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podwave/digest-api/internal/models"
)

// Repository errors
var (
	ErrDigestNotFound = errors.New("digest not found")
	ErrDuplicateDate  = errors.New("digest already exists for topic and date")
)

type Repository struct {
	db *gorm.DB
}

// Ensure Repository implements DigestRepository interface
var _ DigestRepository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateDigestWithLinks writes the digest and its provenance links in one
// transaction. The (topic, date) unique index rejects concurrent duplicates.
func (r *Repository) CreateDigestWithLinks(ctx context.Context, digest *models.Digest, links []models.DigestEpisodeLink) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(digest).Error; err != nil {
			return err
		}
		for i := range links {
			links[i].DigestID = digest.ID
		}
		if len(links) > 0 {
			if err := tx.Create(&links).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateDate, digest.TopicSlug, digest.DigestDate)
		}
		return fmt.Errorf("creating digest: %w", err)
	}
	return nil
}

// GetDigest returns the latest version for a topic and date
func (r *Repository) GetDigest(ctx context.Context, topicSlug, digestDate string) (*models.Digest, error) {
	var digest models.Digest
	if err := r.db.WithContext(ctx).
		Preload("Links").
		Where("topic_slug = ? AND digest_date = ?", topicSlug, digestDate).
		First(&digest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrDigestNotFound, topicSlug, digestDate)
		}
		return nil, fmt.Errorf("getting digest: %w", err)
	}
	return &digest, nil
}

func (r *Repository) GetDigestByID(ctx context.Context, id uint) (*models.Digest, error) {
	var digest models.Digest
	if err := r.db.WithContext(ctx).
		Preload("Links").
		First(&digest, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrDigestNotFound, id)
		}
		return nil, fmt.Errorf("getting digest: %w", err)
	}
	return &digest, nil
}

// ListDigests returns digests newest first, optionally filtered by topic
func (r *Repository) ListDigests(ctx context.Context, topicSlug string, limit int) ([]models.Digest, error) {
	var digests []models.Digest
	query := r.db.WithContext(ctx).Order("digest_date DESC, topic_slug ASC")
	if topicSlug != "" {
		query = query.Where("topic_slug = ?", topicSlug)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&digests).Error; err != nil {
		return nil, fmt.Errorf("listing digests: %w", err)
	}
	return digests, nil
}

// ListPublished returns digests with published audio, newest first
func (r *Repository) ListPublished(ctx context.Context, topicSlug string, limit int) ([]models.Digest, error) {
	var digests []models.Digest
	query := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL").
		Order("digest_date DESC, topic_slug ASC")
	if topicSlug != "" {
		query = query.Where("topic_slug = ?", topicSlug)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&digests).Error; err != nil {
		return nil, fmt.Errorf("listing published digests: %w", err)
	}
	return digests, nil
}

// ListAwaitingAudio returns digests whose scripts still need synthesis
func (r *Repository) ListAwaitingAudio(ctx context.Context, limit int) ([]models.Digest, error) {
	var digests []models.Digest
	query := r.db.WithContext(ctx).
		Where("script_path <> '' AND audio_path = ''").
		Order("digest_date ASC, topic_slug ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&digests).Error; err != nil {
		return nil, fmt.Errorf("listing digests awaiting audio: %w", err)
	}
	return digests, nil
}

// ListAwaitingPublish returns synthesized digests not yet published
func (r *Repository) ListAwaitingPublish(ctx context.Context, limit int) ([]models.Digest, error) {
	var digests []models.Digest
	query := r.db.WithContext(ctx).
		Preload("Links").
		Where("audio_path <> '' AND published_at IS NULL").
		Order("digest_date ASC, topic_slug ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&digests).Error; err != nil {
		return nil, fmt.Errorf("listing digests awaiting publish: %w", err)
	}
	return digests, nil
}

func (r *Repository) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Digest{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating digest %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrDigestNotFound, id)
	}
	return nil
}

// ListCandidateEpisodes selects scored episodes for one topic's digest.
// Scores live in a JSON column, so threshold and ordering go through
// json_extract.
func (r *Repository) ListCandidateEpisodes(ctx context.Context, topicSlug string, since, until time.Time, threshold float64, limit int) ([]models.Episode, error) {
	scorePath := fmt.Sprintf("$.%s", topicSlug)

	linked := r.db.
		Model(&models.DigestEpisodeLink{}).
		Select("digest_episode_links.episode_id").
		Joins("JOIN digests ON digests.id = digest_episode_links.digest_id").
		Where("digests.topic_slug = ? AND digests.deleted_at IS NULL", topicSlug)

	var episodes []models.Episode
	query := r.db.WithContext(ctx).
		Where("status = ?", models.StatusScored).
		Where("published_at >= ? AND published_at < ?", since, until).
		Where("CAST(json_extract(scores, ?) AS REAL) >= ?", scorePath, threshold).
		Where("id NOT IN (?)", linked).
		Clauses(clause.OrderBy{
			Expression: gorm.Expr("CAST(json_extract(scores, ?) AS REAL) DESC, published_at ASC, id ASC", scorePath),
		})
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("listing candidate episodes: %w", err)
	}
	return episodes, nil
}

// UnlinkEpisode removes an episode's provenance links and recomputes the
// affected digests' aggregates, all in one transaction.
func (r *Repository) UnlinkEpisode(ctx context.Context, episodeID uint) ([]uint, error) {
	var affected []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var links []models.DigestEpisodeLink
		if err := tx.Where("episode_id = ?", episodeID).Find(&links).Error; err != nil {
			return err
		}
		if len(links) == 0 {
			return nil
		}

		if err := tx.Where("episode_id = ?", episodeID).
			Delete(&models.DigestEpisodeLink{}).Error; err != nil {
			return err
		}

		for _, link := range links {
			var remaining []models.DigestEpisodeLink
			if err := tx.Where("digest_id = ?", link.DigestID).Find(&remaining).Error; err != nil {
				return err
			}

			average := 0.0
			for _, l := range remaining {
				average += l.Score
			}
			if len(remaining) > 0 {
				average /= float64(len(remaining))
			}

			if err := tx.Model(&models.Digest{}).
				Where("id = ?", link.DigestID).
				Updates(map[string]any{
					"episode_count": len(remaining),
					"average_score": average,
				}).Error; err != nil {
				return err
			}
			affected = append(affected, link.DigestID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unlinking episode %d: %w", episodeID, err)
	}
	return affected, nil
}
