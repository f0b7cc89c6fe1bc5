package topics

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

// Repository errors
var (
	ErrTopicNotFound   = errors.New("topic not found")
	ErrVersionNotFound = errors.New("instruction version not found")
)

type Repository struct {
	db *gorm.DB
}

// Ensure Repository implements TopicRepository interface
var _ TopicRepository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTopic creates a topic and its first instruction version
func (r *Repository) CreateTopic(ctx context.Context, topic *models.Topic, changeNote string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(topic).Error; err != nil {
			return fmt.Errorf("creating topic: %w", err)
		}
		version := &models.TopicInstructionVersion{
			TopicID:      topic.ID,
			Version:      1,
			Instructions: topic.Instructions,
			ChangeNote:   changeNote,
		}
		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("creating instruction version: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetTopicBySlug(ctx context.Context, slug string) (*models.Topic, error) {
	var topic models.Topic
	if err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&topic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, slug)
		}
		return nil, fmt.Errorf("getting topic: %w", err)
	}
	return &topic, nil
}

func (r *Repository) ListActiveTopics(ctx context.Context) ([]models.Topic, error) {
	var topics []models.Topic
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("position ASC, slug ASC").
		Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("listing active topics: %w", err)
	}
	return topics, nil
}

// UpdateInstructions replaces a topic's instructions and appends a new
// version row so older instruction sets remain recoverable.
func (r *Repository) UpdateInstructions(ctx context.Context, slug, instructions, changeNote string) (*models.Topic, error) {
	var topic *models.Topic
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found models.Topic
		if err := tx.Where("slug = ?", slug).First(&found).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrTopicNotFound, slug)
			}
			return fmt.Errorf("getting topic: %w", err)
		}

		var latest int
		if err := tx.Model(&models.TopicInstructionVersion{}).
			Where("topic_id = ?", found.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error; err != nil {
			return fmt.Errorf("getting latest instruction version: %w", err)
		}

		version := &models.TopicInstructionVersion{
			TopicID:      found.ID,
			Version:      latest + 1,
			Instructions: instructions,
			ChangeNote:   changeNote,
		}
		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("appending instruction version: %w", err)
		}

		if err := tx.Model(&found).Update("instructions", instructions).Error; err != nil {
			return fmt.Errorf("updating topic instructions: %w", err)
		}

		found.Instructions = instructions
		topic = &found
		return nil
	})
	return topic, err
}

// CurrentInstructionVersion returns the highest version number for a topic
func (r *Repository) CurrentInstructionVersion(ctx context.Context, topicID uint) (int, error) {
	var latest int
	if err := r.db.WithContext(ctx).
		Model(&models.TopicInstructionVersion{}).
		Where("topic_id = ?", topicID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&latest).Error; err != nil {
		return 0, fmt.Errorf("getting instruction version: %w", err)
	}
	return latest, nil
}

func (r *Repository) GetInstructionVersion(ctx context.Context, topicID uint, version int) (*models.TopicInstructionVersion, error) {
	var row models.TopicInstructionVersion
	if err := r.db.WithContext(ctx).
		Where("topic_id = ? AND version = ?", topicID, version).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: topic %d version %d", ErrVersionNotFound, topicID, version)
		}
		return nil, fmt.Errorf("getting instruction version: %w", err)
	}
	return &row, nil
}
