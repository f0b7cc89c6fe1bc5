package topics

import (
	"context"

	"github.com/podwave/digest-api/internal/models"
)

// TopicRepository defines the interface for topic persistence. Instruction
// edits are versioned: every change appends a TopicInstructionVersion row.
type TopicRepository interface {
	CreateTopic(ctx context.Context, topic *models.Topic, changeNote string) error
	GetTopicBySlug(ctx context.Context, slug string) (*models.Topic, error)
	ListActiveTopics(ctx context.Context) ([]models.Topic, error)
	UpdateInstructions(ctx context.Context, slug, instructions, changeNote string) (*models.Topic, error)
	CurrentInstructionVersion(ctx context.Context, topicID uint) (int, error)
	GetInstructionVersion(ctx context.Context, topicID uint, version int) (*models.TopicInstructionVersion, error)
}
