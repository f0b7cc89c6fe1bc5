package runs

import (
	"context"

	"github.com/podwave/digest-api/internal/models"
)

// PhaseResult is the outcome every phase job reports: how many rows it
// claimed, and how many of those succeeded or were parked as failed.
type PhaseResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Add accumulates another result into r
func (r *PhaseResult) Add(other PhaseResult) {
	r.Claimed += other.Claimed
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}

// RunRepository defines the interface for pipeline run persistence
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	CompleteRun(ctx context.Context, id uint, conclusion models.RunConclusion, result PhaseResult) error
	AppendLog(ctx context.Context, runID uint, phase, level, message string) error
	GetRunByRunID(ctx context.Context, runID string) (*models.PipelineRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}
