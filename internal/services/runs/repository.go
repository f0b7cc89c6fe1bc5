package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/podwave/digest-api/internal/models"
)

// ErrRunNotFound indicates no pipeline run matches the given ID
var ErrRunNotFound = errors.New("pipeline run not found")

type Repository struct {
	db *gorm.DB
}

// Ensure Repository implements RunRepository interface
var _ RunRepository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating pipeline run: %w", err)
	}
	return nil
}

// CompleteRun records the conclusion and counts. Runs are append-only
// otherwise; this is the only mutation.
func (r *Repository) CompleteRun(ctx context.Context, id uint, conclusion models.RunConclusion, result PhaseResult) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.PipelineRun{}).
		Where("id = ? AND status = ?", id, models.RunStatusInProgress).
		Updates(map[string]any{
			"status":       models.RunStatusCompleted,
			"conclusion":   conclusion,
			"completed_at": &now,
			"claimed":      result.Claimed,
			"succeeded":    result.Succeeded,
			"failed":       result.Failed,
		})
	if res.Error != nil {
		return fmt.Errorf("completing pipeline run %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d (or already completed)", ErrRunNotFound, id)
	}
	return nil
}

func (r *Repository) AppendLog(ctx context.Context, runID uint, phase, level, message string) error {
	entry := &models.PipelineLog{
		PipelineRunID: runID,
		Phase:         phase,
		Level:         level,
		Message:       message,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending pipeline log: %w", err)
	}
	return nil
}

func (r *Repository) GetRunByRunID(ctx context.Context, runID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("run_id = ?", runID).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("getting pipeline run: %w", err)
	}
	return &run, nil
}

func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	var runs []models.PipelineRun
	query := r.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing pipeline runs: %w", err)
	}
	return runs, nil
}
