package runs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/podwave/digest-api/internal/models"
)

// Service starts and completes phase run records
type Service struct {
	repo RunRepository
}

// NewService creates a new run tracking service
func NewService(repo RunRepository) *Service {
	return &Service{repo: repo}
}

// Start opens a PipelineRun row for one phase invocation and returns a
// Tracker for per-run logging and completion.
func (s *Service) Start(ctx context.Context, phase, trigger string) (*Tracker, error) {
	run := &models.PipelineRun{
		RunID:     uuid.NewString(),
		Phase:     phase,
		Trigger:   trigger,
		Status:    models.RunStatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] Started %s run %s (trigger: %s)", phase, run.RunID, trigger)
	return &Tracker{repo: s.repo, run: run}, nil
}

// Recent returns the latest runs, newest first
func (s *Service) Recent(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	return s.repo.ListRecentRuns(ctx, limit)
}

// Get returns one run with its time-ordered logs
func (s *Service) Get(ctx context.Context, runID string) (*models.PipelineRun, error) {
	return s.repo.GetRunByRunID(ctx, runID)
}

// Tracker records logs and the final outcome of a single run
type Tracker struct {
	repo RunRepository
	run  *models.PipelineRun
}

// RunID returns the public run identifier
func (t *Tracker) RunID() string {
	return t.run.RunID
}

// Logf writes a log line to both the process log and the run's persisted
// log stream. Persistence failures are reported but never interrupt a phase.
func (t *Tracker) Logf(ctx context.Context, level, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s: %s", level, t.run.Phase, message)
	if err := t.repo.AppendLog(ctx, t.run.ID, t.run.Phase, level, message); err != nil {
		log.Printf("[WARN] Failed to persist pipeline log: %v", err)
	}
}

// Complete closes the run with its result. A nil runErr concludes success.
func (t *Tracker) Complete(ctx context.Context, result PhaseResult, runErr error) {
	conclusion := models.RunConclusionSuccess
	if runErr != nil {
		conclusion = models.RunConclusionFailure
		t.Logf(ctx, "error", "run failed: %v", runErr)
	}
	if err := t.repo.CompleteRun(ctx, t.run.ID, conclusion, result); err != nil {
		log.Printf("[WARN] Failed to complete pipeline run %s: %v", t.run.RunID, err)
		return
	}
	log.Printf("[DEBUG] Completed %s run %s: claimed=%d succeeded=%d failed=%d conclusion=%s",
		t.run.Phase, t.run.RunID, result.Claimed, result.Succeeded, result.Failed, conclusion)
}
