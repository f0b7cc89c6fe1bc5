package models

import (
	"time"

	"gorm.io/gorm"
)

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// RunConclusion records how a completed run ended
type RunConclusion string

const (
	RunConclusionSuccess RunConclusion = "success"
	RunConclusionFailure RunConclusion = "failure"
)

// PipelineRun is the append-only operational record of one batch phase
// invocation. Business logic never mutates it beyond completion updates.
type PipelineRun struct {
	gorm.Model
	RunID   string `json:"run_id" gorm:"uniqueIndex;not null"`
	Phase   string `json:"phase" gorm:"not null;index"`
	Trigger string `json:"trigger"` // cli, http, cron

	Status     RunStatus     `json:"status" gorm:"default:'in_progress'"`
	Conclusion RunConclusion `json:"conclusion,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Claimed   int `json:"claimed" gorm:"default:0"`
	Succeeded int `json:"succeeded" gorm:"default:0"`
	Failed    int `json:"failed" gorm:"default:0"`

	Logs []PipelineLog `json:"logs,omitempty" gorm:"foreignKey:PipelineRunID"`
}

// TableName specifies the table name for GORM
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// PipelineLog is one time-ordered log line of a pipeline run
type PipelineLog struct {
	gorm.Model
	PipelineRunID uint   `json:"pipeline_run_id" gorm:"not null;index"`
	Phase         string `json:"phase"`
	Level         string `json:"level"` // debug, info, warn, error
	Message       string `json:"message" gorm:"type:text"`
}

// TableName specifies the table name for GORM
func (PipelineLog) TableName() string {
	return "pipeline_logs"
}
