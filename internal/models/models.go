package models

import (
	"time"

	"gorm.io/gorm"
)

// Feed represents a monitored RSS source
type Feed struct {
	gorm.Model
	FeedURL string `json:"feed_url" gorm:"uniqueIndex;not null"`
	Title   string `json:"title"`
	Active  bool   `json:"active" gorm:"default:true;index"`

	// Discovery health tracking
	ConsecutiveFailures int        `json:"consecutive_failures" gorm:"default:0"`
	LastCheckedAt       *time.Time `json:"last_checked_at"`
	LastEpisodeAt       *time.Time `json:"last_episode_at"`
	EpisodesProcessed   int        `json:"episodes_processed" gorm:"default:0"`
	EpisodesFailed      int        `json:"episodes_failed" gorm:"default:0"`
}

// TableName specifies the table name for GORM
func (Feed) TableName() string {
	return "feeds"
}

// Episode represents one podcast item moving through the pipeline
type Episode struct {
	gorm.Model
	FeedID      uint      `json:"feed_id" gorm:"not null;index"`
	EpisodeGUID string    `json:"episode_guid" gorm:"uniqueIndex;not null"`
	Title       string    `json:"title" gorm:"not null"`
	PublishedAt time.Time `json:"published_at" gorm:"index"`
	AudioURL    string    `json:"audio_url" gorm:"not null"`

	// Artifacts produced by the audio phase
	AudioPath       string  `json:"audio_path"`
	ChunkCount      int     `json:"chunk_count" gorm:"default:0"`
	DurationSeconds float64 `json:"duration_seconds"`

	// Artifacts produced by the transcription phase
	TranscriptPath string `json:"transcript_path"`
	WordCount      int    `json:"word_count" gorm:"default:0"`

	// Per-topic relevance scores, set atomically by the scoring phase.
	// Only meaningful once status is scored or later.
	Scores TopicScores `json:"scores,omitempty" gorm:"type:json"`

	// Pipeline progress
	Status        EpisodeStatus `json:"status" gorm:"default:'pending';index"`
	FailureCount  int           `json:"failure_count" gorm:"default:0"`
	FailureReason string        `json:"failure_reason"`
	LastFailureAt *time.Time    `json:"last_failure_at"`

	DownloadedAt  *time.Time `json:"downloaded_at"`
	TranscribedAt *time.Time `json:"transcribed_at"`
	ScoredAt      *time.Time `json:"scored_at"`
	DigestedAt    *time.Time `json:"digested_at"`
}

// TableName specifies the table name for GORM
func (Episode) TableName() string {
	return "episodes"
}

// Digest represents one topic's compiled output for one calendar day
type Digest struct {
	gorm.Model
	TopicSlug  string `json:"topic_slug" gorm:"not null;uniqueIndex:idx_digests_topic_date"`
	DigestDate string `json:"digest_date" gorm:"not null;uniqueIndex:idx_digests_topic_date"` // YYYY-MM-DD

	// Version increments on explicit regeneration; prior artifacts are kept
	// on disk under versioned names.
	Version int `json:"version" gorm:"default:1"`

	ScriptPath      string  `json:"script_path"`
	ScriptWordCount int     `json:"script_word_count" gorm:"default:0"`
	AudioPath       string  `json:"audio_path"`
	AudioSize       int64   `json:"audio_size" gorm:"default:0"`
	DurationSeconds float64 `json:"duration_seconds"`

	GeneratedTitle     string `json:"generated_title"`
	GeneratedSummary   string `json:"generated_summary"`
	InstructionVersion int    `json:"instruction_version" gorm:"default:0"`

	EpisodeCount int     `json:"episode_count" gorm:"default:0"`
	AverageScore float64 `json:"average_score" gorm:"default:0"`

	ExternalURL string     `json:"external_url"`
	PublishedAt *time.Time `json:"published_at"`

	Links []DigestEpisodeLink `json:"links,omitempty" gorm:"foreignKey:DigestID"`
}

// TableName specifies the table name for GORM
func (Digest) TableName() string {
	return "digests"
}

// DigestEpisodeLink records which episode contributed to which digest, at
// what score and position. Provenance survives later score changes.
type DigestEpisodeLink struct {
	gorm.Model
	DigestID  uint    `json:"digest_id" gorm:"not null;uniqueIndex:idx_links_digest_episode"`
	EpisodeID uint    `json:"episode_id" gorm:"not null;uniqueIndex:idx_links_digest_episode;index"`
	Score     float64 `json:"score"`
	Position  int     `json:"position"`
}

// TableName specifies the table name for GORM
func (DigestEpisodeLink) TableName() string {
	return "digest_episode_links"
}

// ScriptMode selects how digest scripts are written and voiced
type ScriptMode string

const (
	ScriptModeNarrative ScriptMode = "narrative"
	ScriptModeDialogue  ScriptMode = "dialogue"
)

// Topic represents a configured subject the system digests for
type Topic struct {
	gorm.Model
	Slug         string     `json:"slug" gorm:"uniqueIndex;not null"`
	Name         string     `json:"name" gorm:"not null"`
	Instructions string     `json:"instructions" gorm:"type:text"`
	ScriptMode   ScriptMode `json:"script_mode" gorm:"default:'narrative'"`

	// Voice configuration. Narrative mode uses PrimaryVoice only; dialogue
	// mode uses both voices plus DialogueModel.
	PrimaryVoice   string `json:"primary_voice"`
	SecondaryVoice string `json:"secondary_voice"`
	DialogueModel  string `json:"dialogue_model"`

	Active   bool `json:"active" gorm:"default:true;index"`
	Position int  `json:"position" gorm:"default:0"`

	InstructionVersions []TopicInstructionVersion `json:"instruction_versions,omitempty" gorm:"foreignKey:TopicID"`
}

// TableName specifies the table name for GORM
func (Topic) TableName() string {
	return "topics"
}

// TopicInstructionVersion is an append-only history of topic instruction
// edits, so a script can be regenerated from an older instruction set.
type TopicInstructionVersion struct {
	gorm.Model
	TopicID      uint   `json:"topic_id" gorm:"not null;uniqueIndex:idx_instruction_topic_version"`
	Version      int    `json:"version" gorm:"not null;uniqueIndex:idx_instruction_topic_version"`
	Instructions string `json:"instructions" gorm:"type:text"`
	ChangeNote   string `json:"change_note"`
}

// TableName specifies the table name for GORM
func (TopicInstructionVersion) TableName() string {
	return "topic_instruction_versions"
}
