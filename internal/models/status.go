package models

// EpisodeStatus represents an episode's position in the pipeline
type EpisodeStatus string

const (
	StatusPending      EpisodeStatus = "pending"
	StatusDownloading  EpisodeStatus = "downloading"
	StatusChunking     EpisodeStatus = "chunking"
	StatusTranscribing EpisodeStatus = "transcribing"
	StatusTranscribed  EpisodeStatus = "transcribed"
	StatusScoring      EpisodeStatus = "scoring"
	StatusScored       EpisodeStatus = "scored"
	StatusDigested     EpisodeStatus = "digested"
	StatusNotRelevant  EpisodeStatus = "not_relevant"
	StatusFailed       EpisodeStatus = "failed"
)

// episodeTransitions is the single authoritative transition table. Every
// phase goes through CanTransition; illegal transitions are rejected here
// rather than trusted per-caller.
var episodeTransitions = map[EpisodeStatus][]EpisodeStatus{
	StatusPending:      {StatusDownloading, StatusFailed},
	StatusDownloading:  {StatusChunking, StatusFailed},
	StatusChunking:     {StatusTranscribing, StatusFailed},
	StatusTranscribing: {StatusTranscribed, StatusFailed},
	StatusTranscribed:  {StatusScoring, StatusFailed},
	StatusScoring:      {StatusScored, StatusFailed},
	StatusScored:       {StatusDigested, StatusNotRelevant, StatusFailed},

	// failed is not terminal: a later phase pass re-enters the phase whose
	// precondition artifacts are still satisfied.
	StatusFailed: {StatusDownloading, StatusChunking, StatusTranscribing, StatusScoring},

	// Terminal for normal flow; operator resets only.
	StatusDigested:    {StatusPending, StatusScored},
	StatusNotRelevant: {StatusPending, StatusScored},
}

// Valid reports whether s is a known episode status
func (s EpisodeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusChunking, StatusTranscribing,
		StatusTranscribed, StatusScoring, StatusScored, StatusDigested,
		StatusNotRelevant, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends normal pipeline flow
func (s EpisodeStatus) Terminal() bool {
	return s == StatusDigested || s == StatusNotRelevant
}

// CanTransition reports whether moving from one status to another is a legal
// edge of the episode state machine.
func CanTransition(from, to EpisodeStatus) bool {
	for _, next := range episodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RetryStatus returns the status a parked episode re-enters on retry, decided
// by which artifacts survived the failure. The richest surviving artifact
// wins so no completed work is redone.
func RetryStatus(e *Episode) EpisodeStatus {
	switch {
	case e.TranscriptPath != "":
		return StatusScoring
	case e.ChunkCount > 0:
		return StatusTranscribing
	case e.AudioPath != "":
		return StatusChunking
	default:
		return StatusDownloading
	}
}

// TransitionsFrom returns the legal successor statuses of from
func TransitionsFrom(from EpisodeStatus) []EpisodeStatus {
	out := make([]EpisodeStatus, len(episodeTransitions[from]))
	copy(out, episodeTransitions[from])
	return out
}
