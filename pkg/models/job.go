package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage statuses. Each of the three pipeline stages moves
// pending -> running -> done|failed independently; the overall status is
// derived from the three and never set from external input.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Pipeline stages tracked on a Job.
const (
	StageExtraction    = "extraction"
	StageTranscription = "transcription"
	StageStructuring   = "structuring"
)

// ErrInvalidTransition is returned when a stage update would move a status
// backward or touch a job whose overall status is already terminal.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Job tracks one video-processing request through the pipeline. The API
// returns the job on POST /api/v1/jobs; the client polls
// GET /api/v1/jobs/{job_id} until overall is done or failed.
type Job struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	UserID        uuid.UUID `db:"user_id"        json:"user_id"`
	MediaPath     string    `db:"media_path"     json:"media_path"`
	Extraction    string    `db:"extraction"     json:"extraction"`
	Transcription string    `db:"transcription"  json:"transcription"`
	Structuring   string    `db:"structuring"    json:"structuring"`
	Overall       string    `db:"overall"        json:"overall"`
	ErrorMessage  *string   `db:"error_message"  json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// NewJob returns a Job with all stage statuses pending.
func NewJob(userID uuid.UUID, mediaPath string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            uuid.New(),
		UserID:        userID,
		MediaPath:     mediaPath,
		Extraction:    StatusPending,
		Transcription: StatusPending,
		Structuring:   StatusPending,
		Overall:       StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

var validTransitions = map[string][]string{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusDone, StatusFailed},
}

// ValidTransition reports whether a stage may move from current to next.
// Terminal statuses (done, failed) admit no further transitions.
func ValidTransition(current, next string) bool {
	for _, allowed := range validTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidStage reports whether name is one of the three pipeline stages.
func ValidStage(name string) bool {
	switch name {
	case StageExtraction, StageTranscription, StageStructuring:
		return true
	}
	return false
}

// DeriveOverall computes the overall job status from the three stage
// statuses. Overall is done only when all three are done, failed as soon as
// any stage fails, pending until any stage leaves pending, and running
// otherwise. Recomputing inside the same update that changes a stage keeps
// the stored overall from drifting.
func DeriveOverall(extraction, transcription, structuring string) string {
	if extraction == StatusFailed || transcription == StatusFailed || structuring == StatusFailed {
		return StatusFailed
	}
	if extraction == StatusDone && transcription == StatusDone && structuring == StatusDone {
		return StatusDone
	}
	if extraction == StatusPending && transcription == StatusPending && structuring == StatusPending {
		return StatusPending
	}
	return StatusRunning
}

// CanTransition reports whether the job may move the named stage to status.
// A job whose overall status is done admits nothing. A job whose overall
// status is failed admits no new stage starts, but a stage already running
// may still record its own outcome: a sibling branch that succeeds after the
// first failure lands as done, and the failure sweep marks the rest failed.
func (j *Job) CanTransition(stage, status string) error {
	if !ValidStage(stage) {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	}
	if j.Overall == StatusDone {
		return fmt.Errorf("%w: job %s is done", ErrInvalidTransition, j.ID)
	}
	if j.Overall == StatusFailed && status == StatusRunning {
		return fmt.Errorf("%w: job %s already failed", ErrInvalidTransition, j.ID)
	}
	if !ValidTransition(j.StageStatus(stage), status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, stage, j.StageStatus(stage), status)
	}
	return nil
}

// StageStatus returns the status of the named stage.
func (j *Job) StageStatus(stage string) string {
	switch stage {
	case StageExtraction:
		return j.Extraction
	case StageTranscription:
		return j.Transcription
	case StageStructuring:
		return j.Structuring
	}
	return ""
}

// SetStageStatus updates the named stage and recomputes Overall.
func (j *Job) SetStageStatus(stage, status string) {
	switch stage {
	case StageExtraction:
		j.Extraction = status
	case StageTranscription:
		j.Transcription = status
	case StageStructuring:
		j.Structuring = status
	}
	j.Overall = DeriveOverall(j.Extraction, j.Transcription, j.Structuring)
}
