package models

import (
	"time"

	"github.com/google/uuid"
)

// Lecture is the queryable artifact bundle produced when a Job completes.
// Created exactly once by the pipeline coordinator and immutable thereafter;
// re-processing a video creates a new Job/Lecture pair.
type Lecture struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	JobID          uuid.UUID `db:"job_id"          json:"job_id"`
	Summary        string    `db:"summary"         json:"summary"`
	NotesPath      string    `db:"notes_path"      json:"notes_path"`
	TranscriptPath string    `db:"transcript_path" json:"transcript_path"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
