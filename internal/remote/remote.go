// Package remote holds the clients for the external processing services:
// extraction (on-screen text), transcription (speech), and structuring
// (knowledge assembly plus the interactive query endpoint). Each call is a
// bounded request/response; the caller decides whether a failure is terminal
// or retried — these clients never retry on their own.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
)

// Sentinel errors for remote service failures.
var (
	ErrServiceUnreachable = errors.New("remote service unreachable")
	ErrServiceTimeout     = errors.New("remote service timeout")
	ErrServiceFailed      = errors.New("remote service returned error")
	ErrInvalidResponse    = errors.New("remote service returned invalid response")
)

// Segment is one time-aligned span of extracted or transcribed text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ExtractionResult is the extraction service's output for one video.
type ExtractionResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// Transcript is the transcription service's output for one video.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
}

// StructureRequest carries both first-stage outputs to the structuring service.
type StructureRequest struct {
	JobID            uuid.UUID       `json:"job_id"`
	ExtractionOutput json.RawMessage `json:"extraction_output"`
	Transcript       json.RawMessage `json:"transcript"`
}

// Notes is the structuring service's output: the queryable knowledge bundle.
type Notes struct {
	Summary   string          `json:"summary"`
	KeyPoints []string        `json:"key_points"`
	Notes     json.RawMessage `json:"notes,omitempty"`
}

// QueryContext is the lecture material sent with each question.
type QueryContext struct {
	Summary    string          `json:"summary"`
	Notes      json.RawMessage `json:"notes"`
	Transcript json.RawMessage `json:"transcript"`
}

// QA is one prior question/answer pair in the conversation history.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QueryRequest is one interactive question over a completed lecture.
type QueryRequest struct {
	LectureID uuid.UUID    `json:"lecture_id"`
	Question  string       `json:"question"`
	Context   QueryContext `json:"context"`
	History   []QA         `json:"history"`
}

// ExtractionClient invokes the vision/text-extraction service.
type ExtractionClient interface {
	// Process streams the media to the service and returns the extracted text.
	Process(ctx context.Context, jobID uuid.UUID, media io.Reader) (*ExtractionResult, error)
	Ready(ctx context.Context) error
}

// TranscriptionClient invokes the speech-transcription service.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, jobID uuid.UUID, media io.Reader) (*Transcript, error)
	Ready(ctx context.Context) error
}

// StructuringClient invokes the knowledge-structuring service.
type StructuringClient interface {
	Structure(ctx context.Context, req StructureRequest) (*Notes, error)
	Ready(ctx context.Context) error
}

// QueryClient answers questions over a completed lecture.
type QueryClient interface {
	Answer(ctx context.Context, req QueryRequest) (string, error)
	Ready(ctx context.Context) error
}
