package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/studyhall/studyhall/internal/api/middleware"
	"github.com/studyhall/studyhall/internal/api/response"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

// allowedExtensions are the accepted upload container formats.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// Submitter accepts a new lecture video and returns the created job.
type Submitter interface {
	Submit(ctx context.Context, userID uuid.UUID, media io.Reader) (*models.Job, error)
}

// JobStore is the subset of the store the job handlers need.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
	GetLectureByJobID(ctx context.Context, jobID uuid.UUID) (*models.Lecture, error)
}

// JobCache fronts job status polls.
type JobCache interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, bool, error)
}

type jobStatusBody struct {
	Extraction    string `json:"extraction"`
	Transcription string `json:"transcription"`
	Structuring   string `json:"structuring"`
	Overall       string `json:"overall"`
}

type jobBody struct {
	ID           string        `json:"id"`
	Status       jobStatusBody `json:"status"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	LectureID    string        `json:"lecture_id,omitempty"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
}

func toJobBody(job *models.Job) jobBody {
	return jobBody{
		ID: job.ID.String(),
		Status: jobStatusBody{
			Extraction:    job.Extraction,
			Transcription: job.Transcription,
			Structuring:   job.Structuring,
			Overall:       job.Overall,
		},
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The upload is a multipart form with a "video" file field.
func NewSubmitJobHandler(svc Submitter, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		file, header, err := r.FormFile("video")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
					"Video exceeds the maximum upload size", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Multipart form with a video file is required", nil)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT",
				"Unsupported video format", map[string]any{"filename": header.Filename})
			return
		}

		job, err := svc.Submit(r.Context(), userID, file)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to accept the video for processing", nil)
			return
		}

		response.Accepted(w, toJobBody(job))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Status polls hit the cache first; the store stays authoritative on a miss.
func NewGetJobHandler(st JobStore, ca JobCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job ID", nil)
			return
		}

		job, found, err := ca.GetJob(r.Context(), jobID)
		if err != nil || !found {
			job, err = st.GetJob(r.Context(), jobID)
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to load job", nil)
				return
			}
		}

		if job.UserID != userID {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}

		body := toJobBody(job)
		if job.Overall == models.StatusDone {
			if lecture, err := st.GetLectureByJobID(r.Context(), job.ID); err == nil {
				body.LectureID = lecture.ID.String()
			}
		}
		response.JSON(w, body)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobs, err := st.ListJobsByUser(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}

		out := make([]jobBody, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, toJobBody(job))
		}
		response.Collection(w, out, response.ListMeta{Count: len(out)})
	}
}
