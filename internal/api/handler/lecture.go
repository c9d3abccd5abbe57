package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/studyhall/studyhall/internal/api/middleware"
	"github.com/studyhall/studyhall/internal/api/response"
	"github.com/studyhall/studyhall/internal/artifact"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

// LectureStore is the subset of the store the lecture handlers need. Lectures
// carry no owner themselves; ownership flows through the job that produced
// them.
type LectureStore interface {
	GetLecture(ctx context.Context, id uuid.UUID) (*models.Lecture, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// ArtifactGetter reads stored lecture material.
type ArtifactGetter interface {
	Get(ctx context.Context, jobID uuid.UUID, kind string) ([]byte, error)
}

type lectureBody struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Summary    string          `json:"summary"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func toLectureBody(l *models.Lecture) lectureBody {
	return lectureBody{
		ID:        l.ID.String(),
		JobID:     l.JobID.String(),
		Summary:   l.Summary,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ownedLecture loads the lecture and verifies it belongs to the user. The
// not-found and not-owned cases are indistinguishable to the caller.
func ownedLecture(r *http.Request, st LectureStore, id uuid.UUID) (*models.Lecture, int, string) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		return nil, http.StatusUnauthorized, "INVALID_TOKEN"
	}

	lecture, err := st.GetLecture(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, "LECTURE_NOT_FOUND"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, "INTERNAL_ERROR"
	}

	job, err := st.GetJob(r.Context(), lecture.JobID)
	if err != nil {
		return nil, http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	if job.UserID != userID {
		return nil, http.StatusNotFound, "LECTURE_NOT_FOUND"
	}
	return lecture, 0, ""
}

// NewGetLectureHandler returns an http.HandlerFunc for
// GET /api/v1/lectures/{lectureID}. The response includes the structured
// notes and transcript payloads when the artifacts exist.
func NewGetLectureHandler(st LectureStore, artifacts ArtifactGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lectureID, err := uuid.Parse(chi.URLParam(r, "lectureID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid lecture ID", nil)
			return
		}

		lecture, status, code := ownedLecture(r, st, lectureID)
		if lecture == nil {
			response.Error(w, status, code, lectureErrorMessage(code), nil)
			return
		}

		body := toLectureBody(lecture)
		if notes, err := artifacts.Get(r.Context(), lecture.JobID, artifact.KindStructuredNotes); err == nil {
			body.Notes = notes
		} else if !errors.Is(err, artifact.ErrNotFound) {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load lecture notes", nil)
			return
		}
		if transcript, err := artifacts.Get(r.Context(), lecture.JobID, artifact.KindTranscript); err == nil {
			body.Transcript = transcript
		} else if !errors.Is(err, artifact.ErrNotFound) {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load lecture transcript", nil)
			return
		}

		response.JSON(w, body)
	}
}

func lectureErrorMessage(code string) string {
	switch code {
	case "LECTURE_NOT_FOUND":
		return "Lecture not found"
	case "INVALID_TOKEN":
		return "Missing user"
	default:
		return "Failed to load lecture"
	}
}
