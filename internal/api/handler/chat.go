package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studyhall/studyhall/internal/api/response"
	"github.com/studyhall/studyhall/internal/chat"
	"github.com/studyhall/studyhall/internal/remote"
	"github.com/studyhall/studyhall/pkg/models"
)

// ChatService answers questions over a lecture and lists past exchanges.
type ChatService interface {
	Answer(ctx context.Context, lectureID uuid.UUID, question string) (*models.Exchange, error)
	History(ctx context.Context, lectureID uuid.UUID, limit int) ([]*models.Exchange, error)
}

type exchangeBody struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedAt string `json:"created_at"`
}

func toExchangeBody(ex *models.Exchange) exchangeBody {
	return exchangeBody{
		ID:        ex.ID.String(),
		Position:  ex.Position,
		Question:  ex.Question,
		Answer:    ex.Answer,
		CreatedAt: ex.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewAskHandler returns an http.HandlerFunc for
// POST /api/v1/lectures/{lectureID}/chat.
func NewAskHandler(svc ChatService, st LectureStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lectureID, err := uuid.Parse(chi.URLParam(r, "lectureID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid lecture ID", nil)
			return
		}

		if lecture, status, code := ownedLecture(r, st, lectureID); lecture == nil {
			response.Error(w, status, code, lectureErrorMessage(code), nil)
			return
		}

		var req struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		exchange, err := svc.Answer(r.Context(), lectureID, req.Question)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyQuestion):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"question is required", nil)
			case errors.Is(err, chat.ErrUnknownLecture):
				response.Error(w, http.StatusNotFound, "LECTURE_NOT_FOUND",
					"Lecture not found", nil)
			case errors.Is(err, remote.ErrServiceTimeout):
				response.Error(w, http.StatusGatewayTimeout, "QUERY_TIMEOUT",
					"The query service took too long to answer", nil)
			case errors.Is(err, remote.ErrServiceUnreachable), errors.Is(err, remote.ErrServiceFailed):
				response.Error(w, http.StatusBadGateway, "QUERY_UNAVAILABLE",
					"The query service is not available", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, toExchangeBody(exchange))
	}
}

// NewChatHistoryHandler returns an http.HandlerFunc for
// GET /api/v1/lectures/{lectureID}/chat.
func NewChatHistoryHandler(svc ChatService, st LectureStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lectureID, err := uuid.Parse(chi.URLParam(r, "lectureID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid lecture ID", nil)
			return
		}

		if lecture, status, code := ownedLecture(r, st, lectureID); lecture == nil {
			response.Error(w, status, code, lectureErrorMessage(code), nil)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a non-negative integer", nil)
				return
			}
		}

		history, err := svc.History(r.Context(), lectureID, limit)
		if err != nil {
			if errors.Is(err, chat.ErrUnknownLecture) {
				response.Error(w, http.StatusNotFound, "LECTURE_NOT_FOUND", "Lecture not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load chat history", nil)
			return
		}

		out := make([]exchangeBody, 0, len(history))
		for _, ex := range history {
			out = append(out, toExchangeBody(ex))
		}
		response.Collection(w, out, response.ListMeta{Count: len(out), Limit: limit})
	}
}
