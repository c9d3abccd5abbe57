package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/studyhall/studyhall/internal/api/middleware"
	"github.com/studyhall/studyhall/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	SubmitJobHandler   http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetLectureHandler  http.HandlerFunc
	AskHandler         http.HandlerFunc
	ChatHistoryHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

		r.Get("/api/v1/lectures/{lectureID}", orNotImplemented(deps.GetLectureHandler))
		r.Post("/api/v1/lectures/{lectureID}/chat", orNotImplemented(deps.AskHandler))
		r.Get("/api/v1/lectures/{lectureID}/chat", orNotImplemented(deps.ChatHistoryHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
