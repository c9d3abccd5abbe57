package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/studyhall/studyhall/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here, so the Postgres implementation can be swapped for the in-memory one
// in tests and local development.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CountAPIKeys(ctx context.Context) (int, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
	// TransitionStage atomically updates one stage status and recomputes the
	// overall status in the same write. Returns ErrNotFound for unknown jobs
	// and models.ErrInvalidTransition for backward moves or terminal jobs.
	TransitionStage(ctx context.Context, id uuid.UUID, stage, status string, opts ...TransitionOption) (*models.Job, error)

	CreateLecture(ctx context.Context, lecture *models.Lecture) error
	GetLecture(ctx context.Context, id uuid.UUID) (*models.Lecture, error)
	GetLectureByJobID(ctx context.Context, jobID uuid.UUID) (*models.Lecture, error)

	// AppendExchange assigns the next position for the lecture and inserts
	// the exchange. Appends for one lecture are serialized by the store.
	AppendExchange(ctx context.Context, exchange *models.Exchange) error
	// ListExchanges returns the most recent limit exchanges for a lecture in
	// ascending creation order. limit <= 0 returns all of them.
	ListExchanges(ctx context.Context, lectureID uuid.UUID, limit int) ([]*models.Exchange, error)
}

type transitionParams struct {
	ErrorMessage *string
}

type TransitionOption func(*transitionParams)

// WithErrorMessage attaches the failing stage's diagnostic message to the job.
func WithErrorMessage(msg string) TransitionOption {
	return func(p *transitionParams) {
		p.ErrorMessage = &msg
	}
}
