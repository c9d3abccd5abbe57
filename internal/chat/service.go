// Package chat answers questions over completed lectures, grounding each
// question in the lecture's structured notes and transcript plus the most
// recent conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyhall/studyhall/internal/artifact"
	"github.com/studyhall/studyhall/internal/remote"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

var (
	ErrUnknownLecture = errors.New("lecture not found or not ready")
	ErrEmptyQuestion  = errors.New("question must not be empty")
)

// historyLimit caps how many prior exchanges accompany each question.
const historyLimit = 10

// defaultHistoryPage is the page size for the history listing endpoint.
const defaultHistoryPage = 50

// Service answers questions over completed lectures. Calls for the same
// lecture are serialized so concurrent questions cannot interleave their
// history reads and appends.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	query     remote.QueryClient
	timeout   time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*lectureLock
}

// lectureLock is refcounted so the map entry can be dropped once no caller
// holds or waits on it.
type lectureLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a chat Service. timeout bounds each query service call.
func NewService(st store.Store, artifacts artifact.Store, query remote.QueryClient, timeout time.Duration) *Service {
	return &Service{
		store:     st,
		artifacts: artifacts,
		query:     query,
		timeout:   timeout,
		locks:     make(map[uuid.UUID]*lectureLock),
	}
}

func (s *Service) acquireLecture(id uuid.UUID) *lectureLock {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &lectureLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) releaseLecture(id uuid.UUID, l *lectureLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
	s.mu.Unlock()
}

// Answer asks the query service one question over a completed lecture and
// records the resulting exchange. A failed call records nothing, so a retry
// sees the same history as the failed attempt did.
func (s *Service) Answer(ctx context.Context, lectureID uuid.UUID, question string) (*models.Exchange, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	lecture, err := s.store.GetLecture(ctx, lectureID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownLecture
	}
	if err != nil {
		return nil, fmt.Errorf("loading lecture: %w", err)
	}

	job, err := s.store.GetJob(ctx, lecture.JobID)
	if err != nil {
		return nil, fmt.Errorf("loading lecture job: %w", err)
	}
	if job.Overall != models.StatusDone {
		return nil, ErrUnknownLecture
	}

	lock := s.acquireLecture(lectureID)
	defer s.releaseLecture(lectureID, lock)

	history, err := s.store.ListExchanges(ctx, lectureID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	qctx, err := s.buildContext(ctx, lecture)
	if err != nil {
		return nil, err
	}

	req := remote.QueryRequest{
		LectureID: lectureID,
		Question:  question,
		Context:   qctx,
		History:   make([]remote.QA, 0, len(history)),
	}
	for _, ex := range history {
		req.History = append(req.History, remote.QA{Question: ex.Question, Answer: ex.Answer})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.query.Answer(callCtx, req)
	if err != nil {
		slog.Warn("query service call failed", "lecture_id", lectureID, "error", err)
		return nil, err
	}

	exchange := &models.Exchange{
		ID:        uuid.New(),
		LectureID: lectureID,
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendExchange(ctx, exchange); err != nil {
		return nil, fmt.Errorf("recording exchange: %w", err)
	}
	return exchange, nil
}

// History returns up to limit recent exchanges for the lecture in ascending
// order. limit <= 0 uses the default page size.
func (s *Service) History(ctx context.Context, lectureID uuid.UUID, limit int) ([]*models.Exchange, error) {
	if _, err := s.store.GetLecture(ctx, lectureID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownLecture
		}
		return nil, fmt.Errorf("loading lecture: %w", err)
	}
	if limit <= 0 {
		limit = defaultHistoryPage
	}
	return s.store.ListExchanges(ctx, lectureID, limit)
}

// buildContext assembles the lecture material for one question. A missing
// notes or transcript artifact is tolerated; the question goes out with
// whatever material exists.
func (s *Service) buildContext(ctx context.Context, lecture *models.Lecture) (remote.QueryContext, error) {
	qctx := remote.QueryContext{Summary: lecture.Summary}

	notes, err := s.artifacts.Get(ctx, lecture.JobID, artifact.KindStructuredNotes)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return qctx, fmt.Errorf("loading notes: %w", err)
	}
	qctx.Notes = notes

	transcript, err := s.artifacts.Get(ctx, lecture.JobID, artifact.KindTranscript)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return qctx, fmt.Errorf("loading transcript: %w", err)
	}
	qctx.Transcript = transcript

	return qctx, nil
}
