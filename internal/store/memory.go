package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studyhall/studyhall/pkg/models"
)

// MemoryStore is an in-memory Store for tests and dependency-free local runs.
// It enforces the same transition semantics as PostgresStore.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*models.User
	apiKeys   map[uuid.UUID]*models.APIKey
	jobs      map[uuid.UUID]*models.Job
	lectures  map[uuid.UUID]*models.Lecture
	exchanges map[uuid.UUID][]*models.Exchange
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]*models.User),
		apiKeys:   make(map[uuid.UUID]*models.APIKey),
		jobs:      make(map[uuid.UUID]*models.Job),
		lectures:  make(map[uuid.UUID]*models.Lecture),
		exchanges: make(map[uuid.UUID][]*models.Exchange),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrDuplicateKey
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- API Keys ---

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CountAPIKeys(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, k := range s.apiKeys {
		if k.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListJobsByUser(_ context.Context, userID uuid.UUID) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*models.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) TransitionStage(_ context.Context, id uuid.UUID, stage, status string, opts ...TransitionOption) (*models.Job, error) {
	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := j.CanTransition(stage, status); err != nil {
		return nil, err
	}

	j.SetStageStatus(stage, status)
	j.UpdatedAt = time.Now().UTC()
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}

	cp := *j
	return &cp, nil
}

// --- Lectures ---

func (s *MemoryStore) CreateLecture(_ context.Context, lecture *models.Lecture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[lecture.ID]; ok {
		return ErrDuplicateKey
	}
	for _, l := range s.lectures {
		if l.JobID == lecture.JobID {
			return ErrDuplicateKey
		}
	}
	cp := *lecture
	s.lectures[lecture.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLecture(_ context.Context, id uuid.UUID) (*models.Lecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lectures[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) GetLectureByJobID(_ context.Context, jobID uuid.UUID) (*models.Lecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lectures {
		if l.JobID == jobID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- Exchanges ---

func (s *MemoryStore) AppendExchange(_ context.Context, exchange *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[exchange.LectureID]; !ok {
		return ErrNotFound
	}
	exchange.Position = len(s.exchanges[exchange.LectureID]) + 1
	cp := *exchange
	s.exchanges[exchange.LectureID] = append(s.exchanges[exchange.LectureID], &cp)
	return nil
}

func (s *MemoryStore) ListExchanges(_ context.Context, lectureID uuid.UUID, limit int) ([]*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.exchanges[lectureID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*models.Exchange, 0, len(all))
	for _, e := range all {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
