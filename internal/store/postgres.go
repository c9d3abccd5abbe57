package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/studyhall/studyhall/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, user.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAPIKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, media_path, extraction, transcription, structuring, overall, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, job.MediaPath, job.Extraction, job.Transcription,
		job.Structuring, job.Overall, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, media_path, extraction, transcription, structuring, overall, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.MediaPath, &j.Extraction, &j.Transcription,
		&j.Structuring, &j.Overall, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

var stageColumns = map[string]string{
	models.StageExtraction:    "extraction",
	models.StageTranscription: "transcription",
	models.StageStructuring:   "structuring",
}

// TransitionStage runs inside a transaction with the job row locked so that
// concurrent transitions and reads never observe a stage change without the
// recomputed overall status.
func (s *PostgresStore) TransitionStage(ctx context.Context, id uuid.UUID, stage, status string, opts ...TransitionOption) (*models.Job, error) {
	column, ok := stageColumns[stage]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stage %q", models.ErrInvalidTransition, stage)
	}

	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}

	if err := job.CanTransition(stage, status); err != nil {
		return nil, err
	}

	job.SetStageStatus(stage, status)
	job.UpdatedAt = time.Now().UTC()
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET `+column+` = $2, overall = $3, error_message = $4, updated_at = $5 WHERE id = $1`,
		id, status, job.Overall, job.ErrorMessage, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update job stage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return job, nil
}

// --- Lectures ---

func (s *PostgresStore) CreateLecture(ctx context.Context, lecture *models.Lecture) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lectures (id, job_id, summary, notes_path, transcript_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		lecture.ID, lecture.JobID, lecture.Summary, lecture.NotesPath,
		lecture.TranscriptPath, lecture.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create lecture: %w", err)
	}
	return nil
}

const lectureColumns = `id, job_id, summary, notes_path, transcript_path, created_at`

func scanLecture(row pgx.Row) (*models.Lecture, error) {
	var l models.Lecture
	err := row.Scan(&l.ID, &l.JobID, &l.Summary, &l.NotesPath, &l.TranscriptPath, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetLecture(ctx context.Context, id uuid.UUID) (*models.Lecture, error) {
	l, err := scanLecture(s.pool.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lecture: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLectureByJobID(ctx context.Context, jobID uuid.UUID) (*models.Lecture, error) {
	l, err := scanLecture(s.pool.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lecture by job: %w", err)
	}
	return l, nil
}

// --- Exchanges ---

// AppendExchange locks the lecture row so two concurrent appends cannot claim
// the same position.
func (s *PostgresStore) AppendExchange(ctx context.Context, exchange *models.Exchange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var lectureID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM lectures WHERE id = $1 FOR UPDATE`, exchange.LectureID,
	).Scan(&lectureID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock lecture: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM exchanges WHERE lecture_id = $1`,
		exchange.LectureID,
	).Scan(&exchange.Position)
	if err != nil {
		return fmt.Errorf("next exchange position: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO exchanges (id, lecture_id, position, question, answer, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		exchange.ID, exchange.LectureID, exchange.Position, exchange.Question,
		exchange.Answer, exchange.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListExchanges(ctx context.Context, lectureID uuid.UUID, limit int) ([]*models.Exchange, error) {
	query := `SELECT id, lecture_id, position, question, answer, created_at
	          FROM exchanges WHERE lecture_id = $1 ORDER BY position ASC`
	args := []any{lectureID}
	if limit > 0 {
		query = `SELECT id, lecture_id, position, question, answer, created_at FROM (
		           SELECT id, lecture_id, position, question, answer, created_at
		           FROM exchanges WHERE lecture_id = $1 ORDER BY position DESC LIMIT $2
		         ) recent ORDER BY position ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*models.Exchange
	for rows.Next() {
		var e models.Exchange
		if err := rows.Scan(&e.ID, &e.LectureID, &e.Position, &e.Question,
			&e.Answer, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		exchanges = append(exchanges, &e)
	}
	return exchanges, rows.Err()
}

// isDuplicateKeyError reports whether err is a Postgres unique violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
