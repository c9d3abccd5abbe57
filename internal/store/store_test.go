package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("studyhall_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// seedUser creates a user for jobs to hang off.
func seedUser(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	user := &models.User{
		ID:        uuid.New(),
		Name:      "test user",
		Email:     fmt.Sprintf("%s@example.com", uuid.New()),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user.ID
}

func seedJob(t *testing.T, s store.Store, userID uuid.UUID) *models.Job {
	t.Helper()
	job := models.NewJob(userID, "storage/job/video.mp4")
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// advanceToDone walks a stage through running to done.
func advanceToDone(t *testing.T, s store.Store, jobID uuid.UUID, stage string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.TransitionStage(ctx, jobID, stage, models.StatusRunning)
	require.NoError(t, err)
	_, err = s.TransitionStage(ctx, jobID, stage, models.StatusDone)
	require.NoError(t, err)
}

// --- User Tests ---

func TestUser_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := &models.User{
		ID:        uuid.New(),
		Name:      "ada",
		Email:     "ada@example.com",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "ada", got.Name)

	assert.ErrorIs(t, s.CreateUser(ctx, user), store.ErrDuplicateKey)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)

	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sh_abcd1",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "sh_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, userID, keys[0].UserID)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "sh_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	n, err := s.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)

	job := seedJob(t, s, userID)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Extraction)
	assert.Equal(t, models.StatusPending, got.Overall)
	assert.Nil(t, got.ErrorMessage)

	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicateKey)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ListByUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	otherID := seedUser(t, s)

	first := seedJob(t, s, userID)
	time.Sleep(10 * time.Millisecond)
	second := seedJob(t, s, userID)
	seedJob(t, s, otherID)

	jobs, err := s.ListJobsByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// Newest first.
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestJob_TransitionRecomputesOverall(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	got, err := s.TransitionStage(ctx, job.ID, models.StageExtraction, models.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Extraction)
	assert.Equal(t, models.StatusRunning, got.Overall)

	advanceToDone(t, s, job.ID, models.StageTranscription)
	got, err = s.TransitionStage(ctx, job.ID, models.StageExtraction, models.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Overall)

	advanceToDone(t, s, job.ID, models.StageStructuring)
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Overall)
}

func TestJob_TransitionFailureRecordsMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	_, err := s.TransitionStage(ctx, job.ID, models.StageTranscription, models.StatusRunning)
	require.NoError(t, err)

	got, err := s.TransitionStage(ctx, job.ID, models.StageTranscription, models.StatusFailed,
		store.WithErrorMessage("transcription: model not loaded"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Transcription)
	assert.Equal(t, models.StatusFailed, got.Overall)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "transcription: model not loaded", *got.ErrorMessage)
}

func TestJob_InvalidTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	// pending -> done skips running
	_, err := s.TransitionStage(ctx, job.ID, models.StageExtraction, models.StatusDone)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// unknown stage
	_, err = s.TransitionStage(ctx, job.ID, "rendering", models.StatusRunning)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// unknown job
	_, err = s.TransitionStage(ctx, uuid.New(), models.StageExtraction, models.StatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// done stage admits nothing further
	advanceToDone(t, s, job.ID, models.StageExtraction)
	_, err = s.TransitionStage(ctx, job.ID, models.StageExtraction, models.StatusFailed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestJob_TerminalJobImmutable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)

	// Fully done job: nothing moves.
	done := seedJob(t, s, userID)
	for _, stage := range []string{models.StageExtraction, models.StageTranscription, models.StageStructuring} {
		advanceToDone(t, s, done.ID, stage)
	}
	_, err := s.TransitionStage(ctx, done.ID, models.StageExtraction, models.StatusRunning)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Failed job: no stage may start, but a running sibling still records
	// its own outcome and the failure sweep fails the rest.
	failed := seedJob(t, s, userID)
	_, err = s.TransitionStage(ctx, failed.ID, models.StageExtraction, models.StatusRunning)
	require.NoError(t, err)
	_, err = s.TransitionStage(ctx, failed.ID, models.StageTranscription, models.StatusRunning)
	require.NoError(t, err)
	_, err = s.TransitionStage(ctx, failed.ID, models.StageExtraction, models.StatusFailed)
	require.NoError(t, err)

	_, err = s.TransitionStage(ctx, failed.ID, models.StageStructuring, models.StatusRunning)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := s.TransitionStage(ctx, failed.ID, models.StageTranscription, models.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Transcription)
	assert.Equal(t, models.StatusFailed, got.Overall)

	got, err = s.TransitionStage(ctx, failed.ID, models.StageStructuring, models.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Structuring)
	assert.Equal(t, models.StatusFailed, got.Overall)
}

// --- Lecture Tests ---

func TestLecture_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	lecture := &models.Lecture{
		ID:             uuid.New(),
		JobID:          job.ID,
		Summary:        "intro to x",
		NotesPath:      "storage/job/notes.json",
		TranscriptPath: "storage/job/transcript.json",
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.CreateLecture(ctx, lecture))

	got, err := s.GetLecture(ctx, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, "intro to x", got.Summary)

	byJob, err := s.GetLectureByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, lecture.ID, byJob.ID)

	// One lecture per job.
	dup := &models.Lecture{ID: uuid.New(), JobID: job.ID, CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, s.CreateLecture(ctx, dup), store.ErrDuplicateKey)

	_, err = s.GetLecture(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Exchange Tests ---

func TestExchange_AppendAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	userID := seedUser(t, s)
	job := seedJob(t, s, userID)

	lecture := &models.Lecture{ID: uuid.New(), JobID: job.ID, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateLecture(ctx, lecture))

	for i := 1; i <= 5; i++ {
		ex := &models.Exchange{
			ID:        uuid.New(),
			LectureID: lecture.ID,
			Question:  fmt.Sprintf("question %d", i),
			Answer:    fmt.Sprintf("answer %d", i),
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.AppendExchange(ctx, ex))
		assert.Equal(t, i, ex.Position)
	}

	all, err := s.ListExchanges(ctx, lecture.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, ex := range all {
		assert.Equal(t, i+1, ex.Position)
	}

	// Most recent three, still ascending.
	recent, err := s.ListExchanges(ctx, lecture.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "question 3", recent[0].Question)
	assert.Equal(t, "question 5", recent[2].Question)

	// Unknown lecture appends are rejected.
	orphan := &models.Exchange{ID: uuid.New(), LectureID: uuid.New(), CreatedAt: time.Now().UTC()}
	assert.Error(t, s.AppendExchange(ctx, orphan))
}
