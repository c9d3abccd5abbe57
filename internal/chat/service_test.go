package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhall/studyhall/internal/artifact"
	"github.com/studyhall/studyhall/internal/remote"
	"github.com/studyhall/studyhall/internal/remote/mock"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

type fixture struct {
	store     *store.MemoryStore
	artifacts *artifact.FSStore
	query     *mock.QueryClient
	svc       *Service
	lecture   *models.Lecture
}

// newFixture seeds a completed job with notes and transcript artifacts plus
// its lecture, ready for questions.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	artifacts, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	job := models.NewJob(uuid.New(), "")
	require.NoError(t, st.CreateJob(ctx, job))
	for _, stage := range []string{models.StageExtraction, models.StageTranscription} {
		_, err = st.TransitionStage(ctx, job.ID, stage, models.StatusRunning)
		require.NoError(t, err)
		_, err = st.TransitionStage(ctx, job.ID, stage, models.StatusDone)
		require.NoError(t, err)
	}
	_, err = st.TransitionStage(ctx, job.ID, models.StageStructuring, models.StatusRunning)
	require.NoError(t, err)
	_, err = st.TransitionStage(ctx, job.ID, models.StageStructuring, models.StatusDone)
	require.NoError(t, err)

	notesRef, err := artifact.PutJSON(ctx, artifacts, job.ID, artifact.KindStructuredNotes,
		remote.Notes{Summary: "intro to x", KeyPoints: []string{"x equals one"}})
	require.NoError(t, err)
	transcriptRef, err := artifact.PutJSON(ctx, artifacts, job.ID, artifact.KindTranscript,
		remote.Transcript{Text: "today we cover x"})
	require.NoError(t, err)

	lecture := &models.Lecture{
		ID:             uuid.New(),
		JobID:          job.ID,
		Summary:        "intro to x",
		NotesPath:      notesRef,
		TranscriptPath: transcriptRef,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, st.CreateLecture(ctx, lecture))

	query := &mock.QueryClient{}
	return &fixture{
		store:     st,
		artifacts: artifacts,
		query:     query,
		svc:       NewService(st, artifacts, query, 5*time.Second),
		lecture:   lecture,
	}
}

func TestAnswerRecordsExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.query.AnswerFunc = func(_ context.Context, req remote.QueryRequest) (string, error) {
		assert.Equal(t, f.lecture.ID, req.LectureID)
		assert.Equal(t, "what is x?", req.Question)
		assert.Equal(t, "intro to x", req.Context.Summary)
		assert.Empty(t, req.History)

		var notes remote.Notes
		require.NoError(t, json.Unmarshal(req.Context.Notes, &notes))
		assert.Equal(t, []string{"x equals one"}, notes.KeyPoints)

		var tr remote.Transcript
		require.NoError(t, json.Unmarshal(req.Context.Transcript, &tr))
		assert.Equal(t, "today we cover x", tr.Text)

		return "x is one", nil
	}

	ex, err := f.svc.Answer(ctx, f.lecture.ID, "what is x?")
	require.NoError(t, err)
	assert.Equal(t, "x is one", ex.Answer)
	assert.Equal(t, 1, ex.Position)

	history, err := f.svc.History(ctx, f.lecture.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "what is x?", history[0].Question)
}

func TestAnswerSendsPriorHistoryInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Answer(ctx, f.lecture.ID, "what is x?")
	require.NoError(t, err)

	f.query.AnswerFunc = func(_ context.Context, req remote.QueryRequest) (string, error) {
		require.Len(t, req.History, 1)
		assert.Equal(t, "what is x?", req.History[0].Question)
		assert.Equal(t, "mock answer", req.History[0].Answer)
		return "because the lecture says so", nil
	}

	ex, err := f.svc.Answer(ctx, f.lecture.ID, "why?")
	require.NoError(t, err)
	assert.Equal(t, 2, ex.Position)
}

func TestAnswerHistoryCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < historyLimit+3; i++ {
		_, err := f.svc.Answer(ctx, f.lecture.ID, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	f.query.AnswerFunc = func(_ context.Context, req remote.QueryRequest) (string, error) {
		require.Len(t, req.History, historyLimit)
		// Oldest entries fall off; the window ends at the latest exchange.
		assert.Equal(t, "question 3", req.History[0].Question)
		assert.Equal(t, fmt.Sprintf("question %d", historyLimit+2), req.History[historyLimit-1].Question)
		return "ok", nil
	}
	_, err := f.svc.Answer(ctx, f.lecture.ID, "final question")
	require.NoError(t, err)
}

func TestAnswerFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.query.AnswerFunc = func(context.Context, remote.QueryRequest) (string, error) {
		return "", remote.ErrServiceTimeout
	}
	_, err := f.svc.Answer(ctx, f.lecture.ID, "what is x?")
	require.ErrorIs(t, err, remote.ErrServiceTimeout)

	f.query.AnswerFunc = func(_ context.Context, req remote.QueryRequest) (string, error) {
		assert.Empty(t, req.History)
		return "x is one", nil
	}
	ex, err := f.svc.Answer(ctx, f.lecture.ID, "what is x?")
	require.NoError(t, err)
	assert.Equal(t, 1, ex.Position)
}

func TestAnswerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Answer(ctx, f.lecture.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = f.svc.Answer(ctx, uuid.New(), "what is x?")
	assert.ErrorIs(t, err, ErrUnknownLecture)
}

func TestAnswerRejectsUnfinishedLecture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A lecture whose job never finished structuring is not queryable.
	job := models.NewJob(uuid.New(), "")
	require.NoError(t, f.store.CreateJob(ctx, job))
	lecture := &models.Lecture{ID: uuid.New(), JobID: job.ID, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateLecture(ctx, lecture))

	_, err := f.svc.Answer(ctx, lecture.ID, "what is x?")
	assert.ErrorIs(t, err, ErrUnknownLecture)
}

func TestAnswerConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Answer(ctx, f.lecture.ID, fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.svc.History(ctx, f.lecture.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, n)
	seen := make(map[string]bool, n)
	for i, ex := range history {
		assert.Equal(t, i+1, ex.Position)
		assert.False(t, seen[ex.Question])
		seen[ex.Question] = true
		assert.True(t, strings.HasPrefix(ex.Question, "question "))
	}

	// Lock entries are released once no caller holds or waits on them.
	f.svc.mu.Lock()
	assert.Empty(t, f.svc.locks)
	f.svc.mu.Unlock()
}

func TestHistoryUnknownLecture(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.History(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, ErrUnknownLecture)
}
