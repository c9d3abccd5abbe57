// Package pipeline drives a submitted lecture video through extraction,
// transcription, and structuring, recording every stage change through the
// store so the job's overall status is always derivable from its stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/studyhall/studyhall/internal/artifact"
	"github.com/studyhall/studyhall/internal/cache"
	"github.com/studyhall/studyhall/internal/remote"
	"github.com/studyhall/studyhall/internal/store"
	"github.com/studyhall/studyhall/pkg/models"
)

const jobCacheTTL = 30 * time.Minute

// Coordinator owns the processing pipeline for lecture jobs. Submissions are
// dispatched to a bounded worker pool; each worker runs one job end to end.
type Coordinator struct {
	store         store.Store
	artifacts     artifact.Store
	cache         cache.Cache
	extraction    remote.ExtractionClient
	transcription remote.TranscriptionClient
	structuring   remote.StructuringClient
	pool          *ants.Pool
	stageTimeout  time.Duration
}

// New creates a Coordinator with workers goroutines available for job runs.
func New(st store.Store, artifacts artifact.Store, ca cache.Cache,
	ext remote.ExtractionClient, tr remote.TranscriptionClient, str remote.StructuringClient,
	workers int, stageTimeout time.Duration) (*Coordinator, error) {

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Coordinator{
		store:         st,
		artifacts:     artifacts,
		cache:         ca,
		extraction:    ext,
		transcription: tr,
		structuring:   str,
		pool:          pool,
		stageTimeout:  stageTimeout,
	}, nil
}

// Close releases the worker pool. In-flight jobs finish their current run.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// Submit persists the media, creates the job with all stages pending, and
// dispatches processing to the pool. It returns the job immediately without
// waiting for processing to complete.
func (c *Coordinator) Submit(ctx context.Context, userID uuid.UUID, media io.Reader) (*models.Job, error) {
	job := models.NewJob(userID, "")

	ref, err := c.artifacts.Put(ctx, job.ID, artifact.KindSourceMedia, media)
	if err != nil {
		return nil, fmt.Errorf("storing media: %w", err)
	}
	job.MediaPath = ref

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	_ = c.cache.SetJob(ctx, job, jobCacheTTL)

	if err := c.pool.Submit(func() {
		c.Run(context.Background(), job.ID)
	}); err != nil {
		c.failRemaining(ctx, job.ID, fmt.Sprintf("dispatch: %v", err))
		return nil, fmt.Errorf("dispatching job: %w", err)
	}
	return job, nil
}

// Run processes one job synchronously: extraction and transcription run
// concurrently, then structuring runs only if both succeeded. Every outcome
// leaves the job with no stage still pending or running.
func (c *Coordinator) Run(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline run", "error", r, "job_id", jobID)
			c.failRemaining(ctx, jobID, fmt.Sprintf("panic: %v", r))
		}
	}()

	c.transition(ctx, jobID, models.StageExtraction, models.StatusRunning)
	c.transition(ctx, jobID, models.StageTranscription, models.StatusRunning)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runTranscription(ctx, jobID)
	}()
	c.runExtraction(ctx, jobID)
	<-done

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("reloading job after first stages", "error", err, "job_id", jobID)
		return
	}
	if job.Extraction != models.StatusDone || job.Transcription != models.StatusDone {
		// A branch already recorded its failure; sweep the untouched stage.
		c.failRemaining(ctx, jobID, "")
		slog.Info("pipeline aborted before structuring",
			"job_id", jobID, "extraction", job.Extraction, "transcription", job.Transcription)
		return
	}

	c.transition(ctx, jobID, models.StageStructuring, models.StatusRunning)
	c.runStructuring(ctx, job)
}

func (c *Coordinator) runExtraction(ctx context.Context, jobID uuid.UUID) {
	media, err := c.artifacts.Open(ctx, jobID, artifact.KindSourceMedia)
	if err != nil {
		c.failStage(ctx, jobID, models.StageExtraction, fmt.Errorf("opening media: %w", err))
		return
	}
	defer media.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()

	result, err := c.extraction.Process(callCtx, jobID, media)
	if err != nil {
		c.failStage(ctx, jobID, models.StageExtraction, err)
		return
	}
	if _, err := artifact.PutJSON(ctx, c.artifacts, jobID, artifact.KindExtractionOutput, result); err != nil {
		c.failStage(ctx, jobID, models.StageExtraction, err)
		return
	}
	c.transition(ctx, jobID, models.StageExtraction, models.StatusDone)
}

func (c *Coordinator) runTranscription(ctx context.Context, jobID uuid.UUID) {
	media, err := c.artifacts.Open(ctx, jobID, artifact.KindSourceMedia)
	if err != nil {
		c.failStage(ctx, jobID, models.StageTranscription, fmt.Errorf("opening media: %w", err))
		return
	}
	defer media.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()

	transcript, err := c.transcription.Transcribe(callCtx, jobID, media)
	if err != nil {
		c.failStage(ctx, jobID, models.StageTranscription, err)
		return
	}
	if _, err := artifact.PutJSON(ctx, c.artifacts, jobID, artifact.KindTranscript, transcript); err != nil {
		c.failStage(ctx, jobID, models.StageTranscription, err)
		return
	}
	c.transition(ctx, jobID, models.StageTranscription, models.StatusDone)
}

func (c *Coordinator) runStructuring(ctx context.Context, job *models.Job) {
	extraction, err := c.artifacts.Get(ctx, job.ID, artifact.KindExtractionOutput)
	if err != nil {
		c.failStage(ctx, job.ID, models.StageStructuring, fmt.Errorf("loading extraction output: %w", err))
		return
	}
	transcript, err := c.artifacts.Get(ctx, job.ID, artifact.KindTranscript)
	if err != nil {
		c.failStage(ctx, job.ID, models.StageStructuring, fmt.Errorf("loading transcript: %w", err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()

	notes, err := c.structuring.Structure(callCtx, remote.StructureRequest{
		JobID:            job.ID,
		ExtractionOutput: extraction,
		Transcript:       transcript,
	})
	if err != nil {
		c.failStage(ctx, job.ID, models.StageStructuring, err)
		return
	}

	notesRef, err := artifact.PutJSON(ctx, c.artifacts, job.ID, artifact.KindStructuredNotes, notes)
	if err != nil {
		c.failStage(ctx, job.ID, models.StageStructuring, err)
		return
	}
	transcriptRef, err := c.artifacts.Ref(ctx, job.ID, artifact.KindTranscript)
	if err != nil {
		c.failStage(ctx, job.ID, models.StageStructuring, fmt.Errorf("resolving transcript: %w", err))
		return
	}

	lecture := &models.Lecture{
		ID:             uuid.New(),
		JobID:          job.ID,
		Summary:        notes.Summary,
		NotesPath:      notesRef,
		TranscriptPath: transcriptRef,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.store.CreateLecture(ctx, lecture); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		c.failStage(ctx, job.ID, models.StageStructuring, fmt.Errorf("creating lecture: %w", err))
		return
	}
	c.transition(ctx, job.ID, models.StageStructuring, models.StatusDone)
}

// transition applies one stage change and refreshes the cached job record.
func (c *Coordinator) transition(ctx context.Context, jobID uuid.UUID, stage, status string, opts ...store.TransitionOption) {
	job, err := c.store.TransitionStage(ctx, jobID, stage, status, opts...)
	if err != nil {
		slog.Error("stage transition failed",
			"error", err, "job_id", jobID, "stage", stage, "status", status)
		return
	}
	_ = c.cache.SetJob(ctx, job, jobCacheTTL)
}

func (c *Coordinator) failStage(ctx context.Context, jobID uuid.UUID, stage string, cause error) {
	slog.Warn("pipeline stage failed", "job_id", jobID, "stage", stage, "error", cause)
	c.transition(ctx, jobID, stage, models.StatusFailed,
		store.WithErrorMessage(fmt.Sprintf("%s: %v", stage, cause)))
}

// failRemaining marks every stage still pending or running as failed so an
// aborted job never reads as in progress.
func (c *Coordinator) failRemaining(ctx context.Context, jobID uuid.UUID, msg string) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("reloading job for failure sweep", "error", err, "job_id", jobID)
		return
	}
	for _, stage := range []string{models.StageExtraction, models.StageTranscription, models.StageStructuring} {
		st := job.StageStatus(stage)
		if st != models.StatusPending && st != models.StatusRunning {
			continue
		}
		opts := []store.TransitionOption{}
		if msg != "" {
			opts = append(opts, store.WithErrorMessage(msg))
		}
		c.transition(ctx, jobID, stage, models.StatusFailed, opts...)
	}
}
