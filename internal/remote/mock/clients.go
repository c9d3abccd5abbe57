// Package mock provides func-field doubles for the remote service clients.
package mock

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/studyhall/studyhall/internal/remote"
)

// ExtractionClient satisfies remote.ExtractionClient for testing.
type ExtractionClient struct {
	ProcessFunc func(ctx context.Context, jobID uuid.UUID, media io.Reader) (*remote.ExtractionResult, error)
	ReadyFunc   func(ctx context.Context) error
}

func (m *ExtractionClient) Process(ctx context.Context, jobID uuid.UUID, media io.Reader) (*remote.ExtractionResult, error) {
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, jobID, media)
	}
	return &remote.ExtractionResult{Text: "mock extraction"}, nil
}

func (m *ExtractionClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// TranscriptionClient satisfies remote.TranscriptionClient for testing.
type TranscriptionClient struct {
	TranscribeFunc func(ctx context.Context, jobID uuid.UUID, media io.Reader) (*remote.Transcript, error)
	ReadyFunc      func(ctx context.Context) error
}

func (m *TranscriptionClient) Transcribe(ctx context.Context, jobID uuid.UUID, media io.Reader) (*remote.Transcript, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, jobID, media)
	}
	return &remote.Transcript{Text: "mock transcript"}, nil
}

func (m *TranscriptionClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// StructuringClient satisfies remote.StructuringClient for testing.
type StructuringClient struct {
	StructureFunc func(ctx context.Context, req remote.StructureRequest) (*remote.Notes, error)
	ReadyFunc     func(ctx context.Context) error
}

func (m *StructuringClient) Structure(ctx context.Context, req remote.StructureRequest) (*remote.Notes, error) {
	if m.StructureFunc != nil {
		return m.StructureFunc(ctx, req)
	}
	return &remote.Notes{Summary: "mock summary"}, nil
}

func (m *StructuringClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// QueryClient satisfies remote.QueryClient for testing.
type QueryClient struct {
	AnswerFunc func(ctx context.Context, req remote.QueryRequest) (string, error)
	ReadyFunc  func(ctx context.Context) error
}

func (m *QueryClient) Answer(ctx context.Context, req remote.QueryRequest) (string, error) {
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, req)
	}
	return "mock answer", nil
}

func (m *QueryClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ remote.ExtractionClient    = (*ExtractionClient)(nil)
	_ remote.TranscriptionClient = (*TranscriptionClient)(nil)
	_ remote.StructuringClient   = (*StructuringClient)(nil)
	_ remote.QueryClient         = (*QueryClient)(nil)
)
