package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Artifact kinds. One artifact of each kind may exist per job; writes are
// idempotent overwrites so coordinator retries never create duplicates.
const (
	KindSourceMedia      = "source-media"
	KindExtractionOutput = "extraction-output"
	KindTranscript       = "transcript"
	KindStructuredNotes  = "structured-notes"
)

var ErrNotFound = errors.New("artifact not found")
var ErrUnknownKind = errors.New("unknown artifact kind")

// Store is durable per-job artifact storage. A Get observes either the fully
// written artifact from a prior Put or ErrNotFound, never a truncated one.
type Store interface {
	// Put streams data into the artifact area and returns a stable reference
	// to it. A repeated Put for the same (jobID, kind) overwrites.
	Put(ctx context.Context, jobID uuid.UUID, kind string, r io.Reader) (string, error)
	// Get returns the full artifact contents.
	Get(ctx context.Context, jobID uuid.UUID, kind string) ([]byte, error)
	// Open returns a reader over the artifact for streaming consumers.
	Open(ctx context.Context, jobID uuid.UUID, kind string) (io.ReadCloser, error)
	// Ref returns the stable reference for an existing artifact without
	// reading it, or ErrNotFound if nothing was stored.
	Ref(ctx context.Context, jobID uuid.UUID, kind string) (string, error)
}

// PutJSON marshals v and stores it under (jobID, kind).
func PutJSON(ctx context.Context, s Store, jobID uuid.UUID, kind string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s artifact: %w", kind, err)
	}
	return s.Put(ctx, jobID, kind, bytes.NewReader(data))
}
