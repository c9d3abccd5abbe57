package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Per-kind file names inside a job's directory.
var kindFiles = map[string]string{
	KindSourceMedia:      "video.mp4",
	KindExtractionOutput: "extraction.json",
	KindTranscript:       "transcript.json",
	KindStructuredNotes:  "notes.json",
}

// FSStore stores artifacts on the local filesystem under
// <root>/job_<id>/<file>. Writes go to a temp file in the same directory and
// are renamed into place, so readers never see a partial artifact.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) jobDir(jobID uuid.UUID) string {
	return filepath.Join(s.root, "job_"+jobID.String())
}

func (s *FSStore) path(jobID uuid.UUID, kind string) (string, error) {
	name, ok := kindFiles[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return filepath.Join(s.jobDir(jobID), name), nil
}

func (s *FSStore) Put(_ context.Context, jobID uuid.UUID, kind string, r io.Reader) (string, error) {
	dest, err := s.path(jobID, kind)
	if err != nil {
		return "", err
	}

	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+kind+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return dest, nil
}

func (s *FSStore) Get(_ context.Context, jobID uuid.UUID, kind string) ([]byte, error) {
	p, err := s.path(jobID, kind)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *FSStore) Open(_ context.Context, jobID uuid.UUID, kind string) (io.ReadCloser, error) {
	p, err := s.path(jobID, kind)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

func (s *FSStore) Ref(_ context.Context, jobID uuid.UUID, kind string) (string, error) {
	p, err := s.path(jobID, kind)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return p, nil
}

// Compile-time check that FSStore implements Store.
var _ Store = (*FSStore)(nil)
