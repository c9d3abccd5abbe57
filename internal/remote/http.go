package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type baseClient struct {
	baseURL string
	client  *http.Client
}

func newBaseClient(baseURL string, timeout time.Duration) baseClient {
	return baseClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ready probes the service root. Used by the health endpoint.
func (c *baseClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: not ready (status %d)", ErrServiceUnreachable, resp.StatusCode)
	}
	return nil
}

// postJSON sends payload as a JSON body and decodes the response into out.
func (c *baseClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// postMedia streams media as a multipart upload so large videos are never
// buffered wholesale in memory.
func (c *baseClient) postMedia(ctx context.Context, path string, jobID uuid.UUID, media io.Reader, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("job_id", jobID.String()); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("video", "video.mp4")
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, media); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, out)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *baseClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%w: status %d: %s", ErrServiceFailed, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%w: status %d", ErrServiceFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding body: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
}

// --- Extraction ---

// ExtractionHTTPClient implements ExtractionClient over the service's HTTP API.
type ExtractionHTTPClient struct {
	baseClient
}

func NewExtractionClient(baseURL string, timeout time.Duration) *ExtractionHTTPClient {
	return &ExtractionHTTPClient{newBaseClient(baseURL, timeout)}
}

func (c *ExtractionHTTPClient) Process(ctx context.Context, jobID uuid.UUID, media io.Reader) (*ExtractionResult, error) {
	var out ExtractionResult
	if err := c.postMedia(ctx, "/process", jobID, media, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Transcription ---

// TranscriptionHTTPClient implements TranscriptionClient over the service's HTTP API.
type TranscriptionHTTPClient struct {
	baseClient
}

func NewTranscriptionClient(baseURL string, timeout time.Duration) *TranscriptionHTTPClient {
	return &TranscriptionHTTPClient{newBaseClient(baseURL, timeout)}
}

func (c *TranscriptionHTTPClient) Transcribe(ctx context.Context, jobID uuid.UUID, media io.Reader) (*Transcript, error) {
	var out Transcript
	if err := c.postMedia(ctx, "/transcribe", jobID, media, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Structuring ---

// StructuringHTTPClient implements StructuringClient over the service's HTTP API.
type StructuringHTTPClient struct {
	baseClient
}

func NewStructuringClient(baseURL string, timeout time.Duration) *StructuringHTTPClient {
	return &StructuringHTTPClient{newBaseClient(baseURL, timeout)}
}

func (c *StructuringHTTPClient) Structure(ctx context.Context, req StructureRequest) (*Notes, error) {
	var out Notes
	if err := c.postJSON(ctx, "/process", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Query ---

// QueryHTTPClient answers questions via the structuring service's chat endpoint.
type QueryHTTPClient struct {
	baseClient
}

func NewQueryClient(baseURL string, timeout time.Duration) *QueryHTTPClient {
	return &QueryHTTPClient{newBaseClient(baseURL, timeout)}
}

func (c *QueryHTTPClient) Answer(ctx context.Context, req QueryRequest) (string, error) {
	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.postJSON(ctx, "/chat", req, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

// Compile-time interface checks.
var (
	_ ExtractionClient    = (*ExtractionHTTPClient)(nil)
	_ TranscriptionClient = (*TranscriptionHTTPClient)(nil)
	_ StructuringClient   = (*StructuringHTTPClient)(nil)
	_ QueryClient         = (*QueryHTTPClient)(nil)
)
