// Package webhook contains the clients for the external generation worker
// and the stitcher.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	// ErrTimeout is returned when the worker does not answer in time.
	ErrTimeout = errors.New("worker webhook timed out")

	// ErrRejected is returned for transport failures and non-2xx answers.
	ErrRejected = errors.New("worker webhook rejected the request")
)

// GenerationRequest is the payload sent to the generation worker.
type GenerationRequest struct {
	SceneID           uuid.UUID `json:"sceneId"`
	ProjectID         uuid.UUID `json:"projectId"`
	SceneIndex        int       `json:"sceneIndex"`
	ScriptText        string    `json:"scriptText"`
	CameraMovement    string    `json:"cameraMovement"`
	CameraTier        string    `json:"cameraTier"`
	AudioClipURL      *string   `json:"audioClipUrl,omitempty"`
	CharacterImageURL *string   `json:"characterImageUrl,omitempty"`
	Priority          int       `json:"priority"`
	QueueEntryID      uuid.UUID `json:"queueEntryId"`
	Attempt           int       `json:"attempt"`
	CallbackURL       string    `json:"callbackUrl"`
}

// WorkerClient posts generation requests to the worker webhook.
type WorkerClient struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// NewWorkerClient creates a client with a bounded per-request timeout.
func NewWorkerClient(url string, timeout time.Duration, httpClient *http.Client) *WorkerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WorkerClient{url: url, timeout: timeout, httpClient: httpClient}
}

// Dispatch sends req once. A 2xx answer means the worker accepted it.
func (c *WorkerClient) Dispatch(ctx context.Context, req GenerationRequest) error {
	if c.url == "" {
		return fmt.Errorf("%w: worker webhook url is not configured", ErrRejected)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, readSnippet(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
