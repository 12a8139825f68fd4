package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"veostudio/pkg/httputil"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StitchRequest asks the stitcher to combine scene artifacts in order.
type StitchRequest struct {
	ProjectID    uuid.UUID `json:"projectId"`
	ArtifactURLs []string  `json:"artifactUrls"`
	CallbackURL  string    `json:"callbackUrl"`
}

// StitchClient posts stitch requests with retries.
type StitchClient struct {
	url     string
	timeout time.Duration
	client  *httputil.RetryClient
}

func NewStitchClient(url string, timeout time.Duration, retry httputil.RetryConfig) *StitchClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StitchClient{
		url:     url,
		timeout: timeout,
		client:  httputil.NewRetryClient(&http.Client{Timeout: timeout}, retry),
	}
}

// Stitch delivers req. The stitcher answers asynchronously through the
// callback URL.
func (c *StitchClient) Stitch(ctx context.Context, req StitchRequest) error {
	if c.url == "" {
		return errors.New("stitcher url is not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode stitch request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stitch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stitcher returned status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
