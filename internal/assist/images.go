package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"veostudio/pkg/httputil"
)

// ErrImageFailed is returned when the image provider reports a failed or
// unfinished prediction.
var ErrImageFailed = errors.New("image generation failed")

// ImageRequest describes a still to render.
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// ImageClient talks to a prediction-style image API: a POST creates a
// prediction which is then polled until it succeeds or fails.
type ImageClient struct {
	baseURL      string
	token        string
	client       *http.Client
	poller       *httputil.RetryClient
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewImageClient(baseURL, token string, httpClient *http.Client) *ImageClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		client:       httpClient,
		poller:       httputil.NewRetryClient(httpClient, httputil.DefaultRetryConfig()),
		pollInterval: 2 * time.Second,
		pollTimeout:  60 * time.Second,
	}
}

// Generate creates a prediction and waits for its first output URL.
func (c *ImageClient) Generate(ctx context.Context, req ImageRequest) (string, error) {
	body, err := json.Marshal(map[string]ImageRequest{"input": req})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Creating a prediction is not idempotent, so it is sent once.
	p, err := c.create(httpReq)
	if err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch p.Status {
		case "succeeded":
			return firstOutput(p.Output)
		case "failed", "canceled":
			return "", fmt.Errorf("%w: %s", ErrImageFailed, p.Error)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: prediction %s did not finish: %v", ErrImageFailed, p.ID, ctx.Err())
		case <-ticker.C:
		}

		getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+p.ID, nil)
		if err != nil {
			return "", err
		}
		next, err := c.poll(getReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: prediction %s did not finish: %v", ErrImageFailed, p.ID, ctx.Err())
			}
			return "", fmt.Errorf("poll prediction: %w", err)
		}
		p = next
	}
}

func (c *ImageClient) create(req *http.Request) (*prediction, error) {
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	return decodePrediction(resp)
}

func (c *ImageClient) poll(req *http.Request) (*prediction, error) {
	c.authorize(req)
	resp, err := c.poller.Do(req)
	if err != nil {
		return nil, err
	}
	return decodePrediction(resp)
}

func (c *ImageClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodePrediction(resp *http.Response) (*prediction, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return &p, nil
}

// firstOutput accepts either a single URL or a list of URLs.
func firstOutput(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", fmt.Errorf("%w: prediction has no output", ErrImageFailed)
}
