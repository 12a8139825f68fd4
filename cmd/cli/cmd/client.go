package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"veostudio/pkg/api"
)

// StudioClient handles API calls to the VeoStudio controller.
type StudioClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewStudioClient creates a new client with the given base URL and token.
func NewStudioClient(baseURL, token string) *StudioClient {
	return &StudioClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a 2xx JSON response into out.
func (c *StudioClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Generate sends POST /scenes/{id}/generate.
func (c *StudioClient) Generate(sceneID string, force bool) (*api.GenerateResponse, error) {
	var result api.GenerateResponse
	err := c.do(http.MethodPost, "/scenes/"+url.PathEscape(sceneID)+"/generate",
		api.GenerateRequest{ForceRegenerate: force}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// BulkGenerate sends POST /scenes/bulk-generate.
func (c *StudioClient) BulkGenerate(sceneIDs []string) (*api.BulkGenerateResponse, error) {
	var result api.BulkGenerateResponse
	if err := c.do(http.MethodPost, "/scenes/bulk-generate", api.BulkGenerateRequest{SceneIDs: sceneIDs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProject sends GET /projects/{id}.
func (c *StudioClient) GetProject(projectID string) (*api.ProjectResponse, error) {
	var result api.ProjectResponse
	if err := c.do(http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance sends GET /credits.
func (c *StudioClient) GetBalance() (*api.BalanceResponse, error) {
	var result api.BalanceResponse
	if err := c.do(http.MethodGet, "/credits", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLedger sends GET /credits/ledger.
func (c *StudioClient) GetLedger(limit, offset int) (*api.LedgerResponse, error) {
	var result api.LedgerResponse
	path := fmt.Sprintf("/credits/ledger?limit=%d&offset=%d", limit, offset)
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
