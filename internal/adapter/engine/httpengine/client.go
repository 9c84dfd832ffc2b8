// Package httpengine implements C5's EngineClient port against the local
// inference engine's HTTP API running on the worker host, grounded in the
// original adapter's calls to the ComfyUI unified API on localhost:8000.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// Client speaks the engine's submit/poll HTTP contract.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (typically http://localhost:8000).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type submitRequest struct {
	JobType string          `json:"job_type"`
	Params  json.RawMessage `json:"params"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit posts the job to the engine and returns its engine-assigned id.
func (c *Client) Submit(ctx context.Context, jobType string, body json.RawMessage) (string, error) {
	payload, err := json.Marshal(submitRequest{JobType: jobType, Params: body})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit to engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("engine submit returned %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return out.JobID, nil
}

type pollResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// Poll reports the engine's current state for engineJobID. A non-terminal
// status yields Done=false; the caller is expected to call again later.
func (c *Client) Poll(ctx context.Context, engineJobID string) (domain.EngineResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+engineJobID, nil)
	if err != nil {
		return domain.EngineResult{}, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.EngineResult{}, fmt.Errorf("poll engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.EngineResult{}, fmt.Errorf("engine poll returned %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.EngineResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	switch out.Status {
	case "completed":
		return domain.EngineResult{Done: true, Succeeded: true, ResultURL: out.ResultURL}, nil
	case "failed":
		return domain.EngineResult{Done: true, Succeeded: false, Error: out.Error}, nil
	default:
		return domain.EngineResult{Done: false}, nil
	}
}
