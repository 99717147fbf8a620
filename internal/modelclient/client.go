// Package modelclient talks to the external face-replication model service:
// the third-party inference backend the SPC calls on a cache miss
// (spec.md §4.4.2 step 3).
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"facecache/internal/cacheerrors"
)

// PredictionStatus mirrors the external service's job lifecycle.
type PredictionStatus string

const (
	StatusStarting   PredictionStatus = "starting"
	StatusProcessing PredictionStatus = "processing"
	StatusSucceeded  PredictionStatus = "succeeded"
	StatusFailed     PredictionStatus = "failed"
	StatusCanceled   PredictionStatus = "canceled"
)

// PredictRequest is the body of the external model's create-prediction call.
type PredictRequest struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
}

// Prediction is the external model's job resource, polled until it leaves
// the in-progress states.
type Prediction struct {
	ID     string           `json:"id"`
	Status PredictionStatus `json:"status"`
	Output interface{}      `json:"output"`
	Error  string           `json:"error"`
}

func (p Prediction) done() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed || p.Status == StatusCanceled
}

// Client is a thin HTTP wrapper over the external model service's
// create/poll REST API, grounded on the teacher's pattern of a single
// http.Client reused across calls with context-scoped timeouts
// (src/fetcher/redis_atom_fetcher.go's timeout-bounded client calls).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	modelID    string
}

func New(httpClient *http.Client, baseURL, apiToken, modelID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, apiToken: apiToken, modelID: modelID}
}

// CreatePrediction submits input and returns the created (still
// in-progress) job.
func (c *Client) CreatePrediction(ctx context.Context, input map[string]interface{}) (Prediction, error) {
	body, err := json.Marshal(PredictRequest{Version: c.modelID, Input: input})
	if err != nil {
		return Prediction{}, cacheerrors.Wrap(cacheerrors.KindModelFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, cacheerrors.Wrap(cacheerrors.KindModelFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	return c.do(req)
}

// GetPrediction polls the job's current state.
func (c *Client) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return Prediction{}, cacheerrors.Wrap(cacheerrors.KindModelFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (Prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, &transientError{cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prediction{}, &transientError{cause: err}
	}

	if resp.StatusCode >= 500 {
		return Prediction{}, &transientError{cause: fmt.Errorf("model service %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		return Prediction{}, cacheerrors.New(cacheerrors.KindModelFailure, fmt.Sprintf("model service %d: %s", resp.StatusCode, raw))
	}

	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return Prediction{}, cacheerrors.Wrap(cacheerrors.KindModelFailure, err)
	}
	return pred, nil
}

// transientError marks a failure as worth retrying (network blip, 5xx);
// Invoke's backoff loop unwraps it to decide whether to retry the whole
// create+poll cycle.
type transientError struct{ cause error }

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }
