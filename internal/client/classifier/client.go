package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client calls the external probabilistic claim classifier. Callers own the
// timeout via the injected http.Client; the bridge detector treats any error
// from here as a signal to fall back to its deterministic heuristic.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classifier API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

// Candidate is one claim record submitted for classification.
type Candidate struct {
	ClaimID    string  `json:"claim_id"`
	MerchantID string  `json:"merchant_id"`
	ClaimType  string  `json:"claim_type"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	SKU        string  `json:"sku,omitempty"`
	EventDate  string  `json:"event_date,omitempty"`
}

// Prediction is one classifier verdict. Extra or missing fields in the
// response are tolerated.
type Prediction struct {
	ClaimID     string  `json:"claim_id"`
	Claimable   bool    `json:"claimable"`
	Probability float64 `json:"probability"`
}

type batchRequest struct {
	Claims []Candidate `json:"claims"`
}

type batchResponse struct {
	Predictions  []Prediction   `json:"predictions"`
	BatchMetrics map[string]any `json:"batch_metrics"`
}

// PredictBatch posts a candidate batch to /predict/batch.
func (c *Client) PredictBatch(ctx context.Context, candidates []Candidate) ([]Prediction, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if c == nil || c.host == "" {
		return nil, fmt.Errorf("classifier host is not configured")
	}
	body, err := json.Marshal(batchRequest{Claims: candidates})
	if err != nil {
		return nil, fmt.Errorf("marshal classifier batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/predict/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var parsed batchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	return parsed.Predictions, nil
}
