package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinical-copilot/backend/pkg/config"
)

// EvaluationClient is the transport-level contract to the external
// content-evaluation service
type EvaluationClient interface {
	Evaluate(ctx context.Context, req Request) (Response, error)
}

// HTTPClient calls the content-evaluation microservice over HTTP.
// Endpoint and credentials come from the explicit configuration object.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPClient creates a client for the content-evaluation service
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	timeout := cfg.Guardrail.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.Guardrail.ServiceURL,
		apiKey:  cfg.Guardrail.APIKey,
	}
}

// Evaluate posts text to the evaluation endpoint and decodes the four
// assessment blocks
func (c *HTTPClient) Evaluate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal evaluation request: %w", err)
	}

	url := c.baseURL + "/v1/evaluate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return Response{}, fmt.Errorf("create evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("evaluation request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("evaluation service returned status %d", httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode evaluation response: %w", err)
	}
	return resp, nil
}
