package posture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPService talks to the posture-serving capability over HTTP.
type HTTPService struct {
	BaseURL string
	Client  *http.Client
}

type httpPostureResponse struct {
	Decision *ServiceDecision `json:"decision,omitempty"`
	Health   *ServiceHealth   `json:"health,omitempty"`
}

// GetPosture implements Service.
func (s *HTTPService) GetPosture(ctx context.Context, req ServiceRequest) (*ServiceDecision, *ServiceHealth, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("posture service: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/posture/get", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("posture service: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("posture service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("posture service: unexpected status %d", resp.StatusCode)
	}
	var out httpPostureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("posture service: decode response: %w", err)
	}
	return out.Decision, out.Health, nil
}
