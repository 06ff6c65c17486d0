package acquirer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// FeatureRequest is the query sent to the online feature plane.
type FeatureRequest struct {
	Pins                contracts.Pins         `json:"pins"`
	AsOfTimeUTC         time.Time              `json:"as_of_time_utc"`
	FeatureKeys         []contracts.FeatureKey `json:"feature_keys"`
	FeatureGroups       []string               `json:"feature_groups"`
	GraphResolutionMode string                 `json:"graph_resolution_mode"`
	RequestID           string                 `json:"request_id"`
}

// Freshness reports gaps between what was requested and what the feature
// plane could serve.
type Freshness struct {
	MissingGroups      []string               `json:"missing_groups,omitempty"`
	MissingFeatureKeys []contracts.FeatureKey `json:"missing_feature_keys,omitempty"`
}

// FeatureSnapshot is the served feature state for one request.
type FeatureSnapshot struct {
	SnapshotHash  string            `json:"snapshot_hash"`
	EBOffsetBasis string            `json:"eb_offset_basis"`
	GraphVersion  string            `json:"graph_version"`
	FeatureGroups map[string]string `json:"feature_groups"`
	Freshness     Freshness         `json:"freshness"`
}

// FeatureResponse is the feature plane's reply.
type FeatureResponse struct {
	Status   string           `json:"status"`
	Snapshot *FeatureSnapshot `json:"snapshot,omitempty"`
}

// FeaturePlaneClient is the online feature-serving capability.
type FeaturePlaneClient interface {
	GetFeatures(ctx context.Context, req FeatureRequest) (*FeatureResponse, error)
}

// GraphStatus is the identity-graph service's status for a scenario run.
type GraphStatus struct {
	GraphVersion string `json:"graph_version"`
	HealthState  string `json:"health_state"`
}

// IdentityGraphClient is the identity-graph query capability.
type IdentityGraphClient interface {
	Status(ctx context.Context, scenarioRunID string) (*GraphStatus, error)
}

// HTTPFeaturePlaneClient talks to the feature plane over HTTP.
type HTTPFeaturePlaneClient struct {
	BaseURL string
	Client  *http.Client
}

// GetFeatures implements FeaturePlaneClient.
func (c *HTTPFeaturePlaneClient) GetFeatures(ctx context.Context, req FeatureRequest) (*FeatureResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("feature plane: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/features/get", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feature plane: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("feature plane: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feature plane: unexpected status %d", resp.StatusCode)
	}
	var out FeatureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("feature plane: decode response: %w", err)
	}
	return &out, nil
}

func (c *HTTPFeaturePlaneClient) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// HTTPIdentityGraphClient talks to the identity-graph query service.
type HTTPIdentityGraphClient struct {
	BaseURL string
	Client  *http.Client
}

// Status implements IdentityGraphClient.
func (c *HTTPIdentityGraphClient) Status(ctx context.Context, scenarioRunID string) (*GraphStatus, error) {
	url := fmt.Sprintf("%s/v1/graph/status?scenario_run_id=%s", c.BaseURL, scenarioRunID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("identity graph: build request: %w", err)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("identity graph: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity graph: unexpected status %d", resp.StatusCode)
	}
	var out GraphStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("identity graph: decode response: %w", err)
	}
	return &out, nil
}
