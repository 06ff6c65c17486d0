package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/config"
)

const validProfile = `
log:
  level: info
  format: json
scope:
  environment: prod
  mode: live
  bundle_slot: primary
decision_scope: card_present
producer: decision-core
budget:
  decision_deadline_ms: 5000
  join_wait_budget_ms: 2000
inlet:
  policy:
    admitted_topics: [traffic.card]
    blocked_event_type_prefixes: [decision_, action_]
    schema_allowlist:
      card_auth: ["1.0.0"]
    required_pins: [platform_run_id, scenario_run_id, manifest_fingerprint, parameter_hash, seed, scenario_id]
posture:
  service_url: http://posture:8080
  max_age_seconds: 60
  relax_hold_down_seconds: 60
registry:
  policy_path: /etc/decisioncore/policy.yaml
  snapshot_path: /etc/decisioncore/snapshot.yaml
acquirer:
  feature_plane_url: http://features:8080
  identity_graph_url: http://graph:8080
  required_roles: [arrangement]
  defaults:
    feature_groups: [velocity]
    require_feature_plane: true
    require_ieg: true
    graph_resolution_mode: strict
publisher:
  gate_url: http://gate:8080
  max_attempts: 5
  rate_per_second: 200
  burst: 50
  backoff_base_ms: 50
  backoff_max_ms: 2000
  backoff_factor: 2
  backoff_jitter: 0.2
  timeout_ms: 5000
storage:
  dsn: sqlite:/var/lib/decisioncore/core.db
metrics:
  otlp_endpoint: collector:4317
  service_name: decision-core
worker:
  poll_interval_ms: 100
`

func TestParse_ValidProfile(t *testing.T) {
	profile, err := config.Parse([]byte(validProfile))
	require.NoError(t, err)

	assert.Equal(t, "prod", profile.Scope.Environment)
	assert.Equal(t, int64(2000), profile.Budget.JoinWaitBudgetMs)
	assert.Equal(t, []string{"traffic.card"}, profile.Inlet.Policy.AdmittedTopics)
	assert.Equal(t, 5, profile.Publisher.MaxAttempts)
	assert.NotEmpty(t, profile.Digest())
}

func TestParse_DigestTracksContent(t *testing.T) {
	a, err := config.Parse([]byte(validProfile))
	require.NoError(t, err)
	b, err := config.Parse([]byte(validProfile))
	require.NoError(t, err)
	assert.Equal(t, a.Digest(), b.Digest())

	changed := strings.Replace(validProfile, "max_attempts: 5", "max_attempts: 6", 1)
	c, err := config.Parse([]byte(changed))
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), c.Digest())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := config.Parse([]byte(validProfile + "\nmystery_knob: true\n"))
	assert.ErrorContains(t, err, "parse profile")
}

func TestParse_MissingFields(t *testing.T) {
	cases := map[string]struct {
		from, to string
		wantErr  string
	}{
		"no decision scope": {"decision_scope: card_present", "decision_scope: \"\"", "decision_scope is required"},
		"no gate url":       {"gate_url: http://gate:8080", "gate_url: \"\"", "publisher.gate_url is required"},
		"no dsn":            {"dsn: sqlite:/var/lib/decisioncore/core.db", "dsn: \"\"", "storage.dsn is required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(strings.Replace(validProfile, tc.from, tc.to, 1)))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParse_BudgetAndSchemeRules(t *testing.T) {
	_, err := config.Parse([]byte(strings.Replace(validProfile,
		"join_wait_budget_ms: 2000", "join_wait_budget_ms: 9000", 1)))
	assert.ErrorContains(t, err, "must not exceed")

	_, err = config.Parse([]byte(strings.Replace(validProfile,
		"dsn: sqlite:/var/lib/decisioncore/core.db", "dsn: mysql://nope", 1)))
	assert.ErrorContains(t, err, "sqlite: or postgres://")

	_, err = config.Parse([]byte(strings.Replace(validProfile,
		"backoff_jitter: 0.2", "backoff_jitter: 1.5", 1)))
	assert.ErrorContains(t, err, "backoff_jitter")
}
