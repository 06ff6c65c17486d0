// Package config loads and validates the decision core's runtime profile.
// Validation is fail-fast: a malformed profile stops the process before any
// event is read, never mid-stream.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/acquirer"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/inlet"
)

// Profile is the complete runtime configuration document.
type Profile struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Scope struct {
		Environment string `yaml:"environment"`
		Mode        string `yaml:"mode"`
		BundleSlot  string `yaml:"bundle_slot"`
		TenantID    string `yaml:"tenant_id"`
	} `yaml:"scope"`

	DecisionScope string `yaml:"decision_scope"`
	Producer      string `yaml:"producer"`

	Budget struct {
		DecisionDeadlineMs int64 `yaml:"decision_deadline_ms"`
		JoinWaitBudgetMs   int64 `yaml:"join_wait_budget_ms"`
	} `yaml:"budget"`

	Inlet struct {
		Policy         inlet.Policy `yaml:"policy"`
		RedisDSN       string       `yaml:"redis_dsn"`
		GuardTTLSecond int64        `yaml:"guard_ttl_seconds"`
	} `yaml:"inlet"`

	Posture struct {
		ServiceURL           string `yaml:"service_url"`
		MaxAgeSeconds        int64  `yaml:"max_age_seconds"`
		RelaxHoldDownSeconds int64  `yaml:"relax_hold_down_seconds"`
	} `yaml:"posture"`

	Registry struct {
		PolicyPath   string `yaml:"policy_path"`
		SnapshotPath string `yaml:"snapshot_path"`
	} `yaml:"registry"`

	Acquirer struct {
		FeaturePlaneURL  string            `yaml:"feature_plane_url"`
		IdentityGraphURL string            `yaml:"identity_graph_url"`
		RequiredRoles    []string          `yaml:"required_roles"`
		Defaults         acquirer.Defaults `yaml:"defaults"`
	} `yaml:"acquirer"`

	Publisher struct {
		GateURL       string  `yaml:"gate_url"`
		MaxAttempts   int     `yaml:"max_attempts"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		BackoffBaseMs int64   `yaml:"backoff_base_ms"`
		BackoffMaxMs  int64   `yaml:"backoff_max_ms"`
		BackoffFactor float64 `yaml:"backoff_factor"`
		BackoffJitter float64 `yaml:"backoff_jitter"`
		TimeoutMs     int64   `yaml:"timeout_ms"`
	} `yaml:"publisher"`

	Storage struct {
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	Metrics struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		ServiceName  string `yaml:"service_name"`
	} `yaml:"metrics"`

	Worker struct {
		PollIntervalMs int64 `yaml:"poll_interval_ms"`
	} `yaml:"worker"`

	digest string
}

// Digest returns the canonical content digest of the loaded profile. It is
// stamped into every decision as run_config_digest.
func (p *Profile) Digest() string { return p.digest }

// Load reads and validates a profile document. Unknown fields are rejected
// so typos fail loudly instead of silently falling back to defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	return Parse(data)
}

// Parse validates an in-memory profile document.
func Parse(data []byte) (*Profile, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var profile Profile
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}

	profile.digest = canonicalize.HashBytes(data)
	return &profile, nil
}

func (p *Profile) validate() error {
	var problems []string
	missing := func(field string, empty bool) {
		if empty {
			problems = append(problems, field+" is required")
		}
	}

	missing("scope.environment", p.Scope.Environment == "")
	missing("scope.mode", p.Scope.Mode == "")
	missing("scope.bundle_slot", p.Scope.BundleSlot == "")
	missing("decision_scope", p.DecisionScope == "")
	missing("producer", p.Producer == "")
	missing("registry.policy_path", p.Registry.PolicyPath == "")
	missing("registry.snapshot_path", p.Registry.SnapshotPath == "")
	missing("publisher.gate_url", p.Publisher.GateURL == "")
	missing("storage.dsn", p.Storage.DSN == "")
	missing("inlet.policy.admitted_topics", len(p.Inlet.Policy.AdmittedTopics) == 0)
	missing("inlet.policy.schema_allowlist", len(p.Inlet.Policy.SchemaAllowlist) == 0)
	missing("inlet.policy.required_pins", len(p.Inlet.Policy.RequiredPins) == 0)

	if p.Budget.DecisionDeadlineMs <= 0 {
		problems = append(problems, "budget.decision_deadline_ms must be positive")
	}
	if p.Budget.JoinWaitBudgetMs <= 0 {
		problems = append(problems, "budget.join_wait_budget_ms must be positive")
	}
	if p.Budget.JoinWaitBudgetMs > p.Budget.DecisionDeadlineMs {
		problems = append(problems, "budget.join_wait_budget_ms must not exceed budget.decision_deadline_ms")
	}
	if p.Publisher.MaxAttempts < 1 {
		problems = append(problems, "publisher.max_attempts must be at least 1")
	}
	if p.Publisher.BackoffFactor < 1 {
		problems = append(problems, "publisher.backoff_factor must be at least 1")
	}
	if p.Publisher.BackoffJitter < 0 || p.Publisher.BackoffJitter > 1 {
		problems = append(problems, "publisher.backoff_jitter must be within [0, 1]")
	}
	if p.Posture.MaxAgeSeconds <= 0 {
		problems = append(problems, "posture.max_age_seconds must be positive")
	}
	if p.Posture.RelaxHoldDownSeconds < 0 {
		problems = append(problems, "posture.relax_hold_down_seconds must not be negative")
	}
	if !strings.HasPrefix(p.Storage.DSN, "sqlite:") && !strings.HasPrefix(p.Storage.DSN, "postgres://") {
		problems = append(problems, "storage.dsn must use the sqlite: or postgres:// scheme")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid profile: %s", strings.Join(problems, "; "))
	}
	return nil
}
