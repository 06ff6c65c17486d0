// Package registry resolves scope keys to compatible bundle references
// against an immutable policy and snapshot pair. Resolution is pure: the
// same (scope, posture, feature versions, snapshot, policy) basis always
// resolves identically, and the basis digest on every result proves what
// was resolved against.
package registry

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// CompatibilityRequirements are the conditions a bundle imposes on the
// environment before it may be served.
type CompatibilityRequirements struct {
	FeatureGroupVersions       map[string]string `yaml:"feature_group_versions" json:"feature_group_versions"`
	RequireIEG                 bool              `yaml:"require_ieg" json:"require_ieg"`
	RequireModelPrimary        bool              `yaml:"require_model_primary" json:"require_model_primary"`
	RequireModelStage2         bool              `yaml:"require_model_stage2" json:"require_model_stage2"`
	RequireFallbackHeuristics  bool              `yaml:"require_fallback_heuristics" json:"require_fallback_heuristics"`
	RequireActionPostureNormal bool              `yaml:"require_action_posture_normal" json:"require_action_posture_normal"`
}

// BundleRecord is the snapshot entry for one scope.
type BundleRecord struct {
	Active        contracts.BundleRef       `yaml:"active" json:"active"`
	Compatibility CompatibilityRequirements `yaml:"compatibility" json:"compatibility"`
	LastKnownGood *contracts.BundleRef      `yaml:"last_known_good,omitempty" json:"last_known_good,omitempty"`
}

// Snapshot is an immutable view of the bundle registry, keyed by canonical
// scope key. Reloading requires constructing a fresh resolver.
type Snapshot struct {
	SnapshotID string                  `yaml:"snapshot_id" json:"snapshot_id"`
	Records    map[string]BundleRecord `yaml:"records" json:"records"`

	digest string
}

// Digest returns the canonical content digest computed at load time.
func (s *Snapshot) Digest() string { return s.digest }

// Policy is the immutable resolution policy.
type Policy struct {
	PolicyRev             string                         `yaml:"policy_rev" json:"policy_rev"`
	CheckFeatureVersions  bool                           `yaml:"check_feature_versions" json:"check_feature_versions"`
	CheckCapabilities     bool                           `yaml:"check_capabilities" json:"check_capabilities"`
	AllowExplicitFallback bool                           `yaml:"allow_explicit_fallback" json:"allow_explicit_fallback"`
	AllowLastKnownGood    bool                           `yaml:"allow_last_known_good" json:"allow_last_known_good"`
	ExplicitFallbacks     map[string]contracts.BundleRef `yaml:"explicit_fallbacks,omitempty" json:"explicit_fallbacks,omitempty"`

	digest string
}

// Digest returns the canonical content digest computed at load time.
func (p *Policy) Digest() string { return p.digest }

// LoadPolicy reads and validates a policy document. Malformed documents are
// rejected at load time, before any event is processed.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read policy: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("registry: parse policy: %w", err)
	}
	if err := policy.seal(); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (p *Policy) seal() error {
	if p.PolicyRev == "" {
		return fmt.Errorf("registry: policy_rev is required")
	}
	for scope, ref := range p.ExplicitFallbacks {
		if ref.BundleID == "" {
			return fmt.Errorf("registry: explicit fallback for scope %q has empty bundle_id", scope)
		}
	}
	digest, err := canonicalize.CanonicalHash(p)
	if err != nil {
		return fmt.Errorf("registry: policy digest: %w", err)
	}
	p.digest = digest
	return nil
}

// LoadSnapshot reads and validates a snapshot document. Bundle versions must
// parse as semver; unparseable records are configuration errors.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("registry: parse snapshot: %w", err)
	}
	if err := snapshot.seal(); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Snapshot) seal() error {
	if s.SnapshotID == "" {
		return fmt.Errorf("registry: snapshot_id is required")
	}
	for scope, record := range s.Records {
		if record.Active.BundleID == "" {
			return fmt.Errorf("registry: scope %q has no active bundle_id", scope)
		}
		if record.Active.Version != "" {
			if _, err := semver.NewVersion(record.Active.Version); err != nil {
				return fmt.Errorf("registry: scope %q active version %q: %w", scope, record.Active.Version, err)
			}
		}
		if lkg := record.LastKnownGood; lkg != nil && lkg.Version != "" {
			if _, err := semver.NewVersion(lkg.Version); err != nil {
				return fmt.Errorf("registry: scope %q last_known_good version %q: %w", scope, lkg.Version, err)
			}
		}
	}
	digest, err := canonicalize.CanonicalHash(s)
	if err != nil {
		return fmt.Errorf("registry: snapshot digest: %w", err)
	}
	s.digest = digest
	return nil
}

// NewPolicy builds a policy from an in-memory value (tests, embedded
// defaults) and seals its digest.
func NewPolicy(p Policy) (*Policy, error) {
	if err := p.seal(); err != nil {
		return nil, err
	}
	return &p, nil
}

// NewSnapshot builds a snapshot from an in-memory value and seals its digest.
func NewSnapshot(s Snapshot) (*Snapshot, error) {
	if err := s.seal(); err != nil {
		return nil, err
	}
	return &s, nil
}
