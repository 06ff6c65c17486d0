package contracts

import "strings"

// ScopeKey addresses posture and registry resolution:
// (environment, mode, bundle_slot, tenant_id).
type ScopeKey struct {
	Environment string `json:"environment"`
	Mode        string `json:"mode"`
	BundleSlot  string `json:"bundle_slot"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// String renders the canonical pipe-joined key form
// environment|mode|bundle_slot|tenant.
func (k ScopeKey) String() string {
	return strings.Join([]string{k.Environment, k.Mode, k.BundleSlot, k.TenantID}, "|")
}

// BundleRef identifies a versioned model/feature-contract bundle.
type BundleRef struct {
	BundleID    string `json:"bundle_id" yaml:"bundle_id"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	RegistryRef string `json:"registry_ref,omitempty" yaml:"registry_ref,omitempty"`
}

// ResolutionOutcome classifies a registry resolution.
type ResolutionOutcome string

const (
	ResolutionResolved   ResolutionOutcome = "RESOLVED"
	ResolutionFallback   ResolutionOutcome = "FALLBACK"
	ResolutionFailClosed ResolutionOutcome = "FAIL_CLOSED"
)

// ResolvedVia records which tier of the fallback chain produced the bundle.
type ResolvedVia string

const (
	ViaActive            ResolvedVia = "ACTIVE"
	ViaFallbackExplicit  ResolvedVia = "FALLBACK_EXPLICIT"
	ViaFallbackLastKnown ResolvedVia = "FALLBACK_LAST_KNOWN_GOOD"
	ViaNone              ResolvedVia = "NONE"
)

// RegistryResolutionResult is the outcome of resolving a scope key against
// the bundle registry snapshot and policy. BasisDigest is the audit proof of
// exactly what was resolved against: the same basis always resolves
// identically.
type RegistryResolutionResult struct {
	Outcome     ResolutionOutcome `json:"outcome"`
	BundleRef   *BundleRef        `json:"bundle_ref,omitempty"`
	ResolvedVia ResolvedVia       `json:"resolved_via"`
	ReasonCodes []string          `json:"reason_codes,omitempty"`
	BasisDigest string            `json:"basis_digest"`
}
