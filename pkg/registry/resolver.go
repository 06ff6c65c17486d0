package registry

import (
	"log/slog"
	"sort"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/posture"
)

// Resolver resolves scope keys against one immutable policy/snapshot pair.
type Resolver struct {
	policy   *Policy
	snapshot *Snapshot
	logger   *slog.Logger
}

// NewResolver creates a resolver. The policy and snapshot are treated as
// immutable for the resolver's lifetime.
func NewResolver(policy *Policy, snapshot *Snapshot) *Resolver {
	return &Resolver{
		policy:   policy,
		snapshot: snapshot,
		logger:   slog.Default().With("component", "registry"),
	}
}

// Resolve evaluates the scope's active bundle for compatibility with the
// caller's feature-group versions and the posture's capability mask, walking
// the fallback chain on any miss. Reason codes accumulate across tiers so
// the final result always explains why a fallback or fail-closed occurred.
func (r *Resolver) Resolve(scope contracts.ScopeKey, stamp contracts.PostureStamp, featureGroupVersions map[string]string) contracts.RegistryResolutionResult {
	key := scope.String()
	basis := r.basisDigest(key, stamp, featureGroupVersions)

	var reasons []string

	record, found := r.snapshot.Records[key]
	if !found {
		reasons = append(reasons, contracts.ReasonScopeNotFound)
	} else {
		reasons = append(reasons, r.compatibilityReasons(record, stamp, featureGroupVersions)...)
		if len(reasons) == 0 {
			active := record.Active
			return contracts.RegistryResolutionResult{
				Outcome:     contracts.ResolutionResolved,
				BundleRef:   &active,
				ResolvedVia: contracts.ViaActive,
				BasisDigest: basis,
			}
		}
	}

	// Fallback chain: explicit per-scope ref, then last-known-good, then
	// fail closed. Explicit always wins over last-known-good.
	if r.policy.AllowExplicitFallback {
		if ref, ok := r.policy.ExplicitFallbacks[key]; ok {
			fallback := ref
			return contracts.RegistryResolutionResult{
				Outcome:     contracts.ResolutionFallback,
				BundleRef:   &fallback,
				ResolvedVia: contracts.ViaFallbackExplicit,
				ReasonCodes: append(reasons, contracts.ReasonFallbackExplicit),
				BasisDigest: basis,
			}
		}
	}
	if r.policy.AllowLastKnownGood && found && record.LastKnownGood != nil {
		lkg := *record.LastKnownGood
		return contracts.RegistryResolutionResult{
			Outcome:     contracts.ResolutionFallback,
			BundleRef:   &lkg,
			ResolvedVia: contracts.ViaFallbackLastKnown,
			ReasonCodes: append(reasons, contracts.ReasonFallbackLastKnownGood),
			BasisDigest: basis,
		}
	}

	r.logger.Warn("registry fail closed", "scope", key, "reasons", reasons)
	return contracts.RegistryResolutionResult{
		Outcome:     contracts.ResolutionFailClosed,
		BundleRef:   nil,
		ResolvedVia: contracts.ViaNone,
		ReasonCodes: append(reasons, contracts.ReasonRegistryFailClosed),
		BasisDigest: basis,
	}
}

// Compatibility returns the active record's compatibility requirements for a
// scope, if the scope exists. The context acquirer uses this to derive its
// effective requirements.
func (r *Resolver) Compatibility(scope contracts.ScopeKey) (CompatibilityRequirements, bool) {
	record, ok := r.snapshot.Records[scope.String()]
	if !ok {
		return CompatibilityRequirements{}, false
	}
	return record.Compatibility, true
}

func (r *Resolver) compatibilityReasons(record BundleRecord, stamp contracts.PostureStamp, versions map[string]string) []string {
	var reasons []string

	if r.policy.CheckFeatureVersions {
		groups := make([]string, 0, len(record.Compatibility.FeatureGroupVersions))
		for group := range record.Compatibility.FeatureGroupVersions {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		for _, group := range groups {
			required := record.Compatibility.FeatureGroupVersions[group]
			got, ok := versions[group]
			switch {
			case !ok:
				reasons = append(reasons, contracts.ReasonFeatureVersionMissingPrefix+group)
			case got != required:
				reasons = append(reasons, contracts.ReasonFeatureVersionMismatchPrefix+group)
			}
		}
	}

	if r.policy.CheckCapabilities {
		enforcement := posture.EnforceConstraints(stamp, posture.Requirements{
			RequireIEG:                 record.Compatibility.RequireIEG,
			RequireModelPrimary:        record.Compatibility.RequireModelPrimary,
			RequireModelStage2:         record.Compatibility.RequireModelStage2,
			RequireFallbackHeuristics:  record.Compatibility.RequireFallbackHeuristics,
			RequireActionPostureNormal: record.Compatibility.RequireActionPostureNormal,
		})
		reasons = append(reasons, enforcement.ReasonCodes...)
	}

	return reasons
}

// basisDigest hashes everything the resolution depended on: scope, posture,
// caller versions, snapshot content, and policy content.
func (r *Resolver) basisDigest(scope string, stamp contracts.PostureStamp, versions map[string]string) string {
	postureDigest, err := canonicalize.CanonicalHash(map[string]any{
		"mode":              stamp.Mode,
		"posture_seq":       stamp.PostureSeq,
		"policy_rev":        stamp.PolicyRev,
		"capabilities_mask": stamp.Capabilities,
	})
	if err != nil {
		postureDigest = ""
	}

	// Canonicalization sorts the version map keys, so the digest is stable
	// regardless of map iteration order.
	digest, err := canonicalize.CanonicalHash(map[string]any{
		"scope":                  scope,
		"posture_digest":         postureDigest,
		"feature_group_versions": versions,
		"snapshot_digest":        r.snapshot.Digest(),
		"policy_digest":          r.policy.Digest(),
	})
	if err != nil {
		return ""
	}
	return digest
}
