// Package acquirer orchestrates budget-bounded context acquisition for one
// decision attempt: role readiness, posture enforcement, identity-graph and
// feature-plane calls. The result is always a ContextResult with populated
// evidence, never an error — per-event failures are statuses, not
// exceptions.
package acquirer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/identity"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/posture"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/registry"
)

// Defaults are the policy defaults applied when no registry compatibility
// object narrows the requirements.
type Defaults struct {
	FeatureGroups              []string `yaml:"feature_groups"`
	RequireFeaturePlane        bool     `yaml:"require_feature_plane"`
	RequireIEG                 bool     `yaml:"require_ieg"`
	RequireModelPrimary        bool     `yaml:"require_model_primary"`
	RequireModelStage2         bool     `yaml:"require_model_stage2"`
	RequireActionPostureNormal bool     `yaml:"require_action_posture_normal"`
	GraphResolutionMode        string   `yaml:"graph_resolution_mode"`
}

// Params carries everything one acquisition attempt needs.
type Params struct {
	Candidate     contracts.TriggerCandidate
	Stamp         contracts.PostureStamp
	StartedAt     time.Time
	Now           time.Time
	ContextRefs   map[string]string // role -> externally supplied context ref
	FeatureKeys   []contracts.FeatureKey
	Compatibility *registry.CompatibilityRequirements // optional, from registry
}

// Acquirer acquires decision context under a time budget.
type Acquirer struct {
	features      FeaturePlaneClient
	graph         IdentityGraphClient
	limits        budget.Limits
	requiredRoles []string
	defaults      Defaults
	logger        *slog.Logger
}

// New creates an acquirer. Either client may be nil; a nil client for a
// required capability is a terminal CONTEXT_UNAVAILABLE at acquisition time.
func New(features FeaturePlaneClient, graph IdentityGraphClient, limits budget.Limits, requiredRoles []string, defaults Defaults) *Acquirer {
	return &Acquirer{
		features:      features,
		graph:         graph,
		limits:        limits,
		requiredRoles: requiredRoles,
		defaults:      defaults,
		logger:        slog.Default().With("component", "acquirer"),
	}
}

// Acquire runs the acquisition sequence. In-flight dependency calls are
// awaited to completion; the budget gates whether a call is started, not
// whether it finishes.
func (a *Acquirer) Acquire(ctx context.Context, p Params) contracts.ContextResult {
	snap := budget.Take(p.StartedAt, p.Now, a.limits)
	evidence := contracts.ContextEvidence{
		SourceEBRef: p.Candidate.SourceEBRef,
		ContextRefs: p.ContextRefs,
	}
	result := contracts.ContextResult{Budget: snap, Evidence: evidence}

	if snap.DecisionExpired {
		result.Status = contracts.ContextDeadlineExceeded
		result.ReasonCodes = []string{contracts.ReasonDecisionDeadlineExceeded}
		return result
	}

	if missing := a.missingRoles(p.ContextRefs); len(missing) > 0 {
		if snap.JoinWaitExpired {
			result.Status = contracts.ContextMissing
			for _, role := range missing {
				result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonContextMissingPrefix+role)
			}
			result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonJoinWaitExceeded)
			return result
		}
		result.Status = contracts.ContextWaiting
		for _, role := range missing {
			result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonContextWaitingPrefix+role)
		}
		return result
	}

	requirements, requireFeatures := a.effectiveRequirements(p.Compatibility)
	enforcement := posture.EnforceConstraints(p.Stamp, requirements)
	if enforcement.Blocked {
		result.Status = contracts.ContextBlocked
		result.ReasonCodes = enforcement.ReasonCodes
		return result
	}

	if requirements.RequireIEG {
		status, reason := a.queryGraph(ctx, p.Candidate.Pins.ScenarioRunID)
		if reason != "" {
			result.Status = contracts.ContextUnavailable
			result.ReasonCodes = []string{reason}
			return result
		}
		result.Evidence.GraphVersion = status.GraphVersion
	}

	if requireFeatures {
		return a.acquireFeatures(ctx, p, enforcement.GrantedFeatureGroups, result)
	}

	result.Status = contracts.ContextReady
	return result
}

func (a *Acquirer) missingRoles(refs map[string]string) []string {
	var missing []string
	for _, role := range a.requiredRoles {
		if refs[role] == "" {
			missing = append(missing, role)
		}
	}
	return missing
}

// effectiveRequirements derives what the posture must allow, preferring the
// registry compatibility object over policy defaults.
func (a *Acquirer) effectiveRequirements(compat *registry.CompatibilityRequirements) (posture.Requirements, bool) {
	if compat == nil {
		return posture.Requirements{
			RequireIEG:                 a.defaults.RequireIEG,
			FeatureGroups:              a.defaults.FeatureGroups,
			RequireModelPrimary:        a.defaults.RequireModelPrimary,
			RequireModelStage2:         a.defaults.RequireModelStage2,
			RequireActionPostureNormal: a.defaults.RequireActionPostureNormal,
		}, a.defaults.RequireFeaturePlane
	}

	groups := make([]string, 0, len(compat.FeatureGroupVersions))
	for group := range compat.FeatureGroupVersions {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	return posture.Requirements{
		RequireIEG:                 compat.RequireIEG,
		FeatureGroups:              groups,
		RequireModelPrimary:        compat.RequireModelPrimary,
		RequireModelStage2:         compat.RequireModelStage2,
		RequireFallbackHeuristics:  compat.RequireFallbackHeuristics,
		RequireActionPostureNormal: compat.RequireActionPostureNormal,
	}, len(groups) > 0
}

func (a *Acquirer) queryGraph(ctx context.Context, scenarioRunID string) (*GraphStatus, string) {
	if a.graph == nil {
		return nil, contracts.ReasonIEGNoClient
	}
	status, err := a.graph.Status(ctx, scenarioRunID)
	switch {
	case err != nil:
		a.logger.Warn("identity graph query failed", "scenario_run_id", scenarioRunID, "error", err)
		return nil, contracts.ReasonIEGUnavailable
	case status == nil || status.GraphVersion == "":
		return nil, contracts.ReasonIEGMissingGraphVersion
	case status.HealthState == "RED":
		return nil, contracts.ReasonIEGHealthRed
	}
	return status, ""
}

func (a *Acquirer) acquireFeatures(ctx context.Context, p Params, groups []string, result contracts.ContextResult) contracts.ContextResult {
	keys := normalizeKeys(p.FeatureKeys)
	switch {
	case len(groups) == 0:
		result.Status = contracts.ContextMissing
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonNoFeatureGroups)
		return result
	case len(keys) == 0:
		result.Status = contracts.ContextMissing
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonNoFeatureKeys)
		return result
	case a.features == nil:
		result.Status = contracts.ContextUnavailable
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonFeaturePlaneUnavailable)
		return result
	}

	resp, err := a.features.GetFeatures(ctx, FeatureRequest{
		Pins:                p.Candidate.Pins,
		AsOfTimeUTC:         p.Now.UTC(),
		FeatureKeys:         keys,
		FeatureGroups:       groups,
		GraphResolutionMode: a.defaults.GraphResolutionMode,
		RequestID:           identity.FeatureRequestID(p.Candidate),
	})
	if err != nil || resp == nil || resp.Status != "OK" || resp.Snapshot == nil {
		if err != nil {
			a.logger.Warn("feature plane call failed", "error", err)
		}
		result.Status = contracts.ContextUnavailable
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonFeaturePlaneUnavailable)
		return result
	}

	snapshot := resp.Snapshot
	result.Evidence.FeatureSnapshotHash = snapshot.SnapshotHash
	result.Evidence.EBOffsetBasis = snapshot.EBOffsetBasis
	if result.Evidence.GraphVersion == "" {
		result.Evidence.GraphVersion = snapshot.GraphVersion
	}
	result.FeatureGroupVersions = snapshot.FeatureGroups

	if len(snapshot.Freshness.MissingGroups) > 0 || len(snapshot.Freshness.MissingFeatureKeys) > 0 {
		result.Status = contracts.ContextMissing
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonFeatureFreshnessGap)
		return result
	}

	result.Status = contracts.ContextReady
	return result
}

// normalizeKeys drops empty keys and deduplicates by (key_type, key_id).
func normalizeKeys(keys []contracts.FeatureKey) []contracts.FeatureKey {
	seen := make(map[contracts.FeatureKey]struct{}, len(keys))
	out := make([]contracts.FeatureKey, 0, len(keys))
	for _, k := range keys {
		if k.KeyType == "" || k.KeyID == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
