package posture

import (
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// Requirements names the capabilities a decision attempt needs from the
// current posture.
type Requirements struct {
	RequireIEG                 bool
	FeatureGroups              []string
	RequireModelPrimary        bool
	RequireModelStage2         bool
	RequireFallbackHeuristics  bool
	RequireActionPostureNormal bool
}

// Enforcement is the result of checking requirements against a stamp's
// capability mask. GrantedFeatureGroups is the intersection of requested and
// allowed groups, so callers only request what is sanctioned.
type Enforcement struct {
	Blocked              bool
	ReasonCodes          []string
	GrantedFeatureGroups []string
}

// EnforceConstraints compares the requirements against the stamp's
// capability mask. Every unmet requirement is enumerated as a
// CAPABILITY_BLOCK:* reason; none are silently dropped.
func EnforceConstraints(stamp contracts.PostureStamp, req Requirements) Enforcement {
	var result Enforcement

	block := func(suffix string) {
		result.Blocked = true
		result.ReasonCodes = append(result.ReasonCodes, contracts.ReasonCapabilityBlockPrefix+suffix)
	}

	if req.RequireIEG && !stamp.Capabilities.AllowIEG {
		block("IEG")
	}
	for _, group := range req.FeatureGroups {
		if stamp.Capabilities.AllowsFeatureGroup(group) {
			result.GrantedFeatureGroups = append(result.GrantedFeatureGroups, group)
		} else {
			block("FEATURE_GROUP:" + group)
		}
	}
	if req.RequireModelPrimary && !stamp.Capabilities.AllowModelPrimary {
		block("MODEL_PRIMARY")
	}
	if req.RequireModelStage2 && !stamp.Capabilities.AllowModelStage2 {
		block("MODEL_STAGE2")
	}
	if req.RequireFallbackHeuristics && !stamp.Capabilities.AllowFallbackHeuristics {
		block("FALLBACK_HEURISTICS")
	}
	if req.RequireActionPostureNormal && stamp.Capabilities.ActionPosture != contracts.ActionPostureNormal {
		block("ACTION_POSTURE")
	}

	return result
}
