package contracts

import "time"

// Mode is the platform-wide degrade posture. Modes form a strict total
// order: NORMAL < DEGRADED_1 < DEGRADED_2 < FAIL_CLOSED.
type Mode string

const (
	ModeNormal     Mode = "NORMAL"
	ModeDegraded1  Mode = "DEGRADED_1"
	ModeDegraded2  Mode = "DEGRADED_2"
	ModeFailClosed Mode = "FAIL_CLOSED"
)

// Rank returns the position of the mode in the total order. Unknown modes
// rank as FAIL_CLOSED so an unparseable posture can never relax a held one.
func (m Mode) Rank() int {
	switch m {
	case ModeNormal:
		return 0
	case ModeDegraded1:
		return 1
	case ModeDegraded2:
		return 2
	case ModeFailClosed:
		return 3
	default:
		return 3
	}
}

// Known reports whether m is one of the four defined modes.
func (m Mode) Known() bool {
	switch m {
	case ModeNormal, ModeDegraded1, ModeDegraded2, ModeFailClosed:
		return true
	}
	return false
}

// ActionPosture constrains which action kinds a decision may emit.
type ActionPosture string

const (
	ActionPostureNormal ActionPosture = "NORMAL"
	ActionPostureStepUp ActionPosture = "STEP_UP_ONLY"
)

// CapabilitiesMask enumerates what a posture permits a decision to use.
type CapabilitiesMask struct {
	AllowIEG                bool          `json:"allow_ieg"`
	AllowedFeatureGroups    []string      `json:"allowed_feature_groups"`
	AllowModelPrimary       bool          `json:"allow_model_primary"`
	AllowModelStage2        bool          `json:"allow_model_stage2"`
	AllowFallbackHeuristics bool          `json:"allow_fallback_heuristics"`
	ActionPosture           ActionPosture `json:"action_posture"`
}

// AllowsFeatureGroup reports whether the mask sanctions the named group.
func (c CapabilitiesMask) AllowsFeatureGroup(group string) bool {
	for _, g := range c.AllowedFeatureGroups {
		if g == group {
			return true
		}
	}
	return false
}

// PostureStamp is one resolved posture for a scope. PostureSeq is
// monotonically non-decreasing per scope in any stamp that is applied.
type PostureStamp struct {
	ScopeKey     string           `json:"scope_key"`
	Mode         Mode             `json:"mode"`
	Capabilities CapabilitiesMask `json:"capabilities_mask"`
	PolicyRev    string           `json:"policy_rev"`
	PostureSeq   int64            `json:"posture_seq"`
	DecidedAtUTC time.Time        `json:"decided_at_utc"`
	ReasonCodes  []string         `json:"reason_codes,omitempty"`
}
