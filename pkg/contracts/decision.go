package contracts

import "time"

// ActionKind is the terminal disposition of a decision.
type ActionKind string

const (
	ActionAllow       ActionKind = "ALLOW"
	ActionStepUp      ActionKind = "STEP_UP"
	ActionQueueReview ActionKind = "QUEUE_REVIEW"
)

// SourceEventRef embeds the admitted source event into a decision payload.
type SourceEventRef struct {
	SourceEventID string `json:"source_event_id"`
	EventClass    string `json:"event_class"`
	PayloadHash   string `json:"payload_hash"`
	SchemaVersion string `json:"schema_version"`
}

// DecisionBody is the verdict triple inside a decision payload.
type DecisionBody struct {
	ActionKind      ActionKind        `json:"action_kind"`
	ContextStatus   ContextStatus     `json:"context_status"`
	RegistryOutcome ResolutionOutcome `json:"registry_outcome"`
}

// DecisionPayload is the canonical decision record. Its decision_id is a
// pure function of (source_event_id, platform_run_id, decision_scope,
// bundle_ref, origin_offset) and is never recomputed from mutable state.
type DecisionPayload struct {
	DecisionID           string         `json:"decision_id"`
	SupersedesDecisionID string         `json:"supersedes_decision_id,omitempty"`
	DecisionScope        string         `json:"decision_scope"`
	BundleRef            *BundleRef     `json:"bundle_ref,omitempty"`
	SnapshotHash         string         `json:"snapshot_hash,omitempty"`
	GraphVersion         string         `json:"graph_version,omitempty"`
	EBOffsetBasis        string         `json:"eb_offset_basis"`
	DegradePosture       Mode           `json:"degrade_posture"`
	Pins                 Pins           `json:"pins"`
	PolicyRev            string         `json:"policy_rev"`
	RunConfigDigest      string         `json:"run_config_digest"`
	SourceEvent          SourceEventRef `json:"source_event"`
	Decision             DecisionBody   `json:"decision"`
	ReasonCodes          []string       `json:"reason_codes,omitempty"`
	RequestedAtUTC       time.Time      `json:"requested_at_utc"`
	DecidedAtUTC         time.Time      `json:"decided_at_utc"`
}

// ActionIntentPayload is one action derived from a decision.
type ActionIntentPayload struct {
	ActionID       string     `json:"action_id"`
	DecisionID     string     `json:"decision_id"`
	ActionKind     ActionKind `json:"action_kind"`
	ActionDomain   string     `json:"action_domain"`
	IdempotencyKey string     `json:"idempotency_key"`
	Pins           Pins       `json:"pins"`
	IssuedAtUTC    time.Time  `json:"issued_at_utc"`
}

// DecisionArtifacts bundles everything synthesized for one candidate: the
// canonical payloads plus their transport envelopes.
type DecisionArtifacts struct {
	Decision         DecisionPayload       `json:"decision"`
	Actions          []ActionIntentPayload `json:"actions,omitempty"`
	DecisionEnvelope EventEnvelope         `json:"decision_envelope"`
	ActionEnvelopes  []EventEnvelope       `json:"action_envelopes,omitempty"`
}
