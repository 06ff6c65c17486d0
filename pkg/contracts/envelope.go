package contracts

import "time"

// Event types emitted by the decision core.
const (
	EventTypeDecisionResponse = "decision_response"
	EventTypeActionIntent     = "action_intent"
)

// EnvelopeSchemaVersion is the schema version stamped on produced envelopes.
const EnvelopeSchemaVersion = "1.0.0"

// EventEnvelope is the canonical transport envelope accepted by the
// ingestion gate. Every envelope carries the full pin set so downstream
// consumers can attribute it to one deterministic run without joins.
type EventEnvelope struct {
	EventID             string    `json:"event_id"`
	EventType           string    `json:"event_type"`
	SchemaVersion       string    `json:"schema_version"`
	TsUTC               time.Time `json:"ts_utc"`
	ManifestFingerprint string    `json:"manifest_fingerprint"`
	ParameterHash       string    `json:"parameter_hash"`
	Seed                string    `json:"seed,omitempty"`
	ScenarioID          string    `json:"scenario_id"`
	PlatformRunID       string    `json:"platform_run_id"`
	ScenarioRunID       string    `json:"scenario_run_id"`
	Producer            string    `json:"producer"`
	ParentEventID       string    `json:"parent_event_id,omitempty"`
	Payload             any       `json:"payload"`
}

// PublishOutcome is the ingestion gate's verdict on one envelope.
type PublishOutcome string

const (
	PublishAdmit      PublishOutcome = "ADMIT"
	PublishDuplicate  PublishOutcome = "DUPLICATE"
	PublishQuarantine PublishOutcome = "QUARANTINE"
)

// Valid reports whether o is one of the three defined outcomes.
func (o PublishOutcome) Valid() bool {
	switch o {
	case PublishAdmit, PublishDuplicate, PublishQuarantine:
		return true
	}
	return false
}
