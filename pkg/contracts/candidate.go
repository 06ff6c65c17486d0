// Package contracts holds the shared immutable data types exchanged between
// the stages of the decision core: trigger candidates, posture stamps,
// registry resolutions, context results, decision artifacts, and the event
// envelope published to the ingestion gate.
package contracts

import "encoding/json"

// Pins are the immutable identifiers scoping every artifact to one
// deterministic platform run. They are carried verbatim from the source
// event into every derived payload.
type Pins struct {
	PlatformRunID       string `json:"platform_run_id"`
	ScenarioRunID       string `json:"scenario_run_id"`
	ManifestFingerprint string `json:"manifest_fingerprint"`
	ParameterHash       string `json:"parameter_hash"`
	Seed                string `json:"seed,omitempty"`
	ScenarioID          string `json:"scenario_id"`
}

// SourceEBRef locates the event-bus record a candidate was admitted from.
type SourceEBRef struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	Offset     int64  `json:"offset"`
	OffsetKind string `json:"offset_kind"`
}

// TriggerCandidate is an admitted traffic event. Created once by the inlet
// gate and never mutated afterwards. Payload carries the raw business
// payload for context extraction; PayloadHash is its canonical digest and is
// what all derived identifiers hash over.
type TriggerCandidate struct {
	SourceEventID string          `json:"source_event_id"`
	EventClass    string          `json:"event_class"`
	PayloadHash   string          `json:"payload_hash"`
	SchemaVersion string          `json:"schema_version"`
	Pins          Pins            `json:"pins"`
	SourceEBRef   SourceEBRef     `json:"source_eb_ref"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
