// Package inlet filters raw event-bus records into accepted trigger
// candidates or terminal rejection reasons. The gate has no side effects
// beyond its collision guard; durable duplicate detection belongs to the
// replay ledger downstream.
package inlet

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/identity"
)

// BusRecord is one raw record read from the event bus.
type BusRecord struct {
	Topic          string
	Partition      int32
	Offset         int64
	OffsetKind     string
	Payload        []byte
	PublishedAtUTC *time.Time
}

// Policy configures the gate's admission rules. It is validated at load
// time and immutable afterwards.
type Policy struct {
	AdmittedTopics           []string            `yaml:"admitted_topics"`
	BlockedEventTypes        []string            `yaml:"blocked_event_types"`
	BlockedEventTypePrefixes []string            `yaml:"blocked_event_type_prefixes"`
	SchemaAllowlist          map[string][]string `yaml:"schema_allowlist"`
	RequiredPins             []string            `yaml:"required_pins"`
	SeedOptional             bool                `yaml:"seed_optional"`
}

// Result is the terminal outcome of gating one bus record.
type Result struct {
	Accepted     bool
	Duplicate    bool // accepted as a byte-identical repeat; not re-emitted
	Candidate    *contracts.TriggerCandidate
	RejectReason string
	Detail       string
}

// Gate validates and admits bus records.
type Gate struct {
	policy Policy
	guard  CollisionGuard
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewGate creates a gate with the given policy and collision guard.
func NewGate(policy Policy, guard CollisionGuard) *Gate {
	return &Gate{
		policy: policy,
		guard:  guard,
		schema: compileEnvelopeSchema(),
		logger: slog.Default().With("component", "inlet"),
	}
}

// incomingEnvelope mirrors the canonical envelope contract for decoding.
type incomingEnvelope struct {
	EventID             string          `json:"event_id"`
	EventType           string          `json:"event_type"`
	SchemaVersion       string          `json:"schema_version"`
	TsUTC               string          `json:"ts_utc"`
	ManifestFingerprint string          `json:"manifest_fingerprint"`
	ParameterHash       string          `json:"parameter_hash"`
	Seed                string          `json:"seed"`
	ScenarioID          string          `json:"scenario_id"`
	PlatformRunID       string          `json:"platform_run_id"`
	ScenarioRunID       string          `json:"scenario_run_id"`
	Payload             json.RawMessage `json:"payload"`
}

// Admit runs the full admission sequence on one record. Each failing step is
// a terminal rejection.
func (g *Gate) Admit(ctx context.Context, record BusRecord) Result {
	envelopeMap, ok := unwrap(record.Payload)
	if !ok {
		return reject(contracts.ReasonEnvelopeInvalid, "payload is not a JSON envelope")
	}

	if err := g.schema.Validate(envelopeMap); err != nil {
		return reject(contracts.ReasonEnvelopeInvalid, err.Error())
	}

	raw, err := json.Marshal(envelopeMap)
	if err != nil {
		return reject(contracts.ReasonEnvelopeInvalid, err.Error())
	}
	var env incomingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return reject(contracts.ReasonEnvelopeInvalid, err.Error())
	}

	if !contains(g.policy.AdmittedTopics, record.Topic) {
		return reject(contracts.ReasonNonTrafficTopic, record.Topic)
	}

	if contains(g.policy.BlockedEventTypes, env.EventType) {
		return reject(contracts.ReasonLoopPrevention, env.EventType)
	}
	for _, prefix := range g.policy.BlockedEventTypePrefixes {
		if strings.HasPrefix(env.EventType, prefix) {
			return reject(contracts.ReasonLoopPrevention, env.EventType)
		}
	}

	allowed, hasAllowlist := g.policy.SchemaAllowlist[env.EventType]
	if !hasAllowlist || env.SchemaVersion == "" {
		return reject(contracts.ReasonSchemaVersionRequired, env.EventType)
	}
	if !contains(allowed, env.SchemaVersion) {
		return reject(contracts.ReasonSchemaVersionNotAllowed, env.SchemaVersion)
	}

	pins := contracts.Pins{
		PlatformRunID:       env.PlatformRunID,
		ScenarioRunID:       env.ScenarioRunID,
		ManifestFingerprint: env.ManifestFingerprint,
		ParameterHash:       env.ParameterHash,
		Seed:                env.Seed,
		ScenarioID:          env.ScenarioID,
	}
	if missing := g.missingPins(pins); len(missing) > 0 {
		return reject(contracts.ReasonMissingRequiredPins, strings.Join(missing, ","))
	}

	if env.EventID == "" {
		return reject(contracts.ReasonEventIDMissing, "")
	}

	payloadHash, err := payloadHash(env.Payload)
	if err != nil {
		return reject(contracts.ReasonEnvelopeInvalid, err.Error())
	}

	candidate := &contracts.TriggerCandidate{
		SourceEventID: env.EventID,
		EventClass:    env.EventType,
		PayloadHash:   payloadHash,
		SchemaVersion: env.SchemaVersion,
		Pins:          pins,
		Payload:       env.Payload,
		SourceEBRef: contracts.SourceEBRef{
			Topic:      record.Topic,
			Partition:  record.Partition,
			Offset:     record.Offset,
			OffsetKind: record.OffsetKind,
		},
	}

	key := identity.CollisionKey(pins.PlatformRunID, env.EventType, env.EventID)
	prior, existed, err := g.guard.Remember(ctx, key, payloadHash)
	if err != nil {
		// The guard is advisory; the replay ledger still catches duplicates.
		g.logger.Warn("collision guard unavailable", "key", key, "error", err)
	} else if existed {
		if prior == payloadHash {
			return Result{Accepted: true, Duplicate: true, Candidate: candidate}
		}
		return reject(contracts.ReasonPayloadHashMismatch, env.EventID)
	}

	return Result{Accepted: true, Candidate: candidate}
}

func (g *Gate) missingPins(pins contracts.Pins) []string {
	byName := map[string]string{
		"platform_run_id":      pins.PlatformRunID,
		"scenario_run_id":      pins.ScenarioRunID,
		"manifest_fingerprint": pins.ManifestFingerprint,
		"parameter_hash":       pins.ParameterHash,
		"seed":                 pins.Seed,
		"scenario_id":          pins.ScenarioID,
	}
	var missing []string
	for _, name := range g.policy.RequiredPins {
		if name == "seed" && g.policy.SeedOptional {
			continue
		}
		if byName[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// unwrap accepts either {"envelope": {...}} or a flat envelope object.
func unwrap(payload []byte) (map[string]any, bool) {
	var outer map[string]any
	if err := json.Unmarshal(payload, &outer); err != nil {
		return nil, false
	}
	if inner, ok := outer["envelope"].(map[string]any); ok {
		return inner, true
	}
	return outer, true
}

func payloadHash(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return canonicalize.CanonicalHash(nil)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return canonicalize.CanonicalHash(v)
}

func reject(reason, detail string) Result {
	return Result{RejectReason: reason, Detail: detail}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
