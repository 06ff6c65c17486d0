// Package synth turns a gated candidate plus its posture, registry, and
// context results into canonical decision artifacts. Synthesis is a pure
// transformation: identical inputs always yield bit-identical payloads and
// identifiers, which is what makes the replay ledger's mismatch detection
// meaningful.
package synth

import (
	"fmt"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/identity"
)

// Inputs is everything synthesis depends on. Nothing else may influence the
// produced artifacts.
type Inputs struct {
	Candidate       contracts.TriggerCandidate
	Stamp           contracts.PostureStamp
	Registry        contracts.RegistryResolutionResult
	Context         contracts.ContextResult
	RunConfigDigest string
	DecisionScope   string
	RequestedAt     time.Time
	DecidedAt       time.Time
	Producer        string
}

// Synthesize builds the decision payload, its action intents, and their
// transport envelopes.
//
// Action kind precedence: a fail-closed bundle resolution always outranks a
// context gap, which always outranks a clean allow. The STEP_UP_ONLY clamp
// applies last and only to ALLOW.
func Synthesize(in Inputs) contracts.DecisionArtifacts {
	actionKind, clamped := selectActionKind(in)

	decisionID := identity.DecisionID(
		in.Candidate.SourceEventID,
		in.Candidate.Pins.PlatformRunID,
		in.DecisionScope,
		in.Registry.BundleRef,
		in.Candidate.SourceEBRef.Offset,
	)

	reasons := unionReasons(in.Stamp.ReasonCodes, in.Registry.ReasonCodes, in.Context.ReasonCodes)
	if clamped {
		reasons = append(reasons, contracts.ReasonActionPostureClamped)
	}

	payload := contracts.DecisionPayload{
		DecisionID:      decisionID,
		DecisionScope:   in.DecisionScope,
		BundleRef:       in.Registry.BundleRef,
		SnapshotHash:    in.Context.Evidence.FeatureSnapshotHash,
		GraphVersion:    in.Context.Evidence.GraphVersion,
		EBOffsetBasis:   offsetBasis(in),
		DegradePosture:  in.Stamp.Mode,
		Pins:            in.Candidate.Pins,
		PolicyRev:       in.Stamp.PolicyRev,
		RunConfigDigest: in.RunConfigDigest,
		SourceEvent: contracts.SourceEventRef{
			SourceEventID: in.Candidate.SourceEventID,
			EventClass:    in.Candidate.EventClass,
			PayloadHash:   in.Candidate.PayloadHash,
			SchemaVersion: in.Candidate.SchemaVersion,
		},
		Decision: contracts.DecisionBody{
			ActionKind:      actionKind,
			ContextStatus:   in.Context.Status,
			RegistryOutcome: in.Registry.Outcome,
		},
		ReasonCodes:    reasons,
		RequestedAtUTC: in.RequestedAt.UTC(),
		DecidedAtUTC:   in.DecidedAt.UTC(),
	}

	artifacts := contracts.DecisionArtifacts{
		Decision:         payload,
		DecisionEnvelope: envelope(in, contracts.EventTypeDecisionResponse, in.DecisionScope, payload),
	}

	// ALLOW needs no enforcement action; STEP_UP and QUEUE_REVIEW each
	// produce one action intent.
	if actionKind != contracts.ActionAllow {
		action := contracts.ActionIntentPayload{
			ActionID:       identity.ActionID(decisionID, actionKind),
			DecisionID:     decisionID,
			ActionKind:     actionKind,
			ActionDomain:   in.DecisionScope,
			IdempotencyKey: identity.IdempotencyKey(in.Candidate.SourceEventID, in.DecisionScope, in.Candidate.Pins.PlatformRunID),
			Pins:           in.Candidate.Pins,
			IssuedAtUTC:    in.DecidedAt.UTC(),
		}
		artifacts.Actions = []contracts.ActionIntentPayload{action}
		artifacts.ActionEnvelopes = []contracts.EventEnvelope{
			envelope(in, contracts.EventTypeActionIntent, action.ActionID, action),
		}
	}

	return artifacts
}

// Correct re-synthesizes a superseding decision for an already-issued one.
// Corrections are new immutable decisions under a correction-scoped id,
// never in-place edits of the original.
func Correct(in Inputs, originalDecisionID, reason string) contracts.DecisionArtifacts {
	corrected := in
	corrected.DecisionScope = fmt.Sprintf("%s:correction:%s", in.DecisionScope, reason)

	artifacts := Synthesize(corrected)
	artifacts.Decision.SupersedesDecisionID = originalDecisionID
	artifacts.Decision.ReasonCodes = append(artifacts.Decision.ReasonCodes,
		contracts.ReasonCorrection,
		contracts.ReasonCorrectionReasonPrefix+reason,
	)
	artifacts.DecisionEnvelope.Payload = artifacts.Decision
	return artifacts
}

func selectActionKind(in Inputs) (contracts.ActionKind, bool) {
	var kind contracts.ActionKind
	switch {
	case in.Registry.Outcome == contracts.ResolutionFailClosed:
		kind = contracts.ActionQueueReview
	case in.Context.Status != contracts.ContextReady:
		kind = contracts.ActionStepUp
	default:
		kind = contracts.ActionAllow
	}

	if kind == contracts.ActionAllow && in.Stamp.Capabilities.ActionPosture == contracts.ActionPostureStepUp {
		return contracts.ActionStepUp, true
	}
	return kind, false
}

// offsetBasis prefers the basis surfaced by context evidence; when no richer
// evidence exists the candidate's own source offset is the basis.
func offsetBasis(in Inputs) string {
	if basis := in.Context.Evidence.EBOffsetBasis; basis != "" {
		return basis
	}
	ref := in.Candidate.SourceEBRef
	return fmt.Sprintf("%s:%d:%d", ref.Topic, ref.Partition, ref.Offset)
}

func envelope(in Inputs, eventType, scope string, payload any) contracts.EventEnvelope {
	return contracts.EventEnvelope{
		EventID:             identity.ArtifactEventID(in.Candidate.SourceEventID, eventType, scope, in.Candidate.Pins.PlatformRunID),
		EventType:           eventType,
		SchemaVersion:       contracts.EnvelopeSchemaVersion,
		TsUTC:               in.DecidedAt.UTC(),
		ManifestFingerprint: in.Candidate.Pins.ManifestFingerprint,
		ParameterHash:       in.Candidate.Pins.ParameterHash,
		Seed:                in.Candidate.Pins.Seed,
		ScenarioID:          in.Candidate.Pins.ScenarioID,
		PlatformRunID:       in.Candidate.Pins.PlatformRunID,
		ScenarioRunID:       in.Candidate.Pins.ScenarioRunID,
		Producer:            in.Producer,
		ParentEventID:       in.Candidate.SourceEventID,
		Payload:             payload,
	}
}

func unionReasons(groups ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, reason := range group {
			if _, dup := seen[reason]; dup {
				continue
			}
			seen[reason] = struct{}{}
			out = append(out, reason)
		}
	}
	return out
}
