// Package identity derives the deterministic hex identifiers used across
// the decision core. All derivations are pure functions over canonicalized
// inputs; re-deriving with the same arguments is guaranteed to produce the
// same identifier, which the replay ledger and checkpoint gate depend on.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// IDLength is the truncated hex length of every derived identifier.
const IDLength = 32

func derive(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// DecisionID derives the decision identifier from the candidate's source
// event, its platform run, the decision scope, the resolved bundle, and the
// origin offset. A nil bundle ref contributes an empty component, so a
// fail-closed resolution still yields a stable id.
func DecisionID(sourceEventID, platformRunID, decisionScope string, bundleRef *contracts.BundleRef, originOffset int64) string {
	bundle := ""
	if bundleRef != nil {
		bundle = bundleRef.BundleID + "@" + bundleRef.Version
	}
	return derive("decision", sourceEventID, platformRunID, decisionScope, bundle, fmt.Sprintf("%d", originOffset))
}

// ActionID derives the identifier of one action intent under a decision.
func ActionID(decisionID string, kind contracts.ActionKind) string {
	return derive("action", decisionID, string(kind))
}

// IdempotencyKey derives the publish idempotency key for an artifact,
// scoped by the source event, the action domain (or decision scope for the
// decision artifact itself), and the platform run.
func IdempotencyKey(sourceEventID, actionDomain, platformRunID string) string {
	return derive("idem", sourceEventID, actionDomain, platformRunID)
}

// ArtifactEventID derives the envelope event_id for a produced artifact.
func ArtifactEventID(sourceEventID, eventType, scope, platformRunID string) string {
	return derive("event", sourceEventID, eventType, scope, platformRunID)
}

// FeatureRequestID derives the deterministic request id sent to the feature
// plane for a candidate, so retried acquisitions hit the same request key.
func FeatureRequestID(c contracts.TriggerCandidate) string {
	return derive("featreq", c.SourceEventID, c.Pins.PlatformRunID, c.PayloadHash)
}

// CheckpointTokenID derives the checkpoint token for one
// (source_event_id, decision_id) pair.
func CheckpointTokenID(sourceEventID, decisionID string) string {
	return derive2(sourceEventID, decisionID)
}

// derive2 is the legacy token derivation: sha256 over "source:decision"
// with no domain prefix, kept stable because token ids are persisted.
func derive2(sourceEventID, decisionID string) string {
	sum := sha256.Sum256([]byte(sourceEventID + ":" + decisionID))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// CollisionKey builds the in-process inlet collision guard key.
func CollisionKey(platformRunID, eventClass, eventID string) string {
	return strings.Join([]string{platformRunID, eventClass, eventID}, "|")
}
