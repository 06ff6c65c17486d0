package contracts

// Reason codes attached to per-event results. Prefixed codes take a suffix
// naming the specific capability, role, or cause.
const (
	// Inlet gate rejections.
	ReasonEnvelopeInvalid         = "ENVELOPE_INVALID"
	ReasonNonTrafficTopic         = "NON_TRAFFIC_TOPIC"
	ReasonLoopPrevention          = "LOOP_PREVENTION"
	ReasonSchemaVersionRequired   = "SCHEMA_VERSION_REQUIRED"
	ReasonSchemaVersionNotAllowed = "SCHEMA_VERSION_NOT_ALLOWED"
	ReasonMissingRequiredPins     = "MISSING_REQUIRED_PINS"
	ReasonEventIDMissing          = "EVENT_ID_MISSING"
	ReasonPayloadHashMismatch     = "PAYLOAD_HASH_MISMATCH"

	// Posture resolution and anti-flap guarding.
	ReasonPostureInvalidPrefix        = "DL_POSTURE_INVALID:"
	ReasonRelaxBlockedNonMonotonicSeq = "RELAX_BLOCKED_NON_MONOTONIC_SEQ"
	ReasonRelaxBlockedHoldDown        = "RELAX_BLOCKED_HOLD_DOWN"
	ReasonCapabilityBlockPrefix       = "CAPABILITY_BLOCK:"

	// Registry resolution.
	ReasonScopeNotFound                = "SCOPE_NOT_FOUND"
	ReasonFeatureVersionMissingPrefix  = "FEATURE_VERSION_MISSING:"
	ReasonFeatureVersionMismatchPrefix = "FEATURE_VERSION_MISMATCH:"
	ReasonFallbackExplicit             = "FALLBACK_EXPLICIT"
	ReasonFallbackLastKnownGood        = "FALLBACK_LAST_KNOWN_GOOD"
	ReasonRegistryFailClosed           = "REGISTRY_FAIL_CLOSED"

	// Context acquisition.
	ReasonContextMissingPrefix     = "CONTEXT_MISSING:"
	ReasonContextWaitingPrefix     = "CONTEXT_WAITING:"
	ReasonJoinWaitExceeded         = "JOIN_WAIT_EXCEEDED"
	ReasonDecisionDeadlineExceeded = "DECISION_DEADLINE_EXCEEDED"
	ReasonIEGUnavailable           = "IEG_UNAVAILABLE"
	ReasonIEGNoClient              = "IEG_NO_CLIENT"
	ReasonIEGHealthRed             = "IEG_HEALTH_RED"
	ReasonIEGMissingGraphVersion   = "IEG_MISSING_GRAPH_VERSION"
	ReasonFeaturePlaneUnavailable  = "FEATURE_PLANE_UNAVAILABLE"
	ReasonNoFeatureGroups          = "NO_RESOLVED_FEATURE_GROUPS"
	ReasonNoFeatureKeys            = "NO_FEATURE_KEYS"
	ReasonFeatureFreshnessGap      = "FEATURE_FRESHNESS_GAP"

	// Synthesis.
	ReasonActionPostureClamped   = "ACTION_POSTURE_CLAMPED"
	ReasonCorrection             = "CORRECTION"
	ReasonCorrectionReasonPrefix = "CORRECTION_REASON:"
)

// Checkpoint block reasons, evaluated in strict order by the gate.
const (
	BlockLedgerNotCommitted    = "LEDGER_NOT_COMMITTED"
	BlockPublishNotRecorded    = "PUBLISH_NOT_RECORDED"
	BlockPublishHalted         = "PUBLISH_HALTED"
	BlockDecisionQuarantined   = "DECISION_QUARANTINED"
	BlockActionQuarantined     = "ACTION_QUARANTINED"
	BlockPublishDecisionUnsafe = "PUBLISH_DECISION_UNSAFE"
)
