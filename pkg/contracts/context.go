package contracts

import (
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
)

// ContextStatus classifies context acquisition for one decision attempt.
type ContextStatus string

const (
	ContextReady            ContextStatus = "CONTEXT_READY"
	ContextWaiting          ContextStatus = "CONTEXT_WAITING"
	ContextMissing          ContextStatus = "CONTEXT_MISSING"
	ContextBlocked          ContextStatus = "CONTEXT_BLOCKED"
	ContextUnavailable      ContextStatus = "CONTEXT_UNAVAILABLE"
	ContextDeadlineExceeded ContextStatus = "DECISION_DEADLINE_EXCEEDED"
)

// FeatureKey is a single normalized feature lookup key.
type FeatureKey struct {
	KeyType string `json:"key_type"`
	KeyID   string `json:"key_id"`
}

// ContextEvidence records what was actually observed during acquisition.
// It is populated on every path, success or failure, so partial progress is
// auditable; its digest is embedded in the decision payload.
type ContextEvidence struct {
	SourceEBRef         SourceEBRef       `json:"source_eb_ref"`
	ContextRefs         map[string]string `json:"context_refs,omitempty"`
	FeatureSnapshotHash string            `json:"feature_snapshot_hash,omitempty"`
	GraphVersion        string            `json:"graph_version,omitempty"`
	EBOffsetBasis       string            `json:"eb_offset_basis,omitempty"`
}

// ContextResult is the single output of the context acquirer.
type ContextResult struct {
	Status               ContextStatus     `json:"status"`
	Budget               budget.Snapshot   `json:"budget"`
	Evidence             ContextEvidence   `json:"evidence"`
	FeatureGroupVersions map[string]string `json:"feature_group_versions,omitempty"`
	ReasonCodes          []string          `json:"reason_codes,omitempty"`
}
