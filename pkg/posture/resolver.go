// Package posture wraps the external degrade-ladder serving capability and
// adds the guarantees the decision core needs from it: any result the core
// does not understand becomes a synthetic fail-closed stamp, and a per-scope
// transition guard prevents posture flapping.
package posture

import (
	"context"
	"log/slog"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// ServiceRequest is the query sent to the posture-serving capability.
type ServiceRequest struct {
	ScopeKey          string    `json:"scope_key"`
	DecisionTimeUTC   time.Time `json:"decision_time_utc"`
	MaxAgeSeconds     int64     `json:"max_age_seconds"`
	PolicyOK          bool      `json:"policy_ok"`
	RequiredSignalsOK bool      `json:"required_signals_ok"`
	StoreOK           bool      `json:"store_ok"`
	ServeOK           bool      `json:"serve_ok"`
	ControlPublishOK  bool      `json:"control_publish_ok"`
	ReasonCodes       []string  `json:"reason_codes,omitempty"`
}

// ServiceDecision is the posture payload returned by the serving capability.
type ServiceDecision struct {
	Mode         string                     `json:"mode"`
	Capabilities contracts.CapabilitiesMask `json:"capabilities_mask"`
	PolicyRev    string                     `json:"policy_rev"`
	PostureSeq   int64                      `json:"posture_seq"`
	DecidedAtUTC time.Time                  `json:"decided_at_utc"`
}

// ServiceHealth reports the serving capability's own health.
type ServiceHealth struct {
	State string `json:"state"` // GREEN | AMBER | RED
}

// Service is the external posture-serving capability.
type Service interface {
	GetPosture(ctx context.Context, req ServiceRequest) (*ServiceDecision, *ServiceHealth, error)
}

// Resolver resolves posture stamps for scopes and guards their transitions.
type Resolver struct {
	service Service
	guard   *TransitionGuard
	maxAge  int64
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given serving capability.
func NewResolver(service Service, guard *TransitionGuard, maxAgeSeconds int64) *Resolver {
	return &Resolver{
		service: service,
		guard:   guard,
		maxAge:  maxAgeSeconds,
		logger:  slog.Default().With("component", "posture"),
	}
}

// Resolve fetches the current posture for scope and runs it through the
// transition guard. Any transport failure or non-understood result yields a
// fail-closed stamp; Resolve never returns an error for those paths.
func (r *Resolver) Resolve(ctx context.Context, scope string, decisionTime time.Time) contracts.PostureStamp {
	stamp := r.fetch(ctx, scope, decisionTime)
	return r.guard.Apply(stamp)
}

func (r *Resolver) fetch(ctx context.Context, scope string, decisionTime time.Time) contracts.PostureStamp {
	if r.service == nil {
		return FailClosedStamp(scope, decisionTime, "NO_SERVICE")
	}

	decision, health, err := r.service.GetPosture(ctx, ServiceRequest{
		ScopeKey:        scope,
		DecisionTimeUTC: decisionTime.UTC(),
		MaxAgeSeconds:   r.maxAge,
	})
	switch {
	case err != nil:
		r.logger.Warn("posture fetch failed", "scope", scope, "error", err)
		return FailClosedStamp(scope, decisionTime, "FETCH_ERROR")
	case decision == nil:
		return FailClosedStamp(scope, decisionTime, "EMPTY_DECISION")
	case health != nil && health.State == "RED":
		return FailClosedStamp(scope, decisionTime, "HEALTH_RED")
	case !contracts.Mode(decision.Mode).Known():
		return FailClosedStamp(scope, decisionTime, "UNKNOWN_MODE")
	case decision.PostureSeq < 0:
		return FailClosedStamp(scope, decisionTime, "NEGATIVE_SEQ")
	}

	decidedAt := decision.DecidedAtUTC
	if decidedAt.IsZero() {
		decidedAt = decisionTime
	}
	return contracts.PostureStamp{
		ScopeKey:     scope,
		Mode:         contracts.Mode(decision.Mode),
		Capabilities: decision.Capabilities,
		PolicyRev:    decision.PolicyRev,
		PostureSeq:   decision.PostureSeq,
		DecidedAtUTC: decidedAt.UTC(),
	}
}

// FailClosedStamp synthesizes the stamp used when a posture result cannot be
// trusted: everything off except fallback heuristics, step-up only.
func FailClosedStamp(scope string, decisionTime time.Time, cause string) contracts.PostureStamp {
	return contracts.PostureStamp{
		ScopeKey: scope,
		Mode:     contracts.ModeFailClosed,
		Capabilities: contracts.CapabilitiesMask{
			AllowIEG:                false,
			AllowedFeatureGroups:    nil,
			AllowModelPrimary:       false,
			AllowModelStage2:        false,
			AllowFallbackHeuristics: true,
			ActionPosture:           contracts.ActionPostureStepUp,
		},
		PostureSeq:   0,
		DecidedAtUTC: decisionTime.UTC(),
		ReasonCodes:  []string{contracts.ReasonPostureInvalidPrefix + cause},
	}
}
