package posture

import (
	"sync"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// TransitionGuard enforces anti-flap semantics over posture stamps, per
// scope. It holds the last applied stamp for each scope as process-lifetime
// state; construct a fresh guard per process (or per test).
//
// Rules, given the strict mode order NORMAL < DEGRADED_1 < DEGRADED_2 <
// FAIL_CLOSED:
//   - Tightening is always applied immediately.
//   - Same rank is applied only if posture_seq does not decrease.
//   - Relaxing requires a strictly greater posture_seq, and when a hold-down
//     interval is configured, that much wall-clock time since the held
//     stamp's decided_at_utc.
//
// A stale "improvement" therefore can never override a more recent degrade.
type TransitionGuard struct {
	mu               sync.Mutex
	held             map[string]contracts.PostureStamp
	minRelaxInterval time.Duration
}

// NewTransitionGuard creates a guard with the given relax hold-down
// interval. Zero disables the hold-down (sequence guarding still applies).
func NewTransitionGuard(minRelaxInterval time.Duration) *TransitionGuard {
	return &TransitionGuard{
		held:             make(map[string]contracts.PostureStamp),
		minRelaxInterval: minRelaxInterval,
	}
}

// Apply runs the incoming stamp through the guard and returns the stamp that
// is in effect afterwards: the incoming one if the transition was allowed,
// otherwise the held stamp annotated with the blocking reason.
func (g *TransitionGuard) Apply(incoming contracts.PostureStamp) contracts.PostureStamp {
	g.mu.Lock()
	defer g.mu.Unlock()

	held, ok := g.held[incoming.ScopeKey]
	if !ok {
		g.held[incoming.ScopeKey] = incoming
		return incoming
	}

	incomingRank := incoming.Mode.Rank()
	heldRank := held.Mode.Rank()

	switch {
	case incomingRank > heldRank:
		// Tightening is never delayed.
		g.held[incoming.ScopeKey] = incoming
		return incoming

	case incomingRank == heldRank:
		if incoming.PostureSeq < held.PostureSeq {
			return keep(held, contracts.ReasonRelaxBlockedNonMonotonicSeq)
		}
		g.held[incoming.ScopeKey] = incoming
		return incoming

	default: // relaxing
		if incoming.PostureSeq <= held.PostureSeq {
			return keep(held, contracts.ReasonRelaxBlockedNonMonotonicSeq)
		}
		if g.minRelaxInterval > 0 {
			if incoming.DecidedAtUTC.Sub(held.DecidedAtUTC) < g.minRelaxInterval {
				return keep(held, contracts.ReasonRelaxBlockedHoldDown)
			}
		}
		g.held[incoming.ScopeKey] = incoming
		return incoming
	}
}

// Held returns the currently held stamp for a scope, if any.
func (g *TransitionGuard) Held(scope string) (contracts.PostureStamp, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stamp, ok := g.held[scope]
	return stamp, ok
}

func keep(held contracts.PostureStamp, reason string) contracts.PostureStamp {
	kept := held
	kept.ReasonCodes = append(append([]string{}, held.ReasonCodes...), reason)
	return kept
}
