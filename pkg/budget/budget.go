// Package budget tracks per-decision time budgets with fail-closed behavior.
// Budgets are evaluated by wall-clock comparison; once the decision deadline
// is exceeded no further dependency calls are made, but a degraded decision
// is still synthesized downstream.
package budget

import "time"

// Limits holds the configured deadlines for one decision attempt.
type Limits struct {
	DecisionDeadlineMs int64 `json:"decision_deadline_ms" yaml:"decision_deadline_ms"`
	JoinWaitBudgetMs   int64 `json:"join_wait_budget_ms" yaml:"join_wait_budget_ms"`
}

// Snapshot is a point-in-time view of the remaining budget.
type Snapshot struct {
	StartedAtUTC        time.Time `json:"started_at_utc"`
	ObservedAtUTC       time.Time `json:"observed_at_utc"`
	ElapsedMs           int64     `json:"elapsed_ms"`
	DecisionDeadlineMs  int64     `json:"decision_deadline_ms"`
	DecisionRemainingMs int64     `json:"decision_remaining_ms"`
	JoinWaitBudgetMs    int64     `json:"join_wait_budget_ms"`
	JoinWaitRemainingMs int64     `json:"join_wait_remaining_ms"`
	DecisionExpired     bool      `json:"decision_expired"`
	JoinWaitExpired     bool      `json:"join_wait_expired"`
}

// Take computes a budget snapshot for a decision started at started,
// observed at now. Remaining values clamp at zero.
func Take(started, now time.Time, limits Limits) Snapshot {
	elapsed := now.Sub(started).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	decisionRemaining := limits.DecisionDeadlineMs - elapsed
	if decisionRemaining < 0 {
		decisionRemaining = 0
	}
	joinRemaining := limits.JoinWaitBudgetMs - elapsed
	if joinRemaining < 0 {
		joinRemaining = 0
	}

	return Snapshot{
		StartedAtUTC:        started.UTC(),
		ObservedAtUTC:       now.UTC(),
		ElapsedMs:           elapsed,
		DecisionDeadlineMs:  limits.DecisionDeadlineMs,
		DecisionRemainingMs: decisionRemaining,
		JoinWaitBudgetMs:    limits.JoinWaitBudgetMs,
		JoinWaitRemainingMs: joinRemaining,
		DecisionExpired:     elapsed >= limits.DecisionDeadlineMs,
		JoinWaitExpired:     elapsed >= limits.JoinWaitBudgetMs,
	}
}
