package budget_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
)

var limits = budget.Limits{DecisionDeadlineMs: 5000, JoinWaitBudgetMs: 2000}

func TestTake_JoinWaitExpiresFirst(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := budget.Take(started, started.Add(2500*time.Millisecond), limits)
	assert.Equal(t, int64(2500), snap.ElapsedMs)
	assert.False(t, snap.DecisionExpired)
	assert.True(t, snap.JoinWaitExpired)
	assert.Equal(t, int64(2500), snap.DecisionRemainingMs)
	assert.Equal(t, int64(0), snap.JoinWaitRemainingMs)
}

func TestTake_BothExpiredAtDeadline(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := budget.Take(started, started.Add(5000*time.Millisecond), limits)
	assert.True(t, snap.DecisionExpired)
	assert.True(t, snap.JoinWaitExpired)
	assert.Equal(t, int64(0), snap.DecisionRemainingMs)
}

func TestTake_FreshBudget(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := budget.Take(started, started, limits)
	assert.Equal(t, int64(0), snap.ElapsedMs)
	assert.False(t, snap.DecisionExpired)
	assert.False(t, snap.JoinWaitExpired)
	assert.Equal(t, int64(5000), snap.DecisionRemainingMs)
	assert.Equal(t, int64(2000), snap.JoinWaitRemainingMs)
}

func TestTake_ClockSkewClampsToZero(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := budget.Take(started, started.Add(-1*time.Second), limits)
	assert.Equal(t, int64(0), snap.ElapsedMs)
	assert.False(t, snap.DecisionExpired)
}
