package acquirer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/acquirer"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/registry"
)

var (
	started = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limits  = budget.Limits{DecisionDeadlineMs: 5000, JoinWaitBudgetMs: 2000}
)

type fakeFeatures struct {
	resp    *acquirer.FeatureResponse
	err     error
	lastReq acquirer.FeatureRequest
}

func (f *fakeFeatures) GetFeatures(ctx context.Context, req acquirer.FeatureRequest) (*acquirer.FeatureResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

type fakeGraph struct {
	status *acquirer.GraphStatus
	err    error
}

func (f *fakeGraph) Status(ctx context.Context, scenarioRunID string) (*acquirer.GraphStatus, error) {
	return f.status, f.err
}

func candidate() contracts.TriggerCandidate {
	return contracts.TriggerCandidate{
		SourceEventID: "ev-1",
		EventClass:    "card_auth",
		PayloadHash:   "ph",
		SchemaVersion: "1.0.0",
		Pins:          contracts.Pins{PlatformRunID: "run-1", ScenarioRunID: "srun-1"},
		SourceEBRef:   contracts.SourceEBRef{Topic: "traffic.card", Partition: 1, Offset: 7, OffsetKind: "kafka"},
	}
}

func normalStamp() contracts.PostureStamp {
	return contracts.PostureStamp{
		Mode: contracts.ModeNormal,
		Capabilities: contracts.CapabilitiesMask{
			AllowIEG:             true,
			AllowedFeatureGroups: []string{"velocity"},
			AllowModelPrimary:    true,
			ActionPosture:        contracts.ActionPostureNormal,
		},
	}
}

func okFeatures() *fakeFeatures {
	return &fakeFeatures{resp: &acquirer.FeatureResponse{
		Status: "OK",
		Snapshot: &acquirer.FeatureSnapshot{
			SnapshotHash:  "snap-hash",
			EBOffsetBasis: "traffic.card:1:7",
			GraphVersion:  "g-9",
			FeatureGroups: map[string]string{"velocity": "v3"},
		},
	}}
}

func params() acquirer.Params {
	compat := &registry.CompatibilityRequirements{
		FeatureGroupVersions: map[string]string{"velocity": "v3"},
		RequireIEG:           true,
	}
	return acquirer.Params{
		Candidate:     candidate(),
		Stamp:         normalStamp(),
		StartedAt:     started,
		Now:           started.Add(100 * time.Millisecond),
		ContextRefs:   map[string]string{"arrangement": "ref-1"},
		FeatureKeys:   []contracts.FeatureKey{{KeyType: "card", KeyID: "c-1"}, {KeyType: "card", KeyID: "c-1"}},
		Compatibility: compat,
	}
}

func newAcquirer(f acquirer.FeaturePlaneClient, g acquirer.IdentityGraphClient) *acquirer.Acquirer {
	return acquirer.New(f, g, limits, []string{"arrangement"}, acquirer.Defaults{GraphResolutionMode: "strict"})
}

func TestAcquire_Ready(t *testing.T) {
	features := okFeatures()
	a := newAcquirer(features, &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g-9", HealthState: "GREEN"}})

	result := a.Acquire(context.Background(), params())
	require.Equal(t, contracts.ContextReady, result.Status)
	assert.Equal(t, "snap-hash", result.Evidence.FeatureSnapshotHash)
	assert.Equal(t, "g-9", result.Evidence.GraphVersion)
	assert.Equal(t, "traffic.card:1:7", result.Evidence.EBOffsetBasis)
	assert.Equal(t, map[string]string{"velocity": "v3"}, result.FeatureGroupVersions)

	// Feature keys were deduplicated and the request id is deterministic.
	assert.Len(t, features.lastReq.FeatureKeys, 1)
	assert.NotEmpty(t, features.lastReq.RequestID)
	assert.Equal(t, []string{"velocity"}, features.lastReq.FeatureGroups)
}

func TestAcquire_DeadlineExceededStopsCalls(t *testing.T) {
	features := okFeatures()
	a := newAcquirer(features, &fakeGraph{})

	p := params()
	p.Now = started.Add(5 * time.Second)
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextDeadlineExceeded, result.Status)
	assert.Equal(t, []string{contracts.ReasonDecisionDeadlineExceeded}, result.ReasonCodes)
	assert.Empty(t, features.lastReq.RequestID, "no dependency call after deadline")
	// Evidence still carries the source ref.
	assert.Equal(t, int64(7), result.Evidence.SourceEBRef.Offset)
}

func TestAcquire_WaitingThenMissingRoles(t *testing.T) {
	a := newAcquirer(okFeatures(), &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g-9"}})

	p := params()
	p.ContextRefs = nil

	// Join-wait budget still open: soft waiting.
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextWaiting, result.Status)
	assert.Contains(t, result.ReasonCodes, "CONTEXT_WAITING:arrangement")

	// Join-wait budget exhausted: hard missing.
	p.Now = started.Add(2500 * time.Millisecond)
	result = a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextMissing, result.Status)
	assert.Contains(t, result.ReasonCodes, "CONTEXT_MISSING:arrangement")
	assert.Contains(t, result.ReasonCodes, contracts.ReasonJoinWaitExceeded)
}

func TestAcquire_PostureBlocked(t *testing.T) {
	a := newAcquirer(okFeatures(), &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g-9"}})

	p := params()
	p.Stamp.Capabilities.AllowIEG = false
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextBlocked, result.Status)
	assert.Contains(t, result.ReasonCodes, "CAPABILITY_BLOCK:IEG")
}

func TestAcquire_GraphFailures(t *testing.T) {
	p := params()

	// No client configured.
	a := newAcquirer(okFeatures(), nil)
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextUnavailable, result.Status)
	assert.Equal(t, []string{contracts.ReasonIEGNoClient}, result.ReasonCodes)

	// Transport error.
	a = newAcquirer(okFeatures(), &fakeGraph{err: errors.New("conn refused")})
	result = a.Acquire(context.Background(), p)
	assert.Equal(t, []string{contracts.ReasonIEGUnavailable}, result.ReasonCodes)

	// Missing graph version.
	a = newAcquirer(okFeatures(), &fakeGraph{status: &acquirer.GraphStatus{}})
	result = a.Acquire(context.Background(), p)
	assert.Equal(t, []string{contracts.ReasonIEGMissingGraphVersion}, result.ReasonCodes)

	// RED health.
	a = newAcquirer(okFeatures(), &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g", HealthState: "RED"}})
	result = a.Acquire(context.Background(), p)
	assert.Equal(t, []string{contracts.ReasonIEGHealthRed}, result.ReasonCodes)
}

func TestAcquire_FeaturePlaneFailures(t *testing.T) {
	graph := &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g-9"}}

	// Transport error.
	a := newAcquirer(&fakeFeatures{err: errors.New("timeout")}, graph)
	result := a.Acquire(context.Background(), params())
	assert.Equal(t, contracts.ContextUnavailable, result.Status)
	assert.Contains(t, result.ReasonCodes, contracts.ReasonFeaturePlaneUnavailable)

	// Non-OK response body.
	a = newAcquirer(&fakeFeatures{resp: &acquirer.FeatureResponse{Status: "ERROR"}}, graph)
	result = a.Acquire(context.Background(), params())
	assert.Equal(t, contracts.ContextUnavailable, result.Status)

	// Freshness gap is missing context, not unavailability.
	stale := okFeatures()
	stale.resp.Snapshot.Freshness.MissingGroups = []string{"velocity"}
	a = newAcquirer(stale, graph)
	result = a.Acquire(context.Background(), params())
	assert.Equal(t, contracts.ContextMissing, result.Status)
	assert.Contains(t, result.ReasonCodes, contracts.ReasonFeatureFreshnessGap)
}

func TestAcquire_NoFeatureKeys(t *testing.T) {
	a := newAcquirer(okFeatures(), &fakeGraph{status: &acquirer.GraphStatus{GraphVersion: "g-9"}})

	p := params()
	p.FeatureKeys = []contracts.FeatureKey{{KeyType: "", KeyID: "x"}}
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextMissing, result.Status)
	assert.Contains(t, result.ReasonCodes, contracts.ReasonNoFeatureKeys)
}

func TestAcquire_DefaultsWhenNoCompatibility(t *testing.T) {
	a := acquirer.New(okFeatures(), nil, limits, nil, acquirer.Defaults{
		FeatureGroups:       []string{"velocity"},
		RequireFeaturePlane: true,
	})

	p := params()
	p.Compatibility = nil
	result := a.Acquire(context.Background(), p)
	assert.Equal(t, contracts.ContextReady, result.Status)
}
