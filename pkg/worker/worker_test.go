package worker_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/acquirer"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/budget"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/checkpoint"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/inlet"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/ledger"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/observability"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/posture"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/publish"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/registry"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/worker"
)

var frozenNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubPosture struct{}

func (stubPosture) GetPosture(ctx context.Context, req posture.ServiceRequest) (*posture.ServiceDecision, *posture.ServiceHealth, error) {
	return &posture.ServiceDecision{
		Mode: string(contracts.ModeNormal),
		Capabilities: contracts.CapabilitiesMask{
			AllowIEG:             true,
			AllowedFeatureGroups: []string{"velocity"},
			AllowModelPrimary:    true,
			ActionPosture:        contracts.ActionPostureNormal,
		},
		PolicyRev:    "rev-1",
		PostureSeq:   1,
		DecidedAtUTC: frozenNow,
	}, &posture.ServiceHealth{State: "GREEN"}, nil
}

type stubFeatures struct{}

func (stubFeatures) GetFeatures(ctx context.Context, req acquirer.FeatureRequest) (*acquirer.FeatureResponse, error) {
	return &acquirer.FeatureResponse{
		Status: "OK",
		Snapshot: &acquirer.FeatureSnapshot{
			SnapshotHash:  "snap-1",
			EBOffsetBasis: "traffic.card:0:0",
			GraphVersion:  "g-1",
			FeatureGroups: map[string]string{"velocity": "v3"},
		},
	}, nil
}

type stubGraph struct{}

func (stubGraph) Status(ctx context.Context, scenarioRunID string) (*acquirer.GraphStatus, error) {
	return &acquirer.GraphStatus{GraphVersion: "g-1", HealthState: "GREEN"}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(c contracts.TriggerCandidate) (map[string]string, []contracts.FeatureKey) {
	return map[string]string{"arrangement": "ref-1"},
		[]contracts.FeatureKey{{KeyType: "card", KeyID: "c-1"}}
}

type fakeSink struct {
	outcome contracts.PublishOutcome
	err     error
	pushed  []contracts.EventEnvelope
}

func (s *fakeSink) Push(ctx context.Context, env contracts.EventEnvelope) (contracts.PublishOutcome, error) {
	if s.err != nil {
		return "", s.err
	}
	s.pushed = append(s.pushed, env)
	if s.outcome == "" {
		return contracts.PublishAdmit, nil
	}
	return s.outcome, nil
}

type recordingCheckpointer struct {
	advances []contracts.SourceEBRef
}

func (c *recordingCheckpointer) Advance(ctx context.Context, ref contracts.SourceEBRef, checkpointRef string) error {
	c.advances = append(c.advances, ref)
	return nil
}

type sliceReader struct {
	records []inlet.BusRecord
}

func (r *sliceReader) Next(ctx context.Context) (inlet.BusRecord, error) {
	if len(r.records) == 0 {
		return inlet.BusRecord{}, io.EOF
	}
	record := r.records[0]
	r.records = r.records[1:]
	return record, nil
}

func envelopeRecord(t *testing.T, eventID string, offset int64) inlet.BusRecord {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id":             eventID,
		"event_type":           "card_auth",
		"schema_version":       "1.0.0",
		"ts_utc":               "2026-03-01T12:00:00Z",
		"manifest_fingerprint": "mf-1",
		"parameter_hash":       "par-1",
		"seed":                 "42",
		"scenario_id":          "sc-1",
		"platform_run_id":      "run-1",
		"scenario_run_id":      "srun-1",
		"payload":              map[string]any{"card_id": "c-1"},
	})
	require.NoError(t, err)
	return inlet.BusRecord{Topic: "traffic.card", Partition: 0, Offset: offset, OffsetKind: "kafka", Payload: payload}
}

type fixture struct {
	pipeline     *worker.Pipeline
	sink         *fakeSink
	checkpointer *recordingCheckpointer
	tally        *observability.Tally
}

func newFixture(t *testing.T, sink *fakeSink) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	replayLedger := ledger.NewSQLLedger(db)
	require.NoError(t, replayLedger.Init(ctx))
	checkpoints := checkpoint.NewSQLGate(db)
	require.NoError(t, checkpoints.Init(ctx))

	gate := inlet.NewGate(inlet.Policy{
		AdmittedTopics:           []string{"traffic.card"},
		BlockedEventTypePrefixes: []string{"decision_", "action_"},
		SchemaAllowlist:          map[string][]string{"card_auth": {"1.0.0"}},
		RequiredPins: []string{"platform_run_id", "scenario_run_id", "manifest_fingerprint",
			"parameter_hash", "seed", "scenario_id"},
	}, inlet.NewMemoryCollisionGuard())

	scope := contracts.ScopeKey{Environment: "prod", Mode: "live", BundleSlot: "primary"}
	policy, err := registry.NewPolicy(registry.Policy{
		PolicyRev:            "rev-1",
		CheckFeatureVersions: true,
		CheckCapabilities:    true,
	})
	require.NoError(t, err)
	snapshot, err := registry.NewSnapshot(registry.Snapshot{
		SnapshotID: "snap-1",
		Records: map[string]registry.BundleRecord{
			scope.String(): {
				Active: contracts.BundleRef{BundleID: "bundle-a", Version: "2.1.0"},
				Compatibility: registry.CompatibilityRequirements{
					FeatureGroupVersions: map[string]string{"velocity": "v3"},
					RequireIEG:           true,
					RequireModelPrimary:  true,
				},
			},
		},
	})
	require.NoError(t, err)

	limits := budget.Limits{DecisionDeadlineMs: 5000, JoinWaitBudgetMs: 2000}
	clock := func() time.Time { return frozenNow }

	checkpointer := &recordingCheckpointer{}
	tally := observability.NewTally("test-worker")
	pipeline := worker.New(worker.Config{
		Gate:     gate,
		Posture:  posture.NewResolver(stubPosture{}, posture.NewTransitionGuard(time.Minute), 60),
		Registry: registry.NewResolver(policy, snapshot),
		Acquirer: acquirer.New(stubFeatures{}, stubGraph{}, limits, []string{"arrangement"},
			acquirer.Defaults{GraphResolutionMode: "strict"}),
		Ledger:      replayLedger,
		Checkpoints: checkpoints,
		Publisher: publish.NewPublisher(sink, nil,
			publish.Backoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}, 1, nil),
		Extractor:       stubExtractor{},
		Checkpointer:    checkpointer,
		Scope:           scope,
		DecisionScope:   "card_present",
		RunConfigDigest: "rcd-1",
		Producer:        "decision-core",
		Clock:           clock,
		Tally:           tally,
	})
	return &fixture{pipeline: pipeline, sink: sink, checkpointer: checkpointer, tally: tally}
}

func TestProcessRecord_AllowCommitsFirstAttempt(t *testing.T) {
	f := newFixture(t, &fakeSink{})

	outcome := f.pipeline.ProcessRecord(context.Background(), envelopeRecord(t, "ev-1", 10), frozenNow)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, contracts.ActionAllow, outcome.ActionKind)
	assert.Equal(t, ledger.OutcomeNew, outcome.Ledger)
	assert.Equal(t, contracts.PublishAdmit, outcome.Publish.Decision)
	assert.True(t, outcome.Committed)
	assert.Equal(t, checkpoint.StateCommitted, outcome.Checkpoint.State)

	// ALLOW publishes the decision envelope and nothing else.
	require.Len(t, f.sink.pushed, 1)
	assert.Equal(t, contracts.EventTypeDecisionResponse, f.sink.pushed[0].EventType)
	require.Len(t, f.checkpointer.advances, 1)
	assert.Equal(t, int64(10), f.checkpointer.advances[0].Offset)
}

func TestProcessRecord_RedeliveryIsReplayMatch(t *testing.T) {
	f := newFixture(t, &fakeSink{})
	ctx := context.Background()

	first := f.pipeline.ProcessRecord(ctx, envelopeRecord(t, "ev-1", 10), frozenNow)
	require.True(t, first.Committed)

	second := f.pipeline.ProcessRecord(ctx, envelopeRecord(t, "ev-1", 10), frozenNow)
	assert.Equal(t, first.DecisionID, second.DecisionID)
	assert.Equal(t, ledger.OutcomeReplayMatch, second.Ledger)
	assert.True(t, second.Committed, "committed checkpoint commits idempotently")

	snap := f.pipeline.ReconciliationSnapshot()
	assert.Equal(t, int64(1), snap.LedgerReplays)
}

func TestProcessRecord_RejectAdvancesOffset(t *testing.T) {
	f := newFixture(t, &fakeSink{})

	record := envelopeRecord(t, "ev-1", 10)
	record.Topic = "ops.control"
	outcome := f.pipeline.ProcessRecord(context.Background(), record, frozenNow)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, contracts.ReasonNonTrafficTopic, outcome.RejectReason)

	// Terminal rejections do not stall the partition.
	require.Len(t, f.checkpointer.advances, 1)
	assert.Empty(t, f.sink.pushed)
}

func TestProcessRecord_QuarantinedDecisionBlocksCheckpoint(t *testing.T) {
	f := newFixture(t, &fakeSink{outcome: contracts.PublishQuarantine})

	outcome := f.pipeline.ProcessRecord(context.Background(), envelopeRecord(t, "ev-1", 10), frozenNow)
	assert.True(t, outcome.Accepted)
	assert.False(t, outcome.Committed)
	assert.Equal(t, checkpoint.StateBlocked, outcome.Checkpoint.State)
	assert.Equal(t, contracts.BlockDecisionQuarantined, outcome.Checkpoint.BlockReason)
	assert.Empty(t, f.checkpointer.advances, "offset must not advance past a quarantined decision")
}

func TestProcessRecord_PublishFailureBlocksAsHalted(t *testing.T) {
	f := newFixture(t, &fakeSink{err: errors.New("gate returned 400")})

	outcome := f.pipeline.ProcessRecord(context.Background(), envelopeRecord(t, "ev-1", 10), frozenNow)
	assert.True(t, outcome.Publish.Halted)
	assert.Equal(t, contracts.PublishQuarantine, outcome.Publish.Decision)
	assert.False(t, outcome.Committed)
	assert.Equal(t, contracts.BlockPublishHalted, outcome.Checkpoint.BlockReason)
	assert.Empty(t, f.checkpointer.advances)
}

func TestRun_DrainsReaderToEOF(t *testing.T) {
	f := newFixture(t, &fakeSink{})

	reader := &sliceReader{records: []inlet.BusRecord{
		envelopeRecord(t, "ev-1", 10),
		envelopeRecord(t, "ev-2", 11),
	}}
	require.NoError(t, f.pipeline.Run(context.Background(), reader))

	assert.Len(t, f.checkpointer.advances, 2)
	snap := f.pipeline.ReconciliationSnapshot()
	assert.Equal(t, int64(2), snap.RecordsSeen)
	assert.Equal(t, int64(2), snap.Committed)
	assert.Equal(t, int64(2), snap.Decisions[string(contracts.ActionAllow)])
}
