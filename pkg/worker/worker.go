// Package worker orchestrates the per-event decision pipeline: inlet gating,
// posture resolution, context acquisition, registry resolution, synthesis,
// ledger registration, publishing, and checkpoint commit. The worker owns no
// business rules of its own; it sequences the stages and enforces that a
// source offset only advances behind a committed checkpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/acquirer"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/checkpoint"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/inlet"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/ledger"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/observability"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/posture"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/publish"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/registry"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/synth"
)

// BusReader delivers raw event-bus records. Next returns io.EOF when the
// stream is exhausted (test and batch readers); a live reader blocks until a
// record arrives or ctx is done.
type BusReader interface {
	Next(ctx context.Context) (inlet.BusRecord, error)
}

// Checkpointer advances the durable source offset. It is only invoked after
// the checkpoint gate has committed the event's token.
type Checkpointer interface {
	Advance(ctx context.Context, ref contracts.SourceEBRef, checkpointRef string) error
}

// ContextExtractor derives join refs and feature keys from an admitted
// candidate. Extraction is deployment-specific (which payload fields carry
// card/account identifiers), so it is injected.
type ContextExtractor interface {
	Extract(candidate contracts.TriggerCandidate) (refs map[string]string, keys []contracts.FeatureKey)
}

// Outcome summarizes one record's trip through the pipeline.
type Outcome struct {
	Accepted     bool
	Waiting      bool // context not yet joinable; caller should retry
	RejectReason string
	DecisionID   string
	ActionKind   contracts.ActionKind
	Ledger       ledger.Outcome
	Publish      publish.SequenceResult
	Checkpoint   checkpoint.CommitResult
	Committed    bool
}

// Pipeline wires the decision core's stages together.
type Pipeline struct {
	gate        *inlet.Gate
	posture     *posture.Resolver
	registry    *registry.Resolver
	acquirer    *acquirer.Acquirer
	ledger      ledger.Ledger
	checkpoints checkpoint.Gate
	publisher   *publish.Publisher
	extractor   ContextExtractor
	checkpoint  Checkpointer

	scope           contracts.ScopeKey
	decisionScope   string
	runConfigDigest string
	producer        string
	workerID        string

	pollInterval time.Duration
	clock        func() time.Time
	metrics      *observability.Metrics
	tally        *observability.Tally
	logger       *slog.Logger
}

// Config bundles the pipeline's collaborators and identity.
type Config struct {
	Gate            *inlet.Gate
	Posture         *posture.Resolver
	Registry        *registry.Resolver
	Acquirer        *acquirer.Acquirer
	Ledger          ledger.Ledger
	Checkpoints     checkpoint.Gate
	Publisher       *publish.Publisher
	Extractor       ContextExtractor
	Checkpointer    Checkpointer
	Scope           contracts.ScopeKey
	DecisionScope   string
	RunConfigDigest string
	Producer        string
	PollInterval    time.Duration
	Clock           func() time.Time
	Metrics         *observability.Metrics
	Tally           *observability.Tally
	Logger          *slog.Logger
}

// New creates a pipeline. WorkerID is generated fresh per process so
// reconciliation exports attribute counts to one worker instance.
func New(cfg Config) *Pipeline {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		gate:            cfg.Gate,
		posture:         cfg.Posture,
		registry:        cfg.Registry,
		acquirer:        cfg.Acquirer,
		ledger:          cfg.Ledger,
		checkpoints:     cfg.Checkpoints,
		publisher:       cfg.Publisher,
		extractor:       cfg.Extractor,
		checkpoint:      cfg.Checkpointer,
		scope:           cfg.Scope,
		decisionScope:   cfg.DecisionScope,
		runConfigDigest: cfg.RunConfigDigest,
		producer:        cfg.Producer,
		workerID:        uuid.NewString(),
		pollInterval:    poll,
		clock:           clock,
		metrics:         cfg.Metrics,
		tally:           cfg.Tally,
		logger:          log.With("component", "worker"),
	}
}

// WorkerID returns the process-unique worker identity.
func (p *Pipeline) WorkerID() string { return p.workerID }

// Run consumes records until the reader is exhausted or ctx is done. A
// record whose context is still joining is retried in place; the join-wait
// budget converts an endless wait into a terminal CONTEXT_MISSING.
func (p *Pipeline) Run(ctx context.Context, reader BusReader) error {
	for {
		record, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker: read bus: %w", err)
		}

		startedAt := p.clock()
		for {
			outcome := p.ProcessRecord(ctx, record, startedAt)
			if !outcome.Waiting {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// ProcessRecord runs one pipeline attempt for one record. startedAt anchors
// the decision budget across retries of the same record.
func (p *Pipeline) ProcessRecord(ctx context.Context, record inlet.BusRecord, startedAt time.Time) Outcome {
	p.tally.RecordSeen()

	gated := p.gate.Admit(ctx, record)
	if !gated.Accepted {
		p.metrics.InletRejection(ctx, gated.RejectReason)
		p.tally.RecordRejected(gated.RejectReason)
		p.logger.Info("record rejected", "topic", record.Topic, "offset", record.Offset,
			"reason", gated.RejectReason, "detail", gated.Detail)
		// Terminal rejections advance the offset directly; there is no
		// decision to checkpoint.
		p.advance(ctx, sourceRef(record), "reject-"+uuid.NewString())
		return Outcome{RejectReason: gated.RejectReason}
	}
	p.tally.RecordAccepted()
	candidate := *gated.Candidate

	now := p.clock()
	stamp := p.posture.Resolve(ctx, p.scope.String(), now)

	refs, keys := p.extractor.Extract(candidate)
	var compat *registry.CompatibilityRequirements
	if c, ok := p.registry.Compatibility(p.scope); ok {
		compat = &c
	}

	contextResult := p.acquirer.Acquire(ctx, acquirer.Params{
		Candidate:     candidate,
		Stamp:         stamp,
		StartedAt:     startedAt,
		Now:           p.clock(),
		ContextRefs:   refs,
		FeatureKeys:   keys,
		Compatibility: compat,
	})
	if contextResult.Status == contracts.ContextWaiting {
		return Outcome{Accepted: true, Waiting: true}
	}

	registryResult := p.registry.Resolve(p.scope, stamp, contextResult.FeatureGroupVersions)

	artifacts := synth.Synthesize(synth.Inputs{
		Candidate:       candidate,
		Stamp:           stamp,
		Registry:        registryResult,
		Context:         contextResult,
		RunConfigDigest: p.runConfigDigest,
		DecisionScope:   p.decisionScope,
		RequestedAt:     startedAt,
		DecidedAt:       p.clock(),
		Producer:        p.producer,
	})
	outcome := Outcome{
		Accepted:   true,
		DecisionID: artifacts.Decision.DecisionID,
		ActionKind: artifacts.Decision.Decision.ActionKind,
	}
	p.metrics.Decision(ctx, string(outcome.ActionKind))
	p.tally.RecordDecision(string(outcome.ActionKind))

	token, err := p.checkpoints.IssueToken(ctx, candidate.SourceEventID, artifacts.Decision.DecisionID)
	if err != nil {
		p.logger.Error("checkpoint issue failed", "decision_id", outcome.DecisionID, "error", err)
		return outcome
	}

	registered, err := p.ledger.RegisterDecision(ctx, artifacts.Decision, p.clock())
	if err != nil {
		p.logger.Error("ledger registration failed", "decision_id", outcome.DecisionID, "error", err)
		return outcome
	}
	outcome.Ledger = registered.Outcome
	p.tally.RecordLedger(registered.Outcome == ledger.OutcomeReplayMatch,
		registered.Outcome == ledger.OutcomePayloadMismatch)
	switch registered.Outcome {
	case ledger.OutcomeReplayMatch:
		p.metrics.LedgerReplay(ctx)
	case ledger.OutcomePayloadMismatch:
		// A mismatch means determinism broke somewhere upstream. The ledger
		// keeps the first-seen payload; this attempt must not publish or
		// advance.
		p.metrics.LedgerMismatch(ctx)
		p.logger.Error("ledger payload mismatch", "decision_id", outcome.DecisionID,
			"stored_hash", registered.StoredHash, "observed_hash", registered.PayloadHash)
		return outcome
	}

	if err := p.checkpoints.MarkLedgerCommitted(ctx, token.TokenID); err != nil {
		p.logger.Error("checkpoint mark ledger failed", "token", token.TokenID, "error", err)
		return outcome
	}

	sequence, err := p.publisher.PublishArtifacts(ctx, artifacts)
	if err != nil {
		// The decision never reached the gate; record it as quarantined and
		// halted so the checkpoint stays blocked and the event is retried.
		p.logger.Error("decision publish failed", "decision_id", outcome.DecisionID, "error", err)
		sequence = publish.SequenceResult{
			Decision:   contracts.PublishQuarantine,
			Halted:     true,
			HaltReason: err.Error(),
		}
	}
	outcome.Publish = sequence
	p.metrics.Publish(ctx, string(sequence.Decision))
	p.tally.RecordPublish(string(sequence.Decision))

	if err := p.checkpoints.MarkPublishResult(ctx, token.TokenID,
		sequence.Decision, sequence.Actions, sequence.Halted, sequence.HaltReason); err != nil {
		p.logger.Error("checkpoint mark publish failed", "token", token.TokenID, "error", err)
		return outcome
	}

	checkpointRef := "cp-" + uuid.NewString()
	commit, err := p.checkpoints.CommitCheckpoint(ctx, token.TokenID, checkpointRef, p.clock())
	if err != nil {
		p.logger.Error("checkpoint commit failed", "token", token.TokenID, "error", err)
		return outcome
	}
	outcome.Checkpoint = commit

	if commit.State != checkpoint.StateCommitted {
		p.metrics.CheckpointBlock(ctx, commit.BlockReason)
		p.tally.RecordBlocked(commit.BlockReason)
		p.logger.Warn("checkpoint blocked", "decision_id", outcome.DecisionID, "reason", commit.BlockReason)
		return outcome
	}

	outcome.Committed = true
	p.tally.RecordCommitted()
	p.advance(ctx, candidate.SourceEBRef, commit.CheckpointRef)
	return outcome
}

// ReconciliationSnapshot exports the worker's lifecycle counts.
func (p *Pipeline) ReconciliationSnapshot() observability.ReconciliationSnapshot {
	return p.tally.Snapshot(p.clock())
}

func (p *Pipeline) advance(ctx context.Context, ref contracts.SourceEBRef, checkpointRef string) {
	if p.checkpoint == nil {
		return
	}
	if err := p.checkpoint.Advance(ctx, ref, checkpointRef); err != nil {
		// Offset advancement is retried on redelivery; the committed
		// checkpoint token makes the retry idempotent.
		p.logger.Error("offset advance failed", "topic", ref.Topic, "offset", ref.Offset, "error", err)
	}
}

func sourceRef(record inlet.BusRecord) contracts.SourceEBRef {
	return contracts.SourceEBRef{
		Topic:      record.Topic,
		Partition:  record.Partition,
		Offset:     record.Offset,
		OffsetKind: record.OffsetKind,
	}
}
