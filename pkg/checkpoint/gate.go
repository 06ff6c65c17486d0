// Package checkpoint gates source-offset advancement behind durable proof
// that a decision's full lifecycle completed. A source event's offset may
// only move once its decision is ledgered and every artifact's publish
// outcome is recorded and safe.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// ErrUnknownToken is returned when a lifecycle operation references a token
// that was never issued. Marking an unissued token is a hard programming
// error, never a soft skip.
var ErrUnknownToken = errors.New("checkpoint: unknown token")

// State of a checkpoint token.
type State string

const (
	StateIssued    State = "ISSUED"
	StateCommitted State = "COMMITTED"
	StateBlocked   State = "BLOCKED"
)

// Token is the durable lifecycle record for one (source event, decision)
// pair.
type Token struct {
	TokenID         string
	SourceEventID   string
	DecisionID      string
	LedgerCommitted bool
	DecisionPublish *contracts.PublishOutcome
	ActionPublishes []contracts.PublishOutcome
	Halted          bool
	HaltReason      string
	Committed       bool
	CheckpointRef   string
	IssuedAtUTC     time.Time
	CommittedAtUTC  *time.Time
}

// CommitResult reports a commit attempt.
type CommitResult struct {
	State         State
	BlockReason   string // set only when State is BLOCKED
	CheckpointRef string
}

// Gate is the durable checkpoint interface.
type Gate interface {
	// IssueToken creates (or returns the existing) token for the pair.
	// Issuance is idempotent: redelivery of the same source event reuses
	// the token from the earlier attempt.
	IssueToken(ctx context.Context, sourceEventID, decisionID string) (Token, error)

	// MarkLedgerCommitted records that the decision reached the replay
	// ledger. On a committed token the mark is a no-op.
	MarkLedgerCommitted(ctx context.Context, tokenID string) error

	// MarkPublishResult records the publish outcome for the decision and
	// each of its action intents. halted flags an aborted publish sequence.
	// On a committed token the mark is a no-op.
	MarkPublishResult(ctx context.Context, tokenID string, decision contracts.PublishOutcome, actions []contracts.PublishOutcome, halted bool, haltReason string) error

	// CommitCheckpoint attempts to finalize the token. A token whose
	// lifecycle is incomplete or unsafe stays uncommitted and the result
	// names the first failed precondition.
	CommitCheckpoint(ctx context.Context, tokenID, checkpointRef string, committedAt time.Time) (CommitResult, error)

	// Lookup returns the current token record.
	Lookup(ctx context.Context, tokenID string) (Token, error)
}

// blockReason evaluates commit preconditions in a fixed order so repeated
// attempts on the same stuck token report the same reason.
func blockReason(tok Token) string {
	switch {
	case !tok.LedgerCommitted:
		return contracts.BlockLedgerNotCommitted
	case tok.DecisionPublish == nil:
		return contracts.BlockPublishNotRecorded
	case tok.Halted:
		return contracts.BlockPublishHalted
	case *tok.DecisionPublish == contracts.PublishQuarantine:
		return contracts.BlockDecisionQuarantined
	}
	for _, outcome := range tok.ActionPublishes {
		if outcome == contracts.PublishQuarantine {
			return contracts.BlockActionQuarantined
		}
	}
	if *tok.DecisionPublish != contracts.PublishAdmit && *tok.DecisionPublish != contracts.PublishDuplicate {
		return contracts.BlockPublishDecisionUnsafe
	}
	return ""
}
