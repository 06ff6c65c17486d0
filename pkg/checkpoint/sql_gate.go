package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/identity"
)

// SQLGate implements Gate on database/sql, sharing driver compatibility with
// the replay ledger (Postgres and SQLite).
type SQLGate struct {
	db *sql.DB
}

// NewSQLGate wraps an open database handle.
func NewSQLGate(db *sql.DB) *SQLGate {
	return &SQLGate{db: db}
}

const gateSchema = `
CREATE TABLE IF NOT EXISTS checkpoint_tokens (
	token_id TEXT PRIMARY KEY,
	source_event_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	ledger_committed INTEGER NOT NULL DEFAULT 0,
	decision_publish TEXT,
	action_publishes TEXT NOT NULL DEFAULT '[]',
	halted INTEGER NOT NULL DEFAULT 0,
	halt_reason TEXT NOT NULL DEFAULT '',
	committed INTEGER NOT NULL DEFAULT 0,
	checkpoint_ref TEXT NOT NULL DEFAULT '',
	issued_at TIMESTAMP NOT NULL,
	committed_at TIMESTAMP
);
`

// Init creates the checkpoint table if it does not exist.
func (g *SQLGate) Init(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, gateSchema)
	return err
}

// IssueToken implements Gate. The token id is a pure function of the pair,
// so a redelivered source event maps onto the row from the earlier attempt.
func (g *SQLGate) IssueToken(ctx context.Context, sourceEventID, decisionID string) (Token, error) {
	tokenID := identity.CheckpointTokenID(sourceEventID, decisionID)
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO checkpoint_tokens (token_id, source_event_id, decision_id, issued_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		tokenID, sourceEventID, decisionID, time.Now().UTC(),
	)
	if err != nil {
		return Token{}, fmt.Errorf("checkpoint: issue: %w", err)
	}
	return g.Lookup(ctx, tokenID)
}

// MarkLedgerCommitted implements Gate. A committed token is immutable, so a
// mark arriving after commit (a redelivered attempt) is a no-op.
func (g *SQLGate) MarkLedgerCommitted(ctx context.Context, tokenID string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE checkpoint_tokens SET ledger_committed = 1 WHERE token_id = $1 AND committed = 0`, tokenID)
	if err != nil {
		return fmt.Errorf("checkpoint: mark ledger: %w", err)
	}
	return g.requireMutableRow(ctx, res, tokenID)
}

// MarkPublishResult implements Gate. Outcomes outside the defined set are
// rejected before anything is written.
func (g *SQLGate) MarkPublishResult(ctx context.Context, tokenID string, decision contracts.PublishOutcome, actions []contracts.PublishOutcome, halted bool, haltReason string) error {
	if !decision.Valid() {
		return fmt.Errorf("checkpoint: invalid decision publish outcome %q", decision)
	}
	for _, outcome := range actions {
		if !outcome.Valid() {
			return fmt.Errorf("checkpoint: invalid action publish outcome %q", outcome)
		}
	}
	if actions == nil {
		actions = []contracts.PublishOutcome{}
	}
	encoded, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("checkpoint: encode action outcomes: %w", err)
	}

	res, err := g.db.ExecContext(ctx,
		`UPDATE checkpoint_tokens
		 SET decision_publish = $1, action_publishes = $2, halted = $3, halt_reason = $4
		 WHERE token_id = $5 AND committed = 0`,
		string(decision), string(encoded), boolInt(halted), haltReason, tokenID)
	if err != nil {
		return fmt.Errorf("checkpoint: mark publish: %w", err)
	}
	return g.requireMutableRow(ctx, res, tokenID)
}

// CommitCheckpoint implements Gate. Committing an already-committed token is
// an idempotent success; a token with unmet preconditions is left unchanged.
func (g *SQLGate) CommitCheckpoint(ctx context.Context, tokenID, checkpointRef string, committedAt time.Time) (CommitResult, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitResult{}, fmt.Errorf("checkpoint: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tok, err := scanToken(tx.QueryRowContext(ctx, tokenQuery+` WHERE token_id = $1`, tokenID))
	if err != nil {
		return CommitResult{}, err
	}

	if tok.Committed {
		return CommitResult{State: StateCommitted, CheckpointRef: tok.CheckpointRef}, nil
	}
	if reason := blockReason(tok); reason != "" {
		return CommitResult{State: StateBlocked, BlockReason: reason}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE checkpoint_tokens SET committed = 1, checkpoint_ref = $1, committed_at = $2 WHERE token_id = $3`,
		checkpointRef, committedAt.UTC(), tokenID); err != nil {
		return CommitResult{}, fmt.Errorf("checkpoint: commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("checkpoint: commit tx: %w", err)
	}
	return CommitResult{State: StateCommitted, CheckpointRef: checkpointRef}, nil
}

const tokenQuery = `
SELECT token_id, source_event_id, decision_id, ledger_committed, decision_publish,
       action_publishes, halted, halt_reason, committed, checkpoint_ref, issued_at, committed_at
FROM checkpoint_tokens`

// Lookup implements Gate.
func (g *SQLGate) Lookup(ctx context.Context, tokenID string) (Token, error) {
	return scanToken(g.db.QueryRowContext(ctx, tokenQuery+` WHERE token_id = $1`, tokenID))
}

func scanToken(row *sql.Row) (Token, error) {
	var tok Token
	var decisionPublish sql.NullString
	var actionPublishes string
	var ledgerCommitted, halted, committed int
	var committedAt sql.NullTime

	err := row.Scan(&tok.TokenID, &tok.SourceEventID, &tok.DecisionID, &ledgerCommitted,
		&decisionPublish, &actionPublishes, &halted, &tok.HaltReason,
		&committed, &tok.CheckpointRef, &tok.IssuedAtUTC, &committedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrUnknownToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("checkpoint: scan token: %w", err)
	}

	tok.LedgerCommitted = ledgerCommitted != 0
	tok.Halted = halted != 0
	tok.Committed = committed != 0
	if decisionPublish.Valid {
		outcome := contracts.PublishOutcome(decisionPublish.String)
		tok.DecisionPublish = &outcome
	}
	if err := json.Unmarshal([]byte(actionPublishes), &tok.ActionPublishes); err != nil {
		return Token{}, fmt.Errorf("checkpoint: decode action outcomes: %w", err)
	}
	if committedAt.Valid {
		ts := committedAt.Time.UTC()
		tok.CommittedAtUTC = &ts
	}
	return tok, nil
}

// requireMutableRow resolves a zero-row update: the token is either unknown
// (hard error) or already committed (immutable, mark ignored).
func (g *SQLGate) requireMutableRow(ctx context.Context, res sql.Result, tokenID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tok, err := g.Lookup(ctx, tokenID)
	if err != nil {
		return err
	}
	if tok.Committed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
