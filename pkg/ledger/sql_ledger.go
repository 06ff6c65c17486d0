package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// SQLLedger implements Ledger using database/sql. It supports both Postgres
// and SQLite via standard drivers; placeholders use the $n form, which both
// accept.
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS replay_ledger (
	decision_id TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL,
	replay_count INTEGER NOT NULL DEFAULT 0,
	mismatch_count INTEGER NOT NULL DEFAULT 0,
	first_seen_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS replay_mismatches (
	decision_id TEXT NOT NULL,
	observed_hash TEXT NOT NULL,
	observed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (decision_id, observed_hash)
);
`

// Init creates the ledger tables if they do not exist.
func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, ledgerSchema)
	return err
}

// RegisterDecision implements Ledger. Counter increments happen in SQL and
// the first insert uses ON CONFLICT DO NOTHING, so concurrent registrations
// of the same decision_id serialize on the row instead of losing updates;
// the loser of a concurrent first delivery classifies as a replay, never as
// a key violation.
func (l *SQLLedger) RegisterDecision(ctx context.Context, payload contracts.DecisionPayload, observedAt time.Time) (RegisterResult, error) {
	hash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("ledger: hash payload: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := RegisterResult{DecisionID: payload.DecisionID, PayloadHash: hash}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO replay_ledger (decision_id, payload_hash, replay_count, mismatch_count, first_seen_at)
		 VALUES ($1, $2, 0, 0, $3) ON CONFLICT (decision_id) DO NOTHING`,
		payload.DecisionID, hash, observedAt.UTC(),
	)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("ledger: insert: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return RegisterResult{}, fmt.Errorf("ledger: insert result: %w", err)
	}

	if inserted > 0 {
		result.Outcome = OutcomeNew
		result.StoredHash = hash
	} else {
		// The row exists. The first-seen hash is immutable, so it can be
		// read without a lock to classify this observation.
		var storedHash string
		if err := tx.QueryRowContext(ctx,
			`SELECT payload_hash FROM replay_ledger WHERE decision_id = $1`,
			payload.DecisionID,
		).Scan(&storedHash); err != nil {
			return RegisterResult{}, fmt.Errorf("ledger: read: %w", err)
		}
		result.StoredHash = storedHash

		if storedHash == hash {
			if _, err := tx.ExecContext(ctx,
				`UPDATE replay_ledger SET replay_count = replay_count + 1 WHERE decision_id = $1`,
				payload.DecisionID,
			); err != nil {
				return RegisterResult{}, fmt.Errorf("ledger: bump replay: %w", err)
			}
			result.Outcome = OutcomeReplayMatch
		} else {
			// Same decision_id, different content: record the conflicting
			// observation and leave the first-seen hash untouched.
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO replay_mismatches (decision_id, observed_hash, observed_at)
				 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				payload.DecisionID, hash, observedAt.UTC(),
			); err != nil {
				return RegisterResult{}, fmt.Errorf("ledger: record mismatch: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE replay_ledger SET mismatch_count = mismatch_count + 1 WHERE decision_id = $1`,
				payload.DecisionID,
			); err != nil {
				return RegisterResult{}, fmt.Errorf("ledger: bump mismatch: %w", err)
			}
			result.Outcome = OutcomePayloadMismatch
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT replay_count, mismatch_count FROM replay_ledger WHERE decision_id = $1`,
			payload.DecisionID,
		).Scan(&result.ReplayCount, &result.MismatchCount); err != nil {
			return RegisterResult{}, fmt.Errorf("ledger: read counts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return RegisterResult{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return result, nil
}

// Lookup implements Ledger.
func (l *SQLLedger) Lookup(ctx context.Context, decisionID string) (Entry, error) {
	var entry Entry
	err := l.db.QueryRowContext(ctx,
		`SELECT decision_id, payload_hash, replay_count, mismatch_count, first_seen_at
		 FROM replay_ledger WHERE decision_id = $1`,
		decisionID,
	).Scan(&entry.DecisionID, &entry.PayloadHash, &entry.ReplayCount, &entry.MismatchCount, &entry.FirstSeenAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: lookup: %w", err)
	}
	return entry, nil
}

// Mismatches implements Ledger.
func (l *SQLLedger) Mismatches(ctx context.Context, decisionID string) ([]Mismatch, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT decision_id, observed_hash, observed_at FROM replay_mismatches
		 WHERE decision_id = $1 ORDER BY observed_at`,
		decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: mismatches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.DecisionID, &m.ObservedHash, &m.ObservedAtUTC); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
