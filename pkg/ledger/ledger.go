// Package ledger is the durable replay/idempotency ledger for decision
// payloads. Registration is idempotent per decision_id: exact replays are
// counted, content mismatches are recorded as a defect signal without ever
// overwriting the first-seen hash.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// ErrNotFound is returned by Lookup when no entry exists for a decision id.
var ErrNotFound = errors.New("ledger: decision not found")

// Outcome classifies a registration.
type Outcome string

const (
	OutcomeNew             Outcome = "NEW"
	OutcomeReplayMatch     Outcome = "REPLAY_MATCH"
	OutcomePayloadMismatch Outcome = "PAYLOAD_MISMATCH"
)

// RegisterResult reports what registration did.
type RegisterResult struct {
	Outcome       Outcome
	DecisionID    string
	PayloadHash   string // hash of the payload just observed
	StoredHash    string // first-seen hash on record
	ReplayCount   int64
	MismatchCount int64
}

// Entry is one ledger row.
type Entry struct {
	DecisionID     string
	PayloadHash    string
	ReplayCount    int64
	MismatchCount  int64
	FirstSeenAtUTC time.Time
}

// Mismatch is one recorded conflicting observation for a decision id.
type Mismatch struct {
	DecisionID    string
	ObservedHash  string
	ObservedAtUTC time.Time
}

// Ledger is the durable interface. Implementations must provide
// read-modify-write atomicity per decision_id so concurrent workers cannot
// lose updates.
type Ledger interface {
	// RegisterDecision records the canonical hash of payload. The outcome is
	// NEW for a first registration, REPLAY_MATCH for an identical
	// re-delivery, and PAYLOAD_MISMATCH when the same decision_id arrives
	// with different content.
	RegisterDecision(ctx context.Context, payload contracts.DecisionPayload, observedAt time.Time) (RegisterResult, error)

	// Lookup returns the ledger entry for a decision id.
	Lookup(ctx context.Context, decisionID string) (Entry, error)

	// Mismatches lists the recorded conflicting observations for a decision.
	Mismatches(ctx context.Context, decisionID string) ([]Mismatch, error)
}
