package observability

import (
	"sync"
	"time"
)

// ReconciliationSnapshot is a one-way export of the core's lifecycle counts,
// consumed by the fraud platform's reconciliation jobs. The snapshot is a
// copy; exporting never pauses the pipeline.
type ReconciliationSnapshot struct {
	WorkerID         string           `json:"worker_id"`
	CapturedAtUTC    time.Time        `json:"captured_at_utc"`
	RecordsSeen      int64            `json:"records_seen"`
	Accepted         int64            `json:"accepted"`
	Rejected         map[string]int64 `json:"rejected,omitempty"`
	Decisions        map[string]int64 `json:"decisions,omitempty"`
	Publishes        map[string]int64 `json:"publishes,omitempty"`
	LedgerReplays    int64            `json:"ledger_replays"`
	LedgerMismatches int64            `json:"ledger_mismatches"`
	Committed        int64            `json:"committed"`
	Blocked          map[string]int64 `json:"blocked,omitempty"`
}

// Tally accumulates lifecycle counts for reconciliation export. Safe for
// concurrent use; a nil *Tally is a valid no-op receiver.
type Tally struct {
	mu       sync.Mutex
	workerID string

	recordsSeen      int64
	accepted         int64
	rejected         map[string]int64
	decisions        map[string]int64
	publishes        map[string]int64
	ledgerReplays    int64
	ledgerMismatches int64
	committed        int64
	blocked          map[string]int64
}

// NewTally creates a tally attributed to one worker.
func NewTally(workerID string) *Tally {
	return &Tally{
		workerID:  workerID,
		rejected:  make(map[string]int64),
		decisions: make(map[string]int64),
		publishes: make(map[string]int64),
		blocked:   make(map[string]int64),
	}
}

func (t *Tally) RecordSeen() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.recordsSeen++
	t.mu.Unlock()
}

func (t *Tally) RecordAccepted() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.accepted++
	t.mu.Unlock()
}

func (t *Tally) RecordRejected(reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.rejected[reason]++
	t.mu.Unlock()
}

func (t *Tally) RecordDecision(actionKind string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.decisions[actionKind]++
	t.mu.Unlock()
}

func (t *Tally) RecordPublish(outcome string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.publishes[outcome]++
	t.mu.Unlock()
}

func (t *Tally) RecordLedger(replay, mismatch bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if replay {
		t.ledgerReplays++
	}
	if mismatch {
		t.ledgerMismatches++
	}
	t.mu.Unlock()
}

func (t *Tally) RecordCommitted() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.committed++
	t.mu.Unlock()
}

func (t *Tally) RecordBlocked(reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.blocked[reason]++
	t.mu.Unlock()
}

// Snapshot copies the current counts.
func (t *Tally) Snapshot(now time.Time) ReconciliationSnapshot {
	if t == nil {
		return ReconciliationSnapshot{CapturedAtUTC: now.UTC()}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return ReconciliationSnapshot{
		WorkerID:         t.workerID,
		CapturedAtUTC:    now.UTC(),
		RecordsSeen:      t.recordsSeen,
		Accepted:         t.accepted,
		Rejected:         copyCounts(t.rejected),
		Decisions:        copyCounts(t.decisions),
		Publishes:        copyCounts(t.publishes),
		LedgerReplays:    t.ledgerReplays,
		LedgerMismatches: t.ledgerMismatches,
		Committed:        t.committed,
		Blocked:          copyCounts(t.blocked),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
