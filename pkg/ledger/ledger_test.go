package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/canonicalize"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/ledger"
)

var observedAt = time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)

func openLedger(t *testing.T) *ledger.SQLLedger {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := ledger.NewSQLLedger(db)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func payload(decisionID string) contracts.DecisionPayload {
	return contracts.DecisionPayload{
		DecisionID:    decisionID,
		DecisionScope: "card_present",
		SnapshotHash:  "snap-1",
		Decision: contracts.DecisionBody{
			ActionKind:      contracts.ActionAllow,
			ContextStatus:   contracts.ContextReady,
			RegistryOutcome: contracts.ResolutionResolved,
		},
		DecidedAtUTC: observedAt,
	}
}

func TestRegisterDecision_NewThenReplay(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	first, err := l.RegisterDecision(ctx, payload("d-1"), observedAt)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeNew, first.Outcome)
	assert.Equal(t, first.PayloadHash, first.StoredHash)

	second, err := l.RegisterDecision(ctx, payload("d-1"), observedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeReplayMatch, second.Outcome)
	assert.Equal(t, int64(1), second.ReplayCount)
	assert.Equal(t, first.StoredHash, second.StoredHash)

	entry, err := l.Lookup(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ReplayCount)
	assert.Equal(t, int64(0), entry.MismatchCount)
}

func TestRegisterDecision_PayloadMismatch(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	first, err := l.RegisterDecision(ctx, payload("d-2"), observedAt)
	require.NoError(t, err)

	altered := payload("d-2")
	altered.SnapshotHash = "snap-2"
	conflict, err := l.RegisterDecision(ctx, altered, observedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomePayloadMismatch, conflict.Outcome)
	assert.Equal(t, int64(1), conflict.MismatchCount)
	assert.NotEqual(t, conflict.PayloadHash, conflict.StoredHash)

	// First-seen hash is never overwritten.
	entry, err := l.Lookup(ctx, "d-2")
	require.NoError(t, err)
	assert.Equal(t, first.PayloadHash, entry.PayloadHash)

	mismatches, err := l.Mismatches(ctx, "d-2")
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, conflict.PayloadHash, mismatches[0].ObservedHash)

	// Re-observing the same conflicting content does not duplicate the record.
	again, err := l.RegisterDecision(ctx, altered, observedAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomePayloadMismatch, again.Outcome)
	mismatches, err = l.Mismatches(ctx, "d-2")
	require.NoError(t, err)
	assert.Len(t, mismatches, 1)
}

func TestLookup_NotFound(t *testing.T) {
	l := openLedger(t)

	_, err := l.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRegisterDecision_RollsBackOnWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO replay_ledger").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	l := ledger.NewSQLLedger(db)
	_, err = l.RegisterDecision(context.Background(), payload("d-3"), observedAt)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two workers can race the first delivery of the same decision. The loser's
// insert affects zero rows; it must classify against the winner's committed
// row as a replay, not surface a key violation.
func TestRegisterDecision_ConcurrentFirstDeliveryIsReplayMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := payload("d-4")
	hash, err := canonicalize.CanonicalHash(p)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO replay_ledger").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT payload_hash").
		WithArgs("d-4").
		WillReturnRows(sqlmock.NewRows([]string{"payload_hash"}).AddRow(hash))
	mock.ExpectExec("UPDATE replay_ledger SET replay_count = replay_count \\+ 1").
		WithArgs("d-4").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT replay_count, mismatch_count").
		WithArgs("d-4").
		WillReturnRows(sqlmock.NewRows([]string{"replay_count", "mismatch_count"}).AddRow(1, 0))
	mock.ExpectCommit()

	l := ledger.NewSQLLedger(db)
	result, err := l.RegisterDecision(context.Background(), p, observedAt)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeReplayMatch, result.Outcome)
	assert.Equal(t, int64(1), result.ReplayCount)
	assert.Equal(t, hash, result.StoredHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
