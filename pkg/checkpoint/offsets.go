package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// SQLOffsetStore persists the advanced source offset per (topic, partition).
// Advancement is monotonic: a stale advance from a redelivered record never
// moves the offset backwards.
type SQLOffsetStore struct {
	db *sql.DB
}

// NewSQLOffsetStore wraps an open database handle.
func NewSQLOffsetStore(db *sql.DB) *SQLOffsetStore {
	return &SQLOffsetStore{db: db}
}

const offsetSchema = `
CREATE TABLE IF NOT EXISTS source_offsets (
	topic TEXT NOT NULL,
	partition_no INTEGER NOT NULL,
	next_offset BIGINT NOT NULL,
	checkpoint_ref TEXT NOT NULL,
	PRIMARY KEY (topic, partition_no)
);
`

// Init creates the offsets table if it does not exist.
func (s *SQLOffsetStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, offsetSchema)
	return err
}

// Advance records that ref's offset is fully processed. The stored value is
// the next offset to read.
func (s *SQLOffsetStore) Advance(ctx context.Context, ref contracts.SourceEBRef, checkpointRef string) error {
	next := ref.Offset + 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_offsets (topic, partition_no, next_offset, checkpoint_ref)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (topic, partition_no) DO UPDATE
		 SET next_offset = excluded.next_offset, checkpoint_ref = excluded.checkpoint_ref
		 WHERE excluded.next_offset > source_offsets.next_offset`,
		ref.Topic, ref.Partition, next, checkpointRef)
	if err != nil {
		return fmt.Errorf("checkpoint: advance offset: %w", err)
	}
	return nil
}

// Position returns the next offset to read for a partition, or 0 when no
// offset has been advanced yet.
func (s *SQLOffsetStore) Position(ctx context.Context, topic string, partition int32) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT next_offset FROM source_offsets WHERE topic = $1 AND partition_no = $2`,
		topic, partition).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint: read offset: %w", err)
	}
	return next, nil
}
