package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// TrainingSink writes partitions into training_rows. Each dt present in a
// build is replaced as a whole inside one transaction, so reruns over the same
// window are idempotent.
type TrainingSink struct {
	db *sql.DB
}

func NewTrainingSink(db *sql.DB) *TrainingSink { return &TrainingSink{db: db} }

func (s *TrainingSink) Name() string { return "postgres" }

func (s *TrainingSink) WritePartitions(ctx context.Context, runID string, parts []domain.Partition) error {
	if len(parts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range parts {
			if err := writePartition(ctx, tx, runID, p); err != nil {
				return fmt.Errorf("partition dt=%s: %w", p.DT, err)
			}
		}
		return nil
	})
}

func writePartition(ctx context.Context, tx *sql.Tx, runID string, p domain.Partition) error {
	if _, err := tx.ExecContext(ctx, deletePartitionSQL, p.DT); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(trainingRowsTable, trainingRowsColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, r := range p.Rows {
		actions, err := json.Marshal(r.Actions)
		if err != nil {
			return fmt.Errorf("encode actions: %w", err)
		}
		// COPY encodes []byte as bytea hex; jsonb needs the text form
		if _, err := stmt.ExecContext(ctx,
			r.DT, runID, r.ImpressionID, r.CustomerID, r.ItemID,
			r.Position, r.Timestamp, r.IsOrder, string(actions),
		); err != nil {
			return fmt.Errorf("copy row: %w", err)
		}
	}
	// flush
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy: %w", err)
	}
	return nil
}

func (s *TrainingSink) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
