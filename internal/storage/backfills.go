package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"market-intel/pkg/types"
)

// BackfillRepo records the status of one-shot historical trade ingestion
// per market.
type BackfillRepo struct {
	db *DB
}

// NewBackfillRepo creates the repository.
func NewBackfillRepo(db *DB) *BackfillRepo {
	return &BackfillRepo{db: db}
}

// Get returns the backfill record for a market, or ErrNoRows.
func (r *BackfillRepo) Get(ctx context.Context, conditionID string) (*types.Backfill, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var b types.Backfill
	err := r.db.GetContext(ctx, &b, `SELECT * FROM backfills WHERE condition_id = $1`, conditionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get backfill: %w", err)
	}
	return &b, nil
}

// Start marks a backfill in progress, resetting any prior attempt.
func (r *BackfillRepo) Start(ctx context.Context, conditionID string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backfills (condition_id, status, started_at)
		VALUES ($1, $2, now())
		ON CONFLICT (condition_id) DO UPDATE SET
			status = EXCLUDED.status,
			trade_events_count = 0,
			earliest_timestamp = NULL,
			latest_timestamp = NULL,
			error_message = NULL,
			started_at = now(),
			finished_at = NULL`,
		conditionID, types.BackfillInProgress)
	if err != nil {
		return fmt.Errorf("start backfill: %w", err)
	}
	return nil
}

// Complete records a successful backfill with its counts and bounds.
func (r *BackfillRepo) Complete(ctx context.Context, conditionID string, count int, earliest, latest *time.Time) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backfills SET
			status = $2,
			trade_events_count = $3,
			earliest_timestamp = $4,
			latest_timestamp = $5,
			finished_at = now()
		WHERE condition_id = $1`,
		conditionID, types.BackfillCompleted, count, earliest, latest)
	if err != nil {
		return fmt.Errorf("complete backfill: %w", err)
	}
	return nil
}

// Fail records a failed backfill with its error message.
func (r *BackfillRepo) Fail(ctx context.Context, conditionID string, message string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backfills SET status = $2, error_message = $3, finished_at = now()
		WHERE condition_id = $1`,
		conditionID, types.BackfillFailed, message)
	if err != nil {
		return fmt.Errorf("fail backfill: %w", err)
	}
	return nil
}
