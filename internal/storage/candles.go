package storage

import (
	"context"
	"fmt"
	"time"

	"market-intel/pkg/types"
)

// CandleRepo persists materialized instrument candles from the external
// historical source.
type CandleRepo struct {
	db *DB
}

// NewCandleRepo creates the repository.
func NewCandleRepo(db *DB) *CandleRepo {
	return &CandleRepo{db: db}
}

// Range returns stored candles for (instrument, interval, source) over
// [from, to], oldest first.
func (r *CandleRepo) Range(ctx context.Context, instrumentID string, interval types.Interval, source string, from, to time.Time) ([]types.StoredCandle, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.StoredCandle
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM candles
		WHERE instrument_id = $1 AND "interval" = $2 AND source = $3
		  AND start_time >= $4 AND start_time <= $5
		ORDER BY start_time`,
		instrumentID, interval, source, from, to)
	if err != nil {
		return nil, fmt.Errorf("candle range: %w", err)
	}
	return out, nil
}

// UpsertBatch writes candles, replacing rows with the same unique tuple.
func (r *CandleRepo) UpsertBatch(ctx context.Context, candles []types.StoredCandle) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (instrument_id, "interval", start_time, source, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instrument_id, "interval", start_time, source) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.InstrumentID, c.Interval, c.StartTime, c.Source,
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("upsert candle: %w", err)
		}
	}

	return tx.Commit()
}
