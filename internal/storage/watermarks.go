package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WatermarkRepo records per-source incremental sync progress (last seen
// article timestamp, last filing accession, and similar cursors).
type WatermarkRepo struct {
	db *DB
}

// NewWatermarkRepo creates the repository.
func NewWatermarkRepo(db *DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

// Get returns the watermark for a source, or "" when none is recorded.
func (r *WatermarkRepo) Get(ctx context.Context, source string) (string, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var mark string
	err := r.db.GetContext(ctx, &mark,
		`SELECT watermark FROM sync_watermarks WHERE source = $1`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get watermark: %w", err)
	}
	return mark, nil
}

// Set upserts the watermark for a source.
func (r *WatermarkRepo) Set(ctx context.Context, source, mark string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (source, watermark, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			updated_at = now()`, source, mark)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
