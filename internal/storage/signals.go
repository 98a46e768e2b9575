package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"market-intel/pkg/types"
)

// SignalRepo persists computed signals. (instrument_id, type) is the upsert
// key; active queries exclude expired rows.
type SignalRepo struct {
	db *DB
}

// NewSignalRepo creates the repository.
func NewSignalRepo(db *DB) *SignalRepo {
	return &SignalRepo{db: db}
}

// Upsert writes a signal, replacing any prior signal of the same type on
// the same instrument.
func (r *SignalRepo) Upsert(ctx context.Context, s *types.Signal) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	evidence := s.Evidence
	if len(evidence) == 0 {
		evidence = []byte("[]")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, instrument_id, type, severity, score, confidence,
		                     reason, evidence, computed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instrument_id, type) DO UPDATE SET
			severity = EXCLUDED.severity,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			reason = EXCLUDED.reason,
			evidence = EXCLUDED.evidence,
			computed_at = EXCLUDED.computed_at,
			expires_at = EXCLUDED.expires_at`,
		s.ID, s.InstrumentID, s.Type, s.Severity, s.Score, s.Confidence,
		s.Reason, evidence, s.ComputedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

// Active returns an instrument's unexpired signals.
func (r *SignalRepo) Active(ctx context.Context, instrumentID string) ([]types.Signal, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.Signal
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM signals
		WHERE instrument_id = $1 AND expires_at > now()
		ORDER BY computed_at DESC`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("active signals: %w", err)
	}
	return out, nil
}

// RecentByTypes returns unexpired signals of the given types computed since
// a cutoff, across all instruments.
func (r *SignalRepo) RecentByTypes(ctx context.Context, signalTypes []types.SignalType, since time.Time) ([]types.Signal, error) {
	if len(signalTypes) == 0 {
		return nil, nil
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	typeStrs := make([]string, len(signalTypes))
	for i, t := range signalTypes {
		typeStrs[i] = string(t)
	}

	query, args, err := sqlx.In(`
		SELECT * FROM signals
		WHERE type IN (?) AND computed_at >= ? AND expires_at > now()
		ORDER BY computed_at DESC`, typeStrs, since)
	if err != nil {
		return nil, fmt.Errorf("expand query: %w", err)
	}

	var out []types.Signal
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return out, nil
}

// Get returns the current signal of one type on one instrument, or
// ErrNoRows.
func (r *SignalRepo) Get(ctx context.Context, instrumentID string, signalType types.SignalType) (*types.Signal, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var s types.Signal
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM signals WHERE instrument_id = $1 AND type = $2`,
		instrumentID, signalType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return &s, nil
}
