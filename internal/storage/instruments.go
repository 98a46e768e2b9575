package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"market-intel/pkg/types"
)

// ErrNoRows reports a lookup that matched nothing.
var ErrNoRows = errors.New("storage: no rows")

// InstrumentRepo persists instruments, their identifiers and competitor
// links. Instruments are soft-deactivated, never deleted.
type InstrumentRepo struct {
	db *DB
}

// NewInstrumentRepo creates the repository.
func NewInstrumentRepo(db *DB) *InstrumentRepo {
	return &InstrumentRepo{db: db}
}

// GetBySymbol returns the instrument with the given symbol.
func (r *InstrumentRepo) GetBySymbol(ctx context.Context, symbol string) (*types.Instrument, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var inst types.Instrument
	err := r.db.GetContext(ctx, &inst,
		`SELECT * FROM instruments WHERE symbol = $1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument by symbol: %w", err)
	}
	return &inst, nil
}

// GetByIdentifier returns the instrument carrying the given identifier.
func (r *InstrumentRepo) GetByIdentifier(ctx context.Context, idType types.IdentifierType, value string) (*types.Instrument, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var inst types.Instrument
	err := r.db.GetContext(ctx, &inst, `
		SELECT i.* FROM instruments i
		JOIN instrument_identifiers ii ON ii.instrument_id = i.id
		WHERE ii.type = $1 AND ii.value = $2`, idType, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument by identifier: %w", err)
	}
	return &inst, nil
}

// Get returns an instrument by id.
func (r *InstrumentRepo) Get(ctx context.Context, id string) (*types.Instrument, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var inst types.Instrument
	err := r.db.GetContext(ctx, &inst, `SELECT * FROM instruments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument: %w", err)
	}
	return &inst, nil
}

// EnsureBySymbol returns the instrument for a symbol, creating a minimal
// placeholder if none exists yet. Placeholders are filled in later by
// enrichment.
func (r *InstrumentRepo) EnsureBySymbol(ctx context.Context, symbol string, instType types.InstrumentType) (*types.Instrument, error) {
	if inst, err := r.GetBySymbol(ctx, symbol); err == nil {
		return inst, nil
	} else if !errors.Is(err, ErrNoRows) {
		return nil, err
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	inst := types.Instrument{
		ID:     uuid.NewString(),
		Type:   instType,
		Symbol: symbol,
		Status: types.InstrumentActive,
	}
	// A concurrent worker may have inserted the same symbol; the unique
	// index turns the insert into an updated_at touch and RETURNING yields
	// the existing row.
	var got types.Instrument
	err := r.db.GetContext(ctx, &got, `
		INSERT INTO instruments (id, type, symbol, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET updated_at = now()
		RETURNING *`, inst.ID, inst.Type, inst.Symbol, inst.Status)
	if err != nil {
		return nil, fmt.Errorf("ensure instrument: %w", err)
	}
	return &got, nil
}

// Update applies enrichment fields.
func (r *InstrumentRepo) Update(ctx context.Context, inst *types.Instrument) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE instruments
		SET type = $2, name = $3, exchange = $4, status = $5, updated_at = now()
		WHERE id = $1`,
		inst.ID, inst.Type, inst.Name, inst.Exchange, inst.Status)
	if err != nil {
		return fmt.Errorf("update instrument: %w", err)
	}
	return nil
}

// Deactivate soft-deactivates an instrument.
func (r *InstrumentRepo) Deactivate(ctx context.Context, id string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE instruments SET status = $2, updated_at = now() WHERE id = $1`,
		id, types.InstrumentInactive)
	if err != nil {
		return fmt.Errorf("deactivate instrument: %w", err)
	}
	return nil
}

// SetIdentifier upserts one identifier. Each identifier type is unique per
// instrument.
func (r *InstrumentRepo) SetIdentifier(ctx context.Context, id string, idType types.IdentifierType, value string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instrument_identifiers (instrument_id, type, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, type) DO UPDATE SET value = EXCLUDED.value`,
		id, idType, value)
	if err != nil {
		return fmt.Errorf("set identifier: %w", err)
	}
	return nil
}

// ListByType returns all active instruments of a type.
func (r *InstrumentRepo) ListByType(ctx context.Context, instType types.InstrumentType) ([]types.Instrument, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.Instrument
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM instruments WHERE type = $1 AND status = $2 ORDER BY symbol`,
		instType, types.InstrumentActive)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	return out, nil
}

// Competitors returns the competitor links of an instrument.
func (r *InstrumentRepo) Competitors(ctx context.Context, id string) ([]types.CompetitorLink, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.CompetitorLink
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM competitor_links WHERE instrument_id = $1 ORDER BY confidence DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	return out, nil
}

// LinkCompetitor upserts a competitor relationship.
func (r *InstrumentRepo) LinkCompetitor(ctx context.Context, link types.CompetitorLink) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO competitor_links (instrument_id, competitor_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, competitor_id) DO UPDATE SET confidence = EXCLUDED.confidence`,
		link.InstrumentID, link.CompetitorID, link.Confidence)
	if err != nil {
		return fmt.Errorf("link competitor: %w", err)
	}
	return nil
}
