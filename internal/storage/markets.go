package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"market-intel/pkg/types"
)

// MarketRepo persists the prediction-market catalog.
type MarketRepo struct {
	db *DB
}

// NewMarketRepo creates the repository.
func NewMarketRepo(db *DB) *MarketRepo {
	return &MarketRepo{db: db}
}

// marketRow is the flat DB shape; outcome/token arrays live in JSONB.
type marketRow struct {
	types.Market
	OutcomesJSON []byte `db:"outcomes"`
	TokenIDsJSON []byte `db:"token_ids"`
}

func (row *marketRow) toMarket() (*types.Market, error) {
	m := row.Market
	if len(row.OutcomesJSON) > 0 {
		if err := json.Unmarshal(row.OutcomesJSON, &m.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
	}
	if len(row.TokenIDsJSON) > 0 {
		if err := json.Unmarshal(row.TokenIDsJSON, &m.TokenIDs); err != nil {
			return nil, fmt.Errorf("decode token ids: %w", err)
		}
	}
	return &m, nil
}

// Get returns one market.
func (r *MarketRepo) Get(ctx context.Context, conditionID string) (*types.Market, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var row marketRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM markets WHERE condition_id = $1`, conditionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	return row.toMarket()
}

// List returns markets with the total count, optionally restricted to
// active ones.
func (r *MarketRepo) List(ctx context.Context, activeOnly bool, limit, offset int) ([]types.Market, int, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	where := ""
	if activeOnly {
		where = "WHERE active"
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM markets `+where); err != nil {
		return nil, 0, fmt.Errorf("count markets: %w", err)
	}

	var rows []marketRow
	err := r.db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT * FROM markets %s ORDER BY indexed_at DESC LIMIT $1 OFFSET $2`, where),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}

	out := make([]types.Market, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMarket()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, nil
}

// ListKnown returns every condition id currently in the catalog.
func (r *MarketRepo) ListKnown(ctx context.Context) ([]string, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT condition_id FROM markets ORDER BY condition_id`); err != nil {
		return nil, fmt.Errorf("list known markets: %w", err)
	}
	return ids, nil
}

// Upsert merges an incoming market into the catalog row. Incoming non-empty
// values win; the outcome → token map is written only once (immutable once
// set).
func (r *MarketRepo) Upsert(ctx context.Context, m *types.Market) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	tokenIDs, err := json.Marshal(m.TokenIDs)
	if err != nil {
		return fmt.Errorf("encode token ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO markets (condition_id, question, slug, outcomes, token_ids, end_date,
		                     active, closed, liquidity, volume_24h, last_yes_price,
		                     last_no_price, last_updated_block, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (condition_id) DO UPDATE SET
			question           = COALESCE(NULLIF(EXCLUDED.question, ''), markets.question),
			slug               = COALESCE(NULLIF(EXCLUDED.slug, ''), markets.slug),
			outcomes           = CASE WHEN markets.outcomes = '[]'::jsonb THEN EXCLUDED.outcomes ELSE markets.outcomes END,
			token_ids          = CASE WHEN markets.token_ids = '[]'::jsonb THEN EXCLUDED.token_ids ELSE markets.token_ids END,
			end_date           = CASE WHEN EXCLUDED.end_date > 'epoch' THEN EXCLUDED.end_date ELSE markets.end_date END,
			active             = EXCLUDED.active,
			closed             = EXCLUDED.closed,
			liquidity          = COALESCE(NULLIF(EXCLUDED.liquidity, ''), markets.liquidity),
			volume_24h         = COALESCE(NULLIF(EXCLUDED.volume_24h, ''), markets.volume_24h),
			last_yes_price     = COALESCE(NULLIF(EXCLUDED.last_yes_price, ''), markets.last_yes_price),
			last_no_price      = COALESCE(NULLIF(EXCLUDED.last_no_price, ''), markets.last_no_price),
			last_updated_block = GREATEST(EXCLUDED.last_updated_block, markets.last_updated_block),
			indexed_at         = now()`,
		m.ConditionID, m.Question, m.Slug, outcomes, tokenIDs, m.EndDate,
		m.Active, m.Closed, m.Liquidity, m.Volume24h, m.LastYesPrice,
		m.LastNoPrice, m.LastUpdatedBlock)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// SetActive flips the active flag.
func (r *MarketRepo) SetActive(ctx context.Context, conditionID string, active bool) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE markets SET active = $2 WHERE condition_id = $1`, conditionID, active)
	if err != nil {
		return fmt.Errorf("set market active: %w", err)
	}
	return nil
}

