package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market-intel/pkg/types"
)

// EventRepo persists the append-only quote/trade event log and the
// order-book snapshots. Events are deduped on their natural id so replays
// and overlapping backfills are idempotent.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates the repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// InsertOrderbookEvent appends one quote event; duplicates are ignored.
func (r *EventRepo) InsertOrderbookEvent(ctx context.Context, ev *types.OrderbookEvent) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orderbook_events (natural_id, condition_id, outcome, ts, best_bid, best_ask, mid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (natural_id) DO NOTHING`,
		ev.NaturalID, ev.ConditionID, ev.Outcome, ev.Timestamp, ev.BestBid, ev.BestAsk, ev.Mid)
	if err != nil {
		return fmt.Errorf("insert orderbook event: %w", err)
	}
	return nil
}

// InsertTradeEvents appends trade events in one transaction; duplicates are
// ignored. Returns the number actually inserted.
func (r *EventRepo) InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_events (natural_id, condition_id, outcome, ts, price, size, side, wallet)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (natural_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		res, err := stmt.ExecContext(ctx,
			ev.NaturalID, ev.ConditionID, ev.Outcome, ev.Timestamp, ev.Price, ev.Size, ev.Side, ev.Wallet)
		if err != nil {
			return 0, fmt.Errorf("insert trade event: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// OrderbookEvents returns quote events for one (market, outcome) over
// [from, to], oldest first.
func (r *EventRepo) OrderbookEvents(ctx context.Context, conditionID string, outcome types.Outcome, from, to time.Time) ([]types.OrderbookEvent, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.OrderbookEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM orderbook_events
		WHERE condition_id = $1 AND outcome = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts`, conditionID, outcome, from, to)
	if err != nil {
		return nil, fmt.Errorf("orderbook events: %w", err)
	}
	return out, nil
}

// TradeEvents returns trade events for one (market, outcome) over
// [from, to], oldest first.
func (r *EventRepo) TradeEvents(ctx context.Context, conditionID string, outcome types.Outcome, from, to time.Time) ([]types.TradeEvent, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.TradeEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM trade_events
		WHERE condition_id = $1 AND outcome = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts`, conditionID, outcome, from, to)
	if err != nil {
		return nil, fmt.Errorf("trade events: %w", err)
	}
	return out, nil
}

// TradeEventsByWallet returns every trade event attributed to a wallet,
// oldest first.
func (r *EventRepo) TradeEventsByWallet(ctx context.Context, wallet string) ([]types.TradeEvent, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.TradeEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM trade_events WHERE wallet = $1 ORDER BY ts`, wallet)
	if err != nil {
		return nil, fmt.Errorf("trade events by wallet: %w", err)
	}
	return out, nil
}

// SaveSnapshot upserts the current order-book snapshot for one
// (market, outcome) with its expiry.
func (r *EventRepo) SaveSnapshot(ctx context.Context, snap *types.OrderbookSnapshot) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("encode bids: %w", err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("encode asks: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orderbook_snapshots (condition_id, outcome, bids, asks, captured_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (condition_id, outcome) DO UPDATE SET
			bids = EXCLUDED.bids,
			asks = EXCLUDED.asks,
			captured_at = EXCLUDED.captured_at,
			expires_at = EXCLUDED.expires_at`,
		snap.ConditionID, snap.Outcome, bids, asks, snap.CapturedAt, snap.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot for one (market, outcome), or
// ErrNoRows when none exists or the stored one has expired.
func (r *EventRepo) GetSnapshot(ctx context.Context, conditionID string, outcome types.Outcome) (*types.OrderbookSnapshot, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var row struct {
		types.OrderbookSnapshot
		BidsJSON []byte `db:"bids"`
		AsksJSON []byte `db:"asks"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM orderbook_snapshots
		WHERE condition_id = $1 AND outcome = $2 AND expires_at > now()`,
		conditionID, outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap := row.OrderbookSnapshot
	if err := json.Unmarshal(row.BidsJSON, &snap.Bids); err != nil {
		return nil, fmt.Errorf("decode bids: %w", err)
	}
	if err := json.Unmarshal(row.AsksJSON, &snap.Asks); err != nil {
		return nil, fmt.Errorf("decode asks: %w", err)
	}
	return &snap, nil
}
