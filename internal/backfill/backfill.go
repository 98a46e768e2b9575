// Package backfill performs one-shot historical trade ingestion for a
// single market: paginate the upstream trade history until a short page,
// deduplicate on the natural id, batch-insert into the event log and record
// the outcome on the backfill row.
//
// Backfill is fire-and-forget from the indexer — a failure here never
// blocks catalog sync. Markets already completed are skipped unless forced.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// TradeSource serves the paginated trade history.
type TradeSource interface {
	Trades(conditionID string, batchSize int) sources.Pager[sources.TradeRecord]
}

// EventStore is the slice of the event repository backfill writes to.
type EventStore interface {
	InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error)
}

// StatusStore records backfill progress.
type StatusStore interface {
	Get(ctx context.Context, conditionID string) (*types.Backfill, error)
	Start(ctx context.Context, conditionID string) error
	Complete(ctx context.Context, conditionID string, count int, earliest, latest *time.Time) error
	Fail(ctx context.Context, conditionID string, message string) error
}

// Backfiller ingests trade history per market.
type Backfiller struct {
	source    TradeSource
	events    EventStore
	status    StatusStore
	batchSize int
	log       zerolog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates the backfiller. ctx bounds the lifetime of launched
// background runs.
func New(ctx context.Context, source TradeSource, events EventStore, status StatusStore, batchSize int, log zerolog.Logger) *Backfiller {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Backfiller{
		source:    source,
		events:    events,
		status:    status,
		batchSize: batchSize,
		ctx:       ctx,
		log:       log.With().Str("component", "backfill").Logger(),
	}
}

// Launch starts a background backfill for a market. Failures are logged,
// never returned — the caller is the indexer and must not block.
func (b *Backfiller) Launch(conditionID string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.Run(b.ctx, conditionID, false); err != nil {
			b.log.Error().Err(err).Str("market", conditionID).Msg("backfill failed")
		}
	}()
}

// Wait blocks until all launched backfills have finished.
func (b *Backfiller) Wait() { b.wg.Wait() }

// Run ingests the full trade history of one market. Already-completed
// markets are skipped unless force is set.
func (b *Backfiller) Run(ctx context.Context, conditionID string, force bool) error {
	if !force {
		prior, err := b.status.Get(ctx, conditionID)
		if err != nil && !errors.Is(err, storage.ErrNoRows) {
			return fmt.Errorf("check backfill status: %w", err)
		}
		if prior != nil && prior.Status == types.BackfillCompleted {
			b.log.Debug().Str("market", conditionID).Msg("already backfilled, skipping")
			return nil
		}
	}

	if err := b.status.Start(ctx, conditionID); err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}

	count, earliest, latest, err := b.ingest(ctx, conditionID)
	if err != nil {
		if failErr := b.status.Fail(ctx, conditionID, err.Error()); failErr != nil {
			b.log.Error().Err(failErr).Str("market", conditionID).Msg("record failure")
		}
		return err
	}

	if err := b.status.Complete(ctx, conditionID, count, earliest, latest); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	b.log.Info().
		Str("market", conditionID).
		Int("trades", count).
		Msg("backfill complete")
	return nil
}

func (b *Backfiller) ingest(ctx context.Context, conditionID string) (int, *time.Time, *time.Time, error) {
	pager := b.source.Trades(conditionID, b.batchSize)

	seen := make(map[string]bool)
	total := 0
	var earliest, latest *time.Time

	for {
		batch, ok, err := pager.Next(ctx)
		if err != nil {
			return total, earliest, latest, fmt.Errorf("fetch trades: %w", err)
		}
		if !ok {
			break
		}

		events := make([]types.TradeEvent, 0, len(batch))
		for _, t := range batch {
			naturalID := types.TradeNaturalID(t.ConditionID, t.Outcome, t.Timestamp, t.Price, t.Size)
			if seen[naturalID] {
				continue
			}
			seen[naturalID] = true

			events = append(events, types.TradeEvent{
				ConditionID: t.ConditionID,
				Outcome:     t.Outcome,
				Timestamp:   t.Timestamp,
				Price:       t.Price,
				Size:        t.Size,
				Side:        t.Side,
				Wallet:      t.Wallet,
				NaturalID:   naturalID,
			})

			ts := t.Timestamp
			if earliest == nil || ts.Before(*earliest) {
				tsCopy := ts
				earliest = &tsCopy
			}
			if latest == nil || ts.After(*latest) {
				tsCopy := ts
				latest = &tsCopy
			}
		}

		if _, err := b.events.InsertTradeEvents(ctx, events); err != nil {
			return total, earliest, latest, fmt.Errorf("insert trades: %w", err)
		}
		total += len(events)
	}

	return total, earliest, latest, nil
}
