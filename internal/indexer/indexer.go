// Package indexer keeps the local prediction-market catalog in sync with
// the upstream source.
//
// Two sync flavors run on separate schedules:
//
//   - Full: walk the whole paginated catalog, merge-upsert every market
//     (incoming non-empty values win), trigger historical backfill for
//     newly discovered ids, and invalidate caches.
//   - Incremental: re-fetch state for each locally known market, skipping
//     markets whose lastUpdatedBlock has not advanced past the stored
//     marker.
//
// Both flavors process markets in batches of two with a one-second
// inter-batch delay, and after each batch ask the stream service to refresh
// subscriptions so new markets join the live feed immediately.
package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/pkg/types"
)

const (
	batchWidth = 2
	batchDelay = time.Second
)

// Catalog is the upstream catalog source.
type Catalog interface {
	Markets() sources.Pager[sources.MarketRecord]
	MarketState(ctx context.Context, conditionID string) (sources.MarketRecord, error)
}

// MarketStore is the slice of the market repository the indexer uses.
type MarketStore interface {
	Get(ctx context.Context, conditionID string) (*types.Market, error)
	Upsert(ctx context.Context, m *types.Market) error
	ListKnown(ctx context.Context) ([]string, error)
}

// Backfiller launches historical trade ingestion for one market.
// Fire-and-forget: a backfill failure never blocks catalog sync.
type Backfiller interface {
	Launch(conditionID string)
}

// SubscriptionRefresher joins newly discovered markets to the live feed.
// The stream service is injected after both components exist; nil is
// tolerated so the indexer can run without a stream (tests, tooling).
type SubscriptionRefresher interface {
	RefreshSubscriptions(ctx context.Context) error
}

// CacheInvalidator drops cached views after an upsert.
type CacheInvalidator interface {
	Invalidate(conditionID string)
}

// Indexer performs catalog sync.
type Indexer struct {
	catalog    Catalog
	store      MarketStore
	backfiller Backfiller
	caches     CacheInvalidator
	refresher  SubscriptionRefresher
	log        zerolog.Logger
}

// New creates the indexer.
func New(catalog Catalog, store MarketStore, backfiller Backfiller, caches CacheInvalidator, log zerolog.Logger) *Indexer {
	return &Indexer{
		catalog:    catalog,
		store:      store,
		backfiller: backfiller,
		caches:     caches,
		log:        log.With().Str("component", "indexer").Logger(),
	}
}

// SetRefresher injects the stream service once it exists.
func (ix *Indexer) SetRefresher(r SubscriptionRefresher) {
	ix.refresher = r
}

// FullSync walks the entire catalog. One bad market never aborts the sync.
func (ix *Indexer) FullSync(ctx context.Context) error {
	pager := ix.catalog.Markets()
	seen, upserted, discovered := 0, 0, 0

	for {
		batch, ok, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		for start := 0; start < len(batch); start += batchWidth {
			end := start + batchWidth
			if end > len(batch) {
				end = len(batch)
			}

			for _, rec := range batch[start:end] {
				seen++
				isNew, err := ix.upsertRecord(ctx, rec)
				if err != nil {
					ix.log.Error().Err(err).Str("market", rec.ConditionID).Msg("upsert failed")
					continue
				}
				upserted++
				if isNew {
					discovered++
					if ix.backfiller != nil {
						ix.backfiller.Launch(rec.ConditionID)
					}
				}
			}

			ix.refresh(ctx)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchDelay):
			}
		}
	}

	ix.log.Info().
		Int("seen", seen).
		Int("upserted", upserted).
		Int("discovered", discovered).
		Int("total_reported", pager.Total()).
		Msg("full sync complete")
	return nil
}

// IncrementalSync refreshes every known market's state, skipping markets
// whose block marker has not advanced.
func (ix *Indexer) IncrementalSync(ctx context.Context) error {
	known, err := ix.store.ListKnown(ctx)
	if err != nil {
		return err
	}

	updated, skipped := 0, 0
	for start := 0; start < len(known); start += batchWidth {
		end := start + batchWidth
		if end > len(known) {
			end = len(known)
		}

		for _, conditionID := range known[start:end] {
			stored, err := ix.store.Get(ctx, conditionID)
			if err != nil {
				ix.log.Error().Err(err).Str("market", conditionID).Msg("load failed")
				continue
			}

			rec, err := ix.catalog.MarketState(ctx, conditionID)
			if err != nil {
				if errors.Is(err, sources.ErrNotFound) {
					ix.log.Debug().Str("market", conditionID).Msg("market gone upstream")
				} else {
					ix.log.Error().Err(err).Str("market", conditionID).Msg("state fetch failed")
				}
				continue
			}

			if rec.LastUpdatedBlock != 0 && rec.LastUpdatedBlock <= stored.LastUpdatedBlock {
				skipped++
				continue
			}

			if _, err := ix.upsertRecord(ctx, rec); err != nil {
				ix.log.Error().Err(err).Str("market", conditionID).Msg("upsert failed")
				continue
			}
			updated++
		}

		ix.refresh(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(batchDelay):
		}
	}

	ix.log.Info().Int("updated", updated).Int("skipped", skipped).Msg("incremental sync complete")
	return nil
}

// upsertRecord merges one catalog record into the store and invalidates its
// cached views. Returns whether the market was previously unknown.
func (ix *Indexer) upsertRecord(ctx context.Context, rec sources.MarketRecord) (bool, error) {
	_, err := ix.store.Get(ctx, rec.ConditionID)
	isNew := err != nil

	m := &types.Market{
		ConditionID:      rec.ConditionID,
		Question:         rec.Question,
		Slug:             rec.Slug,
		Outcomes:         rec.Outcomes,
		TokenIDs:         rec.TokenIDs,
		EndDate:          rec.EndDate,
		Active:           rec.Active && !rec.Closed,
		Closed:           rec.Closed,
		Liquidity:        rec.Liquidity,
		Volume24h:        rec.Volume24h,
		LastYesPrice:     rec.Price(types.OutcomeYes),
		LastNoPrice:      rec.Price(types.OutcomeNo),
		LastUpdatedBlock: rec.LastUpdatedBlock,
	}
	if err := ix.store.Upsert(ctx, m); err != nil {
		return false, err
	}

	if ix.caches != nil {
		ix.caches.Invalidate(rec.ConditionID)
	}
	return isNew, nil
}

func (ix *Indexer) refresh(ctx context.Context) {
	if ix.refresher == nil {
		return
	}
	if err := ix.refresher.RefreshSubscriptions(ctx); err != nil {
		ix.log.Warn().Err(err).Msg("subscription refresh failed")
	}
}
