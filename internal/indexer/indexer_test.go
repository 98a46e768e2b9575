package indexer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

type fakeCatalog struct {
	records []sources.MarketRecord
	states  map[string]sources.MarketRecord
}

func (f *fakeCatalog) Markets() sources.Pager[sources.MarketRecord] {
	return sources.NewPager(200, func(_ context.Context, offset int) ([]sources.MarketRecord, int, error) {
		if offset >= len(f.records) {
			return nil, len(f.records), nil
		}
		return f.records, len(f.records), nil
	})
}

func (f *fakeCatalog) MarketState(_ context.Context, conditionID string) (sources.MarketRecord, error) {
	rec, ok := f.states[conditionID]
	if !ok {
		return sources.MarketRecord{}, sources.ErrNotFound
	}
	return rec, nil
}

type fakeStore struct {
	markets map[string]*types.Market
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{markets: make(map[string]*types.Market)}
}

func (f *fakeStore) Get(_ context.Context, conditionID string) (*types.Market, error) {
	m, ok := f.markets[conditionID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	copied := *m
	return &copied, nil
}

func (f *fakeStore) Upsert(_ context.Context, m *types.Market) error {
	f.upserts++
	copied := *m
	f.markets[m.ConditionID] = &copied
	return nil
}

func (f *fakeStore) ListKnown(context.Context) ([]string, error) {
	out := make([]string, 0, len(f.markets))
	for id := range f.markets {
		out = append(out, id)
	}
	return out, nil
}

type fakeBackfiller struct {
	launched []string
}

func (f *fakeBackfiller) Launch(conditionID string) {
	f.launched = append(f.launched, conditionID)
}

type fakeCaches struct {
	invalidated []string
}

func (f *fakeCaches) Invalidate(conditionID string) {
	f.invalidated = append(f.invalidated, conditionID)
}

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) RefreshSubscriptions(context.Context) error {
	f.calls++
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func record(id string, block int64) sources.MarketRecord {
	return sources.MarketRecord{
		ConditionID:      id,
		Question:         "will it happen",
		Outcomes:         []string{"YES", "NO"},
		TokenIDs:         []string{id + "-y", id + "-n"},
		OutcomePrices:    []string{"0.6", "0.4"},
		Active:           true,
		LastUpdatedBlock: block,
	}
}

func TestFullSyncUpsertsAndBackfillsNewMarkets(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{records: []sources.MarketRecord{
		record("m1", 10), record("m2", 20), record("m3", 30),
	}}
	store := newFakeStore()
	// m1 is already known; only m2/m3 are new discoveries.
	store.markets["m1"] = &types.Market{ConditionID: "m1"}

	backfiller := &fakeBackfiller{}
	caches := &fakeCaches{}
	refresher := &fakeRefresher{}

	ix := New(catalog, store, backfiller, caches, testLogger())
	ix.SetRefresher(refresher)

	if err := ix.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	if store.upserts != 3 {
		t.Errorf("upserts = %d, want 3", store.upserts)
	}
	if len(backfiller.launched) != 2 {
		t.Errorf("backfills launched = %v, want m2 m3 only", backfiller.launched)
	}
	if len(caches.invalidated) != 3 {
		t.Errorf("invalidations = %d, want 3", len(caches.invalidated))
	}
	if refresher.calls == 0 {
		t.Error("subscription refresh never called")
	}

	// Cached prices land on the market row.
	m := store.markets["m1"]
	if m.LastYesPrice != "0.6" || m.LastNoPrice != "0.4" {
		t.Errorf("prices = %s/%s, want 0.6/0.4", m.LastYesPrice, m.LastNoPrice)
	}
}

func TestIncrementalSyncSkipsStaleBlockMarker(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.markets["m1"] = &types.Market{ConditionID: "m1", LastUpdatedBlock: 100}
	store.markets["m2"] = &types.Market{ConditionID: "m2", LastUpdatedBlock: 100}

	catalog := &fakeCatalog{states: map[string]sources.MarketRecord{
		"m1": record("m1", 100), // not advanced
		"m2": record("m2", 150), // advanced
	}}

	ix := New(catalog, store, nil, nil, testLogger())

	if err := ix.IncrementalSync(context.Background()); err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}

	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (m1 skipped)", store.upserts)
	}
	if store.markets["m2"].LastUpdatedBlock != 150 {
		t.Errorf("m2 block = %d, want 150", store.markets["m2"].LastUpdatedBlock)
	}
}

func TestIncrementalSyncToleratesGoneMarkets(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.markets["m1"] = &types.Market{ConditionID: "m1"}
	catalog := &fakeCatalog{states: map[string]sources.MarketRecord{}}

	ix := New(catalog, store, nil, nil, testLogger())
	if err := ix.IncrementalSync(context.Background()); err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
}

func TestFullSyncHonorsCancellation(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{records: []sources.MarketRecord{record("m1", 1), record("m2", 2), record("m3", 3)}}
	ix := New(catalog, newFakeStore(), nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := ix.FullSync(ctx)
	if err == nil {
		t.Fatal("cancelled sync returned nil")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("cancelled sync kept sleeping through batches")
	}
}
