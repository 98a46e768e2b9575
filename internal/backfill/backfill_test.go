package backfill

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

type fakeTradeSource struct {
	pages   [][]sources.TradeRecord
	offsets []int
	err     error
}

func (f *fakeTradeSource) Trades(conditionID string, batchSize int) sources.Pager[sources.TradeRecord] {
	return sources.NewPager(batchSize, func(_ context.Context, offset int) ([]sources.TradeRecord, int, error) {
		if f.err != nil {
			return nil, 0, f.err
		}
		f.offsets = append(f.offsets, offset)
		page := offset / batchSize
		if page >= len(f.pages) {
			return nil, 0, nil
		}
		return f.pages[page], -1, nil
	})
}

type fakeEventStore struct {
	inserted []types.TradeEvent
}

func (f *fakeEventStore) InsertTradeEvents(_ context.Context, events []types.TradeEvent) (int, error) {
	f.inserted = append(f.inserted, events...)
	return len(events), nil
}

type fakeStatusStore struct {
	records map[string]*types.Backfill
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{records: make(map[string]*types.Backfill)}
}

func (f *fakeStatusStore) Get(_ context.Context, conditionID string) (*types.Backfill, error) {
	b, ok := f.records[conditionID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	return b, nil
}

func (f *fakeStatusStore) Start(_ context.Context, conditionID string) error {
	f.records[conditionID] = &types.Backfill{ConditionID: conditionID, Status: types.BackfillInProgress}
	return nil
}

func (f *fakeStatusStore) Complete(_ context.Context, conditionID string, count int, earliest, latest *time.Time) error {
	b := f.records[conditionID]
	b.Status = types.BackfillCompleted
	b.TradeEventsCount = count
	b.EarliestTimestamp = earliest
	b.LatestTimestamp = latest
	return nil
}

func (f *fakeStatusStore) Fail(_ context.Context, conditionID string, message string) error {
	b := f.records[conditionID]
	b.Status = types.BackfillFailed
	b.ErrorMessage = &message
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func makeTrades(n int, start time.Time) []sources.TradeRecord {
	out := make([]sources.TradeRecord, n)
	for i := range out {
		out[i] = sources.TradeRecord{
			ConditionID: "cond-1",
			Outcome:     types.OutcomeYes,
			Timestamp:   start.Add(time.Duration(i) * time.Second),
			Price:       "0.50",
			Size:        "1",
		}
	}
	return out
}

// Bounded pagination: 5000 + 5000 + 1200 trades over
// three pages fetched at offsets 0, 5000, 10000; the backfill completes
// with 11200 events and min/max timestamps.
func TestBoundedPagination(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	src := &fakeTradeSource{pages: [][]sources.TradeRecord{
		makeTrades(5000, start),
		makeTrades(5000, start.Add(2*time.Hour)),
		makeTrades(1200, start.Add(4*time.Hour)),
	}}
	events := &fakeEventStore{}
	status := newFakeStatusStore()

	b := New(context.Background(), src, events, status, 5000, testLogger())
	if err := b.Run(context.Background(), "cond-1", false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantOffsets := []int{0, 5000, 10000}
	if len(src.offsets) != len(wantOffsets) {
		t.Fatalf("fetch offsets = %v, want %v", src.offsets, wantOffsets)
	}
	for i, off := range wantOffsets {
		if src.offsets[i] != off {
			t.Errorf("offset %d = %d, want %d", i, src.offsets[i], off)
		}
	}

	rec := status.records["cond-1"]
	if rec.Status != types.BackfillCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.TradeEventsCount != 11200 {
		t.Errorf("tradeEventsCount = %d, want 11200", rec.TradeEventsCount)
	}
	if rec.EarliestTimestamp == nil || !rec.EarliestTimestamp.Equal(start) {
		t.Errorf("earliest = %v, want %v", rec.EarliestTimestamp, start)
	}
	wantLatest := start.Add(4*time.Hour + 1199*time.Second)
	if rec.LatestTimestamp == nil || !rec.LatestTimestamp.Equal(wantLatest) {
		t.Errorf("latest = %v, want %v", rec.LatestTimestamp, wantLatest)
	}
	if len(events.inserted) != 11200 {
		t.Errorf("inserted = %d, want 11200", len(events.inserted))
	}
}

func TestDeduplicatesByNaturalID(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	dup := makeTrades(10, start)
	src := &fakeTradeSource{pages: [][]sources.TradeRecord{append(dup, dup...)}}
	events := &fakeEventStore{}
	status := newFakeStatusStore()

	b := New(context.Background(), src, events, status, 5000, testLogger())
	if err := b.Run(context.Background(), "cond-1", false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events.inserted) != 10 {
		t.Errorf("inserted = %d, want 10 after dedup", len(events.inserted))
	}
	if status.records["cond-1"].TradeEventsCount != 10 {
		t.Errorf("count = %d, want 10", status.records["cond-1"].TradeEventsCount)
	}
}

func TestSkipsCompletedUnlessForced(t *testing.T) {
	t.Parallel()

	src := &fakeTradeSource{pages: [][]sources.TradeRecord{makeTrades(5, time.Now().UTC())}}
	events := &fakeEventStore{}
	status := newFakeStatusStore()
	status.records["cond-1"] = &types.Backfill{ConditionID: "cond-1", Status: types.BackfillCompleted}

	b := New(context.Background(), src, events, status, 5000, testLogger())
	if err := b.Run(context.Background(), "cond-1", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(src.offsets) != 0 {
		t.Error("completed market should not be re-fetched")
	}

	if err := b.Run(context.Background(), "cond-1", true); err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if len(src.offsets) == 0 {
		t.Error("forced run should re-fetch")
	}
}

func TestErrorRecordsFailed(t *testing.T) {
	t.Parallel()

	src := &fakeTradeSource{err: errors.New("upstream down")}
	events := &fakeEventStore{}
	status := newFakeStatusStore()

	b := New(context.Background(), src, events, status, 5000, testLogger())
	if err := b.Run(context.Background(), "cond-1", false); err == nil {
		t.Fatal("Run should surface the error")
	}

	rec := status.records["cond-1"]
	if rec.Status != types.BackfillFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ErrorMessage == nil {
		t.Error("errorMessage not recorded")
	}
}
