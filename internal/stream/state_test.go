package stream

import (
	"testing"

	"market-intel/pkg/types"
)

func seededBook(t *testing.T) *BookState {
	t.Helper()
	b := NewBookState("cond-1", types.OutcomeYes)
	err := b.Seed(
		[]types.PriceLevel{{Price: "0.49", Size: "100"}, {Price: "0.48", Size: "200"}},
		[]types.PriceLevel{{Price: "0.51", Size: "150"}},
	)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return b
}

func TestSeedBestAndMid(t *testing.T) {
	t.Parallel()
	b := seededBook(t)

	bid, ask, ok := b.Best()
	if !ok {
		t.Fatal("Best returned ok=false after seed")
	}
	if bid.String() != "0.49" || ask.String() != "0.51" {
		t.Errorf("best = %s/%s, want 0.49/0.51", bid, ask)
	}

	mid, ok := b.Mid()
	if !ok || mid.String() != "0.5" {
		t.Errorf("mid = %s, want 0.5", mid)
	}
}

// Applying deltas: remove the 0.49 bid, then insert a 0.495 bid.
func TestApplyDeltaRemoveThenInsert(t *testing.T) {
	t.Parallel()
	b := seededBook(t)

	emit, err := b.ApplyDelta(types.SideBid, "0.49", "0", types.FramingNone)
	if err != nil {
		t.Fatalf("remove delta: %v", err)
	}
	if !emit {
		t.Error("unframed delta should emit")
	}

	emit, err = b.ApplyDelta(types.SideBid, "0.495", "50", types.FramingNone)
	if err != nil {
		t.Fatalf("insert delta: %v", err)
	}
	if !emit {
		t.Error("unframed delta should emit")
	}

	bid, ask, ok := b.Best()
	if !ok {
		t.Fatal("Best returned ok=false")
	}
	if bid.String() != "0.495" {
		t.Errorf("best bid = %s, want 0.495", bid)
	}
	if ask.String() != "0.51" {
		t.Errorf("best ask = %s, want 0.51", ask)
	}

	mid, _ := b.Mid()
	if mid.String() != "0.5025" {
		t.Errorf("mid = %s, want 0.5025", mid)
	}
}

func TestApplyDeltaReplacesSize(t *testing.T) {
	t.Parallel()
	b := seededBook(t)

	if _, err := b.ApplyDelta(types.SideBid, "0.49", "999", types.FramingNone); err != nil {
		t.Fatalf("replace delta: %v", err)
	}

	bids, _ := b.Levels()
	if bids[0].Price != "0.49" || bids[0].Size != "999" {
		t.Errorf("top bid = %+v, want 0.49/999", bids[0])
	}
}

func TestSnapshotFramingResetsAndSuppresses(t *testing.T) {
	t.Parallel()
	b := seededBook(t)

	// start frame resets the bid side and suppresses emission.
	emit, err := b.ApplyDelta(types.SideBid, "0.40", "10", types.FramingStart)
	if err != nil {
		t.Fatalf("start delta: %v", err)
	}
	if emit {
		t.Error("framed delta must not emit")
	}

	emit, err = b.ApplyDelta(types.SideBid, "0.41", "20", types.FramingNone)
	if err != nil {
		t.Fatalf("mid-frame delta: %v", err)
	}
	if emit {
		t.Error("delta inside open frame must not emit")
	}

	emit, err = b.ApplyDelta(types.SideBid, "0.42", "30", types.FramingEnd)
	if err != nil {
		t.Fatalf("end delta: %v", err)
	}
	if emit {
		t.Error("end-framed delta must not emit")
	}

	// The replayed ladder replaced the seeded bids entirely.
	bids, asks := b.Levels()
	if len(bids) != 3 || bids[0].Price != "0.42" {
		t.Errorf("bids after replay = %+v, want [0.42 0.41 0.40]", bids)
	}
	if len(asks) != 1 {
		t.Errorf("asks should be untouched by a bid-side replay, got %+v", asks)
	}

	// Emission resumes after the frame closes.
	emit, err = b.ApplyDelta(types.SideBid, "0.43", "5", types.FramingNone)
	if err != nil {
		t.Fatalf("post-frame delta: %v", err)
	}
	if !emit {
		t.Error("delta after closed frame should emit")
	}
}

func TestLaddersStaySorted(t *testing.T) {
	t.Parallel()
	b := NewBookState("cond-2", types.OutcomeNo)
	if err := b.Seed(nil, nil); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	for _, d := range []struct {
		side  types.BookSide
		price string
	}{
		{types.SideBid, "0.30"}, {types.SideBid, "0.45"}, {types.SideBid, "0.40"},
		{types.SideAsk, "0.60"}, {types.SideAsk, "0.55"}, {types.SideAsk, "0.70"},
	} {
		if _, err := b.ApplyDelta(d.side, d.price, "10", types.FramingNone); err != nil {
			t.Fatalf("delta %s@%s: %v", d.side, d.price, err)
		}
	}

	bids, asks := b.Levels()
	for i := 1; i < len(bids); i++ {
		if bids[i].Price > bids[i-1].Price {
			t.Errorf("bids not non-increasing: %+v", bids)
		}
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price < asks[i-1].Price {
			t.Errorf("asks not non-decreasing: %+v", asks)
		}
	}
}

func TestSeedDropsZeroSizeLevels(t *testing.T) {
	t.Parallel()
	b := NewBookState("cond-3", types.OutcomeYes)
	err := b.Seed(
		[]types.PriceLevel{{Price: "0.50", Size: "0"}, {Price: "0.49", Size: "10"}},
		[]types.PriceLevel{{Price: "0.51", Size: "10"}},
	)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	bid, _, ok := b.Best()
	if !ok || bid.String() != "0.49" {
		t.Errorf("best bid = %s, want 0.49 (zero-size level dropped)", bid)
	}
}
