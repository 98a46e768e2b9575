package candles

import (
	"testing"
	"time"

	"market-intel/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func trade(ts time.Time, price, size string) types.TradeEvent {
	return types.TradeEvent{
		ConditionID: "cond-1",
		Outcome:     types.OutcomeYes,
		Timestamp:   ts,
		Price:       price,
		Size:        size,
	}
}

func quote(ts time.Time, bid, ask, mid string) types.OrderbookEvent {
	return types.OrderbookEvent{
		ConditionID: "cond-1",
		Outcome:     types.OutcomeYes,
		Timestamp:   ts,
		BestBid:     bid,
		BestAsk:     ask,
		Mid:         mid,
	}
}

// Forward-fill: trade at t0 price 0.50, nothing for
// three minutes, trade at t0+4m price 0.55, query [t0, t0+5m] at 1m.
// Expect six bars; bars 2–4 flat at 0.50 with zero volume; bar 5 at 0.55.
func TestForwardFill(t *testing.T) {
	t.Parallel()

	trades := []types.TradeEvent{
		trade(t0, "0.50", "10"),
		trade(t0.Add(4*time.Minute), "0.55", "20"),
	}

	bars := Aggregate(nil, trades, types.Interval1m, t0, t0.Add(5*time.Minute), 0)
	if len(bars) != 6 {
		t.Fatalf("bars = %d, want 6", len(bars))
	}

	if bars[0].Open.String() != "0.5" || bars[0].Volume.String() != "10" {
		t.Errorf("bar 0 = O %s V %s, want O 0.5 V 10", bars[0].Open, bars[0].Volume)
	}

	for i := 1; i <= 3; i++ {
		b := bars[i]
		if !b.Filled {
			t.Errorf("bar %d should be forward-filled", i)
		}
		if b.Open.String() != "0.5" || b.High.String() != "0.5" ||
			b.Low.String() != "0.5" || b.Close.String() != "0.5" {
			t.Errorf("bar %d = %s/%s/%s/%s, want flat 0.5", i, b.Open, b.High, b.Low, b.Close)
		}
		if !b.Volume.IsZero() {
			t.Errorf("bar %d volume = %s, want 0", i, b.Volume)
		}
	}

	if bars[4].Open.String() != "0.55" || bars[4].Close.String() != "0.55" {
		t.Errorf("bar 4 = O %s C %s, want 0.55", bars[4].Open, bars[4].Close)
	}
	if bars[5].Close.String() != "0.55" || !bars[5].Filled {
		t.Errorf("bar 5 should forward-fill 0.55, got %+v", bars[5])
	}
}

func TestBarInvariants(t *testing.T) {
	t.Parallel()

	trades := []types.TradeEvent{
		trade(t0.Add(1*time.Second), "0.50", "5"),
		trade(t0.Add(10*time.Second), "0.58", "5"),
		trade(t0.Add(20*time.Second), "0.44", "5"),
		trade(t0.Add(30*time.Second), "0.52", "5"),
	}

	bars := Aggregate(nil, trades, types.Interval1m, t0, t0.Add(time.Minute), 0)
	if len(bars) == 0 {
		t.Fatal("no bars")
	}

	for i, b := range bars {
		if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
			t.Errorf("bar %d: low %s above open/close", i, b.Low)
		}
		if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
			t.Errorf("bar %d: high %s below open/close", i, b.High)
		}
		if !b.StartTime.Add(time.Minute).Equal(b.EndTime) {
			t.Errorf("bar %d: endTime %v != startTime+interval", i, b.EndTime)
		}
	}

	first := bars[0]
	if first.Open.String() != "0.5" || first.Close.String() != "0.52" {
		t.Errorf("O/C = %s/%s, want 0.5/0.52", first.Open, first.Close)
	}
	if first.High.String() != "0.58" || first.Low.String() != "0.44" {
		t.Errorf("H/L = %s/%s, want 0.58/0.44", first.High, first.Low)
	}
	if first.Volume.String() != "20" {
		t.Errorf("volume = %s, want 20", first.Volume)
	}
}

// Quote and trade prices never mix inside one bar: the quote series wins
// and the bar carries zero volume.
func TestQuotesPreferredOverTrades(t *testing.T) {
	t.Parallel()

	quotes := []types.OrderbookEvent{
		quote(t0.Add(5*time.Second), "0.49", "0.51", "0.50"),
		quote(t0.Add(25*time.Second), "0.50", "0.52", "0.51"),
	}
	trades := []types.TradeEvent{
		trade(t0.Add(10*time.Second), "0.90", "100"),
	}

	bars := Aggregate(quotes, trades, types.Interval1m, t0, t0.Add(time.Minute), 0)
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}

	b := bars[0]
	if b.High.String() != "0.51" {
		t.Errorf("high = %s; trade price leaked into a quote bar", b.High)
	}
	if !b.Volume.IsZero() {
		t.Errorf("volume = %s, want 0 for quote-sourced bar", b.Volume)
	}
}

// Quote price priority: mid, then best bid, then best ask.
func TestQuotePricePriority(t *testing.T) {
	t.Parallel()

	quotes := []types.OrderbookEvent{
		{ConditionID: "cond-1", Outcome: types.OutcomeYes, Timestamp: t0.Add(time.Second), BestBid: "0.40", BestAsk: "0.60"},
		{ConditionID: "cond-1", Outcome: types.OutcomeYes, Timestamp: t0.Add(2 * time.Second), BestAsk: "0.61"},
	}

	bars := Aggregate(quotes, nil, types.Interval1m, t0, t0.Add(time.Minute), 0)
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2 (bucket t0 plus the t0+1m fill)", len(bars))
	}
	if bars[0].Open.String() != "0.4" {
		t.Errorf("open = %s, want best bid 0.4 when mid absent", bars[0].Open)
	}
	if bars[0].Close.String() != "0.61" {
		t.Errorf("close = %s, want best ask 0.61 when mid and bid absent", bars[0].Close)
	}
}

func TestNoSeedNoLeadingFill(t *testing.T) {
	t.Parallel()

	trades := []types.TradeEvent{trade(t0.Add(3*time.Minute), "0.50", "1")}

	bars := Aggregate(nil, trades, types.Interval1m, t0, t0.Add(5*time.Minute), 0)
	// Buckets before the first event have no lastClose and are skipped.
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3 (bucket 3 plus fills to the range end)", len(bars))
	}
	if !bars[0].StartTime.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("first bar starts %v, want t0+3m", bars[0].StartTime)
	}
}

// An event in the bucket immediately before the range seeds the fill.
func TestSeedBucketFeedsForwardFill(t *testing.T) {
	t.Parallel()

	trades := []types.TradeEvent{trade(t0.Add(-30*time.Second), "0.47", "1")}

	bars := Aggregate(nil, trades, types.Interval1m, t0, t0.Add(2*time.Minute), 0)
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	for i, b := range bars {
		if !b.Filled || b.Close.String() != "0.47" {
			t.Errorf("bar %d = %+v, want fill at 0.47", i, b)
		}
	}
}

func TestLimitKeepsTrailingBars(t *testing.T) {
	t.Parallel()

	trades := []types.TradeEvent{trade(t0, "0.50", "1")}

	bars := Aggregate(nil, trades, types.Interval1m, t0, t0.Add(10*time.Minute), 3)
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if !bars[2].StartTime.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("last bar starts %v, want t0+10m", bars[2].StartTime)
	}
}

func TestUnknownIntervalReturnsNil(t *testing.T) {
	t.Parallel()
	if bars := Aggregate(nil, nil, "2m", t0, t0.Add(time.Minute), 0); bars != nil {
		t.Errorf("bars = %v, want nil for unknown interval", bars)
	}
}
