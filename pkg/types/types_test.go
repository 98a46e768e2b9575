package types

import (
	"testing"
	"time"
)

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to DocumentStatus }{
		{DocPending, DocDownloading},
		{DocDownloading, DocDownloaded},
		{DocDownloaded, DocParsed},
		{DocParsed, DocEnriched},
		{DocPending, DocFailed},
		{DocDownloading, DocFailed},
		{DocParsed, DocFailed},
		{DocEnriched, DocFailed},
	}
	for _, tc := range legal {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s → %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to DocumentStatus }{
		{DocPending, DocDownloaded},   // skipping a stage
		{DocDownloaded, DocPending},   // regression
		{DocEnriched, DocParsed},      // regression
		{DocFailed, DocPending},       // FAILED is terminal
		{DocFailed, DocFailed},
		{DocPending, DocEnriched},
	}
	for _, tc := range illegal {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s → %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestSeverityLadder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score, confidence float64
		want              Severity
	}{
		{100, 1.0, SeverityCritical},
		{80, 0.9, SeverityCritical},
		{60, 0.8, SeverityHigh},
		{50, 0.5, SeverityMedium},
		{30, 0.9, SeverityMedium},
		{10, 0.5, SeverityLow},
		{0, 1.0, SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.score, tc.confidence); got != tc.want {
			t.Errorf("SeverityFor(%v, %v) = %s, want %s", tc.score, tc.confidence, got, tc.want)
		}
	}
}

func TestMarketTokenID(t *testing.T) {
	t.Parallel()

	m := Market{
		Outcomes: []string{"YES", "NO"},
		TokenIDs: []string{"tok-y", "tok-n"},
	}
	if got := m.TokenID(OutcomeYes); got != "tok-y" {
		t.Errorf("TokenID(YES) = %q", got)
	}
	if got := m.TokenID(OutcomeNo); got != "tok-n" {
		t.Errorf("TokenID(NO) = %q", got)
	}

	unmapped := Market{Outcomes: []string{"YES"}}
	if got := unmapped.TokenID(OutcomeYes); got != "" {
		t.Errorf("TokenID without tokens = %q, want empty", got)
	}
}

func TestTradeNaturalID(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	id := TradeNaturalID("cond", OutcomeYes, ts, "0.5", "10")
	want := "cond:YES:1769947200000:0.5:10"
	if id != want {
		t.Errorf("natural id = %q, want %q", id, want)
	}

	// Same observation twice yields the same key.
	if id != TradeNaturalID("cond", OutcomeYes, ts, "0.5", "10") {
		t.Error("natural id not deterministic")
	}
}

func TestIntervalDuration(t *testing.T) {
	t.Parallel()

	known := map[Interval]time.Duration{
		Interval1s:  time.Second,
		Interval5s:  5 * time.Second,
		Interval1m:  time.Minute,
		Interval5m:  5 * time.Minute,
		Interval15m: 15 * time.Minute,
		Interval1h:  time.Hour,
	}
	for interval, want := range known {
		got, ok := interval.Duration()
		if !ok || got != want {
			t.Errorf("%s.Duration() = %v/%v, want %v", interval, got, ok, want)
		}
	}
	if _, ok := Interval("2m").Duration(); ok {
		t.Error("unknown interval reported ok")
	}
}
