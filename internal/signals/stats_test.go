package signals

import (
	"math"
	"testing"
)

func TestHHI(t *testing.T) {
	t.Parallel()

	// Single participant at 100% is maximal concentration.
	if got := hhi([]float64{100}); got != 10000 {
		t.Errorf("hhi([100]) = %v, want 10000", got)
	}
	// Four equal participants: 4 × 25² = 2500.
	if got := hhi([]float64{25, 25, 25, 25}); got != 2500 {
		t.Errorf("hhi(4×25) = %v, want 2500", got)
	}
	if got := hhi(nil); got != 0 {
		t.Errorf("hhi(nil) = %v, want 0", got)
	}
}

func TestZScore(t *testing.T) {
	t.Parallel()

	series := []float64{10, 12, 8, 11, 9}
	if z := zScore(mean(series), series); math.Abs(z) > 1e-9 {
		t.Errorf("z of mean = %v, want 0", z)
	}

	// Flat series has no spread.
	if z := zScore(99, []float64{5, 5, 5}); z != 0 {
		t.Errorf("z over flat series = %v, want 0", z)
	}

	z := zScore(20, series)
	if z <= 0 {
		t.Errorf("z of outlier = %v, want > 0", z)
	}
}

func TestConsecutiveNegative(t *testing.T) {
	t.Parallel()

	if n := consecutiveNegative([]float64{1, -2, -3, -4}); n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	if n := consecutiveNegative([]float64{-1, 2}); n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	if n := consecutiveNegative(nil); n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestMonotonicDecline(t *testing.T) {
	t.Parallel()

	if !monotonicDecline([]float64{10, 9, 8, 7}, 4) {
		t.Error("strictly declining run not detected")
	}
	if monotonicDecline([]float64{10, 9, 9, 7}, 4) {
		t.Error("plateau counted as decline")
	}
	if monotonicDecline([]float64{10, 9}, 4) {
		t.Error("short series counted as decline")
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	xs := []float64{1, 2, 3, 4, 5}
	got := tail(xs, 2)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("tail = %v, want [4 5]", got)
	}
	if got := tail(xs, 10); len(got) != 5 {
		t.Errorf("tail beyond length = %v, want all", got)
	}
}
