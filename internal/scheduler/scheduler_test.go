package scheduler

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestJobRunsImmediatelyAndOnInterval(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), testLogger())
	var runs atomic.Int32

	err := s.Add(Job{
		Name:     "tick",
		Interval: 50 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("runs = %d, want initial run plus interval ticks", runs.Load())
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), testLogger())
	var concurrent, peak atomic.Int32

	err := s.Add(Job{
		Name:     "slow",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) error {
			n := concurrent.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(100 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	if peak.Load() > 1 {
		t.Errorf("peak concurrency = %d, want 1 (ticks must not overlap)", peak.Load())
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), testLogger())
	var finished atomic.Bool

	err := s.Add(Job{
		Name:     "draining",
		Interval: time.Hour,
		Run: func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	time.Sleep(20 * time.Millisecond) // let the initial run begin
	s.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight run completed")
	}
}

func TestSkipInitial(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), testLogger())
	var runs atomic.Int32

	err := s.Add(Job{
		Name:        "later",
		Interval:    time.Hour,
		SkipInitial: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if runs.Load() != 0 {
		t.Errorf("runs = %d, want 0 before the first interval", runs.Load())
	}
}