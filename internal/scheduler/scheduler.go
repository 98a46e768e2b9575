// Package scheduler drives the periodic jobs. Each job runs once at
// startup (unless SkipInitial is set) and then on its configured interval; Stop cancels future ticks
// and lets the in-flight run complete. Jobs are fully independent — the
// only cross-job coordination is through the store.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// SkipInitial suppresses the immediate run at startup.
	SkipInitial bool
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. ctx bounds every job run.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	jobCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron:   cron.New(),
		log:    log.With().Str("component", "scheduler").Logger(),
		ctx:    jobCtx,
		cancel: cancel,
	}
}

// Add registers a job. Must be called before Start. A tick that fires
// while the previous run is still going is skipped — runs of one job never
// overlap.
func (s *Scheduler) Add(job Job) error {
	var running atomic.Bool
	run := func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", job.Name).Msg("previous run still in flight, skipping tick")
			return
		}
		defer running.Store(false)

		s.wg.Add(1)
		defer s.wg.Done()

		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job completed")
	}

	if _, err := s.cron.AddFunc("@every "+job.Interval.String(), run); err != nil {
		return err
	}

	if !job.SkipInitial {
		go run()
	}

	s.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job registered")
	return nil
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop cancels future ticks and waits for in-flight runs to complete.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.wg.Wait()
	s.cancel()
	s.log.Info().Msg("scheduler stopped")
}
