// Package signals implements the pluggable signal generators and the
// runner that drives them. A generator scans an instrument population,
// reads persisted metrics and facts, evaluates deterministic rules and
// emits scored signals; the runner upserts each by (instrument, type) with
// a bounded lifetime.
package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/pkg/types"
)

// Context carries the evaluation window shared by one generator pass.
type Context struct {
	Now      time.Time
	Lookback time.Duration
}

// Since returns the start of the lookback window.
func (c Context) Since() time.Time { return c.Now.Add(-c.Lookback) }

// GeneratedSignal is one emission before persistence.
type GeneratedSignal struct {
	InstrumentID string
	Type         types.SignalType
	Severity     types.Severity
	Score        float64
	Confidence   float64
	Reason       string
	Evidence     []byte // JSON evidence objects
}

// Generator is one signal rule family.
type Generator interface {
	Name() string
	SignalType() types.SignalType
	Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error)
}

// SignalStore is the slice of the signal repository the runner writes.
type SignalStore interface {
	Upsert(ctx context.Context, s *types.Signal) error
}

// Runner drives every registered generator once per tick.
type Runner struct {
	generators []Generator
	store      SignalStore
	cfg        config.SignalsConfig
	log        zerolog.Logger
}

// NewRunner creates the runner.
func NewRunner(store SignalStore, cfg config.SignalsConfig, log zerolog.Logger, generators ...Generator) *Runner {
	return &Runner{
		generators: generators,
		store:      store,
		cfg:        cfg,
		log:        log.With().Str("component", "signal_runner").Logger(),
	}
}

// Run executes every generator. One failing generator never blocks the
// others.
func (r *Runner) Run(ctx context.Context) error {
	gc := Context{
		Now:      time.Now().UTC(),
		Lookback: r.cfg.Lookback,
	}

	for _, gen := range r.generators {
		emitted, err := gen.Generate(ctx, gc)
		if err != nil {
			r.log.Error().Err(err).Str("generator", gen.Name()).Msg("generator failed")
			continue
		}

		persisted := 0
		for _, g := range emitted {
			if g.Confidence < r.cfg.MinConfidence {
				continue
			}
			sig := &types.Signal{
				InstrumentID: g.InstrumentID,
				Type:         g.Type,
				Severity:     g.Severity,
				Score:        g.Score,
				Confidence:   g.Confidence,
				Reason:       g.Reason,
				Evidence:     g.Evidence,
				ComputedAt:   gc.Now,
				ExpiresAt:    gc.Now.Add(r.cfg.Expiry),
			}
			if err := r.store.Upsert(ctx, sig); err != nil {
				r.log.Error().Err(err).
					Str("generator", gen.Name()).
					Str("instrument", g.InstrumentID).
					Msg("upsert failed")
				continue
			}
			persisted++
		}

		r.log.Info().
			Str("generator", gen.Name()).
			Int("emitted", len(emitted)).
			Int("persisted", persisted).
			Msg("generator pass complete")
	}
	return nil
}
