// Package etfmetrics ingests NAV/flow/AP time series for every active ETF
// from the historical data source. Rows are upserted on the
// (instrument, asOfDate, sourceType) tuple, and absent upstream values stay
// NULL so downstream generators skip them instead of reading zeros.
package etfmetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/pkg/types"
)

const sourceType = "datahist"

// MetricSource is the adapter surface the ingestor pulls from.
type MetricSource interface {
	EtfMetrics(ctx context.Context, symbol string, since time.Time) ([]sources.EtfMetricRecord, error)
}

// InstrumentLister is the ETF population source.
type InstrumentLister interface {
	ListByType(ctx context.Context, instType types.InstrumentType) ([]types.Instrument, error)
}

// MetricWriter is the metrics repository slice the ingestor writes.
type MetricWriter interface {
	UpsertMetric(ctx context.Context, m *types.EtfMetric) error
	UpsertApDetail(ctx context.Context, d *types.EtfApDetail) error
}

// Ingestor runs the periodic metric sync.
type Ingestor struct {
	source      MetricSource
	instruments InstrumentLister
	metrics     MetricWriter
	lookback    time.Duration
	log         zerolog.Logger
}

// New creates the ingestor.
func New(source MetricSource, instruments InstrumentLister, metrics MetricWriter, lookback time.Duration, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		source:      source,
		instruments: instruments,
		metrics:     metrics,
		lookback:    lookback,
		log:         log.With().Str("component", "etf_metrics").Logger(),
	}
}

// Run syncs every active ETF. One failing symbol never aborts the pass.
func (i *Ingestor) Run(ctx context.Context) error {
	etfs, err := i.instruments.ListByType(ctx, types.InstrumentETF)
	if err != nil {
		return fmt.Errorf("list etfs: %w", err)
	}

	since := time.Now().UTC().Add(-i.lookback)
	synced := 0

	for _, etf := range etfs {
		records, err := i.source.EtfMetrics(ctx, etf.Symbol, since)
		if err != nil {
			if errors.Is(err, sources.ErrNotFound) {
				i.log.Debug().Str("symbol", etf.Symbol).Msg("no metrics upstream")
				continue
			}
			i.log.Error().Err(err).Str("symbol", etf.Symbol).Msg("metric fetch failed")
			continue
		}

		for _, rec := range records {
			metric := &types.EtfMetric{
				InstrumentID:    etf.ID,
				AsOfDate:        rec.AsOfDate,
				SourceType:      sourceType,
				NAV:             rec.NAV,
				MarketPrice:     rec.MarketPrice,
				PremiumDiscount: rec.PremiumDiscount,
				FlowUnits:       rec.FlowUnits,
				SharesOut:       rec.SharesOut,
			}
			if err := i.metrics.UpsertMetric(ctx, metric); err != nil {
				i.log.Error().Err(err).Str("symbol", etf.Symbol).Msg("metric upsert failed")
				continue
			}

			for apName, share := range rec.APShares {
				detail := &types.EtfApDetail{
					InstrumentID: etf.ID,
					AsOfDate:     rec.AsOfDate,
					APName:       apName,
					SharePct:     share,
				}
				if err := i.metrics.UpsertApDetail(ctx, detail); err != nil {
					i.log.Error().Err(err).Str("symbol", etf.Symbol).Msg("ap detail upsert failed")
				}
			}
		}
		synced++
	}

	i.log.Info().Int("etfs", synced).Msg("etf metric sync complete")
	return nil
}
