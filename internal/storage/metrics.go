package storage

import (
	"context"
	"fmt"
	"time"

	"market-intel/pkg/types"
)

// MetricRepo persists ETF metric time series and AP concentration detail.
// Nullable columns are preserved: an absent upstream value stays NULL and
// downstream computations skip it rather than reading zero.
type MetricRepo struct {
	db *DB
}

// NewMetricRepo creates the repository.
func NewMetricRepo(db *DB) *MetricRepo {
	return &MetricRepo{db: db}
}

// UpsertMetric writes one time-series row, keyed on
// (instrument_id, as_of_date, source_type).
func (r *MetricRepo) UpsertMetric(ctx context.Context, m *types.EtfMetric) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO etf_metrics (instrument_id, as_of_date, source_type, nav, market_price,
		                         premium_discount, flow_units, shares_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instrument_id, as_of_date, source_type) DO UPDATE SET
			nav = EXCLUDED.nav,
			market_price = EXCLUDED.market_price,
			premium_discount = EXCLUDED.premium_discount,
			flow_units = EXCLUDED.flow_units,
			shares_out = EXCLUDED.shares_out`,
		m.InstrumentID, m.AsOfDate, m.SourceType, m.NAV, m.MarketPrice,
		m.PremiumDiscount, m.FlowUnits, m.SharesOut)
	if err != nil {
		return fmt.Errorf("upsert etf metric: %w", err)
	}
	return nil
}

// MetricSeries returns an instrument's metric rows since a date, oldest
// first.
func (r *MetricRepo) MetricSeries(ctx context.Context, instrumentID string, since time.Time) ([]types.EtfMetric, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.EtfMetric
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM etf_metrics
		WHERE instrument_id = $1 AND as_of_date >= $2
		ORDER BY as_of_date`, instrumentID, since)
	if err != nil {
		return nil, fmt.Errorf("metric series: %w", err)
	}
	return out, nil
}

// UpsertApDetail writes one AP share row.
func (r *MetricRepo) UpsertApDetail(ctx context.Context, d *types.EtfApDetail) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO etf_ap_details (instrument_id, as_of_date, ap_name, share_pct)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument_id, as_of_date, ap_name) DO UPDATE SET
			share_pct = EXCLUDED.share_pct`,
		d.InstrumentID, d.AsOfDate, d.APName, d.SharePct)
	if err != nil {
		return fmt.Errorf("upsert ap detail: %w", err)
	}
	return nil
}

// LatestApDetails returns the AP shares of the most recent as_of_date on
// file for an instrument.
func (r *MetricRepo) LatestApDetails(ctx context.Context, instrumentID string) ([]types.EtfApDetail, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.EtfApDetail
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM etf_ap_details
		WHERE instrument_id = $1
		  AND as_of_date = (SELECT max(as_of_date) FROM etf_ap_details WHERE instrument_id = $1)
		ORDER BY share_pct DESC`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("latest ap details: %w", err)
	}
	return out, nil
}
