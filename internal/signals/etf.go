// etf.go implements the ETF metric generators: AP concentration, flow
// shock and tracking stress. Each scans all active ETFs, reads the metric
// time series and evaluates threshold rules. Null metric inputs are
// skipped, never defaulted to zero.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-intel/pkg/types"
)

// InstrumentLister is the instrument population source for ETF generators.
type InstrumentLister interface {
	ListByType(ctx context.Context, instType types.InstrumentType) ([]types.Instrument, error)
}

// MetricReader is the metrics repository slice the ETF generators read.
type MetricReader interface {
	MetricSeries(ctx context.Context, instrumentID string, since time.Time) ([]types.EtfMetric, error)
	LatestApDetails(ctx context.Context, instrumentID string) ([]types.EtfApDetail, error)
}

// --- AP concentration -------------------------------------------------

// APConcentrationEvidence records the concentration computation.
type APConcentrationEvidence struct {
	Kind        string  `json:"kind"`
	HHI         float64 `json:"hhi"`
	TopAP       string  `json:"topAp"`
	TopSharePct float64 `json:"topSharePct"`
	APCount     int     `json:"apCount"`
	AsOfDate    string  `json:"asOfDate"`
}

// APConcentration flags ETFs whose create/redeem activity concentrates in
// too few authorized participants.
type APConcentration struct {
	instruments InstrumentLister
	metrics     MetricReader
}

// NewAPConcentration creates the generator.
func NewAPConcentration(instruments InstrumentLister, metrics MetricReader) *APConcentration {
	return &APConcentration{instruments: instruments, metrics: metrics}
}

func (g *APConcentration) Name() string                { return "ap_concentration" }
func (g *APConcentration) SignalType() types.SignalType { return types.SignalAPConcentration }

// Generate emits a signal when the AP share HHI is 2500 or more (the
// moderately-concentrated boundary) or a single AP holds over half the
// activity.
func (g *APConcentration) Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error) {
	etfs, err := g.instruments.ListByType(ctx, types.InstrumentETF)
	if err != nil {
		return nil, fmt.Errorf("list etfs: %w", err)
	}

	var out []GeneratedSignal
	for _, etf := range etfs {
		details, err := g.metrics.LatestApDetails(ctx, etf.ID)
		if err != nil {
			return nil, fmt.Errorf("ap details %s: %w", etf.Symbol, err)
		}
		if len(details) == 0 {
			continue
		}

		shares := make([]float64, len(details))
		for i, d := range details {
			shares[i] = d.SharePct
		}
		index := hhi(shares)
		top := details[0] // repo returns shares descending

		if index < 2500 && top.SharePct <= 50 {
			continue
		}

		score := clamp(index/100, 0, 100)
		confidence := clamp(0.5+index/20000, 0, 0.9)
		evidence, err := json.Marshal([]APConcentrationEvidence{{
			Kind:        "APConcentration",
			HHI:         index,
			TopAP:       top.APName,
			TopSharePct: top.SharePct,
			APCount:     len(details),
			AsOfDate:    top.AsOfDate.Format("2006-01-02"),
		}})
		if err != nil {
			return nil, err
		}

		out = append(out, GeneratedSignal{
			InstrumentID: etf.ID,
			Type:         types.SignalAPConcentration,
			Severity:     types.SeverityFor(score, confidence),
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("AP concentration HHI %.0f, top AP %s at %.1f%%",
				index, top.APName, top.SharePct),
			Evidence: evidence,
		})
	}
	return out, nil
}

// --- Flow shock -------------------------------------------------------

// FlowShockEvidence records the flow anomaly computation.
type FlowShockEvidence struct {
	Kind            string  `json:"kind"`
	LatestFlow      float64 `json:"latestFlow"`
	ZScore20        float64 `json:"zScore20"`
	ZScore60        float64 `json:"zScore60"`
	ConsecutiveDays int     `json:"consecutiveOutflowDays"`
}

// FlowShock flags ETFs with anomalous redemptions: a latest flow at least
// 2.5 standard deviations below the 20- or 60-day window, or a run of five
// or more consecutive outflow days. Unusually large creations are not flagged.
type FlowShock struct {
	instruments InstrumentLister
	metrics     MetricReader
}

// NewFlowShock creates the generator.
func NewFlowShock(instruments InstrumentLister, metrics MetricReader) *FlowShock {
	return &FlowShock{instruments: instruments, metrics: metrics}
}

func (g *FlowShock) Name() string                 { return "flow_shock" }
func (g *FlowShock) SignalType() types.SignalType { return types.SignalFlowShock }

func (g *FlowShock) Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error) {
	etfs, err := g.instruments.ListByType(ctx, types.InstrumentETF)
	if err != nil {
		return nil, fmt.Errorf("list etfs: %w", err)
	}

	var out []GeneratedSignal
	for _, etf := range etfs {
		series, err := g.metrics.MetricSeries(ctx, etf.ID, gc.Since())
		if err != nil {
			return nil, fmt.Errorf("metric series %s: %w", etf.Symbol, err)
		}

		// Null flows are skipped, not zeroed.
		var flows []float64
		for _, m := range series {
			if m.FlowUnits != nil {
				flows = append(flows, *m.FlowUnits)
			}
		}
		if len(flows) < 20 {
			continue
		}

		latest := flows[len(flows)-1]
		history := flows[:len(flows)-1]
		z20 := zScore(latest, tail(history, 20))
		z60 := zScore(latest, tail(history, 60))
		outflowRun := consecutiveNegative(flows)

		shock := z20 <= -2.5 || z60 <= -2.5 || outflowRun >= 5
		if !shock {
			continue
		}

		worst := z20
		if z60 < worst {
			worst = z60
		}
		score := clamp(-worst*20+float64(outflowRun)*5, 0, 100)
		confidence := clamp(0.45+(-worst)*0.1+float64(outflowRun)*0.03, 0, 0.9)

		evidence, err := json.Marshal([]FlowShockEvidence{{
			Kind:            "FlowShock",
			LatestFlow:      latest,
			ZScore20:        z20,
			ZScore60:        z60,
			ConsecutiveDays: outflowRun,
		}})
		if err != nil {
			return nil, err
		}

		out = append(out, GeneratedSignal{
			InstrumentID: etf.ID,
			Type:         types.SignalFlowShock,
			Severity:     types.SeverityFor(score, confidence),
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("flow shock: z20 %.2f, z60 %.2f, %d consecutive outflow days",
				z20, z60, outflowRun),
			Evidence: evidence,
		})
	}
	return out, nil
}

// --- Tracking stress --------------------------------------------------

// TrackingStressEvidence records the premium/discount computation.
type TrackingStressEvidence struct {
	Kind            string  `json:"kind"`
	AvgPremium      float64 `json:"avgPremiumDiscount"`
	Baseline        float64 `json:"baseline"`
	NavDeclineDays  int     `json:"navDeclineDays"`
	ObservationDays int     `json:"observationDays"`
}

// TrackingStress flags ETFs whose market price persistently diverges from
// NAV, or whose NAV is in sustained monotonic decline.
type TrackingStress struct {
	instruments InstrumentLister
	metrics     MetricReader
}

// NewTrackingStress creates the generator.
func NewTrackingStress(instruments InstrumentLister, metrics MetricReader) *TrackingStress {
	return &TrackingStress{instruments: instruments, metrics: metrics}
}

func (g *TrackingStress) Name() string                 { return "tracking_stress" }
func (g *TrackingStress) SignalType() types.SignalType { return types.SignalTrackingStress }

const navDeclineRun = 7

func (g *TrackingStress) Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error) {
	etfs, err := g.instruments.ListByType(ctx, types.InstrumentETF)
	if err != nil {
		return nil, fmt.Errorf("list etfs: %w", err)
	}

	var out []GeneratedSignal
	for _, etf := range etfs {
		series, err := g.metrics.MetricSeries(ctx, etf.ID, gc.Since())
		if err != nil {
			return nil, fmt.Errorf("metric series %s: %w", etf.Symbol, err)
		}

		var premiums, navs []float64
		for _, m := range series {
			if m.PremiumDiscount != nil {
				premiums = append(premiums, *m.PremiumDiscount)
			}
			if m.NAV != nil {
				if v, ok := parseDecimalString(*m.NAV); ok {
					navs = append(navs, v)
				}
			}
		}
		if len(premiums) < 10 {
			continue
		}

		recent := tail(premiums, 5)
		baseline := mean(tail(premiums, 60))
		avgRecent := mean(recent)
		declining := monotonicDecline(navs, navDeclineRun)

		// Stress: recent premium/discount widens to ≥1.5% absolute while
		// the 60-day baseline sat under 0.5%, or NAV declines for a week.
		widened := abs(avgRecent) >= 1.5 && abs(baseline) < 0.5
		if !widened && !declining {
			continue
		}

		score := clamp(abs(avgRecent)*25, 0, 100)
		if declining {
			score = clamp(score+25, 0, 100)
		}
		confidence := clamp(0.5+abs(avgRecent-baseline)*0.1, 0, 0.9)

		declineDays := 0
		if declining {
			declineDays = navDeclineRun
		}
		evidence, err := json.Marshal([]TrackingStressEvidence{{
			Kind:            "TrackingStress",
			AvgPremium:      avgRecent,
			Baseline:        baseline,
			NavDeclineDays:  declineDays,
			ObservationDays: len(premiums),
		}})
		if err != nil {
			return nil, err
		}

		out = append(out, GeneratedSignal{
			InstrumentID: etf.ID,
			Type:         types.SignalTrackingStress,
			Severity:     types.SeverityFor(score, confidence),
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("tracking stress: recent premium/discount %.2f%% vs baseline %.2f%%",
				avgRecent, baseline),
			Evidence: evidence,
		})
	}
	return out, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// parseDecimalString parses a stored decimal string for comparison.
func parseDecimalString(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
