// pricemove.go implements the peer price movement generator: equities with
// a recent outsized price move flag their competitors, since sector moves
// propagate before fundamentals catch up.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-intel/pkg/types"
)

// PeerPriceMovementEvidence records the move that triggered the signal.
type PeerPriceMovementEvidence struct {
	Kind             string  `json:"kind"`
	MoverID          string  `json:"moverInstrumentId"`
	MoverSymbol      string  `json:"moverSymbol"`
	ReturnPct        float64 `json:"returnPct"`
	ZScore           float64 `json:"zScore"`
	RelationshipConf float64 `json:"relationshipConfidence"`
}

// CandleReader is the candle repository slice the generator reads.
type CandleReader interface {
	Range(ctx context.Context, instrumentID string, interval types.Interval, source string, from, to time.Time) ([]types.StoredCandle, error)
}

// PeerPriceMovement scans for outsized moves and signals competitors.
type PeerPriceMovement struct {
	instruments InstrumentLister
	competitors CompetitorReader
	candles     CandleReader
	source      string
}

// NewPeerPriceMovement creates the generator.
func NewPeerPriceMovement(instruments InstrumentLister, competitors CompetitorReader, candles CandleReader, source string) *PeerPriceMovement {
	return &PeerPriceMovement{
		instruments: instruments,
		competitors: competitors,
		candles:     candles,
		source:      source,
	}
}

func (g *PeerPriceMovement) Name() string                 { return "peer_price_movement" }
func (g *PeerPriceMovement) SignalType() types.SignalType { return types.SignalPeerMove }

const (
	moveWindowBars = 20
	moveZThreshold = 3.0
	moveMinReturn  = 8.0 // percent
)

func (g *PeerPriceMovement) Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error) {
	equities, err := g.instruments.ListByType(ctx, types.InstrumentEquity)
	if err != nil {
		return nil, fmt.Errorf("list equities: %w", err)
	}

	var out []GeneratedSignal
	for _, inst := range equities {
		rows, err := g.candles.Range(ctx, inst.ID, types.Interval1h, g.source, gc.Since(), gc.Now)
		if err != nil {
			return nil, fmt.Errorf("candles %s: %w", inst.Symbol, err)
		}
		if len(rows) < moveWindowBars+2 {
			continue
		}

		returns := make([]float64, 0, len(rows)-1)
		var prev float64
		havePrev := false
		for _, row := range rows {
			v, ok := parseDecimalString(row.Close)
			if !ok || v == 0 {
				continue
			}
			if havePrev {
				returns = append(returns, (v-prev)/prev*100)
			}
			prev, havePrev = v, true
		}
		if len(returns) < moveWindowBars+1 {
			continue
		}

		latest := returns[len(returns)-1]
		history := tail(returns[:len(returns)-1], moveWindowBars)
		z := zScore(latest, history)

		if abs(z) < moveZThreshold || abs(latest) < moveMinReturn {
			continue
		}

		links, err := g.competitors.Competitors(ctx, inst.ID)
		if err != nil {
			return nil, fmt.Errorf("competitors of %s: %w", inst.Symbol, err)
		}

		for _, link := range links {
			score := clamp(abs(latest)*3, 0, 100)
			confidence := clamp(0.4*link.Confidence+abs(z)*0.05, 0, 0.85)

			evidence, err := json.Marshal([]PeerPriceMovementEvidence{{
				Kind:             "PeerPriceMovement",
				MoverID:          inst.ID,
				MoverSymbol:      inst.Symbol,
				ReturnPct:        latest,
				ZScore:           z,
				RelationshipConf: link.Confidence,
			}})
			if err != nil {
				return nil, err
			}

			out = append(out, GeneratedSignal{
				InstrumentID: link.CompetitorID,
				Type:         types.SignalPeerMove,
				Severity:     types.SeverityFor(score, confidence),
				Score:        score,
				Confidence:   confidence,
				Reason: fmt.Sprintf("peer %s moved %.1f%% (z %.1f)",
					inst.Symbol, latest, z),
				Evidence: evidence,
			})
		}
	}
	return out, nil
}
