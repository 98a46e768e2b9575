// Package positions aggregates a wallet's trade events into per-market
// positions: net outcome-token size, volume-weighted average entry price,
// and notional exposure.
package positions

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"market-intel/pkg/types"
)

// TradeReader is the event-log slice position aggregation reads.
type TradeReader interface {
	TradeEventsByWallet(ctx context.Context, wallet string) ([]types.TradeEvent, error)
}

// Position is one aggregated (market, outcome) holding.
type Position struct {
	ConditionID string        `json:"conditionId"`
	Outcome     types.Outcome `json:"outcome"`
	Size        string        `json:"size"`     // net outcome tokens
	AvgPrice    string        `json:"avgPrice"` // volume-weighted entry
	Notional    string        `json:"notional"` // size × avgPrice
	Trades      int           `json:"trades"`
}

// Service answers position queries.
type Service struct {
	trades TradeReader
}

// New creates the service.
func New(trades TradeReader) *Service {
	return &Service{trades: trades}
}

// ForWallet aggregates every trade event attributed to the wallet.
func (s *Service) ForWallet(ctx context.Context, wallet string) ([]Position, error) {
	events, err := s.trades.TradeEventsByWallet(ctx, strings.ToLower(wallet))
	if err != nil {
		return nil, fmt.Errorf("load wallet trades: %w", err)
	}

	type acc struct {
		size, cost decimal.Decimal
		trades     int
	}
	accs := make(map[string]*acc)
	order := []string{}

	for i := range events {
		ev := &events[i]
		price, err := decimal.NewFromString(ev.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(ev.Size)
		if err != nil {
			continue
		}

		key := ev.ConditionID + "|" + string(ev.Outcome)
		a := accs[key]
		if a == nil {
			a = &acc{}
			accs[key] = a
			order = append(order, key)
		}

		a.trades++
		if strings.EqualFold(ev.Side, "sell") {
			a.size = a.size.Sub(size)
			a.cost = a.cost.Sub(size.Mul(price))
		} else {
			a.size = a.size.Add(size)
			a.cost = a.cost.Add(size.Mul(price))
		}
	}

	out := make([]Position, 0, len(order))
	for _, key := range order {
		a := accs[key]
		if a.size.IsZero() {
			continue // flat positions are not reported
		}

		conditionID, outcome, _ := strings.Cut(key, "|")
		avg := a.cost.Div(a.size)
		out = append(out, Position{
			ConditionID: conditionID,
			Outcome:     types.Outcome(outcome),
			Size:        a.size.String(),
			AvgPrice:    avg.StringFixed(4),
			Notional:    a.size.Mul(avg).StringFixed(2),
			Trades:      a.trades,
		})
	}
	return out, nil
}
