package positions

import (
	"context"
	"testing"
	"time"

	"market-intel/pkg/types"
)

type fakeTrades struct {
	events []types.TradeEvent
}

func (f *fakeTrades) TradeEventsByWallet(context.Context, string) ([]types.TradeEvent, error) {
	return f.events, nil
}

func ev(conditionID string, outcome types.Outcome, side, price, size string) types.TradeEvent {
	return types.TradeEvent{
		ConditionID: conditionID,
		Outcome:     outcome,
		Timestamp:   time.Now().UTC(),
		Price:       price,
		Size:        size,
		Side:        side,
	}
}

func TestAggregatesByMarketAndOutcome(t *testing.T) {
	t.Parallel()

	svc := New(&fakeTrades{events: []types.TradeEvent{
		ev("m1", types.OutcomeYes, "buy", "0.50", "100"),
		ev("m1", types.OutcomeYes, "buy", "0.60", "100"),
		ev("m1", types.OutcomeNo, "buy", "0.40", "50"),
	}})

	out, err := svc.ForWallet(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ForWallet: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("positions = %d, want 2", len(out))
	}

	yes := out[0]
	if yes.ConditionID != "m1" || yes.Outcome != types.OutcomeYes {
		t.Fatalf("first position = %+v", yes)
	}
	if yes.Size != "200" {
		t.Errorf("size = %s, want 200", yes.Size)
	}
	if yes.AvgPrice != "0.5500" {
		t.Errorf("avgPrice = %s, want 0.5500", yes.AvgPrice)
	}
	if yes.Trades != 2 {
		t.Errorf("trades = %d, want 2", yes.Trades)
	}
}

func TestSellsReduceAndFlatPositionsHidden(t *testing.T) {
	t.Parallel()

	svc := New(&fakeTrades{events: []types.TradeEvent{
		ev("m1", types.OutcomeYes, "buy", "0.50", "100"),
		ev("m1", types.OutcomeYes, "sell", "0.55", "100"),
		ev("m2", types.OutcomeYes, "buy", "0.30", "10"),
	}})

	out, err := svc.ForWallet(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ForWallet: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("positions = %d, want 1 (flat m1 hidden)", len(out))
	}
	if out[0].ConditionID != "m2" {
		t.Errorf("position = %+v, want m2", out[0])
	}
}

func TestSkipsUnparseableRows(t *testing.T) {
	t.Parallel()

	svc := New(&fakeTrades{events: []types.TradeEvent{
		ev("m1", types.OutcomeYes, "buy", "garbage", "10"),
		ev("m1", types.OutcomeYes, "buy", "0.50", "10"),
	}})

	out, err := svc.ForWallet(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ForWallet: %v", err)
	}
	if len(out) != 1 || out[0].Trades != 1 {
		t.Errorf("positions = %+v, want single position from the valid row", out)
	}
}
