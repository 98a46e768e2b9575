// state.go maintains the live order-book state for one (market, outcome).
//
// The state is fed from two sources: a REST snapshot on first subscription
// (Seed) and incremental WebSocket deltas (ApplyDelta). Size "0" at a price
// level removes the level; any other size replaces it. A snapshot replay
// framed by start/end markers resets the framed side and suppresses event
// emission until the frame closes.
//
// Ladders stay sorted — bids non-increasing, asks non-decreasing in price —
// so best bid/ask are always the head of their ladder. Prices and sizes are
// decimals parsed once at the boundary.
package stream

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-intel/pkg/types"
)

// level is one parsed ladder rung.
type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// BookState is the maintained order book for one (market, outcome).
// Owned exclusively by the stream service; one consumer per stream, so
// delta application is strictly ordered.
type BookState struct {
	mu          sync.RWMutex
	conditionID string
	outcome     types.Outcome
	bids        []level // price non-increasing
	asks        []level // price non-decreasing
	inSnapshot  bool
	updated     time.Time
}

// NewBookState creates an empty book.
func NewBookState(conditionID string, outcome types.Outcome) *BookState {
	return &BookState{conditionID: conditionID, outcome: outcome}
}

// Seed replaces the whole book from a REST snapshot.
func (b *BookState) Seed(bids, asks []types.PriceLevel) error {
	parsedBids, err := parseLevels(bids)
	if err != nil {
		return fmt.Errorf("parse bids: %w", err)
	}
	parsedAsks, err := parseLevels(asks)
	if err != nil {
		return fmt.Errorf("parse asks: %w", err)
	}

	sortBids(parsedBids)
	sortAsks(parsedAsks)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = parsedBids
	b.asks = parsedAsks
	b.inSnapshot = false
	b.updated = time.Now()
	return nil
}

// ApplyDelta applies one (side, price, size) update. Returns emit=false
// while a snapshot replay frame is open — callers must not persist or
// publish events for framed deltas.
func (b *BookState) ApplyDelta(side types.BookSide, priceStr, sizeStr string, framing types.SnapshotFraming) (emit bool, err error) {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return false, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return false, fmt.Errorf("parse size %q: %w", sizeStr, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if framing == types.FramingStart {
		b.inSnapshot = true
		if side == types.SideBid {
			b.bids = nil
		} else {
			b.asks = nil
		}
	}

	b.applyLevel(side, price, size)
	b.updated = time.Now()

	if framing == types.FramingEnd {
		b.inSnapshot = false
		return false, nil
	}
	return !b.inSnapshot, nil
}

func (b *BookState) applyLevel(side types.BookSide, price, size decimal.Decimal) {
	ladder := &b.bids
	if side == types.SideAsk {
		ladder = &b.asks
	}

	idx := -1
	for i, lv := range *ladder {
		if lv.price.Equal(price) {
			idx = i
			break
		}
	}

	if size.IsZero() {
		if idx >= 0 {
			*ladder = append((*ladder)[:idx], (*ladder)[idx+1:]...)
		}
		return
	}

	if idx >= 0 {
		(*ladder)[idx].size = size
		return
	}

	*ladder = append(*ladder, level{price: price, size: size})
	if side == types.SideBid {
		sortBids(*ladder)
	} else {
		sortAsks(*ladder)
	}
}

// Best returns the best bid and ask. ok is false when either side is empty.
func (b *BookState) Best() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.bids[0].price, b.asks[0].price, true
}

// Mid returns (bestBid + bestAsk) / 2.
func (b *BookState) Mid() (decimal.Decimal, bool) {
	bid, ask, ok := b.Best()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Levels returns the current ladders as wire-shape price levels.
func (b *BookState) Levels() (bids, asks []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return renderLevels(b.bids), renderLevels(b.asks)
}

// LastUpdated returns the time of the last seed or delta.
func (b *BookState) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func parseLevels(in []types.PriceLevel) ([]level, error) {
	out := make([]level, 0, len(in))
	for _, pl := range in {
		price, err := decimal.NewFromString(pl.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pl.Price, err)
		}
		size, err := decimal.NewFromString(pl.Size)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", pl.Size, err)
		}
		if size.IsZero() {
			continue
		}
		out = append(out, level{price: price, size: size})
	}
	return out, nil
}

func renderLevels(in []level) []types.PriceLevel {
	out := make([]types.PriceLevel, len(in))
	for i, lv := range in {
		out[i] = types.PriceLevel{Price: lv.price.String(), Size: lv.size.String()}
	}
	return out
}

func sortBids(ls []level) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].price.GreaterThan(ls[j].price) })
}

func sortAsks(ls []level) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].price.LessThan(ls[j].price) })
}
