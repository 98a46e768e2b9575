// Package candles derives OHLCV bars from the persisted quote/trade event
// log and serves materialized instrument candles through a cached,
// request-coalescing service.
//
// Aggregation is a pure read over a point-in-time snapshot of the event
// log. Buckets prefer quote events over trades — quote and trade prices are
// never mixed within one bar — and gaps are forward-filled flat from the
// previous close.
package candles

import (
	"time"

	"github.com/shopspring/decimal"

	"market-intel/pkg/types"
)

// bucket accumulates one interval's events before bar derivation.
type bucket struct {
	quotePrices []decimal.Decimal // per-event price: mid > bestBid > bestAsk
	tradePrices []decimal.Decimal
	tradeVolume decimal.Decimal
}

// Aggregate derives bars over [from, to] at the given interval from the
// supplied event slices. Both ends are aligned down to the interval grid and
// the bucket at the aligned end is included. Events whose bucket lies
// outside [alignedFrom - interval, alignedTo] are ignored; the extra leading
// bucket only seeds forward-fill. If limit > 0 the last
// limit bars are returned.
func Aggregate(obEvents []types.OrderbookEvent, trades []types.TradeEvent, interval types.Interval, from, to time.Time, limit int) []types.Candle {
	intervalDur, ok := interval.Duration()
	if !ok || !to.After(from) {
		return nil
	}
	intervalMs := intervalDur.Milliseconds()

	alignedFrom := alignDown(from, intervalMs)
	alignedTo := alignDown(to, intervalMs)
	seedBucket := alignedFrom - intervalMs

	buckets := make(map[int64]*bucket)
	get := func(ts time.Time) *bucket {
		key := alignDown(ts, intervalMs)
		if key < seedBucket || key > alignedTo {
			return nil
		}
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		return b
	}

	for i := range obEvents {
		ev := &obEvents[i]
		b := get(ev.Timestamp)
		if b == nil {
			continue
		}
		if price, ok := quotePrice(ev); ok {
			b.quotePrices = append(b.quotePrices, price)
		}
	}
	for i := range trades {
		ev := &trades[i]
		b := get(ev.Timestamp)
		if b == nil {
			continue
		}
		price, err := decimal.NewFromString(ev.Price)
		if err != nil {
			continue
		}
		b.tradePrices = append(b.tradePrices, price)
		if size, err := decimal.NewFromString(ev.Size); err == nil {
			b.tradeVolume = b.tradeVolume.Add(size)
		}
	}

	// Seed the forward-fill close from the bucket immediately preceding the
	// range.
	var lastClose *decimal.Decimal
	if seed := buckets[seedBucket]; seed != nil {
		if prices, _ := bucketPrices(seed); len(prices) > 0 {
			c := prices[len(prices)-1]
			lastClose = &c
		}
	}

	var out []types.Candle
	for key := alignedFrom; key <= alignedTo; key += intervalMs {
		start := time.UnixMilli(key).UTC()
		end := start.Add(intervalDur)

		b := buckets[key]
		if b == nil || (len(b.quotePrices) == 0 && len(b.tradePrices) == 0) {
			if lastClose == nil {
				continue
			}
			out = append(out, types.Candle{
				Open: *lastClose, High: *lastClose, Low: *lastClose, Close: *lastClose,
				Volume:    decimal.Zero,
				Interval:  interval,
				StartTime: start,
				EndTime:   end,
				Filled:    true,
			})
			continue
		}

		prices, volume := bucketPrices(b)
		candle := types.Candle{
			Open:      prices[0],
			Close:     prices[len(prices)-1],
			High:      prices[0],
			Low:       prices[0],
			Volume:    volume,
			Interval:  interval,
			StartTime: start,
			EndTime:   end,
		}
		for _, p := range prices[1:] {
			if p.GreaterThan(candle.High) {
				candle.High = p
			}
			if p.LessThan(candle.Low) {
				candle.Low = p
			}
		}

		closePrice := candle.Close
		lastClose = &closePrice
		out = append(out, candle)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// bucketPrices selects the bucket's price series: quote events when
// present, trades otherwise. Volume comes from trades only and is zero for
// quote-sourced buckets.
func bucketPrices(b *bucket) ([]decimal.Decimal, decimal.Decimal) {
	if len(b.quotePrices) > 0 {
		return b.quotePrices, decimal.Zero
	}
	return b.tradePrices, b.tradeVolume
}

// quotePrice derives a per-event price: mid, then best bid, then best ask.
func quotePrice(ev *types.OrderbookEvent) (decimal.Decimal, bool) {
	for _, s := range []string{ev.Mid, ev.BestBid, ev.BestAsk} {
		if s == "" {
			continue
		}
		if price, err := decimal.NewFromString(s); err == nil {
			return price, true
		}
	}
	return decimal.Zero, false
}

// alignDown floors a timestamp to the interval grid, in epoch millis.
func alignDown(t time.Time, intervalMs int64) int64 {
	ms := t.UnixMilli()
	return (ms / intervalMs) * intervalMs
}
