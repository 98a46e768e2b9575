// events.go defines the market-data event types: order-book snapshots,
// append-only order-book and trade events, the normalized stream messages
// produced by the CLOB WebSocket adapter, and derived OHLCV candles.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of an order book.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// PriceLevel is one (price, size) rung of a book ladder. Both values are
// decimal strings as received from the source.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookSnapshot is a full-depth snapshot for one (market, outcome).
// Bids are ordered non-increasing in price, asks non-decreasing. The
// snapshot is stale once ExpiresAt has passed.
type OrderbookSnapshot struct {
	ConditionID string       `db:"condition_id" json:"conditionId"`
	Outcome     Outcome      `db:"outcome" json:"outcome"`
	Bids        []PriceLevel `db:"-" json:"bids"`
	Asks        []PriceLevel `db:"-" json:"asks"`
	CapturedAt  time.Time    `db:"captured_at" json:"capturedAt"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expiresAt"`
}

// OrderbookEvent is one append-only row of the quote event log. Deduped by
// NaturalID.
type OrderbookEvent struct {
	ConditionID string    `db:"condition_id" json:"conditionId"`
	Outcome     Outcome   `db:"outcome" json:"outcome"`
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	BestBid     string    `db:"best_bid" json:"bestBid"`
	BestAsk     string    `db:"best_ask" json:"bestAsk"`
	Mid         string    `db:"mid" json:"mid"`
	NaturalID   string    `db:"natural_id" json:"naturalId"`
}

// TradeEvent is one append-only row of the trade event log. Deduped by
// NaturalID.
type TradeEvent struct {
	ConditionID string    `db:"condition_id" json:"conditionId"`
	Outcome     Outcome   `db:"outcome" json:"outcome"`
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	Price       string    `db:"price" json:"price"`
	Size        string    `db:"size" json:"size"`
	Side        string    `db:"side" json:"side"`
	Wallet      string    `db:"wallet" json:"wallet"`
	NaturalID   string    `db:"natural_id" json:"naturalId"`
}

// TradeNaturalID builds the deduplication key for a trade observation.
func TradeNaturalID(conditionID string, outcome Outcome, ts time.Time, price, size string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", conditionID, outcome, ts.UnixMilli(), price, size)
}

// SnapshotFraming marks the position of an orderbook_update message inside
// a full-snapshot replay. Outside framing, updates are plain deltas.
type SnapshotFraming string

const (
	FramingNone  SnapshotFraming = ""
	FramingStart SnapshotFraming = "start"
	FramingEnd   SnapshotFraming = "end"
)

// StreamMessage is the normalized shape of one upstream WebSocket message.
// Exactly one of the per-type field groups is meaningful, keyed by Type.
type StreamMessage struct {
	Type        string    `json:"type"` // orderbook_update | trade | price_update
	ConditionID string    `json:"conditionId"`
	Outcome     Outcome   `json:"outcome"`
	Timestamp   time.Time `json:"timestamp"`

	// orderbook_update
	Side    BookSide        `json:"side,omitempty"`
	Price   string          `json:"price,omitempty"`
	Size    string          `json:"size,omitempty"`
	Framing SnapshotFraming `json:"framing,omitempty"`

	// trade
	TradePrice string `json:"tradePrice,omitempty"`
	TradeSize  string `json:"tradeSize,omitempty"`
	TradeSide  string `json:"tradeSide,omitempty"`

	// price_update
	BestBid string `json:"bestBid,omitempty"`
	BestAsk string `json:"bestAsk,omitempty"`
	Mid     string `json:"mid,omitempty"`
}

// Interval is a candle bucket width.
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval5s  Interval = "5s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
)

// Duration returns the interval width, or false for an unknown interval.
func (i Interval) Duration() (time.Duration, bool) {
	switch i {
	case Interval1s:
		return time.Second, true
	case Interval5s:
		return 5 * time.Second, true
	case Interval1m:
		return time.Minute, true
	case Interval5m:
		return 5 * time.Minute, true
	case Interval15m:
		return 15 * time.Minute, true
	case Interval1h:
		return time.Hour, true
	}
	return 0, false
}

// Candle is one OHLCV bar. StartTime + interval == EndTime; for forward-
// filled bars Open == High == Low == Close and Volume is zero.
type Candle struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Interval  Interval        `json:"interval"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Filled    bool            `json:"filled,omitempty"` // true for forward-fill bars
}

// StoredCandle is a materialized instrument candle fetched from an external
// historical source. Unique on (InstrumentID, Interval, StartTime, Source).
type StoredCandle struct {
	InstrumentID string    `db:"instrument_id" json:"instrumentId"`
	Interval     Interval  `db:"interval" json:"interval"`
	StartTime    time.Time `db:"start_time" json:"startTime"`
	Source       string    `db:"source" json:"source"`
	Open         string    `db:"open" json:"open"`
	High         string    `db:"high" json:"high"`
	Low          string    `db:"low" json:"low"`
	Close        string    `db:"close" json:"close"`
	Volume       string    `db:"volume" json:"volume"`
}
