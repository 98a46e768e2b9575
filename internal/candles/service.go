// service.go serves candles to the API layer.
//
// Market candles are derived on demand from the event log. Instrument
// candles check the DB cache first; when the cached range has gaps the
// external historical source is consulted, deduplicated rows are upserted
// and the merged view returned. Concurrent identical instrument requests
// coalesce onto a single upstream fetch.
package candles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-intel/internal/sources"
	"market-intel/pkg/types"
)

const externalSource = "datahist"

// subHourGapTolerance scales the allowed cache gap for sub-hour intervals.
const subHourGapTolerance = 3

// EventStore is the slice of the event repository aggregation reads.
type EventStore interface {
	OrderbookEvents(ctx context.Context, conditionID string, outcome types.Outcome, from, to time.Time) ([]types.OrderbookEvent, error)
	TradeEvents(ctx context.Context, conditionID string, outcome types.Outcome, from, to time.Time) ([]types.TradeEvent, error)
}

// CandleStore is the materialized candle cache.
type CandleStore interface {
	Range(ctx context.Context, instrumentID string, interval types.Interval, source string, from, to time.Time) ([]types.StoredCandle, error)
	UpsertBatch(ctx context.Context, candles []types.StoredCandle) error
}

// HistorySource fetches instrument candles from the external provider.
type HistorySource interface {
	Candles(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]sources.CandleRecord, error)
}

// Service answers candle queries.
type Service struct {
	events  EventStore
	store   CandleStore
	history HistorySource
	log     zerolog.Logger

	// inflight coalesces concurrent identical instrument requests.
	inflightMu sync.Mutex
	inflight   map[string]*inflightFetch
}

type inflightFetch struct {
	done    chan struct{}
	candles []types.Candle
	err     error
}

// New creates the candle service.
func New(events EventStore, store CandleStore, history HistorySource, log zerolog.Logger) *Service {
	return &Service{
		events:   events,
		store:    store,
		history:  history,
		log:      log.With().Str("component", "candles").Logger(),
		inflight: make(map[string]*inflightFetch),
	}
}

// MarketCandles derives bars for one (market, outcome) over [from, to].
func (s *Service) MarketCandles(ctx context.Context, conditionID string, outcome types.Outcome, interval types.Interval, from, to time.Time, limit int) ([]types.Candle, error) {
	intervalDur, ok := interval.Duration()
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	// Fetch one extra bucket before the range to seed forward-fill.
	fetchFrom := time.UnixMilli(alignDown(from, intervalDur.Milliseconds())).Add(-intervalDur)

	obEvents, err := s.events.OrderbookEvents(ctx, conditionID, outcome, fetchFrom, to)
	if err != nil {
		return nil, fmt.Errorf("load orderbook events: %w", err)
	}
	trades, err := s.events.TradeEvents(ctx, conditionID, outcome, fetchFrom, to)
	if err != nil {
		return nil, fmt.Errorf("load trade events: %w", err)
	}

	return Aggregate(obEvents, trades, interval, from, to, limit), nil
}

// InstrumentCandles serves equity/ETF candles with DB caching and request
// coalescing.
func (s *Service) InstrumentCandles(ctx context.Context, instrumentID, symbol string, interval types.Interval, from, to time.Time) ([]types.Candle, error) {
	intervalDur, ok := interval.Duration()
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	cached, err := s.store.Range(ctx, instrumentID, interval, externalSource, from, to)
	if err != nil {
		return nil, fmt.Errorf("read candle cache: %w", err)
	}
	if covers(cached, intervalDur, from, to) {
		return render(cached, interval, intervalDur), nil
	}

	key := fmt.Sprintf("%s:%s:%d:%d", instrumentID, interval, from.UnixMilli(), to.UnixMilli())

	s.inflightMu.Lock()
	if f, ok := s.inflight[key]; ok {
		s.inflightMu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
			return f.candles, f.err
		}
	}
	f := &inflightFetch{done: make(chan struct{})}
	s.inflight[key] = f
	s.inflightMu.Unlock()

	f.candles, f.err = s.fetchAndMerge(ctx, instrumentID, symbol, interval, intervalDur, from, to)
	close(f.done)

	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()

	return f.candles, f.err
}

func (s *Service) fetchAndMerge(ctx context.Context, instrumentID, symbol string, interval types.Interval, intervalDur time.Duration, from, to time.Time) ([]types.Candle, error) {
	records, err := s.history.Candles(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch external candles: %w", err)
	}

	// Dedupe incoming rows on the unique tuple before upserting.
	byStart := make(map[int64]types.StoredCandle, len(records))
	for _, r := range records {
		byStart[r.StartTime.UnixMilli()] = types.StoredCandle{
			InstrumentID: instrumentID,
			Interval:     interval,
			StartTime:    r.StartTime,
			Source:       externalSource,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
		}
	}
	rows := make([]types.StoredCandle, 0, len(byStart))
	for _, row := range byStart {
		rows = append(rows, row)
	}
	if err := s.store.UpsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("upsert candles: %w", err)
	}

	merged, err := s.store.Range(ctx, instrumentID, interval, externalSource, from, to)
	if err != nil {
		return nil, fmt.Errorf("read merged candles: %w", err)
	}
	return render(merged, interval, intervalDur), nil
}

// covers reports whether cached rows span [from, to] without gaps. For
// sub-hour intervals a gap up to 3× the interval is tolerated (market
// closures, sparse sessions).
func covers(cached []types.StoredCandle, intervalDur time.Duration, from, to time.Time) bool {
	if len(cached) == 0 {
		return false
	}

	tolerance := intervalDur
	if intervalDur < time.Hour {
		tolerance = subHourGapTolerance * intervalDur
	}

	if cached[0].StartTime.Sub(from) > tolerance {
		return false
	}
	if to.Sub(cached[len(cached)-1].StartTime) > tolerance+intervalDur {
		return false
	}
	for i := 1; i < len(cached); i++ {
		if cached[i].StartTime.Sub(cached[i-1].StartTime) > tolerance {
			return false
		}
	}
	return true
}

// render converts stored rows to API candles.
func render(rows []types.StoredCandle, interval types.Interval, intervalDur time.Duration) []types.Candle {
	out := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		c := types.Candle{
			Interval:  interval,
			StartTime: r.StartTime,
			EndTime:   r.StartTime.Add(intervalDur),
		}
		var err error
		if c.Open, err = decimal.NewFromString(r.Open); err != nil {
			continue
		}
		if c.High, err = decimal.NewFromString(r.High); err != nil {
			continue
		}
		if c.Low, err = decimal.NewFromString(r.Low); err != nil {
			continue
		}
		if c.Close, err = decimal.NewFromString(r.Close); err != nil {
			continue
		}
		if c.Volume, err = decimal.NewFromString(r.Volume); err != nil {
			c.Volume = decimal.Zero
		}
		out = append(out, c)
	}
	return out
}
