// datahist.go implements the historical data API adapter. One upstream
// serves three datasets:
//
//   - prediction-market trade history (offset-paginated, used by backfill)
//   - equity/ETF OHLCV candles (used by the instrument candle service)
//   - ETF NAV/flow/AP rows (used by the metrics ingestion job)
//
// All numerics stay decimal strings; absent upstream fields stay nil.
package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/pkg/types"
)

// TradeRecord is one normalized historical trade.
type TradeRecord struct {
	ConditionID string
	Outcome     types.Outcome
	Timestamp   time.Time
	Price       string
	Size        string
	Side        string
	Wallet      string
}

// CandleRecord is one normalized historical OHLCV row.
type CandleRecord struct {
	Symbol    string
	Interval  types.Interval
	StartTime time.Time
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
}

// EtfMetricRecord is one normalized NAV/flow row. Pointer fields are nil
// when the upstream omitted them; they must stay nil end-to-end.
type EtfMetricRecord struct {
	Symbol          string
	AsOfDate        time.Time
	NAV             *string
	MarketPrice     *string
	PremiumDiscount *float64
	FlowUnits       *float64
	SharesOut       *float64
	APShares        map[string]float64 // AP name → share pct, may be empty
}

// DataHistClient is the historical data API client.
type DataHistClient struct {
	http *resty.Client
	gate *Gate
	log  zerolog.Logger
}

// NewDataHistClient creates the adapter.
func NewDataHistClient(cfg config.SourceConfig, gate *Gate, log zerolog.Logger) *DataHistClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &DataHistClient{
		http: client,
		gate: gate,
		log:  log.With().Str("component", "data_hist").Logger(),
	}
}

type rawTrade struct {
	Outcome     string `json:"outcome"`
	TimestampMs int64  `json:"timestamp"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	ProxyWallet string `json:"proxyWallet"`
}

type tradesResponse struct {
	Trades []rawTrade `json:"trades"`
	Total  int        `json:"total"`
}

// Trades returns a lazy page sequence over a market's trade history.
// The sequence ends at the first short page.
func (c *DataHistClient) Trades(conditionID string, batchSize int) Pager[TradeRecord] {
	return NewPager(batchSize, func(ctx context.Context, offset int) ([]TradeRecord, int, error) {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, 0, err
		}

		var page tradesResponse
		_, err := do(ctx, func() (*resty.Response, error) {
			return c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"market": conditionID,
					"limit":  strconv.Itoa(batchSize),
					"offset": strconv.Itoa(offset),
				}).
				SetResult(&page).
				Get("/trades")
		})
		if err != nil {
			return nil, 0, err
		}

		records := make([]TradeRecord, 0, len(page.Trades))
		for _, t := range page.Trades {
			records = append(records, TradeRecord{
				ConditionID: conditionID,
				Outcome:     types.Outcome(strings.ToUpper(strings.TrimSpace(t.Outcome))),
				Timestamp:   time.UnixMilli(t.TimestampMs).UTC(),
				Price:       t.Price,
				Size:        t.Size,
				Side:        strings.ToLower(t.Side),
				Wallet:      strings.ToLower(t.ProxyWallet),
			})
		}
		return records, page.Total, nil
	})
}

type rawCandle struct {
	TimestampMs int64  `json:"t"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Close       string `json:"c"`
	Volume      string `json:"v"`
}

// Candles fetches historical OHLCV bars for an equity/ETF symbol over
// [from, to].
func (c *DataHistClient) Candles(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]CandleRecord, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []rawCandle
	_, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   symbol,
				"interval": string(interval),
				"from":     strconv.FormatInt(from.UnixMilli(), 10),
				"to":       strconv.FormatInt(to.UnixMilli(), 10),
			}).
			SetResult(&rows).
			Get("/candles")
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	records := make([]CandleRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, CandleRecord{
			Symbol:    symbol,
			Interval:  interval,
			StartTime: time.UnixMilli(r.TimestampMs).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return records, nil
}

type rawEtfMetric struct {
	Date            string             `json:"date"`
	NAV             *string            `json:"nav"`
	MarketPrice     *string            `json:"marketPrice"`
	PremiumDiscount *float64           `json:"premiumDiscount"`
	FlowUnits       *float64           `json:"flowUnits"`
	SharesOut       *float64           `json:"sharesOutstanding"`
	APShares        map[string]float64 `json:"apShares"`
}

// EtfMetrics fetches the NAV/flow time series for an ETF symbol since a
// given date. Returns ErrNotFound for symbols the source does not cover.
func (c *DataHistClient) EtfMetrics(ctx context.Context, symbol string, since time.Time) ([]EtfMetricRecord, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []rawEtfMetric
	_, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol": symbol,
				"since":  since.UTC().Format("2006-01-02"),
			}).
			SetResult(&rows).
			Get("/etf/metrics")
	})
	if err != nil {
		return nil, err
	}

	records := make([]EtfMetricRecord, 0, len(rows))
	for _, r := range rows {
		asOf, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			c.log.Debug().Str("symbol", symbol).Str("date", r.Date).Msg("skipping row with bad date")
			continue
		}
		records = append(records, EtfMetricRecord{
			Symbol:          symbol,
			AsOfDate:        asOf.UTC(),
			NAV:             r.NAV,
			MarketPrice:     r.MarketPrice,
			PremiumDiscount: r.PremiumDiscount,
			FlowUnits:       r.FlowUnits,
			SharesOut:       r.SharesOut,
			APShares:        r.APShares,
		})
	}
	return records, nil
}
