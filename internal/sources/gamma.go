// gamma.go implements the prediction-market catalog adapter.
//
// The catalog API serves paginated market listings (200 per page) plus a
// per-market state endpoint used by incremental sync. Responses are
// normalized into MarketRecord: outcome labels upper-cased, token ids
// index-aligned with outcomes, prices and liquidity kept as decimal
// strings, timestamps parsed to UTC. Source-specific fields we do not
// consume are dropped at this boundary.
package sources

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/pkg/types"
)

const catalogPageSize = 200

// gammaMarket is the JSON shape returned by the catalog API.
type gammaMarket struct {
	ConditionID      string `json:"conditionId"`
	Question         string `json:"question"`
	Slug             string `json:"slug"`
	Active           bool   `json:"active"`
	Closed           bool   `json:"closed"`
	EndDate          string `json:"endDate"`
	Liquidity        string `json:"liquidity"`
	Volume24hr       string `json:"volume24hr"`
	Outcomes         string `json:"outcomes"`      // JSON array string
	OutcomePrices    string `json:"outcomePrices"` // JSON array string
	ClobTokenIds     string `json:"clobTokenIds"`  // JSON array string
	LastUpdatedBlock int64  `json:"lastUpdatedBlock"`
}

// gammaListResponse wraps a catalog page with the server-reported total.
type gammaListResponse struct {
	Markets []gammaMarket `json:"markets"`
	Total   int           `json:"total"`
}

// MarketRecord is the normalized catalog entry.
type MarketRecord struct {
	ConditionID      string
	Question         string
	Slug             string
	Outcomes         []string // upper-cased labels
	TokenIDs         []string // index-aligned with Outcomes
	OutcomePrices    []string // decimal strings, index-aligned
	EndDate          time.Time
	Active           bool
	Closed           bool
	Liquidity        string
	Volume24h        string
	LastUpdatedBlock int64
}

// GammaClient fetches the prediction-market catalog.
type GammaClient struct {
	http *resty.Client
	gate *Gate
	log  zerolog.Logger
}

// NewGammaClient creates a catalog adapter.
func NewGammaClient(cfg config.SourceConfig, gate *Gate, log zerolog.Logger) *GammaClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &GammaClient{
		http: client,
		gate: gate,
		log:  log.With().Str("component", "gamma").Logger(),
	}
}

// Markets returns a lazy page sequence over the open-market catalog.
func (c *GammaClient) Markets() Pager[MarketRecord] {
	return NewPager(catalogPageSize, func(ctx context.Context, offset int) ([]MarketRecord, int, error) {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, 0, err
		}

		var page gammaListResponse
		_, err := do(ctx, func() (*resty.Response, error) {
			return c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"limit":  strconv.Itoa(catalogPageSize),
					"offset": strconv.Itoa(offset),
					"closed": "false",
				}).
				SetResult(&page).
				Get("/markets")
		})
		if err != nil {
			return nil, 0, err
		}

		records := make([]MarketRecord, 0, len(page.Markets))
		for _, gm := range page.Markets {
			records = append(records, normalizeMarket(gm))
		}
		return records, page.Total, nil
	})
}

// MarketState re-fetches a single market for incremental sync.
// Returns ErrNotFound for markets the catalog no longer serves.
func (c *GammaClient) MarketState(ctx context.Context, conditionID string) (MarketRecord, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return MarketRecord{}, err
	}

	var gm gammaMarket
	_, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&gm).
			Get("/markets/" + conditionID)
	})
	if err != nil {
		return MarketRecord{}, err
	}
	return normalizeMarket(gm), nil
}

// normalizeMarket maps the raw catalog shape to a MarketRecord.
// Unparseable embedded arrays yield empty slices rather than errors so one
// malformed market never aborts a catalog page.
func normalizeMarket(gm gammaMarket) MarketRecord {
	rec := MarketRecord{
		ConditionID:      gm.ConditionID,
		Question:         gm.Question,
		Slug:             gm.Slug,
		Active:           gm.Active,
		Closed:           gm.Closed,
		Liquidity:        gm.Liquidity,
		Volume24h:        gm.Volume24hr,
		LastUpdatedBlock: gm.LastUpdatedBlock,
	}

	var outcomes []string
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err == nil {
			for i := range outcomes {
				outcomes[i] = strings.ToUpper(strings.TrimSpace(outcomes[i]))
			}
			rec.Outcomes = outcomes
		}
	}
	if gm.ClobTokenIds != "" {
		var ids []string
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &ids); err == nil {
			rec.TokenIDs = ids
		}
	}
	if gm.OutcomePrices != "" {
		var prices []string
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err == nil {
			rec.OutcomePrices = prices
		}
	}
	if gm.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			rec.EndDate = end.UTC()
		}
	}
	return rec
}

// Price returns the cached price for an outcome, or "".
func (r MarketRecord) Price(outcome types.Outcome) string {
	for i, label := range r.Outcomes {
		if types.Outcome(label) == outcome && i < len(r.OutcomePrices) {
			return r.OutcomePrices[i]
		}
	}
	return ""
}
