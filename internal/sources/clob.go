// clob.go implements the CLOB REST adapter used to seed order-book state.
//
//   - GetOrderBook: GET /book — full L2 depth for a token
//
// Book reads go through a token bucket because the CLOB publishes
// burst-based limits per 10-second window rather than simple spacing.
// A 404 from /book means the market's book is gone (closed or delisted)
// and maps to ErrMarketNotFound for the stream service to handle.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/pkg/types"
)

// ErrMarketNotFound reports that the CLOB no longer serves a book for the
// requested token (closed market). Callers treat it as a domain outcome,
// not a failure.
var ErrMarketNotFound = errors.New("market order book not found")

// BookResponse is the normalized full-depth book for one token.
type BookResponse struct {
	AssetID string             `json:"asset_id"`
	Bids    []types.PriceLevel `json:"bids"` // non-increasing in price
	Asks    []types.PriceLevel `json:"asks"` // non-decreasing in price
}

// CLOBClient is the order-book REST client.
type CLOBClient struct {
	http *resty.Client
	rl   *TokenBucket
	log  zerolog.Logger
}

// NewCLOBClient creates a REST client for order-book seeds.
// The bucket stays under the CLOB's published book-read limit of 1500 per
// 10s window: 150 burst, 15/s refill (150 per window once the burst is spent).
func NewCLOBClient(cfg config.SourceConfig, log zerolog.Logger) *CLOBClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &CLOBClient{
		http: client,
		rl:   NewTokenBucket(150, 15),
		log:  log.With().Str("component", "clob").Logger(),
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *CLOBClient) GetOrderBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result BookResponse
	_, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("token_id", tokenID).
			SetResult(&result).
			Get("/book")
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &result, nil
}
