// Package feed fetches external market prices and deposits them into the
// price store. The core engines only ever read the store; the feed is an
// independent producer running on a fixed cadence.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Client fetches spot prices for a set of assets, keyed by their canonical
// feed identifiers.
type Client interface {
	SimplePrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// CoinGeckoClient implements Client against the CoinGecko simple-price API.
type CoinGeckoClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// ensure CoinGeckoClient implements the interface
var _ Client = (*CoinGeckoClient)(nil)

// NewCoinGeckoClient creates a rate-limited CoinGecko client. An empty
// baseURL selects the public API.
func NewCoinGeckoClient(baseURL string, rps float64, burst int, logger *slog.Logger) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if rps <= 0 {
		rps = 0.5 // public API allowance
	}
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CoinGeckoClient{
		client:  resty.New().SetBaseURL(baseURL),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger,
	}
}

// SimplePrices fetches USD spot prices for the given assets in one call.
// Assets missing from the response are simply absent from the result map.
func (c *CoinGeckoClient) SimplePrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if len(assets) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(assets, ",")).
		SetQueryParam("vs_currencies", "usd").
		Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("feed: fetch prices: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed: fetch prices: status %d", resp.StatusCode())
	}

	// json.Number keeps full precision on the way into decimal.
	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("feed: decode prices: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(payload))
	for asset, quotes := range payload {
		usd, ok := quotes["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(usd.String())
		if err != nil {
			c.log.Warn("unparseable price from feed", "asset", asset, "raw", usd.String())
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}
