package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplePrices(t *testing.T) {
	var gotIDs, gotCurrencies string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		gotIDs = r.URL.Query().Get("ids")
		gotCurrencies = r.URL.Query().Get("vs_currencies")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"bitcoin":  {"usd": 43250.123456789012},
			"ethereum": {"usd": 2301.07},
			"solana":   {"eur": 95.5}
		}`))
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL, 100, 10, nil)
	prices, err := c.SimplePrices(context.Background(), []string{"bitcoin", "ethereum", "solana"})
	require.NoError(t, err)

	assert.Equal(t, "bitcoin,ethereum,solana", gotIDs)
	assert.Equal(t, "usd", gotCurrencies)

	// Full precision survives the JSON round trip.
	require.Contains(t, prices, "bitcoin")
	assert.Equal(t, "43250.123456789012", prices["bitcoin"].String())
	assert.Equal(t, "2301.07", prices["ethereum"].String())

	// An asset with no USD quote is skipped, not fatal.
	assert.NotContains(t, prices, "solana")
}

func TestSimplePrices_EmptyAssetList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty asset list")
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL, 100, 10, nil)
	prices, err := c.SimplePrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestSimplePrices_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL, 100, 10, nil)
	_, err := c.SimplePrices(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestSimplePrices_RateLimiterHonorsContext(t *testing.T) {
	// Exhaust the burst, then a cancelled context must abort the wait.
	c := NewCoinGeckoClient("http://127.0.0.1:0", 0.001, 1, nil)
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SimplePrices(ctx, []string{"bitcoin"})
	assert.ErrorIs(t, err, context.Canceled)
}
