package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

// stubClient serves canned prices, or a canned error, per call.
type stubClient struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (c *stubClient) SimplePrices(_ context.Context, _ []string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.prices, nil
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingHub struct {
	mu    sync.Mutex
	ticks map[string]decimal.Decimal
}

func (h *recordingHub) BroadcastPrice(asset string, price decimal.Decimal, _ time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticks == nil {
		h.ticks = map[string]decimal.Decimal{}
	}
	h.ticks[asset] = price
}

func TestPoll_DepositsAndBroadcasts(t *testing.T) {
	ms := store.NewMemoryStore()
	client := &stubClient{prices: map[string]decimal.Decimal{
		"bitcoin":  decimal.RequireFromString("43250.12"),
		"ethereum": decimal.RequireFromString("2301.07"),
	}}
	hub := &recordingHub{}
	p := NewPoller(client, ms, []string{"bitcoin", "ethereum"}, time.Minute, hub, nil)

	p.poll(context.Background())

	ctx := context.Background()
	for asset, want := range client.prices {
		latest, err := ms.LatestPrice(ctx, asset)
		require.NoError(t, err, asset)
		assert.True(t, latest.Price.Equal(want), "latest %s = %s", asset, latest.Price)

		// One historical point landed in the current minute bucket.
		hist, err := ms.PriceAtOrBefore(ctx, asset, time.Now().UTC())
		require.NoError(t, err, asset)
		assert.True(t, hist.Price.Equal(want), "historical %s = %s", asset, hist.Price)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Len(t, hub.ticks, 2)
	assert.True(t, hub.ticks["bitcoin"].Equal(decimal.RequireFromString("43250.12")))
}

func TestPoll_FetchErrorLeavesStoreUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	client := &stubClient{err: errors.New("upstream down")}
	p := NewPoller(client, ms, []string{"bitcoin"}, time.Minute, nil, nil)

	p.poll(context.Background())

	_, err := ms.LatestPrice(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPoll_NilHub(t *testing.T) {
	ms := store.NewMemoryStore()
	client := &stubClient{prices: map[string]decimal.Decimal{
		"bitcoin": decimal.RequireFromString("100"),
	}}
	p := NewPoller(client, ms, []string{"bitcoin"}, time.Minute, nil, nil)

	p.poll(context.Background()) // must not panic without a broadcaster

	_, err := ms.LatestPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
}

func TestRun_PollsImmediatelyAndStopsOnCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	client := &stubClient{prices: map[string]decimal.Decimal{
		"bitcoin": decimal.RequireFromString("100"),
	}}
	p := NewPoller(client, ms, []string{"bitcoin"}, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// The first cycle fires without waiting for the ticker.
	require.Eventually(t, func() bool { return client.callCount() >= 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, 1, client.callCount())
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&stubClient{}, store.NewMemoryStore(), nil, 0, nil, nil)
	assert.Equal(t, time.Minute, p.interval)
	assert.NotNil(t, p.log)
}
