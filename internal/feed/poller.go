package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/metrics"
	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

// Broadcaster pushes live price ticks to connected clients. Implemented by
// the web package's WSHub; nil disables broadcasting.
type Broadcaster interface {
	BroadcastPrice(asset string, price decimal.Decimal, ts time.Time)
}

// Poller fetches all registry assets once per interval and deposits the
// results into the price store: the latest-price snapshot is overwritten,
// and one historical point lands in the asset's minute bucket (first write
// wins, so restarts and overlapping pollers stay idempotent).
type Poller struct {
	client   Client
	store    store.Store
	assets   []string
	interval time.Duration
	hub      Broadcaster
	log      *slog.Logger
}

// NewPoller creates a poller for the given asset list.
func NewPoller(client Client, st store.Store, assets []string, interval time.Duration, hub Broadcaster, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		store:    st,
		assets:   assets,
		interval: interval,
		hub:      hub,
		log:      logger,
	}
}

// Run polls until ctx is cancelled. A failed cycle is logged and skipped;
// consumers tolerate missing prices, so no retry happens here.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx) // immediate first cycle so trading can start without waiting

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	prices, err := p.client.SimplePrices(ctx, p.assets)
	if err != nil {
		metrics.PriceFetches.WithLabelValues("error").Inc()
		p.log.Error("price fetch failed", "err", err)
		return
	}
	metrics.PriceFetches.WithLabelValues("ok").Inc()

	now := time.Now().UTC()
	for asset, price := range prices {
		point := &model.PricePoint{Asset: asset, Price: price, Timestamp: now}
		if err := p.store.UpsertLatestPrice(ctx, point); err != nil {
			p.log.Error("latest price upsert failed", "asset", asset, "err", err)
			continue
		}
		if err := p.store.InsertPricePoint(ctx, point); err != nil {
			p.log.Error("price history insert failed", "asset", asset, "err", err)
		}
		if p.hub != nil {
			p.hub.BroadcastPrice(asset, price, now)
		}
	}
	p.log.Info("price cycle complete", "assets", len(prices))
}
