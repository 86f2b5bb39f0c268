package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/metrics"
	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

// Valuator reconstructs portfolio value at an arbitrary instant by replaying
// the immutable trade log. There is no stored historical snapshot of cash or
// holdings; the log is the single source of truth.
//
// Pure read side: never mutates state, idempotent for a fixed price store.
type Valuator struct {
	store store.Store
}

// NewValuator creates a valuator over the given store.
func NewValuator(st store.Store) *Valuator {
	return &Valuator{store: st}
}

// ValueAt replays every trade for (userID, leagueID) with timestamp ≤ asOf,
// then marks remaining holdings to the best available price as of asOf:
// the latest historical bucket at or before asOf, else the current latest
// snapshot, else zero. Valuation degrades gracefully rather than failing.
func (v *Valuator) ValueAt(ctx context.Context, userID, leagueID string, asOf time.Time) (*model.Valuation, error) {
	trades, err := v.store.TradesFor(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	metrics.Valuations.Inc()

	cash := model.InitialCash
	holdings := make(map[string]decimal.Decimal)

	for _, t := range trades {
		if t.Timestamp.After(asOf) {
			break // TradesFor is timestamp-ascending
		}
		switch t.Side {
		case model.SideBuy:
			cash = cash.Sub(t.Cost)
			holdings[t.Asset] = holdings[t.Asset].Add(t.Quantity)
		case model.SideSell:
			cash = cash.Add(t.Cost)
			remaining := holdings[t.Asset].Sub(t.Quantity)
			if remaining.IsPositive() {
				holdings[t.Asset] = remaining
			} else {
				delete(holdings, t.Asset)
			}
		}
	}

	val := &model.Valuation{
		Cash:        cash,
		Holdings:    holdings,
		Prices:      make(map[string]decimal.Decimal, len(holdings)),
		CryptoValue: decimal.Zero,
		AsOf:        asOf,
	}

	for asset, qty := range holdings {
		price, err := v.priceAsOf(ctx, asset, asOf)
		if err != nil {
			return nil, err
		}
		val.Prices[asset] = price
		val.CryptoValue = val.CryptoValue.Add(price.Mul(qty))
	}
	val.CryptoValue = val.CryptoValue.Round(costPlaces)
	val.TotalValue = cash.Add(val.CryptoValue)
	return val, nil
}

// priceAsOf resolves an asset price at asOf with graceful degradation:
// historical bucket → latest snapshot → zero.
func (v *Valuator) priceAsOf(ctx context.Context, asset string, asOf time.Time) (decimal.Decimal, error) {
	p, err := v.store.PriceAtOrBefore(ctx, asset, asOf)
	if err == nil {
		return p.Price, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}

	p, err = v.store.LatestPrice(ctx, asset)
	if err == nil {
		return p.Price, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}
	return decimal.Zero, nil
}
