// Package ledger executes trades against a user's simulated portfolio and
// reconstructs portfolio value at arbitrary instants by replaying the
// immutable trade log.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/metrics"
	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/registry"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

var (
	// ErrInvalidSide is returned when side is neither BUY nor SELL.
	ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

	// ErrInvalidQuantity is returned when quantity is not a positive
	// finite number.
	ErrInvalidQuantity = errors.New("ledger: quantity must be > 0")

	// ErrPriceUnavailable is returned when no price is known for the
	// asset. Retryable once the feed has published a tick.
	ErrPriceUnavailable = errors.New("ledger: no price available")

	// ErrInsufficientFunds is returned when a BUY exceeds the cash balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned when a SELL exceeds the held
	// quantity.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")
)

const (
	// costPlaces is the fractional precision of trade costs, matching the
	// stored NUMERIC precision.
	costPlaces = 8

	// quantityPlaces is the fractional precision of stored quantities.
	quantityPlaces = 12
)

// HoldingValue is one holding marked to its latest price.
type HoldingValue struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// Snapshot is the portfolio state returned after a successful trade.
type Snapshot struct {
	Cash       decimal.Decimal `json:"cash"`
	Holdings   []HoldingValue  `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Engine executes trades atomically against the store. All mutual exclusion
// lives in the store's UpdatePortfolio transaction scope, so engines on
// separate processes stay correct against one database.
type Engine struct {
	store store.Store
	reg   *registry.Registry
	log   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a ledger engine.
func NewEngine(st store.Store, reg *registry.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, reg: reg, log: logger, now: time.Now}
}

// ExecuteTrade executes one BUY or SELL for (userID, leagueID) at the
// latest known price.
//
// The read-modify-write of cash and the holding happens inside a single
// exclusive-lock transaction; on any failure, nothing is mutated. Exactly
// one trade record is appended on success.
func (e *Engine) ExecuteTrade(ctx context.Context, userID, leagueID, asset, side string, quantity decimal.Decimal) (*Snapshot, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	quantity = quantity.Truncate(quantityPlaces)
	if quantity.IsZero() {
		return nil, ErrInvalidQuantity
	}

	league, err := e.store.GetLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	assetID, err := e.reg.Resolve(asset, league.Assets)
	if err != nil {
		return nil, err
	}

	tick, err := e.store.LatestPrice(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, assetID)
	}
	if err != nil {
		return nil, err
	}
	if !tick.Price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, assetID)
	}

	cost := tick.Price.Mul(quantity).Round(costPlaces)
	start := time.Now()

	err = e.store.UpdatePortfolio(ctx, userID, leagueID, assetID, func(tx store.PortfolioTx) error {
		// Stamped under the portfolio lock: replay applies trades in
		// timestamp order, so the log must be stamped in commit order.
		executedAt := e.now().UTC()

		switch side {
		case model.SideBuy:
			if tx.Cash().LessThan(cost) {
				return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, tx.Cash())
			}
			tx.SetCash(tx.Cash().Sub(cost))
			tx.SetHolding(tx.HoldingQty().Add(quantity))
		case model.SideSell:
			held := tx.HoldingQty()
			if held.LessThan(quantity) {
				return fmt.Errorf("%w: want %s, hold %s", ErrInsufficientHoldings, quantity, held)
			}
			tx.SetCash(tx.Cash().Add(cost))
			remaining := held.Sub(quantity)
			if remaining.IsPositive() {
				tx.SetHolding(remaining)
			} else {
				tx.DeleteHolding()
			}
		}

		tx.AppendTrade(&model.Trade{
			ID:        uuid.New().String(),
			UserID:    userID,
			LeagueID:  leagueID,
			Asset:     assetID,
			Side:      side,
			Quantity:  quantity,
			Price:     tick.Price,
			Cost:      cost,
			Timestamp: executedAt,
		})
		return nil
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	e.log.Info("trade executed",
		"user", userID,
		"league", leagueID,
		"asset", assetID,
		"side", side,
		"qty", quantity.String(),
		"price", tick.Price.String(),
		"cost", cost.String(),
	)

	return e.snapshot(ctx, userID, leagueID)
}

// snapshot builds the post-trade view: fresh cash plus holdings valued at
// latest prices.
func (e *Engine) snapshot(ctx context.Context, userID, leagueID string) (*Snapshot, error) {
	portfolio, err := e.store.GetPortfolio(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	holdings, err := e.store.HoldingsFor(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Cash: portfolio.Cash, Holdings: []HoldingValue{}}
	total := portfolio.Cash
	for _, h := range holdings {
		hv := HoldingValue{Asset: h.Asset, Quantity: h.Quantity}
		tick, err := e.store.LatestPrice(ctx, h.Asset)
		switch {
		case err == nil:
			hv.Price = tick.Price
			hv.Value = tick.Price.Mul(h.Quantity).Round(costPlaces)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		total = total.Add(hv.Value)
		snap.Holdings = append(snap.Holdings, hv)
	}
	snap.TotalValue = total
	return snap, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, registry.ErrUnknownAsset), errors.Is(err, registry.ErrInvalidAssetID):
		return "unknown_asset"
	default:
		return "error"
	}
}
