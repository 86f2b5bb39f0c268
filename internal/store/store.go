// Package store defines the persistence interface for the trading game.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
)

var (
	// ErrNotFound is returned for missing users, leagues, portfolios,
	// and prices.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint would be violated
	// (username, league join code).
	ErrDuplicate = errors.New("store: duplicate")

	// ErrLeagueFull is returned by AddMember when the league's member
	// capacity is already reached.
	ErrLeagueFull = errors.New("store: league is full")
)

// PortfolioTx is the state handed to an UpdatePortfolio callback. All reads
// observe the locked rows; all writes take effect only if the callback
// returns nil.
type PortfolioTx interface {
	// Cash returns the portfolio's current cash balance.
	Cash() decimal.Decimal

	// SetCash stages a new cash balance.
	SetCash(cash decimal.Decimal)

	// HoldingQty returns the locked holding's quantity (zero if absent).
	HoldingQty() decimal.Decimal

	// SetHolding stages a new quantity for the locked holding.
	SetHolding(qty decimal.Decimal)

	// DeleteHolding stages removal of the locked holding row.
	DeleteHolding()

	// AppendTrade stages an immutable trade record.
	AppendTrade(t *model.Trade)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. Returns ErrDuplicate on username clash.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByUsername retrieves a user by handle.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// --- Leagues & rosters ---

	// CreateLeague persists a new league and enrolls the owner.
	// Returns ErrDuplicate on join-code clash.
	CreateLeague(ctx context.Context, l *model.League) error

	// GetLeague retrieves a league by ID.
	GetLeague(ctx context.Context, id string) (*model.League, error)

	// GetLeagueByJoinCode retrieves a league by its unique join code.
	GetLeagueByJoinCode(ctx context.Context, code string) (*model.League, error)

	// ListLeaguesFor returns all leagues a user belongs to.
	ListLeaguesFor(ctx context.Context, userID string) ([]model.League, error)

	// AddMember enrolls a user. Enforces the member capacity at join time
	// (ErrLeagueFull) and is idempotent for existing members.
	AddMember(ctx context.Context, leagueID, userID string) error

	// MembersOf returns the league roster, username-ascending.
	MembersOf(ctx context.Context, leagueID string) ([]model.Member, error)

	// FinalizeLeague snapshots the winner and flips status to COMPLETED.
	// A no-op if the league is already completed.
	FinalizeLeague(ctx context.Context, leagueID, winnerID string, at time.Time) error

	// --- Portfolios & holdings ---

	// EnsurePortfolio creates the (user, league) portfolio with the initial
	// cash endowment if it does not exist. Idempotent.
	EnsurePortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error)

	// GetPortfolio retrieves a portfolio.
	GetPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error)

	// HoldingsFor returns all non-zero holdings, asset-ascending.
	HoldingsFor(ctx context.Context, userID, leagueID string) ([]model.Holding, error)

	// UpdatePortfolio runs fn with exclusive access to the portfolio cash
	// row and the holding row for one asset, in a single transaction scope.
	// Concurrent calls against the same (user, league) serialize; an error
	// from fn rolls back every staged mutation.
	UpdatePortfolio(ctx context.Context, userID, leagueID, asset string, fn func(PortfolioTx) error) error

	// --- Immutable trade log ---

	// TradesFor returns all trades for (user, league), timestamp-ascending.
	TradesFor(ctx context.Context, userID, leagueID string) ([]model.Trade, error)

	// --- Price store ---

	// UpsertLatestPrice overwrites the latest-price snapshot for one asset.
	UpsertLatestPrice(ctx context.Context, p *model.PricePoint) error

	// InsertPricePoint appends one historical point into the asset's minute
	// bucket. First write wins; a bucket collision is a silent no-op.
	InsertPricePoint(ctx context.Context, p *model.PricePoint) error

	// LatestPrice returns the latest-price snapshot, or ErrNotFound.
	LatestPrice(ctx context.Context, asset string) (*model.PricePoint, error)

	// PriceAtOrBefore returns the most recent historical bucket at or
	// before ts, or ErrNotFound.
	PriceAtOrBefore(ctx context.Context, asset string, ts time.Time) (*model.PricePoint, error)

	// PriceHistory returns historical buckets in [from, to], ascending.
	PriceHistory(ctx context.Context, asset string, from, to time.Time) ([]model.PricePoint, error)
}

// MinuteBucket truncates ts to its minute bucket in UTC. Both store
// implementations key the historical series on this.
func MinuteBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Minute)
}
