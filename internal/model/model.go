// Package model defines the core domain types shared across the service.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Matchup frequencies.
const (
	FrequencyDaily  = "DAILY"
	FrequencyWeekly = "WEEKLY"
)

// League statuses.
const (
	LeagueActive    = "ACTIVE"
	LeagueCompleted = "COMPLETED"
)

// InitialCash is the simulated endowment every portfolio starts with.
var InitialCash = decimal.RequireFromString("100000.00")

// User is a registered player. A user holds one portfolio per league.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// LeagueSettings is the typed league configuration, validated once at the
// league-creation boundary.
type LeagueSettings struct {
	// MatchupFrequency is DAILY or WEEKLY.
	MatchupFrequency string `json:"matchup_frequency"`
	// MatchupCount caps the total number of scheduled rounds when set.
	// Clamped to [1, 1000] at creation.
	MatchupCount *int `json:"matchup_count,omitempty"`
}

// League is a competition scope grouping a roster of users.
type League struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	OwnerID     string         `json:"owner_id" db:"owner_id"`
	JoinCode    string         `json:"join_code" db:"join_code"`
	MaxMembers  int            `json:"max_members,omitempty" db:"max_members"` // 0 = uncapped
	Assets      []string       `json:"assets,omitempty" db:"assets"`           // empty = global whitelist
	Settings    LeagueSettings `json:"settings" db:"settings"`
	Status      string         `json:"status" db:"status"`
	WinnerID    string         `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Member is one (userID, username) entry of a league roster.
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Portfolio is the financial state of one (user, league) pair.
type Portfolio struct {
	UserID    string          `json:"user_id" db:"user_id"`
	LeagueID  string          `json:"league_id" db:"league_id"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a non-negative asset quantity held by one (user, league) pair.
// A holding reaching zero is deleted, never retained.
type Holding struct {
	UserID   string          `json:"user_id" db:"user_id"`
	LeagueID string          `json:"league_id" db:"league_id"`
	Asset    string          `json:"asset" db:"asset"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
}

// Trade is an immutable record of a trade execution.
// Once created, these are never modified or deleted; they are the source
// of truth for portfolio reconstruction at past times.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	LeagueID  string          `json:"league_id" db:"league_id"`
	Asset     string          `json:"asset" db:"asset"`
	Side      string          `json:"side" db:"side"` // BUY or SELL
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Cost      decimal.Decimal `json:"cost" db:"cost"` // price × quantity, 8 dp
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PricePoint is one (asset, price, timestamp) observation from the feed.
// Stored both as a latest-price snapshot (one row per asset, overwritten)
// and as a minute-bucketed series (append-only, first write wins).
type PricePoint struct {
	Asset     string          `json:"asset" db:"asset"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Matchup is a head-to-head pairing of two league members for one round.
type Matchup struct {
	Home Member `json:"home"`
	Away Member `json:"away"`
}

// Round is one scheduled scoring window.
type Round struct {
	Index    int       `json:"index"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Matchups []Matchup `json:"matchups"`
	Byes     []Member  `json:"byes,omitempty"`
}

// Valuation is a portfolio reconstructed at one instant.
type Valuation struct {
	Cash        decimal.Decimal            `json:"cash"`
	Holdings    map[string]decimal.Decimal `json:"holdings"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	CryptoValue decimal.Decimal            `json:"crypto_value"`
	TotalValue  decimal.Decimal            `json:"total_value"`
	AsOf        time.Time                  `json:"as_of"`
}

// StandingsRow is one member's aggregated record across completed rounds.
type StandingsRow struct {
	UserID        string          `json:"user_id"`
	Username      string          `json:"username"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	Ties          int             `json:"ties"`
	Byes          int             `json:"byes"`
	PointsFor     decimal.Decimal `json:"points_for"`
	PointsAgainst decimal.Decimal `json:"points_against"`
}

// PointDiff returns pointsFor − pointsAgainst.
func (r StandingsRow) PointDiff() decimal.Decimal {
	return r.PointsFor.Sub(r.PointsAgainst)
}
