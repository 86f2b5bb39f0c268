package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- Leagues & rosters ---

const leagueColumns = `id, name, owner_id, join_code, max_members, assets,
       matchup_frequency, matchup_count, status, winner_id, created_at, completed_at`

func (s *PostgresStore) CreateLeague(ctx context.Context, l *model.League) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO leagues (id, name, owner_id, join_code, max_members, assets,
		                      matchup_frequency, matchup_count, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.Name, l.OwnerID, l.JoinCode, l.MaxMembers, l.Assets,
		l.Settings.MatchupFrequency, l.Settings.MatchupCount, l.Status, l.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO league_members (league_id, user_id, joined_at)
		 VALUES ($1, $2, $3)`,
		l.ID, l.OwnerID, l.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	return s.scanLeague(s.pool.QueryRow(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE id = $1`, id))
}

func (s *PostgresStore) GetLeagueByJoinCode(ctx context.Context, code string) (*model.League, error) {
	return s.scanLeague(s.pool.QueryRow(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE join_code = $1`, code))
}

func (s *PostgresStore) scanLeague(row pgx.Row) (*model.League, error) {
	var l model.League
	var winner *string
	err := row.Scan(&l.ID, &l.Name, &l.OwnerID, &l.JoinCode, &l.MaxMembers, &l.Assets,
		&l.Settings.MatchupFrequency, &l.Settings.MatchupCount,
		&l.Status, &winner, &l.CreatedAt, &l.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get league: %w", err)
	}
	if winner != nil {
		l.WinnerID = *winner
	}
	return &l, nil
}

func (s *PostgresStore) ListLeaguesFor(ctx context.Context, userID string) ([]model.League, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leagueColumns+`
		 FROM leagues l
		 JOIN league_members lm ON lm.league_id = l.id
		 WHERE lm.user_id = $1
		 ORDER BY l.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leagues []model.League
	for rows.Next() {
		var l model.League
		var winner *string
		if err := rows.Scan(&l.ID, &l.Name, &l.OwnerID, &l.JoinCode, &l.MaxMembers, &l.Assets,
			&l.Settings.MatchupFrequency, &l.Settings.MatchupCount,
			&l.Status, &winner, &l.CreatedAt, &l.CompletedAt); err != nil {
			return nil, err
		}
		if winner != nil {
			l.WinnerID = *winner
		}
		leagues = append(leagues, l)
	}
	return leagues, rows.Err()
}

// AddMember enrolls a user, enforcing capacity inside one transaction so a
// concurrent join cannot slip past the count check.
func (s *PostgresStore) AddMember(ctx context.Context, leagueID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var maxMembers, current int
	err = tx.QueryRow(ctx,
		`SELECT max_members FROM leagues WHERE id = $1 FOR UPDATE`, leagueID).
		Scan(&maxMembers)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM league_members WHERE league_id = $1 AND user_id = $2)`,
		leagueID, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return tx.Commit(ctx)
	}

	if err := tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM league_members WHERE league_id = $1`, leagueID).
		Scan(&current); err != nil {
		return err
	}
	if maxMembers > 0 && current >= maxMembers {
		return ErrLeagueFull
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO league_members (league_id, user_id, joined_at) VALUES ($1, $2, now())`,
		leagueID, userID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) MembersOf(ctx context.Context, leagueID string) ([]model.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.username
		 FROM league_members lm
		 JOIN users u ON u.id = lm.user_id
		 WHERE lm.league_id = $1
		 ORDER BY u.username`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) FinalizeLeague(ctx context.Context, leagueID, winnerID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leagues
		 SET status = $2, winner_id = $3, completed_at = $4
		 WHERE id = $1 AND status <> $2`,
		leagueID, model.LeagueCompleted, winnerID, at)
	if err != nil {
		return err
	}
	_ = tag // already-completed leagues are left untouched
	return nil
}

// --- Portfolios & holdings ---

func (s *PostgresStore) EnsurePortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (user_id, league_id, cash, created_at)
		 VALUES ($1, $2, $3::NUMERIC, now())
		 ON CONFLICT (user_id, league_id) DO NOTHING`,
		userID, leagueID, model.InitialCash.String(),
	)
	if err != nil {
		return nil, err
	}
	return s.GetPortfolio(ctx, userID, leagueID)
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	var p model.Portfolio
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, league_id, cash::TEXT, created_at
		 FROM portfolios WHERE user_id = $1 AND league_id = $2`,
		userID, leagueID).
		Scan(&p.UserID, &p.LeagueID, &cash, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s/%s: %w", userID, leagueID, err)
	}
	p.Cash, _ = decimal.NewFromString(cash)
	return &p, nil
}

func (s *PostgresStore) HoldingsFor(ctx context.Context, userID, leagueID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, quantity::TEXT
		 FROM holdings
		 WHERE user_id = $1 AND league_id = $2
		 ORDER BY asset`, userID, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h := model.Holding{UserID: userID, LeagueID: leagueID}
		var qty string
		if err := rows.Scan(&h.Asset, &qty); err != nil {
			return nil, err
		}
		h.Quantity, _ = decimal.NewFromString(qty)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// pgTx stages mutations against the locked rows of one UpdatePortfolio call.
type pgTx struct {
	cash          decimal.Decimal
	qty           decimal.Decimal
	cashDirty     bool
	holdingDirty  bool
	deleteHolding bool
	trades        []model.Trade
}

func (t *pgTx) Cash() decimal.Decimal { return t.cash }
func (t *pgTx) SetCash(c decimal.Decimal) {
	t.cash = c
	t.cashDirty = true
}
func (t *pgTx) HoldingQty() decimal.Decimal { return t.qty }
func (t *pgTx) SetHolding(q decimal.Decimal) {
	t.qty = q
	t.holdingDirty = true
	t.deleteHolding = false
}
func (t *pgTx) DeleteHolding() {
	t.qty = decimal.Zero
	t.holdingDirty = false
	t.deleteHolding = true
}
func (t *pgTx) AppendTrade(tr *model.Trade) { t.trades = append(t.trades, *tr) }

// UpdatePortfolio locks the portfolio cash row and the holding row for one
// asset with SELECT ... FOR UPDATE inside a single transaction. Two
// concurrent trades against the same portfolio serialize here, so a
// sufficiency check can never read stale state.
func (s *PostgresStore) UpdatePortfolio(ctx context.Context, userID, leagueID, asset string, fn func(PortfolioTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var cashStr string
	err = tx.QueryRow(ctx,
		`SELECT cash::TEXT FROM portfolios
		 WHERE user_id = $1 AND league_id = $2
		 FOR UPDATE`,
		userID, leagueID).Scan(&cashStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	state := &pgTx{}
	state.cash, _ = decimal.NewFromString(cashStr)

	var qtyStr string
	err = tx.QueryRow(ctx,
		`SELECT quantity::TEXT FROM holdings
		 WHERE user_id = $1 AND league_id = $2 AND asset = $3
		 FOR UPDATE`,
		userID, leagueID, asset).Scan(&qtyStr)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		state.qty = decimal.Zero
	case err != nil:
		return err
	default:
		state.qty, _ = decimal.NewFromString(qtyStr)
	}

	if err := fn(state); err != nil {
		return err
	}

	if state.cashDirty {
		if _, err := tx.Exec(ctx,
			`UPDATE portfolios SET cash = $3::NUMERIC
			 WHERE user_id = $1 AND league_id = $2`,
			userID, leagueID, state.cash.String()); err != nil {
			return err
		}
	}
	if state.deleteHolding {
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND league_id = $2 AND asset = $3`,
			userID, leagueID, asset); err != nil {
			return err
		}
	} else if state.holdingDirty {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, league_id, asset, quantity)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (user_id, league_id, asset)
			 DO UPDATE SET quantity = EXCLUDED.quantity`,
			userID, leagueID, asset, state.qty.String()); err != nil {
			return err
		}
	}
	for _, tr := range state.trades {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trades (id, user_id, league_id, asset, side, quantity, price, cost, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
			tr.ID, tr.UserID, tr.LeagueID, tr.Asset, tr.Side,
			tr.Quantity.String(), tr.Price.String(), tr.Cost.String(), tr.Timestamp,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// --- Immutable trade log ---

func (s *PostgresStore) TradesFor(ctx context.Context, userID, leagueID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, league_id, asset, side,
		        quantity::TEXT, price::TEXT, cost::TEXT, timestamp
		 FROM trades
		 WHERE user_id = $1 AND league_id = $2
		 ORDER BY timestamp, id`, userID, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, cost string
		if err := rows.Scan(&t.ID, &t.UserID, &t.LeagueID, &t.Asset, &t.Side,
			&qty, &price, &cost, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Cost, _ = decimal.NewFromString(cost)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Price store ---

func (s *PostgresStore) UpsertLatestPrice(ctx context.Context, p *model.PricePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO latest_prices (asset, price, timestamp)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (asset)
		 DO UPDATE SET price = EXCLUDED.price, timestamp = EXCLUDED.timestamp`,
		p.Asset, p.Price.String(), p.Timestamp,
	)
	return err
}

func (s *PostgresStore) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	// First write wins per (asset, minute bucket).
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (asset, price, bucket)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (asset, bucket) DO NOTHING`,
		p.Asset, p.Price.String(), MinuteBucket(p.Timestamp),
	)
	return err
}

func (s *PostgresStore) LatestPrice(ctx context.Context, asset string) (*model.PricePoint, error) {
	return s.scanPrice(s.pool.QueryRow(ctx,
		`SELECT asset, price::TEXT, timestamp FROM latest_prices WHERE asset = $1`, asset))
}

func (s *PostgresStore) PriceAtOrBefore(ctx context.Context, asset string, ts time.Time) (*model.PricePoint, error) {
	return s.scanPrice(s.pool.QueryRow(ctx,
		`SELECT asset, price::TEXT, bucket
		 FROM price_history
		 WHERE asset = $1 AND bucket <= $2
		 ORDER BY bucket DESC
		 LIMIT 1`, asset, ts))
}

func (s *PostgresStore) scanPrice(row pgx.Row) (*model.PricePoint, error) {
	var p model.PricePoint
	var price string
	err := row.Scan(&p.Asset, &price, &p.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	p.Price, _ = decimal.NewFromString(price)
	return &p, nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, asset string, from, to time.Time) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, price::TEXT, bucket
		 FROM price_history
		 WHERE asset = $1 AND bucket BETWEEN $2 AND $3
		 ORDER BY bucket`, asset, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var price string
		if err := rows.Scan(&p.Asset, &price, &p.Timestamp); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(price)
		points = append(points, p)
	}
	return points, rows.Err()
}
