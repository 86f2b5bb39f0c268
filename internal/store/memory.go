package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	leagues   map[string]*model.League
	rosters   map[string][]string // leagueID → userIDs, join order
	cash      map[string]decimal.Decimal
	created   map[string]time.Time
	holdings  map[string]decimal.Decimal // user|league|asset → qty
	trades    []model.Trade
	latest    map[string]model.PricePoint
	history   map[string][]model.PricePoint // asset → ascending buckets
	portLocks map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		leagues:   make(map[string]*model.League),
		rosters:   make(map[string][]string),
		cash:      make(map[string]decimal.Decimal),
		created:   make(map[string]time.Time),
		holdings:  make(map[string]decimal.Decimal),
		latest:    make(map[string]model.PricePoint),
		history:   make(map[string][]model.PricePoint),
		portLocks: make(map[string]*sync.Mutex),
	}
}

func portKey(userID, leagueID string) string        { return userID + "|" + leagueID }
func holdKey(userID, leagueID, asset string) string { return userID + "|" + leagueID + "|" + asset }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			copy := *u
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

// --- Leagues & rosters ---

func (s *MemoryStore) CreateLeague(_ context.Context, l *model.League) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.leagues {
		if existing.JoinCode == l.JoinCode {
			return ErrDuplicate
		}
	}
	copy := *l
	s.leagues[l.ID] = &copy
	s.rosters[l.ID] = []string{l.OwnerID}
	return nil
}

func (s *MemoryStore) GetLeague(_ context.Context, id string) (*model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leagues[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) GetLeagueByJoinCode(_ context.Context, code string) (*model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.leagues {
		if l.JoinCode == code {
			copy := *l
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListLeaguesFor(_ context.Context, userID string) ([]model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.League
	for id, members := range s.rosters {
		for _, m := range members {
			if m == userID {
				out = append(out, *s.leagues[id])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AddMember(_ context.Context, leagueID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leagues[leagueID]
	if !ok {
		return ErrNotFound
	}
	roster := s.rosters[leagueID]
	for _, m := range roster {
		if m == userID {
			return nil
		}
	}
	if l.MaxMembers > 0 && len(roster) >= l.MaxMembers {
		return ErrLeagueFull
	}
	s.rosters[leagueID] = append(roster, userID)
	return nil
}

func (s *MemoryStore) MembersOf(_ context.Context, leagueID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.leagues[leagueID]; !ok {
		return nil, ErrNotFound
	}
	members := make([]model.Member, 0, len(s.rosters[leagueID]))
	for _, userID := range s.rosters[leagueID] {
		username := userID
		if u, ok := s.users[userID]; ok {
			username = u.Username
		}
		members = append(members, model.Member{UserID: userID, Username: username})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

func (s *MemoryStore) FinalizeLeague(_ context.Context, leagueID, winnerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leagues[leagueID]
	if !ok {
		return ErrNotFound
	}
	if l.Status == model.LeagueCompleted {
		return nil
	}
	l.Status = model.LeagueCompleted
	l.WinnerID = winnerID
	t := at
	l.CompletedAt = &t
	return nil
}

// --- Portfolios & holdings ---

func (s *MemoryStore) EnsurePortfolio(_ context.Context, userID, leagueID string) (*model.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portKey(userID, leagueID)
	if _, ok := s.cash[key]; !ok {
		s.cash[key] = model.InitialCash
		s.created[key] = time.Now().UTC()
	}
	return &model.Portfolio{
		UserID:    userID,
		LeagueID:  leagueID,
		Cash:      s.cash[key],
		CreatedAt: s.created[key],
	}, nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID, leagueID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := portKey(userID, leagueID)
	cash, ok := s.cash[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.Portfolio{
		UserID:    userID,
		LeagueID:  leagueID,
		Cash:      cash,
		CreatedAt: s.created[key],
	}, nil
}

func (s *MemoryStore) HoldingsFor(_ context.Context, userID, leagueID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := portKey(userID, leagueID) + "|"
	var out []model.Holding
	for key, qty := range s.holdings {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, model.Holding{
				UserID:   userID,
				LeagueID: leagueID,
				Asset:    key[len(prefix):],
				Quantity: qty,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// memTx stages portfolio mutations until the callback commits.
type memTx struct {
	cash          decimal.Decimal
	qty           decimal.Decimal
	holdingExists bool
	deleteHolding bool
	trades        []model.Trade
}

func (t *memTx) Cash() decimal.Decimal       { return t.cash }
func (t *memTx) SetCash(c decimal.Decimal)   { t.cash = c }
func (t *memTx) HoldingQty() decimal.Decimal { return t.qty }
func (t *memTx) SetHolding(q decimal.Decimal) {
	t.qty = q
	t.holdingExists = true
	t.deleteHolding = false
}
func (t *memTx) DeleteHolding() {
	t.qty = decimal.Zero
	t.deleteHolding = true
}
func (t *memTx) AppendTrade(tr *model.Trade) { t.trades = append(t.trades, *tr) }

// UpdatePortfolio serializes concurrent updates to one (user, league) pair
// behind a dedicated mutex, mirroring the row locks of the Postgres store.
func (s *MemoryStore) UpdatePortfolio(_ context.Context, userID, leagueID, asset string, fn func(PortfolioTx) error) error {
	lock := s.portfolioLock(userID, leagueID)
	lock.Lock()
	defer lock.Unlock()

	pk := portKey(userID, leagueID)
	hk := holdKey(userID, leagueID, asset)

	s.mu.RLock()
	cash, ok := s.cash[pk]
	qty, hasHolding := s.holdings[hk]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	tx := &memTx{cash: cash, qty: qty, holdingExists: hasHolding}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cash[pk] = tx.cash
	switch {
	case tx.deleteHolding:
		delete(s.holdings, hk)
	case tx.holdingExists:
		s.holdings[hk] = tx.qty
	}
	s.trades = append(s.trades, tx.trades...)
	return nil
}

func (s *MemoryStore) portfolioLock(userID, leagueID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portKey(userID, leagueID)
	lock, ok := s.portLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.portLocks[key] = lock
	}
	return lock
}

// --- Immutable trade log ---

func (s *MemoryStore) TradesFor(_ context.Context, userID, leagueID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID && t.LeagueID == leagueID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- Price store ---

func (s *MemoryStore) UpsertLatestPrice(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[p.Asset] = *p
	return nil
}

func (s *MemoryStore) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := MinuteBucket(p.Timestamp)
	series := s.history[p.Asset]
	for _, existing := range series {
		if existing.Timestamp.Equal(bucket) {
			return nil // first write wins
		}
	}
	point := model.PricePoint{Asset: p.Asset, Price: p.Price, Timestamp: bucket}
	series = append(series, point)
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	s.history[p.Asset] = series
	return nil
}

func (s *MemoryStore) LatestPrice(_ context.Context, asset string) (*model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.latest[asset]
	if !ok {
		return nil, ErrNotFound
	}
	copy := p
	return &copy, nil
}

func (s *MemoryStore) PriceAtOrBefore(_ context.Context, asset string, ts time.Time) (*model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.history[asset]
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Timestamp.After(ts) {
			copy := series[i]
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) PriceHistory(_ context.Context, asset string, from, to time.Time) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PricePoint
	for _, p := range s.history[asset] {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}
