package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: latest prices, leagues, and rosters. Writes
// go to the primary store and invalidate the cache.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate or refresh cache) ---

func (s *CachedStore) UpsertLatestPrice(ctx context.Context, p *model.PricePoint) error {
	if err := s.Store.UpsertLatestPrice(ctx, p); err != nil {
		return err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, latestPriceKey(p.Asset), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) CreateLeague(ctx context.Context, l *model.League) error {
	if err := s.Store.CreateLeague(ctx, l); err != nil {
		return err
	}
	s.cacheLeague(ctx, l)
	return nil
}

func (s *CachedStore) AddMember(ctx context.Context, leagueID, userID string) error {
	if err := s.Store.AddMember(ctx, leagueID, userID); err != nil {
		return err
	}
	s.rdb.Del(ctx, rosterKey(leagueID))
	return nil
}

func (s *CachedStore) FinalizeLeague(ctx context.Context, leagueID, winnerID string, at time.Time) error {
	if err := s.Store.FinalizeLeague(ctx, leagueID, winnerID, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, leagueKey(leagueID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPrice(ctx context.Context, asset string) (*model.PricePoint, error) {
	data, err := s.rdb.Get(ctx, latestPriceKey(asset)).Bytes()
	if err == nil {
		var p model.PricePoint
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.Store.LatestPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, latestPriceKey(asset), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	data, err := s.rdb.Get(ctx, leagueKey(id)).Bytes()
	if err == nil {
		var l model.League
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.Store.GetLeague(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheLeague(ctx, l)
	return l, nil
}

func (s *CachedStore) MembersOf(ctx context.Context, leagueID string) ([]model.Member, error) {
	data, err := s.rdb.Get(ctx, rosterKey(leagueID)).Bytes()
	if err == nil {
		var members []model.Member
		if json.Unmarshal(data, &members) == nil {
			return members, nil
		}
	}

	members, err := s.Store.MembersOf(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(members); err == nil {
		s.rdb.Set(ctx, rosterKey(leagueID), data, s.ttl)
	}
	return members, nil
}

// PriceHistory caches chart windows under a key derived from the request
// bounds; entries expire rather than being invalidated, the series is
// append-only so stale reads only miss the newest buckets.
func (s *CachedStore) PriceHistory(ctx context.Context, asset string, from, to time.Time) ([]model.PricePoint, error) {
	key := historyKey(asset, from, to)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var points []model.PricePoint
		if json.Unmarshal(data, &points) == nil {
			return points, nil
		}
	}

	points, err := s.Store.PriceHistory(ctx, asset, from, to)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(points); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return points, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheLeague(ctx context.Context, l *model.League) {
	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, leagueKey(l.ID), data, s.ttl)
	}
}

func latestPriceKey(asset string) string { return fmt.Sprintf("price:%s", asset) }
func leagueKey(id string) string         { return fmt.Sprintf("league:%s", id) }
func rosterKey(id string) string         { return fmt.Sprintf("roster:%s", id) }

func historyKey(asset string, from, to time.Time) string {
	return fmt.Sprintf("history:%s:%d:%d", asset, from.Unix(), to.Unix())
}
