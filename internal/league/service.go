// Package league manages league lifecycle: creation with validated typed
// settings, join-code membership, and lazy portfolio provisioning.
package league

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/registry"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

var (
	// ErrBadName is returned for an empty or oversized league name.
	ErrBadName = errors.New("league: name must be 1-64 characters")

	// ErrBadFrequency is returned for an unrecognized matchup frequency.
	ErrBadFrequency = errors.New("league: matchup frequency must be DAILY or WEEKLY")

	// ErrBadCapacity is returned for a negative member capacity.
	ErrBadCapacity = errors.New("league: member capacity must be positive")
)

const (
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 8
	joinCodeRetries  = 5

	minMatchupCount = 1
	maxMatchupCount = 1000
)

// CreateInput is the validated-at-the-boundary league creation request.
type CreateInput struct {
	Name             string   `json:"name"`
	OwnerID          string   `json:"-"`
	MaxMembers       int      `json:"max_members"`
	Assets           []string `json:"assets"`
	MatchupFrequency string   `json:"matchup_frequency"`
	MatchupCount     *int     `json:"matchup_count"`
}

// Service manages leagues and their rosters.
type Service struct {
	store store.Store
	reg   *registry.Registry
	log   *slog.Logger
}

// NewService creates a league service.
func NewService(st store.Store, reg *registry.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, reg: reg, log: logger}
}

// Create validates settings once, generates a unique join code, persists the
// league with the owner enrolled, and provisions the owner's portfolio.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.League, error) {
	settings, err := validateSettings(in.MatchupFrequency, in.MatchupCount)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 64 {
		return nil, ErrBadName
	}
	if in.MaxMembers < 0 {
		return nil, ErrBadCapacity
	}
	assets, err := s.reg.ValidateLeagueList(in.Assets)
	if err != nil {
		return nil, err
	}

	// Join-code collisions are astronomically rare; retry a few times and
	// give up to the caller after that.
	for attempt := 0; attempt < joinCodeRetries; attempt++ {
		code, err := generateJoinCode()
		if err != nil {
			return nil, err
		}
		l := &model.League{
			ID:         uuid.New().String(),
			Name:       name,
			OwnerID:    in.OwnerID,
			JoinCode:   code,
			MaxMembers: in.MaxMembers,
			Assets:     assets,
			Settings:   settings,
			Status:     model.LeagueActive,
			CreatedAt:  time.Now().UTC(),
		}
		err = s.store.CreateLeague(ctx, l)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if _, err := s.store.EnsurePortfolio(ctx, in.OwnerID, l.ID); err != nil {
			return nil, err
		}
		s.log.Info("league created", "league", l.ID, "owner", in.OwnerID, "join_code", code)
		return l, nil
	}
	return nil, fmt.Errorf("league: could not allocate a unique join code")
}

// Join enrolls a user via join code, enforcing member capacity at join time,
// and provisions the member's portfolio. Idempotent for existing members.
func (s *Service) Join(ctx context.Context, userID, joinCode string) (*model.League, error) {
	l, err := s.store.GetLeagueByJoinCode(ctx, strings.ToUpper(strings.TrimSpace(joinCode)))
	if err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, l.ID, userID); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsurePortfolio(ctx, userID, l.ID); err != nil {
		return nil, err
	}
	s.log.Info("league joined", "league", l.ID, "user", userID)
	return l, nil
}

// EnsureSoloLeague returns the user's implicit single-player league,
// creating it on first dashboard access.
func (s *Service) EnsureSoloLeague(ctx context.Context, userID, username string) (*model.League, error) {
	leagues, err := s.store.ListLeaguesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range leagues {
		if leagues[i].OwnerID == userID && leagues[i].MaxMembers == 1 {
			return &leagues[i], nil
		}
	}
	return s.Create(ctx, CreateInput{
		Name:             username + "'s portfolio",
		OwnerID:          userID,
		MaxMembers:       1,
		MatchupFrequency: model.FrequencyDaily,
	})
}

func validateSettings(frequency string, matchupCount *int) (model.LeagueSettings, error) {
	freq := strings.ToUpper(strings.TrimSpace(frequency))
	if freq == "" {
		freq = model.FrequencyDaily
	}
	if freq != model.FrequencyDaily && freq != model.FrequencyWeekly {
		return model.LeagueSettings{}, fmt.Errorf("%w: %q", ErrBadFrequency, frequency)
	}
	settings := model.LeagueSettings{MatchupFrequency: freq}
	if matchupCount != nil {
		n := *matchupCount
		if n < minMatchupCount {
			n = minMatchupCount
		}
		if n > maxMatchupCount {
			n = maxMatchupCount
		}
		settings.MatchupCount = &n
	}
	return settings, nil
}

func generateJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
