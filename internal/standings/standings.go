// Package standings scores head-to-head matchups by profit-over-round and
// folds completed rounds into a ranked league table. Scoring is a pure read
// computation over the trade log and price store; the only mutation is the
// one-time league finalization.
package standings

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/schedule"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

// ErrEmptyRoster is returned when scoring is requested for a league with no
// members.
var ErrEmptyRoster = errors.New("standings: empty roster")

// Outcomes of a scored matchup.
const (
	OutcomeHome = "HOME"
	OutcomeAway = "AWAY"
	OutcomeTie  = "TIE"
)

// tieEpsilon absorbs sub-basis-point noise when comparing profits. The
// decimal arithmetic here is exact, so this only matters for histories that
// were ingested from float-based feeds.
var tieEpsilon = decimal.RequireFromString("0.0001")

// Valuer reconstructs portfolio value at an instant. Implemented by
// ledger.Valuator.
type Valuer interface {
	ValueAt(ctx context.Context, userID, leagueID string, asOf time.Time) (*model.Valuation, error)
}

// Score is one side's result in a scored matchup.
type Score struct {
	Member   model.Member    `json:"member"`
	Profit   decimal.Decimal `json:"profit"`
	EndValue decimal.Decimal `json:"end_value"`
}

// Result is a fully scored matchup.
type Result struct {
	Round   int    `json:"round"`
	Home    Score  `json:"home"`
	Away    Score  `json:"away"`
	Outcome string `json:"outcome"`
}

// Service scores matchups and aggregates standings.
type Service struct {
	store  store.Store
	valuer Valuer
	log    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a standings service.
func NewService(st store.Store, valuer Valuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, valuer: valuer, log: logger, now: time.Now}
}

// ScoreMatchup scores one head-to-head round by each side's profit over
// [round.Start, min(now, round.End)]. An in-progress round is scored at the
// current instant so live standings reflect partial progress.
//
// Winner is the strictly greater profit; profits equal within epsilon fall
// back to absolute end-of-round value; still equal is a TIE.
func (s *Service) ScoreMatchup(ctx context.Context, league *model.League, round model.Round, home, away model.Member) (*Result, error) {
	effectiveEnd := round.End
	if now := s.now().UTC(); now.Before(effectiveEnd) {
		effectiveEnd = now
	}

	homeScore, err := s.scoreSide(ctx, league.ID, home, round.Start, effectiveEnd)
	if err != nil {
		return nil, err
	}
	awayScore, err := s.scoreSide(ctx, league.ID, away, round.Start, effectiveEnd)
	if err != nil {
		return nil, err
	}

	return &Result{
		Round:   round.Index,
		Home:    homeScore,
		Away:    awayScore,
		Outcome: decide(homeScore, awayScore),
	}, nil
}

func (s *Service) scoreSide(ctx context.Context, leagueID string, m model.Member, start, end time.Time) (Score, error) {
	startVal, err := s.valuer.ValueAt(ctx, m.UserID, leagueID, start)
	if err != nil {
		return Score{}, err
	}
	endVal, err := s.valuer.ValueAt(ctx, m.UserID, leagueID, end)
	if err != nil {
		return Score{}, err
	}
	return Score{
		Member:   m,
		Profit:   endVal.TotalValue.Sub(startVal.TotalValue),
		EndValue: endVal.TotalValue,
	}, nil
}

func decide(home, away Score) string {
	diff := home.Profit.Sub(away.Profit)
	if diff.Abs().GreaterThan(tieEpsilon) {
		if diff.IsPositive() {
			return OutcomeHome
		}
		return OutcomeAway
	}

	// Profits tied: compare absolute end-of-round value.
	valueDiff := home.EndValue.Sub(away.EndValue)
	if valueDiff.Abs().GreaterThan(tieEpsilon) {
		if valueDiff.IsPositive() {
			return OutcomeHome
		}
		return OutcomeAway
	}
	return OutcomeTie
}

// ComputeStandings regenerates the schedule and folds every round that has
// ended at or before asOf into win/loss/tie/bye counts and profit
// accumulators, returning the ranked table.
//
// Ranking: wins desc, point differential desc, points-for desc, username asc.
func (s *Service) ComputeStandings(ctx context.Context, league *model.League, members []model.Member, asOf time.Time) ([]model.StandingsRow, error) {
	if len(members) == 0 {
		return nil, ErrEmptyRoster
	}

	rounds, err := schedule.Generate(league, members)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*model.StandingsRow, len(members))
	for _, m := range members {
		rows[m.UserID] = &model.StandingsRow{
			UserID:        m.UserID,
			Username:      m.Username,
			PointsFor:     decimal.Zero,
			PointsAgainst: decimal.Zero,
		}
	}

	for _, round := range rounds {
		if round.End.After(asOf) {
			continue
		}
		for _, bye := range round.Byes {
			if row, ok := rows[bye.UserID]; ok {
				row.Byes++
			}
		}
		for _, matchup := range round.Matchups {
			result, err := s.ScoreMatchup(ctx, league, round, matchup.Home, matchup.Away)
			if err != nil {
				return nil, err
			}
			applyResult(rows, result)
		}
	}

	table := make([]model.StandingsRow, 0, len(rows))
	for _, row := range rows {
		table = append(table, *row)
	}
	sortTable(table)
	return table, nil
}

func applyResult(rows map[string]*model.StandingsRow, result *Result) {
	home, hok := rows[result.Home.Member.UserID]
	away, aok := rows[result.Away.Member.UserID]
	if !hok || !aok {
		return
	}

	home.PointsFor = home.PointsFor.Add(result.Home.Profit)
	home.PointsAgainst = home.PointsAgainst.Add(result.Away.Profit)
	away.PointsFor = away.PointsFor.Add(result.Away.Profit)
	away.PointsAgainst = away.PointsAgainst.Add(result.Home.Profit)

	switch result.Outcome {
	case OutcomeHome:
		home.Wins++
		away.Losses++
	case OutcomeAway:
		away.Wins++
		home.Losses++
	case OutcomeTie:
		home.Ties++
		away.Ties++
	}
}

func sortTable(table []model.StandingsRow) {
	sort.SliceStable(table, func(i, j int) bool {
		a, b := table[i], table[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if diff := a.PointDiff().Cmp(b.PointDiff()); diff != 0 {
			return diff > 0
		}
		if pf := a.PointsFor.Cmp(b.PointsFor); pf != 0 {
			return pf > 0
		}
		return a.Username < b.Username
	})
}

// MaybeFinalize completes the league once every scheduled round has ended:
// the top-ranked member becomes the permanent winner and the league status
// flips to COMPLETED, a terminal state. Returns the updated league.
func (s *Service) MaybeFinalize(ctx context.Context, league *model.League, members []model.Member) (*model.League, error) {
	if league.Status == model.LeagueCompleted {
		return league, nil
	}
	if len(members) == 0 {
		return league, nil
	}

	rounds, err := schedule.Generate(league, members)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return league, nil
	}

	now := s.now().UTC()
	for _, round := range rounds {
		if round.End.After(now) {
			return league, nil
		}
	}

	table, err := s.ComputeStandings(ctx, league, members, now)
	if err != nil {
		return nil, err
	}
	winner := table[0]

	if err := s.store.FinalizeLeague(ctx, league.ID, winner.UserID, now); err != nil {
		return nil, err
	}
	s.log.Info("league finalized",
		"league", league.ID,
		"winner", winner.UserID,
		"wins", winner.Wins,
	)

	return s.store.GetLeague(ctx, league.ID)
}
