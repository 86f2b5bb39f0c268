// Package schedule generates round-robin matchup calendars for league
// rosters using the circle method. Schedules are never persisted: a
// schedule is a pure function of (league settings, member roster), so
// identical inputs always reproduce the identical calendar.
package schedule

import (
	"errors"
	"sort"
	"time"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
)

var (
	// ErrBadStart is returned when the league has no usable creation time.
	ErrBadStart = errors.New("schedule: league creation time is not set")

	// ErrBadFrequency is returned for an unrecognized matchup frequency.
	ErrBadFrequency = errors.New("schedule: unrecognized matchup frequency")
)

// Matchup-count cap bounds; an explicit league cap is clamped into this range.
const (
	MinRounds = 1
	MaxRounds = 1000
)

// byeID marks the synthetic roster slot that balances odd rosters.
const byeID = "__BYE__"

// Interval returns the round length for a frequency.
func Interval(frequency string) (time.Duration, error) {
	switch frequency {
	case model.FrequencyDaily, "":
		return 24 * time.Hour, nil
	case model.FrequencyWeekly:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, ErrBadFrequency
	}
}

// Generate builds the full matchup calendar for a league roster.
//
// Fewer than two members yields an empty schedule. An odd roster is padded
// with a BYE slot; a pairing against it becomes a bye entry instead of a
// matchup. The base cycle has N−1 rounds (N = padded roster size); when the
// league's matchup-count cap requests more, the pairing pattern cycles.
func Generate(league *model.League, members []model.Member) ([]model.Round, error) {
	if league.CreatedAt.IsZero() {
		return nil, ErrBadStart
	}
	interval, err := Interval(league.Settings.MatchupFrequency)
	if err != nil {
		return nil, err
	}
	if len(members) < 2 {
		return []model.Round{}, nil
	}

	// Deterministic slot order regardless of roster source ordering.
	roster := make([]model.Member, len(members))
	copy(roster, members)
	sort.Slice(roster, func(i, j int) bool { return roster[i].Username < roster[j].Username })

	if len(roster)%2 != 0 {
		roster = append(roster, model.Member{UserID: byeID, Username: "BYE"})
	}
	n := len(roster)
	baseRounds := n - 1

	total := baseRounds
	if league.Settings.MatchupCount != nil {
		total = clamp(*league.Settings.MatchupCount, MinRounds, MaxRounds)
	}

	base := basePattern(roster)

	rounds := make([]model.Round, 0, total)
	for r := 0; r < total; r++ {
		pattern := base[r%baseRounds]
		start := league.CreatedAt.Add(time.Duration(r) * interval)
		round := model.Round{
			Index:    r,
			Start:    start,
			End:      start.Add(interval - time.Second),
			Matchups: []model.Matchup{},
		}
		for _, pair := range pattern {
			switch {
			case pair[0].UserID == byeID:
				round.Byes = append(round.Byes, pair[1])
			case pair[1].UserID == byeID:
				round.Byes = append(round.Byes, pair[0])
			default:
				round.Matchups = append(round.Matchups, model.Matchup{Home: pair[0], Away: pair[1]})
			}
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// basePattern computes the N−1 circle-method pairings: slot 0 stays fixed,
// the remaining slots rotate by one position each round, and each round
// pairs slot i with slot n−1−i.
func basePattern(roster []model.Member) [][][2]model.Member {
	n := len(roster)
	arr := make([]model.Member, n)
	copy(arr, roster)

	pattern := make([][][2]model.Member, 0, n-1)
	for r := 0; r < n-1; r++ {
		pairs := make([][2]model.Member, 0, n/2)
		for i := 0; i < n/2; i++ {
			pairs = append(pairs, [2]model.Member{arr[i], arr[n-1-i]})
		}
		pattern = append(pattern, pairs)

		// Rotate everything but the fixed first slot.
		rotated := make([]model.Member, 0, n)
		rotated = append(rotated, arr[0], arr[n-1])
		rotated = append(rotated, arr[1:n-1]...)
		arr = rotated
	}
	return pattern
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
